// Package backend provides the client for the flashcard generation API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the base URL of a locally running backend.
	DefaultBaseURL = "http://localhost:8000/api"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultUploadTimeout bounds a single document upload.
	DefaultUploadTimeout = 5 * time.Minute

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5

	maxErrorBody = 4096
)

// Client talks to the generation API. Every request reads the bearer token
// from the session store at send time.
type Client struct {
	baseURL       string
	clientID      string
	httpClient    *http.Client // authenticated
	uploadClient  *http.Client // authenticated, bounded by uploadTimeout only
	tokenClient   *http.Client // unauthenticated, used for refresh
	uploadTimeout time.Duration
	logger        arbor.ILogger
	limiter       *rate.Limiter
}

var (
	_ interfaces.JobBackend          = (*Client)(nil)
	_ interfaces.DocumentUploader    = (*Client)(nil)
	_ interfaces.CredentialRefresher = (*Client)(nil)
)

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithClientID sets the OAuth2 client id sent on refresh.
func WithClientID(clientID string) ClientOption {
	return func(c *Client) {
		c.clientID = clientID
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
		c.tokenClient.Timeout = timeout
	}
}

// WithUploadTimeout sets the timeout for document uploads.
func WithUploadTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.uploadTimeout = timeout
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit. Zero disables limiting.
func WithRateLimit(requestsPerSecond float64, burst int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// NewClient creates a client that authenticates with tokens.
func NewClient(tokens oauth2.TokenSource, opts ...ClientOption) *Client {
	transport := &oauth2.Transport{Source: tokens, Base: http.DefaultTransport}
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
		uploadClient:  &http.Client{Transport: transport},
		tokenClient:   &http.Client{Timeout: DefaultTimeout},
		uploadTimeout: DefaultUploadTimeout,
		limiter:       rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:        common.GetLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewClientFromConfig builds a client from the [backend] section.
func NewClientFromConfig(tokens oauth2.TokenSource, config common.BackendConfig, logger arbor.ILogger) *Client {
	return NewClient(tokens,
		WithBaseURL(config.BaseURL),
		WithClientID(config.ClientID),
		WithTimeout(common.ParseDurationOr(config.Timeout, DefaultTimeout)),
		WithUploadTimeout(common.ParseDurationOr(config.UploadTimeout, DefaultUploadTimeout)),
		WithRateLimit(config.RateLimit, config.RateBurst),
		WithLogger(logger),
	)
}

type request struct {
	method      string
	path        string
	body        io.Reader
	contentType string
	headers     map[string]string
	rejectAs    error // sentinel for non-retryable 4xx answers
	notFoundAs  error // sentinel for 404, defaults to rejectAs
	upload      bool
}

// do sends req and decodes a JSON response into result when non-nil.
func (c *Client) do(ctx context.Context, req request, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, req.body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	requestID := uuid.New().String()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", common.UserAgent())
	httpReq.Header.Set("X-Request-ID", requestID)
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	for k, v := range req.headers {
		httpReq.Header.Set(k, v)
	}

	c.logger.Trace().
		Str("method", req.method).
		Str("path", req.path).
		Str("request_id", requestID).
		Msg("Backend request")

	client := c.httpClient
	if req.upload {
		client = c.uploadClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionInvalid) {
			return interfaces.ErrSessionInvalid
		}
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
			Endpoint:   req.path,
		}
		apiErr.kind = classifyStatus(resp.StatusCode, req.rejectAs, req.notFoundAs)
		c.logger.Debug().
			Int("status", resp.StatusCode).
			Str("path", req.path).
			Str("request_id", requestID).
			Str("message", apiErr.Message).
			Msg("Backend returned error status")
		return apiErr
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, req request, result interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req.method = http.MethodPost
	req.path = path
	req.body = bytes.NewReader(data)
	req.contentType = "application/json"
	return c.do(ctx, req, result)
}

type createJobRequest struct {
	DeckName string `json:"deck_name,omitempty"`
	MaxCards int    `json:"max_cards,omitempty"`
	Language string `json:"language,omitempty"`
}

type createJobResponse struct {
	JobID string `json:"job_id"`
}

// CreateJob starts server side generation for an uploaded document.
func (c *Client) CreateJob(ctx context.Context, resourceID string, options models.JobOptions) (string, error) {
	path := "/model/generate_from_pdf/" + url.PathEscape(resourceID)

	var resp createJobResponse
	err := c.postJSON(ctx, path, createJobRequest{
		DeckName: options.DeckName,
		MaxCards: options.MaxCards,
		Language: options.Language,
	}, request{
		headers:  map[string]string{"Idempotency-Key": uuid.New().String()},
		rejectAs: interfaces.ErrSubmissionRejected,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to create job for %s: %w", resourceID, err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("create job for %s: response has no job id", resourceID)
	}
	return resp.JobID, nil
}

type jobStatusResponse struct {
	Status        string `json:"status"`
	ResultRef     string `json:"result_ref"`
	DeckID        string `json:"deck_id"`
	FailureReason string `json:"failure_reason"`
	Error         string `json:"error"`
}

// GetJobStatus returns the job's status mapped onto the canonical states.
// Unknown raw statuses map to processing so polling continues.
func (c *Client) GetJobStatus(ctx context.Context, serverJobID string) (*models.ServerJobStatus, error) {
	var resp jobStatusResponse
	err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/jobs/" + url.PathEscape(serverJobID),
		rejectAs:   interfaces.ErrRequestRejected,
		notFoundAs: interfaces.ErrJobNotFound,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to get status of job %s: %w", serverJobID, err)
	}

	status := MapStatus(resp.Status)
	result := &models.ServerJobStatus{
		Status:    status,
		RawStatus: resp.Status,
	}
	switch status {
	case models.JobStatusCompleted:
		result.ResultRef = firstNonEmpty(resp.ResultRef, resp.DeckID)
	case models.JobStatusFailed:
		result.FailureReason = firstNonEmpty(resp.FailureReason, resp.Error, "generation failed")
	}
	return result, nil
}

// RequestCancel asks the server to stop the job. The server may ignore it.
func (c *Client) RequestCancel(ctx context.Context, serverJobID string) error {
	err := c.postJSON(ctx, "/jobs/"+url.PathEscape(serverJobID)+"/cancel", struct{}{}, request{
		rejectAs:   interfaces.ErrRequestRejected,
		notFoundAs: interfaces.ErrJobNotFound,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", serverJobID, err)
	}
	return nil
}

type resultResponse struct {
	ResultRef string `json:"result_ref"`
	DeckID    string `json:"deck_id"`
}

// FetchResult returns the reference to the deck produced by a completed job.
func (c *Client) FetchResult(ctx context.Context, serverJobID string) (string, error) {
	var resp resultResponse
	err := c.do(ctx, request{
		method:     http.MethodGet,
		path:       "/jobs/" + url.PathEscape(serverJobID) + "/result",
		rejectAs:   interfaces.ErrRequestRejected,
		notFoundAs: interfaces.ErrJobNotFound,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to fetch result of job %s: %w", serverJobID, err)
	}
	ref := firstNonEmpty(resp.ResultRef, resp.DeckID)
	if ref == "" {
		return "", fmt.Errorf("job %s result has no reference", serverJobID)
	}
	return ref, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
