// flashdeck-submit checks a document locally, uploads it to a running
// flashdeck server, starts generation and follows the job until it ends.
//
//	flashdeck-submit -deck "Chemistry" -cancel-after 30s notes.pdf
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/flashdeck/internal/common"
	"github.com/ternarybob/flashdeck/internal/handlers"
	"github.com/ternarybob/flashdeck/internal/models"
	"github.com/ternarybob/flashdeck/internal/services/documents"
)

var (
	serverURL   = flag.String("server", "http://localhost:8085", "Flashdeck server URL")
	deckName    = flag.String("deck", "", "Deck name")
	maxCards    = flag.Int("max-cards", 0, "Maximum number of cards (0 lets the backend decide)")
	language    = flag.String("language", "", "Card language (BCP 47 tag)")
	cancelAfter = flag.Duration("cancel-after", 0, "Cancel the job after this long (0 disables)")
	timeout     = flag.Duration("timeout", 10*time.Minute, "Give up waiting after this long")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <document>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	logger := common.GetLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, *timeout)
	defer cancelTimeout()

	base, err := url.Parse(strings.TrimRight(*serverURL, "/"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid server URL")
		os.Exit(1)
	}

	// Fail fast on documents the server would refuse anyway
	inspector := documents.NewInspector(common.NewDefaultConfig().Documents, logger)
	info, err := inspector.Inspect(ctx, flag.Arg(0))
	if err != nil {
		logger.Fatal().Err(err).Msg("Document rejected")
		os.Exit(1)
	}
	logger.Debug().Str("type", info.MimeType).Int("pages", info.Pages).Msg("Document inspected")

	upload, err := uploadDocument(ctx, base, flag.Arg(0))
	if err != nil {
		logger.Fatal().Err(err).Msg("Upload failed")
		os.Exit(1)
	}
	if upload.Job == nil {
		logger.Fatal().Str("resource_id", upload.ResourceID).Msg("Server did not start a job")
		os.Exit(1)
	}

	logger.Info().
		Str("resource_id", upload.ResourceID).
		Str("server_job_id", upload.Job.ServerJobID).
		Str("type", upload.Document.MimeType).
		Msg("Document uploaded, generation started")

	if *cancelAfter > 0 {
		timer := time.AfterFunc(*cancelAfter, func() {
			if err := cancelJob(context.Background(), base, upload.ResourceID); err != nil {
				logger.Warn().Err(err).Msg("Cancel request failed")
				return
			}
			logger.Info().Msg("Cancel requested")
		})
		defer timer.Stop()
	}

	final, err := follow(ctx, base, upload.ResourceID, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Lost track of job")
		os.Exit(1)
	}

	event := logger.Info().
		Str("status", string(final.Status)).
		Int("attempts", final.Attempts)
	if final.Reason != models.ReasonNone {
		event = event.Str("reason", string(final.Reason))
	}
	if final.ResultRef != "" {
		event = event.Str("result", final.ResultRef)
	}
	if final.FailureReason != "" {
		event = event.Str("failure", final.FailureReason)
	}
	event.Msg("Job finished")

	if final.Status != models.JobStatusCompleted {
		os.Exit(1)
	}
}

// uploadDocument streams the file as multipart/form-data with generate=true
func uploadDocument(ctx context.Context, base *url.URL, path string) (*handlers.UploadResponse, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		fields := map[string]string{
			"generate":  "true",
			"deck_name": *deckName,
			"language":  *language,
		}
		if *maxCards > 0 {
			fields["max_cards"] = strconv.Itoa(*maxCards)
		}
		for name, value := range fields {
			if value == "" {
				continue
			}
			if err := form.WriteField(name, value); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		part, err := form.CreateFormFile("file", filepath.Base(path))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.JoinPath("api", "documents").String(), pr)
	if err != nil {
		pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, responseError(resp)
	}

	var upload handlers.UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &upload, nil
}

func cancelJob(ctx context.Context, base *url.URL, resourceID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, base.JoinPath("api", "jobs", resourceID).String(), nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return responseError(resp)
	}
	return nil
}

// follow reads descriptor updates from the websocket until a terminal one arrives
func follow(ctx context.Context, base *url.URL, resourceID string, logger arbor.ILogger) (*models.JobDescriptor, error) {
	wsURL := *base
	wsURL.Scheme = "ws"
	if base.Scheme == "https" {
		wsURL.Scheme = "wss"
	}
	wsURL.Path = "/ws"
	wsURL.RawQuery = url.Values{"resource": {resourceID}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", wsURL.String(), err)
	}
	defer conn.Close()

	// Unblock ReadJSON when the context ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var last models.JobStatus
	for {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		switch msg.Type {
		case "session_invalidated":
			logger.Warn().Msg("Session was invalidated on the server")
		case "job_updated":
			var desc models.JobDescriptor
			if err := json.Unmarshal(msg.Payload, &desc); err != nil {
				return nil, fmt.Errorf("failed to decode job update: %w", err)
			}
			if desc.Status != last {
				logger.Info().Str("status", string(desc.Status)).Int("attempts", desc.Attempts).Msg("Job update")
				last = desc.Status
			}
			if desc.IsTerminal() {
				return &desc, nil
			}
		}
	}
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
