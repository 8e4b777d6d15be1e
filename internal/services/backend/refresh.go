package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ternarybob/flashdeck/internal/interfaces"
	"github.com/ternarybob/flashdeck/internal/models"
	"golang.org/x/oauth2"
)

const refreshPath = "/auth/refresh"

// RefreshCredential performs an OAuth2 refresh_token grant against the
// backend. A 400 or 401 answer means the refresh token itself was refused.
func (c *Client) RefreshCredential(ctx context.Context, refreshToken string) (*models.SessionCredential, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token: %w", interfaces.ErrCredentialRejected)
	}

	conf := &oauth2.Config{
		ClientID: c.clientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.baseURL + refreshPath,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.tokenClient)
	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			switch retrieveErr.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return nil, fmt.Errorf("refresh refused (%d): %w", retrieveErr.Response.StatusCode, interfaces.ErrCredentialRejected)
			}
		}
		return nil, fmt.Errorf("failed to refresh credential: %w", err)
	}

	cred := &models.SessionCredential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if subject, ok := token.Extra("subject").(string); ok {
		cred.Subject = subject
	}

	c.logger.Debug().Str("expires_at", cred.ExpiresAt.String()).Msg("Credential refreshed")
	return cred, nil
}
