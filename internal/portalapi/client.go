// Package portalapi talks to the subscription portal backend: signed URL
// renewal, analytics delivery and profile refresh, all bearer authenticated.
package portalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"premium-player/internal/analytics"
)

const maxErrorBodyBytes = 1024

var (
	// ErrAuthExpired is returned when the backend answers 403: the
	// subscription or bearer token no longer grants access.
	ErrAuthExpired = errors.New("subscription expired")

	// ErrNoURL is returned when a refresh succeeds without a playable URL.
	ErrNoURL = errors.New("refresh response carried no url")
)

// StatusError is a non-2xx response other than 403.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// Profile is the subset of GET /profile the player consumes.
type Profile struct {
	UserID             string       `json:"user_id"`
	TierID             string       `json:"tier_id"`
	NumericTierID      int          `json:"numeric_tier_id"`
	SubscriptionActive bool         `json:"subscription_active"`
	SubscriptionEndsAt *time.Time   `json:"subscription_ends_at,omitempty"`
	System             SystemConfig `json:"system_config"`
}

// SystemConfig carries backend-driven player tunables.
type SystemConfig struct {
	TokenRefreshSeconds int `json:"token_refresh_seconds,omitempty"`
}

type refreshRequest struct {
	VideoID   string `json:"video_id"`
	LibraryID string `json:"library_id"`
}

type refreshResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
}

type trackRequest struct {
	Event analytics.Event `json:"event"`
}

// Client is the backend API client. The zero value is not usable; use New.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenStore
}

// New returns a Client for baseURL. httpClient may be nil.
func New(baseURL string, httpClient *http.Client, tokens TokenStore) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		tokens:  tokens,
	}
}

// Tokens returns the bearer token store.
func (c *Client) Tokens() TokenStore {
	return c.tokens
}

// RefreshVideoToken requests a fresh signed playback URL.
func (c *Client) RefreshVideoToken(ctx context.Context, videoID, libraryID string) (string, error) {
	var out refreshResponse
	if err := c.do(ctx, http.MethodPost, "/refresh-video-token", refreshRequest{VideoID: videoID, LibraryID: libraryID}, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", fmt.Errorf("refresh %s (status %q): %w", videoID, out.Status, ErrNoURL)
	}
	return out.URL, nil
}

// Track posts one analytics event.
func (c *Client) Track(ctx context.Context, ev analytics.Event) error {
	return c.do(ctx, http.MethodPost, "/analytics/track", trackRequest{Event: ev}, nil)
}

// Profile fetches the current user's tier, subscription and system config.
func (c *Client) Profile(ctx context.Context) (Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/profile", nil, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok, ok := c.tokens.Get(); ok {
		req.Header.Set("Authorization", "Bearer "+tok.Value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusForbidden {
		return ErrAuthExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
