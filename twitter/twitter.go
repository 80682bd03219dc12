// Package twitter posts messages to the Twitter v2 API. Failures carry a Kind
// so callers can route rate limits and transient faults to retry and policy
// rejections to a permanent failure.
package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Kind classifies a publish failure.
type Kind int

const (
	// KindTransient covers network faults and server-side errors; retry later.
	KindTransient Kind = iota
	// KindRateLimited means the platform throttled the request; retry later.
	KindRateLimited
	// KindRejected means the request violates platform policy; retry is
	// wasted work.
	KindRejected
)

// RequestError is a typed publish failure.
type RequestError struct {
	Kind       Kind
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	kind := "transient"
	switch e.Kind {
	case KindRateLimited:
		kind = "rate limited"
	case KindRejected:
		kind = "rejected"
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("twitter: %s: %s", kind, e.Message)
	}
	return fmt.Sprintf("twitter: %s (status %d): %s", kind, e.StatusCode, e.Message)
}

// IsRateLimited reports whether err is a rate-limit failure.
func IsRateLimited(err error) bool { return kindOf(err) == KindRateLimited }

// IsRejected reports whether err is a permanent policy rejection.
func IsRejected(err error) bool { return kindOf(err) == KindRejected }

func kindOf(err error) Kind {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindTransient
}

// Publisher posts rendered text and returns the external message identifier.
type Publisher interface {
	Post(ctx context.Context, text string) (string, error)
}

const defaultBaseURL = "https://api.twitter.com"

type client struct {
	http    *http.Client
	baseURL string
	signer  *signer
}

// NewClient creates a Publisher using OAuth 1.0a user-context credentials.
func NewClient(httpClient *http.Client, creds Credentials) Publisher {
	return NewClientWithBaseURL(httpClient, defaultBaseURL, creds)
}

// NewClientWithBaseURL creates a Publisher against a custom base URL (for
// testing).
func NewClientWithBaseURL(httpClient *http.Client, baseURL string, creds Credentials) Publisher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &client{
		http:    httpClient,
		baseURL: baseURL,
		signer:  newSigner(creds),
	}
}

// Post publishes text and returns the created tweet ID.
func (c *client) Post(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("twitter: encode payload: %w", err)
	}

	url := c.baseURL + "/2/tweets"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("twitter: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.signer.authorizationHeader(http.MethodPost, url))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &RequestError{Kind: KindTransient, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &RequestError{
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    string(body),
		}
	}

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &RequestError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "decode response: " + err.Error()}
	}
	if result.Data.ID == "" {
		return "", &RequestError{Kind: KindTransient, StatusCode: resp.StatusCode, Message: "response missing tweet id"}
	}
	return result.Data.ID, nil
}

func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusBadRequest,
		status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusUnprocessableEntity:
		return KindRejected
	default:
		return KindTransient
	}
}
