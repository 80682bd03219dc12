// Package github fetches the tracked document and repository metadata. Any
// non-success response is surfaced as an error the monitor treats as "no
// update this cycle".
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
)

const (
	RawBaseURL = "https://raw.githubusercontent.com"
	APIBaseURL = "https://api.github.com"
)

// Client fetches the tracked document and star counts.
type Client interface {
	Readme(ctx context.Context) (string, error)
	Stars(ctx context.Context, ownerRepo string) (int, error)
}

type httpClient struct {
	client     *http.Client
	rawBase    string
	apiBase    string
	repo       string // "owner/name"
	branch     string
	readmePath string
	token      string
}

// NewClient creates a client for the given repository. token is optional; when
// set it raises the API rate limit for star lookups.
func NewClient(client *http.Client, repo, branch, readmePath, token string) Client {
	return NewClientWithBaseURLs(client, RawBaseURL, APIBaseURL, repo, branch, readmePath, token)
}

// NewClientWithBaseURLs creates a client with custom base URLs (for testing).
func NewClientWithBaseURLs(client *http.Client, rawBase, apiBase, repo, branch, readmePath, token string) Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpClient{
		client:     client,
		rawBase:    rawBase,
		apiBase:    apiBase,
		repo:       repo,
		branch:     branch,
		readmePath: readmePath,
		token:      token,
	}
}

// Readme fetches the current text of the tracked document.
func (c *httpClient) Readme(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s/%s/%s/%s", c.rawBase, c.repo, c.branch, c.readmePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating readme request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching readme: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("readme %s returned status %d", c.repo, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading readme body: %w", err)
	}
	return string(body), nil
}

// Stars fetches the stargazer count for an "owner/name" repository.
func (c *httpClient) Stars(ctx context.Context, ownerRepo string) (int, error) {
	url := fmt.Sprintf("%s/repos/%s", c.apiBase, ownerRepo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("creating repo request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetching repo %s: %w", ownerRepo, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("repo %s returned status %d", ownerRepo, resp.StatusCode)
	}

	var repo struct {
		Stars int `json:"stargazers_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&repo); err != nil {
		return 0, fmt.Errorf("decoding repo %s: %w", ownerRepo, err)
	}
	return repo.Stars, nil
}

var ownerRepoRe = regexp.MustCompile(`github\.com/([^/\s]+/[^/\s)#?]+)`)

// OwnerRepo extracts "owner/name" from a GitHub URL. The second return is
// false when the URL does not point at a GitHub repository.
func OwnerRepo(url string) (string, bool) {
	m := ownerRepoRe.FindStringSubmatch(url)
	if m == nil {
		return "", false
	}
	return m[1], true
}
