// Package prserver talks to the PR service that owns the course
// repositories: it fetches readme.toml documents and creates or updates the
// pull request for a repository.
package prserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

const apiKeyHeader = "X-Api-Key"

// Client is an HTTP client for the PR service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a client. timeout bounds every request; zero means 30s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type tomlResponse struct {
	TOML   string `json:"toml"`
	Source string `json:"source"`
}

// Fetch returns the current readme.toml of the repository.
func (c *Client) Fetch(ctx context.Context, id models.RepoIdentity) (string, error) {
	q := url.Values{"repo_name": {id.Key()}}
	var out tomlResponse
	if err := c.do(ctx, http.MethodGet, "/v1/courses/toml?"+q.Encode(), nil, &out); err != nil {
		return "", fmt.Errorf("fetch %s: %w", id.Key(), err)
	}
	if out.TOML == "" {
		return "", fmt.Errorf("fetch %s: empty toml in response: %w", id.Key(), models.ErrNotFound)
	}
	return out.TOML, nil
}

type ensureRequest struct {
	RepoName   string `json:"repo_name,omitempty"`
	CourseCode string `json:"course_code"`
	CourseName string `json:"course_name"`
	RepoType   string `json:"repo_type"`
	TOML       string `json:"toml"`
}

type ensureResponse struct {
	PRURL     string `json:"pr_url"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Created   *bool  `json:"created"`
}

// Ensure creates the pull request for id, or updates the open one. The
// service keys PRs by repository, so repeated calls never open a second PR.
func (c *Client) Ensure(ctx context.Context, id models.RepoIdentity, text string) (models.EnsureResult, error) {
	req := ensureRequest{
		RepoName:   id.RepoName,
		CourseCode: id.CourseCode,
		CourseName: id.CourseName,
		RepoType:   id.RepoType,
		TOML:       text,
	}
	var out ensureResponse
	if err := c.do(ctx, http.MethodPost, "/v1/pr/ensure", req, &out); err != nil {
		return models.EnsureResult{}, fmt.Errorf("ensure pr for %s: %w", id.Key(), err)
	}

	res := models.EnsureResult{Status: out.Status}
	switch {
	case out.PRURL != "":
		res.PRRef = out.PRURL
	case out.RequestID != "":
		// the repository does not exist yet; the service queued the request
		res.PRRef = "pending:" + out.RequestID
	default:
		return models.EnsureResult{}, fmt.Errorf("ensure pr for %s: response has neither pr_url nor request_id: %w", id.Key(), models.ErrRemoteUnavailable)
	}
	if out.Created != nil {
		res.Created = *out.Created
	} else {
		res.Created = out.Status == "created" || out.Status == "waiting_repo"
	}
	return res, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("prserver base url not configured: %w", models.ErrRemoteUnavailable)
	}

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrRemoteUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w: %v", models.ErrRemoteUnavailable, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("prserver returned 404: %s: %w", snippet(data), models.ErrNotFound)
	case resp.StatusCode >= 400:
		return fmt.Errorf("prserver returned %d: %s: %w", resp.StatusCode, snippet(data), models.ErrRemoteUnavailable)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w: %v", models.ErrRemoteUnavailable, err)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if r := []rune(s); len(r) > 200 {
		return string(r[:200]) + "…"
	}
	return s
}
