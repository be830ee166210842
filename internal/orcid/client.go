package orcid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"
)

// API base URLs per environment. The member API requires an OAuth token;
// the public API serves read-only data without one.
var (
	memberBaseURLs = map[Environment]string{
		EnvironmentProduction: "https://api.orcid.org/v3.0",
		EnvironmentSandbox:    "https://api.sandbox.orcid.org/v3.0",
	}
	publicBaseURLs = map[Environment]string{
		EnvironmentProduction: "https://pub.orcid.org/v3.0",
		EnvironmentSandbox:    "https://pub.sandbox.orcid.org/v3.0",
	}
)

const (
	acceptHeader   = "application/vnd.orcid+json"
	userAgent      = "cvsync/1.0"
	defaultTimeout = 30 * time.Second
)

// StatusError is a non-2xx response from the registry. The executor's retry
// policy branches on the status code, so it is preserved verbatim.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("registry returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("registry returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying: rate limiting
// and server-side errors are, everything else is not.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client calls the ORCID v3.0 API for one environment.
type Client struct {
	baseURL    string
	env        Environment
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the API base URL. Used by tests to point the client
// at a local fake registry.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient returns a member-API client for the given environment.
func NewClient(env Environment, opts ...Option) *Client {
	c := &Client{
		baseURL:    memberBaseURLs[env],
		env:        env,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewPublicClient returns a public-API client for the given environment.
// Calls made through it pass an empty token.
func NewPublicClient(env Environment, opts ...Option) *Client {
	c := &Client{
		baseURL:    publicBaseURLs[env],
		env:        env,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Works returns the works attributed to the identity. The registry groups
// multiple sources' versions of the same work; the newest summary in each
// group wins, matching how the registry UI resolves groups.
func (c *Client) Works(ctx context.Context, orcidID, token string) ([]RemoteWork, error) {
	var page worksPage
	if err := c.do(ctx, http.MethodGet, c.url(orcidID, "works"), token, nil, &page); err != nil {
		return nil, fmt.Errorf("fetch works for %s: %w", orcidID, err)
	}

	works := make([]RemoteWork, 0, len(page.Group))
	for _, g := range page.Group {
		if len(g.WorkSummary) == 0 {
			continue
		}
		latest := g.WorkSummary[0]
		for _, s := range g.WorkSummary[1:] {
			if s.lastModified() > latest.lastModified() {
				latest = s
			}
		}
		works = append(works, latest.remoteWork(orcidID))
	}

	// Group order is registry-defined; sort for deterministic matching input.
	sort.Slice(works, func(i, j int) bool { return works[i].RemoteID < works[j].RemoteID })
	return works, nil
}

// createResponse is the body of a successful work POST.
type createResponse struct {
	PutCode int64 `json:"put-code"`
}

// CreateWork posts a new work and returns the registry-assigned put-code.
func (c *Client) CreateWork(ctx context.Context, orcidID, token string, payload []byte) (string, error) {
	req, err := c.newRequest(ctx, http.MethodPost, c.url(orcidID, "work"), token, payload)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create work: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	// The put-code arrives in the Location header; some deployments also
	// echo it in the body.
	if loc := resp.Header.Get("Location"); loc != "" {
		return path.Base(loc), nil
	}
	var cr createResponse
	if err := json.Unmarshal(body, &cr); err == nil && cr.PutCode != 0 {
		return fmt.Sprintf("%d", cr.PutCode), nil
	}
	return "", fmt.Errorf("create work: registry did not return a put-code")
}

// UpdateWork replaces an existing work identified by its put-code.
func (c *Client) UpdateWork(ctx context.Context, orcidID, token, remoteID string, payload []byte) error {
	req, err := c.newRequest(ctx, http.MethodPut, c.url(orcidID, "work", remoteID), token, payload)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("update work %s: %w", remoteID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return nil
}

func (c *Client) url(parts ...string) string {
	return c.baseURL + "/" + strings.Join(parts, "/")
}

func (c *Client) newRequest(ctx context.Context, method, url, token string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", acceptHeader)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// do issues a request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, url, token string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, url, token, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
