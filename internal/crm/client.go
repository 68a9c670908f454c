package crm

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
	"sync"
	"time"

	"golang.org/x/time/rate"

	"openphone-relay/internal/metrics"
	"openphone-relay/pkg/logger"
)

const (
	DefaultBaseURL = "https://rest.gohighlevel.com/v1"
	DefaultTimeout = 10 * time.Second

	// notesAPIVersion is sent on note creation; the notes endpoint rejects
	// requests without it.
	notesAPIVersion = "2021-07-28"

	maxErrorBody = 4096
)

var ErrMissingCredential = errors.New("crm: credential is required")

// StatusError is returned when the CRM answers with a non-2xx status.
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("crm: %s returned status %d: %s", e.Operation, e.StatusCode, e.Body)
}

type Config struct {
	BaseURL string
	Timeout time.Duration

	// RatePerSecond and Burst bound outbound requests per credential.
	// RatePerSecond <= 0 disables limiting.
	RatePerSecond float64
	Burst         int

	// HTTPClient overrides the default client; its own Timeout is left alone.
	HTTPClient *http.Client
}

// Client talks to the GoHighLevel REST API on behalf of one tenant credential
// per call. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration

	rate  rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	return &Client{
		httpClient: hc,
		baseURL:    base,
		timeout:    timeout,
		rate:       limit,
		burst:      burst,
		limiters:   make(map[string]*rate.Limiter),
	}
}

type lookupResponse struct {
	Contacts []struct {
		ID string `json:"id"`
	} `json:"contacts"`
}

// FindContactByPhone returns the id of the first contact matching phone.
// found is false when the CRM returns an empty result set.
func (c *Client) FindContactByPhone(ctx context.Context, credential, phone string) (string, bool, error) {
	q := url.Values{}
	q.Set("phone", phone)

	var out lookupResponse
	if err := c.do(ctx, "contact_lookup", credential, http.MethodGet, "/contacts/lookup?"+q.Encode(), nil, nil, &out); err != nil {
		return "", false, err
	}
	for _, ct := range out.Contacts {
		if ct.ID != "" {
			return ct.ID, true, nil
		}
	}
	return "", false, nil
}

// CreateNote appends a note to the contact.
func (c *Client) CreateNote(ctx context.Context, credential, contactID, body string) error {
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return fmt.Errorf("crm: marshal note: %w", err)
	}
	headers := http.Header{}
	headers.Set("Version", notesAPIVersion)

	path := "/contacts/" + url.PathEscape(contactID) + "/notes"
	if err := c.do(ctx, "create_note", credential, http.MethodPost, path, headers, payload, nil); err != nil {
		logger.From(ctx).Warn("crm note creation failed", "contact_id", contactID, "err", err)
		return err
	}
	return nil
}

type contactResponse struct {
	Contact struct {
		ID   string   `json:"id"`
		Tags []string `json:"tags"`
	} `json:"contact"`
}

// ContactHasTag reports whether the contact carries tag. A contact without a
// tags collection has no tags. Tags are compared case-insensitively because
// the CRM lowercases them on write.
func (c *Client) ContactHasTag(ctx context.Context, credential, contactID, tag string) (bool, error) {
	var out contactResponse
	if err := c.do(ctx, "contact_detail", credential, http.MethodGet, "/contacts/"+url.PathEscape(contactID), nil, nil, &out); err != nil {
		return false, err
	}
	want := strings.TrimSpace(tag)
	for _, t := range out.Contact.Tags {
		if strings.EqualFold(strings.TrimSpace(t), want) {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) do(ctx context.Context, op, credential, method, path string, headers http.Header, body []byte, out any) error {
	if strings.TrimSpace(credential) == "" {
		return ErrMissingCredential
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter(credential).Wait(ctx); err != nil {
		return fmt.Errorf("crm: %s rate limit wait: %w", op, err)
	}

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("crm: %s build request: %w", op, err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveCRMRequest(op, 0, time.Since(start))
		return fmt.Errorf("crm: %s: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.ObserveCRMRequest(op, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Operation: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("crm: %s decode response: %w", op, err)
	}
	return nil
}

func (c *Client) limiter(credential string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[credential]
	if !ok {
		l = rate.NewLimiter(c.rate, c.burst)
		c.limiters[credential] = l
	}
	return l
}
