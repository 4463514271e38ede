// Package remote talks to the hosted backend: GoTrue-compatible auth,
// PostgREST row access and the Phoenix realtime socket.
package remote

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

	"github.com/rs/zerolog"

	"github.com/kartik102005/ecolearn/internal/core/fault"
)

const maxErrorBody = 64 << 10

// Client is the shared HTTP transport for every hosted endpoint.
type Client struct {
	base    *url.URL
	anonKey string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient returns a client for the project at baseURL. A nil httpClient
// uses a client with a 30s overall timeout.
func NewClient(baseURL, anonKey string, httpClient *http.Client, logger zerolog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url must be http or https, got %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: u, anonKey: anonKey, http: httpClient, log: logger}, nil
}

// request describes one call. Token, when set, is sent as the bearer
// credential; otherwise the anon key is.
type request struct {
	op     string
	method string
	path   string
	query  url.Values
	header http.Header
	token  string
	body   any
	out    any
}

// apiError is the union of error bodies returned by GoTrue and PostgREST.
type apiError struct {
	Code             any    `json:"code"`
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (e apiError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (e apiError) code() string {
	switch v := e.Code.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

// do performs r and decodes a 2xx body into r.out. Every failure is returned
// as a *fault.Error.
func (c *Client) do(ctx context.Context, r request) error {
	u := *c.base
	u.Path = c.base.Path + r.path
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return fault.Classify(r.op, fmt.Errorf("marshal request: %w", err))
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return fault.Classify(r.op, fmt.Errorf("build request: %w", err))
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	req.Header.Set("apikey", c.anonKey)
	bearer := r.token
	if bearer == "" {
		bearer = c.anonKey
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("op", r.op).Str("method", r.method).Str("path", r.path).Msg("request failed")
		return fault.Classify(r.op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debug().
		Str("op", r.op).
		Str("method", r.method).
		Str("path", r.path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyResponse(r.op, resp)
	}

	if r.out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil {
		return fault.Classify(r.op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func classifyResponse(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body apiError
	_ = json.Unmarshal(raw, &body)

	if body.code() == fault.CodeNoRows {
		return fault.NotFound(op, fault.CodeNoRows)
	}
	if resp.StatusCode == http.StatusNotFound {
		return &fault.Error{Kind: fault.KindNotFound, Op: op, Message: "not found", Status: resp.StatusCode, Code: body.code()}
	}

	msg := body.text()
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	if resp.StatusCode >= 500 {
		return &fault.Error{Kind: fault.KindNetwork, Op: op, Message: msg, Status: resp.StatusCode, Code: body.code()}
	}

	fe := fault.Rejected(op, resp.StatusCode, msg)
	fe.Code = body.code()
	return fe
}
