// Package client calls the attempt API on behalf of a taker and maps its
// error codes back onto the service error taxonomy.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/attempt-service/internal/model"
	"github.com/stemsi/attempt-service/internal/response"
	"github.com/stemsi/attempt-service/internal/service"
)

// APIError is a non-2xx reply. It unwraps to the matching service error
// when the code belongs to the attempt taxonomy.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
	err     error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("attempt api: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New creates a Client for baseURL (e.g. http://localhost:8080) that
// authenticates with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start starts or resumes the attempt for activityID.
func (c *Client) Start(ctx context.Context, activityID uuid.UUID) (*model.StartAttemptResponse, error) {
	var out model.StartAttemptResponse
	body := model.StartAttemptRequest{ActivityID: activityID.String()}
	if err := c.do(ctx, http.MethodPost, "/api/v1/attempts/start", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Submit posts the final answers. On ErrAlreadySubmitted and ErrExpired the
// existing result is returned alongside the error when the server sent one.
func (c *Client) Submit(ctx context.Context, sessionID uuid.UUID, answers []model.Answer) (*model.SubmitAttemptResponse, error) {
	if answers == nil {
		answers = []model.Answer{}
	}
	var out model.SubmitAttemptResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/attempts/"+sessionID.String()+"/submit",
		model.SubmitAttemptRequest{Answers: answers}, &out)
	if err != nil {
		if out.SessionID != uuid.Nil {
			return &out, err
		}
		return nil, err
	}
	return &out, nil
}

// SaveAnswers replaces the autosaved draft.
func (c *Client) SaveAnswers(ctx context.Context, sessionID uuid.UUID, answers []model.Answer) error {
	return c.do(ctx, http.MethodPut, "/api/v1/attempts/"+sessionID.String()+"/answers",
		model.SaveAnswersRequest{Answers: answers}, nil)
}

// Get fetches the attempt with its effective state.
func (c *Client) Get(ctx context.Context, sessionID uuid.UUID) (*model.AttemptStateResponse, error) {
	var out model.AttemptStateResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/attempts/"+sessionID.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

// do sends the request and decodes the envelope's data into out, also for
// error replies that carry data.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Code: response.ErrInternal, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}

	if resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	apiErr.err = sentinel(apiErr.Code)
	return apiErr
}

func sentinel(code response.ErrCode) error {
	switch code {
	case response.ErrAlreadySubmitted:
		return service.ErrAlreadySubmitted
	case response.ErrAttemptExpired:
		return service.ErrExpired
	case response.ErrNoAnswers:
		return service.ErrNoAnswers
	case response.ErrNotFound:
		return service.ErrNotFound
	case response.ErrForbidden:
		return service.ErrForbidden
	}
	return nil
}
