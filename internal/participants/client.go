package participants

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

	"github.com/angelmondragon/library-catalog/pkg/resilience"
)

const maxErrorBody = 512

// ErrNotFound is returned by find calls when the entity does not exist.
var ErrNotFound = errors.New("participant entity not found")

// StatusError describes an unexpected HTTP status from a participant.
type StatusError struct {
	Service string
	Op      string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Service, e.Op, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Service, e.Op, e.Code, e.Body)
}

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// client implements the participant contract shared by every remote service:
// GET /find?name=, POST /create and DELETE /{id}.
type client struct {
	service string
	baseURL string
	http    Doer
	policy  *resilience.Policy
}

func newClient(service, baseURL string, httpClient Doer, policy *resilience.Policy) (*client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%s service url is required", service)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%s service url: %w", service, err)
	}
	if policy == nil {
		return nil, fmt.Errorf("%s resilience policy is required", service)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &client{service: service, baseURL: baseURL, http: httpClient, policy: policy}, nil
}

func (c *client) find(ctx context.Context, name string, out any) error {
	path := "/find?name=" + url.QueryEscape(name)
	return c.policy.Do(ctx, "find", func(ctx context.Context) error {
		status, body, err := c.send(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		switch {
		case status == http.StatusNotFound:
			return resilience.Permanent(ErrNotFound)
		case status >= 200 && status < 300:
			return c.decode("find", body, out)
		default:
			return c.statusError("find", status, body)
		}
	})
}

// create reports whether the participant inserted a new entity (201) or
// returned one that already existed under the same name (200).
func (c *client) create(ctx context.Context, in, out any) (bool, error) {
	var inserted bool
	err := c.policy.Do(ctx, "create", func(ctx context.Context) error {
		status, body, err := c.send(ctx, http.MethodPost, "/create", in)
		if err != nil {
			return err
		}
		if status >= 200 && status < 300 {
			inserted = status == http.StatusCreated
			return c.decode("create", body, out)
		}
		return c.statusError("create", status, body)
	})
	return inserted, err
}

// remove treats 404 as success so compensation can be repeated safely.
func (c *client) remove(ctx context.Context, id string) error {
	return c.policy.Do(ctx, "delete", func(ctx context.Context) error {
		status, body, err := c.send(ctx, http.MethodDelete, "/"+url.PathEscape(id), nil)
		if err != nil {
			return err
		}
		if status == http.StatusNotFound || (status >= 200 && status < 300) {
			return nil
		}
		return c.statusError("delete", status, body)
	})
}

func (c *client) send(ctx context.Context, method, path string, in any) (int, []byte, error) {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return 0, nil, resilience.Permanent(fmt.Errorf("encode %s request: %w", c.service, err))
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, resilience.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-Id", id)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s %s: %w", c.service, method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s read response: %w", c.service, err)
	}
	return resp.StatusCode, body, nil
}

func (c *client) decode(op string, body []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resilience.Permanent(fmt.Errorf("%s %s: decode response: %w", c.service, op, err))
	}
	return nil
}

// statusError marks 4xx as permanent; 5xx stays retryable.
func (c *client) statusError(op string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	err := &StatusError{Service: c.service, Op: op, Code: status, Body: msg}
	if status >= 400 && status < 500 {
		return resilience.Permanent(err)
	}
	return err
}

type requestIDKey struct{}

// WithRequestID forwards id as X-Request-Id on every participant call made with ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
