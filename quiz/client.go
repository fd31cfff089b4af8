package quiz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/agentuity/quizbot/logger"
	"github.com/agentuity/quizbot/resilience"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

const quizzesQuery = `query Quizzes($language: String!) {
  quizzes(language: $language) { id prompt choices answer category }
}`

// APIError is a failed call to the content API.
type APIError struct {
	URL       string
	Method    string
	Status    int
	Body      string
	RequestID string
	Err       error
}

func (e *APIError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.Status > 0 {
		return fmt.Sprintf("quiz api: %s (status %d)", e.Err, e.Status)
	}
	return "quiz api: " + e.Err.Error()
}

func (e *APIError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	switch e.Status {
	case 0, http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func UserAgent() string {
	gitSHA := Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				gitSHA = setting.Value
			}
		}
	}
	return "quizbot/" + Version + " (" + gitSHA + ")"
}

// Client fetches question sets from the GraphQL content API.
type Client struct {
	url     string
	token   string
	client  *http.Client
	logger  logger.Logger
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	tracer  trace.Tracer
	now     func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client. Defaults to one with a 10 second timeout.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.client = hc }
}

// WithClientLogger sets the logger for request tracing.
func WithClientLogger(l logger.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithRetry sets the backoff for transient failures. Which failures are
// transient is decided by the client.
func WithRetry(cfg resilience.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// WithCircuitBreaker sets the breaker guarding the API.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) ClientOption {
	return func(c *Client) { c.breaker = cb }
}

// WithTracer sets the tracer provider for request spans.
func WithTracer(tp trace.TracerProvider) ClientOption {
	return func(c *Client) { c.tracer = tp.Tracer("github.com/agentuity/quizbot/quiz") }
}

// NewClient returns a client for the content API at url. token may be empty.
func NewClient(url, token string, opts ...ClientOption) *Client {
	c := &Client{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Nop(),
		retry:  resilience.DefaultRetryConfig(),
		tracer: otel.Tracer("github.com/agentuity/quizbot/quiz"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.RetryableErrors = retryable
	if c.breaker == nil {
		cfg := resilience.DefaultCircuitBreakerConfig()
		cfg.RequestTimeout = 0
		cfg.IsFailure = breakerFailure
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
	return c
}

// retryable retries transient API errors only. GraphQL errors and other 4xx
// responses fail immediately.
func retryable(err error) bool {
	if !resilience.DefaultRetryableErrors(err) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}

// breakerFailure counts only failures of the API itself against the breaker.
func breakerFailure(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == 0 || apiErr.Status >= http.StatusInternalServerError
	}
	return !errors.Is(err, context.Canceled)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

type quizzesResponse struct {
	Data struct {
		Quizzes []Question `json:"quizzes"`
	} `json:"data"`
	Errors []graphQLError `json:"errors"`
}

// Fetch returns the question set for language.
func (c *Client) Fetch(ctx context.Context, language string) (Set, error) {
	ctx, span := c.tracer.Start(ctx, "quiz.fetch", trace.WithAttributes(attribute.String("quiz.language", language)))
	defer span.End()

	var questions []Question
	err := resilience.RetryWithCircuitBreaker(ctx, c.retry, c.breaker, func(ctx context.Context) error {
		var err error
		questions, err = c.do(ctx, language)
		if err != nil {
			c.logger.Debug("fetching %s failed: %s", language, err)
		}
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Set{}, err
	}

	set := Set{Language: language, Questions: questions, FetchedAt: c.now()}
	if err := set.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Set{}, err
	}
	span.SetAttributes(attribute.Int("quiz.questions", len(questions)))
	span.SetStatus(codes.Ok, "")
	return set, nil
}

func (c *Client) do(ctx context.Context, language string) ([]Question, error) {
	const method = http.MethodPost
	requestID := uuid.NewString()
	fail := func(status int, body string, err error) error {
		return &APIError{URL: c.url, Method: method, Status: status, Body: body, RequestID: requestID, Err: err}
	}

	payload, err := json.Marshal(graphQLRequest{
		Query:     quizzesQuery,
		Variables: map[string]any{"language": language},
	})
	if err != nil {
		return nil, errors.Wrap(err, "marshalling query")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fail(0, "", errors.Wrap(err, "creating request"))
	}
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Trace("sending request %s: %s %s", requestID, method, c.url)
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fail(0, "", errors.Wrap(err, "sending request"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, "", errors.Wrap(err, "reading response body"))
	}
	c.logger.Debug("response %s: %s, body: %s", requestID, resp.Status, preview(body, 200))
	if resp.StatusCode > 299 {
		return nil, fail(resp.StatusCode, string(body), errors.Newf("request failed with status (%s)", resp.Status))
	}

	var out quizzesResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fail(resp.StatusCode, string(body), errors.Wrap(err, "decoding response"))
	}
	if len(out.Errors) > 0 {
		msgs := make([]string, 0, len(out.Errors))
		for _, e := range out.Errors {
			msgs = append(msgs, e.Message)
		}
		// a GraphQL error is an answer, not a transport failure
		return nil, fail(http.StatusUnprocessableEntity, string(body), errors.Newf("%s", strings.Join(msgs, ". ")))
	}
	return out.Data.Quizzes, nil
}

// preview truncates a response body for logging.
func preview(body []byte, maxChars int) string {
	if len(body) > maxChars {
		return string(body[:maxChars]) + fmt.Sprintf("[truncated, total: %d bytes]", len(body))
	}
	return string(body)
}
