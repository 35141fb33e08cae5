package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dmitrijs2005/eagleeye/internal/client/models"
)

const (
	RequestIDHeader = "X-Request-ID"

	maxErrorBody = 64 << 10
)

type HTTPClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	limiter *rate.Limiter

	mu             sync.RWMutex
	onUnauthorized func(token string)
}

type Option func(*HTTPClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *HTTPClient) { c.tokens = ts }
}

// WithRateLimit paces outgoing requests. A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *HTTPClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		tokens:  staticTokens(""),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnUnauthorized registers fn to be told which token a 401 rejected.
func (c *HTTPClient) OnUnauthorized(fn func(token string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Msg     string `json:"msg"`
}

func (e envelope) reason() string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Msg != "":
		return e.Msg
	}
	return e.Message
}

func (e envelope) failed() bool {
	return e.Success != nil && !*e.Success
}

type call struct {
	method     string
	path       string
	body       any
	authorized bool
}

func (c *HTTPClient) send(ctx context.Context, cl call) (*http.Response, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}

	var body io.Reader
	if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return nil, "", fmt.Errorf("encode %s %s: %w", cl.method, cl.path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, body)
	if err != nil {
		return nil, "", fmt.Errorf("build %s %s: %w", cl.method, cl.path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())

	var token string
	if cl.authorized {
		token, err = c.tokens.Load(ctx)
		if err != nil {
			return nil, "", fmt.Errorf("read token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return resp, token, nil
}

// failure turns a non-2xx response into an error. The body is consumed.
func (c *HTTPClient) failure(resp *http.Response, token string) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var env envelope
	_ = json.Unmarshal(raw, &env)

	se := &ServerError{Status: resp.StatusCode, Message: env.reason()}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		se.Err = ErrUnauthorized
		if token != "" {
			c.rejected(token)
		}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		if se.Message == "" {
			return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
		}
	}
	return se
}

func (c *HTTPClient) rejected(token string) {
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn(token)
	}
}

// do runs cl and decodes a JSON reply into out. When the reply carries
// "success": false the server's reason is returned as a *ServerError.
func (c *HTTPClient) do(ctx context.Context, cl call, out any) error {
	resp, token, err := c.send(ctx, cl)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.failure(resp, token)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %w", ErrUnavailable, cl.method, cl.path, err)
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(raw, &env); err == nil && env.failed() {
			return &ServerError{Status: resp.StatusCode, Message: env.reason()}
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", cl.method, cl.path, err)
	}
	return nil
}

type authReply struct {
	User        models.User `json:"user"`
	AccessToken string      `json:"access_token"`
}

func (r authReply) result(status int) (*models.AuthResult, error) {
	if r.AccessToken == "" {
		return nil, &ServerError{Status: status, Message: "response did not include an access token"}
	}
	return &models.AuthResult{User: r.User, Token: r.AccessToken}, nil
}

func (c *HTTPClient) Login(ctx context.Context, username, password string) (*models.AuthResult, error) {
	var reply authReply
	err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/login",
		body:   map[string]string{"username": username, "password": password},
	}, &reply)
	if err != nil {
		return nil, err
	}
	return reply.result(http.StatusOK)
}

func (c *HTTPClient) Register(ctx context.Context, reg models.Registration) (*models.AuthResult, error) {
	body := map[string]string{
		"username": reg.Username,
		"email":    reg.Email,
		"password": reg.Password,
	}
	if reg.FullName != "" {
		body["full_name"] = reg.FullName
	}

	var reply authReply
	if err := c.do(ctx, call{method: http.MethodPost, path: "/auth/register", body: body}, &reply); err != nil {
		return nil, err
	}
	return reply.result(http.StatusOK)
}

func (c *HTTPClient) GetProfile(ctx context.Context) (*models.User, error) {
	var reply struct {
		User *models.User `json:"user"`
	}
	if err := c.do(ctx, call{method: http.MethodGet, path: "/auth/profile", authorized: true}, &reply); err != nil {
		return nil, err
	}
	if reply.User == nil {
		return nil, &ServerError{Status: http.StatusOK, Message: "response did not include a user"}
	}
	return reply.User, nil
}

func (c *HTTPClient) UpdateProfile(ctx context.Context, upd models.ProfileUpdate) (*models.Profile, error) {
	var reply struct {
		Profile *models.Profile `json:"profile"`
	}
	err := c.do(ctx, call{method: http.MethodPut, path: "/auth/profile", body: upd, authorized: true}, &reply)
	if err != nil {
		return nil, err
	}
	if reply.Profile == nil {
		reply.Profile = &models.Profile{}
	}
	return reply.Profile, nil
}

type jobRecord struct {
	ID          int64            `json:"id"`
	URL         string           `json:"url"`
	Title       string           `json:"title"`
	Status      models.JobStatus `json:"status"`
	Progress    float64          `json:"progress"`
	CreatedAt   string           `json:"created_at"`
	CompletedAt *string          `json:"completed_at"`
	FilePath    string           `json:"file_path"`
	Error       string           `json:"error_message"`
}

func (r jobRecord) model() models.DownloadJob {
	job := models.DownloadJob{
		ID:        r.ID,
		SourceURL: r.URL,
		Title:     r.Title,
		Status:    r.Status,
		Progress:  r.Progress,
		CreatedAt: parseTimestamp(r.CreatedAt),
		FilePath:  r.FilePath,
		Error:     r.Error,
	}
	if r.CompletedAt != nil {
		if t := parseTimestamp(*r.CompletedAt); !t.IsZero() {
			job.CompletedAt = &t
		}
	}
	return job
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts RFC 3339 and the zone-less ISO form the API emits.
// Zone-less values are taken as UTC.
func parseTimestamp(s string) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func (c *HTTPClient) ListJobs(ctx context.Context) ([]models.DownloadJob, error) {
	var records []jobRecord
	if err := c.do(ctx, call{method: http.MethodGet, path: "/downloads", authorized: true}, &records); err != nil {
		return nil, err
	}
	jobs := make([]models.DownloadJob, 0, len(records))
	for _, r := range records {
		jobs = append(jobs, r.model())
	}
	return jobs, nil
}

func (c *HTTPClient) DeleteJob(ctx context.Context, id int64) error {
	return c.do(ctx, call{
		method:     http.MethodDelete,
		path:       "/downloads/" + strconv.FormatInt(id, 10),
		authorized: true,
	}, nil)
}

// FetchJobArtifact streams the job's file. The caller must close the body.
func (c *HTTPClient) FetchJobArtifact(ctx context.Context, id int64) (*models.Artifact, error) {
	resp, token, err := c.send(ctx, call{
		method:     http.MethodGet,
		path:       "/downloads/" + strconv.FormatInt(id, 10) + "/file",
		authorized: true,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, c.failure(resp, token)
	}
	return &models.Artifact{
		Body:               resp.Body,
		ContentDisposition: resp.Header.Get("Content-Disposition"),
		ContentType:        resp.Header.Get("Content-Type"),
	}, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	var reply struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, call{method: http.MethodGet, path: "/health"}, &reply); err != nil {
		return err
	}
	if reply.Status != "healthy" {
		return fmt.Errorf("%w: health status %q", ErrUnavailable, reply.Status)
	}
	return nil
}
