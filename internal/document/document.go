// Package document is the client for the document Q&A service, which indexes uploaded
// PDFs per user and answers questions about them.
package document

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BTreeMap/MedBay/internal/upstream"
)

// Defaults for the document service.
const (
	DefaultBaseURL       = "http://localhost:8002"
	DefaultUploadTimeout = 60 * time.Second
	DefaultQueryTimeout  = 30 * time.Second
	serviceName          = "document service"
)

// ErrServiceUnavailable is wrapped by errors when the service cannot be reached.
var ErrServiceUnavailable = upstream.ErrUnavailable

// ServiceError is returned when the service answers with a non-2xx status.
type ServiceError = upstream.ServiceError

// Answer is the service's reply to a question.
type Answer struct {
	Answer string `json:"answer"`
	// Raw is the complete response body.
	Raw json.RawMessage `json:"-"`
}

// Opts holds client configuration.
type Opts struct {
	BaseURL       string
	UploadTimeout time.Duration
	QueryTimeout  time.Duration
	HTTPClient    *http.Client
}

// Option defines a configuration option for the client.
type Option func(*Opts)

// WithBaseURL sets the service root URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithUploadTimeout bounds uploads.
func WithUploadTimeout(d time.Duration) Option {
	return func(o *Opts) { o.UploadTimeout = d }
}

// WithQueryTimeout bounds questions.
func WithQueryTimeout(d time.Duration) Option {
	return func(o *Opts) { o.QueryTimeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the document service.
type Client struct {
	baseURL       string
	http          *http.Client
	uploadTimeout time.Duration
	queryTimeout  time.Duration
}

// NewClient creates a client.
func NewClient(opts ...Option) *Client {
	cfg := Opts{BaseURL: DefaultBaseURL, UploadTimeout: DefaultUploadTimeout, QueryTimeout: DefaultQueryTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		http:          cfg.HTTPClient,
		uploadTimeout: cfg.UploadTimeout,
		queryTimeout:  cfg.QueryTimeout,
	}
}

// Upload forwards a PDF for userID and returns the service's JSON acknowledgement.
func (c *Client) Upload(ctx context.Context, userID, filename, contentType string, data []byte) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	body, ct, err := upstream.Multipart(map[string]string{"user_id": userID}, upstream.FilePart{
		Field: "file", Filename: filename, ContentType: contentType, Data: data,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-pdf/", body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", ct)

	resp, err := upstream.Do(c.http, serviceName, req)
	if err != nil {
		slog.Error("Document.Upload: request failed", "error", err, "user_id", userID, "filename", filename)
		return nil, err
	}
	if !json.Valid(resp) {
		return nil, fmt.Errorf("%s returned invalid JSON", serviceName)
	}
	slog.Info("Document.Upload: document forwarded", "user_id", userID, "filename", filename, "bytes", len(data))
	return json.RawMessage(resp), nil
}

// Query asks a question about the documents userID has uploaded.
func (c *Client) Query(ctx context.Context, userID, question string) (Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	form := url.Values{"user_id": {userID}, "question": {question}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/", strings.NewReader(form.Encode()))
	if err != nil {
		return Answer{}, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := upstream.Do(c.http, serviceName, req)
	if err != nil {
		slog.Error("Document.Query: request failed", "error", err, "user_id", userID)
		return Answer{}, err
	}
	var ans Answer
	if err := json.Unmarshal(resp, &ans); err != nil {
		return Answer{}, fmt.Errorf("decode %s answer: %w", serviceName, err)
	}
	ans.Raw = json.RawMessage(resp)
	return ans, nil
}
