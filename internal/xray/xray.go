// Package xray talks to the chest X-ray classifier service and turns its findings into
// a plain-language report.
package xray

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/BTreeMap/MedBay/internal/genai"
	"github.com/BTreeMap/MedBay/internal/metrics"
	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/persona"
	"github.com/BTreeMap/MedBay/internal/upstream"
)

// Defaults for the vision service.
const (
	DefaultBaseURL = "http://localhost:8001"
	DefaultTimeout = 60 * time.Second
	serviceName    = "X-ray analysis service"
)

// Channel replies for image messages.
const (
	NoFindingsText     = "The analysis did not return any findings. Please ensure you sent a clear chest X-ray image."
	MediaFailedText    = "I couldn't access the image from WhatsApp. It might have expired or there's a permission issue. Please try sending it again."
	AnalysisFailedText = "I'm sorry, an error occurred while analyzing the image. Please ensure it's a valid chest X-ray file and try again."
	ReportFallbackText = "Unable to generate detailed report at this time. Please consult with a healthcare professional for proper interpretation of your X-ray results."
)

var (
	// ErrServiceUnavailable is wrapped by errors when the service cannot be reached.
	ErrServiceUnavailable = upstream.ErrUnavailable
	// ErrNoFindings is returned when the classifier answers with an empty result list.
	ErrNoFindings = errors.New("no findings")
)

// ServiceError is returned when the service answers with a non-2xx status.
type ServiceError = upstream.ServiceError

// Predictor classifies an image. *Client implements it.
type Predictor interface {
	Predict(ctx context.Context, filename, contentType string, data []byte) ([]models.Finding, error)
}

// Opts holds client configuration.
type Opts struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Option configures the Client.
type Option func(*Opts)

// WithBaseURL sets the service root, e.g. http://vision:8001.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithTimeout bounds each prediction call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client is the vision service client.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
}

var _ Predictor = (*Client)(nil)

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	cfg := Opts{BaseURL: DefaultBaseURL, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
	}
}

// Predict uploads an image and returns the findings, highest probability first.
func (c *Client) Predict(ctx context.Context, filename, contentType string, data []byte) ([]models.Finding, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, ct, err := upstream.Multipart(nil, upstream.FilePart{
		Field: "file", Filename: filename, ContentType: contentType, Data: data,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", body)
	if err != nil {
		return nil, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", ct)

	resp, err := upstream.Do(c.http, serviceName, req)
	if err != nil {
		slog.Error("Xray.Predict: request failed", "error", err, "filename", filename)
		return nil, err
	}
	var out struct {
		Results []models.Finding `json:"results"`
	}
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", serviceName, err)
	}
	sort.SliceStable(out.Results, func(i, j int) bool {
		return out.Results[i].Probability > out.Results[j].Probability
	})
	slog.Debug("Xray.Predict: findings received", "filename", filename, "count", len(out.Results))
	return out.Results, nil
}

// Analysis is a classified image with its report.
type Analysis struct {
	Findings []models.Finding `json:"analysis_results"`
	Report   string           `json:"medical_report"`
}

// Analyzer runs an image through the classifier and asks the LLM for a report.
type Analyzer struct {
	predictor Predictor
	llm       genai.ClientInterface
	personas  *persona.Bank
	metrics   *metrics.Metrics
}

// NewAnalyzer creates an Analyzer. m may be nil.
func NewAnalyzer(p Predictor, llm genai.ClientInterface, personas *persona.Bank, m *metrics.Metrics) *Analyzer {
	return &Analyzer{predictor: p, llm: llm, personas: personas, metrics: m}
}

// Analyze classifies the image and writes a report. An empty classification returns
// ErrNoFindings along with an empty Analysis.
func (a *Analyzer) Analyze(ctx context.Context, filename, contentType string, data []byte) (Analysis, error) {
	findings, err := a.predictor.Predict(ctx, filename, contentType, data)
	if err != nil {
		return Analysis{}, err
	}
	if len(findings) == 0 {
		return Analysis{Findings: []models.Finding{}}, ErrNoFindings
	}
	return Analysis{Findings: findings, Report: a.Report(ctx, findings)}, nil
}

// Report asks the LLM for a report on the top findings, or returns ReportFallbackText.
func (a *Analyzer) Report(ctx context.Context, findings []models.Finding) string {
	prompt, err := a.personas.XrayReportPrompt(findings)
	if err == nil {
		var text string
		if text, err = a.llm.GeneratePromptWithContext(ctx, "", prompt); err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	a.metrics.LLMFailure("xray_report")
	slog.Error("Analyzer.Report: using fallback report", "error", err)
	return ReportFallbackText
}

// ReplyText is the chat reply for an analysis of an image message.
func ReplyText(an Analysis, err error) string {
	switch {
	case err == nil:
		return an.Report
	case errors.Is(err, ErrNoFindings):
		return NoFindingsText
	default:
		return AnalysisFailedText
	}
}
