// Package twiliowhatsapp wraps the Twilio API for MedBay's WhatsApp channel: outbound
// messages, inbound media downloads and TwiML replies.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"
)

// WhatsAppPrefix is the address prefix Twilio uses for WhatsApp numbers.
const WhatsAppPrefix = "whatsapp:"

// Media download limits
const (
	DefaultMediaTimeout = 30 * time.Second
	MaxMediaBytes       = 20 << 20
	defaultContentType  = "image/jpeg"
)

// Sender sends WhatsApp messages and fetches inbound media. *Client and *MockClient
// implement it.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, string, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID   string
	AuthToken    string
	FromWhats    string
	MediaTimeout time.Duration
	HTTPClient   *http.Client
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the account SID, also used as the media download user name.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sender number, with or without the whatsapp: prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// WithMediaTimeout bounds a media download.
func WithMediaTimeout(d time.Duration) Option {
	return func(o *Opts) { o.MediaTimeout = d }
}

// WithHTTPClient replaces the HTTP client used for media downloads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client     *twilio.RestClient
	fromWhats  string
	accountSID string
	authToken  string
	timeout    time.Duration
	http       *http.Client
}

var _ Sender = (*Client)(nil)

// NewClient creates a Client, reading TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and
// TWILIO_FROM_NUMBER for any option left empty.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{MediaTimeout: DefaultMediaTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}
	if cfg.HTTPClient == nil {
		// The default client follows Twilio's media redirects to the CDN.
		cfg.HTTPClient = &http.Client{}
	}

	return &Client{
		client: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		}),
		fromWhats:  WhatsAppAddress(cfg.FromWhats),
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		timeout:    cfg.MediaTimeout,
		http:       cfg.HTTPClient,
	}, nil
}

// WhatsAppAddress adds the whatsapp: prefix when it is missing.
func WhatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, WhatsAppPrefix) {
		return number
	}
	return WhatsAppPrefix + number
}

// SendMessage sends a WhatsApp message using Twilio API
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(WhatsAppAddress(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	if _, err := c.client.Api.CreateMessage(params); err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// DownloadMedia fetches an inbound media URL with the account credentials and returns
// the body and its content type.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxMediaBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	if len(data) > MaxMediaBytes {
		return nil, "", fmt.Errorf("media larger than %d bytes", MaxMediaBytes)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = defaultContentType
	}
	slog.Debug("Twilio media downloaded", "bytes", len(data), "content_type", ct)
	return data, ct, nil
}

// TwiMLMessage renders a <Response><Message> reply for the messaging webhook.
func TwiMLMessage(body string) (string, error) {
	return twiml.Messages([]twiml.Element{&twiml.MessagingMessage{Body: body}})
}

// TwiMLEmpty renders a <Response> with no reply, acknowledging a webhook silently.
func TwiMLEmpty() (string, error) {
	return twiml.Messages([]twiml.Element{})
}

// MockClient records sends for tests and serves canned media.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Downloads    []string
	Media        []byte
	MediaType    string
	SendErr      error
	DownloadErr  error
}

var _ Sender = (*MockClient)(nil)

type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}, MediaType: defaultContentType}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Downloads = append(m.Downloads, mediaURL)
	if m.DownloadErr != nil {
		return nil, "", m.DownloadErr
	}
	return m.Media, m.MediaType, nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
