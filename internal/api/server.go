package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/BTreeMap/MedBay/internal/document"
	"github.com/BTreeMap/MedBay/internal/flow"
	"github.com/BTreeMap/MedBay/internal/metrics"
	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/places"
	"github.com/BTreeMap/MedBay/internal/store"
	"github.com/BTreeMap/MedBay/internal/twiliowhatsapp"
	"github.com/BTreeMap/MedBay/internal/xray"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Limits for inbound requests
const (
	MaxUploadBytes = 20 << 20
	DefaultAddr    = ":8000"
	// DefaultMediaTimeout bounds asynchronous Twilio media processing.
	DefaultMediaTimeout = 2 * time.Minute
)

// Engine is the conversation engine as seen by the HTTP layer. *flow.Engine implements it.
type Engine interface {
	ProcessMessage(ctx context.Context, msg flow.Message) (models.Reply, error)
	RecordXrayReport(ctx context.Context, userID, report string) error
}

// ImageAnalyzer classifies an X-ray and writes its report. *xray.Analyzer implements it.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, filename, contentType string, data []byte) (xray.Analysis, error)
	Report(ctx context.Context, findings []models.Finding) string
}

// ReportPublisher renders and stores a PDF report. *report.Publisher implements it.
type ReportPublisher interface {
	Publish(ctx context.Context, filename, reportText string, findings []models.Finding) (string, error)
}

// DocumentService relays PDF uploads and questions. *document.Client implements it.
type DocumentService interface {
	Upload(ctx context.Context, userID, filename, contentType string, data []byte) (json.RawMessage, error)
	Query(ctx context.Context, userID, question string) (document.Answer, error)
}

// Deps are the collaborators the server routes requests to. Nil optional fields disable
// the endpoints that need them.
type Deps struct {
	Engine Engine
	Store  store.Store
	// Dedup drops redelivered Twilio webhooks. Nil disables the check.
	Dedup     store.DedupRepo
	Reminders store.ReminderRepo
	Analyzer  ImageAnalyzer
	Reports   ReportPublisher
	Documents DocumentService
	Geocoder  places.Geocoder
	Twilio    twiliowhatsapp.Sender
	Metrics   *metrics.Metrics
	// ReportsDir is served under /reports/ when reports are stored locally.
	ReportsDir string
}

// ServerOpts tunes request handling.
type ServerOpts struct {
	CORSOrigins      []string
	TwilioAsyncMedia bool
	MediaTimeout     time.Duration
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	Deps
	opts ServerOpts
	// background is the parent of asynchronous media jobs; it ends at shutdown.
	background context.Context
}

// NewServer creates a Server.
func NewServer(deps Deps, opts ServerOpts) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.MediaTimeout <= 0 {
		opts.MediaTimeout = DefaultMediaTimeout
	}
	return &Server{Deps: deps, opts: opts, background: context.Background()}
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.Metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", s.rootHandler)
	r.Get("/health", s.healthHandler)
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())

	r.Post("/webhook/web", s.webWebhookHandler)
	r.Post("/webhook/twilio", s.twilioWebhookHandler)

	r.Post("/users", s.createUserHandler)
	r.Get("/users/phone/{phone}", s.getUserByPhoneHandler)
	r.Get("/vaccination-schedules", s.vaccinationSchedulesHandler)
	r.Get("/reminders", s.listRemindersHandler)
	r.Post("/reminders", s.createReminderHandler)
	r.Delete("/reminders/{id}", s.deleteReminderHandler)

	r.Route("/api", func(r chi.Router) {
		r.Post("/xray-upload", s.xrayUploadHandler)
		r.Post("/reverse-geocode", s.reverseGeocodeHandler)
		r.Post("/document/upload/", s.documentUploadHandler)
		r.Post("/document/query", s.documentQueryHandler)
		r.Post("/document/query/", s.documentQueryHandler)
	})

	if s.ReportsDir != "" {
		r.Handle("/reports/*", http.StripPrefix("/reports/", http.FileServer(http.Dir(s.ReportsDir))))
	}
	return r
}
