// Package api wires MedBay's dependencies together and serves its HTTP endpoints.
//
// It exposes the web and Twilio chat webhooks, user and vaccination-schedule lookups, X-ray
// and document uploads, reverse geocoding and Prometheus metrics, and optionally runs the
// direct WhatsApp channel alongside the HTTP server.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/MedBay/internal/document"
	"github.com/BTreeMap/MedBay/internal/events"
	"github.com/BTreeMap/MedBay/internal/flow"
	"github.com/BTreeMap/MedBay/internal/genai"
	"github.com/BTreeMap/MedBay/internal/metrics"
	"github.com/BTreeMap/MedBay/internal/persona"
	"github.com/BTreeMap/MedBay/internal/places"
	"github.com/BTreeMap/MedBay/internal/reminder"
	"github.com/BTreeMap/MedBay/internal/report"
	"github.com/BTreeMap/MedBay/internal/scheduler"
	"github.com/BTreeMap/MedBay/internal/store"
	"github.com/BTreeMap/MedBay/internal/tools"
	"github.com/BTreeMap/MedBay/internal/twiliowhatsapp"
	"github.com/BTreeMap/MedBay/internal/whatsapp"
	"github.com/BTreeMap/MedBay/internal/xray"
)

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 10 * time.Second

// Housekeeping cadence and retention windows.
const (
	HousekeepingInterval = time.Hour
	DedupRetention       = 7 * 24 * time.Hour
	ReportRetention      = 30 * 24 * time.Hour
)

// Opts holds configuration for Run.
type Opts struct {
	Addr             string
	CORSOrigins      []string
	PersonasFile     string
	WhatsAppEnabled  bool
	TwilioAsyncMedia bool

	SessionOptions  []store.SessionOption
	EngineOptions   []flow.Option
	PlacesOptions   []places.Option
	XrayOptions     []xray.Option
	DocumentOptions []document.Option

	KafkaBrokers []string
	KafkaTopic   string

	SupabaseURL   string
	SupabaseKey   string
	ReportBucket  string
	ReportsDir    string
	PublicBaseURL string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(o *Opts) { o.CORSOrigins = origins }
}

// WithPersonasFile loads the persona bank from a YAML file instead of the embedded one.
func WithPersonasFile(path string) Option {
	return func(o *Opts) { o.PersonasFile = path }
}

// WithWhatsApp starts the direct whatsmeow channel.
func WithWhatsApp(enabled bool) Option {
	return func(o *Opts) { o.WhatsAppEnabled = enabled }
}

// WithTwilioAsyncMedia acknowledges Twilio images at once and sends the report later.
func WithTwilioAsyncMedia(enabled bool) Option {
	return func(o *Opts) { o.TwilioAsyncMedia = enabled }
}

// WithSessionOptions configures the session store.
func WithSessionOptions(opts ...store.SessionOption) Option {
	return func(o *Opts) { o.SessionOptions = append(o.SessionOptions, opts...) }
}

// WithEngineOptions configures the conversation engine.
func WithEngineOptions(opts ...flow.Option) Option {
	return func(o *Opts) { o.EngineOptions = append(o.EngineOptions, opts...) }
}

// WithPlacesOptions configures hospital search and geocoding.
func WithPlacesOptions(opts ...places.Option) Option {
	return func(o *Opts) { o.PlacesOptions = append(o.PlacesOptions, opts...) }
}

// WithXrayOptions configures the X-ray classifier client.
func WithXrayOptions(opts ...xray.Option) Option {
	return func(o *Opts) { o.XrayOptions = append(o.XrayOptions, opts...) }
}

// WithDocumentOptions configures the document Q&A client.
func WithDocumentOptions(opts ...document.Option) Option {
	return func(o *Opts) { o.DocumentOptions = append(o.DocumentOptions, opts...) }
}

// WithKafka publishes turn events to topic.
func WithKafka(brokers []string, topic string) Option {
	return func(o *Opts) {
		o.KafkaBrokers = brokers
		o.KafkaTopic = topic
	}
}

// WithSupabaseReports stores PDF reports in a Supabase storage bucket.
func WithSupabaseReports(url, key, bucket string) Option {
	return func(o *Opts) {
		o.SupabaseURL = url
		o.SupabaseKey = key
		o.ReportBucket = bucket
	}
}

// WithLocalReports stores PDF reports in dir and serves them under publicBaseURL/reports.
func WithLocalReports(dir, publicBaseURL string) Option {
	return func(o *Opts) {
		o.ReportsDir = dir
		o.PublicBaseURL = publicBaseURL
	}
}

// Run builds every dependency, serves HTTP and, when enabled, the WhatsApp channel. It
// returns after SIGINT or SIGTERM once the server has shut down.
func Run(waOpts []whatsapp.Option, twilioOpts []twiliowhatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts ...Option) error {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sessions, err := store.NewSessionStore(cfg.SessionOptions...)
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer sessions.Close()

	llm, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	personas, err := persona.Load(cfg.PersonasFile)
	if err != nil {
		return fmt.Errorf("failed to load personas: %w", err)
	}
	m := metrics.New()

	var (
		hospitals places.HospitalSearcher
		geocoder  places.Geocoder
	)
	if pc, err := places.NewClient(cfg.PlacesOptions...); err != nil {
		slog.Warn("Run: places client unavailable, hospital search and geocoding disabled", "error", err)
	} else {
		hospitals, geocoder = pc, pc
	}

	publisher, err := newPublisher(cfg)
	if err != nil {
		return err
	}

	docs := document.NewClient(cfg.DocumentOptions...)
	analyzer := xray.NewAnalyzer(xray.NewClient(cfg.XrayOptions...), llm, personas, m)
	dispatcher := tools.NewDispatcher(hospitals, st, tools.WithMetrics(m))
	engineOpts := append([]flow.Option{flow.WithMetrics(m), flow.WithPublisher(publisher)}, cfg.EngineOptions...)
	engine := flow.NewEngine(llm, personas, sessions, dispatcher, docs, engineOpts...)
	defer engine.Close()

	reports, local, err := newReportPublisher(cfg)
	if err != nil {
		return err
	}

	reportsDir := ""
	if local != nil {
		reportsDir = local.Dir()
	}
	dedup := store.Dedup(st)
	reminders := store.Reminders(st)
	deps := Deps{
		Engine:     engine,
		Store:      st,
		Dedup:      dedup,
		Reminders:  reminders,
		Analyzer:   analyzer,
		Documents:  docs,
		Geocoder:   geocoder,
		Metrics:    m,
		ReportsDir: reportsDir,
	}
	if reports != nil {
		deps.Reports = reports
	}
	if tw, err := twiliowhatsapp.NewClient(twilioOpts...); err != nil {
		slog.Info("Run: Twilio channel disabled", "reason", err)
	} else {
		deps.Twilio = tw
	}

	if cfg.WhatsAppEnabled {
		wa, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return fmt.Errorf("failed to start WhatsApp client: %w", err)
		}
		go wa.Serve(ctx, whatsapp.NewRouter(wa, engine, analyzer).WithDedup(dedup))
	}

	var worker *reminder.Worker
	if deps.Twilio != nil {
		worker = reminder.NewWorker(reminders, deps.Twilio, reminder.WithMetrics(m))
	} else {
		slog.Warn("Run: medication reminders will not be delivered without Twilio")
	}
	housekeeping, err := newHousekeeping(dedup, local, worker)
	if err != nil {
		return err
	}
	hkCtx, stopHousekeeping := context.WithCancel(ctx)
	housekeeping.Start(hkCtx)
	defer func() {
		stopHousekeeping()
		housekeeping.Wait()
	}()

	srv := NewServer(deps, ServerOpts{CORSOrigins: cfg.CORSOrigins, TwilioAsyncMedia: cfg.TwilioAsyncMedia})
	srv.background = ctx
	return serve(ctx, cfg.Addr, srv.Routes())
}

// newHousekeeping schedules pruning of the dedup table. It also schedules reminder
// delivery when worker is set, and expiry of report files when they are kept on disk.
func newHousekeeping(dedup store.DedupRepo, local *report.LocalStorage, worker *reminder.Worker) (*scheduler.Scheduler, error) {
	s := scheduler.New()
	err := s.Every("prune-inbound-dedup", HousekeepingInterval, func(ctx context.Context) error {
		n, err := dedup.PruneInbound(ctx, time.Now().Add(-DedupRetention))
		if err == nil && n > 0 {
			slog.Info("Run: pruned inbound dedup records", "count", n)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if worker != nil {
		err = s.Every("medication-reminders", reminder.DefaultInterval, func(ctx context.Context) error {
			_, err := worker.Run(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	if local != nil {
		err = s.Every("prune-local-reports", HousekeepingInterval, func(ctx context.Context) error {
			_, err := local.Prune(time.Now().Add(-ReportRetention))
			return err
		})
	}
	return s, err
}

func newPublisher(cfg Opts) (events.Publisher, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NopPublisher{}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka publisher: %w", err)
	}
	slog.Info("Run: publishing turn events", "brokers", strings.Join(cfg.KafkaBrokers, ","), "topic", cfg.KafkaTopic)
	return p, nil
}

// newReportPublisher prefers Supabase storage and falls back to a local directory. The
// returned directory is non-empty only for local storage.
func newReportPublisher(cfg Opts) (*report.Publisher, *report.LocalStorage, error) {
	if cfg.SupabaseURL != "" && cfg.SupabaseKey != "" {
		slog.Info("Run: storing reports in Supabase", "bucket", cfg.ReportBucket)
		return report.NewPublisher(report.NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey, cfg.ReportBucket, nil)), nil, nil
	}
	if cfg.ReportsDir == "" {
		slog.Warn("Run: no report storage configured, PDF reports disabled")
		return nil, nil, nil
	}
	local, err := report.NewLocalStorage(cfg.ReportsDir, strings.TrimRight(cfg.PublicBaseURL, "/")+"/reports")
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Run: storing reports locally", "dir", local.Dir())
	return report.NewPublisher(local), local, nil
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("MedBay API running", "addr", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
