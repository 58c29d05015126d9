package whatsapp

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/MedBay/internal/flow"
	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/store"
	"github.com/BTreeMap/MedBay/internal/xray"
)

// criticalErrorText is sent when a message could not be processed at all.
const criticalErrorText = "I'm sorry, a critical error occurred. Please try again later."

// Engine is the part of the conversation engine the channel uses.
type Engine interface {
	ProcessMessage(ctx context.Context, msg flow.Message) (models.Reply, error)
	RecordXrayReport(ctx context.Context, userID, report string) error
}

// ImageAnalyzer runs an image through the X-ray pipeline. *xray.Analyzer implements it.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, filename, contentType string, data []byte) (xray.Analysis, error)
}

// Router turns inbound WhatsApp messages into engine turns and sends the replies.
type Router struct {
	sender   WhatsAppSender
	engine   Engine
	analyzer ImageAnalyzer
	dedup    store.DedupRepo
}

// NewRouter creates a Router. analyzer may be nil, in which case images are refused.
func NewRouter(sender WhatsAppSender, engine Engine, analyzer ImageAnalyzer) *Router {
	return &Router{sender: sender, engine: engine, analyzer: analyzer}
}

// WithDedup makes the router drop messages whose IDs were already recorded in d.
func (r *Router) WithDedup(d store.DedupRepo) *Router {
	r.dedup = d
	return r
}

// Accept records messageID and reports whether the message should be handled. Without
// a dedup table, or when recording fails, every message is accepted.
func (r *Router) Accept(ctx context.Context, messageID, number string) bool {
	if r.dedup == nil || messageID == "" {
		return true
	}
	fresh, err := r.dedup.RecordInbound(ctx, messageID, UserID(number))
	if err != nil {
		slog.Warn("Router.Accept: dedup lookup failed, processing anyway", "error", err, "message_id", messageID)
		return true
	}
	if !fresh {
		slog.Info("Router.Accept: duplicate message dropped", "message_id", messageID, "from", number)
	}
	return fresh
}

// Done marks messageID as answered.
func (r *Router) Done(ctx context.Context, messageID string) {
	if r.dedup == nil || messageID == "" {
		return
	}
	if err := r.dedup.MarkProcessed(ctx, messageID); err != nil {
		slog.Warn("Router.Done: mark processed failed", "error", err, "message_id", messageID)
	}
}

// UserID is the session key for a WhatsApp number.
func UserID(number string) string {
	return flow.WhatsAppUserPrefix + "+" + PhoneDigits(number)
}

// HandleText processes a text message from number and sends the reply.
func (r *Router) HandleText(ctx context.Context, number, text string) {
	reply, err := r.engine.ProcessMessage(ctx, flow.Message{
		UserID:   UserID(number),
		Text:     text,
		Language: models.DefaultLanguage,
	})
	body := flow.PlainText(reply)
	if err != nil {
		slog.Error("Router.HandleText: turn failed", "error", err, "from", number)
		body = criticalErrorText
	}
	r.send(ctx, number, body)
}

// HandleImage analyzes an X-ray image from number, stores the report in the session and
// sends it.
func (r *Router) HandleImage(ctx context.Context, number, filename, contentType string, data []byte) {
	if r.analyzer == nil {
		r.send(ctx, number, xray.AnalysisFailedText)
		return
	}
	analysis, err := r.analyzer.Analyze(ctx, filename, contentType, data)
	if err != nil {
		slog.Error("Router.HandleImage: analysis failed", "error", err, "from", number)
	} else if err := r.engine.RecordXrayReport(ctx, UserID(number), analysis.Report); err != nil {
		slog.Error("Router.HandleImage: storing report failed", "error", err, "from", number)
	}
	r.send(ctx, number, xray.ReplyText(analysis, err))
}

// HandleMediaFailure tells number that its attachment could not be fetched.
func (r *Router) HandleMediaFailure(ctx context.Context, number string) {
	r.send(ctx, number, xray.MediaFailedText)
}

func (r *Router) send(ctx context.Context, number, body string) {
	if err := r.sender.SendMessage(ctx, number, body); err != nil {
		slog.Error("Router.send: reply failed", "error", err, "to", number)
	}
}
