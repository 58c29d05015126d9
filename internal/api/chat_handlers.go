package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/MedBay/internal/flow"
	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/xray"
)

// Fixed channel replies
const (
	criticalErrorText = "I'm sorry, a critical error occurred. Please try again later."
	mediaAcceptedText = "Thanks! I'm analyzing your X-ray now and will send the report in a moment."
	// twilioMediaFilename names inbound Twilio images for the classifier.
	twilioMediaFilename = "whatsapp_xray.jpg"
)

type webMessage struct {
	UserID   string          `json:"user_id"`
	Text     string          `json:"text"`
	Language models.Language `json:"language"`
	Context  map[string]any  `json:"context"`
}

type webRequest struct {
	Message webMessage `json:"message"`
}

// webWebhookHandler handles POST /webhook/web
func (s *Server) webWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req webRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.webWebhookHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if strings.TrimSpace(req.Message.UserID) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("message.user_id is required"))
		return
	}
	reply, err := s.Engine.ProcessMessage(r.Context(), flow.Message{
		UserID:   req.Message.UserID,
		Text:     req.Message.Text,
		Language: req.Message.Language,
		Context:  req.Message.Context,
	})
	if err != nil {
		slog.Error("Server.webWebhookHandler: turn failed", "error", err, "user_id", req.Message.UserID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to process message"))
		return
	}
	writeJSONResponse(w, http.StatusOK, reply)
}

// twilioWebhookHandler handles POST /webhook/twilio and always answers with TwiML.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("Server.twilioWebhookHandler: invalid form", "error", err)
		writeTwiML(w, criticalErrorText)
		return
	}
	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	numMedia, _ := strconv.Atoi(r.PostFormValue("NumMedia"))
	mediaURL := r.PostFormValue("MediaUrl0")
	slog.Debug("Server.twilioWebhookHandler: message received", "from", from, "num_media", numMedia)

	if from == "" {
		writeTwiML(w, criticalErrorText)
		return
	}
	sid := r.PostFormValue("MessageSid")
	if !s.acceptInbound(r.Context(), sid, from) {
		writeEmptyTwiML(w)
		return
	}
	defer s.markProcessed(sid)

	if numMedia > 0 && mediaURL != "" {
		if s.opts.TwilioAsyncMedia && s.Twilio != nil {
			go func() {
				ctx, cancel := context.WithTimeout(s.background, s.opts.MediaTimeout)
				defer cancel()
				text := s.twilioMediaReply(ctx, from, mediaURL)
				if err := s.Twilio.SendMessage(ctx, from, text); err != nil {
					slog.Error("Server.twilioWebhookHandler: async reply failed", "error", err, "from", from)
				}
			}()
			writeTwiML(w, mediaAcceptedText)
			return
		}
		writeTwiML(w, s.twilioMediaReply(r.Context(), from, mediaURL))
		return
	}

	reply, err := s.Engine.ProcessMessage(r.Context(), flow.Message{
		UserID:   from,
		Text:     body,
		Language: models.DefaultLanguage,
	})
	if err != nil {
		slog.Error("Server.twilioWebhookHandler: turn failed", "error", err, "from", from)
		writeTwiML(w, criticalErrorText)
		return
	}
	writeTwiML(w, flow.PlainText(reply))
}

// acceptInbound records a Twilio MessageSid and reports whether it is new. Lookup
// failures let the message through.
func (s *Server) acceptInbound(ctx context.Context, sid, from string) bool {
	if s.Dedup == nil || sid == "" {
		return true
	}
	fresh, err := s.Dedup.RecordInbound(ctx, sid, from)
	if err != nil {
		slog.Warn("Server.acceptInbound: dedup lookup failed", "error", err, "sid", sid)
		return true
	}
	if !fresh {
		slog.Info("Server.acceptInbound: duplicate webhook dropped", "sid", sid, "from", from)
		s.Metrics.DuplicateMessage("twilio")
	}
	return fresh
}

func (s *Server) markProcessed(sid string) {
	if s.Dedup == nil || sid == "" {
		return
	}
	if err := s.Dedup.MarkProcessed(s.background, sid); err != nil {
		slog.Warn("Server.markProcessed: failed", "error", err, "sid", sid)
	}
}

// twilioMediaReply downloads a Twilio attachment, analyzes it and records the report in
// the sender's session.
func (s *Server) twilioMediaReply(ctx context.Context, from, mediaURL string) string {
	if s.Twilio == nil || s.Analyzer == nil {
		slog.Error("Server.twilioMediaReply: media pipeline not configured", "twilio_set", s.Twilio != nil, "analyzer_set", s.Analyzer != nil)
		return xray.AnalysisFailedText
	}
	data, contentType, err := s.Twilio.DownloadMedia(ctx, mediaURL)
	if err != nil {
		slog.Error("Server.twilioMediaReply: download failed", "error", err, "from", from)
		return xray.MediaFailedText
	}
	analysis, err := s.Analyzer.Analyze(ctx, twilioMediaFilename, contentType, data)
	if err != nil {
		if !errors.Is(err, xray.ErrNoFindings) {
			slog.Error("Server.twilioMediaReply: analysis failed", "error", err, "from", from)
		}
		return xray.ReplyText(analysis, err)
	}
	if err := s.Engine.RecordXrayReport(ctx, from, analysis.Report); err != nil {
		slog.Error("Server.twilioMediaReply: storing report failed", "error", err, "from", from)
	}
	return xray.ReplyText(analysis, nil)
}
