// Package relay wires the inbound endpoint: multipart form in, webhook
// deliveries out.
package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hiroq/mail-relay/internal/metrics"
	"github.com/hiroq/mail-relay/internal/notify"
	"github.com/hiroq/mail-relay/internal/parser"
	"github.com/hiroq/mail-relay/internal/router"
)

// DefaultMaxUploadBytes bounds how much of the multipart form is held in
// memory before spilling to disk.
const DefaultMaxUploadBytes = 32 << 20

// Handler processes inbound email submissions.
type Handler struct {
	parser         *parser.FormParser
	builder        *notify.Builder
	dispatcher     *router.Dispatcher
	logger         *slog.Logger
	maxUploadBytes int64
}

// Config holds the collaborators for a Handler.
type Config struct {
	Parser         *parser.FormParser
	Builder        *notify.Builder
	Dispatcher     *router.Dispatcher
	Logger         *slog.Logger
	MaxUploadBytes int64
}

// NewHandler creates a Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Handler{
		parser:         cfg.Parser,
		builder:        cfg.Builder,
		dispatcher:     cfg.Dispatcher,
		logger:         logger,
		maxUploadBytes: maxUpload,
	}
}

// Inbound handles POST /inbound. The request is acknowledged with OK once
// processing completes; per-recipient delivery failures never reach the
// submitter, which already accepted the email upstream.
func (h *Handler) Inbound(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		h.logger.Warn("rejected submission with wrong content type",
			slog.String("content_type", r.Header.Get("Content-Type")))
		http.Error(w, "Invalid Content-Type", http.StatusBadRequest)
		return
	}

	metrics.EmailsReceived.Inc()

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		metrics.ParseFailures.WithLabelValues("bad_multipart").Inc()
		h.logger.Warn("unreadable multipart body", slog.String("error", err.Error()))
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	res, err := h.parser.Parse(r.MultipartForm)
	if err != nil {
		h.rejectParseFailure(w, err)
		return
	}
	if res.Suppressed {
		metrics.EmailsSuppressed.Inc()
		h.logger.Info("submission suppressed by spam marker")
		writeOK(w)
		return
	}

	email := res.Email
	h.logger.Debug("submission parsed",
		slog.String("from", email.From),
		slog.String("subject", email.Subject),
		slog.Int("recipients", len(email.To)),
		slog.Int("attachments", len(email.Attachments)),
	)

	body, err := h.builder.EncodeBody(h.builder.Build(email), email.Attachments)
	if err != nil {
		h.logger.Error("building delivery body failed", slog.String("error", err.Error()))
		http.Error(w, "Failed to build notification", http.StatusInternalServerError)
		return
	}
	if body.Dropped > 0 {
		metrics.AttachmentsDropped.Add(float64(body.Dropped))
	}

	if err := h.dispatcher.Dispatch(r.Context(), email.To, body); err != nil {
		var noRoute *router.NoRouteError
		if errors.As(err, &noRoute) {
			h.logger.Error("no webhook route", slog.String("recipient", noRoute.Address))
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		h.logger.Error("route lookup failed", slog.String("error", err.Error()))
		http.Error(w, "Routing table unavailable", http.StatusBadGateway)
		return
	}

	writeOK(w)
}

// rejectParseFailure maps a parse error onto the 400 response and the
// failure counter.
func (h *Handler) rejectParseFailure(w http.ResponseWriter, err error) {
	reason := "invalid"
	var missing *parser.MissingFieldError
	var manifest *parser.ManifestError
	switch {
	case errors.As(err, &missing):
		reason = "missing_field"
	case errors.As(err, &manifest):
		reason = "bad_manifest"
	}
	metrics.ParseFailures.WithLabelValues(reason).Inc()
	h.logger.Warn("submission rejected",
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
