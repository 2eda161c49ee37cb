// ABOUTME: HTTP ingestion endpoint for chat events built on chi
// ABOUTME: POST /api/events accepts one message, GET /health reports liveness

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/2389/helpdesk-gateway/internal/event"
)

const maxBodyBytes = 64 << 10

// Publisher accepts an event for processing. An error means the event was not
// taken and the caller may retry.
type Publisher interface {
	Publish(ctx context.Context, ev event.Inbound) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev event.Inbound) error

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, ev event.Inbound) error {
	return f(ctx, ev)
}

// ThreadCloser ends a conversation on request.
type ThreadCloser interface {
	CloseThread(ctx context.Context, threadKey string) bool
}

// Option configures a Handler.
type Option func(*Handler)

// WithThreadCloser enables POST /api/threads/close.
func WithThreadCloser(c ThreadCloser) Option {
	return func(h *Handler) { h.closer = c }
}

// EventRequest is the body of POST /api/events.
type EventRequest struct {
	EventID     string `json:"eventId"`
	ChannelID   string `json:"channelId"`
	ChannelName string `json:"channelName"`
	UserID      string `json:"userId"`
	ThreadTS    string `json:"threadTs"`
	MessageTS   string `json:"messageTs"`
	Text        string `json:"text"`
}

// CloseRequest is the body of POST /api/threads/close. It names a thread the
// same way an event does.
type CloseRequest struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	ThreadTS  string `json:"threadTs"`
}

type closedResponse struct {
	ThreadKey string `json:"threadKey"`
	Closed    bool   `json:"closed"`
}

type acceptedResponse struct {
	EventID string `json:"eventId"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the webhook routes.
type Handler struct {
	publisher Publisher
	closer    ThreadCloser
	logger    *slog.Logger
	now       func() time.Time
	router    chi.Router
}

// New builds a Handler that hands accepted events to publisher.
func New(publisher Publisher, logger *slog.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		publisher: publisher,
		logger:    logger.With("component", "webhook"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Get("/health", h.handleHealth)
	r.Post("/api/events", h.handleEvent)
	if h.closer != nil {
		r.Post("/api/threads/close", h.handleClose)
	}
	h.router = r
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) handleEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if missing := req.missingFields(); len(missing) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing required fields: " + strings.Join(missing, ", ")})
		return
	}

	ev := req.toEvent(h.now())
	if err := h.publisher.Publish(r.Context(), ev); err != nil {
		h.logger.Error("failed to accept event",
			"event_id", ev.EventID,
			"request_id", chiMiddleware.GetReqID(r.Context()),
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event not accepted, retry later"})
		return
	}

	h.logger.Debug("accepted event", "event_id", ev.EventID, "channel", ev.ChannelName)
	writeJSON(w, http.StatusAccepted, acceptedResponse{EventID: ev.EventID})
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req CloseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.ChannelID == "" || (req.UserID == "" && req.ThreadTS == "") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "channelId and one of userId or threadTs are required"})
		return
	}

	key := event.ThreadKey(req.ChannelID, req.ThreadTS, req.UserID)
	if !h.closer.CloseThread(r.Context(), key) {
		writeJSON(w, http.StatusNotFound, closedResponse{ThreadKey: key})
		return
	}
	writeJSON(w, http.StatusOK, closedResponse{ThreadKey: key, Closed: true})
}

func (req EventRequest) missingFields() []string {
	var missing []string
	if strings.TrimSpace(req.ChannelID) == "" {
		missing = append(missing, "channelId")
	}
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(req.Text) == "" {
		missing = append(missing, "text")
	}
	return missing
}

// toEvent fills a missing event id and reply target. Replies go to the
// thread when there is one, else they start a thread on the message itself.
func (req EventRequest) toEvent(now time.Time) event.Inbound {
	id := req.EventID
	if id == "" {
		id = uuid.NewString()
	}
	reply := req.ThreadTS
	if reply == "" {
		reply = req.MessageTS
	}
	return event.Inbound{
		EventID:     id,
		ChannelID:   req.ChannelID,
		ChannelName: req.ChannelName,
		UserID:      req.UserID,
		ThreadTS:    req.ThreadTS,
		ReplyTarget: reply,
		Text:        req.Text,
		ArrivalTime: now,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
