package forms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/greenleafcpa/greenleaf-web/internal/httpmw"
	"github.com/greenleafcpa/greenleaf-web/internal/log"
	"github.com/greenleafcpa/greenleaf-web/internal/ratelimit"
	"github.com/greenleafcpa/greenleaf-web/internal/xerrors"
)

// Outcome labels reported to Metrics.
const (
	OutcomeAccepted  = "accepted"
	OutcomeHoneypot  = "honeypot"
	OutcomeInvalid   = "invalid"
	OutcomeThrottled = "throttled"
	OutcomeError     = "error"
)

const (
	msgContactOK       = "Message received."
	msgSubscribeOK     = "Subscribed successfully."
	msgContactLimited  = "You have submitted too many messages. Please try again later."
	msgSubLimited      = "Too many subscription attempts. Please try again later."
	msgGeneric         = "Something went wrong. Please try again."
	msgBadRequest      = "Invalid request."
	msgTooLarge        = "Request is too large."
	defaultDeliverTime = 10 * time.Second
)

// Metrics is implemented by the metrics package.
type Metrics interface {
	IncFormSubmission(form, outcome string)
	IncSinkError(sink string)
	IncAdmissionError()
}

// Options configures the form handlers.
type Options struct {
	Logger   log.Logger
	Admitter ratelimit.Admitter

	// Policies default to ratelimit.DefaultPolicy() when zero.
	ContactPolicy   ratelimit.Policy
	SubscribePolicy ratelimit.Policy

	// Sinks default to a LogSink when nil.
	ContactSink   Sink
	SubscribeSink Sink

	Metrics Metrics

	// DeliverTimeout bounds sink delivery. Delivery is detached from the client
	// connection so a visitor closing the tab does not lose an accepted submission.
	DeliverTimeout time.Duration

	Now   func() time.Time
	NewID func() string
}

type Handler struct {
	logger          log.Logger
	admitter        ratelimit.Admitter
	contactPolicy   ratelimit.Policy
	subscribePolicy ratelimit.Policy
	contactSink     Sink
	subscribeSink   Sink
	metrics         Metrics
	deliverTimeout  time.Duration
	now             func() time.Time
	newID           func() string
}

// New builds the form handlers. An Admitter is required.
func New(opts Options) (*Handler, error) {
	if opts.Admitter == nil {
		return nil, xerrors.New("forms: admitter is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.ContactPolicy == (ratelimit.Policy{}) {
		opts.ContactPolicy = ratelimit.DefaultPolicy()
	}
	if opts.SubscribePolicy == (ratelimit.Policy{}) {
		opts.SubscribePolicy = ratelimit.DefaultPolicy()
	}
	if opts.ContactSink == nil {
		opts.ContactSink = LogSink{Logger: opts.Logger}
	}
	if opts.SubscribeSink == nil {
		opts.SubscribeSink = LogSink{Logger: opts.Logger}
	}
	if opts.DeliverTimeout <= 0 {
		opts.DeliverTimeout = defaultDeliverTime
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Handler{
		logger:          opts.Logger,
		admitter:        opts.Admitter,
		contactPolicy:   opts.ContactPolicy,
		subscribePolicy: opts.SubscribePolicy,
		contactSink:     opts.ContactSink,
		subscribeSink:   opts.SubscribeSink,
		metrics:         opts.Metrics,
		deliverTimeout:  opts.DeliverTimeout,
		now:             opts.Now,
		newID:           opts.NewID,
	}, nil
}

// Register mounts the endpoints on r, relative to wherever r is mounted.
func (h *Handler) Register(r chi.Router) {
	r.Post("/contact", h.Contact)
	r.Post("/subscribe", h.Subscribe)
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Contact handles POST /api/contact.
func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !h.decode(w, r, FormContact, &req) {
		return
	}
	if req.CompanyName {
		h.count(FormContact, OutcomeHoneypot)
		writeJSON(w, http.StatusOK, response{Success: true, Message: msgContactOK})
		return
	}

	req.normalize()
	if err := req.validate(); err != nil {
		h.count(FormContact, OutcomeInvalid)
		writeJSON(w, http.StatusBadRequest, response{Error: err.Error()})
		return
	}

	sub := h.submission(r, FormContact)
	sub.Name = req.Name
	sub.Email = req.Email
	sub.Phone = req.Phone
	sub.Service = req.Service
	sub.Message = req.Message

	h.admitAndDeliver(w, r, sub, h.contactPolicy, h.contactSink, msgContactOK, msgContactLimited)
}

// Subscribe handles POST /api/subscribe.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if !h.decode(w, r, FormSubscribe, &req) {
		return
	}
	if req.CompanyName {
		h.count(FormSubscribe, OutcomeHoneypot)
		writeJSON(w, http.StatusOK, response{Success: true, Message: msgSubscribeOK})
		return
	}

	req.normalize()
	if err := req.validate(); err != nil {
		h.count(FormSubscribe, OutcomeInvalid)
		writeJSON(w, http.StatusBadRequest, response{Error: err.Error()})
		return
	}

	sub := h.submission(r, FormSubscribe)
	sub.Email = req.Email

	h.admitAndDeliver(w, r, sub, h.subscribePolicy, h.subscribeSink, msgSubscribeOK, msgSubLimited)
}

// admitAndDeliver runs the admission check for sub's client and, when admitted,
// hands sub to sink. Only valid submissions reach here, so malformed requests
// never consume budget.
func (h *Handler) admitAndDeliver(w http.ResponseWriter, r *http.Request, sub Submission, p ratelimit.Policy, sink Sink, okMsg, limitedMsg string) {
	ctx := r.Context()
	logger := h.logger

	identity := sub.Form + ":" + sub.ClientIP
	blocked, err := h.admitter.Admit(ctx, identity, p)
	if err != nil {
		// a shared backend outage must not take the forms down with it
		logger.Error(ctx, err, "admission check failed, admitting", "form", sub.Form)
		if h.metrics != nil {
			h.metrics.IncAdmissionError()
		}
		blocked = false
	}
	if blocked {
		h.count(sub.Form, OutcomeThrottled)
		logger.Info(ctx, "form submission throttled", "form", sub.Form, "retry_after_s", p.RetryAfterSeconds())
		w.Header().Set("Retry-After", strconv.Itoa(p.RetryAfterSeconds()))
		writeJSON(w, http.StatusTooManyRequests, response{Error: limitedMsg})
		return
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.deliverTimeout)
	defer cancel()
	if err := sink.Deliver(dctx, sub); err != nil {
		h.count(sub.Form, OutcomeError)
		logger.Error(ctx, err, "form submission delivery failed", "form", sub.Form, "submission_id", sub.ID)
		writeJSON(w, http.StatusInternalServerError, response{Error: msgGeneric})
		return
	}

	h.count(sub.Form, OutcomeAccepted)
	writeJSON(w, http.StatusOK, response{Success: true, Message: okMsg})
}

// decode reads the JSON body into dst, writing the error response itself on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, form string, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}
	h.count(form, OutcomeInvalid)

	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		writeJSON(w, http.StatusRequestEntityTooLarge, response{Error: msgTooLarge})
		return false
	}
	h.logger.Debug(r.Context(), "form body rejected", "form", form, "err", err.Error())
	writeJSON(w, http.StatusBadRequest, response{Error: msgBadRequest})
	return false
}

func (h *Handler) submission(r *http.Request, form string) Submission {
	ctx := r.Context()
	ip := httpmw.ClientIPFromContext(ctx)
	if ip == "" {
		ip = httpmw.UnknownClient
	}
	return Submission{
		ID:         h.newID(),
		Form:       form,
		ClientIP:   ip,
		RequestID:  httpmw.RequestIDFromContext(ctx),
		ReceivedAt: h.now().UTC(),
	}
}

func (h *Handler) count(form, outcome string) {
	if h.metrics != nil {
		h.metrics.IncFormSubmission(form, outcome)
	}
}

func writeJSON(w http.ResponseWriter, status int, v response) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
