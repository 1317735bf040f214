// Package api serves client.Service over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/julianstephens/milkrun/internal/client"
	"github.com/julianstephens/milkrun/internal/constants"
	"github.com/julianstephens/milkrun/internal/logger"
	"github.com/julianstephens/milkrun/internal/metrics"
	"github.com/julianstephens/milkrun/internal/models"
)

// Handler exposes a delivery service on the /v1 routes.
type Handler struct {
	svc     client.Service
	metrics *metrics.Metrics
}

func New(svc client.Service, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, metrics: m}
}

// Router builds the complete route tree, including /healthz and /metrics.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(constants.DefaultRequestTimeout))
		r.Use(customer)
		h.Register(r)
	})
	return r
}

// Register mounts the subscription routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/subscriptions/me", h.handleGetMySubscription)
	r.Route("/subscriptions/{id}", func(r chi.Router) {
		r.Get("/calendar", h.handleGetCalendar)
		r.Get("/available-dates", h.handleAvailableDates)
		r.Post("/deliveries/reschedule", h.handleBulkReschedule)
		r.Post("/deliveries/{date}/slot", h.handleChangeSlot)
		r.Post("/deliveries/{date}/reschedule", h.handleReschedule)
		r.Post("/deliveries/{date}/confirm", h.handleConfirm)
	})
}

// customer moves the X-Customer-ID header into the request context.
func customer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get(constants.CustomerHeader); id != "" {
			r = r.WithContext(client.WithCustomer(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logger.Debug("request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (h *Handler) handleGetMySubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.svc.GetMySubscription(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, client.SubscriptionResponse{Subscription: sub})
}

func (h *Handler) handleGetCalendar(w http.ResponseWriter, r *http.Request) {
	year, err := intParam(r, "year")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	month, err := intParam(r, "month")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	payload, err := h.svc.GetDeliveryCalendar(r.Context(), chi.URLParam(r, "id"), year, month)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleChangeSlot(w http.ResponseWriter, r *http.Request) {
	var req client.SlotRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.ChangeDeliverySlot(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "date"), req.Slot)
	h.writeResult(w, r, res, err)
}

func (h *Handler) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req client.RescheduleRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.RescheduleDelivery(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "date"), req.ToDate, req.Slot)
	h.writeResult(w, r, res, err)
}

func (h *Handler) handleBulkReschedule(w http.ResponseWriter, r *http.Request) {
	var req client.BulkRescheduleRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.RescheduleMultipleDeliveries(r.Context(), chi.URLParam(r, "id"), req.FromDates, req.NewStartDate, req.Slot)
	h.writeResult(w, r, res, err)
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ConfirmDelivery(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "date"))
	h.writeResult(w, r, res, err)
}

func (h *Handler) handleAvailableDates(w http.ResponseWriter, r *http.Request) {
	days := 1
	if r.URL.Query().Get("consecutiveDays") != "" {
		var err error
		if days, err = intParam(r, "consecutiveDays"); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	q := r.URL.Query()
	avail, err := h.svc.GetAvailableRescheduleDates(r.Context(), chi.URLParam(r, "id"), q.Get("anchor"), models.Slot(q.Get("slot")), days)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, avail)
}
