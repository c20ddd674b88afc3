package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/prudhvinik1/focuspresence/internal/models"
	"github.com/prudhvinik1/focuspresence/internal/services"
)

const defaultStatsDays = 7

type PresenceHandler struct {
	svc    *services.PresenceService
	clock  quartz.Clock
	logger *slog.Logger
}

func NewPresenceHandler(svc *services.PresenceService, clock quartz.Clock, logger *slog.Logger) *PresenceHandler {
	return &PresenceHandler{svc: svc, clock: clock, logger: logger}
}

// Routes expects the caller's identity to be on the request context.
func (h *PresenceHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/me", h.getMe)
	r.Get("/users/{userId}", h.getUser)
	r.Get("/users/{userId}/stats", h.getStats)
	r.Post("/users/bulk", h.getBulk)
	r.Get("/groups/{groupId}", h.getGroupSnapshot)
	r.Get("/groups/{groupId}/count", h.getGroupCount)

	r.Post("/heartbeat", h.heartbeat)
	r.Post("/status", h.updateStatus)
	r.Post("/batch", h.updateBatch)
	r.Post("/focus-session/start", h.startFocus)
	r.Post("/focus-session/end", h.endFocus)
	r.Post("/buddy-session/start", h.startBuddy)
	r.Post("/buddy-session/end", h.endBuddy)

	r.Post("/subscriptions", h.subscribe)
	r.Delete("/subscriptions/{groupId}", h.unsubscribe)

	r.Get("/metrics", h.metricsSummary)
	return r
}

func (h *PresenceHandler) getMe(w http.ResponseWriter, r *http.Request) {
	h.writePresence(w, r, UserIDFromContext(r.Context()))
}

func (h *PresenceHandler) getUser(w http.ResponseWriter, r *http.Request) {
	h.writePresence(w, r, chi.URLParam(r, "userId"))
}

func (h *PresenceHandler) writePresence(w http.ResponseWriter, r *http.Request, userID string) {
	view, err := h.svc.GetPresence(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type bulkRequest struct {
	UserIDs []string `json:"userIds"`
}

func (h *PresenceHandler) getBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	views, err := h.svc.GetBulkPresence(r.Context(), req.UserIDs)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *PresenceHandler) getGroupSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.svc.GetGroupSnapshot(r.Context(), chi.URLParam(r, "groupId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (h *PresenceHandler) getGroupCount(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupId")
	count, err := h.svc.GroupCount(r.Context(), groupID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groupId": groupID, "count": count})
}

type heartbeatResponse struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// heartbeat always acknowledges; failures are only logged.
func (h *PresenceHandler) heartbeat(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	if err := h.svc.RecordActivity(r.Context(), userID); err != nil {
		h.logger.Warn("heartbeat failed", "user", userID, "error", err)
	}
	writeJSON(w, http.StatusAccepted, heartbeatResponse{UserID: userID, Timestamp: h.clock.Now().UTC()})
}

type statusRequest struct {
	Status   models.PresenceStatus `json:"status"`
	GroupID  *string               `json:"groupId"`
	Activity *string               `json:"activity"`
}

func (h *PresenceHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	view, err := h.svc.UpdatePresence(r.Context(), services.UpdateRequest{
		UserID:   UserIDFromContext(r.Context()),
		Status:   req.Status,
		GroupID:  req.GroupID,
		Activity: req.Activity,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type batchRequest struct {
	Updates map[string]models.PresenceStatus `json:"updates"`
	GroupID *string                          `json:"groupId"`
}

func (h *PresenceHandler) updateBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	views, err := h.svc.UpdateBatchPresence(r.Context(), req.Updates, req.GroupID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type focusRequest struct {
	GroupID *string `json:"groupId"`
	Minutes int     `json:"minutes"`
}

func (h *PresenceHandler) startFocus(w http.ResponseWriter, r *http.Request) {
	var req focusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	view, err := h.svc.StartFocusSession(r.Context(), UserIDFromContext(r.Context()), req.GroupID, req.Minutes)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *PresenceHandler) endFocus(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.EndFocusSession(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type buddyRequest struct {
	PartnerID string `json:"partnerId"`
}

func (h *PresenceHandler) startBuddy(w http.ResponseWriter, r *http.Request) {
	var req buddyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	view, err := h.svc.StartBuddySession(r.Context(), UserIDFromContext(r.Context()), req.PartnerID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *PresenceHandler) endBuddy(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.EndBuddySession(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type subscribeRequest struct {
	GroupIDs []string `json:"groupIds"`
}

type subscriptionsResponse struct {
	UserID string   `json:"userId"`
	Groups []string `json:"groups"`
}

func (h *PresenceHandler) subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	userID := UserIDFromContext(r.Context())
	groups := h.svc.Subscribe(userID, req.GroupIDs...)
	writeJSON(w, http.StatusOK, subscriptionsResponse{UserID: userID, Groups: nonNil(groups)})
}

func (h *PresenceHandler) unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	groups := h.svc.Unsubscribe(userID, chi.URLParam(r, "groupId"))
	writeJSON(w, http.StatusOK, subscriptionsResponse{UserID: userID, Groups: nonNil(groups)})
}

func (h *PresenceHandler) getStats(w http.ResponseWriter, r *http.Request) {
	days := defaultStatsDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, h.logger, &services.ValidationError{Field: "days", Message: "must be a number"})
			return
		}
		days = parsed
	}
	stats, err := h.svc.GetStats(r.Context(), chi.URLParam(r, "userId"), days)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *PresenceHandler) metricsSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.MetricsSummary())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
