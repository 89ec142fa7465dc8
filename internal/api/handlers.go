package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"hulkai.app/hulk-chat/internal/core"
	"hulkai.app/hulk-chat/internal/store"
)

// Services groups everything the handlers call into.
type Services struct {
	Chat         *core.ChatService
	History      *core.ChatHistoryStore
	Gate         *core.EntitlementGate
	Quota        *core.QuotaTracker
	Subscription *core.SubscriptionStore
	Models       *core.ModelSelector
}

type APIHandler struct {
	svc    Services
	logger *zap.Logger
}

func NewAPIHandler(svc Services, logger *zap.Logger) *APIHandler {
	return &APIHandler{svc: svc, logger: logger.Named("api")}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps core sentinels to status codes. Anything unrecognised is
// logged and reported as a generic 500.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		http.Error(w, core.ErrSessionNotFound.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrSessionBusy):
		http.Error(w, core.ErrSessionBusy.Error(), http.StatusConflict)
	case errors.Is(err, core.ErrPremiumRequired):
		http.Error(w, core.ErrPremiumRequired.Error(), http.StatusForbidden)
	case errors.Is(err, core.ErrUnknownModel):
		http.Error(w, core.ErrUnknownModel.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrEmptyMessage):
		http.Error(w, core.ErrEmptyMessage.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrInvalidPlan):
		http.Error(w, core.ErrInvalidPlan.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *APIHandler) QuotaHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Gate.Status(r.Context()))
}

func (h *APIHandler) ResetQuotaHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Quota.ResetDailyCount(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.svc.Gate.Status(r.Context()))
}

func (h *APIHandler) SubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Subscription.Status())
}

type PurchaseRequest struct {
	Plan core.Plan `json:"plan"`
}

func (h *APIHandler) PurchaseHandler(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	sub, err := h.svc.Subscription.SetPremium(r.Context(), req.Plan)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *APIHandler) CancelSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Subscription.Reset(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) ListModelsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Models.Options())
}

type SelectModelRequest struct {
	ID string `json:"id"`
}

func (h *APIHandler) SelectModelHandler(w http.ResponseWriter, r *http.Request) {
	var req SelectModelRequest
	if !decode(w, r, &req) {
		return
	}
	m, err := h.svc.Models.Select(r.Context(), req.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type ListSessionsResponse struct {
	Sessions         []store.ChatSession `json:"sessions"`
	CurrentSessionID string              `json:"current_session_id,omitempty"`
}

func (h *APIHandler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ListSessionsResponse{
		Sessions:         h.svc.History.Sessions(),
		CurrentSessionID: h.svc.History.CurrentSessionID(),
	})
}

type CreateSessionRequest struct {
	ModelID string `json:"model_id"`
}

func (h *APIHandler) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	session, err := h.svc.Chat.CreateSession(r.Context(), req.ModelID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *APIHandler) ClearSessionsHandler(w http.ResponseWriter, r *http.Request) {
	h.svc.History.ClearAllSessions(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.svc.History.Session(chi.URLParam(r, "sessionID"))
	if !ok {
		h.writeError(w, r, core.ErrSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *APIHandler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	h.svc.History.DeleteSession(r.Context(), chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

type UpdateTitleRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) UpdateTitleHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateTitleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Title == "" {
		http.Error(w, "Title cannot be empty", http.StatusBadRequest)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	if err := h.svc.History.UpdateSessionTitle(r.Context(), sessionID, req.Title); err != nil {
		h.writeError(w, r, err)
		return
	}
	session, _ := h.svc.History.Session(sessionID)
	writeJSON(w, http.StatusOK, session)
}

func (h *APIHandler) GetCurrentSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, ok := h.svc.History.CurrentSession()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type SetCurrentSessionRequest struct {
	ID string `json:"id"`
}

func (h *APIHandler) SetCurrentSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req SetCurrentSessionRequest
	if !decode(w, r, &req) {
		return
	}
	h.svc.History.SetCurrentSession(r.Context(), req.ID)
	w.WriteHeader(http.StatusNoContent)
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

// PostMessageHandler sends to the session in the URL, or to the current
// session when the route has none. A blocked send is a normal 200 response.
func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.svc.Chat.SendMessage(r.Context(), chi.URLParam(r, "sessionID"), req.Content)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away; nothing useful to write.
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
