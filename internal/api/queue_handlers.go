package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/brightpost/newsletter/internal/engine"
	"github.com/brightpost/newsletter/internal/repository/postgres"
)

// HandleListQueueItems lists a campaign's queue items, oldest due first.
//
//	GET /api/campaigns/{id}/queue?status=&limit=&offset=
func (h *Handlers) HandleListQueueItems(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	items, total, err := h.store.ListQueueItems(r.Context(), postgres.QueueFilter{
		CampaignID: id,
		Status:     r.URL.Query().Get("status"),
		Limit:      queryInt(r, "limit"),
		Offset:     queryInt(r, "offset"),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list queue items")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": total,
	})
}

// HandleCancelQueueItem cancels a single queued item.
//
//	POST /api/queue/{id}/cancel
func (h *Handlers) HandleCancelQueueItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	err := h.store.CancelQueueItem(r.Context(), id)
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		respondError(w, http.StatusNotFound, "queue item not found")
	case errors.Is(err, postgres.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "queue item already finished")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to cancel queue item")
	default:
		respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	}
}

type oneTimeRequest struct {
	Email       string     `json:"email"`
	FirstName   string     `json:"first_name"`
	LastName    string     `json:"last_name"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	FromName    string     `json:"from_name"`
	FromEmail   string     `json:"from_email"`
	ScheduledAt *time.Time `json:"scheduled_at"`
}

// HandleOneTimeSend queues a single transactional-style email for the
// dispatcher to pick up.
//
//	POST /api/send
func (h *Handlers) HandleOneTimeSend(w http.ResponseWriter, r *http.Request) {
	var req oneTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}

	in := engine.OneTimeInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Subject:   req.Subject,
		Body:      req.Body,
		FromName:  req.FromName,
		FromEmail: req.FromEmail,
	}
	if req.ScheduledAt != nil {
		in.ScheduledAt = *req.ScheduledAt
	}

	itemID, err := h.engine.QueueOneTime(r.Context(), in)
	switch {
	case errors.Is(err, engine.ErrEmptySubject), errors.Is(err, engine.ErrEmptyBody):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrUnsubscribed):
		respondError(w, http.StatusConflict, "recipient has unsubscribed")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to queue send")
	default:
		respondJSON(w, http.StatusCreated, map[string]interface{}{"queue_item_id": itemID})
	}
}
