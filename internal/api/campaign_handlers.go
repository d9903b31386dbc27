package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/brightpost/newsletter/internal/domain"
	"github.com/brightpost/newsletter/internal/engine"
	"github.com/brightpost/newsletter/internal/repository/postgres"
)

// recipientPayload accepts either a known subscriber reference or a raw
// externally-sourced record.
type recipientPayload struct {
	SubscriberID string `json:"subscriber_id,omitempty"`
	ID           string `json:"id,omitempty"`
	Email        string `json:"email,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
}

type createCampaignRequest struct {
	Subject     string             `json:"subject"`
	Body        string             `json:"body"`
	FromName    string             `json:"from_name"`
	FromEmail   string             `json:"from_email"`
	BCC         string             `json:"bcc"`
	ListIDs     []string           `json:"list_ids"`
	Recipients  []recipientPayload `json:"recipients"`
	ScheduledAt *time.Time         `json:"scheduled_at"`
}

// HandleCreateCampaign validates and enqueues a campaign.
//
//	POST /api/campaigns
func (h *Handlers) HandleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	recipients := make([]domain.Recipient, 0, len(req.Recipients))
	for _, p := range req.Recipients {
		if p.SubscriberID != "" {
			id, err := uuid.Parse(p.SubscriberID)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid subscriber_id: "+p.SubscriberID)
				return
			}
			recipients = append(recipients, domain.InternalRecipient{SubscriberID: id})
			continue
		}
		recipients = append(recipients, domain.ExternalRecipient{
			SyntheticID: p.ID,
			Email:       p.Email,
			FirstName:   p.FirstName,
			LastName:    p.LastName,
		})
	}

	if h.lists != nil {
		for _, listRef := range req.ListIDs {
			resolved, err := engine.ResolveExternalList(r.Context(), h.lists, listRef)
			if err != nil {
				respondError(w, http.StatusBadGateway, "failed to resolve list "+listRef)
				return
			}
			recipients = append(recipients, resolved...)
		}
	}

	in := engine.CampaignInput{
		Subject:    req.Subject,
		Body:       req.Body,
		FromName:   req.FromName,
		FromEmail:  req.FromEmail,
		BCC:        req.BCC,
		ListIDs:    req.ListIDs,
		Recipients: recipients,
	}
	if req.ScheduledAt != nil {
		in.ScheduledAt = *req.ScheduledAt
	}

	result, err := h.engine.QueueCampaign(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptySubject),
			errors.Is(err, engine.ErrEmptyBody),
			errors.Is(err, engine.ErrNoRecipients):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "failed to queue campaign")
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"campaign_id":      result.CampaignID,
		"total_recipients": result.TotalRecipients,
		"queued":           result.Queued,
	})
}

// HandleListCampaigns lists campaigns newest first, optionally filtered by
// status.
//
//	GET /api/campaigns?status=&limit=&offset=
func (h *Handlers) HandleListCampaigns(w http.ResponseWriter, r *http.Request) {
	f := postgres.CampaignFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  queryInt(r, "limit"),
		Offset: queryInt(r, "offset"),
	}

	campaigns, total, err := h.store.ListCampaigns(r.Context(), f)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"total":     total,
	})
}

// HandleGetCampaign returns one campaign with its per-status queue counts.
//
//	GET /api/campaigns/{id}
func (h *Handlers) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	c, err := h.store.GetCampaign(r.Context(), id)
	if errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, "campaign not found")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load campaign")
		return
	}

	counts, err := h.store.CampaignQueueCounts(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load queue counts")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign":     c,
		"queue_counts": counts,
	})
}

// HandleCancelCampaign cancels a campaign and all of its in-flight items.
//
//	POST /api/campaigns/{id}/cancel
func (h *Handlers) HandleCancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	cancelled, err := h.store.CancelCampaign(r.Context(), id)
	switch {
	case errors.Is(err, postgres.ErrNotFound):
		respondError(w, http.StatusNotFound, "campaign not found")
	case errors.Is(err, postgres.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "campaign already finished")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to cancel campaign")
	default:
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"campaign_id":     id,
			"items_cancelled": cancelled,
		})
	}
}

// HandleCompleteCampaign marks a drained campaign completed.
//
//	POST /api/campaigns/{id}/complete
func (h *Handlers) HandleCompleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	err := h.store.MarkCampaignCompleted(r.Context(), id, time.Now())
	switch {
	case errors.Is(err, postgres.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "campaign already finished")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to complete campaign")
	default:
		respondJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}
