package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HandleUnsubscribe flips a subscriber to unsubscribed by token and renders
// a minimal confirmation page. The link lands in inboxes, so the response
// is HTML rather than JSON.
//
//	GET /unsubscribe/{token}
func (h *Handlers) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		http.Error(w, "missing token", http.StatusBadRequest)
		return
	}

	ok, err := h.directory.UnsubscribeByToken(r.Context(), token)
	if err != nil {
		http.Error(w, "something went wrong, please try again later", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "unknown unsubscribe link", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:sans-serif;text-align:center;margin-top:4em">
<h2>You have been unsubscribed</h2>
<p>You will no longer receive emails from this list.</p>
</body></html>`))
}
