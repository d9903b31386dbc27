// Package lists resolves externally-hosted recipient lists over HTTP.
package lists

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"context"

	"github.com/brightpost/newsletter/internal/domain"
	"github.com/brightpost/newsletter/internal/pkg/httpretry"
)

// HTTPProvider fetches list members from a remote list service. It
// implements engine.ListProvider. Transient upstream failures are retried
// with backoff before the enqueue gives up on the list.
type HTTPProvider struct {
	baseURL string
	client  httpretry.HTTPDoer
}

// NewHTTPProvider creates a provider for the given list service base URL.
// A nil client gets a retrying default.
func NewHTTPProvider(baseURL string, client httpretry.HTTPDoer) *HTTPProvider {
	if client == nil {
		client = httpretry.NewRetryClient(nil, 3)
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// member is the wire shape the list service returns per recipient.
type member struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// ResolveRecipients fetches the current members of one list.
func (p *HTTPProvider) ResolveRecipients(ctx context.Context, listRef string) ([]domain.ExternalRecipient, error) {
	endpoint := fmt.Sprintf("%s/lists/%s/recipients", p.baseURL, url.PathEscape(listRef))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch list %s: %w", listRef, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch list %s: status %d", listRef, resp.StatusCode)
	}

	var members []member
	if err := json.NewDecoder(resp.Body).Decode(&members); err != nil {
		return nil, fmt.Errorf("decode list %s: %w", listRef, err)
	}

	out := make([]domain.ExternalRecipient, 0, len(members))
	for _, m := range members {
		if strings.TrimSpace(m.Email) == "" {
			continue
		}
		out = append(out, domain.ExternalRecipient{
			SyntheticID: m.ID,
			Email:       m.Email,
			FirstName:   m.FirstName,
			LastName:    m.LastName,
		})
	}
	return out, nil
}
