// Package directory resolves recipient identities to subscriber rows.
//
// The directory has get-or-create semantics: a campaign send to a
// previously unknown external identity creates the subscriber on the spot
// so that unsubscribe links work even for ad-hoc sends. Batch variants
// exist so the enqueue engine can resolve a whole chunk in one round trip
// instead of one query per recipient.
package directory

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/brightpost/newsletter/internal/domain"
)

// Directory provides subscriber identity resolution backed by Postgres.
type Directory struct {
	db *sql.DB
}

// New creates a directory backed by the given database handle.
func New(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// NormalizeEmail lowercases and trims an email for comparison and storage.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// newUnsubscribeToken returns an opaque token assigned once per subscriber.
func newUnsubscribeToken() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b[:])
}

const subscriberColumns = `id, email, first_name, last_name, status, source, unsubscribe_token, unsubscribed_at, created_at, updated_at`

func scanSubscriber(row interface{ Scan(...any) error }) (*domain.Subscriber, error) {
	sub := &domain.Subscriber{}
	err := row.Scan(&sub.ID, &sub.Email, &sub.FirstName, &sub.LastName, &sub.Status,
		&sub.Source, &sub.UnsubscribeToken, &sub.UnsubscribedAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// GetOrCreate resolves a subscriber by email, creating an active row when
// none exists. An existing subscriber keeps its status and token; only the
// name fields are refreshed when the caller provides non-empty values.
func (d *Directory) GetOrCreate(ctx context.Context, email, firstName, lastName, source string) (*domain.Subscriber, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("empty email")
	}

	now := time.Now()
	row := d.db.QueryRowContext(ctx, `
		INSERT INTO subscribers (id, email, first_name, last_name, status, source, unsubscribe_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'active', $5, $6, $7, $7)
		ON CONFLICT (email) DO UPDATE SET
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), subscribers.first_name),
			last_name  = COALESCE(NULLIF(EXCLUDED.last_name, ''), subscribers.last_name),
			updated_at = NOW()
		RETURNING `+subscriberColumns,
		uuid.New(), email, firstName, lastName, source, newUnsubscribeToken(), now)

	return scanSubscriber(row)
}

// BatchGetOrCreate resolves a set of externally-sourced recipients in one
// statement. The result map is keyed by normalized email. Recipients with
// an empty email are silently absent from the result; the enqueue engine
// treats missing entries as unresolvable and drops them.
func (d *Directory) BatchGetOrCreate(ctx context.Context, recs []domain.ExternalRecipient, source string) (map[string]*domain.Subscriber, error) {
	out := make(map[string]*domain.Subscriber, len(recs))
	if len(recs) == 0 {
		return out, nil
	}

	// A single multi-row upsert cannot contain the same conflict key
	// twice, so collapse duplicates here as a safety net (the engine
	// dedupes before calling).
	seen := make(map[string]bool, len(recs))
	var values []string
	var args []interface{}
	now := time.Now()
	n := 1
	for _, rec := range recs {
		email := rec.EmailKey()
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d, 'active', $%d, $%d, $%d, $%d)",
			n, n+1, n+2, n+3, n+4, n+5, n+6, n+6))
		args = append(args, uuid.New(), email, rec.FirstName, rec.LastName, source, newUnsubscribeToken(), now)
		n += 7
	}
	if len(values) == 0 {
		return out, nil
	}

	query := `
		INSERT INTO subscribers (id, email, first_name, last_name, status, source, unsubscribe_token, created_at, updated_at)
		VALUES ` + strings.Join(values, ", ") + `
		ON CONFLICT (email) DO UPDATE SET
			first_name = COALESCE(NULLIF(EXCLUDED.first_name, ''), subscribers.first_name),
			last_name  = COALESCE(NULLIF(EXCLUDED.last_name, ''), subscribers.last_name),
			updated_at = NOW()
		RETURNING ` + subscriberColumns

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("batch get-or-create: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out[sub.Email] = sub
	}
	return out, rows.Err()
}

// BatchGetByIDs loads subscribers by their stable IDs. IDs that do not
// resolve are absent from the result map.
func (d *Directory) BatchGetByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Subscriber, error) {
	out := make(map[uuid.UUID]*domain.Subscriber, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = ANY($1)`, pq.Array(strIDs))
	if err != nil {
		return nil, fmt.Errorf("batch get by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		sub, err := scanSubscriber(rows)
		if err != nil {
			return nil, err
		}
		out[sub.ID] = sub
	}
	return out, rows.Err()
}

// Get loads one subscriber by ID. Returns nil when not found.
func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*domain.Subscriber, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+subscriberColumns+` FROM subscribers WHERE id = $1`, id)
	sub, err := scanSubscriber(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

// UnsubscribeByToken marks the owning subscriber unsubscribed. Returns
// false when the token matches no subscriber.
func (d *Directory) UnsubscribeByToken(ctx context.Context, token string) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE subscribers
		SET status = 'unsubscribed', unsubscribed_at = NOW(), updated_at = NOW()
		WHERE unsubscribe_token = $1 AND status != 'unsubscribed'
	`, token)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
