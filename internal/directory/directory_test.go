package directory

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"github.com/brightpost/newsletter/internal/domain"
)

func setupDB(t *testing.T) (*Directory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func subscriberRows(subs ...*domain.Subscriber) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "email", "first_name", "last_name", "status", "source",
		"unsubscribe_token", "unsubscribed_at", "created_at", "updated_at",
	})
	for _, s := range subs {
		rows.AddRow(s.ID, s.Email, s.FirstName, s.LastName, s.Status, s.Source,
			s.UnsubscribeToken, s.UnsubscribedAt, s.CreatedAt, s.UpdatedAt)
	}
	return rows
}

func testSubscriber(email string) *domain.Subscriber {
	now := time.Now()
	return &domain.Subscriber{
		ID:               uuid.New(),
		Email:            email,
		FirstName:        "Ada",
		Status:           domain.SubscriberActive,
		UnsubscribeToken: "tok",
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Ada@Example.COM "); got != "ada@example.com" {
		t.Errorf("got %q", got)
	}
}

func TestGetOrCreate(t *testing.T) {
	dir, mock := setupDB(t)

	sub := testSubscriber("ada@example.com")
	mock.ExpectQuery(`INSERT INTO subscribers`).
		WithArgs(sqlmock.AnyArg(), "ada@example.com", "Ada", "Lovelace", "one_time", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(subscriberRows(sub))

	got, err := dir.GetOrCreate(context.Background(), " Ada@Example.com ", "Ada", "Lovelace", "one_time")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if got.ID != sub.ID || got.Email != "ada@example.com" {
		t.Errorf("got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetOrCreate_EmptyEmail(t *testing.T) {
	dir, _ := setupDB(t)
	if _, err := dir.GetOrCreate(context.Background(), "  ", "", "", "x"); err == nil {
		t.Fatal("expected error for empty email")
	}
}

func TestBatchGetOrCreate(t *testing.T) {
	dir, mock := setupDB(t)

	a := testSubscriber("a@example.com")
	b := testSubscriber("b@example.com")
	mock.ExpectQuery(`INSERT INTO subscribers`).
		WillReturnRows(subscriberRows(a, b))

	// Duplicate and empty entries collapse before the statement is built.
	out, err := dir.BatchGetOrCreate(context.Background(), []domain.ExternalRecipient{
		{Email: "a@example.com"},
		{Email: "A@EXAMPLE.COM"},
		{Email: ""},
		{Email: "b@example.com"},
	}, "campaign")
	if err != nil {
		t.Fatalf("BatchGetOrCreate: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("got %d entries, want 2", len(out))
	}
	if out["a@example.com"].ID != a.ID || out["b@example.com"].ID != b.ID {
		t.Error("result map not keyed by normalized email")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestBatchGetOrCreate_Empty(t *testing.T) {
	dir, _ := setupDB(t)
	out, err := dir.BatchGetOrCreate(context.Background(), nil, "campaign")
	if err != nil {
		t.Fatalf("BatchGetOrCreate: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d entries, want 0", len(out))
	}
}

func TestBatchGetByIDs(t *testing.T) {
	dir, mock := setupDB(t)

	known := testSubscriber("a@example.com")
	unknown := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM subscribers WHERE id = ANY\(\$1\)`).
		WillReturnRows(subscriberRows(known))

	out, err := dir.BatchGetByIDs(context.Background(), []uuid.UUID{known.ID, unknown})
	if err != nil {
		t.Fatalf("BatchGetByIDs: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d entries, want 1", len(out))
	}
	if out[known.ID] == nil {
		t.Error("known id missing from result")
	}
	if _, ok := out[unknown]; ok {
		t.Error("unknown id must be absent, not nil-valued")
	}
}

func TestGet_NotFound(t *testing.T) {
	dir, mock := setupDB(t)

	mock.ExpectQuery(`SELECT .* FROM subscribers WHERE id = \$1`).
		WillReturnError(sql.ErrNoRows)

	sub, err := dir.Get(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sub != nil {
		t.Errorf("got %+v, want nil", sub)
	}
}

func TestUnsubscribeByToken(t *testing.T) {
	dir, mock := setupDB(t)

	mock.ExpectExec(`UPDATE subscribers`).
		WithArgs("tok123").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := dir.UnsubscribeByToken(context.Background(), "tok123")
	if err != nil {
		t.Fatalf("UnsubscribeByToken: %v", err)
	}
	if !ok {
		t.Error("want true for a matched token")
	}
}

func TestUnsubscribeByToken_UnknownToken(t *testing.T) {
	dir, mock := setupDB(t)

	mock.ExpectExec(`UPDATE subscribers`).
		WithArgs("nope").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := dir.UnsubscribeByToken(context.Background(), "nope")
	if err != nil {
		t.Fatalf("UnsubscribeByToken: %v", err)
	}
	if ok {
		t.Error("want false for an unknown token")
	}
}
