package dispatch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/brightpost/newsletter/internal/dispatch"
	"github.com/brightpost/newsletter/internal/domain"
	"github.com/brightpost/newsletter/internal/mailer"
	"github.com/brightpost/newsletter/internal/pkg/distlock"
	"github.com/brightpost/newsletter/internal/render"
)

type sentCall struct {
	id        uuid.UUID
	attempts  int
	messageID string
}

type reschedCall struct {
	id       uuid.UUID
	attempts int
	nextAt   time.Time
	errMsg   string
}

type failCall struct {
	id       uuid.UUID
	attempts int
	errMsg   string
}

// fakeStore is an in-memory dispatch store with scriptable behavior.
type fakeStore struct {
	mu sync.Mutex

	due      []dispatch.DueItem
	attempts map[uuid.UUID]int // pre-claim attempt counts

	claimOK  bool // MarkProcessing outcome
	applySet bool // outcome-write guard result

	recoverStale time.Duration
	recoverMax   int
	requeued     int64
	deadEnded    int64

	sent    []sentCall
	resched []reschedCall
	failed  []failCall
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attempts: make(map[uuid.UUID]int),
		claimOK:  true,
		applySet: true,
	}
}

func (f *fakeStore) addDue(attempts int) uuid.UUID {
	item := domain.QueueItem{
		ID:           uuid.New(),
		CampaignID:   uuid.New(),
		SubscriberID: uuid.New(),
		Subject:      "Hello {first_name}",
		Body:         "<p>Hi {{ first_name }}</p>",
		Status:       domain.QueuePending,
	}
	f.due = append(f.due, dispatch.DueItem{
		Item:             item,
		Email:            "ada@example.com",
		FirstName:        "Ada",
		LastName:         "Lovelace",
		UnsubscribeToken: "tok123",
		FromName:         "The Letter",
		FromEmail:        "news@example.com",
	})
	f.attempts[item.ID] = attempts
	return item.ID
}

func (f *fakeStore) RecoverStuck(_ context.Context, staleAge time.Duration, maxAttempts int) (int64, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recoverStale = staleAge
	f.recoverMax = maxAttempts
	return f.requeued, f.deadEnded, nil
}

func (f *fakeStore) DueItems(_ context.Context, limit int) ([]dispatch.DueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeStore) MarkProcessing(_ context.Context, id uuid.UUID) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.claimOK {
		return 0, false, nil
	}
	f.attempts[id]++
	return f.attempts[id], true, nil
}

func (f *fakeStore) MarkSent(_ context.Context, id uuid.UUID, attempts int, messageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.applySet {
		return false, nil
	}
	f.sent = append(f.sent, sentCall{id, attempts, messageID})
	return true, nil
}

func (f *fakeStore) Reschedule(_ context.Context, id uuid.UUID, attempts int, nextAt time.Time, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.applySet {
		return false, nil
	}
	f.resched = append(f.resched, reschedCall{id, attempts, nextAt, errMsg})
	return true, nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, attempts int, errMsg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.applySet {
		return false, nil
	}
	f.failed = append(f.failed, failCall{id, attempts, errMsg})
	return true, nil
}

// fakeMailer records messages and returns a scripted outcome.
type fakeMailer struct {
	mu         sync.Mutex
	configured bool
	sendErr    error
	result     *mailer.SendResult
	messages   []*mailer.Message
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{
		configured: true,
		result:     &mailer.SendResult{Success: true, MessageID: "msg-1"},
	}
}

func (f *fakeMailer) Send(_ context.Context, msg *mailer.Message) (*mailer.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.result, nil
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func newDispatcher(store *fakeStore, mail *fakeMailer, cfg dispatch.Config) *dispatch.Dispatcher {
	return dispatch.New(store, mail, render.NewRenderer(), cfg)
}

func TestTick_UnconfiguredMailerAborts(t *testing.T) {
	store := newFakeStore()
	store.addDue(0)
	mail := newFakeMailer()
	mail.configured = false

	d := newDispatcher(store, mail, dispatch.Config{})

	_, err := d.Tick(context.Background())
	if !errors.Is(err, dispatch.ErrMailerNotConfigured) {
		t.Fatalf("expected ErrMailerNotConfigured, got %v", err)
	}
	if store.recoverMax != 0 {
		t.Error("recovery must not run when the mailer is unconfigured")
	}
	if len(mail.messages) != 0 {
		t.Error("no sends should be attempted")
	}
}

func TestTick_SendSuccess(t *testing.T) {
	store := newFakeStore()
	id := store.addDue(0)
	mail := newFakeMailer()

	d := newDispatcher(store, mail, dispatch.Config{UnsubscribeBaseURL: "https://news.example.com"})

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if stats.Attempted != 1 || stats.Sent != 1 {
		t.Errorf("stats = %+v, want 1 attempted / 1 sent", stats)
	}
	if len(store.sent) != 1 {
		t.Fatalf("MarkSent calls = %d, want 1", len(store.sent))
	}
	if store.sent[0].id != id || store.sent[0].attempts != 1 {
		t.Errorf("MarkSent call = %+v, want id=%s attempts=1", store.sent[0], id)
	}
	if store.sent[0].messageID != "msg-1" {
		t.Errorf("messageID = %q, want msg-1", store.sent[0].messageID)
	}

	msg := mail.messages[0]
	if msg.Subject != "Hello Ada" {
		t.Errorf("subject = %q, placeholders not expanded", msg.Subject)
	}
	if !strings.Contains(msg.HTMLBody, "Hi Ada") {
		t.Errorf("body = %q, placeholders not expanded", msg.HTMLBody)
	}
	if got := msg.Headers["List-Unsubscribe"]; got != "<https://news.example.com/unsubscribe/tok123>" {
		t.Errorf("List-Unsubscribe = %q", got)
	}
}

func TestTick_RetryUsesLinearBackoff(t *testing.T) {
	store := newFakeStore()
	id := store.addDue(0)
	mail := newFakeMailer()
	mail.sendErr = errors.New("connection refused")

	cfg := dispatch.Config{BackoffStep: 2 * time.Minute, MaxAttempts: 3}
	d := newDispatcher(store, mail, cfg)

	before := time.Now()
	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if stats.Retried != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 1 retried", stats)
	}
	if len(store.resched) != 1 {
		t.Fatalf("Reschedule calls = %d, want 1", len(store.resched))
	}
	call := store.resched[0]
	if call.id != id || call.attempts != 1 {
		t.Errorf("Reschedule call = %+v", call)
	}

	// First failure waits 1×step.
	wantAt := before.Add(2 * time.Minute)
	if call.nextAt.Before(wantAt) || call.nextAt.After(wantAt.Add(5*time.Second)) {
		t.Errorf("nextAt = %v, want ~%v", call.nextAt, wantAt)
	}
	if !strings.Contains(call.errMsg, "attempt 1 failed") || !strings.Contains(call.errMsg, "connection refused") {
		t.Errorf("errMsg = %q", call.errMsg)
	}

	// Second failure waits 2×step.
	store.resched = nil
	before = time.Now()
	if _, err := d.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	call = store.resched[0]
	if call.attempts != 2 {
		t.Fatalf("second tick attempts = %d, want 2", call.attempts)
	}
	wantAt = before.Add(4 * time.Minute)
	if call.nextAt.Before(wantAt) || call.nextAt.After(wantAt.Add(5*time.Second)) {
		t.Errorf("second nextAt = %v, want ~%v", call.nextAt, wantAt)
	}
}

func TestTick_MaxAttemptsIsTerminal(t *testing.T) {
	store := newFakeStore()
	id := store.addDue(2) // claim will make this attempt 3 of 3
	mail := newFakeMailer()
	mail.sendErr = errors.New("550 rejected")

	d := newDispatcher(store, mail, dispatch.Config{MaxAttempts: 3})

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if stats.Failed != 1 || stats.Retried != 0 {
		t.Errorf("stats = %+v, want 1 failed", stats)
	}
	if len(store.failed) != 1 {
		t.Fatalf("MarkFailed calls = %d, want 1", len(store.failed))
	}
	call := store.failed[0]
	if call.id != id || call.attempts != 3 {
		t.Errorf("MarkFailed call = %+v", call)
	}
	if !strings.Contains(call.errMsg, "failed after 3 attempts") {
		t.Errorf("errMsg = %q", call.errMsg)
	}
}

func TestTick_TransportReportedFailure(t *testing.T) {
	store := newFakeStore()
	store.addDue(0)
	mail := newFakeMailer()
	mail.result = &mailer.SendResult{Success: false, ErrorDetail: "recipient rejected"}

	d := newDispatcher(store, mail, dispatch.Config{})

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Retried != 1 {
		t.Errorf("stats = %+v, want 1 retried", stats)
	}
	if !strings.Contains(store.resched[0].errMsg, "recipient rejected") {
		t.Errorf("errMsg = %q", store.resched[0].errMsg)
	}
}

func TestTick_LostClaimIsSkipped(t *testing.T) {
	store := newFakeStore()
	store.addDue(0)
	store.claimOK = false
	mail := newFakeMailer()

	d := newDispatcher(store, mail, dispatch.Config{})

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Attempted != 0 {
		t.Errorf("stats = %+v, want nothing attempted", stats)
	}
	if len(mail.messages) != 0 {
		t.Error("a lost claim must not send")
	}
}

func TestTick_OutcomeDiscardedOnConcurrentCancel(t *testing.T) {
	store := newFakeStore()
	store.addDue(0)
	store.applySet = false // guard rejects the outcome write
	mail := newFakeMailer()

	d := newDispatcher(store, mail, dispatch.Config{})

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Discarded != 1 || stats.Sent != 0 {
		t.Errorf("stats = %+v, want 1 discarded / 0 sent", stats)
	}
}

func TestTick_RecoveryRunsFirstWithConfiguredBounds(t *testing.T) {
	store := newFakeStore()
	store.requeued = 2
	store.deadEnded = 1
	mail := newFakeMailer()

	d := newDispatcher(store, mail, dispatch.Config{
		StuckTimeout: 7 * time.Minute,
		MaxAttempts:  4,
	})

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if store.recoverStale != 7*time.Minute || store.recoverMax != 4 {
		t.Errorf("recovery bounds = (%v, %d), want (7m, 4)", store.recoverStale, store.recoverMax)
	}
	if stats.Requeued != 2 || stats.DeadEnded != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTick_BatchSizeBoundsSelection(t *testing.T) {
	store := newFakeStore()
	for i := 0; i < 5; i++ {
		store.addDue(0)
	}
	mail := newFakeMailer()

	d := newDispatcher(store, mail, dispatch.Config{BatchSize: 3})

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Attempted != 3 {
		t.Errorf("attempted = %d, want 3", stats.Attempted)
	}
}

func TestTick_SkipsWhenAnotherWorkerHoldsLock(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	ctx := context.Background()
	other := distlock.NewRedisLock(rdb, "dispatch:tick", time.Minute)
	held, err := other.Acquire(ctx)
	if err != nil || !held {
		t.Fatalf("pre-acquire lock: (%v, %v)", held, err)
	}

	store := newFakeStore()
	store.addDue(0)
	mail := newFakeMailer()

	d := newDispatcher(store, mail, dispatch.Config{})
	d.SetTickLock(distlock.NewRedisLock(rdb, "dispatch:tick", time.Minute))

	stats, err := d.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Attempted != 0 || len(mail.messages) != 0 {
		t.Errorf("a held lock must skip the tick entirely, stats = %+v", stats)
	}

	// Released lock frees the next tick.
	if err := other.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	stats, err = d.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Attempted != 1 {
		t.Errorf("attempted = %d after release, want 1", stats.Attempted)
	}
}

func TestTick_HourlyLimitDefersRemainder(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	store := newFakeStore()
	store.addDue(0)
	store.addDue(0)
	store.addDue(0)
	mail := newFakeMailer()

	d := newDispatcher(store, mail, dispatch.Config{})
	d.SetRateLimiter(dispatch.NewRateLimiter(rdb, 2))

	stats, err := d.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if stats.Attempted != 2 {
		t.Errorf("attempted = %d, want limit of 2", stats.Attempted)
	}
	if stats.Sent != 2 {
		t.Errorf("sent = %d, want 2", stats.Sent)
	}
}
