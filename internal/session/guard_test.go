package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/quizrace/internal/domain"
)

type fakeMarkerStore struct {
	markers map[string]domain.SecurityMarkers
}

func newFakeMarkerStore() *fakeMarkerStore {
	return &fakeMarkerStore{markers: make(map[string]domain.SecurityMarkers)}
}

func (s *fakeMarkerStore) SaveMarkers(_ context.Context, m domain.SecurityMarkers, _ time.Duration) error {
	s.markers[m.SessionID] = m
	return nil
}

func (s *fakeMarkerStore) Markers(_ context.Context, sessionID string) (*domain.SecurityMarkers, error) {
	m, ok := s.markers[sessionID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *fakeMarkerStore) TouchMarkers(_ context.Context, sessionID string, at time.Time, _ time.Duration) error {
	m, ok := s.markers[sessionID]
	if !ok {
		return nil
	}
	m.LastActivity = at
	s.markers[sessionID] = m
	return nil
}

func (s *fakeMarkerStore) DestroyMarkers(_ context.Context, sessionID string) error {
	delete(s.markers, sessionID)
	return nil
}

type fakeSecurityLog struct {
	events       []domain.SecurityEvent
	fingerprints []string
}

func (l *fakeSecurityLog) RecordSecurityEvent(_ context.Context, ev domain.SecurityEvent) error {
	l.events = append(l.events, ev)
	return nil
}

func (l *fakeSecurityLog) RecentInitFingerprints(_ context.Context, _ string, _ time.Time) ([]string, error) {
	return l.fingerprints, nil
}

func (l *fakeSecurityLog) eventsOfType(eventType string) []domain.SecurityEvent {
	var out []domain.SecurityEvent
	for _, ev := range l.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testRequestContext(sessionID string) RequestContext {
	return RequestContext{
		SessionID:      sessionID,
		UserAgent:      "Mozilla/5.0 (test)",
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, deflate",
		Accept:         "application/json",
		IP:             "203.0.113.10",
		ServerName:     "quiz.example.com",
		ServerPort:     "443",
	}
}

func newTestGuard(store MarkerStore, log SecurityLog, at time.Time) *Guard {
	g := NewGuard(store, log, nil, 1800*time.Second, time.Hour, testLogger())
	g.SetClock(func() time.Time { return at })
	return g
}

func TestFingerprintDeterministic(t *testing.T) {
	rc := testRequestContext("s1")
	fp1 := Fingerprint(rc)
	fp2 := Fingerprint(rc)
	if fp1 != fp2 {
		t.Error("same attributes must yield the same fingerprint")
	}
	if len(fp1) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(fp1))
	}

	rc.UserAgent = "curl/8.0"
	if Fingerprint(rc) == fp1 {
		t.Error("different user agent must change the fingerprint")
	}
}

func TestFingerprintMissingAttributes(t *testing.T) {
	rc := RequestContext{SessionID: "s1"}
	fp1 := Fingerprint(rc)
	fp2 := Fingerprint(rc)
	if fp1 != fp2 {
		t.Error("all-empty attributes must still hash stably")
	}
}

func TestInitializeAndValidate(t *testing.T) {
	store := newFakeMarkerStore()
	log := &fakeSecurityLog{}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	guard := newTestGuard(store, log, now)

	ctx := context.Background()
	rc := testRequestContext("s1")

	fp, err := guard.Initialize(ctx, rc, "user@example.com")
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if fp != Fingerprint(rc) {
		t.Error("Initialize must return the canonical fingerprint")
	}
	if len(log.eventsOfType(domain.SecurityEventSessionInit)) != 1 {
		t.Error("session init event not recorded")
	}

	if err := guard.ValidateContinuity(ctx, rc, nil); err != nil {
		t.Fatalf("ValidateContinuity: %v", err)
	}
}

func TestValidateContinuityNoSession(t *testing.T) {
	store := newFakeMarkerStore()
	guard := newTestGuard(store, &fakeSecurityLog{}, time.Now())

	rc := testRequestContext("")
	if err := guard.ValidateContinuity(context.Background(), rc, nil); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("empty session = %v, want ErrUnauthenticated", err)
	}

	rc = testRequestContext("unknown")
	if err := guard.ValidateContinuity(context.Background(), rc, nil); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("unknown session = %v, want ErrUnauthenticated", err)
	}
}

func TestValidateContinuityExpiry(t *testing.T) {
	store := newFakeMarkerStore()
	log := &fakeSecurityLog{}
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	guard := newTestGuard(store, log, start)

	ctx := context.Background()
	rc := testRequestContext("s1")
	if _, err := guard.Initialize(ctx, rc, "user@example.com"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// 1801 seconds of inactivity is past the 1800s timeout
	guard.SetClock(func() time.Time { return start.Add(1801 * time.Second) })

	if err := guard.ValidateContinuity(ctx, rc, nil); !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("expired session = %v, want ErrSessionExpired", err)
	}
	if len(log.eventsOfType(domain.SecurityEventSessionExpired)) != 1 {
		t.Error("expiry event not recorded")
	}

	// Markers destroyed: a retry is unauthenticated, not expired
	if err := guard.ValidateContinuity(ctx, rc, nil); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Errorf("retry after expiry = %v, want ErrUnauthenticated", err)
	}
}

func TestValidateContinuityActivityRefresh(t *testing.T) {
	store := newFakeMarkerStore()
	start := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	guard := newTestGuard(store, &fakeSecurityLog{}, start)

	ctx := context.Background()
	rc := testRequestContext("s1")
	if _, err := guard.Initialize(ctx, rc, "user@example.com"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Touch at 1500s, then validate at 3000s: only 1500s idle
	guard.SetClock(func() time.Time { return start.Add(1500 * time.Second) })
	if err := guard.ValidateContinuity(ctx, rc, nil); err != nil {
		t.Fatalf("ValidateContinuity at 1500s: %v", err)
	}

	guard.SetClock(func() time.Time { return start.Add(3000 * time.Second) })
	if err := guard.ValidateContinuity(ctx, rc, nil); err != nil {
		t.Fatalf("ValidateContinuity at 3000s: %v", err)
	}
}

func TestValidateContinuityFingerprintMismatch(t *testing.T) {
	store := newFakeMarkerStore()
	log := &fakeSecurityLog{}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	guard := newTestGuard(store, log, now)

	ctx := context.Background()
	rc := testRequestContext("s1")
	if _, err := guard.Initialize(ctx, rc, "user@example.com"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Same IP and UA but a different accept header shifts the digest
	tampered := rc
	tampered.AcceptLanguage = "fr-FR"

	p := &domain.Participant{ID: "p1", State: domain.StateInProgress, SessionID: "s1", DeviceFingerprint: Fingerprint(rc)}
	err := guard.ValidateContinuity(ctx, tampered, p)
	if !errors.Is(err, domain.ErrDeviceMismatch) {
		t.Fatalf("tampered request = %v, want ErrDeviceMismatch", err)
	}
	if len(log.eventsOfType(domain.SecurityEventFingerprintMismatch)) != 1 {
		t.Error("fingerprint mismatch event not recorded")
	}
	// Validation must not mutate game state
	if p.State != domain.StateInProgress {
		t.Error("participant state must not change on a continuity violation")
	}
}

func TestValidateContinuityIPChange(t *testing.T) {
	store := newFakeMarkerStore()
	log := &fakeSecurityLog{}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	guard := newTestGuard(store, log, now)

	ctx := context.Background()
	rc := testRequestContext("s1")
	if _, err := guard.Initialize(ctx, rc, "user@example.com"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	moved := rc
	moved.IP = "198.51.100.7"

	// The IP participates in the fingerprint, so the digest check fires
	// first; either way the request is refused
	err := guard.ValidateContinuity(ctx, moved, nil)
	if !errors.Is(err, domain.ErrDeviceMismatch) && !errors.Is(err, domain.ErrSessionHijack) {
		t.Fatalf("changed IP = %v, want a continuity violation", err)
	}
	if len(log.events) == 0 {
		t.Error("violation not recorded")
	}
}

func TestValidateContinuityStolenCookie(t *testing.T) {
	store := newFakeMarkerStore()
	log := &fakeSecurityLog{}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	guard := newTestGuard(store, log, now)

	ctx := context.Background()
	rc := testRequestContext("s1")
	if _, err := guard.Initialize(ctx, rc, "user@example.com"); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	// Request matches the markers but the participant is bound to a
	// different session
	p := &domain.Participant{ID: "p1", State: domain.StateInProgress, SessionID: "other", DeviceFingerprint: Fingerprint(rc)}
	if err := guard.ValidateContinuity(ctx, rc, p); !errors.Is(err, domain.ErrSessionHijack) {
		t.Errorf("session cross-check = %v, want ErrSessionHijack", err)
	}
}

func TestDetectCrossDevice(t *testing.T) {
	store := newFakeMarkerStore()
	log := &fakeSecurityLog{}
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	guard := newTestGuard(store, log, now)

	ctx := context.Background()
	rc := testRequestContext("s2")
	current := Fingerprint(rc)

	// Only the same fingerprint in the window: no violation
	log.fingerprints = []string{current}
	if err := guard.DetectCrossDevice(ctx, rc, "user@example.com", current); err != nil {
		t.Fatalf("same device = %v, want nil", err)
	}

	// A different device initialized a session within the window
	log.fingerprints = []string{current, "other-device-fingerprint"}
	if err := guard.DetectCrossDevice(ctx, rc, "user@example.com", current); !errors.Is(err, domain.ErrCrossDevice) {
		t.Errorf("cross device = %v, want ErrCrossDevice", err)
	}
	if len(log.eventsOfType(domain.SecurityEventCrossDevice)) != 1 {
		t.Error("cross-device event not recorded")
	}
}
