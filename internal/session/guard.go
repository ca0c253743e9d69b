package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quizrace/internal/domain"
)

// RequestContext carries the request attributes the fingerprint is
// derived from. Built once per request by the HTTP layer and passed
// explicitly into every sensitive operation.
type RequestContext struct {
	SessionID         string
	UserAgent         string
	AcceptLanguage    string
	AcceptEncoding    string
	Accept            string
	IP                string
	ServerName        string
	ServerPort        string
	ClientFingerprint string
}

// FromRequest extracts a RequestContext from an HTTP request. The
// client may supply a secondary fingerprint collected locally via the
// X-Client-Fingerprint header.
func FromRequest(r *http.Request, sessionID string) RequestContext {
	host, port, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
		port = "80"
	}
	return RequestContext{
		SessionID:         sessionID,
		UserAgent:         r.UserAgent(),
		AcceptLanguage:    r.Header.Get("Accept-Language"),
		AcceptEncoding:    r.Header.Get("Accept-Encoding"),
		Accept:            r.Header.Get("Accept"),
		IP:                clientIP(r),
		ServerName:        host,
		ServerPort:        port,
		ClientFingerprint: r.Header.Get("X-Client-Fingerprint"),
	}
}

// clientIP returns the remote address without the port. The chi RealIP
// middleware has already resolved forwarding headers upstream.
func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Fingerprint computes the deterministic device fingerprint: a sha256
// digest over the canonical concatenation of request attributes.
// Missing attributes hash as empty strings so the digest stays stable.
func Fingerprint(rc RequestContext) string {
	canonical := strings.Join([]string{
		rc.UserAgent,
		rc.AcceptLanguage,
		rc.AcceptEncoding,
		rc.Accept,
		rc.IP,
		rc.ServerName,
		rc.ServerPort,
		rc.ClientFingerprint,
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// MarkerStore persists per-session security markers
type MarkerStore interface {
	SaveMarkers(ctx context.Context, m domain.SecurityMarkers, ttl time.Duration) error
	Markers(ctx context.Context, sessionID string) (*domain.SecurityMarkers, error)
	TouchMarkers(ctx context.Context, sessionID string, at time.Time, ttl time.Duration) error
	DestroyMarkers(ctx context.Context, sessionID string) error
}

// SecurityLog persists security events and answers the cross-device
// lookback query
type SecurityLog interface {
	RecordSecurityEvent(ctx context.Context, ev domain.SecurityEvent) error
	RecentInitFingerprints(ctx context.Context, userEmail string, since time.Time) ([]string, error)
}

// EventSink receives fire-and-forget event emissions
type EventSink interface {
	Emit(ev domain.GameEvent)
}

// Guard binds a session to one device fingerprint and validates
// continuity on every sensitive call
type Guard struct {
	store    MarkerStore
	log      SecurityLog
	events   EventSink
	timeout  time.Duration
	lookback time.Duration
	clock    func() time.Time
	logger   *slog.Logger
}

// NewGuard creates a session guard. A nil events sink disables Kafka
// emission; the Postgres security log is always written.
func NewGuard(store MarkerStore, log SecurityLog, events EventSink, timeout, lookback time.Duration, logger *slog.Logger) *Guard {
	return &Guard{
		store:    store,
		log:      log,
		events:   events,
		timeout:  timeout,
		lookback: lookback,
		clock:    time.Now,
		logger:   logger,
	}
}

// SetClock overrides the time source, for tests
func (g *Guard) SetClock(clock func() time.Time) {
	g.clock = clock
}

// Initialize computes the device fingerprint for a new session, stores
// the security markers and records the initialization event used by
// cross-device detection.
func (g *Guard) Initialize(ctx context.Context, rc RequestContext, userEmail string) (string, error) {
	if rc.SessionID == "" {
		return "", domain.ErrUnauthenticated
	}

	now := g.clock()
	fingerprint := Fingerprint(rc)

	markers := domain.SecurityMarkers{
		SessionID:    rc.SessionID,
		UserEmail:    userEmail,
		IP:           rc.IP,
		UserAgent:    rc.UserAgent,
		Fingerprint:  fingerprint,
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := g.store.SaveMarkers(ctx, markers, g.timeout); err != nil {
		return "", fmt.Errorf("saving security markers: %w", err)
	}

	ev := domain.SecurityEvent{
		ID:          uuid.New().String(),
		Type:        domain.SecurityEventSessionInit,
		UserEmail:   userEmail,
		SessionID:   rc.SessionID,
		Fingerprint: fingerprint,
		IP:          rc.IP,
		UserAgent:   rc.UserAgent,
		CreatedAt:   now,
	}
	if err := g.log.RecordSecurityEvent(ctx, ev); err != nil {
		return "", fmt.Errorf("recording session init: %w", err)
	}

	return fingerprint, nil
}

// ValidateContinuity re-derives the fingerprint from the current
// request and compares it, the IP and the user agent against the
// stored markers. When a participant is supplied, the fingerprint and
// session id are additionally cross-checked against the participant
// record, which defends against a stolen session cookie replayed with
// a matching fingerprint. Violations are fully logged before any
// response is returned; on success the last-activity time refreshes.
// No game state is mutated here.
func (g *Guard) ValidateContinuity(ctx context.Context, rc RequestContext, p *domain.Participant) error {
	if rc.SessionID == "" {
		return domain.ErrUnauthenticated
	}

	markers, err := g.store.Markers(ctx, rc.SessionID)
	if err != nil {
		return err
	}
	if markers == nil {
		return domain.ErrUnauthenticated
	}

	now := g.clock()
	if now.Sub(markers.LastActivity) > g.timeout {
		g.recordViolation(ctx, domain.SecurityEventSessionExpired, markers.UserEmail, "", rc,
			markers.LastActivity.Format(time.RFC3339), now.Format(time.RFC3339))
		if err := g.store.DestroyMarkers(ctx, rc.SessionID); err != nil {
			g.logger.Warn("failed to destroy expired session", "session_id", rc.SessionID, "error", err)
		}
		return domain.ErrSessionExpired
	}

	current := Fingerprint(rc)
	participantID := ""
	if p != nil {
		participantID = p.ID
	}

	if current != markers.Fingerprint {
		g.recordViolation(ctx, domain.SecurityEventFingerprintMismatch, markers.UserEmail, participantID, rc,
			markers.Fingerprint, current)
		return domain.ErrDeviceMismatch
	}
	if rc.IP != markers.IP {
		g.recordViolation(ctx, domain.SecurityEventHijackSuspected, markers.UserEmail, participantID, rc,
			markers.IP, rc.IP)
		return domain.ErrSessionHijack
	}
	if rc.UserAgent != markers.UserAgent {
		g.recordViolation(ctx, domain.SecurityEventHijackSuspected, markers.UserEmail, participantID, rc,
			markers.UserAgent, rc.UserAgent)
		return domain.ErrSessionHijack
	}

	if p != nil {
		if p.DeviceFingerprint != current {
			g.recordViolation(ctx, domain.SecurityEventFingerprintMismatch, p.UserEmail, p.ID, rc,
				p.DeviceFingerprint, current)
			return domain.ErrDeviceMismatch
		}
		if p.SessionID != rc.SessionID {
			g.recordViolation(ctx, domain.SecurityEventHijackSuspected, p.UserEmail, p.ID, rc,
				p.SessionID, rc.SessionID)
			return domain.ErrSessionHijack
		}
	}

	if err := g.store.TouchMarkers(ctx, rc.SessionID, now, g.timeout); err != nil {
		return fmt.Errorf("refreshing session activity: %w", err)
	}
	return nil
}

// DetectCrossDevice looks up session initializations for the same user
// within the rolling lookback window. Any initialization whose
// fingerprint differs from the current one is a violation.
func (g *Guard) DetectCrossDevice(ctx context.Context, rc RequestContext, userEmail, currentFingerprint string) error {
	since := g.clock().Add(-g.lookback)
	fingerprints, err := g.log.RecentInitFingerprints(ctx, userEmail, since)
	if err != nil {
		return fmt.Errorf("querying recent sessions: %w", err)
	}

	for _, fp := range fingerprints {
		if fp != currentFingerprint {
			g.recordViolation(ctx, domain.SecurityEventCrossDevice, userEmail, "", rc, fp, currentFingerprint)
			return domain.ErrCrossDevice
		}
	}
	return nil
}

// recordViolation writes the violation to the security log and the
// event stream with full context. A log write failure must not mask
// the violation response, so it is reported and swallowed here.
func (g *Guard) recordViolation(ctx context.Context, eventType, userEmail, participantID string, rc RequestContext, stored, current string) {
	g.logger.Warn("security violation",
		"type", eventType,
		"user_email", userEmail,
		"participant_id", participantID,
		"session_id", rc.SessionID,
		"stored", stored,
		"current", current,
		"ip", rc.IP,
	)

	ev := domain.SecurityEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		UserEmail:     userEmail,
		ParticipantID: participantID,
		SessionID:     rc.SessionID,
		StoredValue:   stored,
		CurrentValue:  current,
		IP:            rc.IP,
		UserAgent:     rc.UserAgent,
		CreatedAt:     g.clock(),
	}
	if err := g.log.RecordSecurityEvent(ctx, ev); err != nil {
		g.logger.Error("failed to persist security event", "type", eventType, "error", err)
	}

	if g.events != nil {
		g.events.Emit(domain.GameEvent{
			Type:          domain.EventSecurityViolation,
			ParticipantID: participantID,
			UserEmail:     userEmail,
			Violation:     eventType,
			Timestamp:     g.clock(),
		})
	}
}
