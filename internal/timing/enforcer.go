package timing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quizrace/internal/domain"
)

// SlotStore persists the ephemeral per-participant timing slot.
// A participant has at most one slot; Open overwrites any prior one.
type SlotStore interface {
	OpenSlot(ctx context.Context, slot domain.TimingSlot) error
	// Slot returns (nil, nil) when no slot is open
	Slot(ctx context.Context, participantID string) (*domain.TimingSlot, error)
	CloseSlot(ctx context.Context, participantID string) error
}

// SlotStatus is the idempotent poll result for an open slot
type SlotStatus struct {
	Slot             domain.TimingSlot
	ElapsedSeconds   float64
	RemainingSeconds float64
	Expired          bool
}

// Outcome is the result of closing a slot on answer submission
type Outcome struct {
	Slot           domain.TimingSlot
	ElapsedSeconds float64
	TimedOut       bool
}

// Enforcer opens and closes timing slots and measures elapsed answer
// time with microsecond precision. The timeout is a pure wall-clock
// comparison evaluated at the next client contact; nothing here waits
// for a client.
type Enforcer struct {
	slots  SlotStore
	clock  func() time.Time
	logger *slog.Logger
}

// NewEnforcer creates a timing enforcer
func NewEnforcer(slots SlotStore, logger *slog.Logger) *Enforcer {
	return &Enforcer{
		slots:  slots,
		clock:  time.Now,
		logger: logger,
	}
}

// SetClock overrides the time source, for tests
func (e *Enforcer) SetClock(clock func() time.Time) {
	e.clock = clock
}

// StartTiming opens the timing slot for a question. Any slot already
// open for the participant is overwritten: an abandoned question is
// implicitly forfeited.
func (e *Enforcer) StartTiming(ctx context.Context, participantID, questionID string, questionNumber int) error {
	slot := domain.TimingSlot{
		ParticipantID:  participantID,
		QuestionID:     questionID,
		QuestionNumber: questionNumber,
		StartedAt:      e.clock(),
	}
	if err := e.slots.OpenSlot(ctx, slot); err != nil {
		return fmt.Errorf("opening timing slot: %w", err)
	}
	return nil
}

// CloseSubmission closes the open slot and computes the elapsed time.
// Fails with ErrNoOpenSlot when no slot is open and with
// ErrInvalidRequest when the submitted question does not match the
// pending one. TimedOut is reported when elapsed exceeds the timeout;
// the caller terminates the game in that case.
func (e *Enforcer) CloseSubmission(ctx context.Context, participantID, questionID string, timeout time.Duration) (*Outcome, error) {
	slot, err := e.slots.Slot(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("loading timing slot: %w", err)
	}
	if slot == nil {
		return nil, domain.ErrNoOpenSlot
	}
	if slot.QuestionID != questionID {
		return nil, domain.ErrInvalidRequest
	}

	elapsed := e.clock().Sub(slot.StartedAt)
	if err := e.slots.CloseSlot(ctx, participantID); err != nil {
		return nil, fmt.Errorf("closing timing slot: %w", err)
	}

	return &Outcome{
		Slot:           *slot,
		ElapsedSeconds: Seconds(elapsed),
		TimedOut:       elapsed > timeout,
	}, nil
}

// Status reports the open slot without side effects. Expired slots are
// not closed here; the caller drives the lazy timeout resolution so it
// can terminate the game in the same unit of work.
func (e *Enforcer) Status(ctx context.Context, participantID string, timeout time.Duration) (*SlotStatus, error) {
	slot, err := e.slots.Slot(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("loading timing slot: %w", err)
	}
	if slot == nil {
		return nil, domain.ErrNoOpenSlot
	}

	elapsed := e.clock().Sub(slot.StartedAt)
	remaining := timeout - elapsed
	if remaining < 0 {
		remaining = 0
	}

	return &SlotStatus{
		Slot:             *slot,
		ElapsedSeconds:   Seconds(elapsed),
		RemainingSeconds: Seconds(remaining),
		Expired:          elapsed > timeout,
	}, nil
}

// Expire closes an expired slot and returns the forced outcome for the
// lazy timeout path (poll or recovery after the deadline).
func (e *Enforcer) Expire(ctx context.Context, participantID string) (*Outcome, error) {
	slot, err := e.slots.Slot(ctx, participantID)
	if err != nil {
		return nil, fmt.Errorf("loading timing slot: %w", err)
	}
	if slot == nil {
		return nil, domain.ErrNoOpenSlot
	}

	elapsed := e.clock().Sub(slot.StartedAt)
	if err := e.slots.CloseSlot(ctx, participantID); err != nil {
		return nil, fmt.Errorf("closing timing slot: %w", err)
	}

	return &Outcome{
		Slot:           *slot,
		ElapsedSeconds: Seconds(elapsed),
		TimedOut:       true,
	}, nil
}

// Seconds converts a duration to seconds at microsecond precision.
// Values are truncated, never rounded below six decimal digits.
func Seconds(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1e6
}
