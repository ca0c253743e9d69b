package round

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/quizrace/internal/domain"
)

type fakeStore struct {
	mu         sync.Mutex
	answers    []domain.AnswerRecord
	preFlags   []bool
	rank       int64
	completed  []string
	fillCount  int
	maxPlayers int
	filled     bool
	recordErr  error
}

func (s *fakeStore) RecordAnswer(_ context.Context, rec domain.AnswerRecord, prePayment bool) error {
	if s.recordErr != nil {
		return s.recordErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers = append(s.answers, rec)
	s.preFlags = append(s.preFlags, prePayment)
	return nil
}

func (s *fakeStore) CompleteGame(_ context.Context, participantID string, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, participantID)
	return s.rank, nil
}

func (s *fakeStore) FillRound(_ context.Context, roundID string) (*domain.RoundFill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fill := &domain.RoundFill{RoundID: roundID, MaxPlayers: s.maxPlayers}
	if s.fillCount >= s.maxPlayers {
		fill.Count = s.fillCount
		return fill, nil
	}
	s.fillCount++
	fill.Count = s.fillCount
	if s.fillCount == s.maxPlayers && !s.filled {
		s.filled = true
		fill.JustFilled = true
	}
	return fill, nil
}

type fakeStandings struct {
	mu          sync.Mutex
	completions map[string]float64
	err         error
}

func (s *fakeStandings) AddCompletion(_ context.Context, _, participantID string, totalTime float64) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completions == nil {
		s.completions = make(map[string]float64)
	}
	s.completions[participantID] = totalTime
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestRecordProgressTimeTiers(t *testing.T) {
	store := &fakeStore{}
	coordinator := NewCoordinator(store, nil, testLogger())

	p := &domain.Participant{ID: "p1", State: domain.StateInProgress}
	ctx := context.Background()

	// Free tier: questions 1..3 of a 3-free game
	elapsed := []float64{1.1, 2.2, 3.3, 4.4, 5.5}
	for i, e := range elapsed {
		rec := domain.AnswerRecord{
			ParticipantID:  "p1",
			QuestionID:     "q",
			QuestionNumber: i + 1,
			Correct:        i%2 == 0,
			ElapsedSeconds: e,
		}
		if err := coordinator.RecordProgress(ctx, p, rec, 3); err != nil {
			t.Fatalf("RecordProgress %d: %v", i+1, err)
		}
	}

	if p.CurrentQuestion != 5 {
		t.Errorf("CurrentQuestion = %d, want 5", p.CurrentQuestion)
	}
	if p.CorrectAnswers != 3 {
		t.Errorf("CorrectAnswers = %d, want 3", p.CorrectAnswers)
	}
	if math.Abs(p.PrePaymentTime-6.6) > 1e-9 {
		t.Errorf("PrePaymentTime = %f, want 6.6", p.PrePaymentTime)
	}
	if math.Abs(p.PostPaymentTime-9.9) > 1e-9 {
		t.Errorf("PostPaymentTime = %f, want 9.9", p.PostPaymentTime)
	}
	if math.Abs(p.TotalTime-16.5) > 1e-9 {
		t.Errorf("TotalTime = %f, want 16.5", p.TotalTime)
	}

	for i, pre := range store.preFlags {
		want := i < 3
		if pre != want {
			t.Errorf("answer %d prePayment = %v, want %v", i+1, pre, want)
		}
	}
}

func TestRecordProgressStoreFailure(t *testing.T) {
	store := &fakeStore{recordErr: errors.New("connection reset")}
	coordinator := NewCoordinator(store, nil, testLogger())

	p := &domain.Participant{ID: "p1", State: domain.StateInProgress}
	rec := domain.AnswerRecord{ParticipantID: "p1", QuestionNumber: 1, ElapsedSeconds: 2.0}
	if err := coordinator.RecordProgress(context.Background(), p, rec, 3); err == nil {
		t.Fatal("expected store error")
	}
	if p.CurrentQuestion != 0 || p.TotalTime != 0 {
		t.Error("in-memory totals must not advance when the write fails")
	}
}

func TestCompleteGamePaidMirrorsStandings(t *testing.T) {
	store := &fakeStore{rank: 3}
	standings := &fakeStandings{}
	coordinator := NewCoordinator(store, standings, testLogger())
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	coordinator.SetClock(func() time.Time { return now })

	p := &domain.Participant{
		ID:            "p1",
		RoundID:       "r1",
		PaymentStatus: domain.PaymentPaid,
		State:         domain.StateInProgress,
		TotalTime:     15.25,
	}
	rank, err := coordinator.CompleteGame(context.Background(), p)
	if err != nil {
		t.Fatalf("CompleteGame: %v", err)
	}
	if rank != 3 {
		t.Errorf("rank = %d, want 3", rank)
	}
	if p.State != domain.StateCompleted || !p.GameCompleted {
		t.Error("participant must be marked completed")
	}
	if p.CompletedAt == nil || !p.CompletedAt.Equal(now) {
		t.Error("CompletedAt not set from the clock")
	}
	if standings.completions["p1"] != 15.25 {
		t.Errorf("standings mirror = %v, want p1 at 15.25", standings.completions)
	}
}

func TestCompleteGameUnpaidSkipsStandings(t *testing.T) {
	store := &fakeStore{rank: 1}
	standings := &fakeStandings{}
	coordinator := NewCoordinator(store, standings, testLogger())

	p := &domain.Participant{ID: "p1", RoundID: "r1", PaymentStatus: domain.PaymentPending, State: domain.StateInProgress}
	if _, err := coordinator.CompleteGame(context.Background(), p); err != nil {
		t.Fatalf("CompleteGame: %v", err)
	}
	if len(standings.completions) != 0 {
		t.Error("unpaid completion must not enter the standings mirror")
	}
}

func TestCompleteGameStandingsFailureIsBestEffort(t *testing.T) {
	store := &fakeStore{rank: 2}
	standings := &fakeStandings{err: errors.New("connection reset")}
	coordinator := NewCoordinator(store, standings, testLogger())

	p := &domain.Participant{ID: "p1", RoundID: "r1", PaymentStatus: domain.PaymentPaid, State: domain.StateInProgress}
	rank, err := coordinator.CompleteGame(context.Background(), p)
	if err != nil {
		t.Fatalf("CompleteGame must not fail on a mirror write error: %v", err)
	}
	if rank != 2 {
		t.Errorf("rank = %d, want 2", rank)
	}
}

func TestCheckRoundFillExactlyOnce(t *testing.T) {
	store := &fakeStore{maxPlayers: 10}
	coordinator := NewCoordinator(store, nil, testLogger())

	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	justFilled := 0

	// Simultaneous final-question completions racing on the last slots
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fill, err := coordinator.CheckRoundFill(ctx, "r1")
			if err != nil {
				t.Errorf("CheckRoundFill: %v", err)
				return
			}
			if fill.JustFilled {
				mu.Lock()
				justFilled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if justFilled != 1 {
		t.Errorf("JustFilled reported %d times, want exactly once", justFilled)
	}
	if store.fillCount != 10 {
		t.Errorf("paid-completed count = %d, must not exceed max players", store.fillCount)
	}
}
