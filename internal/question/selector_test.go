package question

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/quizrace/internal/domain"
)

type fakeStore struct {
	questions []domain.Question
	seen      map[string]bool
	touched   []string
	seenErr   error
}

func newFakeStore(questionIDs ...string) *fakeStore {
	s := &fakeStore{seen: make(map[string]bool)}
	for _, id := range questionIDs {
		s.questions = append(s.questions, domain.Question{ID: id, GameID: "g1"})
	}
	return s
}

func (s *fakeStore) ActiveQuestions(_ context.Context, _ string) ([]domain.Question, error) {
	return s.questions, nil
}

func (s *fakeStore) SeenQuestionIDs(_ context.Context, _, _ string) (map[string]bool, error) {
	if s.seenErr != nil {
		return nil, s.seenErr
	}
	out := make(map[string]bool, len(s.seen))
	for k, v := range s.seen {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) TouchHistory(_ context.Context, _, _, questionID string, _ time.Time) error {
	s.seen[questionID] = true
	s.touched = append(s.touched, questionID)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestSelectNextNoRepeatsUntilExhausted(t *testing.T) {
	store := newFakeStore("q1", "q2", "q3", "q4")
	selector := NewSelector(store, rand.New(rand.NewSource(1)), testLogger())

	ctx := context.Background()
	picked := make(map[string]int)
	for i := 0; i < 4; i++ {
		q, err := selector.SelectNext(ctx, "g1", "user@example.com")
		if err != nil {
			t.Fatalf("SelectNext %d: %v", i, err)
		}
		picked[q.ID]++
	}

	if len(picked) != 4 {
		t.Errorf("got %d distinct questions over a full cycle, want 4", len(picked))
	}
	for id, count := range picked {
		if count != 1 {
			t.Errorf("question %s served %d times within one cycle", id, count)
		}
	}
}

func TestSelectNextCycleReset(t *testing.T) {
	store := newFakeStore("q1", "q2")
	selector := NewSelector(store, rand.New(rand.NewSource(7)), testLogger())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := selector.SelectNext(ctx, "g1", "user@example.com"); err != nil {
			t.Fatalf("SelectNext %d: %v", i, err)
		}
	}

	// Pool exhausted; the next pick comes from the full pool again
	q, err := selector.SelectNext(ctx, "g1", "user@example.com")
	if err != nil {
		t.Fatalf("SelectNext after exhaustion: %v", err)
	}
	if q.ID != "q1" && q.ID != "q2" {
		t.Errorf("unexpected question %s after cycle reset", q.ID)
	}
}

func TestSelectNextEmptyPool(t *testing.T) {
	store := newFakeStore()
	selector := NewSelector(store, rand.New(rand.NewSource(1)), testLogger())

	_, err := selector.SelectNext(context.Background(), "g1", "user@example.com")
	if !errors.Is(err, domain.ErrQuestionNotFound) {
		t.Errorf("empty pool = %v, want ErrQuestionNotFound", err)
	}
}

func TestSelectNextRecordsHistory(t *testing.T) {
	store := newFakeStore("q1")
	selector := NewSelector(store, rand.New(rand.NewSource(1)), testLogger())

	q, err := selector.SelectNext(context.Background(), "g1", "user@example.com")
	if err != nil {
		t.Fatalf("SelectNext: %v", err)
	}
	if len(store.touched) != 1 || store.touched[0] != q.ID {
		t.Errorf("history touched %v, want [%s]", store.touched, q.ID)
	}
}

func TestSelectNextHistoryUnavailable(t *testing.T) {
	store := newFakeStore("q1", "q2")
	store.seenErr = errors.New("connection reset")
	selector := NewSelector(store, rand.New(rand.NewSource(1)), testLogger())

	if _, err := selector.SelectNext(context.Background(), "g1", "user@example.com"); err == nil {
		t.Error("expected error when history is unavailable")
	}
}
