package ranker

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestRanker(gen Generator) *Ranker {
	r := New(gen, zap.NewNop())
	r.now = func() time.Time { return testNow }
	return r
}

func todoWith(id string, p model.Priority, evidence []string, deadline *time.Time) model.Todo {
	return model.Todo{
		ID:       id,
		Title:    "[task] " + id,
		Priority: p,
		Evidence: evidence,
		Deadline: deadline,
		SourceMessage: model.Message{
			Subject:       "subject " + id,
			Body:          "body " + id,
			Timestamp:     testNow,
			RecipientRole: model.RoleTo,
		},
	}
}

type fakeGen struct {
	resp  string
	err   error
	calls int
}

func (f *fakeGen) Generate(ctx context.Context, sys, user string, temp float64, maxTokens int) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.resp, nil
}

func TestScoreUrgentKeyword(t *testing.T) {
	r := newTestRanker(nil)
	todo := todoWith("t1", model.PriorityMedium, nil, nil)
	todo.SourceMessage.Body = "This is urgent, the build is a blocker, please fix immediately."

	ps := r.Score(todo)

	if ps.Level != model.PriorityHigh {
		t.Errorf("Level = %q, want high (score %.2f)", ps.Level, ps.Overall)
	}
	if len(ps.Evidence) == 0 {
		t.Errorf("expected evidence explaining the level")
	}
}

func TestScoreInformationalIsLow(t *testing.T) {
	r := newTestRanker(nil)
	todo := todoWith("t1", model.PriorityMedium, nil, nil)
	todo.SourceMessage.Body = "FYI, just sharing the meeting notes, no action needed."
	todo.SourceMessage.RecipientRole = model.RoleBCC

	ps := r.Score(todo)

	if ps.Level != model.PriorityLow {
		t.Errorf("Level = %q, want low (score %.2f)", ps.Level, ps.Overall)
	}
}

func TestDeadlineBonus(t *testing.T) {
	cases := []struct {
		hours float64
		want  float64
	}{
		{6, 1.5},
		{48, 1.0},
		{120, 0.5},
		{400, 0},
		{-5, 0},
	}
	for _, tc := range cases {
		d := testNow.Add(time.Duration(tc.hours * float64(time.Hour)))
		if got := DeadlineBonus(&d, testNow); got != tc.want {
			t.Errorf("DeadlineBonus(+%vh) = %v, want %v", tc.hours, got, tc.want)
		}
	}
	if got := DeadlineBonus(nil, testNow); got != 0 {
		t.Errorf("DeadlineBonus(nil) = %v, want 0", got)
	}
}

func TestParsePriority(t *testing.T) {
	cases := []struct {
		resp string
		want model.Priority
		ok   bool
	}{
		{"high", model.PriorityHigh, true},
		{"The priority is: Medium.", model.PriorityMedium, true},
		{"```\nlow\n```", model.PriorityLow, true},
		{"cannot decide", "", false},
	}
	for _, tc := range cases {
		got, ok := ParsePriority(tc.resp)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParsePriority(%q) = (%q, %v), want (%q, %v)", tc.resp, got, ok, tc.want, tc.ok)
		}
	}
}

func TestScoreBatchUsesReasoningForAmbiguousBand(t *testing.T) {
	gen := &fakeGen{resp: "high"}
	r := newTestRanker(gen)

	todo := todoWith("t1", model.PriorityMedium, nil, nil)
	// Enough keyword signal to land in the ambiguous middle band.
	todo.SourceMessage.Body = "This is important, please take a look."

	out := r.ScoreBatch(context.Background(), []model.Todo{todo})

	if gen.calls != 1 {
		t.Fatalf("expected 1 reasoning call, got %d", gen.calls)
	}
	if out[0].Priority != model.PriorityHigh {
		t.Errorf("Priority = %q, want high from reasoning", out[0].Priority)
	}
}

func TestScoreBatchReasoningFailureKeepsHeuristic(t *testing.T) {
	gen := &fakeGen{err: errors.New("timeout")}
	r := newTestRanker(gen)

	todo := todoWith("t1", model.PriorityMedium, nil, nil)
	todo.SourceMessage.Body = "This is important, please take a look."

	out := r.ScoreBatch(context.Background(), []model.Todo{todo})

	if out[0].Priority != model.PriorityMedium {
		t.Errorf("Priority = %q, want heuristic medium after reasoning failure", out[0].Priority)
	}
}

// A terse acknowledgement that slipped past the filter must never be
// rebalanced into the high bucket, no matter how it ranks by position.
func TestRebalanceAcknowledgementNeverHigh(t *testing.T) {
	r := newTestRanker(nil)

	ack := todoWith("ack", model.PriorityLow, []string{"direct recipient", "imperative phrasing"}, nil)
	ack.SourceMessage.Body = "got it, thanks, confirmed"

	batch := []model.Todo{ack}
	for i := 0; i < 9; i++ {
		batch = append(batch, todoWith(string(rune('a'+i)), model.PriorityLow, nil, nil))
	}

	out := r.Rebalance(batch)

	for _, todo := range out {
		if todo.ID == "ack" && todo.Priority == model.PriorityHigh {
			t.Fatalf("acknowledgement reached high purely by rank position")
		}
	}
}

// Property: an original low is never high after rebalancing.
func TestRebalanceMonotonicNonPromotion(t *testing.T) {
	r := newTestRanker(nil)
	rng := rand.New(rand.NewSource(42))
	levels := []model.Priority{model.PriorityHigh, model.PriorityMedium, model.PriorityLow}

	for trial := 0; trial < 50; trial++ {
		var batch []model.Todo
		original := make(map[string]model.Priority)
		n := 5 + rng.Intn(30)
		for i := 0; i < n; i++ {
			id := string(rune('A' + i))
			level := levels[rng.Intn(len(levels))]
			evidence := make([]string, rng.Intn(5))
			for j := range evidence {
				evidence[j] = "evidence"
			}
			var deadline *time.Time
			if rng.Intn(2) == 0 {
				d := testNow.Add(time.Duration(rng.Intn(200)) * time.Hour)
				deadline = &d
			}
			batch = append(batch, todoWith(id, level, evidence, deadline))
			original[id] = level
		}

		out := r.Rebalance(batch)

		for _, todo := range out {
			if original[todo.ID] == model.PriorityLow && todo.Priority == model.PriorityHigh {
				t.Fatalf("trial %d: original low promoted to high", trial)
			}
			if original[todo.ID] == model.PriorityHigh && todo.Priority == model.PriorityLow {
				t.Fatalf("trial %d: original high demoted to low", trial)
			}
		}
	}
}

// The evidence bonus must read the scorer's Evidence field. If the
// field were renamed or left unwired the bonus would silently vanish
// and identical items with different evidence counts would tie.
func TestCompositeScoreReadsEvidenceField(t *testing.T) {
	r := newTestRanker(nil)

	with := todoWith("a", model.PriorityMedium, []string{"e1", "e2"}, nil)
	without := todoWith("b", model.PriorityMedium, nil, nil)

	sWith := r.CompositeScore(with)
	sWithout := r.CompositeScore(without)

	if diff := sWith - sWithout - 0.4; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("evidence bonus = %v, want 0.4 for 2 evidence entries", sWith-sWithout)
	}

	capped := todoWith("c", model.PriorityMedium, []string{"1", "2", "3", "4", "5"}, nil)
	if diff := r.CompositeScore(capped) - sWithout - 0.6; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("evidence bonus cap = %v, want 0.6", r.CompositeScore(capped)-sWithout)
	}
}
