package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

type fakeSource struct {
	batches map[string][]model.Message
	calls   []string
}

func (f *fakeSource) Fetch(_ context.Context, personaKey, sinceID string) ([]model.Message, error) {
	f.calls = append(f.calls, sinceID)
	return f.batches[personaKey], nil
}

type fakeRunner struct {
	runs     [][]model.Message
	failures int
}

func (f *fakeRunner) Run(_ context.Context, _ string, messages []model.Message) ([]model.Todo, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("upsert todos: connection refused")
	}
	f.runs = append(f.runs, messages)
	return nil, nil
}

type fakeDeduper struct {
	seen map[string]bool
}

func (f *fakeDeduper) AcquireOnce(_ context.Context, _, id string) bool {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[id] {
		return false
	}
	f.seen[id] = true
	return true
}

func (f *fakeDeduper) Release(_ context.Context, _, id string) {
	delete(f.seen, id)
}

func pollMessage(id string) model.Message {
	return model.Message{
		ID:            id,
		Sender:        "alice@acme.io",
		Body:          "Please send the quarterly report by Friday.",
		Timestamp:     time.Now(),
		Channel:       model.ChannelEmail,
		RecipientRole: model.RoleTo,
	}
}

func TestPollOnceNoActivePersona(t *testing.T) {
	source := &fakeSource{}
	runner := &fakeRunner{}
	p := New(source, runner, &fakeDeduper{}, func() string { return "" }, time.Second, zap.NewNop())

	p.pollOnce(context.Background())

	if len(source.calls) != 0 {
		t.Errorf("fetched with no active persona: %d calls", len(source.calls))
	}
	if len(runner.runs) != 0 {
		t.Errorf("ran pipeline with no active persona")
	}
}

func TestPollOnceAdvancesWatermark(t *testing.T) {
	key := "jiwon@acme.io|jiwon"
	source := &fakeSource{batches: map[string][]model.Message{
		key: {pollMessage("m-1"), pollMessage("m-2")},
	}}
	runner := &fakeRunner{}
	p := New(source, runner, &fakeDeduper{}, func() string { return key }, time.Second, zap.NewNop())

	p.pollOnce(context.Background())

	if len(runner.runs) != 1 || len(runner.runs[0]) != 2 {
		t.Fatalf("unexpected pipeline runs %+v", runner.runs)
	}
	if got := p.sinceIDs[key]; got != "m-2" {
		t.Errorf("watermark = %q, want m-2", got)
	}

	p.pollOnce(context.Background())
	if source.calls[1] != "m-2" {
		t.Errorf("second fetch used sinceID %q, want m-2", source.calls[1])
	}
}

func TestPollOnceSkipsRedeliveredMessages(t *testing.T) {
	key := "jiwon@acme.io|jiwon"
	source := &fakeSource{batches: map[string][]model.Message{
		key: {pollMessage("m-1")},
	}}
	runner := &fakeRunner{}
	p := New(source, runner, &fakeDeduper{}, func() string { return key }, time.Second, zap.NewNop())

	p.pollOnce(context.Background())
	p.pollOnce(context.Background())

	// The second delivery of m-1 is deduplicated; only one run happens.
	if len(runner.runs) != 1 {
		t.Errorf("expected one pipeline run, got %d", len(runner.runs))
	}
}

func TestPollOnceRetriesBatchAfterPipelineFailure(t *testing.T) {
	key := "jiwon@acme.io|jiwon"
	source := &fakeSource{batches: map[string][]model.Message{
		key: {pollMessage("m-1")},
	}}
	runner := &fakeRunner{failures: 1}
	p := New(source, runner, &fakeDeduper{}, func() string { return key }, time.Second, zap.NewNop())

	// First cycle fails inside the pipeline. The dedup lock must be
	// dropped and the watermark must not advance, so the refetched
	// batch goes through on a later cycle instead of being lost.
	p.pollOnce(context.Background())
	if len(runner.runs) != 0 {
		t.Fatalf("failed cycle recorded %d successful runs", len(runner.runs))
	}
	if got := p.sinceIDs[key]; got != "" {
		t.Errorf("watermark advanced to %q after a failed run", got)
	}

	p.pollOnce(context.Background())
	if len(runner.runs) != 1 || len(runner.runs[0]) != 1 || runner.runs[0][0].ID != "m-1" {
		t.Fatalf("batch was not reprocessed after the failure, runs = %+v", runner.runs)
	}
	if got := p.sinceIDs[key]; got != "m-1" {
		t.Errorf("watermark = %q, want m-1", got)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &fakeSource{}
	runner := &fakeRunner{}
	p := New(source, runner, &fakeDeduper{}, func() string { return "" }, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancel")
	}
}
