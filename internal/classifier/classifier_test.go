package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

type memCache struct {
	entries map[string]model.ProjectTagCacheEntry
	getErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]model.ProjectTagCacheEntry)}
}

func (m *memCache) Get(ctx context.Context, todoID string) (*model.ProjectTagCacheEntry, bool, error) {
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	e, ok := m.entries[todoID]
	if !ok {
		return nil, false, nil
	}
	return &e, true, nil
}

func (m *memCache) Put(ctx context.Context, entry model.ProjectTagCacheEntry) error {
	m.entries[entry.TodoID] = entry
	return nil
}

type countingGen struct {
	resp  string
	err   error
	calls int
}

func (g *countingGen) Generate(ctx context.Context, sys, user string, temp float64, maxTokens int) (string, error) {
	g.calls++
	if g.err != nil {
		return "", g.err
	}
	return g.resp, nil
}

func testDirectory() *model.ProjectDirectory {
	return model.NewProjectDirectory([]model.Project{
		{
			Code:         "PHX",
			Name:         "Phoenix Portal",
			Description:  "Customer portal rebuild with the billing migration",
			MemberEmails: []string{"alice@example.com", "carol@example.com"},
			StartWeek:    1,
			EndWeek:      20,
		},
		{
			Code:         "ORCA",
			Name:         "Orca Analytics",
			Description:  "Realtime analytics dashboards for the sales team",
			MemberEmails: []string{"alice@example.com"},
			StartWeek:    5,
			EndWeek:      30,
		},
		{
			Code:         "LYNX",
			Name:         "Lynx Gateway",
			Description:  "Edge gateway refresh",
			MemberEmails: []string{"dave@example.com"},
		},
	})
}

func classifiable(id, sender, subject, body string) model.Todo {
	return model.Todo{
		ID:    id,
		Title: "[task] " + subject,
		SourceMessage: model.Message{
			Sender:    sender,
			Subject:   subject,
			Body:      body,
			Timestamp: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), // ISO week 10
		},
	}
}

func TestClassifyExplicitBracketedName(t *testing.T) {
	c := New(newMemCache(), nil, testDirectory(), zap.NewNop())

	todo := classifiable("t1", "zed@example.com", "[Phoenix Portal] deploy", "please review the rollout plan")
	d, err := c.Classify(context.Background(), todo)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Tag == nil || *d.Tag != "PHX" {
		t.Fatalf("Tag = %v, want PHX", d.Tag)
	}
	if d.Source != model.TagSourceExplicit {
		t.Errorf("Source = %q, want explicit", d.Source)
	}
}

func TestClassifyExplicitCodeBeatenByFullName(t *testing.T) {
	c := New(newMemCache(), nil, testDirectory(), zap.NewNop())

	// Mentions ORCA's code and Phoenix's full name; the full name is
	// the more specific marker.
	todo := classifiable("t1", "zed@example.com", "sync", "discussing Phoenix Portal scope, unrelated to ORCA")
	d, _ := c.Classify(context.Background(), todo)
	if d.Tag == nil || *d.Tag != "PHX" {
		t.Fatalf("Tag = %v, want PHX (name beats code)", d.Tag)
	}
}

// Re-running classification on an already cached TODO must not touch
// the reasoning service at all.
func TestClassifyIdempotentOnCacheHit(t *testing.T) {
	cache := newMemCache()
	gen := &countingGen{resp: "PHX|matched billing keywords"}
	c := New(cache, gen, testDirectory(), zap.NewNop())

	// No explicit markers, so the first run reaches the reasoning stage.
	todo := classifiable("t1", "zed@example.com", "follow up", "please review the billing migration numbers")

	first, err := c.Classify(context.Background(), todo)
	if err != nil {
		t.Fatalf("first Classify: %v", err)
	}
	if first.Tag == nil || *first.Tag != "PHX" {
		t.Fatalf("first Tag = %v, want PHX", first.Tag)
	}
	if gen.calls != 1 {
		t.Fatalf("first run calls = %d, want 1", gen.calls)
	}

	second, err := c.Classify(context.Background(), todo)
	if err != nil {
		t.Fatalf("second Classify: %v", err)
	}
	if second.Tag == nil || *second.Tag != "PHX" {
		t.Fatalf("second Tag = %v, want PHX", second.Tag)
	}
	if second.Source != model.TagSourceCache {
		t.Errorf("second Source = %q, want cache", second.Source)
	}
	if gen.calls != 1 {
		t.Errorf("second run made %d extra reasoning calls, want 0", gen.calls-1)
	}
}

func TestClassifyReasoningUnknownFallsThrough(t *testing.T) {
	gen := &countingGen{resp: "UNKNOWN|nothing fits"}
	c := New(newMemCache(), gen, testDirectory(), zap.NewNop())

	// Sender is in exactly one project, so the sender stage decides.
	todo := classifiable("t1", "dave@example.com", "follow up", "please send the meeting notes to the group")
	d, _ := c.Classify(context.Background(), todo)

	if gen.calls != 1 {
		t.Fatalf("calls = %d, want 1", gen.calls)
	}
	if d.Tag == nil || *d.Tag != "LYNX" {
		t.Fatalf("Tag = %v, want LYNX via sender fallback", d.Tag)
	}
	if d.Source != model.TagSourceSender {
		t.Errorf("Source = %q, want sender", d.Source)
	}
}

func TestClassifyReasoningFailureFallsThrough(t *testing.T) {
	gen := &countingGen{err: errors.New("timeout")}
	c := New(newMemCache(), gen, testDirectory(), zap.NewNop())

	// Heuristic stage: alice is in PHX and ORCA; body overlaps ORCA's
	// description keywords and name token.
	todo := classifiable("t1", "alice@example.com", "dashboards", "the analytics dashboards for sales need a review")
	d, _ := c.Classify(context.Background(), todo)

	if d.Tag == nil || *d.Tag != "ORCA" {
		t.Fatalf("Tag = %v, want ORCA via heuristic analysis", d.Tag)
	}
	if d.Source != model.TagSourceAdvanced {
		t.Errorf("Source = %q, want advanced", d.Source)
	}
}

func TestClassifySenderTieBreaksToFirstDeclared(t *testing.T) {
	c := New(newMemCache(), nil, testDirectory(), zap.NewNop())

	// alice is in PHX and ORCA; nothing in the text names either.
	todo := classifiable("t1", "alice@example.com", "quick favor", "please send over the figures discussed earlier")
	d, _ := c.Classify(context.Background(), todo)

	if d.Tag == nil || *d.Tag != "PHX" {
		t.Fatalf("Tag = %v, want first declared PHX", d.Tag)
	}
	if d.Method != "first_declared" {
		t.Errorf("Method = %q, want first_declared", d.Method)
	}
}

func TestClassifyUnknownSenderYieldsNilTag(t *testing.T) {
	c := New(newMemCache(), nil, testDirectory(), zap.NewNop())

	todo := classifiable("t1", "stranger@example.com", "hello there", "please send over the figures discussed earlier")
	d, err := c.Classify(context.Background(), todo)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if d.Tag != nil {
		t.Fatalf("Tag = %v, want nil (no forced default)", *d.Tag)
	}
}

func TestClassifyMissingSnapshotUnclassifiable(t *testing.T) {
	c := New(newMemCache(), nil, testDirectory(), zap.NewNop())

	d, err := c.Classify(context.Background(), model.Todo{ID: "t1", Title: "orphan"})
	if err != nil {
		t.Fatalf("must not fail on missing snapshot: %v", err)
	}
	if d.Tag != nil {
		t.Fatalf("Tag = %v, want nil for snapshotless todo", *d.Tag)
	}
}

func TestParseTagResponse(t *testing.T) {
	cases := []struct {
		resp   string
		code   string
		reason string
		ok     bool
	}{
		{"PHX|billing keywords", "PHX", "billing keywords", true},
		{"phx (sender is a member)", "PHX", "sender is a member", true},
		{"```\nPHX|fenced\n```", "PHX", "fenced", true},
		{"PHX|first line\nsecond line ignored", "PHX", "first line", true},
		{"UNKNOWN|nothing fits", "", "", false},
		{"no idea at all", "", "", false},
		{"", "", "", false},
	}
	for _, tc := range cases {
		code, reason, ok := ParseTagResponse(tc.resp)
		if code != tc.code || reason != tc.reason || ok != tc.ok {
			t.Errorf("ParseTagResponse(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.resp, code, reason, ok, tc.code, tc.reason, tc.ok)
		}
	}
}
