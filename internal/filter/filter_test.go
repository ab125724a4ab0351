package filter

import (
	"strings"
	"testing"
	"time"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

func msg(id, body string, role model.RecipientRole) model.Message {
	return model.Message{
		ID:            id,
		Sender:        "alice@example.com",
		Body:          body,
		Timestamp:     time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		Channel:       model.ChannelEmail,
		RecipientRole: role,
	}
}

func ids(messages []model.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func TestApplyDropsSentMessages(t *testing.T) {
	in := []model.Message{
		msg("1", "Please review the onboarding draft before Friday.", model.RoleFrom),
		msg("2", "Please review the deployment checklist today.", model.RoleTo),
	}

	out, stats := Apply(in)

	if len(out) != 1 || out[0].ID != "2" {
		t.Fatalf("expected only message 2 to survive, got %v", ids(out))
	}
	if stats.SentMessages != 1 {
		t.Errorf("SentMessages = %d, want 1", stats.SentMessages)
	}
}

func TestApplyDropsShortMessages(t *testing.T) {
	in := []model.Message{
		msg("1", "see attached", model.RoleTo),
		msg("2", "   ", model.RoleTo),
		msg("3", "Please send me the audit findings by tomorrow morning.", model.RoleTo),
	}

	out, stats := Apply(in)

	if len(out) != 1 || out[0].ID != "3" {
		t.Fatalf("expected only message 3 to survive, got %v", ids(out))
	}
	if stats.TooShort != 2 {
		t.Errorf("TooShort = %d, want 2", stats.TooShort)
	}
}

func TestApplyDropsPureGreetingRegardlessOfLength(t *testing.T) {
	// 22 chars, so it passes the length check but is pure acknowledgement.
	in := []model.Message{msg("1", "Hi, confirmed, thanks.", model.RoleTo)}

	out, stats := Apply(in)

	if len(out) != 0 {
		t.Fatalf("expected greeting to be removed, got %v", ids(out))
	}
	if stats.Greetings != 1 {
		t.Errorf("Greetings = %d, want 1", stats.Greetings)
	}
}

func TestApplyKeepsGreetingWithActionableTail(t *testing.T) {
	in := []model.Message{
		msg("1", "Hi, thanks. Could you also review the budget sheet today?", model.RoleTo),
	}

	out, _ := Apply(in)

	if len(out) != 1 {
		t.Fatalf("message with a real request must survive, got %v", ids(out))
	}
}

func TestApplyDropsStatusUpdateWithoutRequest(t *testing.T) {
	in := []model.Message{
		msg("1", "FYI, sharing the current migration numbers for this sprint cycle.", model.RoleTo),
		msg("2", "Status update attached. Please review the rollout section and send feedback.", model.RoleTo),
	}

	out, stats := Apply(in)

	if len(out) != 1 || out[0].ID != "2" {
		t.Fatalf("expected only actionable update to survive, got %v", ids(out))
	}
	if stats.StatusUpdates != 1 {
		t.Errorf("StatusUpdates = %d, want 1", stats.StatusUpdates)
	}
}

func TestApplyRemovesExactDuplicatesPreferringTo(t *testing.T) {
	body := "Please review the quarterly security report before Thursday standup."
	in := []model.Message{
		msg("1", body, model.RoleCC),
		msg("2", body, model.RoleTo),
		msg("3", body, model.RoleBCC),
	}

	out, stats := Apply(in)

	if len(out) != 1 {
		t.Fatalf("expected one survivor, got %v", ids(out))
	}
	if out[0].ID != "2" {
		t.Errorf("expected the TO copy to win, got %s (%s)", out[0].ID, out[0].RecipientRole)
	}
	if stats.Duplicates != 2 {
		t.Errorf("Duplicates = %d, want 2", stats.Duplicates)
	}
}

func TestApplyRemovesNearDuplicates(t *testing.T) {
	in := []model.Message{
		msg("1", "Please review the quarterly security report before Thursday standup meeting", model.RoleTo),
		msg("2", "Please review the quarterly security report before Thursday standup meeting urgently", model.RoleCC),
		msg("3", "Schedule the vendor onboarding call and share the agenda with the team", model.RoleTo),
	}

	out, stats := Apply(in)

	got := ids(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 survivors, got %v", got)
	}
	if got[0] != "1" || got[1] != "3" {
		t.Errorf("expected [1 3], got %v", got)
	}
	if stats.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", stats.Duplicates)
	}
}

func TestApplyMalformedMessageDropped(t *testing.T) {
	in := []model.Message{
		{ID: "1", Sender: "bob@example.com", RecipientRole: model.RoleTo, Channel: model.ChannelChat},
	}

	out, stats := Apply(in)

	if len(out) != 0 {
		t.Fatalf("bodyless message must be dropped, got %v", ids(out))
	}
	if stats.TooShort != 1 {
		t.Errorf("TooShort = %d, want 1", stats.TooShort)
	}
}

func TestJaccard(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"draft review", "draft review", 1.0},
		{"draft review", "draft rewrite", 1.0 / 3.0},
		{"", "draft", 0},
	}
	for _, tc := range cases {
		got := jaccard(wordSet(tc.a), wordSet(tc.b))
		if diff := got - tc.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("jaccard(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	got := normalizeWhitespace("  a \t b\n c  ")
	if got != "a b c" {
		t.Errorf("normalizeWhitespace = %q", got)
	}
	if strings.TrimSpace(normalizeWhitespace("   ")) != "" {
		t.Errorf("blank input must normalize to empty")
	}
}
