package extract

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

var monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) // a Monday

func inbound(body string) model.Message {
	return model.Message{
		ID:            "m1",
		Sender:        "alice@example.com",
		Subject:       "weekly items",
		Body:          body,
		Timestamp:     monday,
		Channel:       model.ChannelEmail,
		RecipientRole: model.RoleTo,
	}
}

func TestExtractProducesTodoWithSnapshot(t *testing.T) {
	src := inbound("Could you review the launch checklist before our call?")
	todos := Extract([]model.Message{src}, "p1")

	if len(todos) != 1 {
		t.Fatalf("expected 1 todo, got %d", len(todos))
	}
	todo := todos[0]
	if !todo.HasSnapshot() {
		t.Errorf("todo must carry a full source-message snapshot")
	}
	// The snapshot is the whole message, not a trimmed copy.
	if diff := cmp.Diff(src, todo.SourceMessage); diff != "" {
		t.Errorf("source message snapshot mismatch (-want +got):\n%s", diff)
	}
	if todo.PersonaKey != "p1" {
		t.Errorf("PersonaKey = %q, want p1", todo.PersonaKey)
	}
	if todo.Requester != "alice@example.com" {
		t.Errorf("Requester = %q", todo.Requester)
	}
	if todo.Status != model.StatusPending {
		t.Errorf("Status = %q, want pending", todo.Status)
	}
	if todo.ProjectTag != nil {
		t.Errorf("new todos must start with a nil project tag")
	}
}

func TestExtractSkipsNonRequests(t *testing.T) {
	todos := Extract([]model.Message{inbound("The weather was nice during the offsite last weekend.")}, "p1")
	if len(todos) != 0 {
		t.Fatalf("expected no todos, got %d", len(todos))
	}
}

func TestInferActionType(t *testing.T) {
	cases := []struct {
		sentence string
		want     string
	}{
		{"please review the design doc", TypeReview},
		{"can you schedule a sync call", TypeMeeting},
		{"the report is due by tomorrow", TypeDeadline},
		{"please reply to the vendor", TypeReply},
		{"please prepare the slides", TypeTask},
	}
	for _, tc := range cases {
		if got := inferActionType(tc.sentence); got != tc.want {
			t.Errorf("inferActionType(%q) = %q, want %q", tc.sentence, got, tc.want)
		}
	}
}

func TestDeterminePriority(t *testing.T) {
	cases := []struct {
		text string
		want model.Priority
	}{
		{"urgent: fix the build asap", model.PriorityHigh},
		{"this is important for the demo", model.PriorityMedium},
		{"no rush, whenever you have time", model.PriorityLow},
		{"please send the notes", model.PriorityMedium},
	}
	for _, tc := range cases {
		if got := determinePriority(tc.text); got != tc.want {
			t.Errorf("determinePriority(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestExtractDeadlineRelative(t *testing.T) {
	d := extractDeadline("please send it by tomorrow", monday)
	if d == nil {
		t.Fatal("expected a deadline")
	}
	want := time.Date(2026, 3, 3, 18, 0, 0, 0, time.UTC)
	if !d.Equal(want) {
		t.Errorf("deadline = %v, want %v", d, want)
	}
}

func TestExtractDeadlineWeekday(t *testing.T) {
	d := extractDeadline("submit the report by friday", monday)
	if d == nil {
		t.Fatal("expected a deadline")
	}
	if d.Weekday() != time.Friday {
		t.Errorf("deadline weekday = %v, want Friday", d.Weekday())
	}
	if !d.After(monday) {
		t.Errorf("deadline %v not after reference %v", d, monday)
	}
}

func TestExtractDeadlineAbsoluteDateRollsForward(t *testing.T) {
	// 1/15 is in the past relative to the March reference, so it rolls
	// into the next year.
	d := extractDeadline("final version needed by 1/15 please", monday)
	if d == nil {
		t.Fatal("expected a deadline")
	}
	if d.Year() != 2027 || d.Month() != time.January || d.Day() != 15 {
		t.Errorf("deadline = %v, want 2027-01-15", d)
	}
}

func TestExtractDedupesRepeatedRequests(t *testing.T) {
	body := "Please review the budget sheet. Please review the budget sheet!"
	todos := Extract([]model.Message{inbound(body)}, "p1")
	if len(todos) != 1 {
		t.Fatalf("expected repeated request to collapse to 1 todo, got %d", len(todos))
	}
}
