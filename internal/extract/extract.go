package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dragon-zzuni/offline-agent/internal/model"
	"github.com/dragon-zzuni/offline-agent/pkg/metrics"
)

// Action types an extracted TODO can carry.
const (
	TypeMeeting  = "meeting"
	TypeTask     = "task"
	TypeDeadline = "deadline"
	TypeReview   = "review"
	TypeReply    = "reply"
)

// Request markers. A sentence containing one of these reads as asking
// the recipient to do something.
var requestMarkers = []string{
	"can you", "could you", "would you", "please", "pls",
	"let me know", "share", "send", "provide", "prepare",
	"check", "review", "follow up", "feedback", "approve",
	"need", "needs", "require", "required", "request", "update",
	"submit", "schedule", "fix", "draft", "confirm whether",
}

var meetingMarkers = []string{"meeting", "call", "sync", "standup", "huddle", "conference", "1:1"}
var deadlineMarkers = []string{"deadline", "due", "by tomorrow", "by today", "eod", "end of day", "submit by", "no later than"}
var reviewMarkers = []string{"review", "feedback", "check", "approve", "look over", "comments on"}
var replyMarkers = []string{"reply", "respond", "response", "answer", "get back to"}

// Initial priority keywords, refined later by the ranker.
var priorityKeywords = map[model.Priority][]string{
	model.PriorityHigh:   {"urgent", "asap", "immediately", "right away", "critical", "blocker"},
	model.PriorityMedium: {"important", "priority", "soon", "this week"},
	model.PriorityLow:    {"whenever", "no rush", "when you have time", "low priority"},
}

var weekdayNames = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "wednesday": time.Wednesday,
	"thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday, "sunday": time.Sunday,
}

var datePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})\b`)

var sentenceSplit = regexp.MustCompile(`[.!?\n]+`)

// Extract converts filtered messages into TODO items. Each actionable
// sentence yields at most one TODO; near-identical actions from the
// same message are merged. Every TODO carries a full snapshot of its
// source message so later re-classification never needs a lookup.
func Extract(messages []model.Message, personaKey string) []model.Todo {
	var todos []model.Todo
	now := time.Now().UTC()

	for _, msg := range messages {
		actions := extractFromMessage(msg)
		for _, a := range actions {
			todos = append(todos, model.Todo{
				ID:            uuid.NewString(),
				Title:         a.title,
				Description:   a.sentence,
				Requester:     msg.Sender,
				Type:          a.actionType,
				Priority:      a.priority,
				Status:        model.StatusPending,
				Deadline:      a.deadline,
				Evidence:      nil,
				SourceMessage: msg,
				PersonaKey:    personaKey,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
			metrics.TodosExtracted.WithLabelValues(string(msg.Channel)).Inc()
		}
	}

	return todos
}

type action struct {
	title      string
	sentence   string
	actionType string
	priority   model.Priority
	deadline   *time.Time
}

func extractFromMessage(msg model.Message) []action {
	text := strings.TrimSpace(msg.Subject + " " + msg.Content())
	if text == "" {
		return nil
	}

	var actions []action
	for _, sentence := range splitSentences(msg.Content()) {
		lowered := strings.ToLower(sentence)
		if !looksLikeRequest(lowered) {
			continue
		}

		actionType := inferActionType(lowered)
		actions = append(actions, action{
			title:      buildTitle(actionType, sentence),
			sentence:   sentence,
			actionType: actionType,
			priority:   determinePriority(strings.ToLower(text)),
			deadline:   extractDeadline(lowered, msg.Timestamp),
		})
	}

	// Subject-only requests (empty or non-request body).
	if len(actions) == 0 {
		lowered := strings.ToLower(msg.Subject)
		if looksLikeRequest(lowered) {
			actionType := inferActionType(lowered)
			actions = append(actions, action{
				title:      buildTitle(actionType, msg.Subject),
				sentence:   msg.Subject,
				actionType: actionType,
				priority:   determinePriority(strings.ToLower(text)),
				deadline:   extractDeadline(lowered, msg.Timestamp),
			})
		}
	}

	return dedupeActions(actions)
}

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(p), "-*0123456789) ("))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func looksLikeRequest(lowered string) bool {
	for _, marker := range requestMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func inferActionType(lowered string) string {
	switch {
	case containsAny(lowered, deadlineMarkers):
		return TypeDeadline
	case containsAny(lowered, meetingMarkers):
		return TypeMeeting
	case containsAny(lowered, reviewMarkers):
		return TypeReview
	case containsAny(lowered, replyMarkers):
		return TypeReply
	default:
		return TypeTask
	}
}

func determinePriority(lowered string) model.Priority {
	for _, level := range []model.Priority{model.PriorityHigh, model.PriorityMedium, model.PriorityLow} {
		if containsAny(lowered, priorityKeywords[level]) {
			return level
		}
	}
	return model.PriorityMedium
}

func buildTitle(actionType, sentence string) string {
	title := strings.TrimSpace(sentence)
	if len(title) > 80 {
		title = title[:77] + "..."
	}
	return fmt.Sprintf("[%s] %s", actionType, title)
}

// extractDeadline parses relative and simple absolute deadline phrases
// anchored at the message timestamp.
func extractDeadline(lowered string, ref time.Time) *time.Time {
	endOfDay := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 18, 0, 0, 0, t.Location())
	}

	switch {
	case strings.Contains(lowered, "today") || strings.Contains(lowered, "eod") || strings.Contains(lowered, "end of day"):
		d := endOfDay(ref)
		return &d
	case strings.Contains(lowered, "tomorrow"):
		d := endOfDay(ref.AddDate(0, 0, 1))
		return &d
	case strings.Contains(lowered, "next week"):
		d := endOfDay(ref.AddDate(0, 0, 7))
		return &d
	case strings.Contains(lowered, "this week"):
		d := endOfDay(nextWeekday(ref, time.Friday))
		return &d
	}

	for name, wd := range weekdayNames {
		if strings.Contains(lowered, "by "+name) || strings.Contains(lowered, "until "+name) || strings.Contains(lowered, "on "+name) {
			d := endOfDay(nextWeekday(ref, wd))
			return &d
		}
	}

	if m := datePattern.FindStringSubmatch(lowered); m != nil {
		month := atoi(m[1])
		day := atoi(m[2])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			d := time.Date(ref.Year(), time.Month(month), day, 18, 0, 0, 0, ref.Location())
			if d.Before(ref) {
				d = d.AddDate(1, 0, 0)
			}
			return &d
		}
	}

	return nil
}

func nextWeekday(ref time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(ref.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return ref.AddDate(0, 0, days)
}

func atoi(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// dedupeActions merges near-identical actions extracted from one
// message, keeping the first occurrence.
func dedupeActions(actions []action) []action {
	var out []action
	for _, a := range actions {
		duplicate := false
		for _, existing := range out {
			if a.actionType == existing.actionType && similarTitles(a.sentence, existing.sentence) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, a)
		}
	}
	return out
}

func similarTitles(a, b string) bool {
	wa := strings.Fields(strings.ToLower(a))
	wb := strings.Fields(strings.ToLower(b))
	if len(wa) == 0 || len(wb) == 0 {
		return a == b
	}
	set := make(map[string]bool, len(wa))
	for _, w := range wa {
		set[w] = true
	}
	common := 0
	for _, w := range wb {
		if set[w] {
			common++
		}
	}
	smaller := len(wa)
	if len(wb) < smaller {
		smaller = len(wb)
	}
	return float64(common)/float64(smaller) >= 0.8
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
