package filter

import (
	"strings"

	"github.com/dragon-zzuni/offline-agent/internal/model"
	"github.com/dragon-zzuni/offline-agent/pkg/metrics"
)

const (
	// Minimum content length after whitespace normalization.
	minContentLength = 20
	// Word-set Jaccard similarity at or above which two bodies count
	// as duplicates.
	duplicateSimilarity = 0.9
)

// Stats reports what each filter stage removed.
type Stats struct {
	OriginalCount int
	FilteredCount int
	SentMessages  int
	Duplicates    int
	TooShort      int
	Greetings     int
	StatusUpdates int
}

// Removed returns the total number of removed messages.
func (s Stats) Removed() int {
	return s.OriginalCount - s.FilteredCount
}

// Vocabulary of pure greeting / acknowledgement tokens. A message made
// entirely of these words carries no actionable content.
var ackWords = map[string]bool{
	"hi": true, "hello": true, "hey": true,
	"thanks": true, "thank": true, "you": true,
	"confirmed": true, "confirm": true, "got": true, "it": true,
	"noted": true, "ok": true, "okay": true, "sure": true,
	"sounds": true, "good": true, "great": true,
	"morning": true, "afternoon": true, "evening": true,
	"cheers": true, "welcome": true, "regards": true,
	"best": true, "all": true, "done": true, "received": true,
}

// Status-update phrasing that signals an FYI message rather than a
// request.
var updatePatterns = []string{
	"for your information",
	"fyi",
	"update you",
	"inform you",
	"status update",
	"progress update",
	"weekly update",
	"sharing the current",
}

// Request markers. A status update that still contains one of these is
// kept because it asks for something.
var actionKeywords = []string{
	"please",
	"request",
	"need",
	"required",
	"review",
	"feedback",
	"asap",
	"could you",
	"can you",
	"would you",
	"let me know",
	"by tomorrow",
	"deadline",
}

// Apply runs the full filter chain over a raw message batch. It is a
// pure function and never fails; malformed messages without body or
// subject count as zero-length and are dropped.
//
// Stages, in order: remove messages the persona sent, remove duplicate
// bodies (word-set Jaccard >= 0.9, keeping the highest recipient role
// TO > CC > BCC, first occurrence on ties), remove short messages,
// remove pure greetings regardless of length, remove status updates
// that ask for nothing.
func Apply(messages []model.Message) ([]model.Message, Stats) {
	stats := Stats{OriginalCount: len(messages)}

	kept := make([]model.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.RecipientRole == model.RoleFrom {
			stats.SentMessages++
			metrics.MessagesFiltered.WithLabelValues("sent").Inc()
			continue
		}
		kept = append(kept, msg)
	}

	kept = dedupeByContent(kept, &stats)

	final := make([]model.Message, 0, len(kept))
	for _, msg := range kept {
		content := normalizeWhitespace(msg.Content())

		if len(content) < minContentLength {
			stats.TooShort++
			metrics.MessagesFiltered.WithLabelValues("too_short").Inc()
			continue
		}

		combined := strings.ToLower(normalizeWhitespace(msg.Subject + " " + content))

		if isPureGreeting(content) {
			stats.Greetings++
			metrics.MessagesFiltered.WithLabelValues("greeting").Inc()
			continue
		}

		if isStatusUpdate(combined) && !hasActionKeyword(combined) {
			stats.StatusUpdates++
			metrics.MessagesFiltered.WithLabelValues("status_update").Inc()
			continue
		}

		final = append(final, msg)
	}

	stats.FilteredCount = len(final)
	return final, stats
}

// dedupeByContent removes near-duplicate bodies, preferring the copy
// delivered with the highest recipient role.
func dedupeByContent(messages []model.Message, stats *Stats) []model.Message {
	type entry struct {
		msg     model.Message
		content string
		words   map[string]bool
	}

	var entries []entry
	var empty []model.Message

	for _, msg := range messages {
		content := normalizeWhitespace(msg.Content())
		if content == "" {
			// No content to compare; the length filter deals with it.
			empty = append(empty, msg)
			continue
		}

		words := wordSet(content)
		duplicate := false

		for i := range entries {
			if content != entries[i].content && jaccard(words, entries[i].words) < duplicateSimilarity {
				continue
			}
			// Duplicate. Keep whichever copy has the higher role.
			if model.RolePriority(msg.RecipientRole) > model.RolePriority(entries[i].msg.RecipientRole) {
				entries[i] = entry{msg: msg, content: content, words: words}
			}
			duplicate = true
			stats.Duplicates++
			metrics.MessagesFiltered.WithLabelValues("duplicate").Inc()
			break
		}

		if !duplicate {
			entries = append(entries, entry{msg: msg, content: content, words: words})
		}
	}

	out := make([]model.Message, 0, len(entries)+len(empty))
	for _, e := range entries {
		out = append(out, e.msg)
	}
	out = append(out, empty...)
	return out
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func wordSet(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		words[w] = true
	}
	return words
}

// jaccard returns |a∩b| / |a∪b| over word sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for w := range a {
		if b[w] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// isPureGreeting reports whether every word in the content belongs to
// the greeting/acknowledgement vocabulary.
func isPureGreeting(content string) bool {
	tokens := strings.FieldsFunc(strings.ToLower(content), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !ackWords[t] {
			return false
		}
	}
	return true
}

func isStatusUpdate(combined string) bool {
	for _, p := range updatePatterns {
		if strings.Contains(combined, p) {
			return true
		}
	}
	return false
}

func hasActionKeyword(combined string) bool {
	for _, k := range actionKeywords {
		if strings.Contains(combined, k) {
			return true
		}
	}
	return false
}
