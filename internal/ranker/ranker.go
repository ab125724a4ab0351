package ranker

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

// Generator is the reasoning capability the ranker needs for its
// ambiguous-band fallback. May be nil; the ranker then stays fully
// heuristic.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}

// How many of a batch's most recent items may trigger a reasoning call.
const llmFallbackLimit = 70

// Heuristic term sets.
var urgentTerms = []string{"urgent", "asap", "immediately", "right away", "critical", "blocker", "emergency"}
var importantTerms = []string{"important", "priority", "key", "must", "required", "deadline"}
var informationalTerms = []string{"fyi", "for your information", "heads up", "no action needed", "just sharing"}

var imperativeTerms = []string{"please", "need to", "make sure", "do not forget", "submit", "send"}
var softTerms = []string{"when you can", "if possible", "no rush", "whenever"}

// PriorityScore is the result of heuristic scoring for one TODO.
// Evidence strings record why the level was chosen; the rebalancing
// pass reads this exact field for its bonus.
type PriorityScore struct {
	Overall   float64
	Level     model.Priority
	Evidence  []string
	Ambiguous bool
}

type Ranker struct {
	gen    Generator
	logger *zap.Logger
	now    func() time.Time
}

func New(gen Generator, logger *zap.Logger) *Ranker {
	return &Ranker{
		gen:    gen,
		logger: logger,
		now:    time.Now,
	}
}

// Score runs the cheap deterministic stage: keyword term sets, sender
// role weight, deadline proximity, and ask strength.
func (r *Ranker) Score(todo model.Todo) PriorityScore {
	text := strings.ToLower(todo.SourceMessage.Subject + " " + todo.SourceMessage.Body + " " + todo.Title)

	var score float64
	var evidence []string

	for _, term := range urgentTerms {
		if strings.Contains(text, term) {
			score += 2.0
			evidence = append(evidence, "urgent keyword present: "+term)
		}
	}
	for _, term := range importantTerms {
		if strings.Contains(text, term) {
			score += 1.0
			evidence = append(evidence, "important keyword present: "+term)
		}
	}
	for _, term := range informationalTerms {
		if strings.Contains(text, term) {
			score -= 0.5
			evidence = append(evidence, "informational phrasing: "+term)
		}
	}

	switch todo.SourceMessage.RecipientRole {
	case model.RoleTo:
		score += 0.5
		evidence = append(evidence, "direct recipient")
	case model.RoleCC:
		score += 0.2
	}

	if bonus := DeadlineBonus(todo.Deadline, r.now()); bonus > 0 {
		score += bonus
		evidence = append(evidence, "deadline proximity bonus")
	}

	if containsAny(text, imperativeTerms) {
		score += 0.5
		evidence = append(evidence, "imperative phrasing")
	}
	if containsAny(text, softTerms) {
		score -= 0.3
	}

	level := model.PriorityMedium
	ambiguous := false
	switch {
	case score >= 3.0:
		level = model.PriorityHigh
	case score < 0.8:
		level = model.PriorityLow
	default:
		// The middle band is where keyword signal alone is weakest.
		ambiguous = score >= 1.2 && score <= 2.8
	}

	return PriorityScore{Overall: score, Level: level, Evidence: evidence, Ambiguous: ambiguous}
}

// DeadlineBonus returns the proximity bonus for a deadline relative to now:
// within 24h +1.5, within 72h +1.0, within a week +0.5.
func DeadlineBonus(deadline *time.Time, now time.Time) float64 {
	if deadline == nil || deadline.Before(now) {
		return 0
	}
	until := deadline.Sub(now)
	switch {
	case until <= 24*time.Hour:
		return 1.5
	case until <= 72*time.Hour:
		return 1.0
	case until <= 168*time.Hour:
		return 0.5
	default:
		return 0
	}
}

// ScoreBatch scores every TODO in the batch and writes level and
// evidence back onto the items. Ambiguous middle-band items among the
// batch's most recent may consult the reasoning service; a failed or
// absent service leaves the heuristic result in place.
func (r *Ranker) ScoreBatch(ctx context.Context, todos []model.Todo) []model.Todo {
	// Recency order decides who is allowed a reasoning call.
	byRecency := make([]int, len(todos))
	for i := range todos {
		byRecency[i] = i
	}
	sort.SliceStable(byRecency, func(a, b int) bool {
		return todos[byRecency[a]].SourceMessage.Timestamp.After(todos[byRecency[b]].SourceMessage.Timestamp)
	})

	llmBudget := llmFallbackLimit
	for _, idx := range byRecency {
		todo := &todos[idx]
		ps := r.Score(*todo)

		if ps.Ambiguous && r.gen != nil && llmBudget > 0 {
			llmBudget--
			if level, ok := r.classifyWithReasoning(ctx, *todo); ok {
				ps.Level = level
				ps.Evidence = append(ps.Evidence, "reasoning classification")
			}
		}

		todo.Priority = ps.Level
		todo.Evidence = ps.Evidence
		todo.UpdatedAt = r.now().UTC()
	}
	return todos
}

const priorityPrompt = `You are a triage assistant. Classify the priority of the task below as exactly one word: high, medium, or low. Consider urgency wording, the sender's role, and the deadline.`

func (r *Ranker) classifyWithReasoning(ctx context.Context, todo model.Todo) (model.Priority, bool) {
	var sb strings.Builder
	sb.WriteString("Task: " + todo.Title + "\n")
	sb.WriteString("Message subject: " + todo.SourceMessage.Subject + "\n")
	sb.WriteString("Message body: " + todo.SourceMessage.Body + "\n")
	sb.WriteString("Recipient role: " + string(todo.SourceMessage.RecipientRole) + "\n")
	if todo.Deadline != nil {
		sb.WriteString("Deadline: " + todo.Deadline.Format(time.RFC3339) + "\n")
	}

	resp, err := r.gen.Generate(ctx, priorityPrompt, sb.String(), 0.0, 10)
	if err != nil {
		r.logger.Warn("Priority reasoning call failed, keeping heuristic level",
			zap.String("todo_id", todo.ID),
			zap.Error(err),
		)
		return "", false
	}
	return ParsePriority(resp)
}

// ParsePriority pulls one of high/medium/low out of loose reasoning
// output. Anything else is a parse failure.
func ParsePriority(resp string) (model.Priority, bool) {
	lowered := strings.ToLower(resp)
	for _, level := range []model.Priority{model.PriorityHigh, model.PriorityMedium, model.PriorityLow} {
		if strings.Contains(lowered, string(level)) {
			return level, true
		}
	}
	return "", false
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
