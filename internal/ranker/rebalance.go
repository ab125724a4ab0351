package ranker

import (
	"sort"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

const (
	promoteShare = 0.3
	demoteShare  = 0.2

	evidenceBonusCap  = 0.6
	evidenceBonusStep = 0.2
)

// CompositeScore is the rebalancing input: base priority weight plus
// deadline urgency plus a capped evidence bonus. The bonus reads the
// TODO's Evidence field directly; the Top-3 selector reuses the same
// composite.
func (r *Ranker) CompositeScore(todo model.Todo) float64 {
	score := model.PriorityWeight(todo.Priority)
	score += DeadlineBonus(todo.Deadline, r.now())
	score += evidenceBonus(len(todo.Evidence))
	return score
}

func evidenceBonus(n int) float64 {
	bonus := evidenceBonusStep * float64(n)
	if bonus > evidenceBonusCap {
		return evidenceBonusCap
	}
	return bonus
}

// Rebalance adjusts a batch's priorities by rank position: the top
// ~30% move toward high, the bottom ~20% toward low. Movement is
// bounded by the original level so that rank position alone can never
// carry an item across the whole scale. An item whose original level
// was low stops at medium on the way up, and an original high stops
// at medium on the way down. Without that bound, short acknowledgement
// messages with a nonzero evidence count drift into the high bucket.
func (r *Ranker) Rebalance(todos []model.Todo) []model.Todo {
	if len(todos) < 2 {
		return todos
	}

	type ranked struct {
		idx      int
		score    float64
		original model.Priority
	}

	items := make([]ranked, len(todos))
	for i := range todos {
		items[i] = ranked{idx: i, score: r.CompositeScore(todos[i]), original: todos[i].Priority}
	}
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].score > items[b].score
	})

	promoteCount := int(float64(len(items)) * promoteShare)
	demoteCount := int(float64(len(items)) * demoteShare)

	now := r.now().UTC()

	for pos, item := range items {
		todo := &todos[item.idx]
		switch {
		case pos < promoteCount:
			next := promote(todo.Priority)
			if item.original == model.PriorityLow && next == model.PriorityHigh {
				next = model.PriorityMedium
			}
			if next != todo.Priority {
				todo.Priority = next
				todo.UpdatedAt = now
			}
		case pos >= len(items)-demoteCount:
			next := demote(todo.Priority)
			if item.original == model.PriorityHigh && next == model.PriorityLow {
				next = model.PriorityMedium
			}
			if next != todo.Priority {
				todo.Priority = next
				todo.UpdatedAt = now
			}
		}
	}

	return todos
}

func promote(p model.Priority) model.Priority {
	switch p {
	case model.PriorityLow:
		return model.PriorityMedium
	default:
		return model.PriorityHigh
	}
}

func demote(p model.Priority) model.Priority {
	switch p {
	case model.PriorityHigh:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}
