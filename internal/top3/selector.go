package top3

import (
	"context"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dragon-zzuni/offline-agent/internal/model"
	"github.com/dragon-zzuni/offline-agent/internal/ranker"
	"github.com/dragon-zzuni/offline-agent/pkg/metrics"
)

const (
	// Candidate sets above this size are deterministically prefiltered
	// before prompting.
	maxPromptCandidates = 50

	// After this many consecutive reasoning failures the selector
	// latches to score mode until reset.
	failureLatchThreshold = 3
)

// Selection modes.
const (
	ModeScore        = "score"
	ModeForced       = "forced"
	ModeForcedCached = "forced_cached"
)

// Selection is the outcome of one Top-3 run.
type Selection struct {
	SelectedIDs []string `json:"selected_ids"`
	Reasoning   string   `json:"reasoning"`
	Mode        string   `json:"mode"`
}

// Generator is the reasoning capability used in forced mode. May be nil.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}

// Selector picks the 3 most important TODOs, optionally steered by a
// natural-language rule.
type Selector struct {
	gen       Generator
	cache     CacheStore
	ranker    *ranker.Ranker
	directory *model.ProjectDirectory
	logger    *zap.Logger

	mu       sync.Mutex
	failures int
}

func NewSelector(gen Generator, cache CacheStore, rk *ranker.Ranker, directory *model.ProjectDirectory, logger *zap.Logger) *Selector {
	return &Selector{
		gen:       gen,
		cache:     cache,
		ranker:    rk,
		directory: directory,
		logger:    logger,
	}
}

// Select returns up to 3 TODO ids with an explanation. An empty
// candidate list legitimately yields an empty selection, never an
// error. With an empty rule the selection is purely score based; with
// a rule the selector runs forced mode, falling back to scoring on any
// reasoning failure.
func (s *Selector) Select(ctx context.Context, todos []model.Todo, rule string) (Selection, error) {
	candidates := make([]model.Todo, 0, len(todos))
	for _, t := range todos {
		if t.Status != model.StatusDone {
			candidates = append(candidates, t)
		}
	}

	if len(candidates) == 0 {
		return Selection{Mode: ModeScore, Reasoning: "no pending items"}, nil
	}

	rule = strings.TrimSpace(rule)
	if rule == "" {
		metrics.Top3Selections.WithLabelValues(ModeScore).Inc()
		return s.scoreSelect(candidates, "selected by composite score"), nil
	}

	if s.latched() {
		s.logger.Warn("Reasoning latched off after repeated failures, using score selection")
		metrics.Top3Selections.WithLabelValues("forced_fallback").Inc()
		return s.scoreSelect(candidates, "reasoning temporarily disabled after repeated failures; selected by composite score"), nil
	}

	key := CacheKey(idsOf(candidates), rule)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, key); ok {
			metrics.Top3Selections.WithLabelValues(ModeForcedCached).Inc()
			out := *cached
			out.Mode = ModeForcedCached
			return out, nil
		}
	}

	prompting := candidates
	if len(prompting) > maxPromptCandidates {
		prompting = s.prefilter(candidates, rule)
	}

	sel, ok := s.forcedSelect(ctx, prompting, candidates, rule)
	if !ok {
		metrics.Top3Selections.WithLabelValues("forced_fallback").Inc()
		return s.scoreSelect(candidates, "rule-based reasoning unavailable; selected by composite score"), nil
	}

	if s.cache != nil {
		s.cache.Set(ctx, key, sel)
	}
	metrics.Top3Selections.WithLabelValues(ModeForced).Inc()
	return sel, nil
}

// ResetFailures reopens reasoning after a latch, e.g. when the user
// changes the rule.
func (s *Selector) ResetFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

func (s *Selector) latched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures >= failureLatchThreshold
}

func (s *Selector) recordFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
}

func (s *Selector) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = 0
}

// scoreSelect is the deterministic path: same composite score the
// rebalancing pass uses, sorted descending, top 3.
func (s *Selector) scoreSelect(candidates []model.Todo, reasoning string) Selection {
	sorted := make([]model.Todo, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(a, b int) bool {
		return s.ranker.CompositeScore(sorted[a]) > s.ranker.CompositeScore(sorted[b])
	})

	n := 3
	if len(sorted) < n {
		n = len(sorted)
	}
	return Selection{
		SelectedIDs: idsOf(sorted[:n]),
		Reasoning:   reasoning,
		Mode:        ModeScore,
	}
}

func (s *Selector) forcedSelect(ctx context.Context, prompting, candidates []model.Todo, rule string) (Selection, bool) {
	if s.gen == nil {
		return Selection{}, false
	}

	resp, err := s.gen.Generate(ctx, selectSystemPrompt, buildSelectPrompt(prompting, rule, s.directory), 0.2, 800)
	if err != nil {
		s.logger.Warn("Top3 reasoning call failed", zap.Error(err))
		s.recordFailure()
		return Selection{}, false
	}

	candidateIDs := make(map[string]bool, len(candidates))
	byID := make(map[string]model.Todo, len(candidates))
	for _, t := range candidates {
		candidateIDs[t.ID] = true
		byID[t.ID] = t
	}

	parsed, ok := parseSelectResponse(resp, candidateIDs)
	if !ok {
		s.logger.Warn("Top3 response unparseable", zap.String("response", truncate(resp, 200)))
		s.recordFailure()
		return Selection{}, false
	}

	// Validate returned ids against the real candidate set.
	var selected []model.Todo
	seen := map[string]bool{}
	for _, id := range parsed.SelectedIDs {
		if !candidateIDs[id] {
			s.logger.Warn("Top3 reasoning returned invalid id, dropping", zap.String("id", id))
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		selected = append(selected, byID[id])
		if len(selected) == 3 {
			break
		}
	}
	if len(selected) == 0 {
		s.recordFailure()
		return Selection{}, false
	}

	s.recordSuccess()

	conditions := deriveConditions(rule, candidates, s.directory)
	final, explanation := reconcile(selected, candidates, conditions, parsed.Rationale, s.ranker.CompositeScore)

	return Selection{
		SelectedIDs: idsOf(final),
		Reasoning:   explanation,
		Mode:        ModeForced,
	}, true
}

// prefilter keeps the candidates most likely to matter to the rule:
// composite score plus a bonus for rule keyword overlap, top N.
func (s *Selector) prefilter(candidates []model.Todo, rule string) []model.Todo {
	ruleWords := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(rule)) {
		if len(w) > 2 {
			ruleWords[w] = true
		}
	}

	scoreOf := func(t model.Todo) float64 {
		score := s.ranker.CompositeScore(t)
		text := strings.ToLower(t.Title + " " + string(t.Priority) + " " + t.Type + " " + DisplayName(t.Requester))
		if t.ProjectTag != nil {
			text += " " + strings.ToLower(*t.ProjectTag)
		}
		for w := range ruleWords {
			if strings.Contains(text, w) {
				score += 2.0
			}
		}
		return score
	}

	sorted := make([]model.Todo, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(a, b int) bool {
		return scoreOf(sorted[a]) > scoreOf(sorted[b])
	})
	return sorted[:maxPromptCandidates]
}

func idsOf(todos []model.Todo) []string {
	out := make([]string, len(todos))
	for i, t := range todos {
		out[i] = t.ID
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
