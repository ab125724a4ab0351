package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dragon-zzuni/offline-agent/internal/model"
	"github.com/dragon-zzuni/offline-agent/pkg/metrics"
)

// TagCache is the persistent decision store consulted before any other
// stage.
type TagCache interface {
	Get(ctx context.Context, todoID string) (*model.ProjectTagCacheEntry, bool, error)
	Put(ctx context.Context, entry model.ProjectTagCacheEntry) error
}

// Generator is the reasoning capability used by the content-analysis
// stage. May be nil.
type Generator interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}

// Classifier resolves a project tag for a TODO through an ordered
// strategy cascade. Each stage runs only when the previous one yields
// nothing; the first non-nil tag wins and is cached.
type Classifier struct {
	cache     TagCache
	gen       Generator
	directory *model.ProjectDirectory
	logger    *zap.Logger
}

func New(cache TagCache, gen Generator, directory *model.ProjectDirectory, logger *zap.Logger) *Classifier {
	return &Classifier{
		cache:     cache,
		gen:       gen,
		directory: directory,
		logger:    logger,
	}
}

type stage func(ctx context.Context, todo model.Todo) *model.TagDecision

// Classify runs the cascade: cache, explicit pattern, reasoning,
// heuristic analysis, sender fallback. A TODO no stage can place keeps
// a nil tag; that is a valid outcome, not an error. A TODO without a
// source-message snapshot is unclassifiable.
func (c *Classifier) Classify(ctx context.Context, todo model.Todo) (model.TagDecision, error) {
	if !todo.HasSnapshot() {
		c.logger.Warn("Todo has no source message snapshot, leaving unclassified",
			zap.String("todo_id", todo.ID),
		)
		return model.TagDecision{Source: model.TagSourceFallback, Method: "none", Reason: "missing source message snapshot"}, nil
	}

	stages := []struct {
		name string
		fn   stage
	}{
		{"cache", c.fromCache},
		{"explicit", c.fromExplicitPattern},
		{"llm", c.fromReasoning},
		{"advanced", c.fromHeuristic},
		{"sender", c.fromSender},
	}

	for _, s := range stages {
		decision := s.fn(ctx, todo)
		if decision == nil {
			continue
		}

		metrics.TagClassifications.WithLabelValues(string(decision.Source)).Inc()

		// Cache every fresh successful decision for audit and reuse.
		if decision.Tag != nil && decision.Source != model.TagSourceCache {
			entry := model.ProjectTagCacheEntry{
				TodoID:     todo.ID,
				ProjectTag: *decision.Tag,
				Source:     decision.Source,
				Method:     decision.Method,
				Reason:     decision.Reason,
			}
			if err := c.cache.Put(ctx, entry); err != nil {
				c.logger.Error("Failed to cache tag decision",
					zap.String("todo_id", todo.ID),
					zap.Error(err),
				)
			}
		}
		return *decision, nil
	}

	metrics.TagClassifications.WithLabelValues("none").Inc()
	return model.TagDecision{Source: model.TagSourceFallback, Method: "none", Reason: "no stage produced a tag"}, nil
}

func (c *Classifier) fromCache(ctx context.Context, todo model.Todo) *model.TagDecision {
	entry, ok, err := c.cache.Get(ctx, todo.ID)
	if err != nil {
		c.logger.Warn("Tag cache lookup failed, continuing cascade",
			zap.String("todo_id", todo.ID),
			zap.Error(err),
		)
		return nil
	}
	if !ok {
		return nil
	}
	tag := entry.ProjectTag
	return &model.TagDecision{
		Tag:    &tag,
		Source: model.TagSourceCache,
		Method: string(entry.Source),
		Reason: entry.Reason,
	}
}

// fromExplicitPattern scans the title and body for literal project
// markers, scored by specificity: bracketed full name beats plain full
// name beats bare code.
func (c *Classifier) fromExplicitPattern(_ context.Context, todo model.Todo) *model.TagDecision {
	text := todo.Title + " " + todo.SourceMessage.Subject + " " + todo.SourceMessage.Body
	lowered := strings.ToLower(text)

	best := -1
	bestScore := 0
	bestReason := ""

	for i, p := range c.directory.Projects {
		name := strings.ToLower(p.Name)
		code := strings.ToLower(p.Code)

		score := 0
		reason := ""
		switch {
		case name != "" && strings.Contains(lowered, "["+name+"]"):
			score = 3
			reason = fmt.Sprintf("bracketed project name %q in text", p.Name)
		case name != "" && strings.Contains(lowered, name):
			score = 2
			reason = fmt.Sprintf("project name %q in text", p.Name)
		case code != "" && containsWord(lowered, code):
			score = 1
			reason = fmt.Sprintf("project code %q in text", p.Code)
		}

		if score > bestScore {
			best = i
			bestScore = score
			bestReason = reason
		}
	}

	if best < 0 {
		return nil
	}
	tag := c.directory.Projects[best].Code
	return &model.TagDecision{
		Tag:    &tag,
		Source: model.TagSourceExplicit,
		Method: "pattern",
		Reason: bestReason,
	}
}

func (c *Classifier) fromReasoning(ctx context.Context, todo model.Todo) *model.TagDecision {
	if c.gen == nil {
		return nil
	}

	resp, err := c.gen.Generate(ctx, tagSystemPrompt, c.buildTagPrompt(todo), 0.0, 120)
	if err != nil {
		c.logger.Warn("Tag reasoning call failed, continuing cascade",
			zap.String("todo_id", todo.ID),
			zap.Error(err),
		)
		return nil
	}

	code, reason, ok := ParseTagResponse(resp)
	if !ok {
		c.logger.Debug("Unparseable tag response, continuing cascade",
			zap.String("todo_id", todo.ID),
			zap.String("response", truncate(resp, 120)),
		)
		return nil
	}

	project, found := c.directory.ByCode(code)
	if !found {
		c.logger.Warn("Reasoning returned unknown project code, continuing cascade",
			zap.String("todo_id", todo.ID),
			zap.String("code", code),
		)
		return nil
	}

	tag := project.Code
	return &model.TagDecision{
		Tag:    &tag,
		Source: model.TagSourceLLM,
		Method: "content_analysis",
		Reason: reason,
	}
}

const tagSystemPrompt = `You assign exactly one project code to a task. Answer with a single line of the form CODE|reason. If no project fits, answer UNKNOWN|reason.`

func (c *Classifier) buildTagPrompt(todo model.Todo) string {
	var sb strings.Builder
	sb.WriteString("Projects:\n")
	for _, p := range c.directory.Projects {
		sb.WriteString(fmt.Sprintf("- %s: %s. %s Members: %s\n",
			p.Code, p.Name, p.Description, strings.Join(p.MemberEmails, ", ")))
	}
	sb.WriteString("\nTask title: " + todo.Title + "\n")
	sb.WriteString("Sender: " + todo.SourceMessage.Sender + "\n")
	sb.WriteString("Subject: " + todo.SourceMessage.Subject + "\n")
	sb.WriteString("Body: " + truncate(todo.SourceMessage.Body, 1500) + "\n")
	return sb.String()
}

// ParseTagResponse extracts (code, reason) from loose reasoning output
// of the form "CODE|reason" or "CODE (reason)". UNKNOWN and anything
// unparseable report false.
func ParseTagResponse(resp string) (string, string, bool) {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "```")
	resp = strings.TrimSuffix(resp, "```")
	resp = strings.TrimSpace(resp)

	// Only the first line carries the answer.
	if i := strings.IndexByte(resp, '\n'); i >= 0 {
		resp = resp[:i]
	}

	var code, reason string
	switch {
	case strings.Contains(resp, "|"):
		parts := strings.SplitN(resp, "|", 2)
		code, reason = parts[0], parts[1]
	case strings.Contains(resp, "("):
		i := strings.IndexByte(resp, '(')
		code = resp[:i]
		reason = strings.TrimSuffix(resp[i+1:], ")")
	default:
		code = resp
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	reason = strings.TrimSpace(reason)

	if code == "" || code == "UNKNOWN" || strings.ContainsAny(code, " \t") {
		return "", "", false
	}
	return code, reason, true
}

// Heuristic stage weights.
const (
	keywordOverlapPoints = 10
	nameTokenPoints      = 20
	weekRangePoints      = 5
)

// fromHeuristic scores each project the sender participates in by
// description keyword overlap, project-name token match, and whether
// the message falls inside the project's declared week range.
func (c *Classifier) fromHeuristic(_ context.Context, todo model.Todo) *model.TagDecision {
	candidates := c.directory.ProjectsOf(todo.SourceMessage.Sender)
	if len(candidates) == 0 {
		return nil
	}

	text := strings.ToLower(todo.Title + " " + todo.SourceMessage.Subject + " " + todo.SourceMessage.Body)

	bestScore := 0
	var best *model.Project
	bestReason := ""

	for i := range candidates {
		p := candidates[i]
		score := 0
		var why []string

		for _, kw := range descriptionKeywords(p.Description) {
			if strings.Contains(text, kw) {
				score += keywordOverlapPoints
				why = append(why, "keyword "+kw)
			}
		}

		for _, token := range strings.Fields(strings.ToLower(p.Name)) {
			if len(token) > 2 && strings.Contains(text, token) {
				score += nameTokenPoints
				why = append(why, "name token "+token)
				break
			}
		}

		// The week range sharpens an existing content signal; on its
		// own it says nothing about this particular message.
		if score > 0 && inWeekRange(todo.SourceMessage.Timestamp, p.StartWeek, p.EndWeek) {
			score += weekRangePoints
			why = append(why, "inside project weeks")
		}

		if score > bestScore {
			bestScore = score
			best = &candidates[i]
			bestReason = strings.Join(why, ", ")
		}
	}

	if best == nil || bestScore == 0 {
		return nil
	}
	tag := best.Code
	return &model.TagDecision{
		Tag:    &tag,
		Source: model.TagSourceAdvanced,
		Method: "heuristic_analysis",
		Reason: fmt.Sprintf("score %d: %s", bestScore, bestReason),
	}
}

// fromSender places a TODO by sender membership alone: a sender in
// exactly one project decides it; with several, the per-project
// activity score breaks the tie, defaulting to the first declared
// project when everything ties at zero.
func (c *Classifier) fromSender(_ context.Context, todo model.Todo) *model.TagDecision {
	candidates := c.directory.ProjectsOf(todo.SourceMessage.Sender)
	if len(candidates) == 0 {
		return nil
	}

	if len(candidates) == 1 {
		tag := candidates[0].Code
		return &model.TagDecision{
			Tag:    &tag,
			Source: model.TagSourceSender,
			Method: "single_membership",
			Reason: fmt.Sprintf("sender %s participates only in %s", todo.SourceMessage.Sender, tag),
		}
	}

	text := strings.ToLower(todo.Title + " " + todo.SourceMessage.Subject + " " + todo.SourceMessage.Body)
	best := 0
	bestScore := 0
	for i, p := range candidates {
		score := activityScore(text, p)
		if score > bestScore {
			best = i
			bestScore = score
		}
	}

	tag := candidates[best].Code
	method := "activity_score"
	reason := fmt.Sprintf("highest activity score among %d memberships", len(candidates))
	if bestScore == 0 {
		method = "first_declared"
		reason = fmt.Sprintf("no activity signal, first declared of %d memberships", len(candidates))
	}
	return &model.TagDecision{
		Tag:    &tag,
		Source: model.TagSourceSender,
		Method: method,
		Reason: reason,
	}
}

func activityScore(text string, p model.Project) int {
	score := 0
	if containsWord(text, strings.ToLower(p.Code)) {
		score += 2
	}
	for _, token := range strings.Fields(strings.ToLower(p.Name)) {
		if len(token) > 2 && strings.Contains(text, token) {
			score++
		}
	}
	return score
}

// descriptionKeywords extracts the content-bearing words of a project
// description.
func descriptionKeywords(description string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(description)) {
		w = strings.Trim(w, ".,;:()")
		if len(w) > 3 {
			out = append(out, w)
		}
	}
	return out
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordChar(text[start-1])
		afterOK := end == len(text) || !isWordChar(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func inWeekRange(ts time.Time, startWeek, endWeek int) bool {
	if startWeek == 0 && endWeek == 0 {
		return false
	}
	_, week := ts.ISOWeek()
	return week >= startWeek && week <= endWeek
}
