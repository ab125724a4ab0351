package top3

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

// ruleConditions are the explicit conditions re-derived from the rule
// text, independently of whatever rationale the reasoning service gave.
// Requester holds a lowercase name token, not an email address.
type ruleConditions struct {
	ProjectCode string
	Requester   string
	TypeKeyword string
}

func (rc ruleConditions) empty() bool {
	return rc.ProjectCode == "" && rc.Requester == "" && rc.TypeKeyword == ""
}

func (rc ruleConditions) count() int {
	n := 0
	if rc.ProjectCode != "" {
		n++
	}
	if rc.Requester != "" {
		n++
	}
	if rc.TypeKeyword != "" {
		n++
	}
	return n
}

var typeKeywords = []string{"meeting", "review", "reply", "task", "deadline"}

var requesterPattern = regexp.MustCompile(`requester\s*[=:]\s*([a-z0-9]+)`)

// deriveConditions scans the rule text for a project code or name from
// the directory, a requester display name present among the
// candidates, and a type keyword.
func deriveConditions(rule string, candidates []model.Todo, directory *model.ProjectDirectory) ruleConditions {
	lowered := strings.ToLower(rule)
	var rc ruleConditions

	if directory != nil {
		for _, p := range directory.Projects {
			if containsToken(lowered, strings.ToLower(p.Code)) ||
				(p.Name != "" && strings.Contains(lowered, strings.ToLower(p.Name))) {
				rc.ProjectCode = p.Code
				break
			}
		}
	}

	// An explicit "requester=NAME" wins; otherwise any candidate's
	// display name appearing in the rule text counts.
	if m := requesterPattern.FindStringSubmatch(lowered); m != nil {
		rc.Requester = m[1]
	} else {
		for _, t := range candidates {
			display := strings.ToLower(DisplayName(t.Requester))
			for _, token := range strings.Fields(display) {
				if len(token) > 1 && containsToken(lowered, token) {
					rc.Requester = token
					break
				}
			}
			if rc.Requester != "" {
				break
			}
		}
	}

	for _, kw := range typeKeywords {
		if containsToken(lowered, kw) {
			rc.TypeKeyword = kw
			break
		}
	}

	return rc
}

// satisfiedCount returns how many of the derived conditions the TODO
// meets.
func satisfiedCount(t model.Todo, rc ruleConditions) int {
	n := 0
	if rc.ProjectCode != "" && t.ProjectTag != nil && strings.EqualFold(*t.ProjectTag, rc.ProjectCode) {
		n++
	}
	if rc.Requester != "" && containsToken(strings.ToLower(DisplayName(t.Requester)), rc.Requester) {
		n++
	}
	if rc.TypeKeyword != "" && strings.EqualFold(t.Type, rc.TypeKeyword) {
		n++
	}
	return n
}

// reconcile is the trust-but-verify layer after a reasoning selection.
// It re-checks every selected TODO against the independently derived
// conditions, drops non-matching picks when better ones exist, tops
// the list up (perfect matches first, then partial, then fallback
// scoring only while a perfect match anchors the list), and rewrites
// the explanation whenever a condition had to be relaxed.
func reconcile(selected []model.Todo, candidates []model.Todo, rc ruleConditions, rationale string, scoreOf func(model.Todo) float64) ([]model.Todo, string) {
	if rc.empty() {
		// Nothing verifiable was extracted from the rule; the
		// reasoning selection stands as is.
		return selected, rationale
	}

	total := rc.count()

	classify := func(todos []model.Todo) (perfect, partial []model.Todo) {
		for _, t := range todos {
			switch n := satisfiedCount(t, rc); {
			case n == total:
				perfect = append(perfect, t)
			case n > 0:
				partial = append(partial, t)
			}
		}
		return perfect, partial
	}

	selPerfect, selPartial := classify(selected)

	selectedIDs := make(map[string]bool, len(selected))
	for _, t := range selected {
		selectedIDs[t.ID] = true
	}

	var rest []model.Todo
	for _, t := range candidates {
		if !selectedIDs[t.ID] {
			rest = append(rest, t)
		}
	}
	restPerfect, restPartial := classify(rest)

	// Rebuild the list: perfect matches first, then partial, then any
	// remaining candidate by score.
	final := make([]model.Todo, 0, 3)
	appendUpTo3 := func(todos []model.Todo) {
		for _, t := range todos {
			if len(final) >= 3 {
				return
			}
			final = append(final, t)
		}
	}
	appendUpTo3(selPerfect)
	appendUpTo3(restPerfect)
	perfectCount := len(final)
	appendUpTo3(selPartial)
	appendUpTo3(restPartial)
	matchedCount := len(final)

	// Fallback-scored padding is allowed only when at least one perfect
	// match anchors the selection. When the rule was already relaxed to
	// partial matches, items matching nothing never join the list.
	if len(final) < 3 && perfectCount > 0 {
		var leftovers []model.Todo
		inFinal := make(map[string]bool, len(final))
		for _, t := range final {
			inFinal[t.ID] = true
		}
		for _, t := range candidates {
			if !inFinal[t.ID] {
				leftovers = append(leftovers, t)
			}
		}
		sortByScore(leftovers, scoreOf)
		appendUpTo3(leftovers)
	}

	explanation := buildExplanation(final, perfectCount, matchedCount, rc, rationale)
	return final, explanation
}

func sortByScore(todos []model.Todo, scoreOf func(model.Todo) float64) {
	sort.SliceStable(todos, func(i, j int) bool {
		return scoreOf(todos[i]) > scoreOf(todos[j])
	})
}

// buildExplanation states plainly which conditions were relaxed rather
// than presenting an inconsistent rationale.
func buildExplanation(final []model.Todo, perfectCount, matchedCount int, rc ruleConditions, rationale string) string {
	var conds []string
	if rc.ProjectCode != "" {
		conds = append(conds, "project="+rc.ProjectCode)
	}
	if rc.Requester != "" {
		conds = append(conds, "requester="+DisplayName(rc.Requester))
	}
	if rc.TypeKeyword != "" {
		conds = append(conds, "type="+rc.TypeKeyword)
	}
	condText := strings.Join(conds, ", ")

	if perfectCount >= len(final) {
		if rationale != "" {
			return rationale
		}
		return fmt.Sprintf("All %d selected items satisfy every condition (%s).", len(final), condText)
	}

	var sb strings.Builder
	var perfectTitles []string
	for i, t := range final {
		if i < perfectCount {
			perfectTitles = append(perfectTitles, fmt.Sprintf("%q", t.Title))
		}
	}

	switch {
	case perfectCount == 0 && matchedCount > 0:
		sb.WriteString(fmt.Sprintf("No candidate satisfied all conditions (%s); %d partially matching items were selected instead.",
			condText, matchedCount))
	case perfectCount > 0:
		sb.WriteString(fmt.Sprintf("Only %d item(s) satisfied all conditions (%s): %s.",
			perfectCount, condText, strings.Join(perfectTitles, ", ")))
		if matchedCount > perfectCount {
			sb.WriteString(fmt.Sprintf(" %d more partially matching item(s) were added.", matchedCount-perfectCount))
		}
	default:
		sb.WriteString(fmt.Sprintf("No candidate matched the conditions (%s).", condText))
	}

	if len(final) > matchedCount {
		sb.WriteString(fmt.Sprintf(" The remaining %d item(s) were added by relaxed criteria using fallback scoring.", len(final)-matchedCount))
	}

	return sb.String()
}

func containsToken(text, token string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], token)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(token)
		beforeOK := start == 0 || !isAlnum(text[start-1])
		afterOK := end == len(text) || !isAlnum(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isAlnum(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
