package top3

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/dragon-zzuni/offline-agent/internal/model"
)

const selectSystemPrompt = `You pick the 3 most important tasks that satisfy the user's rule.
Work in two strictly ordered steps:
1. "rationale": reason step by step. For every condition you extract from the rule (project, requester, type, channel), name which candidate ids satisfy it and which do not.
2. "selected_ids": only after the rationale, list exactly 3 literal candidate ids copied verbatim from the list.
Respond with one JSON object of the form {"rationale": "...", "selected_ids": ["id", "id", "id"]}. The rationale field must come first.`

// buildSelectPrompt serializes the candidates compactly together with
// an email to display-name mapping, then states the rule.
func buildSelectPrompt(candidates []model.Todo, rule string, directory *model.ProjectDirectory) string {
	var sb strings.Builder

	sb.WriteString("Candidates:\n")
	for _, t := range candidates {
		project := "none"
		if t.ProjectTag != nil {
			project = *t.ProjectTag
			if directory != nil {
				if p, ok := directory.ByCode(*t.ProjectTag); ok {
					project = fmt.Sprintf("%s (%s)", p.Name, p.Code)
				}
			}
		}
		deadline := "none"
		if t.Deadline != nil {
			deadline = t.Deadline.Format("2006-01-02 15:04")
		}
		sb.WriteString(fmt.Sprintf("- id=%s | title=%s | project=%s | requester=%s | type=%s | priority=%s | deadline=%s\n",
			t.ID, t.Title, project, DisplayName(t.Requester), t.Type, t.Priority, deadline))
	}

	sb.WriteString("\nRequester names:\n")
	seen := map[string]bool{}
	for _, t := range candidates {
		if t.Requester == "" || seen[t.Requester] {
			continue
		}
		seen[t.Requester] = true
		sb.WriteString(fmt.Sprintf("- %s = %s\n", t.Requester, DisplayName(t.Requester)))
	}

	sb.WriteString("\nRule: " + rule + "\n")
	return sb.String()
}

// DisplayName derives a human name from an email address or chat
// handle: the local part, split on separators, each piece capitalized.
func DisplayName(requester string) string {
	name := requester
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || unicode.IsDigit(r)
	})
	if len(parts) == 0 {
		return requester
	}
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, " ")
}

type selectResponse struct {
	Rationale   string   `json:"rationale"`
	SelectedIDs []string `json:"selected_ids"`
}

// parseSelectResponse pulls rationale and ids out of loose reasoning
// output: fenced or prefixed JSON is tolerated, and when no JSON
// parses at all, candidate ids quoted anywhere in the text are taken
// in order of appearance.
func parseSelectResponse(resp string, candidateIDs map[string]bool) (selectResponse, bool) {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if start := strings.IndexByte(cleaned, '{'); start >= 0 {
		if end := strings.LastIndexByte(cleaned, '}'); end > start {
			var parsed selectResponse
			if err := json.Unmarshal([]byte(cleaned[start:end+1]), &parsed); err == nil && len(parsed.SelectedIDs) > 0 {
				return parsed, true
			}
		}
	}

	// Last resort: scan the raw text for literal candidate ids, taken
	// in order of appearance.
	type hit struct {
		id  string
		pos int
	}
	var hits []hit
	for id := range candidateIDs {
		if pos := strings.Index(resp, id); pos >= 0 {
			hits = append(hits, hit{id: id, pos: pos})
		}
	}
	if len(hits) == 0 {
		return selectResponse{}, false
	}
	sort.Slice(hits, func(a, b int) bool { return hits[a].pos < hits[b].pos })
	found := make([]string, len(hits))
	for i, h := range hits {
		found[i] = h.id
	}
	return selectResponse{Rationale: cleaned, SelectedIDs: found}, true
}
