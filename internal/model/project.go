package model

import "strings"

// Project describes one entry of the read-only project directory.
type Project struct {
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	MemberEmails []string `json:"member_emails"`
	StartWeek    int      `json:"start_week"`
	EndWeek      int      `json:"end_week"`
}

// HasMember reports whether the given email participates in the project.
func (p Project) HasMember(email string) bool {
	email = strings.ToLower(email)
	for _, m := range p.MemberEmails {
		if strings.ToLower(m) == email {
			return true
		}
	}
	return false
}

// ProjectDirectory is the static project catalogue loaded at startup.
// Declaration order is preserved for the sender-fallback tie break.
type ProjectDirectory struct {
	Projects []Project
	byCode   map[string]int
}

// NewProjectDirectory builds a directory preserving declaration order.
func NewProjectDirectory(projects []Project) *ProjectDirectory {
	d := &ProjectDirectory{
		Projects: projects,
		byCode:   make(map[string]int, len(projects)),
	}
	for i, p := range projects {
		d.byCode[strings.ToUpper(p.Code)] = i
	}
	return d
}

// ByCode looks up a project by its short code, case-insensitive.
func (d *ProjectDirectory) ByCode(code string) (Project, bool) {
	i, ok := d.byCode[strings.ToUpper(code)]
	if !ok {
		return Project{}, false
	}
	return d.Projects[i], true
}

// ProjectsOf returns the projects a sender participates in, in
// declaration order.
func (d *ProjectDirectory) ProjectsOf(email string) []Project {
	var out []Project
	for _, p := range d.Projects {
		if p.HasMember(email) {
			out = append(out, p)
		}
	}
	return out
}

// PersonaKey builds the canonical persona cache key from the persona's
// email address and chat handle.
func PersonaKey(email, handle string) string {
	return strings.ToLower(email) + "|" + strings.ToLower(handle)
}
