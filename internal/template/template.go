// Package template renders outreach messages from resolved profiles.
// Placeholders: {{Name}}, {{FirstName}}, {{Company}}, {{Title}}.
package template

import (
	"fmt"
	"strings"

	"github.com/eracle/linkreach/internal/models"
)

// NoteLimit is the connection-note character cap enforced by LinkedIn.
const NoteLimit = 280

// Render fills tmpl with profile fields. Fails on an empty template or a
// missing profile; callers surface that as a fatal action failure.
func Render(tmpl string, p *models.ResolvedProfile) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", fmt.Errorf("empty template")
	}
	if p == nil {
		return "", fmt.Errorf("no resolved profile to render with")
	}
	r := strings.NewReplacer(
		"{{Name}}", p.FullName,
		"{{FirstName}}", firstName(p),
		"{{Company}}", company(p),
		"{{Title}}", title(p),
	)
	return strings.TrimSpace(r.Replace(tmpl)), nil
}

// RenderNote renders a connection note, truncated to the platform cap.
// The cap counts characters, and truncation must never split a rune.
func RenderNote(tmpl string, p *models.ResolvedProfile) (string, error) {
	note, err := Render(tmpl, p)
	if err != nil {
		return "", err
	}
	if r := []rune(note); len(r) > NoteLimit {
		note = string(r[:NoteLimit])
	}
	return note, nil
}

func firstName(p *models.ResolvedProfile) string {
	if p.FirstName != "" {
		return p.FirstName
	}
	if idx := strings.Index(p.FullName, " "); idx > 0 {
		return p.FullName[:idx]
	}
	return p.FullName
}

func company(p *models.ResolvedProfile) string {
	if len(p.Positions) > 0 && p.Positions[0].CompanyName != "" {
		return p.Positions[0].CompanyName
	}
	// Fall back to "... at Company" headlines.
	if idx := strings.Index(strings.ToLower(p.Headline), " at "); idx >= 0 {
		return strings.TrimSpace(p.Headline[idx+4:])
	}
	return ""
}

// title extracts a short job title from the headline, cutting decorations
// like "@ Acme" or "| Building X".
func title(p *models.ResolvedProfile) string {
	t := p.Headline
	if len(p.Positions) > 0 && p.Positions[0].Title != "" && p.Positions[0].Title != "Unknown Title" {
		t = p.Positions[0].Title
	}
	for _, sep := range []string{"@", "|", " at "} {
		if idx := strings.Index(t, sep); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
	}
	if r := []rune(t); len(r) > 50 {
		t = string(r[:50])
		if idx := strings.LastIndex(t, " "); idx > 20 {
			t = t[:idx]
		}
	}
	return t
}
