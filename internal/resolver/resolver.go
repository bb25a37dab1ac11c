// Package resolver flattens normalized API payloads into typed records.
//
// A normalized payload carries a root object under "data" plus a side
// table of entities under "included", each addressable by its entityUrn.
// Fields whose name starts with "*" hold references into that side table
// instead of inline values. Resolution replaces every reference with the
// referenced entity's projected fields and fails when a reference has no
// matching entity or when a reference chain loops back on itself.
package resolver

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eracle/linkreach/internal/models"
)

const (
	profileType = "com.linkedin.voyager.dash.identity.profile.Profile"
	companyType = "com.linkedin.voyager.dash.organization.Company"
)

var distanceToDegree = map[string]int{
	"DISTANCE_1": 1,
	"DISTANCE_2": 2,
	"DISTANCE_3": 3,
}

// ResolutionError reports a malformed or incomplete source payload.
type ResolutionError struct {
	Reason string
}

func (e *ResolutionError) Error() string { return "resolution error: " + e.Reason }

func errorf(format string, args ...any) error {
	return &ResolutionError{Reason: fmt.Sprintf(format, args...)}
}

// graph is the transient urn -> entity index built per resolution; the
// active set tracks the reference chain currently being walked so cycles
// fail instead of recursing forever. Not retained after resolution.
type graph struct {
	index  map[string]map[string]any
	active map[string]bool
}

func newGraph(payload map[string]any) *graph {
	g := &graph{index: map[string]map[string]any{}, active: map[string]bool{}}
	included, _ := payload["included"].([]any)
	for _, raw := range included {
		entity, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if urn, _ := entity["entityUrn"].(string); urn != "" {
			g.index[urn] = entity
		}
	}
	return g
}

// enter resolves urn and marks it active for the duration of fn.
func (g *graph) enter(urn string, fn func(entity map[string]any) error) error {
	if g.active[urn] {
		return errorf("reference cycle at %s", urn)
	}
	entity, ok := g.index[urn]
	if !ok {
		return errorf("unresolved reference: %s", urn)
	}
	g.active[urn] = true
	defer delete(g.active, urn)
	return fn(entity)
}

// ref returns the entity referenced by the given *-field, or nil when the
// field is absent. A present but unresolvable reference is an error.
func (g *graph) ref(entity map[string]any, field string) (map[string]any, error) {
	urn, ok := entity[field].(string)
	if !ok || urn == "" {
		return nil, nil
	}
	target, found := g.index[urn]
	if !found {
		return nil, errorf("unresolved reference %s in %s", urn, field)
	}
	return target, nil
}

// refList resolves a *-field holding a list of urns, order preserved.
func (g *graph) refList(entity map[string]any, field string) ([]map[string]any, error) {
	raw, ok := entity[field].([]any)
	if !ok {
		return nil, nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		urn, ok := v.(string)
		if !ok {
			continue
		}
		target, found := g.index[urn]
		if !found {
			return nil, errorf("unresolved reference %s in %s", urn, field)
		}
		out = append(out, target)
	}
	return out, nil
}

// ResolveProfile flattens a raw profile payload. When publicIdentifier is
// non-empty only the matching profile entity is accepted as root.
func ResolveProfile(raw json.RawMessage, publicIdentifier string) (*models.ResolvedProfile, error) {
	payload, err := decode(raw)
	if err != nil {
		return nil, err
	}
	g := newGraph(payload)

	root := findRoot(payload, g, profileType, func(entity map[string]any) bool {
		if publicIdentifier == "" {
			return true
		}
		id, _ := entity["publicIdentifier"].(string)
		return id == publicIdentifier
	})
	if root == nil {
		return nil, errorf("no profile entity in payload")
	}

	urn, _ := root["entityUrn"].(string)
	if urn == "" {
		return nil, errorf("profile entity has no entityUrn")
	}
	firstName, _ := root["firstName"].(string)
	lastName, _ := root["lastName"].(string)
	if firstName == "" && lastName == "" {
		return nil, errorf("profile entity %s has no name", urn)
	}

	p := &models.ResolvedProfile{
		URN:              urn,
		PublicIdentifier: str(root, "publicIdentifier"),
		FirstName:        firstName,
		LastName:         lastName,
		FullName:         strings.TrimSpace(firstName + " " + lastName),
		Headline:         str(root, "headline"),
		Summary:          str(root, "summary"),
		LocationName:     str(root, "locationName"),
		Positions:        []models.Position{},
		Educations:       []models.Education{},
	}
	p.URL = "https://www.linkedin.com/in/" + p.PublicIdentifier + "/"

	if geo, err := g.ref(root, "*geo"); err != nil {
		return nil, err
	} else if geo != nil {
		p.GeoName = entityName(geo)
	}
	if ind, err := g.ref(root, "*industry"); err != nil {
		return nil, err
	} else if ind != nil {
		p.IndustryName = entityName(ind)
	}

	if err := resolvePositions(g, root, p); err != nil {
		return nil, err
	}
	if err := resolveEducations(g, root, p); err != nil {
		return nil, err
	}
	if err := resolveSkills(g, root, p); err != nil {
		return nil, err
	}
	resolveConnection(g, root, p)
	return p, nil
}

// ResolveCompany flattens a raw organization payload.
func ResolveCompany(raw json.RawMessage) (*models.Company, error) {
	payload, err := decode(raw)
	if err != nil {
		return nil, err
	}
	g := newGraph(payload)

	root := findRoot(payload, g, companyType, func(map[string]any) bool { return true })
	if root == nil {
		return nil, errorf("no company entity in payload")
	}
	urn, _ := root["entityUrn"].(string)
	name, _ := root["name"].(string)
	if urn == "" || name == "" {
		return nil, errorf("company entity missing urn or name")
	}

	c := &models.Company{
		URN:         urn,
		Name:        name,
		Tagline:     str(root, "tagline"),
		About:       str(root, "description"),
		Website:     str(root, "websiteUrl"),
		CompanySize: staffRange(root),
		URL:         str(root, "url"),
	}
	if ind, err := g.ref(root, "*industry"); err != nil {
		return nil, err
	} else if ind != nil {
		c.IndustryName = entityName(ind)
	}
	if hq, ok := root["headquarter"].(map[string]any); ok {
		parts := []string{}
		for _, k := range []string{"city", "geographicArea", "country"} {
			if v := str(hq, k); v != "" {
				parts = append(parts, v)
			}
		}
		c.Headquarters = strings.Join(parts, ", ")
	}
	return c, nil
}

func decode(raw json.RawMessage) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errorf("payload is not valid JSON: %v", err)
	}
	return payload, nil
}

// findRoot locates the root entity by $type, falling back to the first
// urn listed under data.*elements.
func findRoot(payload map[string]any, g *graph, wantType string, match func(map[string]any) bool) map[string]any {
	included, _ := payload["included"].([]any)
	for _, raw := range included {
		entity, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := entity["$type"].(string); t == wantType && match(entity) {
			return entity
		}
	}
	data, _ := payload["data"].(map[string]any)
	if data == nil {
		return nil
	}
	elements, _ := data["*elements"].([]any)
	if len(elements) == 0 {
		return nil
	}
	urn, _ := elements[0].(string)
	return g.index[urn]
}

// resolvePositions walks profile -> position groups -> group -> positions,
// resolving each position's *company reference.
func resolvePositions(g *graph, root map[string]any, p *models.ResolvedProfile) error {
	groupsURN, _ := root["*profilePositionGroups"].(string)
	if groupsURN == "" {
		return nil
	}
	return g.enter(groupsURN, func(groups map[string]any) error {
		groupEntities, err := g.refList(groups, "*elements")
		if err != nil {
			return err
		}
		for _, group := range groupEntities {
			collURN, _ := group["*profilePositionInPositionGroup"].(string)
			if collURN == "" {
				continue
			}
			if err := g.enter(collURN, func(coll map[string]any) error {
				positions, err := g.refList(coll, "*elements")
				if err != nil {
					return err
				}
				for _, pos := range positions {
					resolved, err := resolvePosition(g, pos)
					if err != nil {
						return err
					}
					p.Positions = append(p.Positions, resolved)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func resolvePosition(g *graph, pos map[string]any) (models.Position, error) {
	out := models.Position{
		Title:       str(pos, "title"),
		Location:    str(pos, "locationName"),
		Description: str(pos, "description"),
		URN:         str(pos, "entityUrn"),
		DateRange:   dateRange(pos),
	}
	if out.Title == "" {
		out.Title = "Unknown Title"
	}
	company, err := g.ref(pos, "*company")
	if err != nil {
		return out, err
	}
	if company != nil {
		out.CompanyName = str(company, "name")
		out.CompanyURN = str(company, "entityUrn")
	} else {
		out.CompanyName = str(pos, "companyName")
		out.CompanyURN = str(pos, "companyUrn")
	}
	if out.CompanyName == "" {
		out.CompanyName = "Unknown Company"
	}
	return out, nil
}

func resolveEducations(g *graph, root map[string]any, p *models.ResolvedProfile) error {
	eduURN, _ := root["*profileEducations"].(string)
	if eduURN == "" {
		return nil
	}
	return g.enter(eduURN, func(coll map[string]any) error {
		entries, err := g.refList(coll, "*elements")
		if err != nil {
			return err
		}
		for _, edu := range entries {
			out := models.Education{
				DegreeName:   str(edu, "degreeName"),
				FieldOfStudy: str(edu, "fieldOfStudy"),
				URN:          str(edu, "entityUrn"),
				DateRange:    dateRange(edu),
			}
			school, err := g.ref(edu, "*school")
			if err != nil {
				return err
			}
			if school != nil {
				out.SchoolName = str(school, "name")
			} else {
				out.SchoolName = str(edu, "schoolName")
			}
			if out.SchoolName == "" {
				out.SchoolName = "Unknown School"
			}
			p.Educations = append(p.Educations, out)
		}
		return nil
	})
}

func resolveSkills(g *graph, root map[string]any, p *models.ResolvedProfile) error {
	skillsURN, _ := root["*profileSkills"].(string)
	if skillsURN == "" {
		return nil
	}
	return g.enter(skillsURN, func(coll map[string]any) error {
		entries, err := g.refList(coll, "*elements")
		if err != nil {
			return err
		}
		for _, skill := range entries {
			if name := entityName(skill); name != "" {
				p.Skills = append(p.Skills, name)
			}
		}
		return nil
	})
}

// resolveConnection extracts distance/degree from the member relationship
// entity. Best effort: an absent or odd-shaped relationship just leaves
// the fields empty.
func resolveConnection(g *graph, root map[string]any, p *models.ResolvedProfile) {
	relURN, _ := root["*memberRelationship"].(string)
	if relURN == "" {
		return
	}
	rel, ok := g.index[relURN]
	if !ok {
		return
	}
	union, _ := rel["memberRelationshipUnion"].(map[string]any)
	if union == nil {
		union, _ = rel["memberRelationshipData"].(map[string]any)
	}
	if union == nil {
		return
	}
	if _, connected := union["connectedMember"]; connected {
		p.ConnectionDistance = "DISTANCE_1"
		p.ConnectionDegree = 1
		return
	}
	if _, connected := union["connection"]; connected {
		p.ConnectionDistance = "DISTANCE_1"
		p.ConnectionDegree = 1
		return
	}
	if noConn, ok := union["noConnection"].(map[string]any); ok {
		dist, _ := noConn["memberDistance"].(string)
		p.ConnectionDistance = dist
		p.ConnectionDegree = distanceToDegree[dist]
	}
}

func str(entity map[string]any, key string) string {
	v, _ := entity[key].(string)
	return v
}

func entityName(entity map[string]any) string {
	if n := str(entity, "name"); n != "" {
		return n
	}
	return str(entity, "defaultLocalizedName")
}

func dateRange(entity map[string]any) *models.DateRange {
	raw, ok := entity["dateRange"].(map[string]any)
	if !ok {
		return nil
	}
	out := &models.DateRange{Start: date(raw, "start"), End: date(raw, "end")}
	if out.Start == nil && out.End == nil {
		return nil
	}
	return out
}

func date(raw map[string]any, key string) *models.Date {
	d, ok := raw[key].(map[string]any)
	if !ok {
		return nil
	}
	out := &models.Date{}
	if y, ok := d["year"].(float64); ok {
		out.Year = int(y)
	}
	if m, ok := d["month"].(float64); ok {
		out.Month = int(m)
	}
	return out
}

func staffRange(root map[string]any) string {
	r, ok := root["employeeCountRange"].(map[string]any)
	if !ok {
		return ""
	}
	start, hasStart := r["start"].(float64)
	end, hasEnd := r["end"].(float64)
	switch {
	case hasStart && hasEnd:
		return fmt.Sprintf("%d-%d", int(start), int(end))
	case hasStart:
		return fmt.Sprintf("%d+", int(start))
	}
	return ""
}
