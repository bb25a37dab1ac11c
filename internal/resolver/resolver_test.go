package resolver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloadJSON(t *testing.T, payload map[string]any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	return b
}

// profilePayload builds a normalized payload with one profile root, two
// positions referencing companies by urn, one education referencing a
// school, and a skills collection.
func profilePayload() map[string]any {
	return map[string]any{
		"data": map[string]any{
			"*elements": []any{"urn:li:fsd_profile:alice"},
		},
		"included": []any{
			map[string]any{
				"$type":                  "com.linkedin.voyager.dash.identity.profile.Profile",
				"entityUrn":              "urn:li:fsd_profile:alice",
				"publicIdentifier":       "alice",
				"firstName":              "Alice",
				"lastName":               "Nguyen",
				"headline":               "Staff Engineer at Acme",
				"summary":                "Distributed systems.",
				"locationName":           "Berlin, Germany",
				"*geo":                   "urn:li:fsd_geo:berlin",
				"*industry":              "urn:li:fsd_industry:tech",
				"*profilePositionGroups": "urn:li:fsd_collection:groups",
				"*profileEducations":     "urn:li:fsd_collection:edus",
				"*profileSkills":         "urn:li:fsd_collection:skills",
				"*memberRelationship":    "urn:li:fsd_rel:alice",
			},
			map[string]any{"entityUrn": "urn:li:fsd_geo:berlin", "defaultLocalizedName": "Berlin"},
			map[string]any{"entityUrn": "urn:li:fsd_industry:tech", "name": "Software Development"},
			map[string]any{
				"entityUrn": "urn:li:fsd_collection:groups",
				"*elements": []any{"urn:li:fsd_group:1"},
			},
			map[string]any{
				"entityUrn":                       "urn:li:fsd_group:1",
				"*profilePositionInPositionGroup": "urn:li:fsd_collection:positions",
			},
			map[string]any{
				"entityUrn": "urn:li:fsd_collection:positions",
				"*elements": []any{"urn:li:fsd_position:2", "urn:li:fsd_position:1"},
			},
			map[string]any{
				"entityUrn": "urn:li:fsd_position:2",
				"title":     "Staff Engineer",
				"*company":  "urn:li:fsd_company:acme",
				"dateRange": map[string]any{"start": map[string]any{"year": 2021.0, "month": 3.0}},
			},
			map[string]any{
				"entityUrn":   "urn:li:fsd_position:1",
				"title":       "Engineer",
				"companyName": "Startup GmbH",
			},
			map[string]any{"entityUrn": "urn:li:fsd_company:acme", "name": "Acme Corp"},
			map[string]any{
				"entityUrn": "urn:li:fsd_collection:edus",
				"*elements": []any{"urn:li:fsd_edu:1"},
			},
			map[string]any{
				"entityUrn":  "urn:li:fsd_edu:1",
				"*school":    "urn:li:fsd_school:tub",
				"degreeName": "MSc",
			},
			map[string]any{"entityUrn": "urn:li:fsd_school:tub", "name": "TU Berlin"},
			map[string]any{
				"entityUrn": "urn:li:fsd_collection:skills",
				"*elements": []any{"urn:li:fsd_skill:go", "urn:li:fsd_skill:sql"},
			},
			map[string]any{"entityUrn": "urn:li:fsd_skill:go", "name": "Go"},
			map[string]any{"entityUrn": "urn:li:fsd_skill:sql", "name": "SQL"},
			map[string]any{
				"entityUrn": "urn:li:fsd_rel:alice",
				"memberRelationshipUnion": map[string]any{
					"noConnection": map[string]any{"memberDistance": "DISTANCE_2"},
				},
			},
		},
	}
}

func TestResolveProfileFlattensReferences(t *testing.T) {
	p, err := ResolveProfile(payloadJSON(t, profilePayload()), "alice")
	require.NoError(t, err)

	assert.Equal(t, "urn:li:fsd_profile:alice", p.URN)
	assert.Equal(t, "Alice Nguyen", p.FullName)
	assert.Equal(t, "https://www.linkedin.com/in/alice/", p.URL)
	assert.Equal(t, "Berlin", p.GeoName)
	assert.Equal(t, "Software Development", p.IndustryName)

	// Source order preserved, no re-sorting.
	require.Len(t, p.Positions, 2)
	assert.Equal(t, "Staff Engineer", p.Positions[0].Title)
	assert.Equal(t, "Acme Corp", p.Positions[0].CompanyName)
	assert.Equal(t, "urn:li:fsd_company:acme", p.Positions[0].CompanyURN)
	require.NotNil(t, p.Positions[0].DateRange)
	assert.Equal(t, 2021, p.Positions[0].DateRange.Start.Year)
	// Inline company name used when no reference present.
	assert.Equal(t, "Startup GmbH", p.Positions[1].CompanyName)

	require.Len(t, p.Educations, 1)
	assert.Equal(t, "TU Berlin", p.Educations[0].SchoolName)
	assert.Equal(t, "MSc", p.Educations[0].DegreeName)

	assert.Equal(t, []string{"Go", "SQL"}, p.Skills)
	assert.Equal(t, "DISTANCE_2", p.ConnectionDistance)
	assert.Equal(t, 2, p.ConnectionDegree)
}

func TestResolveProfileNoUnresolvedMarkers(t *testing.T) {
	p, err := ResolveProfile(payloadJSON(t, profilePayload()), "alice")
	require.NoError(t, err)

	b, err := json.Marshal(p)
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"*`, "resolved record must not carry reference markers")
}

func TestResolveProfileMissingReference(t *testing.T) {
	payload := profilePayload()
	// Drop the referenced company entity.
	included := payload["included"].([]any)
	var pruned []any
	for _, e := range included {
		if e.(map[string]any)["entityUrn"] == "urn:li:fsd_company:acme" {
			continue
		}
		pruned = append(pruned, e)
	}
	payload["included"] = pruned

	_, err := ResolveProfile(payloadJSON(t, payload), "alice")
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, resErr.Reason, "urn:li:fsd_company:acme")
}

func TestResolveProfileCycleDetection(t *testing.T) {
	payload := profilePayload()
	// Point the position group's collection back at the groups root.
	for _, e := range payload["included"].([]any) {
		entity := e.(map[string]any)
		if entity["entityUrn"] == "urn:li:fsd_group:1" {
			entity["*profilePositionInPositionGroup"] = "urn:li:fsd_collection:groups"
		}
	}

	_, err := ResolveProfile(payloadJSON(t, payload), "alice")
	var resErr *ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Contains(t, resErr.Reason, "cycle")
}

func TestResolveProfileMissingRequiredFields(t *testing.T) {
	t.Run("no profile entity", func(t *testing.T) {
		_, err := ResolveProfile(payloadJSON(t, map[string]any{"data": map[string]any{}, "included": []any{}}), "")
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
	})

	t.Run("no name", func(t *testing.T) {
		payload := profilePayload()
		root := payload["included"].([]any)[0].(map[string]any)
		delete(root, "firstName")
		delete(root, "lastName")
		_, err := ResolveProfile(payloadJSON(t, payload), "alice")
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
	})

	t.Run("wrong public identifier", func(t *testing.T) {
		_, err := ResolveProfile(payloadJSON(t, profilePayload()), "bob")
		// Falls back to data.*elements, which still resolves alice.
		require.NoError(t, err)
	})

	t.Run("not json", func(t *testing.T) {
		_, err := ResolveProfile(json.RawMessage("<html>"), "alice")
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
	})
}

func TestResolveCompany(t *testing.T) {
	payload := map[string]any{
		"data": map[string]any{"*elements": []any{"urn:li:fsd_company:acme"}},
		"included": []any{
			map[string]any{
				"$type":              "com.linkedin.voyager.dash.organization.Company",
				"entityUrn":          "urn:li:fsd_company:acme",
				"name":               "Acme Corp",
				"tagline":            "We make everything",
				"description":        "Conglomerate.",
				"websiteUrl":         "https://acme.example",
				"*industry":          "urn:li:fsd_industry:mfg",
				"employeeCountRange": map[string]any{"start": 51.0, "end": 200.0},
				"headquarter":        map[string]any{"city": "Phoenix", "country": "US"},
			},
			map[string]any{"entityUrn": "urn:li:fsd_industry:mfg", "name": "Manufacturing"},
		},
	}
	c, err := ResolveCompany(payloadJSON(t, payload))
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", c.Name)
	assert.Equal(t, "Manufacturing", c.IndustryName)
	assert.Equal(t, "51-200", c.CompanySize)
	assert.Equal(t, "Phoenix, US", c.Headquarters)

	t.Run("missing name", func(t *testing.T) {
		bad := map[string]any{
			"data": map[string]any{"*elements": []any{"urn:li:fsd_company:x"}},
			"included": []any{
				map[string]any{"$type": companyType, "entityUrn": "urn:li:fsd_company:x"},
			},
		}
		_, err := ResolveCompany(payloadJSON(t, bad))
		var resErr *ResolutionError
		require.ErrorAs(t, err, &resErr)
	})
}
