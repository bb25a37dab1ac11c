package models

import (
	"encoding/json"
	"time"
)

// ProfileState is the workflow state of a stored profile. A profile is
// created as StateDiscovered and only the campaign state machine moves it
// forward. StateCompleted and StateFailed are terminal.
type ProfileState string

const (
	StateDiscovered          ProfileState = "discovered"
	StateEnriched            ProfileState = "enriched"
	StateConnectionRequested ProfileState = "connection_requested"
	StateConnected           ProfileState = "connected"
	StateCompleted           ProfileState = "completed"
	StateFailed              ProfileState = "failed"
)

func (s ProfileState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s ProfileState) Valid() bool {
	switch s {
	case StateDiscovered, StateEnriched, StateConnectionRequested,
		StateConnected, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Acceptance is the outcome of checking a pending connection request.
type Acceptance string

const (
	AcceptanceAccepted  Acceptance = "accepted"
	AcceptancePending   Acceptance = "pending"
	AcceptanceWithdrawn Acceptance = "withdrawn"
)

// Date is a partial calendar date as LinkedIn reports them; zero fields
// mean "not given".
type Date struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
}

type DateRange struct {
	Start *Date `json:"start,omitempty"`
	End   *Date `json:"end,omitempty"`
}

type Position struct {
	Title       string     `json:"title"`
	CompanyName string     `json:"company_name"`
	CompanyURN  string     `json:"company_urn,omitempty"`
	Location    string     `json:"location,omitempty"`
	DateRange   *DateRange `json:"date_range,omitempty"`
	Description string     `json:"description,omitempty"`
	URN         string     `json:"urn,omitempty"`
}

type Education struct {
	SchoolName   string     `json:"school_name"`
	DegreeName   string     `json:"degree_name,omitempty"`
	FieldOfStudy string     `json:"field_of_study,omitempty"`
	DateRange    *DateRange `json:"date_range,omitempty"`
	URN          string     `json:"urn,omitempty"`
}

// ResolvedProfile is the flat record produced by the entity resolver from
// one normalized API payload.
type ResolvedProfile struct {
	URL              string      `json:"url"`
	URN              string      `json:"urn"`
	PublicIdentifier string      `json:"public_identifier"`
	FirstName        string      `json:"first_name"`
	LastName         string      `json:"last_name"`
	FullName         string      `json:"full_name"`
	Headline         string      `json:"headline,omitempty"`
	Summary          string      `json:"summary,omitempty"`
	LocationName     string      `json:"location_name,omitempty"`
	GeoName          string      `json:"geo_name,omitempty"`
	IndustryName     string      `json:"industry_name,omitempty"`
	Positions        []Position  `json:"positions"`
	Educations       []Education `json:"educations"`
	Skills           []string    `json:"skills,omitempty"`

	// DISTANCE_1..DISTANCE_3 or OUT_OF_NETWORK; degree 0 means unknown.
	ConnectionDistance string `json:"connection_distance,omitempty"`
	ConnectionDegree   int    `json:"connection_degree,omitempty"`
}

// Company is the flat record for an organization payload.
type Company struct {
	URL          string `json:"url"`
	URN          string `json:"urn"`
	Name         string `json:"name"`
	Tagline      string `json:"tagline,omitempty"`
	About        string `json:"about,omitempty"`
	Website      string `json:"website,omitempty"`
	IndustryName string `json:"industry_name,omitempty"`
	CompanySize  string `json:"company_size,omitempty"`
	Headquarters string `json:"headquarters,omitempty"`
}

// Profile is the durable per-URL record. Structured and Raw are replaced
// together on re-enrichment, never merged.
type Profile struct {
	URL         string
	Structured  *ResolvedProfile
	Raw         json.RawMessage
	State       ProfileState
	FailReason  string
	Retries     int
	CloudSynced bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RunKey identifies a campaign run: same campaign, account and input set
// resume the same run; a changed input hash starts a new one.
type RunKey struct {
	Campaign  string
	Handle    string
	InputHash string
}

// RunCounter names a CampaignRun milestone counter. The set is closed and
// validated by the store before touching SQL.
type RunCounter string

const (
	CounterEnriched     RunCounter = "enriched"
	CounterConnectSent  RunCounter = "connect_sent"
	CounterAccepted     RunCounter = "accepted"
	CounterFollowupSent RunCounter = "followup_sent"
	CounterCompleted    RunCounter = "completed"
)

func (c RunCounter) Valid() bool {
	switch c {
	case CounterEnriched, CounterConnectSent, CounterAccepted,
		CounterFollowupSent, CounterCompleted:
		return true
	}
	return false
}

// CampaignRun aggregates per-run statistics. Counters only ever grow.
type CampaignRun struct {
	Key           RunKey
	ShortID       string
	StartedAt     time.Time
	TotalProfiles int
	Enriched      int
	ConnectSent   int
	Accepted      int
	FollowupSent  int
	Completed     int
	LastUpdated   time.Time
}
