package models

// SummaryKind distinguishes the periodic short summaries from the daily rollup.
type SummaryKind string

const (
	SummaryShort SummaryKind = "short"
	SummaryDaily SummaryKind = "daily"
)

// Summary is an immutable narrative covering a window of activity.
type Summary struct {
	ID          int64          `json:"id"`
	Kind        SummaryKind    `json:"kind"`
	PeriodStart int64          `json:"periodStart"`
	PeriodEnd   int64          `json:"periodEnd"`
	Content     string         `json:"content"`
	Topics      []string       `json:"topics,omitempty"`
	Entities    []string       `json:"entities,omitempty"`
	Links       []string       `json:"links,omitempty"`
	Breakdown   map[string]int `json:"activityBreakdown,omitempty"`
	Confidence  float64        `json:"confidence"`
	Embedding   []byte         `json:"-"`
	CreatedAt   int64          `json:"createdAt"`
}

// EntityType classifies extracted entities.
type EntityType string

const (
	EntityPerson     EntityType = "person"
	EntityProject    EntityType = "project"
	EntityTechnology EntityType = "technology"
	EntityURL        EntityType = "url"
	EntityFile       EntityType = "file"
)

// IsValid reports whether the entity type is one of the known kinds.
func (t EntityType) IsValid() bool {
	switch t {
	case EntityPerson, EntityProject, EntityTechnology, EntityURL, EntityFile:
		return true
	}
	return false
}

// Entity is a named thing that recurs across traces. Metadata holds
// free-form JSON about the entity, such as extraction confidence.
type Entity struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Type         EntityType `json:"type"`
	MentionCount int        `json:"mentionCount"`
	FirstSeen    int64      `json:"firstSeen"`
	LastSeen     int64      `json:"lastSeen"`
	Metadata     *string    `json:"metadata,omitempty"`
}
