package models

// ActivitySession groups consecutive analyzed traces that belong to the same
// stretch of work in one application. Sessions for the same app never overlap
// in time.
type ActivitySession struct {
	ID           int64  `json:"id"`
	AppName      string `json:"appName"`
	Title        string `json:"title"`
	StartTime    int64  `json:"startTime"`
	EndTime      int64  `json:"endTime"`
	FirstTraceID int64  `json:"firstTraceId"`
	LastTraceID  int64  `json:"lastTraceId"`
	Context      string `json:"context"`
	Embedding    []byte `json:"-"`
	TraceCount   int    `json:"traceCount"`
	// EntityCounts aggregates how often each extracted entity appeared in
	// the session's traces.
	EntityCounts map[string]int `json:"entityCounts,omitempty"`
	KeyActions   []string       `json:"keyActions,omitempty"`
	CreatedAt    int64          `json:"createdAt"`
	UpdatedAt    int64          `json:"updatedAt"`
}

// Duration returns the session length in milliseconds.
func (s *ActivitySession) Duration() int64 {
	return s.EndTime - s.StartTime
}
