package models

// SearchMode selects which sub-indexes a search consults.
type SearchMode string

const (
	SearchModeKeyword  SearchMode = "keyword"
	SearchModeSemantic SearchMode = "semantic"
	SearchModeHybrid   SearchMode = "hybrid"
)

func (m SearchMode) IsValid() bool {
	switch m {
	case SearchModeKeyword, SearchModeSemantic, SearchModeHybrid:
		return true
	}
	return false
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query  string      `json:"query"`
	Mode   SearchMode  `json:"mode,omitempty"`
	Filter TraceFilter `json:"filter,omitempty"`
}

// HighlightSpan marks a keyword match inside a result's text, as byte offsets.
type HighlightSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SearchResult is one scored hit.
type SearchResult struct {
	Trace      *Trace          `json:"trace"`
	Score      float64         `json:"score"`
	Highlights []HighlightSpan `json:"highlights,omitempty"`
}

// SearchResponse is the body returned by POST /search.
type SearchResponse struct {
	Results    []SearchResult `json:"results"`
	Total      int            `json:"total"`
	Mode       SearchMode     `json:"mode"`
	DurationMs int64          `json:"durationMs"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	ThreadID string      `json:"threadId,omitempty"`
	Message  string      `json:"message"`
	Filter   TraceFilter `json:"filter,omitempty"`
}

// ChatResponse carries the assistant reply plus retrieval provenance.
type ChatResponse struct {
	ThreadID     string `json:"threadId"`
	Reply        string `json:"reply"`
	ContextCount int    `json:"contextCount"`
	TimeRange    string `json:"timeRange,omitempty"`
}

// AppStat is per-application usage aggregated from traces.
type AppStat struct {
	AppName    string `json:"appName"`
	TraceCount int    `json:"traceCount"`
}

// StorageStats summarizes what the store currently holds.
type StorageStats struct {
	TraceCount      int       `json:"traceCount"`
	SessionCount    int       `json:"sessionCount"`
	SummaryCount    int       `json:"summaryCount"`
	EntityCount     int       `json:"entityCount"`
	PendingAnalysis int       `json:"pendingAnalysis"`
	DBSizeBytes     int64     `json:"dbSizeBytes"`
	ImageBytes      int64     `json:"imageBytes"`
	OldestTrace     *int64    `json:"oldestTrace,omitempty"`
	TopApps         []AppStat `json:"topApps,omitempty"`
}

// CaptureStatus is a snapshot of the capture loop.
type CaptureStatus struct {
	Running     bool  `json:"running"`
	Paused      bool  `json:"paused"`
	Idle        bool  `json:"idle"`
	LastCapture int64 `json:"lastCapture"`
	Captured    int64 `json:"captured"`
	Deduped     int64 `json:"deduped"`
	Blocked     int64 `json:"blocked"`
}

// AnalysisStatus is a snapshot of the analysis scheduler.
type AnalysisStatus struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
	Reachable bool  `json:"reachable"`
}

// ServiceCheck is one dependency's health in the health response.
type ServiceCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status     string       `json:"status"`
	DB         ServiceCheck `json:"db"`
	Vision     ServiceCheck `json:"vision"`
	TraceCount int          `json:"traceCount"`
}
