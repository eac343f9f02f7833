package models

// Trace is a single captured moment of screen activity. Timestamps are
// epoch milliseconds throughout.
type Trace struct {
	ID           int64   `json:"id"`
	Timestamp    int64   `json:"timestamp"`
	MonitorID    int     `json:"monitorId"`
	AppName      string  `json:"appName"`
	WindowTitle  string  `json:"windowTitle"`
	IsFullscreen bool    `json:"isFullscreen"`
	ImagePath    *string `json:"imagePath,omitempty"`
	PHash        string  `json:"phash"`
	// OCRText holds the AI-extracted description once analysis has run.
	// NULL means the trace is still pending analysis.
	OCRText *string `json:"ocrText,omitempty"`
	// OCRJSON is the raw structured analysis payload. Cleared by the warm
	// retention sweep.
	OCRJSON   *string `json:"-"`
	Embedding []byte  `json:"-"`
	IsIdle    bool    `json:"isIdle"`
	// SessionID links the trace to its activity session once clustered.
	SessionID        *int64 `json:"sessionId,omitempty"`
	AnalysisAttempts int    `json:"-"`
	CreatedAt        int64  `json:"createdAt"`
}

// HasAnalysis reports whether the analysis pass has written its result.
func (t *Trace) HasAnalysis() bool {
	return t.OCRText != nil
}

// ScreenAnalysis is the structured result of a vision pass over one trace.
type ScreenAnalysis struct {
	Summary              string   `json:"summary"`
	TextContent          string   `json:"text_content"`
	DetectedApp          string   `json:"detected_app"`
	ActivityType         string   `json:"activity_type"`
	Entities             []string `json:"entities"`
	Confidence           float64  `json:"confidence"`
	IsKeyAction          bool     `json:"is_key_action"`
	KeyActionDescription string   `json:"key_action_description,omitempty"`
}

// EmbeddingText joins the analysis fields into the text that gets embedded.
func (a *ScreenAnalysis) EmbeddingText() string {
	text := a.Summary
	if a.TextContent != "" {
		text += "\n" + a.TextContent
	}
	if a.DetectedApp != "" {
		text += "\napp: " + a.DetectedApp
	}
	for _, e := range a.Entities {
		text += "\n" + e
	}
	return text
}

// TraceFilter narrows trace listings and search scopes.
type TraceFilter struct {
	StartTime *int64 `json:"startTime,omitempty"`
	EndTime   *int64 `json:"endTime,omitempty"`
	AppName   string `json:"appName,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// Matches reports whether a trace passes the time-range and app filters.
func (f *TraceFilter) Matches(t *Trace) bool {
	if f == nil {
		return true
	}
	if f.StartTime != nil && t.Timestamp < *f.StartTime {
		return false
	}
	if f.EndTime != nil && t.Timestamp > *f.EndTime {
		return false
	}
	if f.AppName != "" && t.AppName != f.AppName {
		return false
	}
	return true
}
