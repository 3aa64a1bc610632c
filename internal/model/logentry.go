package model

// LogEntry is the structured payload carried on the log channel.
type LogEntry struct {
	Timestamp  int64   `json:"timestamp"` // milliseconds
	Service    string  `json:"service"`
	Level      string  `json:"level"` // DEBUG, INFO, WARN, ERROR
	Operation  string  `json:"operation"`
	Key        string  `json:"key,omitempty"`
	Message    string  `json:"message"`
	DurationMs float64 `json:"duration_ms,omitempty"`

	// Set by the log sink when high-frequency operations are aggregated
	// into a single line.
	AggregatedCount int `json:"_aggregated_count,omitempty"`
}
