package model

import "strconv"

// AlertType is the closed set of alert categories.
type AlertType string

const (
	AlertZScoreHigh         AlertType = "z_score_high"
	AlertZScoreLow          AlertType = "z_score_low"
	AlertCorrelationBreak   AlertType = "correlation_break"
	AlertDataStale          AlertType = "data_stale"
	AlertStationarityChange AlertType = "stationarity_change"
	AlertCustom             AlertType = "custom"
)

// Severity is the closed set of alert severities.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a threshold-breach notification. Stored in the hot store under
// alert:<id> with a TTL and indexed in alerts:active by timestamp.
type Alert struct {
	ID           string
	Type         AlertType
	Symbol       string // "A:B" for pair alerts
	Message      string
	Timestamp    int64 // milliseconds
	Severity     Severity
	Value        *float64
	Threshold    *float64
	Acknowledged bool
}

// Fields encodes the alert for hot-store hash storage. Nil value/threshold
// become empty strings, matching the wire contract.
func (a Alert) Fields() map[string]interface{} {
	value, threshold := "", ""
	if a.Value != nil {
		value = formatFloat(*a.Value)
	}
	if a.Threshold != nil {
		threshold = formatFloat(*a.Threshold)
	}
	ack := "0"
	if a.Acknowledged {
		ack = "1"
	}
	return map[string]interface{}{
		"id":           a.ID,
		"alert_type":   string(a.Type),
		"symbol":       a.Symbol,
		"message":      a.Message,
		"timestamp":    strconv.FormatInt(a.Timestamp, 10),
		"severity":     string(a.Severity),
		"value":        value,
		"threshold":    threshold,
		"acknowledged": ack,
	}
}

// AlertFromFields decodes an alert from a hot-store hash.
func AlertFromFields(fields map[string]string) (Alert, error) {
	a := Alert{
		ID:           fields["id"],
		Type:         AlertType(fields["alert_type"]),
		Symbol:       fields["symbol"],
		Message:      fields["message"],
		Severity:     Severity(fields["severity"]),
		Acknowledged: fields["acknowledged"] == "1",
	}
	var err error
	if v := fields["timestamp"]; v != "" {
		if a.Timestamp, err = strconv.ParseInt(v, 10, 64); err != nil {
			return a, err
		}
	}
	if v := fields["value"]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return a, err
		}
		a.Value = &f
	}
	if v := fields["threshold"]; v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return a, err
		}
		a.Threshold = &f
	}
	return a, nil
}
