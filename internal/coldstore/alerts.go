package coldstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gemscap/quantpipe/internal/model"
)

// ArchiveAlert appends an alert to the durable history.
func (s *Store) ArchiveAlert(ctx context.Context, a model.Alert) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (time, alert_id, alert_type, symbol, severity, message, value, threshold, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		time.UnixMilli(a.Timestamp).UTC(), a.ID, string(a.Type), a.Symbol,
		string(a.Severity), a.Message, a.Value, a.Threshold, a.Acknowledged)
	if err != nil {
		return fmt.Errorf("failed to archive alert %s: %w", a.ID, err)
	}
	return nil
}

type alertRow struct {
	Time         time.Time      `db:"time"`
	AlertID      string         `db:"alert_id"`
	AlertType    string         `db:"alert_type"`
	Symbol       string         `db:"symbol"`
	Severity     string         `db:"severity"`
	Message      sql.NullString `db:"message"`
	Value        *float64       `db:"value"`
	Threshold    *float64       `db:"threshold"`
	Acknowledged bool           `db:"acknowledged"`
}

// GetAlertsHistory returns archived alerts in [from, to], newest first.
// Empty symbol or alertType means no filter on that column. limit <= 0 falls
// back to 100 rows.
func (s *Store) GetAlertsHistory(ctx context.Context, symbol string, alertType model.AlertType, from, to time.Time, limit int) ([]model.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		SELECT time, alert_id, alert_type, symbol, severity, message, value, threshold, acknowledged
		FROM alerts
		WHERE time >= $1 AND time <= $2`
	args := []interface{}{from, to}
	if symbol != "" {
		args = append(args, symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	if alertType != "" {
		args = append(args, string(alertType))
		query += fmt.Sprintf(" AND alert_type = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY time DESC LIMIT $%d", len(args))

	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query alert history: %w", err)
	}

	alerts := make([]model.Alert, 0, len(rows))
	for _, r := range rows {
		alerts = append(alerts, model.Alert{
			ID:           r.AlertID,
			Type:         model.AlertType(r.AlertType),
			Symbol:       r.Symbol,
			Message:      r.Message.String,
			Timestamp:    r.Time.UnixMilli(),
			Severity:     model.Severity(r.Severity),
			Value:        r.Value,
			Threshold:    r.Threshold,
			Acknowledged: r.Acknowledged,
		})
	}
	return alerts, nil
}
