package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	alerts "carewatch-cloud/internal/alerts/domain"
)

// ArchiveRepository persists resolved alerts for reporting. The live
// store stays in memory; only closed-out records reach Postgres.
type ArchiveRepository struct {
	db *sql.DB
}

// NewArchiveRepository constructs a repository.
func NewArchiveRepository(db *sql.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// ArchiveResolved inserts a resolved alert. Replaying the same id is
// a no-op so resolve stays idempotent across restarts.
func (r *ArchiveRepository) ArchiveResolved(ctx context.Context, alert alerts.Alert) error {
	if r == nil || r.db == nil {
		return errors.New("alert archive: nil db")
	}
	if alert.ID == "" || alert.RuleID == "" || alert.UserID == "" {
		return errors.New("alert archive: missing fields")
	}
	data, err := json.Marshal(alert.Data)
	if err != nil {
		return err
	}
	var resolvedBy, resolutionNote sql.NullString
	var resolvedAt sql.NullTime
	if alert.Resolution != nil {
		resolvedBy = sql.NullString{String: alert.Resolution.By, Valid: true}
		resolutionNote = sql.NullString{String: alert.Resolution.Note, Valid: alert.Resolution.Note != ""}
		resolvedAt = nullableTime(alert.Resolution.At)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO alert_archive (
	id, rule_id, user_id, severity, message, data, escalation_level,
	acked_at, resolved_by, resolution_note, resolved_at, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12
)
ON CONFLICT (id) DO NOTHING`,
		alert.ID,
		alert.RuleID,
		alert.UserID,
		alert.Severity,
		alert.Message,
		data,
		alert.EscalationLevel,
		nullableTime(alert.AckedAt),
		resolvedBy,
		resolutionNote,
		resolvedAt,
		alert.CreatedAt,
	)
	return err
}

// ListByUser returns archived alerts for a user within a time range,
// newest first.
func (r *ArchiveRepository) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]alerts.Alert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert archive: nil db")
	}
	if userID == "" {
		return nil, errors.New("alert archive: user id required")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, rule_id, user_id, severity, message, data, escalation_level,
	acked_at, resolved_by, resolution_note, resolved_at, created_at
FROM alert_archive
WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []alerts.Alert
	for rows.Next() {
		alert, err := scanArchived(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArchived(row scanner) (alerts.Alert, error) {
	var alert alerts.Alert
	var data []byte
	var ackedAt, resolvedAt sql.NullTime
	var resolvedBy, resolutionNote sql.NullString
	err := row.Scan(
		&alert.ID,
		&alert.RuleID,
		&alert.UserID,
		&alert.Severity,
		&alert.Message,
		&data,
		&alert.EscalationLevel,
		&ackedAt,
		&resolvedBy,
		&resolutionNote,
		&resolvedAt,
		&alert.CreatedAt,
	)
	if err != nil {
		return alerts.Alert{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &alert.Data); err != nil {
			return alerts.Alert{}, err
		}
	}
	alert.Status = alerts.StatusResolved
	if ackedAt.Valid {
		alert.Acknowledged = true
		alert.AckedAt = ackedAt.Time
	}
	if resolvedBy.Valid {
		alert.Resolution = &alerts.Resolution{
			By:   resolvedBy.String,
			Note: resolutionNote.String,
		}
		if resolvedAt.Valid {
			alert.Resolution.At = resolvedAt.Time
		}
	}
	return alert, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
