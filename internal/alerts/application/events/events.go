package events

import (
	"time"

	alerts "carewatch-cloud/internal/alerts/domain"
)

// VitalsReceived is published by the ingestion surface when a device or
// client delivers a vitals snapshot.
type VitalsReceived struct {
	UserID     string          `json:"user_id"`
	Snapshot   alerts.Snapshot `json:"snapshot"`
	OccurredAt time.Time       `json:"occurred_at"`
}
