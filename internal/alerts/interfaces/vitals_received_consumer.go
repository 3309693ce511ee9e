package interfaces

import (
	"context"
	"errors"

	alertapp "carewatch-cloud/internal/alerts/application"
	"carewatch-cloud/internal/alerts/application/events"
)

// VitalsReceivedConsumer adapts vitals events into the alert engine.
type VitalsReceivedConsumer struct {
	app *alertapp.Service
}

// NewVitalsReceivedConsumer constructs a consumer.
func NewVitalsReceivedConsumer(app *alertapp.Service) (*VitalsReceivedConsumer, error) {
	if app == nil {
		return nil, errors.New("alerts consumer: nil service")
	}
	return &VitalsReceivedConsumer{app: app}, nil
}

// Consume handles a vitals received event.
func (c *VitalsReceivedConsumer) Consume(ctx context.Context, event events.VitalsReceived) error {
	_, err := c.app.CheckVitalSigns(ctx, event.UserID, event.Snapshot)
	return err
}
