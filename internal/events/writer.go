package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the engine.
const (
	OwnerCreated      = "owner.created"
	OwnerUpdated      = "owner.updated"
	ChannelCreated    = "channel.created"
	TemplateCreated   = "template.created"
	TemplateUpdated   = "template.updated"
	MonthApplied      = "month.applied"
	InstanceCreated   = "instance.created"
	InstanceCompleted = "instance.completed"
	InstanceSkipped   = "instance.skipped"
	PointsAppended    = "points.appended"
	IncidentOpened    = "incident.opened"
	IncidentResolved  = "incident.resolved"
	ConfigUpdated     = "config.updated"
	APIKeyCreated     = "apikey.created"
	APIKeyRevoked     = "apikey.revoked"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an audit event inside tx so it commits or rolls back with
// the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
