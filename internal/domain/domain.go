package domain

import "opsboard/internal/calendar"

type InstanceStatus string

const (
	StatusPending InstanceStatus = "PENDING"
	StatusDone    InstanceStatus = "DONE"
	StatusSkipped InstanceStatus = "SKIPPED"
)

// SourceKind says what produced a points entry.
type SourceKind string

const (
	SourceTaskDone         SourceKind = "TASK_DONE"
	SourceTaskSkipped      SourceKind = "TASK_SKIPPED"
	SourceIncidentResolved SourceKind = "INCIDENT_RESOLVED"
	SourceManual           SourceKind = "MANUAL"
)

func (k SourceKind) Valid() bool {
	switch k {
	case SourceTaskDone, SourceTaskSkipped, SourceIncidentResolved, SourceManual:
		return true
	}
	return false
}

type Owner struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TaskTemplate is a recurring task definition.
type TaskTemplate struct {
	ID               string             `json:"id"`
	Title            string             `json:"title" validate:"required"`
	DoD              string             `json:"dod,omitempty"`
	Description      string             `json:"description,omitempty"`
	OwnerID          string             `json:"owner_id" validate:"required"`
	ChannelID        *string            `json:"channel_id,omitempty"`
	TimeOfDay        string             `json:"time_of_day" validate:"omitempty,datetime=15:04"`
	Weekdays         []calendar.Weekday `json:"weekdays" validate:"dive,min=1,max=7"`
	IsCritical       bool               `json:"is_critical"`
	EvidenceRequired bool               `json:"evidence_required"`
	PointsOnComplete int                `json:"points_on_complete"`
	PointsOnSkip     int                `json:"points_on_skip"`
	IsActive         bool               `json:"is_active"`
	CreatedAt        string             `json:"created_at" format:"date-time"`
	UpdatedAt        string             `json:"updated_at" format:"date-time"`
}

// RunsOn reports whether the template generates an instance on weekday d.
func (t TaskTemplate) RunsOn(d calendar.Weekday) bool {
	for _, w := range t.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}

// TaskInstance is one dated occurrence of a template, or an ad-hoc task when
// TemplateID is nil. Template fields are copied at generation time.
type TaskInstance struct {
	ID               string         `json:"id"`
	TemplateID       *string        `json:"template_id,omitempty"`
	Date             string         `json:"date" format:"date"`
	Title            string         `json:"title"`
	DoD              string         `json:"dod,omitempty"`
	Description      string         `json:"description,omitempty"`
	OwnerID          string         `json:"owner_id"`
	ChannelID        *string        `json:"channel_id,omitempty"`
	TimeOfDay        string         `json:"time_of_day"`
	IsCritical       bool           `json:"is_critical"`
	EvidenceRequired bool           `json:"evidence_required"`
	PointsOnComplete int            `json:"points_on_complete"`
	PointsOnSkip     int            `json:"points_on_skip"`
	Status           InstanceStatus `json:"status" enum:"PENDING,DONE,SKIPPED"`
	Evidence         []string       `json:"evidence,omitempty"`
	SkipReason       string         `json:"skip_reason,omitempty"`
	CompletedAt      *string        `json:"completed_at,omitempty" format:"date-time"`
	SkippedAt        *string        `json:"skipped_at,omitempty" format:"date-time"`
	PointsAwarded    *int           `json:"points_awarded,omitempty"`
	CreatedAt        string         `json:"created_at,omitempty" format:"date-time"`
}

// TemplateKey returns the template id or "" for ad-hoc instances.
func (i TaskInstance) TemplateKey() string {
	if i.TemplateID == nil {
		return ""
	}
	return *i.TemplateID
}

// PointsEntry is an immutable ledger row.
type PointsEntry struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id" validate:"required"`
	Date       string     `json:"date" format:"date" validate:"required,datetime=2006-01-02"`
	Amount     int        `json:"amount"`
	Reason     string     `json:"reason,omitempty"`
	SourceKind SourceKind `json:"source_kind" enum:"TASK_DONE,TASK_SKIPPED,INCIDENT_RESOLVED,MANUAL" validate:"required,oneof=TASK_DONE TASK_SKIPPED INCIDENT_RESOLVED MANUAL"`
	SourceID   *string    `json:"source_id,omitempty" validate:"required_unless=SourceKind MANUAL"`
	CreatedAt  string     `json:"created_at,omitempty" format:"date-time"`
}

type IncidentStatus string

const (
	IncidentOpen     IncidentStatus = "OPEN"
	IncidentResolved IncidentStatus = "RESOLVED"
)

type Incident struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	OwnerID         string         `json:"owner_id"`
	ChannelID       *string        `json:"channel_id,omitempty"`
	Severity        string         `json:"severity" enum:"low,medium,high"`
	Status          IncidentStatus `json:"status" enum:"OPEN,RESOLVED"`
	PointsOnResolve int            `json:"points_on_resolve"`
	CreatedAt       string         `json:"created_at" format:"date-time"`
	ResolvedAt      *string        `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy      *string        `json:"resolved_by,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// StrPtr returns nil for an empty string.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StrVal dereferences p, returning "" for nil.
func StrVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
