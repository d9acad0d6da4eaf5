package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"opsboard/internal/calendar"
	"opsboard/internal/domain"
	"opsboard/internal/engine/auth"
	"opsboard/internal/events"
	"opsboard/internal/lifecycle"
	"opsboard/internal/repo"
)

// ErrIncidentResolved is returned when resolving an incident twice.
var ErrIncidentResolved = errors.New("incident already resolved")

type IncidentCreateOptions struct {
	Title           string
	Description     string
	OwnerID         string
	ChannelID       string
	Severity        string
	PointsOnResolve *int
	ActorID         string
}

func (e Engine) CreateIncident(ctx context.Context, opts IncidentCreateOptions) (domain.Incident, error) {
	severity := strings.ToLower(strings.TrimSpace(opts.Severity))
	if severity == "" {
		severity = "medium"
	}
	switch severity {
	case "low", "medium", "high":
	default:
		return domain.Incident{}, invalid("severity", "%q is not low, medium or high", opts.Severity)
	}
	in := domain.Incident{
		ID:          uuid.NewString(),
		Title:       strings.TrimSpace(opts.Title),
		Description: opts.Description,
		OwnerID:     opts.OwnerID,
		ChannelID:   domain.StrPtr(opts.ChannelID),
		Severity:    severity,
		Status:      domain.IncidentOpen,
		CreatedAt:   e.stamp(),
	}
	if in.OwnerID == "" {
		in.OwnerID = opts.ActorID
	}
	// High severity incidents are worth the critical completion value.
	in.PointsOnResolve = e.Config.PointsFor(severity == "high").OnComplete
	if opts.PointsOnResolve != nil {
		in.PointsOnResolve = *opts.PointsOnResolve
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, err
	}
	defer tx.Rollback()

	p, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermIncidentWrite)
	if err != nil {
		return domain.Incident{}, err
	}
	if opts.PointsOnResolve != nil && !p.Elevated {
		return domain.Incident{}, auth.ForbiddenError{Permission: auth.PermPointsGrant}
	}
	probe := domain.TaskTemplate{Title: in.Title, OwnerID: in.OwnerID, ChannelID: in.ChannelID}
	if err := e.checkTemplate(ctx, tx, probe); err != nil {
		return domain.Incident{}, err
	}
	if err := e.Repo.InsertIncidentTx(ctx, tx, in); err != nil {
		return domain.Incident{}, fmt.Errorf("insert incident: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.IncidentOpened, "incident", in.ID, opts.ActorID, events.EventPayload{
		"owner_id": in.OwnerID,
		"severity": in.Severity,
	}); err != nil {
		return domain.Incident{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Incident{}, err
	}
	return in, nil
}

type IncidentResolution struct {
	Incident domain.Incident    `json:"incident"`
	Entry    domain.PointsEntry `json:"points_entry"`
}

// ResolveIncident closes an open incident and credits its owner in the same
// transaction.
func (e Engine) ResolveIncident(ctx context.Context, id, actorID string) (IncidentResolution, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return IncidentResolution{}, err
	}
	defer tx.Rollback()

	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermIncidentResolve); err != nil {
		return IncidentResolution{}, err
	}
	in, err := e.Repo.GetIncidentTx(ctx, tx, id)
	if err != nil {
		return IncidentResolution{}, err
	}
	if in.Status != domain.IncidentOpen {
		return IncidentResolution{}, ErrIncidentResolved
	}
	ts := e.stamp()
	if err := e.Repo.ResolveIncidentTx(ctx, tx, id, ts, actorID); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return IncidentResolution{}, ErrIncidentResolved
		}
		return IncidentResolution{}, err
	}
	in.Status = domain.IncidentResolved
	in.ResolvedAt = &ts
	in.ResolvedBy = &actorID

	sourceID := in.ID
	entry := domain.PointsEntry{
		ID:         lifecycle.EntryID(domain.SourceIncidentResolved, in.ID),
		OwnerID:    in.OwnerID,
		Date:       e.Today().Format(calendar.DateLayout),
		Amount:     in.PointsOnResolve,
		Reason:     "incident: " + in.Title,
		SourceKind: domain.SourceIncidentResolved,
		SourceID:   &sourceID,
		CreatedAt:  ts,
	}
	if err := e.Repo.InsertPointsEntryTx(ctx, tx, entry); err != nil {
		return IncidentResolution{}, fmt.Errorf("append points entry: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.IncidentResolved, "incident", in.ID, actorID, events.EventPayload{
		"owner_id": in.OwnerID,
		"points":   entry.Amount,
	}); err != nil {
		return IncidentResolution{}, err
	}
	if err := tx.Commit(); err != nil {
		return IncidentResolution{}, err
	}
	return IncidentResolution{Incident: in, Entry: entry}, nil
}

func (e Engine) ListIncidents(ctx context.Context, f repo.IncidentFilters, actorID string) ([]domain.Incident, error) {
	if _, err := e.Auth.Require(ctx, nil, actorID, auth.PermIncidentRead); err != nil {
		return nil, err
	}
	f.Status = strings.ToUpper(f.Status)
	return e.Repo.ListIncidents(ctx, f)
}
