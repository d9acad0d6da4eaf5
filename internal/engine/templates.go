package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"opsboard/internal/calendar"
	"opsboard/internal/domain"
	"opsboard/internal/engine/auth"
	"opsboard/internal/events"
	"opsboard/internal/repo"
	"opsboard/internal/visibility"
)

type TemplateCreateOptions struct {
	ID               string
	Title            string
	DoD              string
	Description      string
	OwnerID          string
	ChannelID        string
	TimeOfDay        string
	Weekdays         []string
	IsCritical       bool
	EvidenceRequired *bool
	PointsOnComplete *int
	PointsOnSkip     *int
	Inactive         bool
	ActorID          string
}

// TemplateUpdateOptions carries the fields to change; nil leaves a field
// as is. An empty ChannelID clears the channel.
type TemplateUpdateOptions struct {
	Title            *string
	DoD              *string
	Description      *string
	OwnerID          *string
	ChannelID        *string
	TimeOfDay        *string
	Weekdays         []string
	IsCritical       *bool
	EvidenceRequired *bool
	PointsOnComplete *int
	PointsOnSkip     *int
	IsActive         *bool
	ActorID          string
}

func fromValidator(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(fe.Field(), "fails %s", fe.Tag())
	}
	return err
}

// checkTemplate enforces the template invariants and the references to
// owner and channel.
func (e Engine) checkTemplate(ctx context.Context, tx *sql.Tx, t domain.TaskTemplate) error {
	if strings.TrimSpace(t.Title) == "" {
		return invalid("title", "required")
	}
	if err := domain.ValidateStruct(t); err != nil {
		return fromValidator(err)
	}
	if t.IsActive && len(t.Weekdays) == 0 {
		return invalid("weekdays", "an active template needs at least one weekday")
	}
	owner, err := e.Repo.GetOwnerTx(ctx, tx, t.OwnerID)
	if errors.Is(err, repo.ErrNotFound) {
		return invalid("owner_id", "owner %s does not exist", t.OwnerID)
	}
	if err != nil {
		return err
	}
	if !owner.Active {
		return invalid("owner_id", "owner %s is inactive", t.OwnerID)
	}
	if t.ChannelID != nil {
		if _, err := e.Repo.GetChannelTx(ctx, tx, *t.ChannelID); errors.Is(err, repo.ErrNotFound) {
			return invalid("channel_id", "channel %s does not exist", *t.ChannelID)
		} else if err != nil {
			return err
		}
	}
	return nil
}

func parseWeekdays(items []string) ([]calendar.Weekday, error) {
	days, err := calendar.ParseWeekdays(items)
	if err != nil {
		return nil, invalid("weekdays", "%v", err)
	}
	return days, nil
}

func (e Engine) CreateTemplate(ctx context.Context, opts TemplateCreateOptions) (domain.TaskTemplate, error) {
	days, err := parseWeekdays(opts.Weekdays)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	defaults := e.Config.PointsFor(opts.IsCritical)
	now := e.stamp()
	t := domain.TaskTemplate{
		ID:               strings.TrimSpace(opts.ID),
		Title:            strings.TrimSpace(opts.Title),
		DoD:              opts.DoD,
		Description:      opts.Description,
		OwnerID:          opts.OwnerID,
		ChannelID:        domain.StrPtr(opts.ChannelID),
		TimeOfDay:        opts.TimeOfDay,
		Weekdays:         days,
		IsCritical:       opts.IsCritical,
		EvidenceRequired: opts.IsCritical,
		PointsOnComplete: defaults.OnComplete,
		PointsOnSkip:     defaults.OnSkip,
		IsActive:         !opts.Inactive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if opts.EvidenceRequired != nil {
		t.EvidenceRequired = *opts.EvidenceRequired
	}
	if opts.PointsOnComplete != nil {
		t.PointsOnComplete = *opts.PointsOnComplete
	}
	if opts.PointsOnSkip != nil {
		t.PointsOnSkip = *opts.PointsOnSkip
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	defer tx.Rollback()

	if _, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermTemplateWrite); err != nil {
		return domain.TaskTemplate{}, err
	}
	if err := e.checkTemplate(ctx, tx, t); err != nil {
		return domain.TaskTemplate{}, err
	}
	if err := e.Repo.InsertTemplateTx(ctx, tx, t); err != nil {
		return domain.TaskTemplate{}, fmt.Errorf("insert template: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TemplateCreated, "template", t.ID, opts.ActorID, events.EventPayload{
		"owner_id": t.OwnerID,
		"weekdays": calendar.FormatWeekdays(t.Weekdays),
	}); err != nil {
		return domain.TaskTemplate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskTemplate{}, err
	}
	return t, nil
}

// UpdateTemplate changes a template. Instances already generated keep the
// values they were created with.
func (e Engine) UpdateTemplate(ctx context.Context, id string, opts TemplateUpdateOptions) (domain.TaskTemplate, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	defer tx.Rollback()

	if _, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermTemplateWrite); err != nil {
		return domain.TaskTemplate{}, err
	}
	t, err := e.Repo.GetTemplateTx(ctx, tx, id)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	changed := []string{}
	if opts.Title != nil {
		t.Title = strings.TrimSpace(*opts.Title)
		changed = append(changed, "title")
	}
	if opts.DoD != nil {
		t.DoD = *opts.DoD
		changed = append(changed, "dod")
	}
	if opts.Description != nil {
		t.Description = *opts.Description
		changed = append(changed, "description")
	}
	if opts.OwnerID != nil {
		t.OwnerID = *opts.OwnerID
		changed = append(changed, "owner_id")
	}
	if opts.ChannelID != nil {
		t.ChannelID = domain.StrPtr(*opts.ChannelID)
		changed = append(changed, "channel_id")
	}
	if opts.TimeOfDay != nil {
		t.TimeOfDay = *opts.TimeOfDay
		changed = append(changed, "time_of_day")
	}
	if opts.Weekdays != nil {
		days, err := parseWeekdays(opts.Weekdays)
		if err != nil {
			return domain.TaskTemplate{}, err
		}
		t.Weekdays = days
		changed = append(changed, "weekdays")
	}
	if opts.IsCritical != nil {
		t.IsCritical = *opts.IsCritical
		changed = append(changed, "is_critical")
	}
	if opts.EvidenceRequired != nil {
		t.EvidenceRequired = *opts.EvidenceRequired
		changed = append(changed, "evidence_required")
	}
	if opts.PointsOnComplete != nil {
		t.PointsOnComplete = *opts.PointsOnComplete
		changed = append(changed, "points_on_complete")
	}
	if opts.PointsOnSkip != nil {
		t.PointsOnSkip = *opts.PointsOnSkip
		changed = append(changed, "points_on_skip")
	}
	if opts.IsActive != nil {
		t.IsActive = *opts.IsActive
		changed = append(changed, "is_active")
	}
	t.UpdatedAt = e.stamp()
	if err := e.checkTemplate(ctx, tx, t); err != nil {
		return domain.TaskTemplate{}, err
	}
	if err := e.Repo.UpdateTemplateTx(ctx, tx, t); err != nil {
		return domain.TaskTemplate{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TemplateUpdated, "template", t.ID, opts.ActorID, events.EventPayload{"fields": changed}); err != nil {
		return domain.TaskTemplate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskTemplate{}, err
	}
	return t, nil
}

// viewer builds the visibility config for the actor.
func (e Engine) viewer(p auth.Principal) visibility.Config {
	return visibility.ForViewer(p.OwnerID, p.Elevated, e.Config.Visibility.RestrictToOwner, e.Config.GlobalPolicy())
}

func (e Engine) GetTemplate(ctx context.Context, id, actorID string) (domain.TaskTemplate, error) {
	p, err := e.Auth.Require(ctx, nil, actorID, auth.PermTemplateRead)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	t, err := e.Repo.GetTemplate(ctx, id)
	if err != nil {
		return domain.TaskTemplate{}, err
	}
	if len(visibility.VisibleTemplates([]domain.TaskTemplate{t}, e.viewer(p))) == 0 {
		return domain.TaskTemplate{}, repo.ErrNotFound
	}
	return t, nil
}

// ListVisibleTemplates lists templates the actor may see.
func (e Engine) ListVisibleTemplates(ctx context.Context, f repo.TemplateFilters, actorID string) ([]domain.TaskTemplate, error) {
	p, err := e.Auth.Require(ctx, nil, actorID, auth.PermTemplateRead)
	if err != nil {
		return nil, err
	}
	templates, err := e.Repo.ListTemplates(ctx, f)
	if err != nil {
		return nil, err
	}
	return visibility.VisibleTemplates(templates, e.viewer(p)), nil
}
