package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"opsboard/internal/calendar"
	"opsboard/internal/domain"
	"opsboard/internal/engine/auth"
	"opsboard/internal/events"
	"opsboard/internal/expand"
	"opsboard/internal/lifecycle"
	"opsboard/internal/repo"
	"opsboard/internal/visibility"
)

// SchedulerActor is recorded on events written by the month-end job.
const SchedulerActor = "scheduler"

type ApplyResult struct {
	Month   string                `json:"month"`
	Created []domain.TaskInstance `json:"created"`
	Skipped int                   `json:"skipped"`
}

// ApplyMonth generates the month's instances from every active template.
// Running it again creates nothing new.
func (e Engine) ApplyMonth(ctx context.Context, monthKey, actorID string) (ApplyResult, error) {
	return e.applyMonth(ctx, monthKey, actorID, true)
}

// ApplyMonthScheduled is ApplyMonth for the scheduler, which acts without an
// owner.
func (e Engine) ApplyMonthScheduled(ctx context.Context, monthKey string) (ApplyResult, error) {
	return e.applyMonth(ctx, monthKey, SchedulerActor, false)
}

func (e Engine) applyMonth(ctx context.Context, monthKey, actorID string, checkActor bool) (ApplyResult, error) {
	first, last, err := calendar.MonthBounds(monthKey)
	if err != nil {
		return ApplyResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ApplyResult{}, err
	}
	defer tx.Rollback()

	if checkActor {
		if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermMonthApply); err != nil {
			return ApplyResult{}, err
		}
	}
	templates, err := e.Repo.ListTemplatesTx(ctx, tx, repo.TemplateFilters{ActiveOnly: true})
	if err != nil {
		return ApplyResult{}, err
	}
	existing, err := e.Repo.ListInstancesTx(ctx, tx, repo.InstanceFilters{From: first, To: last})
	if err != nil {
		return ApplyResult{}, err
	}
	candidates, err := expand.Expand(templates, monthKey, existing)
	if err != nil {
		return ApplyResult{}, err
	}
	planned, err := expand.Expand(templates, monthKey, nil)
	if err != nil {
		return ApplyResult{}, err
	}
	// Skipped counts occurrences that already existed before this run.
	res := ApplyResult{Month: monthKey, Created: []domain.TaskInstance{}, Skipped: len(planned) - len(candidates)}
	now := e.stamp()
	for _, inst := range candidates {
		inst.CreatedAt = now
		// Existing rows were read in this transaction, so a unique violation
		// here means the plan is wrong; it aborts the whole apply.
		if err := e.Repo.InsertInstanceTx(ctx, tx, inst); err != nil {
			return ApplyResult{}, fmt.Errorf("insert instance %s: %w", inst.ID, err)
		}
		res.Created = append(res.Created, inst)
	}
	if err := e.Events.Append(ctx, tx, events.MonthApplied, "month", monthKey, actorID, events.EventPayload{
		"created":   len(res.Created),
		"skipped":   res.Skipped,
		"templates": len(templates),
	}); err != nil {
		return ApplyResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ApplyResult{}, err
	}
	e.log().Info("month applied", "month", monthKey, "created", len(res.Created), "actor", actorID)
	return res, nil
}

// MonthSummary counts the month's instances by status across all owners.
func (e Engine) MonthSummary(ctx context.Context, monthKey, actorID string) (map[domain.InstanceStatus]int, error) {
	if _, err := e.Auth.Require(ctx, nil, actorID, auth.PermMonthApply); err != nil {
		return nil, err
	}
	first, last, err := calendar.MonthBounds(monthKey)
	if err != nil {
		return nil, err
	}
	counts, err := e.Repo.CountInstancesByStatus(ctx, first, last)
	if err != nil {
		return nil, err
	}
	res := map[domain.InstanceStatus]int{domain.StatusPending: 0, domain.StatusDone: 0, domain.StatusSkipped: 0}
	for status, n := range counts {
		res[domain.InstanceStatus(status)] = n
	}
	return res, nil
}

type AdHocOptions struct {
	Date             string
	Title            string
	DoD              string
	Description      string
	OwnerID          string
	ChannelID        string
	TimeOfDay        string
	IsCritical       bool
	EvidenceRequired *bool
	PointsOnComplete *int
	PointsOnSkip     *int
	ActorID          string
}

// CreateAdHocInstance adds a one-off task that belongs to no template.
func (e Engine) CreateAdHocInstance(ctx context.Context, opts AdHocOptions) (domain.TaskInstance, error) {
	if _, err := calendar.ParseDate(opts.Date); err != nil {
		return domain.TaskInstance{}, err
	}
	defaults := e.Config.PointsFor(opts.IsCritical)
	inst := domain.TaskInstance{
		ID:               uuid.NewString(),
		Date:             opts.Date,
		Title:            strings.TrimSpace(opts.Title),
		DoD:              opts.DoD,
		Description:      opts.Description,
		OwnerID:          opts.OwnerID,
		ChannelID:        domain.StrPtr(opts.ChannelID),
		TimeOfDay:        opts.TimeOfDay,
		IsCritical:       opts.IsCritical,
		EvidenceRequired: opts.IsCritical,
		PointsOnComplete: defaults.OnComplete,
		PointsOnSkip:     defaults.OnSkip,
		Status:           domain.StatusPending,
		CreatedAt:        e.stamp(),
	}
	if opts.EvidenceRequired != nil {
		inst.EvidenceRequired = *opts.EvidenceRequired
	}
	if opts.PointsOnComplete != nil {
		inst.PointsOnComplete = *opts.PointsOnComplete
	}
	if opts.PointsOnSkip != nil {
		inst.PointsOnSkip = *opts.PointsOnSkip
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskInstance{}, err
	}
	defer tx.Rollback()

	if _, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermInstanceCreate); err != nil {
		return domain.TaskInstance{}, err
	}
	// Reuse the template rules for title, time, owner and channel.
	probe := domain.TaskTemplate{Title: inst.Title, OwnerID: inst.OwnerID, ChannelID: inst.ChannelID, TimeOfDay: inst.TimeOfDay}
	if err := e.checkTemplate(ctx, tx, probe); err != nil {
		return domain.TaskInstance{}, err
	}
	if err := e.Repo.InsertInstanceTx(ctx, tx, inst); err != nil {
		return domain.TaskInstance{}, fmt.Errorf("insert instance: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.InstanceCreated, "instance", inst.ID, opts.ActorID, events.EventPayload{
		"owner_id": inst.OwnerID,
		"date":     inst.Date,
	}); err != nil {
		return domain.TaskInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskInstance{}, err
	}
	return inst, nil
}

// TransitionResult is the instance after completion or skip together with
// the ledger entry written in the same transaction.
type TransitionResult struct {
	Instance domain.TaskInstance `json:"instance"`
	Entry    domain.PointsEntry  `json:"points_entry"`
}

type transitionFunc func(inst domain.TaskInstance, actor lifecycle.Actor) (domain.TaskInstance, domain.PointsEntry, error)

// CompleteInstance marks a pending task DONE and books its points.
func (e Engine) CompleteInstance(ctx context.Context, id string, evidence []string, actorID string) (TransitionResult, error) {
	return e.transition(ctx, id, actorID, domain.StatusDone, events.InstanceCompleted,
		func(inst domain.TaskInstance, actor lifecycle.Actor) (domain.TaskInstance, domain.PointsEntry, error) {
			return lifecycle.Complete(inst, evidence, actor, e.now())
		})
}

// SkipInstance marks a pending task SKIPPED and books the skip points.
func (e Engine) SkipInstance(ctx context.Context, id, reason, actorID string) (TransitionResult, error) {
	return e.transition(ctx, id, actorID, domain.StatusSkipped, events.InstanceSkipped,
		func(inst domain.TaskInstance, actor lifecycle.Actor) (domain.TaskInstance, domain.PointsEntry, error) {
			return lifecycle.Skip(inst, reason, actor, e.now())
		})
}

// transition stores the new state and the ledger entry atomically: either
// both are written or neither is.
func (e Engine) transition(ctx context.Context, id, actorID string, to domain.InstanceStatus, evtType string, apply transitionFunc) (TransitionResult, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()

	p, err := e.Auth.Require(ctx, tx, actorID, auth.PermInstanceExecute)
	if err != nil {
		return TransitionResult{}, err
	}
	inst, err := e.Repo.GetInstanceTx(ctx, tx, id)
	if err != nil {
		return TransitionResult{}, err
	}
	updated, entry, err := apply(inst, lifecycle.Actor{OwnerID: p.OwnerID, Elevated: p.Elevated})
	if err != nil {
		return TransitionResult{}, err
	}
	if err := e.Repo.TransitionInstanceTx(ctx, tx, updated); err != nil {
		if errors.Is(err, repo.ErrStale) {
			return TransitionResult{}, e.staleTransition(ctx, tx, id, to)
		}
		return TransitionResult{}, err
	}
	if err := e.Repo.InsertPointsEntryTx(ctx, tx, entry); err != nil {
		return TransitionResult{}, fmt.Errorf("append points entry: %w", err)
	}
	if err := e.Events.Append(ctx, tx, evtType, "instance", updated.ID, actorID, events.EventPayload{
		"owner_id": updated.OwnerID,
		"date":     updated.Date,
		"points":   entry.Amount,
	}); err != nil {
		return TransitionResult{}, err
	}
	if err := e.Events.Append(ctx, tx, events.PointsAppended, "points_entry", entry.ID, actorID, events.EventPayload{
		"owner_id":    entry.OwnerID,
		"amount":      entry.Amount,
		"source_kind": entry.SourceKind,
	}); err != nil {
		return TransitionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, err
	}
	return TransitionResult{Instance: updated, Entry: entry}, nil
}

func (e Engine) staleTransition(ctx context.Context, tx *sql.Tx, id string, to domain.InstanceStatus) error {
	current, err := e.Repo.GetInstanceTx(ctx, tx, id)
	if err != nil {
		return err
	}
	return lifecycle.InvalidStateTransitionError{InstanceID: id, From: current.Status, To: to}
}

// GetInstance returns an instance the actor may see.
func (e Engine) GetInstance(ctx context.Context, id, actorID string) (domain.TaskInstance, error) {
	p, err := e.Auth.Require(ctx, nil, actorID, auth.PermInstanceRead)
	if err != nil {
		return domain.TaskInstance{}, err
	}
	inst, err := e.Repo.GetInstance(ctx, id)
	if err != nil {
		return domain.TaskInstance{}, err
	}
	if len(visibility.Visible([]domain.TaskInstance{inst}, e.viewer(p))) == 0 {
		return domain.TaskInstance{}, repo.ErrNotFound
	}
	return inst, nil
}

type InstanceQuery struct {
	Month   string
	Date    string
	OwnerID string
	Status  string
	Limit   int
	Cursor  string
}

type InstancePage struct {
	Items      []domain.TaskInstance `json:"items"`
	NextCursor string                `json:"next_cursor,omitempty"`
}

// ListVisibleInstances lists instances filtered by the actor's visibility.
// NextCursor follows the last stored row, so a page can hold fewer than
// Limit items while more remain.
func (e Engine) ListVisibleInstances(ctx context.Context, q InstanceQuery, actorID string) (InstancePage, error) {
	p, err := e.Auth.Require(ctx, nil, actorID, auth.PermInstanceRead)
	if err != nil {
		return InstancePage{}, err
	}
	f := repo.InstanceFilters{Date: q.Date, OwnerID: q.OwnerID, Status: strings.ToUpper(q.Status), Limit: q.Limit}
	if q.Month != "" {
		first, last, err := calendar.MonthBounds(q.Month)
		if err != nil {
			return InstancePage{}, err
		}
		f.From, f.To = first, last
	}
	if q.Date != "" {
		if _, err := calendar.ParseDate(q.Date); err != nil {
			return InstancePage{}, err
		}
	}
	if q.Cursor != "" {
		c, err := repo.ParseInstanceCursor(q.Cursor)
		if err != nil {
			return InstancePage{}, invalid("cursor", "%v", err)
		}
		f.Cursor = &c
	}
	rows, err := e.Repo.ListInstances(ctx, f)
	if err != nil {
		return InstancePage{}, err
	}
	page := InstancePage{Items: visibility.Visible(rows, e.viewer(p))}
	if q.Limit > 0 && len(rows) == q.Limit {
		lastRow := rows[len(rows)-1]
		page.NextCursor = repo.InstanceCursor{Date: lastRow.Date, TimeOfDay: lastRow.TimeOfDay, ID: lastRow.ID}.String()
	}
	return page, nil
}
