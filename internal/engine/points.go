package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"opsboard/internal/calendar"
	"opsboard/internal/domain"
	"opsboard/internal/engine/auth"
	"opsboard/internal/events"
	"opsboard/internal/ledger"
	"opsboard/internal/repo"
)

type GrantOptions struct {
	OwnerID string
	Date    string
	Amount  int
	Reason  string
	ActorID string
}

// AppendPoints books a MANUAL adjustment. Task and incident entries are
// only written by their own transitions.
func (e Engine) AppendPoints(ctx context.Context, opts GrantOptions) (domain.PointsEntry, error) {
	if strings.TrimSpace(opts.Reason) == "" {
		return domain.PointsEntry{}, invalid("reason", "required for manual points")
	}
	entry := domain.PointsEntry{
		ID:         uuid.NewString(),
		OwnerID:    opts.OwnerID,
		Date:       opts.Date,
		Amount:     opts.Amount,
		Reason:     strings.TrimSpace(opts.Reason),
		SourceKind: domain.SourceManual,
		CreatedAt:  e.stamp(),
	}
	if entry.Date == "" {
		entry.Date = e.Today().Format(calendar.DateLayout)
	}
	if strings.TrimSpace(entry.OwnerID) == "" {
		return domain.PointsEntry{}, invalid("owner_id", "required")
	}
	if _, err := calendar.ParseDate(entry.Date); err != nil {
		return domain.PointsEntry{}, err
	}
	if err := ledger.Validate(entry); err != nil {
		return domain.PointsEntry{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PointsEntry{}, err
	}
	defer tx.Rollback()

	if _, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermPointsGrant); err != nil {
		return domain.PointsEntry{}, err
	}
	if _, err := e.Repo.GetOwnerTx(ctx, tx, entry.OwnerID); err != nil {
		return domain.PointsEntry{}, err
	}
	if err := e.Repo.InsertPointsEntryTx(ctx, tx, entry); err != nil {
		return domain.PointsEntry{}, err
	}
	if err := e.Events.Append(ctx, tx, events.PointsAppended, "points_entry", entry.ID, opts.ActorID, events.EventPayload{
		"owner_id":    entry.OwnerID,
		"amount":      entry.Amount,
		"source_kind": entry.SourceKind,
	}); err != nil {
		return domain.PointsEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PointsEntry{}, err
	}
	return entry, nil
}

// TotalFor sums an owner's points in r. Non-elevated actors only see their
// own total.
func (e Engine) TotalFor(ctx context.Context, ownerID string, r ledger.DateRange, actorID string) (int, error) {
	p, err := e.Auth.Require(ctx, nil, actorID, auth.PermPointsRead)
	if err != nil {
		return 0, err
	}
	if ownerID == "" {
		ownerID = p.OwnerID
	}
	if ownerID != p.OwnerID && !p.Elevated && e.Config.Visibility.RestrictToOwner {
		return 0, auth.ForbiddenError{Permission: auth.PermPointsRead}
	}
	return e.Ledger.TotalFor(ctx, ownerID, r)
}

// Rank returns the ranking for r.
func (e Engine) Rank(ctx context.Context, r ledger.DateRange, actorID string) ([]ledger.Standing, error) {
	if _, err := e.Auth.Require(ctx, nil, actorID, auth.PermPointsRead); err != nil {
		return nil, err
	}
	return e.Ledger.Rank(ctx, r)
}

// ListPoints returns ledger rows; non-elevated actors see only their own.
func (e Engine) ListPoints(ctx context.Context, f repo.PointsFilters, actorID string) ([]domain.PointsEntry, error) {
	p, err := e.Auth.Require(ctx, nil, actorID, auth.PermPointsRead)
	if err != nil {
		return nil, err
	}
	if !p.Elevated && e.Config.Visibility.RestrictToOwner {
		f.OwnerID = p.OwnerID
	}
	if err := f.Range.Validate(); err != nil {
		return nil, err
	}
	return e.Repo.ListPointsEntries(ctx, f)
}
