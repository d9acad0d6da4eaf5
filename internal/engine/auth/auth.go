package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"opsboard/internal/config"
)

const (
	PermOwnerRead       = "owner.read"
	PermOwnerWrite      = "owner.write"
	PermChannelWrite    = "channel.write"
	PermTemplateRead    = "template.read"
	PermTemplateWrite   = "template.write"
	PermMonthApply      = "month.apply"
	PermInstanceRead    = "instance.read"
	PermInstanceCreate  = "instance.create"
	PermInstanceExecute = "instance.execute"
	PermPointsRead      = "points.read"
	PermPointsGrant     = "points.grant"
	PermIncidentRead    = "incident.read"
	PermIncidentWrite   = "incident.write"
	PermIncidentResolve = "incident.resolve"
	PermEventsRead      = "events.read"
	PermAPIKeyWrite     = "apikey.write"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// InactiveOwnerError is returned for owners that were deactivated.
type InactiveOwnerError struct {
	OwnerID string
}

func (e InactiveOwnerError) Error() string {
	return fmt.Sprintf("owner %s is inactive", e.OwnerID)
}

var ErrUnknownOwner = errors.New("unknown owner")

// Principal is an authenticated owner with its resolved role.
type Principal struct {
	OwnerID     string   `json:"owner_id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Elevated    bool     `json:"elevated"`
	Permissions []string `json:"permissions"`
}

func (p Principal) Has(perm string) bool {
	return slices.Contains(p.Permissions, perm)
}

// Service resolves owners to permissions using the board RBAC section.
type Service struct {
	DB     *sql.DB
	Config *config.Config
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Resolve loads the owner and maps its role through the config. tx may be nil.
func (s Service) Resolve(ctx context.Context, tx *sql.Tx, ownerID string) (Principal, error) {
	if ownerID == "" {
		return Principal{}, ErrUnknownOwner
	}
	var q queryer = s.DB
	if tx != nil {
		q = tx
	}
	var p Principal
	var active bool
	err := q.QueryRowContext(ctx, `SELECT id,name,role,active FROM owners WHERE id=?`, ownerID).Scan(&p.OwnerID, &p.Name, &p.Role, &active)
	if err == sql.ErrNoRows {
		return Principal{}, fmt.Errorf("%w: %s", ErrUnknownOwner, ownerID)
	}
	if err != nil {
		return Principal{}, err
	}
	if !active {
		return Principal{}, InactiveOwnerError{OwnerID: ownerID}
	}
	if s.Config != nil {
		p.Elevated = s.Config.IsElevated(p.Role)
		p.Permissions = s.Config.Permissions(p.Role)
	}
	return p, nil
}

// Require resolves ownerID and checks perm.
func (s Service) Require(ctx context.Context, tx *sql.Tx, ownerID, perm string) (Principal, error) {
	p, err := s.Resolve(ctx, tx, ownerID)
	if err != nil {
		return Principal{}, err
	}
	if !p.Has(perm) {
		return Principal{}, ForbiddenError{Permission: perm}
	}
	return p, nil
}
