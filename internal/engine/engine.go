package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"opsboard/internal/config"
	"opsboard/internal/domain"
	"opsboard/internal/engine/auth"
	"opsboard/internal/events"
	"opsboard/internal/ledger"
	"opsboard/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Ledger ledger.Ledger
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Events: events.Writer{Now: time.Now},
		Auth:   auth.Service{DB: db, Config: cfg},
		Ledger: repo.Ledger{Repo: r, Now: time.Now},
		Config: cfg,
		Log:    slog.Default(),
		Now:    time.Now,
	}
}

// WithClock returns a copy of e whose writes are stamped by now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	if l, ok := e.Ledger.(repo.Ledger); ok {
		l.Now = now
		e.Ledger = l
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

// Today is the current date in the board timezone.
func (e Engine) Today() time.Time {
	return e.now().In(e.Config.Location())
}

// ValidationError reports bad caller input.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// InitBoard stores the board config when missing and creates the first
// admin. It refuses to run once owners exist.
func (e Engine) InitBoard(ctx context.Context, adminID, adminName string) (domain.Owner, error) {
	if e.Config == nil {
		return domain.Owner{}, errors.New("config not loaded")
	}
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return domain.Owner{}, invalid("owner_id", "required")
	}
	if adminName == "" {
		adminName = adminID
	}
	n, err := e.Repo.CountOwners(ctx)
	if err != nil {
		return domain.Owner{}, err
	}
	if n > 0 {
		return domain.Owner{}, errors.New("board already initialized")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Owner{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.UpsertBoardConfigTx(ctx, tx, e.Config); err != nil {
		return domain.Owner{}, fmt.Errorf("store board config: %w", err)
	}
	o := domain.Owner{ID: adminID, Name: adminName, Role: "admin", Active: true, CreatedAt: e.stamp()}
	if err := e.Repo.InsertOwnerTx(ctx, tx, o); err != nil {
		return domain.Owner{}, fmt.Errorf("insert owner: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.OwnerCreated, "owner", o.ID, o.ID, events.EventPayload{"role": o.Role, "board": e.Config.Board.ID}); err != nil {
		return domain.Owner{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Owner{}, err
	}
	e.log().Info("board initialized", "board", e.Config.Board.ID, "admin", o.ID)
	return o, nil
}

type OwnerCreateOptions struct {
	ID      string
	Name    string
	Role    string
	ActorID string
}

func (e Engine) CreateOwner(ctx context.Context, opts OwnerCreateOptions) (domain.Owner, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Owner{}, invalid("name", "required")
	}
	role := opts.Role
	if role == "" {
		role = e.Config.RBAC.DefaultRole
	}
	if _, ok := e.Config.RBAC.Roles[role]; !ok {
		return domain.Owner{}, invalid("role", "%s is not defined in the board config", role)
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Owner{}, err
	}
	defer tx.Rollback()

	if _, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermOwnerWrite); err != nil {
		return domain.Owner{}, err
	}
	o := domain.Owner{ID: id, Name: name, Role: role, Active: true, CreatedAt: e.stamp()}
	if err := e.Repo.InsertOwnerTx(ctx, tx, o); err != nil {
		return domain.Owner{}, fmt.Errorf("insert owner: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.OwnerCreated, "owner", o.ID, opts.ActorID, events.EventPayload{"role": o.Role}); err != nil {
		return domain.Owner{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Owner{}, err
	}
	return o, nil
}

// SetOwnerActive activates or deactivates an owner. Inactive owners cannot
// authenticate or receive new templates.
func (e Engine) SetOwnerActive(ctx context.Context, id string, active bool, actorID string) (domain.Owner, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Owner{}, err
	}
	defer tx.Rollback()

	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermOwnerWrite); err != nil {
		return domain.Owner{}, err
	}
	if !active && id == actorID {
		return domain.Owner{}, invalid("owner_id", "cannot deactivate yourself")
	}
	if err := e.Repo.SetOwnerActiveTx(ctx, tx, id, active); err != nil {
		return domain.Owner{}, err
	}
	o, err := e.Repo.GetOwnerTx(ctx, tx, id)
	if err != nil {
		return domain.Owner{}, err
	}
	if err := e.Events.Append(ctx, tx, events.OwnerUpdated, "owner", id, actorID, events.EventPayload{"active": active}); err != nil {
		return domain.Owner{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Owner{}, err
	}
	return o, nil
}

func (e Engine) ListOwners(ctx context.Context, activeOnly bool, actorID string) ([]domain.Owner, error) {
	if _, err := e.Auth.Require(ctx, nil, actorID, auth.PermOwnerRead); err != nil {
		return nil, err
	}
	return e.Repo.ListOwners(ctx, activeOnly)
}

type ChannelCreateOptions struct {
	ID      string
	Name    string
	ActorID string
}

func (e Engine) CreateChannel(ctx context.Context, opts ChannelCreateOptions) (domain.Channel, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Channel{}, invalid("name", "required")
	}
	id := strings.TrimSpace(opts.ID)
	if id == "" {
		id = uuid.NewString()
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Channel{}, err
	}
	defer tx.Rollback()

	if _, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermChannelWrite); err != nil {
		return domain.Channel{}, err
	}
	c := domain.Channel{ID: id, Name: name, CreatedAt: e.stamp()}
	if err := e.Repo.InsertChannelTx(ctx, tx, c); err != nil {
		return domain.Channel{}, fmt.Errorf("insert channel: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.ChannelCreated, "channel", c.ID, opts.ActorID, events.EventPayload{"name": c.Name}); err != nil {
		return domain.Channel{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Channel{}, err
	}
	return c, nil
}

func (e Engine) ListChannels(ctx context.Context, actorID string) ([]domain.Channel, error) {
	if _, err := e.Auth.Require(ctx, nil, actorID, auth.PermTemplateRead); err != nil {
		return nil, err
	}
	return e.Repo.ListChannels(ctx)
}

// ImportConfig replaces the stored board config. The actor is checked
// against the config in force before the import.
func (e Engine) ImportConfig(ctx context.Context, cfg *config.Config, actorID string) error {
	if cfg == nil {
		return errors.New("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermOwnerWrite); err != nil {
		return err
	}
	if err := e.Repo.UpsertBoardConfigTx(ctx, tx, cfg); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.ConfigUpdated, "board", cfg.Board.ID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// WhoAmI resolves the actor to its role and permissions.
func (e Engine) WhoAmI(ctx context.Context, actorID string) (auth.Principal, error) {
	return e.Auth.Resolve(ctx, nil, actorID)
}

// CreateAPIKey mints a key for ownerID and returns it once in plain text.
func (e Engine) CreateAPIKey(ctx context.Context, ownerID, name, actorID string) (domain.APIKey, string, error) {
	if ownerID == "" {
		ownerID = actorID
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := "ob_" + hex.EncodeToString(raw)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()

	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermAPIKeyWrite); err != nil {
		return domain.APIKey{}, "", err
	}
	if _, err := e.Repo.GetOwnerTx(ctx, tx, ownerID); err != nil {
		return domain.APIKey{}, "", err
	}
	key := domain.APIKey{ID: uuid.NewString(), OwnerID: ownerID, Name: name, KeyHash: repo.HashAPIKey(secret), CreatedAt: e.stamp()}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actorID, events.EventPayload{"owner_id": ownerID}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

// ListAPIKeys lists keys, newest first; ownerID narrows to one owner.
func (e Engine) ListAPIKeys(ctx context.Context, ownerID, actorID string) ([]domain.APIKey, error) {
	if _, err := e.Auth.Require(ctx, nil, actorID, auth.PermAPIKeyWrite); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, ownerID)
}

// RevokeAPIKey deletes a key.
func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermAPIKeyWrite); err != nil {
		return err
	}
	if err := e.Repo.DeleteAPIKeyTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyRevoked, "api_key", id, actorID, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log().Info("api key revoked", "key", id, "actor", actorID)
	return nil
}

func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters, actorID string) ([]domain.Event, error) {
	if _, err := e.Auth.Require(ctx, nil, actorID, auth.PermEventsRead); err != nil {
		return nil, err
	}
	return e.Repo.LatestEvents(ctx, f)
}
