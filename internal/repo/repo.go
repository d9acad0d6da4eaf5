package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsboard/internal/config"
	"opsboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicateInstance is returned when a template already has an
	// instance on the date.
	ErrDuplicateInstance = errors.New("instance already exists for template and date")
	// ErrStale is returned by compare-and-set updates whose row moved on.
	ErrStale = errors.New("row changed concurrently")
	// ErrAlreadyExists is returned when an explicit id is taken.
	ErrAlreadyExists = errors.New("already exists")
)

// dbtx is satisfied by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r Repo) q(tx *sql.Tx) dbtx {
	if tx != nil {
		return tx
	}
	return r.DB
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (r Repo) InsertOwnerTx(ctx context.Context, tx *sql.Tx, o domain.Owner) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO owners(id,name,role,active,created_at) VALUES (?,?,?,?,?)`,
		o.ID, o.Name, o.Role, boolInt(o.Active), o.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("owner %s: %w", o.ID, ErrAlreadyExists)
	}
	return err
}

func (r Repo) GetOwner(ctx context.Context, id string) (domain.Owner, error) {
	return r.GetOwnerTx(ctx, nil, id)
}

func (r Repo) GetOwnerTx(ctx context.Context, tx *sql.Tx, id string) (domain.Owner, error) {
	var o domain.Owner
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,role,active,created_at FROM owners WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &o.Role, &o.Active, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) ListOwners(ctx context.Context, activeOnly bool) ([]domain.Owner, error) {
	query := `SELECT id,name,role,active,created_at FROM owners`
	if activeOnly {
		query += ` WHERE active=1`
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Owner
	for rows.Next() {
		var o domain.Owner
		if err := rows.Scan(&o.ID, &o.Name, &o.Role, &o.Active, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) SetOwnerActiveTx(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE owners SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountOwners(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM owners`).Scan(&n)
	return n, err
}

func (r Repo) InsertChannelTx(ctx context.Context, tx *sql.Tx, c domain.Channel) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO channels(id,name,created_at) VALUES (?,?,?)`, c.ID, c.Name, c.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("channel %s: %w", c.ID, ErrAlreadyExists)
	}
	return err
}

func (r Repo) GetChannelTx(ctx context.Context, tx *sql.Tx, id string) (domain.Channel, error) {
	var c domain.Channel
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,created_at FROM channels WHERE id=?`, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM channels ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Channel
	for rows.Next() {
		var c domain.Channel
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpsertBoardConfig(ctx context.Context, cfg *config.Config) error {
	return r.UpsertBoardConfigTx(ctx, nil, cfg)
}

// UpsertBoardConfigTx validates and stores the single board config row.
func (r Repo) UpsertBoardConfigTx(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO board_config(id,config_json,created_at,updated_at) VALUES (1,?,?,?)
ON CONFLICT(id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, string(payload), now, now)
	return err
}

func (r Repo) GetBoardConfig(ctx context.Context) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM board_config WHERE id=1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	return &cfg, cfg.Validate()
}
