package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"opsboard/internal/domain"
	"opsboard/internal/ledger"
)

// InsertPointsEntryTx appends a validated ledger row. Rows are never updated
// or deleted; the schema rejects both.
func (r Repo) InsertPointsEntryTx(ctx context.Context, tx *sql.Tx, e domain.PointsEntry) error {
	if err := ledger.Validate(e); err != nil {
		return err
	}
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO points_entries(id,owner_id,date,amount,reason,source_kind,source_id,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.OwnerID, e.Date, e.Amount, nullable(e.Reason), e.SourceKind, nullableStringPtr(e.SourceID), e.CreatedAt)
	return err
}

type PointsFilters struct {
	OwnerID    string
	SourceKind string
	SourceID   string
	Range      ledger.DateRange
	Limit      int
}

func rangeClauses(r ledger.DateRange, clauses []string, args []any) ([]string, []any) {
	if r.From != "" {
		clauses = append(clauses, "date>=?")
		args = append(args, r.From)
	}
	if r.To != "" {
		clauses = append(clauses, "date<=?")
		args = append(args, r.To)
	}
	return clauses, args
}

func (r Repo) ListPointsEntries(ctx context.Context, f PointsFilters) ([]domain.PointsEntry, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.SourceKind != "" {
		clauses = append(clauses, "source_kind=?")
		args = append(args, f.SourceKind)
	}
	if f.SourceID != "" {
		clauses = append(clauses, "source_id=?")
		args = append(args, f.SourceID)
	}
	clauses, args = rangeClauses(f.Range, clauses, args)
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,owner_id,date,amount,COALESCE(reason,''),source_kind,source_id,created_at FROM points_entries ` + where + ` ORDER BY date ASC, created_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PointsEntry
	for rows.Next() {
		var e domain.PointsEntry
		var sourceID sql.NullString
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Date, &e.Amount, &e.Reason, &e.SourceKind, &sourceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.SourceID = strPtr(sourceID)
		res = append(res, e)
	}
	return res, rows.Err()
}

// SumPoints totals ownerID's entries in r.
func (r Repo) SumPoints(ctx context.Context, ownerID string, dr ledger.DateRange) (int, error) {
	clauses, args := rangeClauses(dr, []string{"owner_id=?"}, []any{ownerID})
	var total int
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM points_entries WHERE `+strings.Join(clauses, " AND "), args...).Scan(&total)
	return total, err
}

// RankPoints totals every owner with entries in r, highest first, ties by
// owner id.
func (r Repo) RankPoints(ctx context.Context, dr ledger.DateRange) ([]ledger.Standing, error) {
	clauses, args := rangeClauses(dr, []string{"1=1"}, nil)
	rows, err := r.DB.QueryContext(ctx, `SELECT owner_id, SUM(amount) AS total FROM points_entries WHERE `+strings.Join(clauses, " AND ")+
		` GROUP BY owner_id ORDER BY total DESC, owner_id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []ledger.Standing{}
	for rows.Next() {
		var s ledger.Standing
		if err := rows.Scan(&s.OwnerID, &s.Total); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// Ledger is the SQLite-backed ledger.Ledger.
type Ledger struct {
	Repo Repo
	Now  func() time.Time
}

var _ ledger.Ledger = Ledger{}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

// Append stores e in its own transaction, assigning an id and creation time
// when they are missing.
func (l Ledger) Append(ctx context.Context, e domain.PointsEntry) (domain.PointsEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt == "" {
		e.CreatedAt = l.now().UTC().Format(time.RFC3339)
	}
	tx, err := l.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PointsEntry{}, err
	}
	defer tx.Rollback()
	if err := l.Repo.InsertPointsEntryTx(ctx, tx, e); err != nil {
		return domain.PointsEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PointsEntry{}, err
	}
	return e, nil
}

func (l Ledger) TotalFor(ctx context.Context, ownerID string, r ledger.DateRange) (int, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}
	return l.Repo.SumPoints(ctx, ownerID, r)
}

func (l Ledger) Rank(ctx context.Context, r ledger.DateRange) ([]ledger.Standing, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return l.Repo.RankPoints(ctx, r)
}
