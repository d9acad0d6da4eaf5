package repo

import (
	"context"
	"database/sql"
	"strings"

	"opsboard/internal/domain"
)

const incidentColumns = `id,title,COALESCE(description,''),owner_id,channel_id,severity,status,points_on_resolve,created_at,resolved_at,resolved_by`

func scanIncident(row rowScanner) (domain.Incident, error) {
	var in domain.Incident
	var channelID, resolvedAt, resolvedBy sql.NullString
	err := row.Scan(&in.ID, &in.Title, &in.Description, &in.OwnerID, &channelID, &in.Severity, &in.Status,
		&in.PointsOnResolve, &in.CreatedAt, &resolvedAt, &resolvedBy)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	in.ChannelID = strPtr(channelID)
	in.ResolvedAt = strPtr(resolvedAt)
	in.ResolvedBy = strPtr(resolvedBy)
	return in, nil
}

func (r Repo) InsertIncidentTx(ctx context.Context, tx *sql.Tx, in domain.Incident) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO incidents(id,title,description,owner_id,channel_id,severity,status,points_on_resolve,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		in.ID, in.Title, nullable(in.Description), in.OwnerID, nullableStringPtr(in.ChannelID), in.Severity, in.Status,
		in.PointsOnResolve, in.CreatedAt)
	return err
}

func (r Repo) GetIncidentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Incident, error) {
	return scanIncident(r.q(tx).QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id=?`, id))
}

// ResolveIncidentTx closes an OPEN incident; ErrStale if it was already
// resolved.
func (r Repo) ResolveIncidentTx(ctx context.Context, tx *sql.Tx, id, resolvedAt, resolvedBy string) error {
	res, err := tx.ExecContext(ctx, `UPDATE incidents SET status=?, resolved_at=?, resolved_by=? WHERE id=? AND status=?`,
		domain.IncidentResolved, resolvedAt, resolvedBy, id, domain.IncidentOpen)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

type IncidentFilters struct {
	Status          string
	OwnerID         string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListIncidents(ctx context.Context, f IncidentFilters) ([]domain.Incident, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + incidentColumns + ` FROM incidents ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Incident
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}
