package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"opsboard/internal/calendar"
	"opsboard/internal/domain"
)

const templateColumns = `id,title,COALESCE(dod,''),COALESCE(description,''),owner_id,channel_id,time_of_day,weekdays,is_critical,evidence_required,points_on_complete,points_on_skip,is_active,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (domain.TaskTemplate, error) {
	var t domain.TaskTemplate
	var channelID sql.NullString
	var weekdays string
	err := row.Scan(&t.ID, &t.Title, &t.DoD, &t.Description, &t.OwnerID, &channelID, &t.TimeOfDay, &weekdays,
		&t.IsCritical, &t.EvidenceRequired, &t.PointsOnComplete, &t.PointsOnSkip, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.ChannelID = strPtr(channelID)
	t.Weekdays, err = calendar.ParseWeekdays([]string{weekdays})
	return t, err
}

func (r Repo) InsertTemplateTx(ctx context.Context, tx *sql.Tx, t domain.TaskTemplate) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO task_templates(id,title,dod,description,owner_id,channel_id,time_of_day,weekdays,is_critical,evidence_required,points_on_complete,points_on_skip,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.DoD), nullable(t.Description), t.OwnerID, nullableStringPtr(t.ChannelID), t.TimeOfDay,
		calendar.FormatWeekdays(t.Weekdays), boolInt(t.IsCritical), boolInt(t.EvidenceRequired), t.PointsOnComplete, t.PointsOnSkip,
		boolInt(t.IsActive), t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("template %s: %w", t.ID, ErrAlreadyExists)
	}
	return err
}

// UpdateTemplateTx rewrites every mutable column. Existing instances keep
// their copied fields.
func (r Repo) UpdateTemplateTx(ctx context.Context, tx *sql.Tx, t domain.TaskTemplate) error {
	res, err := tx.ExecContext(ctx, `UPDATE task_templates SET title=?, dod=?, description=?, owner_id=?, channel_id=?, time_of_day=?, weekdays=?, is_critical=?, evidence_required=?, points_on_complete=?, points_on_skip=?, is_active=?, updated_at=? WHERE id=?`,
		t.Title, nullable(t.DoD), nullable(t.Description), t.OwnerID, nullableStringPtr(t.ChannelID), t.TimeOfDay,
		calendar.FormatWeekdays(t.Weekdays), boolInt(t.IsCritical), boolInt(t.EvidenceRequired), t.PointsOnComplete, t.PointsOnSkip,
		boolInt(t.IsActive), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTemplate(ctx context.Context, id string) (domain.TaskTemplate, error) {
	return r.GetTemplateTx(ctx, nil, id)
}

func (r Repo) GetTemplateTx(ctx context.Context, tx *sql.Tx, id string) (domain.TaskTemplate, error) {
	return scanTemplate(r.q(tx).QueryRowContext(ctx, `SELECT `+templateColumns+` FROM task_templates WHERE id=?`, id))
}

type TemplateFilters struct {
	OwnerID    string
	ChannelID  string
	ActiveOnly bool
}

func (r Repo) ListTemplates(ctx context.Context, f TemplateFilters) ([]domain.TaskTemplate, error) {
	return r.ListTemplatesTx(ctx, nil, f)
}

func (r Repo) ListTemplatesTx(ctx context.Context, tx *sql.Tx, f TemplateFilters) ([]domain.TaskTemplate, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.ChannelID != "" {
		clauses = append(clauses, "channel_id=?")
		args = append(args, f.ChannelID)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+templateColumns+` FROM task_templates `+where+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
