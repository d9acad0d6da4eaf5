package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"opsboard/internal/domain"
)

const instanceColumns = `id,template_id,date,title,COALESCE(dod,''),COALESCE(description,''),owner_id,channel_id,time_of_day,is_critical,evidence_required,points_on_complete,points_on_skip,status,evidence_json,COALESCE(skip_reason,''),completed_at,skipped_at,points_awarded,created_at`

func scanInstance(row rowScanner) (domain.TaskInstance, error) {
	var i domain.TaskInstance
	var templateID, channelID, evidence, completedAt, skippedAt sql.NullString
	var awarded sql.NullInt64
	err := row.Scan(&i.ID, &templateID, &i.Date, &i.Title, &i.DoD, &i.Description, &i.OwnerID, &channelID, &i.TimeOfDay,
		&i.IsCritical, &i.EvidenceRequired, &i.PointsOnComplete, &i.PointsOnSkip, &i.Status, &evidence, &i.SkipReason,
		&completedAt, &skippedAt, &awarded, &i.CreatedAt)
	if err == sql.ErrNoRows {
		return i, ErrNotFound
	}
	if err != nil {
		return i, err
	}
	i.TemplateID = strPtr(templateID)
	i.ChannelID = strPtr(channelID)
	i.CompletedAt = strPtr(completedAt)
	i.SkippedAt = strPtr(skippedAt)
	if awarded.Valid {
		p := int(awarded.Int64)
		i.PointsAwarded = &p
	}
	if evidence.Valid && evidence.String != "" {
		if err := json.Unmarshal([]byte(evidence.String), &i.Evidence); err != nil {
			return i, fmt.Errorf("decode evidence for %s: %w", i.ID, err)
		}
	}
	return i, nil
}

func evidenceJSON(items []string) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// InsertInstanceTx stores a new instance. A second instance for the same
// template and date fails with ErrDuplicateInstance.
func (r Repo) InsertInstanceTx(ctx context.Context, tx *sql.Tx, i domain.TaskInstance) error {
	evidence, err := evidenceJSON(i.Evidence)
	if err != nil {
		return err
	}
	if i.Status == "" {
		i.Status = domain.StatusPending
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO task_instances(id,template_id,date,title,dod,description,owner_id,channel_id,time_of_day,is_critical,evidence_required,points_on_complete,points_on_skip,status,evidence_json,skip_reason,completed_at,skipped_at,points_awarded,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		i.ID, nullableStringPtr(i.TemplateID), i.Date, i.Title, nullable(i.DoD), nullable(i.Description), i.OwnerID,
		nullableStringPtr(i.ChannelID), i.TimeOfDay, boolInt(i.IsCritical), boolInt(i.EvidenceRequired),
		i.PointsOnComplete, i.PointsOnSkip, i.Status, evidence, nullable(i.SkipReason),
		nullableStringPtr(i.CompletedAt), nullableStringPtr(i.SkippedAt), nullableIntPtr(i.PointsAwarded), i.CreatedAt)
	if isUniqueViolation(err) && i.TemplateID != nil {
		return fmt.Errorf("%w: %s on %s", ErrDuplicateInstance, *i.TemplateID, i.Date)
	}
	return err
}

func (r Repo) GetInstance(ctx context.Context, id string) (domain.TaskInstance, error) {
	return r.GetInstanceTx(ctx, nil, id)
}

func (r Repo) GetInstanceTx(ctx context.Context, tx *sql.Tx, id string) (domain.TaskInstance, error) {
	return scanInstance(r.q(tx).QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM task_instances WHERE id=?`, id))
}

// TransitionInstanceTx persists the outcome of a completion or skip. The
// update only applies while the stored row is still PENDING; otherwise it
// returns ErrStale.
func (r Repo) TransitionInstanceTx(ctx context.Context, tx *sql.Tx, i domain.TaskInstance) error {
	evidence, err := evidenceJSON(i.Evidence)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE task_instances SET status=?, evidence_json=?, skip_reason=?, completed_at=?, skipped_at=?, points_awarded=? WHERE id=? AND status=?`,
		i.Status, evidence, nullable(i.SkipReason), nullableStringPtr(i.CompletedAt), nullableStringPtr(i.SkippedAt),
		nullableIntPtr(i.PointsAwarded), i.ID, domain.StatusPending)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// InstanceCursor orders instance pages by date, time of day and id.
type InstanceCursor struct {
	Date      string
	TimeOfDay string
	ID        string
}

func (c InstanceCursor) String() string {
	return c.Date + "|" + c.TimeOfDay + "|" + c.ID
}

// ParseInstanceCursor reads the form produced by InstanceCursor.String.
func ParseInstanceCursor(raw string) (InstanceCursor, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return InstanceCursor{}, fmt.Errorf("invalid cursor %q", raw)
	}
	return InstanceCursor{Date: parts[0], TimeOfDay: parts[1], ID: parts[2]}, nil
}

type InstanceFilters struct {
	From       string
	To         string
	Date       string
	OwnerID    string
	Status     string
	TemplateID string
	Limit      int
	Cursor     *InstanceCursor
}

func (r Repo) ListInstances(ctx context.Context, f InstanceFilters) ([]domain.TaskInstance, error) {
	return r.ListInstancesTx(ctx, nil, f)
}

func (r Repo) ListInstancesTx(ctx context.Context, tx *sql.Tx, f InstanceFilters) ([]domain.TaskInstance, error) {
	var clauses []string
	var args []any
	if f.Date != "" {
		clauses = append(clauses, "date=?")
		args = append(args, f.Date)
	}
	if f.From != "" {
		clauses = append(clauses, "date>=?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "date<=?")
		args = append(args, f.To)
	}
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.TemplateID != "" {
		clauses = append(clauses, "template_id=?")
		args = append(args, f.TemplateID)
	}
	if f.Cursor != nil {
		clauses = append(clauses, "(date, time_of_day, id) > (?, ?, ?)")
		args = append(args, f.Cursor.Date, f.Cursor.TimeOfDay, f.Cursor.ID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + instanceColumns + ` FROM task_instances ` + where + ` ORDER BY date ASC, time_of_day ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskInstance
	for rows.Next() {
		i, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, i)
	}
	return res, rows.Err()
}

// CountInstancesByStatus groups instances in [from, to] by status.
func (r Repo) CountInstancesByStatus(ctx context.Context, from, to string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM task_instances WHERE date>=? AND date<=? GROUP BY status`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}
