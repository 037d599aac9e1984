package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pledgeline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// querier is satisfied by both *sql.DB and *sql.Tx so scan helpers can be
// shared between plain and transactional reads.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// --- campaigns ---

func (r Repo) InsertCampaign(ctx context.Context, c domain.Campaign) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO campaigns(id,title,description,created_at) VALUES (?,?,?,?)`,
		c.ID, c.Title, nullable(c.Description), c.CreatedAt)
	return err
}

func (r Repo) GetCampaign(ctx context.Context, id string) (domain.Campaign, error) {
	var c domain.Campaign
	var desc sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,title,description,created_at FROM campaigns WHERE id=?`, id).
		Scan(&c.ID, &c.Title, &desc, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if desc.Valid {
		c.Description = desc.String
	}
	return c, err
}

// --- triggers ---

const triggerCols = `id,key,title,description,state,outcomes_json,pledge_count,total_pledged_cents,extra_json,created_at,updated_at`

func scanTrigger(row *sql.Row) (domain.Trigger, error) {
	var t domain.Trigger
	var desc, extra sql.NullString
	var outcomesJSON string
	err := row.Scan(&t.ID, &t.Key, &t.Title, &desc, &t.State, &outcomesJSON,
		&t.PledgeCount, &t.TotalPledged, &extra, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if desc.Valid {
		t.Description = desc.String
	}
	if extra.Valid {
		t.ExtraJSON = extra.String
	}
	if err := json.Unmarshal([]byte(outcomesJSON), &t.Outcomes); err != nil {
		return t, fmt.Errorf("trigger %s outcomes: %w", t.ID, err)
	}
	return t, nil
}

func (r Repo) InsertTriggerTx(ctx context.Context, tx *sql.Tx, t domain.Trigger) error {
	outcomes, err := json.Marshal(t.Outcomes)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO triggers(`+triggerCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Key, t.Title, nullable(t.Description), t.State, string(outcomes),
		t.PledgeCount, t.TotalPledged, nullable(t.ExtraJSON), t.CreatedAt, t.UpdatedAt)
	return err
}

func (r Repo) GetTrigger(ctx context.Context, id string) (domain.Trigger, error) {
	return scanTrigger(r.DB.QueryRowContext(ctx, `SELECT `+triggerCols+` FROM triggers WHERE id=?`, id))
}

// GetTriggerTx reads a trigger inside the caller's (immediate) transaction,
// i.e. with the writer lock already held.
func (r Repo) GetTriggerTx(ctx context.Context, tx *sql.Tx, id string) (domain.Trigger, error) {
	return scanTrigger(tx.QueryRowContext(ctx, `SELECT `+triggerCols+` FROM triggers WHERE id=?`, id))
}

func (r Repo) GetTriggerByKey(ctx context.Context, key string) (domain.Trigger, error) {
	return scanTrigger(r.DB.QueryRowContext(ctx, `SELECT `+triggerCols+` FROM triggers WHERE key=?`, key))
}

func (r Repo) ListTriggers(ctx context.Context) ([]domain.Trigger, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+triggerCols+` FROM triggers ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Trigger
	for rows.Next() {
		var t domain.Trigger
		var desc, extra sql.NullString
		var outcomesJSON string
		if err := rows.Scan(&t.ID, &t.Key, &t.Title, &desc, &t.State, &outcomesJSON,
			&t.PledgeCount, &t.TotalPledged, &extra, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			t.Description = desc.String
		}
		if extra.Valid {
			t.ExtraJSON = extra.String
		}
		if err := json.Unmarshal([]byte(outcomesJSON), &t.Outcomes); err != nil {
			return nil, fmt.Errorf("trigger %s outcomes: %w", t.ID, err)
		}
		res = append(res, t)
	}
	return res, nil
}

func (r Repo) UpdateTriggerStateTx(ctx context.Context, tx *sql.Tx, id string, state domain.TriggerState, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE triggers SET state=?, updated_at=? WHERE id=?`, state, updatedAt, id)
	return err
}

// AdjustTriggerCountersTx bumps the pre-execution cached pledge counters.
func (r Repo) AdjustTriggerCountersTx(ctx context.Context, tx *sql.Tx, id string, dCount int64, dTotalCents int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE triggers SET pledge_count=pledge_count+?, total_pledged_cents=total_pledged_cents+? WHERE id=?`,
		dCount, dTotalCents, id)
	return err
}

// --- trigger executions ---

const executionCols = `id,trigger_id,action_time,description,pledge_count,pledge_count_with_contribs,num_contributions,total_contributions_cents,created_at`

func scanExecution(row *sql.Row) (domain.TriggerExecution, error) {
	var e domain.TriggerExecution
	var desc sql.NullString
	err := row.Scan(&e.ID, &e.TriggerID, &e.ActionTime, &desc, &e.PledgeCount,
		&e.PledgeCountWithContribs, &e.NumContributions, &e.TotalContributions, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if desc.Valid {
		e.Description = desc.String
	}
	return e, err
}

func (r Repo) InsertExecutionTx(ctx context.Context, tx *sql.Tx, e domain.TriggerExecution) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO trigger_executions(`+executionCols+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TriggerID, e.ActionTime, nullable(e.Description), e.PledgeCount,
		e.PledgeCountWithContribs, e.NumContributions, e.TotalContributions, e.CreatedAt)
	return err
}

func (r Repo) GetExecution(ctx context.Context, id string) (domain.TriggerExecution, error) {
	return scanExecution(r.DB.QueryRowContext(ctx, `SELECT `+executionCols+` FROM trigger_executions WHERE id=?`, id))
}

func (r Repo) GetExecutionByTriggerTx(ctx context.Context, tx *sql.Tx, triggerID string) (domain.TriggerExecution, error) {
	return scanExecution(tx.QueryRowContext(ctx, `SELECT `+executionCols+` FROM trigger_executions WHERE trigger_id=?`, triggerID))
}

// AdjustExecutionCountersTx bumps the execution's cached contribution
// counters inside the enclosing transaction.
func (r Repo) AdjustExecutionCountersTx(ctx context.Context, tx *sql.Tx, id string, dPledges, dPledgesWithContribs, dContribs, dTotalCents int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE trigger_executions SET
pledge_count=pledge_count+?,
pledge_count_with_contribs=pledge_count_with_contribs+?,
num_contributions=num_contributions+?,
total_contributions_cents=total_contributions_cents+?
WHERE id=?`, dPledges, dPledgesWithContribs, dContribs, dTotalCents, id)
	return err
}

// DeleteExecutionTx removes an execution record; the caller reverts the
// trigger to Paused. Debug/maintenance path only.
func (r Repo) DeleteExecutionTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM actions WHERE execution_id=?`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM trigger_executions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, campaignID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if campaignID != "" {
		clauses = append(clauses, "campaign_id=?")
		args = append(args, campaignID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(campaign_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.CampaignID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, campaignID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if campaignID != "" {
		clauses = append(clauses, "campaign_id=?")
		args = append(args, campaignID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(campaign_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.CampaignID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, nil
}

// LatestEventID returns the most recent event ID for a campaign.
func (r Repo) LatestEventID(ctx context.Context, campaignID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE campaign_id=?`, campaignID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
