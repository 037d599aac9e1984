package repo

import (
	"context"
	"database/sql"
	"strings"

	"pledgeline/internal/domain"
)

// --- contributor profiles ---

const profileCols = `id,user_id,name,address,city,state,zip,cc_token,extra_json,created_at`

func scanProfileRow(scan func(dest ...any) error) (domain.ContributorProfile, error) {
	var p domain.ContributorProfile
	var extra sql.NullString
	err := scan(&p.ID, &p.UserID, &p.Name, &p.Address, &p.City, &p.State, &p.Zip, &p.CCToken, &extra, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if extra.Valid {
		p.ExtraJSON = extra.String
	}
	return p, err
}

func (r Repo) InsertProfile(ctx context.Context, p domain.ContributorProfile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO contributor_profiles(`+profileCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.UserID, p.Name, p.Address, p.City, p.State, p.Zip, p.CCToken, nullable(p.ExtraJSON), p.CreatedAt)
	return err
}

func (r Repo) GetProfile(ctx context.Context, id string) (domain.ContributorProfile, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+profileCols+` FROM contributor_profiles WHERE id=?`, id)
	return scanProfileRow(row.Scan)
}

func (r Repo) GetProfileTx(ctx context.Context, tx *sql.Tx, id string) (domain.ContributorProfile, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+profileCols+` FROM contributor_profiles WHERE id=?`, id)
	return scanProfileRow(row.Scan)
}

// ReassignOpenPledgeProfiles points every still-open pledge of a user at a
// fresh profile. Profiles referenced by executed pledges are never touched.
func (r Repo) ReassignOpenPledgeProfiles(ctx context.Context, userID, newProfileID, updatedAt string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE pledges SET profile_id=?, updated_at=? WHERE user_id=? AND state=?`,
		newProfileID, updatedAt, userID, domain.PledgeOpen)
	return err
}

// --- pledges ---

const pledgeCols = `id,trigger_id,campaign_id,user_id,email_confirmed,desired_outcome,amount_cents,incumb_challenger,filter_party,profile_id,state,fee_schedule_version,made_after_execution,pre_execution_notice_at,extra_json,created_at,updated_at`

func scanPledgeRow(scan func(dest ...any) error) (domain.Pledge, error) {
	var p domain.Pledge
	var campaign, filterParty, noticeAt, extra sql.NullString
	var confirmed, madeAfter int
	err := scan(&p.ID, &p.TriggerID, &campaign, &p.UserID, &confirmed, &p.DesiredOutcome,
		&p.AmountCents, &p.IncumbChallenger, &filterParty, &p.ProfileID, &p.State,
		&p.FeeScheduleVersion, &madeAfter, &noticeAt, &extra, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.EmailConfirmed = confirmed != 0
	p.MadeAfterExecution = madeAfter != 0
	if campaign.Valid {
		p.CampaignID = &campaign.String
	}
	if filterParty.Valid {
		p.FilterParty = &filterParty.String
	}
	if noticeAt.Valid {
		p.PreExecutionNoticeAt = &noticeAt.String
	}
	if extra.Valid {
		p.ExtraJSON = extra.String
	}
	return p, nil
}

func (r Repo) InsertPledgeTx(ctx context.Context, tx *sql.Tx, p domain.Pledge) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pledges(`+pledgeCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.TriggerID, nullableStringPtr(p.CampaignID), p.UserID, boolToInt(p.EmailConfirmed),
		p.DesiredOutcome, p.AmountCents, p.IncumbChallenger, nullableStringPtr(p.FilterParty),
		p.ProfileID, p.State, p.FeeScheduleVersion, boolToInt(p.MadeAfterExecution),
		nullableStringPtr(p.PreExecutionNoticeAt), nullable(p.ExtraJSON), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetPledge(ctx context.Context, id string) (domain.Pledge, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+pledgeCols+` FROM pledges WHERE id=?`, id)
	return scanPledgeRow(row.Scan)
}

func (r Repo) GetPledgeTx(ctx context.Context, tx *sql.Tx, id string) (domain.Pledge, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+pledgeCols+` FROM pledges WHERE id=?`, id)
	return scanPledgeRow(row.Scan)
}

type PledgeFilters struct {
	TriggerID string
	UserID    string
	State     *domain.PledgeState
	Limit     int
}

func (r Repo) ListPledges(ctx context.Context, f PledgeFilters) ([]domain.Pledge, error) {
	var clauses []string
	var args []any
	if f.TriggerID != "" {
		clauses = append(clauses, "trigger_id=?")
		args = append(args, f.TriggerID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.State != nil {
		clauses = append(clauses, "state=?")
		args = append(args, *f.State)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + pledgeCols + ` FROM pledges ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Pledge
	for rows.Next() {
		p, err := scanPledgeRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

// ListOpenPledgeIDsTx returns ids of open pledges on a trigger, inside the
// caller's transaction. Vacate and batch execution iterate this set.
func (r Repo) ListOpenPledgeIDsTx(ctx context.Context, tx *sql.Tx, triggerID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM pledges WHERE trigger_id=? AND state=? ORDER BY created_at, id`, triggerID, domain.PledgeOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r Repo) ListOpenPledgeIDs(ctx context.Context, triggerID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM pledges WHERE trigger_id=? AND state=? ORDER BY created_at, id`, triggerID, domain.PledgeOpen)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CountPledgesNotOpenTx counts pledges on a trigger outside the Open state.
// Vacate uses this as its consistency check.
func (r Repo) CountPledgesNotOpenTx(ctx context.Context, tx *sql.Tx, triggerID string) (int64, error) {
	var n int64
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM pledges WHERE trigger_id=? AND state<>?`, triggerID, domain.PledgeOpen).Scan(&n)
	return n, err
}

func (r Repo) UpdatePledgeStateTx(ctx context.Context, tx *sql.Tx, id string, state domain.PledgeState, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE pledges SET state=?, updated_at=? WHERE id=?`, state, updatedAt, id)
	return err
}

func (r Repo) SetPledgeNoticeTx(ctx context.Context, tx *sql.Tx, id, noticeAt, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE pledges SET pre_execution_notice_at=?, updated_at=? WHERE id=?`, noticeAt, updatedAt, id)
	return err
}

func (r Repo) SetPledgeEmailConfirmedTx(ctx context.Context, tx *sql.Tx, id string, confirmed bool, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE pledges SET email_confirmed=?, updated_at=? WHERE id=?`, boolToInt(confirmed), updatedAt, id)
	return err
}

func (r Repo) DeletePledgeTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM pledges WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertCancelledPledgeTx(ctx context.Context, tx *sql.Tx, c domain.CancelledPledge) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cancelled_pledges(id,pledge_id,trigger_id,user_id,amount_cents,cancelled_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.PledgeID, c.TriggerID, c.UserID, c.AmountCents, c.CancelledAt)
	return err
}

// --- pledge executions ---

const pledgeExecutionCols = `id,pledge_id,problem,problem_detail,charged_cents,fees_cents,gateway_response,created_at`

func scanPledgeExecutionRow(scan func(dest ...any) error) (domain.PledgeExecution, error) {
	var e domain.PledgeExecution
	var detail, response sql.NullString
	err := scan(&e.ID, &e.PledgeID, &e.Problem, &detail, &e.ChargedCents, &e.FeesCents, &response, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if detail.Valid {
		e.ProblemDetail = detail.String
	}
	if response.Valid {
		e.GatewayResponse = response.String
	}
	return e, err
}

func (r Repo) InsertPledgeExecutionTx(ctx context.Context, tx *sql.Tx, e domain.PledgeExecution) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO pledge_executions(`+pledgeExecutionCols+`) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.PledgeID, e.Problem, nullable(e.ProblemDetail), e.ChargedCents, e.FeesCents,
		nullable(e.GatewayResponse), e.CreatedAt)
	return err
}

func (r Repo) GetPledgeExecution(ctx context.Context, id string) (domain.PledgeExecution, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+pledgeExecutionCols+` FROM pledge_executions WHERE id=?`, id)
	return scanPledgeExecutionRow(row.Scan)
}

func (r Repo) GetPledgeExecutionByPledge(ctx context.Context, pledgeID string) (domain.PledgeExecution, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+pledgeExecutionCols+` FROM pledge_executions WHERE pledge_id=?`, pledgeID)
	return scanPledgeExecutionRow(row.Scan)
}

func (r Repo) GetPledgeExecutionByPledgeTx(ctx context.Context, tx *sql.Tx, pledgeID string) (domain.PledgeExecution, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+pledgeExecutionCols+` FROM pledge_executions WHERE pledge_id=?`, pledgeID)
	return scanPledgeExecutionRow(row.Scan)
}

// MarkExecutionVoidedTx is the only post-creation mutation of a pledge
// execution besides counter-free annotation.
func (r Repo) MarkExecutionVoidedTx(ctx context.Context, tx *sql.Tx, id, detail, gatewayResponse string) error {
	_, err := tx.ExecContext(ctx, `UPDATE pledge_executions SET problem=?, problem_detail=?, gateway_response=? WHERE id=?`,
		domain.ProblemVoided, nullable(detail), nullable(gatewayResponse), id)
	return err
}

// --- contributions ---

const contributionCols = `id,pledge_execution_id,action_id,recipient_id,amount_cents,created_at`

func scanContributionRow(scan func(dest ...any) error) (domain.Contribution, error) {
	var c domain.Contribution
	err := scan(&c.ID, &c.PledgeExecutionID, &c.ActionID, &c.RecipientID, &c.AmountCents, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertContributionTx(ctx context.Context, tx *sql.Tx, c domain.Contribution) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contributions(`+contributionCols+`) VALUES (?,?,?,?,?,?)`,
		c.ID, c.PledgeExecutionID, c.ActionID, c.RecipientID, c.AmountCents, c.CreatedAt)
	return err
}

func (r Repo) listContributions(ctx context.Context, q querier, executionID string) ([]domain.Contribution, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+contributionCols+` FROM contributions WHERE pledge_execution_id=? ORDER BY id`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contribution
	for rows.Next() {
		c, err := scanContributionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

func (r Repo) ListContributions(ctx context.Context, pledgeExecutionID string) ([]domain.Contribution, error) {
	return r.listContributions(ctx, r.DB, pledgeExecutionID)
}

func (r Repo) ListContributionsTx(ctx context.Context, tx *sql.Tx, pledgeExecutionID string) ([]domain.Contribution, error) {
	return r.listContributions(ctx, tx, pledgeExecutionID)
}

func (r Repo) DeleteContributionTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM contributions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
