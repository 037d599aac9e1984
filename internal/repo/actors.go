package repo

import (
	"context"
	"database/sql"

	"pledgeline/internal/domain"
)

// --- actors ---

const actorCols = `id,name,party,office,district,inactive,inactive_reason,challenger_recipient_id,extra_json,created_at`

func scanActorRow(scan func(dest ...any) error) (domain.Actor, error) {
	var a domain.Actor
	var district, reason, challenger, extra sql.NullString
	var inactive int
	err := scan(&a.ID, &a.Name, &a.Party, &a.Office, &district, &inactive, &reason, &challenger, &extra, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Inactive = inactive != 0
	if district.Valid {
		a.District = district.String
	}
	if reason.Valid {
		a.InactiveReason = reason.String
	}
	if challenger.Valid {
		a.ChallengerRecipientID = &challenger.String
	}
	if extra.Valid {
		a.ExtraJSON = extra.String
	}
	return a, nil
}

func (r Repo) InsertActor(ctx context.Context, a domain.Actor) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO actors(`+actorCols+`) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, a.Party, a.Office, nullable(a.District), boolToInt(a.Inactive),
		nullable(a.InactiveReason), nullableStringPtr(a.ChallengerRecipientID), nullable(a.ExtraJSON), a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actorCols+` FROM actors WHERE id=?`, id)
	return scanActorRow(row.Scan)
}

func (r Repo) GetActorTx(ctx context.Context, tx *sql.Tx, id string) (domain.Actor, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+actorCols+` FROM actors WHERE id=?`, id)
	return scanActorRow(row.Scan)
}

func (r Repo) ListActors(ctx context.Context) ([]domain.Actor, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actorCols+` FROM actors ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		a, err := scanActorRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

// SetActorInactive flags/unflags an actor; inactive actors are skipped by
// recipient resolution along with their challengers.
func (r Repo) SetActorInactive(ctx context.Context, id string, inactive bool, reason string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE actors SET inactive=?, inactive_reason=? WHERE id=?`,
		boolToInt(inactive), nullable(reason), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetActorChallenger(ctx context.Context, actorID string, recipientID *string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE actors SET challenger_recipient_id=? WHERE id=?`,
		nullableStringPtr(recipientID), actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- recipients ---

const recipientCols = `id,actor_id,office_sought,party,gateway_id,active,created_at`

func scanRecipientRow(scan func(dest ...any) error) (domain.Recipient, error) {
	var rec domain.Recipient
	var actorID sql.NullString
	var active int
	err := scan(&rec.ID, &actorID, &rec.OfficeSought, &rec.Party, &rec.GatewayID, &active, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.Active = active != 0
	if actorID.Valid {
		rec.ActorID = &actorID.String
	}
	return rec, nil
}

func (r Repo) InsertRecipient(ctx context.Context, rec domain.Recipient) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO recipients(`+recipientCols+`) VALUES (?,?,?,?,?,?,?)`,
		rec.ID, nullableStringPtr(rec.ActorID), rec.OfficeSought, rec.Party, rec.GatewayID,
		boolToInt(rec.Active), rec.CreatedAt)
	return err
}

func (r Repo) GetRecipient(ctx context.Context, id string) (domain.Recipient, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+recipientCols+` FROM recipients WHERE id=?`, id)
	return scanRecipientRow(row.Scan)
}

func (r Repo) GetRecipientTx(ctx context.Context, tx *sql.Tx, id string) (domain.Recipient, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+recipientCols+` FROM recipients WHERE id=?`, id)
	return scanRecipientRow(row.Scan)
}

// GetRecipientByActorTx returns the incumbent recipient bound to an actor.
func (r Repo) GetRecipientByActorTx(ctx context.Context, tx *sql.Tx, actorID string) (domain.Recipient, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+recipientCols+` FROM recipients WHERE actor_id=?`, actorID)
	return scanRecipientRow(row.Scan)
}

func (r Repo) SetRecipientActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE recipients SET active=? WHERE id=?`, boolToInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- actions ---

const actionCols = `id,execution_id,actor_id,name_snapshot,party_snapshot,office_snapshot,district_snapshot,outcome_index,outcome_reason,challenger_recipient_id,total_for_cents,total_against_cents,extra_json`

func scanActionRow(scan func(dest ...any) error) (domain.Action, error) {
	var a domain.Action
	var district, reason, challenger, extra sql.NullString
	var outcomeIndex sql.NullInt64
	err := scan(&a.ID, &a.ExecutionID, &a.ActorID, &a.NameSnapshot, &a.PartySnapshot, &a.OfficeSnapshot,
		&district, &outcomeIndex, &reason, &challenger, &a.TotalFor, &a.TotalAgainst, &extra)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if district.Valid {
		a.DistrictSnapshot = district.String
	}
	if outcomeIndex.Valid {
		i := int(outcomeIndex.Int64)
		a.Outcome = domain.OutcomeIndex(i)
	} else if reason.Valid {
		a.Outcome = domain.NoOutcome(reason.String)
	}
	if challenger.Valid {
		a.ChallengerRecipientID = &challenger.String
	}
	if extra.Valid {
		a.ExtraJSON = extra.String
	}
	return a, nil
}

func (r Repo) InsertActionTx(ctx context.Context, tx *sql.Tx, a domain.Action) error {
	var outcomeIndex any
	var outcomeReason any
	if a.Outcome.HasIndex() {
		outcomeIndex = *a.Outcome.Index
	} else {
		outcomeReason = nullable(a.Outcome.Reason)
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO actions(`+actionCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.ExecutionID, a.ActorID, a.NameSnapshot, a.PartySnapshot, a.OfficeSnapshot,
		nullable(a.DistrictSnapshot), outcomeIndex, outcomeReason,
		nullableStringPtr(a.ChallengerRecipientID), a.TotalFor, a.TotalAgainst, nullable(a.ExtraJSON))
	return err
}

func (r Repo) GetAction(ctx context.Context, id string) (domain.Action, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actionCols+` FROM actions WHERE id=?`, id)
	return scanActionRow(row.Scan)
}

func (r Repo) GetActionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Action, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+actionCols+` FROM actions WHERE id=?`, id)
	return scanActionRow(row.Scan)
}

func (r Repo) listActions(ctx context.Context, q querier, executionID string) ([]domain.Action, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+actionCols+` FROM actions WHERE execution_id=? ORDER BY id`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Action
	for rows.Next() {
		a, err := scanActionRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, nil
}

func (r Repo) ListActions(ctx context.Context, executionID string) ([]domain.Action, error) {
	return r.listActions(ctx, r.DB, executionID)
}

func (r Repo) ListActionsTx(ctx context.Context, tx *sql.Tx, executionID string) ([]domain.Action, error) {
	return r.listActions(ctx, tx, executionID)
}

// AdjustActionTotalsTx bumps the cached for/against contribution totals.
func (r Repo) AdjustActionTotalsTx(ctx context.Context, tx *sql.Tx, id string, dForCents, dAgainstCents int64) error {
	_, err := tx.ExecContext(ctx, `UPDATE actions SET total_for_cents=total_for_cents+?, total_against_cents=total_against_cents+? WHERE id=?`,
		dForCents, dAgainstCents, id)
	return err
}
