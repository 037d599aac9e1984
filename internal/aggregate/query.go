package aggregate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

var dimColumns = []string{"execution_id", "campaign_id", "outcome", "actor_id", "incumbent", "party", "district"}

func (k Key) columnValue(col string) string {
	switch col {
	case "execution_id":
		return k.ExecutionID
	case "campaign_id":
		return k.CampaignID
	case "outcome":
		return k.Outcome
	case "actor_id":
		return k.ActorID
	case "incumbent":
		return k.Incumbent
	case "party":
		return k.Party
	case "district":
		return k.District
	}
	return All
}

func setColumn(k *Key, col, v string) {
	switch col {
	case "execution_id":
		k.ExecutionID = v
	case "campaign_id":
		k.CampaignID = v
	case "outcome":
		k.Outcome = v
	case "actor_id":
		k.ActorID = v
	case "incumbent":
		k.Incumbent = v
	case "party":
		k.Party = v
	case "district":
		k.District = v
	}
}

// GetSlice returns the cached count and total for an exact key. A slice
// never written reads as zero.
func GetSlice(ctx context.Context, db *sql.DB, key Key) (Slice, error) {
	key = key.normalized()
	row := db.QueryRowContext(ctx, `
		SELECT count, total_cents FROM contribution_aggregates
		WHERE execution_id=? AND campaign_id=? AND outcome=? AND actor_id=? AND incumbent=? AND party=? AND district=?`,
		key.ExecutionID, key.CampaignID, key.Outcome, key.ActorID, key.Incumbent, key.Party, key.District)
	s := Slice{Key: key}
	err := row.Scan(&s.Count, &s.TotalCents)
	if err == sql.ErrNoRows {
		return s, nil
	}
	return s, err
}

// GetSlices returns all slices varying over the across dimensions with the
// remaining dimensions pinned by fixed (empty means "all"), ordered by
// descending total.
func GetSlices(ctx context.Context, db *sql.DB, across []string, fixed Key) ([]Slice, error) {
	fixed = fixed.normalized()
	isAcross := make(map[string]bool, len(across))
	for _, col := range across {
		found := false
		for _, known := range dimColumns {
			if known == col {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown aggregate dimension %q", col)
		}
		isAcross[col] = true
	}
	var clauses []string
	var args []any
	for _, col := range dimColumns {
		if isAcross[col] {
			clauses = append(clauses, col+"<>'"+All+"'")
			continue
		}
		clauses = append(clauses, col+"=?")
		args = append(args, fixed.columnValue(col))
	}
	query := `SELECT ` + strings.Join(dimColumns, ",") + `, count, total_cents FROM contribution_aggregates WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY total_cents DESC`
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Slice
	for rows.Next() {
		var s Slice
		dest := make([]any, 0, len(dimColumns)+2)
		vals := make([]string, len(dimColumns))
		for i := range vals {
			dest = append(dest, &vals[i])
		}
		dest = append(dest, &s.Count, &s.TotalCents)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		for i, col := range dimColumns {
			setColumn(&s.Key, col, vals[i])
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// rebuildQuery recomputes the full coordinates of every contribution from
// the ledger itself.
const rebuildQuery = `
	SELECT c.amount_cents,
	       a.execution_id,
	       COALESCE(p.campaign_id, ''),
	       COALESCE(a.outcome_index, -1),
	       a.actor_id,
	       CASE WHEN r.actor_id = a.actor_id THEN 1 ELSE 0 END,
	       r.party,
	       COALESCE(a.district_snapshot, '')
	FROM contributions c
	JOIN actions a ON a.id = c.action_id
	JOIN recipients r ON r.id = c.recipient_id
	JOIN pledge_executions pe ON pe.id = c.pledge_execution_id
	JOIN pledges p ON p.id = pe.pledge_id
	ORDER BY c.id`

// RebuildThreshold is the buffered-key count used when replaying the ledger.
const RebuildThreshold = 512

// Rebuild drops every cached slice and replays all contributions. The
// result must match what incremental maintenance produced.
func Rebuild(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM contribution_aggregates`); err != nil {
		return err
	}
	rows, err := tx.QueryContext(ctx, rebuildQuery)
	if err != nil {
		return err
	}
	type entry struct {
		amount int64
		dims   Dimensions
	}
	var entries []entry
	for rows.Next() {
		var e entry
		var incumbent int
		err := rows.Scan(&e.amount, &e.dims.ExecutionID, &e.dims.CampaignID, &e.dims.Outcome,
			&e.dims.ActorID, &incumbent, &e.dims.Party, &e.dims.District)
		if err != nil {
			rows.Close()
			return err
		}
		e.dims.Incumbent = incumbent == 1
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	u := NewUpdater(RebuildThreshold)
	for _, e := range entries {
		if err := Apply(ctx, tx, u, e.dims, e.amount); err != nil {
			return err
		}
	}
	if err := u.FlushTx(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}
