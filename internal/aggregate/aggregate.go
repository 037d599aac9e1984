package aggregate

import (
	"context"
	"database/sql"
	"strconv"
)

// All is the stored marker for a dimension aggregated across all values.
// Slices never store NULL dimensions; absence is this literal.
const All = "*"

// Key identifies one cached slice. Empty fields normalize to All.
type Key struct {
	ExecutionID string
	CampaignID  string
	Outcome     string
	ActorID     string
	Incumbent   string
	Party       string
	District    string
}

func (k Key) normalized() Key {
	fill := func(s string) string {
		if s == "" {
			return All
		}
		return s
	}
	return Key{
		ExecutionID: fill(k.ExecutionID),
		CampaignID:  fill(k.CampaignID),
		Outcome:     fill(k.Outcome),
		ActorID:     fill(k.ActorID),
		Incumbent:   fill(k.Incumbent),
		Party:       fill(k.Party),
		District:    fill(k.District),
	}
}

// Slice is one cached (count, total) row.
type Slice struct {
	Key        Key
	Count      int64
	TotalCents int64
}

type delta struct {
	count int64
	total int64
}

// Updater buffers slice deltas and upserts them inside the caller's
// transaction. Live execution uses threshold 0 (every AddTx flushes
// immediately); rebuild raises the threshold to batch the replay.
type Updater struct {
	Threshold int
	buf       map[Key]delta
	order     []Key
}

func NewUpdater(threshold int) *Updater {
	return &Updater{Threshold: threshold, buf: make(map[Key]delta)}
}

// AddTx accumulates a delta for one slice key. When the number of distinct
// buffered keys exceeds the threshold the buffer flushes into tx.
func (u *Updater) AddTx(ctx context.Context, tx *sql.Tx, key Key, dCount, dTotal int64) error {
	key = key.normalized()
	d, ok := u.buf[key]
	if !ok {
		u.order = append(u.order, key)
	}
	d.count += dCount
	d.total += dTotal
	u.buf[key] = d
	if len(u.buf) > u.Threshold {
		return u.FlushTx(ctx, tx)
	}
	return nil
}

// FlushTx upserts every buffered delta and empties the buffer. Deltas apply
// atomically against the existing row, so concurrent flushes for different
// pledges serialize on the row, not on the updater.
func (u *Updater) FlushTx(ctx context.Context, tx *sql.Tx) error {
	for _, key := range u.order {
		d := u.buf[key]
		if d.count == 0 && d.total == 0 {
			continue
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO contribution_aggregates(execution_id,campaign_id,outcome,actor_id,incumbent,party,district,count,total_cents)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT(execution_id,campaign_id,outcome,actor_id,incumbent,party,district)
			DO UPDATE SET count=count+excluded.count, total_cents=total_cents+excluded.total_cents`,
			key.ExecutionID, key.CampaignID, key.Outcome, key.ActorID, key.Incumbent, key.Party, key.District,
			d.count, d.total)
		if err != nil {
			return err
		}
	}
	u.buf = make(map[Key]delta)
	u.order = nil
	return nil
}

// Dimensions are the full coordinates of one contribution, from which the
// slice-key closure is derived.
type Dimensions struct {
	ExecutionID string
	CampaignID  string
	Outcome     int
	ActorID     string
	Incumbent   bool
	Party       string
	District    string
}

func incumbentMark(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ContributionKeys is the closure of slice keys every contribution writes:
// the unconditional total, per-execution, per-execution-and-outcome,
// per-execution-actor-incumbent, per-execution-party-incumbent, and the
// per-campaign total when the pledge belongs to a campaign.
func ContributionKeys(d Dimensions) []Key {
	outcome := strconv.Itoa(d.Outcome)
	keys := []Key{
		{},
		{ExecutionID: d.ExecutionID},
		{ExecutionID: d.ExecutionID, Outcome: outcome},
		{ExecutionID: d.ExecutionID, ActorID: d.ActorID, Incumbent: incumbentMark(d.Incumbent)},
		{ExecutionID: d.ExecutionID, Party: d.Party, Incumbent: incumbentMark(d.Incumbent)},
	}
	if d.CampaignID != "" {
		keys = append(keys, Key{CampaignID: d.CampaignID})
	}
	return keys
}

// Apply records one contribution across its whole key closure.
func Apply(ctx context.Context, tx *sql.Tx, u *Updater, d Dimensions, amountCents int64) error {
	for _, key := range ContributionKeys(d) {
		if err := u.AddTx(ctx, tx, key, 1, amountCents); err != nil {
			return err
		}
	}
	return nil
}

// Reverse undoes Apply for a deleted contribution.
func Reverse(ctx context.Context, tx *sql.Tx, u *Updater, d Dimensions, amountCents int64) error {
	for _, key := range ContributionKeys(d) {
		if err := u.AddTx(ctx, tx, key, -1, -amountCents); err != nil {
			return err
		}
	}
	return nil
}
