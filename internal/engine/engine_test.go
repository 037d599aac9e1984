package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pledgeline/internal/aggregate"
	"pledgeline/internal/app"
	"pledgeline/internal/config"
	"pledgeline/internal/db"
	"pledgeline/internal/domain"
	"pledgeline/internal/engine"
	"pledgeline/internal/gateway"
	"pledgeline/internal/migrate"
	"pledgeline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Gw     *gateway.Dummy
	Ctx    context.Context
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("camp-1")
	cfg.Execution.TestMode = true
	gw := gateway.NewDummy()
	eng := engine.New(conn, cfg, gw)
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	if _, err := app.EnsureCampaign(context.Background(), eng.Repo, cfg); err != nil {
		t.Fatalf("seed campaign: %v", err)
	}
	return &testEnv{Engine: eng, Gw: gw, Ctx: context.Background()}
}

type fixture struct {
	TriggerID string
	ProfileID string
	A1, A2    string
	R1, R2    string
	C1, C2    string
}

// seedFixture sets up two actors with incumbent and challenger recipients,
// an open two-outcome trigger and a billing profile for user-1.
func seedFixture(t *testing.T, env *testEnv) fixture {
	t.Helper()
	e := env.Engine
	ctx := env.Ctx
	now := "2026-03-01T12:00:00Z"
	f := fixture{A1: "actor-1", A2: "actor-2", R1: "rec-1", R2: "rec-2", C1: "rec-c1", C2: "rec-c2"}

	actors := []domain.Actor{
		{ID: f.A1, Name: "Sen. Alvarez", Party: "blue", Office: "senate", District: "5", CreatedAt: now},
		{ID: f.A2, Name: "Sen. Burke", Party: "red", Office: "senate", District: "7", CreatedAt: now},
	}
	for _, a := range actors {
		if err := e.Repo.InsertActor(ctx, a); err != nil {
			t.Fatalf("insert actor %s: %v", a.ID, err)
		}
	}
	recipients := []domain.Recipient{
		{ID: f.R1, ActorID: &f.A1, OfficeSought: "senate-5", Party: "blue", GatewayID: "gw-r1", Active: true, CreatedAt: now},
		{ID: f.R2, ActorID: &f.A2, OfficeSought: "senate-7", Party: "red", GatewayID: "gw-r2", Active: true, CreatedAt: now},
		{ID: f.C1, OfficeSought: "senate-5", Party: "red", GatewayID: "gw-c1", Active: true, CreatedAt: now},
		{ID: f.C2, OfficeSought: "senate-7", Party: "blue", GatewayID: "gw-c2", Active: true, CreatedAt: now},
	}
	for _, r := range recipients {
		if err := e.Repo.InsertRecipient(ctx, r); err != nil {
			t.Fatalf("insert recipient %s: %v", r.ID, err)
		}
	}
	if err := e.Repo.SetActorChallenger(ctx, f.A1, &f.C1); err != nil {
		t.Fatalf("set challenger: %v", err)
	}
	if err := e.Repo.SetActorChallenger(ctx, f.A2, &f.C2); err != nil {
		t.Fatalf("set challenger: %v", err)
	}

	trigger, err := e.CreateTrigger(ctx, engine.TriggerCreateOptions{
		Key:   "hb-1024",
		Title: "Final vote on HB 1024",
		Outcomes: []domain.TriggerOutcome{
			{Key: "yea", Label: "Voted yea"},
			{Key: "nay", Label: "Voted nay"},
		},
	})
	if err != nil {
		t.Fatalf("create trigger: %v", err)
	}
	if _, err := e.OpenTrigger(ctx, trigger.ID, "op"); err != nil {
		t.Fatalf("open trigger: %v", err)
	}
	f.TriggerID = trigger.ID

	profile, err := e.CreateProfile(ctx, domain.ContributorProfile{
		UserID: "user-1", Name: "Dana Smith", Address: "1 Main St",
		City: "Springfield", State: "IL", Zip: "62701", CCToken: "cc-tok-1",
	})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	f.ProfileID = profile.ID
	return f
}

func createPledge(t *testing.T, env *testEnv, f fixture, opts engine.PledgeCreateOptions) domain.Pledge {
	t.Helper()
	if opts.TriggerID == "" {
		opts.TriggerID = f.TriggerID
	}
	if opts.UserID == "" {
		opts.UserID = "user-1"
	}
	if opts.ProfileID == "" {
		opts.ProfileID = f.ProfileID
	}
	if opts.AmountCents == 0 {
		opts.AmountCents = 1000
	}
	p, err := env.Engine.CreatePledge(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create pledge: %v", err)
	}
	return p
}

// executeFixtureTrigger resolves the trigger with A1 voting yea and A2
// voting nay.
func executeFixtureTrigger(t *testing.T, env *testEnv, f fixture) domain.TriggerExecution {
	t.Helper()
	exec, err := env.Engine.ExecuteTrigger(env.Ctx, engine.ExecuteTriggerOptions{
		TriggerID: f.TriggerID,
		Outcomes: []engine.ActorOutcome{
			{ActorID: f.A1, Outcome: domain.OutcomeIndex(0)},
			{ActorID: f.A2, Outcome: domain.OutcomeIndex(1)},
		},
	})
	if err != nil {
		t.Fatalf("execute trigger: %v", err)
	}
	return exec
}

func countEvents(t *testing.T, env *testEnv, evtType string) int64 {
	t.Helper()
	var n int64
	err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM events WHERE type=?`, evtType).Scan(&n)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func TestTriggerTransitions(t *testing.T) {
	env := newTestEnv(t)
	e := env.Engine
	ctx := env.Ctx
	trig, err := e.CreateTrigger(ctx, engine.TriggerCreateOptions{
		Key: "sb-7", Title: "SB 7",
		Outcomes: []domain.TriggerOutcome{{Key: "yea", Label: "Yea"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if trig.State != domain.TriggerDraft {
		t.Fatalf("state: got %s, want draft", trig.State)
	}
	if _, err := e.PauseTrigger(ctx, trig.ID, "op"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("pause from draft: got %v, want ErrInvalidState", err)
	}
	if _, err := e.OpenTrigger(ctx, trig.ID, "op"); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := e.OpenTrigger(ctx, trig.ID, "op"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("open from open: got %v, want ErrInvalidState", err)
	}
	if _, err := e.PauseTrigger(ctx, trig.ID, "op"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := e.OpenTrigger(ctx, trig.ID, "op"); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestCreatePledgeCountersAndDuplicates(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)

	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})
	if p.State != domain.PledgeOpen {
		t.Fatalf("state: got %s, want open", p.State)
	}
	if p.FeeScheduleVersion != 1 {
		t.Fatalf("fee schedule version: got %d, want 1", p.FeeScheduleVersion)
	}
	if p.MadeAfterExecution {
		t.Fatalf("pledge should not be flagged late")
	}
	if p.CampaignID == nil || *p.CampaignID != "camp-1" {
		t.Fatalf("campaign stamp: got %v, want camp-1", p.CampaignID)
	}
	trig, err := env.Engine.Repo.GetTrigger(env.Ctx, f.TriggerID)
	if err != nil {
		t.Fatalf("get trigger: %v", err)
	}
	if trig.PledgeCount != 1 || trig.TotalPledged != 1000 {
		t.Fatalf("counters: got %d/%d, want 1/1000", trig.PledgeCount, trig.TotalPledged)
	}

	_, err = env.Engine.CreatePledge(env.Ctx, engine.PledgeCreateOptions{
		TriggerID: f.TriggerID, UserID: "user-1", ProfileID: f.ProfileID, AmountCents: 500,
	})
	if !errors.Is(err, engine.ErrDuplicatePledge) {
		t.Fatalf("duplicate: got %v, want ErrDuplicatePledge", err)
	}

	_, err = env.Engine.CreatePledge(env.Ctx, engine.PledgeCreateOptions{
		TriggerID: f.TriggerID, UserID: "user-2", ProfileID: f.ProfileID,
		AmountCents: 500, DesiredOutcome: 7,
	})
	if err == nil {
		t.Fatalf("expected out-of-range desired outcome to fail")
	}
}

func TestCancelPledgeArchivesAndReleasesCounters(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})

	if err := env.Engine.CancelPledge(env.Ctx, p.ID, "user-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.Engine.Repo.GetPledge(env.Ctx, p.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("pledge should be deleted, got %v", err)
	}
	trig, err := env.Engine.Repo.GetTrigger(env.Ctx, f.TriggerID)
	if err != nil {
		t.Fatalf("get trigger: %v", err)
	}
	if trig.PledgeCount != 0 || trig.TotalPledged != 0 {
		t.Fatalf("counters: got %d/%d, want 0/0", trig.PledgeCount, trig.TotalPledged)
	}
	var archived int64
	err = env.Engine.DB.QueryRowContext(env.Ctx, `SELECT COUNT(*) FROM cancelled_pledges WHERE pledge_id=?`, p.ID).Scan(&archived)
	if err != nil {
		t.Fatalf("count archive: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archive rows: got %d, want 1", archived)
	}
	if err := env.Engine.CancelPledge(env.Ctx, p.ID, "user-1"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("repeat cancel: got %v, want ErrNotFound", err)
	}
}

func TestVacateTriggerVacatesOpenPledges(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})

	trig, err := env.Engine.VacateTrigger(env.Ctx, f.TriggerID, "op")
	if err != nil {
		t.Fatalf("vacate: %v", err)
	}
	if trig.State != domain.TriggerVacated {
		t.Fatalf("trigger state: got %s, want vacated", trig.State)
	}
	got, err := env.Engine.Repo.GetPledge(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get pledge: %v", err)
	}
	if got.State != domain.PledgeVacated {
		t.Fatalf("pledge state: got %s, want vacated", got.State)
	}
	if _, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("execute vacated pledge: got %v, want ErrInvalidState", err)
	}
}

func TestTriggerLookupByKey(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)

	trig, err := env.Engine.Repo.GetTriggerByKey(env.Ctx, "hb-1024")
	if err != nil {
		t.Fatalf("lookup by key: %v", err)
	}
	if trig.ID != f.TriggerID {
		t.Fatalf("lookup by key: got %s, want %s", trig.ID, f.TriggerID)
	}
	if _, err := env.Engine.Repo.GetTriggerByKey(env.Ctx, "no-such-key"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown key: got %v, want ErrNotFound", err)
	}
}

func TestVacateTriggerRefusesNonOpenPledges(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})

	// Force the pledge out of Open behind the engine's back; the vacate
	// consistency check has to notice and abort the whole transition.
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE pledges SET state=? WHERE id=?`, domain.PledgeExecuted, p.ID); err != nil {
		t.Fatalf("force pledge state: %v", err)
	}

	if _, err := env.Engine.VacateTrigger(env.Ctx, f.TriggerID, "op"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("vacate with executed pledge: got %v, want ErrInvalidState", err)
	}
	trig, err := env.Engine.Repo.GetTrigger(env.Ctx, f.TriggerID)
	if err != nil {
		t.Fatalf("get trigger: %v", err)
	}
	if trig.State != domain.TriggerOpen {
		t.Fatalf("trigger state after refused vacate: got %s, want open", trig.State)
	}
}

func TestExecuteTriggerSnapshotsActions(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)

	exec, err := env.Engine.ExecuteTrigger(env.Ctx, engine.ExecuteTriggerOptions{
		TriggerID: f.TriggerID,
		Outcomes: []engine.ActorOutcome{
			{ActorID: f.A1, Outcome: domain.OutcomeIndex(0)},
			{ActorID: f.A2, Outcome: domain.NoOutcome("absent")},
		},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	trig, err := env.Engine.Repo.GetTrigger(env.Ctx, f.TriggerID)
	if err != nil {
		t.Fatalf("get trigger: %v", err)
	}
	if trig.State != domain.TriggerExecuted {
		t.Fatalf("trigger state: got %s, want executed", trig.State)
	}
	actions, err := env.Engine.Repo.ListActions(env.Ctx, exec.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("actions: got %d, want 2", len(actions))
	}
	byActor := map[string]domain.Action{}
	for _, a := range actions {
		byActor[a.ActorID] = a
	}
	a1 := byActor[f.A1]
	if !a1.Outcome.HasIndex() || *a1.Outcome.Index != 0 {
		t.Fatalf("a1 outcome: got %+v, want index 0", a1.Outcome)
	}
	if a1.PartySnapshot != "blue" || a1.DistrictSnapshot != "5" {
		t.Fatalf("a1 snapshot: got %s/%s", a1.PartySnapshot, a1.DistrictSnapshot)
	}
	if a1.ChallengerRecipientID == nil || *a1.ChallengerRecipientID != f.C1 {
		t.Fatalf("a1 challenger snapshot: got %v", a1.ChallengerRecipientID)
	}
	a2 := byActor[f.A2]
	if a2.Outcome.HasIndex() || a2.Outcome.Reason != "absent" {
		t.Fatalf("a2 outcome: got %+v, want reason absent", a2.Outcome)
	}
}

func TestExecuteTriggerInactiveActorOverride(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	if err := env.Engine.Repo.SetActorInactive(env.Ctx, f.A2, true, "retired"); err != nil {
		t.Fatalf("set inactive: %v", err)
	}
	exec := executeFixtureTrigger(t, env, f)
	actions, err := env.Engine.Repo.ListActions(env.Ctx, exec.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	for _, a := range actions {
		if a.ActorID != f.A2 {
			continue
		}
		if a.Outcome.HasIndex() || a.Outcome.Reason != "retired" {
			t.Fatalf("inactive actor outcome: got %+v, want reason retired", a.Outcome)
		}
		return
	}
	t.Fatalf("no action recorded for %s", f.A2)
}

func TestExecutePledgeChargesContributions(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})
	exec := executeFixtureTrigger(t, env, f)

	pe, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op")
	if err != nil {
		t.Fatalf("execute pledge: %v", err)
	}
	if pe.Problem != domain.ProblemNone {
		t.Fatalf("problem: got %s", pe.Problem)
	}
	// $10.00 across 2 recipients: $4.49 each, total $9.99, fees $1.01.
	if pe.ChargedCents != 999 || pe.FeesCents != 101 {
		t.Fatalf("charge: got %d/%d, want 999/101", pe.ChargedCents, pe.FeesCents)
	}
	byPledge, err := env.Engine.Repo.GetPledgeExecutionByPledge(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("execution by pledge: %v", err)
	}
	if byPledge.ID != pe.ID {
		t.Fatalf("execution by pledge: got %s, want %s", byPledge.ID, pe.ID)
	}

	contribs, err := env.Engine.Repo.ListContributions(env.Ctx, pe.ID)
	if err != nil {
		t.Fatalf("list contributions: %v", err)
	}
	if len(contribs) != 2 {
		t.Fatalf("contributions: got %d, want 2", len(contribs))
	}
	funded := map[string]int64{}
	for _, c := range contribs {
		if c.AmountCents != 449 {
			t.Fatalf("contribution amount: got %d, want 449", c.AmountCents)
		}
		funded[c.RecipientID] = c.AmountCents
	}
	// A1 voted the desired outcome: its own recipient is funded. A2 voted
	// against: its snapshotted challenger is funded.
	if _, ok := funded[f.R1]; !ok {
		t.Fatalf("incumbent recipient %s not funded: %v", f.R1, funded)
	}
	if _, ok := funded[f.C2]; !ok {
		t.Fatalf("challenger recipient %s not funded: %v", f.C2, funded)
	}

	got, err := env.Engine.Repo.GetPledge(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get pledge: %v", err)
	}
	if got.State != domain.PledgeExecuted {
		t.Fatalf("pledge state: got %s, want executed", got.State)
	}

	actions, err := env.Engine.Repo.ListActions(env.Ctx, exec.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	for _, a := range actions {
		switch a.ActorID {
		case f.A1:
			if a.TotalFor != 449 || a.TotalAgainst != 0 {
				t.Fatalf("a1 totals: got %d/%d, want 449/0", a.TotalFor, a.TotalAgainst)
			}
		case f.A2:
			if a.TotalFor != 0 || a.TotalAgainst != 449 {
				t.Fatalf("a2 totals: got %d/%d, want 0/449", a.TotalFor, a.TotalAgainst)
			}
		}
	}

	execAfter, err := env.Engine.Repo.GetExecution(env.Ctx, exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if execAfter.PledgeCount != 1 || execAfter.PledgeCountWithContribs != 1 ||
		execAfter.NumContributions != 2 || execAfter.TotalContributions != 898 {
		t.Fatalf("execution counters: got %d/%d/%d/%d", execAfter.PledgeCount,
			execAfter.PledgeCountWithContribs, execAfter.NumContributions, execAfter.TotalContributions)
	}

	checks := []struct {
		key          aggregate.Key
		count, total int64
	}{
		{aggregate.Key{}, 2, 898},
		{aggregate.Key{ExecutionID: exec.ID}, 2, 898},
		{aggregate.Key{ExecutionID: exec.ID, Outcome: "0"}, 1, 449},
		{aggregate.Key{ExecutionID: exec.ID, Outcome: "1"}, 1, 449},
		{aggregate.Key{ExecutionID: exec.ID, ActorID: f.A1, Incumbent: "1"}, 1, 449},
		{aggregate.Key{ExecutionID: exec.ID, ActorID: f.A2, Incumbent: "0"}, 1, 449},
		{aggregate.Key{ExecutionID: exec.ID, Party: "blue", Incumbent: "1"}, 1, 449},
		{aggregate.Key{ExecutionID: exec.ID, Party: "blue", Incumbent: "0"}, 1, 449},
		{aggregate.Key{CampaignID: "camp-1"}, 2, 898},
	}
	for _, c := range checks {
		s, err := aggregate.GetSlice(env.Ctx, env.Engine.DB, c.key)
		if err != nil {
			t.Fatalf("get slice %+v: %v", c.key, err)
		}
		if s.Count != c.count || s.TotalCents != c.total {
			t.Fatalf("slice %+v: got %d/%d, want %d/%d", c.key, s.Count, s.TotalCents, c.count, c.total)
		}
	}

	if n := countEvents(t, env, "pledge.executed"); n != 1 {
		t.Fatalf("pledge.executed events: got %d, want 1", n)
	}
	if _, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("repeat execute: got %v, want ErrInvalidState", err)
	}
}

func TestExecutePledgeEmailUnconfirmed(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	p := createPledge(t, env, f, engine.PledgeCreateOptions{})
	exec := executeFixtureTrigger(t, env, f)

	pe, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if pe.Problem != domain.ProblemEmailUnconfirmed {
		t.Fatalf("problem: got %s, want email-unconfirmed", pe.Problem)
	}
	if pe.ChargedCents != 0 {
		t.Fatalf("charged: got %d, want 0", pe.ChargedCents)
	}
	contribs, err := env.Engine.Repo.ListContributions(env.Ctx, pe.ID)
	if err != nil {
		t.Fatalf("list contributions: %v", err)
	}
	if len(contribs) != 0 {
		t.Fatalf("contributions: got %d, want 0", len(contribs))
	}
	execAfter, err := env.Engine.Repo.GetExecution(env.Ctx, exec.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if execAfter.PledgeCount != 1 || execAfter.PledgeCountWithContribs != 0 {
		t.Fatalf("counters: got %d/%d, want 1/0", execAfter.PledgeCount, execAfter.PledgeCountWithContribs)
	}
}

func TestExecutePledgeFiltersExcludeAll(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	// A1 voted the desired outcome, so its supporter path is cut by the
	// challengers-only split; A2's challenger is blue, cut by the red party
	// filter. Nothing is left to fund.
	p := createPledge(t, env, f, engine.PledgeCreateOptions{
		EmailConfirmed:   true,
		IncumbChallenger: domain.SplitChallengersOnly,
		FilterParty:      "red",
	})
	executeFixtureTrigger(t, env, f)

	pe, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if pe.Problem != domain.ProblemFiltersExcludedAll {
		t.Fatalf("problem: got %s, want filters-excluded-all", pe.Problem)
	}
}

func TestExecutePledgeDeclineRecordsProblem(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})
	executeFixtureTrigger(t, env, f)

	env.Gw.DeclineMessage = "card declined"
	pe, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if pe.Problem != domain.ProblemTransactionFailed {
		t.Fatalf("problem: got %s, want transaction-failed", pe.Problem)
	}
	if pe.ProblemDetail != "card declined" {
		t.Fatalf("detail: got %q", pe.ProblemDetail)
	}
	contribs, err := env.Engine.Repo.ListContributions(env.Ctx, pe.ID)
	if err != nil {
		t.Fatalf("list contributions: %v", err)
	}
	if len(contribs) != 0 {
		t.Fatalf("contributions: got %d, want 0", len(contribs))
	}
}

func TestExecuteTriggerPledgesSkipsIOFaults(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})
	p2profile, err := env.Engine.CreateProfile(env.Ctx, domain.ContributorProfile{
		UserID: "user-2", Name: "Riley Chen", CCToken: "cc-tok-2",
	})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	createPledge(t, env, f, engine.PledgeCreateOptions{
		UserID: "user-2", ProfileID: p2profile.ID, EmailConfirmed: true,
	})
	executeFixtureTrigger(t, env, f)

	env.Gw.FailIO = true
	res, err := env.Engine.ExecuteTriggerPledges(env.Ctx, f.TriggerID, "op")
	if err != nil {
		t.Fatalf("batch with gateway down: %v", err)
	}
	if res.Executed != 0 || len(res.Skipped) != 2 {
		t.Fatalf("batch: got %d executed, %d skipped", res.Executed, len(res.Skipped))
	}

	env.Gw.FailIO = false
	res, err = env.Engine.ExecuteTriggerPledges(env.Ctx, f.TriggerID, "op")
	if err != nil {
		t.Fatalf("rerun batch: %v", err)
	}
	if res.Executed != 2 || res.Problems != 0 || len(res.Skipped) != 0 {
		t.Fatalf("rerun: got %d/%d/%d", res.Executed, res.Problems, len(res.Skipped))
	}
}

func TestExecutePledgeFeeScheduleGate(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})
	executeFixtureTrigger(t, env, f)

	env.Engine.Config.Fees.Version = 2
	_, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op")
	if !errors.Is(err, engine.ErrFeeScheduleChanged) {
		t.Fatalf("got %v, want ErrFeeScheduleChanged", err)
	}
}

func TestExecutePledgeDelayGate(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Execution.TestMode = false
	f := seedFixture(t, env)
	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})
	executeFixtureTrigger(t, env, f)

	if _, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op"); !errors.Is(err, engine.ErrDelayNotElapsed) {
		t.Fatalf("no notice: got %v, want ErrDelayNotElapsed", err)
	}
	if err := env.Engine.RecordPreExecutionNotice(env.Ctx, p.ID, "op"); err != nil {
		t.Fatalf("record notice: %v", err)
	}
	if _, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op"); !errors.Is(err, engine.ErrDelayNotElapsed) {
		t.Fatalf("fresh notice: got %v, want ErrDelayNotElapsed", err)
	}

	env.Engine.Now = func() time.Time { return time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC) }
	pe, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op")
	if err != nil {
		t.Fatalf("execute after delay: %v", err)
	}
	if pe.Problem != domain.ProblemNone {
		t.Fatalf("problem: got %s", pe.Problem)
	}
}

func TestLatePledgeSkipsDelayGate(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.Config.Execution.TestMode = false
	f := seedFixture(t, env)
	executeFixtureTrigger(t, env, f)

	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})
	if !p.MadeAfterExecution {
		t.Fatalf("pledge on an executed trigger should be flagged late")
	}
	pe, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op")
	if err != nil {
		t.Fatalf("execute late pledge: %v", err)
	}
	if pe.Problem != domain.ProblemNone {
		t.Fatalf("problem: got %s", pe.Problem)
	}
}

func TestVoidExecutionReversesLedger(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})
	exec := executeFixtureTrigger(t, env, f)
	pe, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	if err := env.Engine.VoidExecution(env.Ctx, pe.ID, false, "op"); err != nil {
		t.Fatalf("void: %v", err)
	}

	contribs, err := env.Engine.Repo.ListContributions(env.Ctx, pe.ID)
	if err != nil {
		t.Fatalf("list contributions: %v", err)
	}
	if len(contribs) != 0 {
		t.Fatalf("contributions after void: got %d, want 0", len(contribs))
	}
	peAfter, err := env.Engine.Repo.GetPledgeExecution(env.Ctx, pe.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if peAfter.Problem != domain.ProblemVoided {
		t.Fatalf("problem: got %s, want voided", peAfter.Problem)
	}
	all, err := aggregate.GetSlice(env.Ctx, env.Engine.DB, aggregate.Key{})
	if err != nil {
		t.Fatalf("get slice: %v", err)
	}
	if all.Count != 0 || all.TotalCents != 0 {
		t.Fatalf("aggregates after void: got %d/%d, want 0/0", all.Count, all.TotalCents)
	}
	execAfter, err := env.Engine.Repo.GetExecution(env.Ctx, exec.ID)
	if err != nil {
		t.Fatalf("get trigger execution: %v", err)
	}
	if execAfter.PledgeCount != 1 || execAfter.PledgeCountWithContribs != 0 ||
		execAfter.NumContributions != 0 || execAfter.TotalContributions != 0 {
		t.Fatalf("counters after void: got %d/%d/%d/%d", execAfter.PledgeCount,
			execAfter.PledgeCountWithContribs, execAfter.NumContributions, execAfter.TotalContributions)
	}
	actions, err := env.Engine.Repo.ListActions(env.Ctx, exec.ID)
	if err != nil {
		t.Fatalf("list actions: %v", err)
	}
	for _, a := range actions {
		if a.TotalFor != 0 || a.TotalAgainst != 0 {
			t.Fatalf("action %s totals after void: got %d/%d", a.ID, a.TotalFor, a.TotalAgainst)
		}
	}
	// The pledge keeps its executed state; only the execution is voided.
	got, err := env.Engine.Repo.GetPledge(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get pledge: %v", err)
	}
	if got.State != domain.PledgeExecuted {
		t.Fatalf("pledge state: got %s, want executed", got.State)
	}
	if err := env.Engine.VoidExecution(env.Ctx, pe.ID, false, "op"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("repeat void: got %v, want ErrInvalidState", err)
	}
}

func TestRebuildMatchesIncrementalAggregates(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})
	p2profile, err := env.Engine.CreateProfile(env.Ctx, domain.ContributorProfile{
		UserID: "user-2", Name: "Riley Chen", CCToken: "cc-tok-2",
	})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	createPledge(t, env, f, engine.PledgeCreateOptions{
		UserID: "user-2", ProfileID: p2profile.ID, EmailConfirmed: true, DesiredOutcome: 1,
	})
	exec := executeFixtureTrigger(t, env, f)
	if _, err := env.Engine.ExecuteTriggerPledges(env.Ctx, f.TriggerID, "op"); err != nil {
		t.Fatalf("batch: %v", err)
	}

	keys := []aggregate.Key{
		{},
		{ExecutionID: exec.ID},
		{ExecutionID: exec.ID, Outcome: "0"},
		{ExecutionID: exec.ID, Outcome: "1"},
		{ExecutionID: exec.ID, ActorID: f.A1, Incumbent: "1"},
		{ExecutionID: exec.ID, ActorID: f.A1, Incumbent: "0"},
		{ExecutionID: exec.ID, Party: "red", Incumbent: "0"},
		{CampaignID: "camp-1"},
	}
	before := make([]aggregate.Slice, len(keys))
	for i, k := range keys {
		s, err := aggregate.GetSlice(env.Ctx, env.Engine.DB, k)
		if err != nil {
			t.Fatalf("get slice: %v", err)
		}
		before[i] = s
	}
	if before[0].Count != 4 {
		t.Fatalf("expected 4 contributions before rebuild, got %d", before[0].Count)
	}

	if err := aggregate.Rebuild(env.Ctx, env.Engine.DB); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	for i, k := range keys {
		s, err := aggregate.GetSlice(env.Ctx, env.Engine.DB, k)
		if err != nil {
			t.Fatalf("get slice: %v", err)
		}
		if s.Count != before[i].Count || s.TotalCents != before[i].TotalCents {
			t.Fatalf("slice %+v diverged: got %d/%d, want %d/%d", k,
				s.Count, s.TotalCents, before[i].Count, before[i].TotalCents)
		}
	}
}

func TestUnexecuteTrigger(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	exec := executeFixtureTrigger(t, env, f)

	if err := env.Engine.UnexecuteTrigger(env.Ctx, f.TriggerID, "op"); err != nil {
		t.Fatalf("unexecute: %v", err)
	}
	trig, err := env.Engine.Repo.GetTrigger(env.Ctx, f.TriggerID)
	if err != nil {
		t.Fatalf("get trigger: %v", err)
	}
	if trig.State != domain.TriggerPaused {
		t.Fatalf("state: got %s, want paused", trig.State)
	}
	if _, err := env.Engine.Repo.GetExecution(env.Ctx, exec.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("execution should be deleted, got %v", err)
	}
}

func TestUnexecuteTriggerRefusesAfterCharges(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})
	executeFixtureTrigger(t, env, f)
	if _, err := env.Engine.ExecutePledge(env.Ctx, p.ID, "op"); err != nil {
		t.Fatalf("execute pledge: %v", err)
	}
	if err := env.Engine.UnexecuteTrigger(env.Ctx, f.TriggerID, "op"); !errors.Is(err, engine.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestRefreshProfileReassignsOpenPledges(t *testing.T) {
	env := newTestEnv(t)
	f := seedFixture(t, env)
	p := createPledge(t, env, f, engine.PledgeCreateOptions{EmailConfirmed: true})

	refreshed, err := env.Engine.RefreshProfile(env.Ctx, domain.ContributorProfile{
		UserID: "user-1", Name: "Dana Smith", CCToken: "cc-tok-new",
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	got, err := env.Engine.Repo.GetPledge(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("get pledge: %v", err)
	}
	if got.ProfileID != refreshed.ID {
		t.Fatalf("profile: got %s, want %s", got.ProfileID, refreshed.ID)
	}
}
