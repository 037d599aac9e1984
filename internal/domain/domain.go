// Package domain defines the persisted entities of the pledge execution
// engine. Enumerated states are stored as stable small integers; the
// mappings in enums.go are append-only and never renumbered.
package domain

type Campaign struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Trigger is a future occurrence with a finite set of named outcomes.
// Its cached PledgeCount/TotalPledged cover open pledges only and stop
// being maintained once the trigger executes.
type Trigger struct {
	ID           string           `json:"id"`
	Key          string           `json:"key"`
	Title        string           `json:"title"`
	Description  string           `json:"description,omitempty"`
	State        TriggerState     `json:"state"`
	Outcomes     []TriggerOutcome `json:"outcomes"`
	PledgeCount  int64            `json:"pledge_count"`
	TotalPledged int64            `json:"total_pledged_cents"`
	ExtraJSON    string           `json:"extra,omitempty"`
	CreatedAt    string           `json:"created_at" format:"date-time"`
	UpdatedAt    string           `json:"updated_at" format:"date-time"`
}

// TriggerOutcome is one entry in a trigger's outcome list. The list is
// immutable once any pledge references an index into it.
type TriggerOutcome struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Object string `json:"object,omitempty"`
}

// TriggerExecution is the 1:1 record of an executed trigger. Only the
// cached counters mutate after creation.
type TriggerExecution struct {
	ID                      string `json:"id"`
	TriggerID               string `json:"trigger_id"`
	ActionTime              string `json:"action_time" format:"date-time"`
	Description             string `json:"description,omitempty"`
	PledgeCount             int64  `json:"pledge_count"`
	PledgeCountWithContribs int64  `json:"pledge_count_with_contribs"`
	NumContributions        int64  `json:"num_contributions"`
	TotalContributions      int64  `json:"total_contributions_cents"`
	CreatedAt               string `json:"created_at" format:"date-time"`
}

// Actor is a party capable of taking the real-world action a trigger is
// about (e.g. a legislator). Party/office/challenger are mutable; Action
// snapshots them at execution time.
type Actor struct {
	ID                    string  `json:"id"`
	Name                  string  `json:"name"`
	Party                 string  `json:"party"`
	Office                string  `json:"office"`
	District              string  `json:"district,omitempty"`
	Inactive              bool    `json:"inactive"`
	InactiveReason        string  `json:"inactive_reason,omitempty"`
	ChallengerRecipientID *string `json:"challenger_recipient_id,omitempty"`
	ExtraJSON             string  `json:"extra,omitempty"`
	CreatedAt             string  `json:"created_at" format:"date-time"`
}

// Outcome is the tagged union of "acted, outcome index N" and "took no
// action, for Reason". Exactly one arm is set.
type Outcome struct {
	Index  *int   `json:"index,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// OutcomeIndex returns an Outcome referencing a trigger outcome slot.
func OutcomeIndex(i int) Outcome { return Outcome{Index: &i} }

// NoOutcome returns an Outcome recording why no action was taken.
func NoOutcome(reason string) Outcome { return Outcome{Reason: reason} }

// HasIndex reports whether the outcome references a trigger outcome slot.
func (o Outcome) HasIndex() bool { return o.Index != nil }

// Action is an immutable snapshot of what one actor did for one trigger
// execution. Everything except the cached totals is frozen at creation.
type Action struct {
	ID                    string  `json:"id"`
	ExecutionID           string  `json:"execution_id"`
	ActorID               string  `json:"actor_id"`
	NameSnapshot          string  `json:"name"`
	PartySnapshot         string  `json:"party"`
	OfficeSnapshot        string  `json:"office"`
	DistrictSnapshot      string  `json:"district,omitempty"`
	Outcome               Outcome `json:"outcome"`
	ChallengerRecipientID *string `json:"challenger_recipient_id,omitempty"`
	TotalFor              int64   `json:"total_for_cents"`
	TotalAgainst          int64   `json:"total_against_cents"`
	ExtraJSON             string  `json:"extra,omitempty"`
}

// Recipient is a payable party: bound to an actor (incumbent) or identified
// by (office sought, party) for a generic challenger. Unique per
// (office sought, party).
type Recipient struct {
	ID           string  `json:"id"`
	ActorID      *string `json:"actor_id,omitempty"`
	OfficeSought string  `json:"office_sought"`
	Party        string  `json:"party"`
	GatewayID    string  `json:"gateway_id"`
	Active       bool    `json:"active"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// Incumbent reports whether the recipient is bound to a sitting actor.
func (r Recipient) Incumbent() bool { return r.ActorID != nil }

// ContributorProfile is an immutable billing/contact snapshot with a
// gateway card token. It may be shared across a user's open pledges but is
// never edited in place once persisted; refreshing billing data means a new
// profile row reassigned as a whole.
type ContributorProfile struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	CCToken   string `json:"cc_token"`
	ExtraJSON string `json:"extra,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Pledge is a user's conditional commitment against a trigger. Amount is
// gross (fees included), in cents. IncumbChallenger: -1 challengers only,
// 0 both, +1 incumbents only.
type Pledge struct {
	ID                   string      `json:"id"`
	TriggerID            string      `json:"trigger_id"`
	CampaignID           *string     `json:"campaign_id,omitempty"`
	UserID               string      `json:"user_id"`
	EmailConfirmed       bool        `json:"email_confirmed"`
	DesiredOutcome       int         `json:"desired_outcome"`
	AmountCents          int64       `json:"amount_cents"`
	IncumbChallenger     int         `json:"incumb_challenger"`
	FilterParty          *string     `json:"filter_party,omitempty"`
	ProfileID            string      `json:"profile_id"`
	State                PledgeState `json:"state"`
	FeeScheduleVersion   int         `json:"fee_schedule_version"`
	MadeAfterExecution   bool        `json:"made_after_execution"`
	PreExecutionNoticeAt *string     `json:"pre_execution_notice_at,omitempty" format:"date-time"`
	ExtraJSON            string      `json:"extra,omitempty"`
	CreatedAt            string      `json:"created_at" format:"date-time"`
	UpdatedAt            string      `json:"updated_at" format:"date-time"`
}

// CancelledPledge archives a deleted open pledge.
type CancelledPledge struct {
	ID          string `json:"id"`
	PledgeID    string `json:"pledge_id"`
	TriggerID   string `json:"trigger_id"`
	UserID      string `json:"user_id"`
	AmountCents int64  `json:"amount_cents"`
	CancelledAt string `json:"cancelled_at" format:"date-time"`
}

// PledgeExecution is the durable record of one attempt to convert a pledge
// into real charges. At most one exists per pledge; its existence gates
// re-execution. Transition to ProblemVoided is the only post-creation
// mutation path.
type PledgeExecution struct {
	ID              string           `json:"id"`
	PledgeID        string           `json:"pledge_id"`
	Problem         ExecutionProblem `json:"problem"`
	ProblemDetail   string           `json:"problem_detail,omitempty"`
	ChargedCents    int64            `json:"charged_cents"`
	FeesCents       int64            `json:"fees_cents"`
	GatewayResponse string           `json:"gateway_response,omitempty"`
	CreatedAt       string           `json:"created_at" format:"date-time"`
}

// Contribution is one funded line item: a pledge execution paying a
// recipient for an action. Unique per (execution, action) and per
// (execution, recipient).
type Contribution struct {
	ID                string `json:"id"`
	PledgeExecutionID string `json:"pledge_execution_id"`
	ActionID          string `json:"action_id"`
	RecipientID       string `json:"recipient_id"`
	AmountCents       int64  `json:"amount_cents"`
	CreatedAt         string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CampaignID string `json:"campaign_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
