package server

import (
	"encoding/json"

	"pledgeline/internal/aggregate"
	"pledgeline/internal/domain"
	"pledgeline/internal/engine"
)

type OutcomeSpec struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Object string `json:"object,omitempty"`
}

type CreateTriggerRequest struct {
	Key         string        `json:"key"`
	Title       string        `json:"title"`
	Description *string       `json:"description,omitempty"`
	Outcomes    []OutcomeSpec `json:"outcomes"`
}

type TriggerResponse struct {
	ID                string        `json:"id"`
	Key               string        `json:"key"`
	Title             string        `json:"title"`
	Description       string        `json:"description,omitempty"`
	State             string        `json:"state"`
	Outcomes          []OutcomeSpec `json:"outcomes"`
	PledgeCount       int64         `json:"pledge_count"`
	TotalPledgedCents int64         `json:"total_pledged_cents"`
	CreatedAt         string        `json:"created_at"`
	UpdatedAt         string        `json:"updated_at"`
}

func triggerResponse(t domain.Trigger) TriggerResponse {
	outcomes := make([]OutcomeSpec, 0, len(t.Outcomes))
	for _, o := range t.Outcomes {
		outcomes = append(outcomes, OutcomeSpec{Key: o.Key, Label: o.Label, Object: o.Object})
	}
	return TriggerResponse{
		ID:                t.ID,
		Key:               t.Key,
		Title:             t.Title,
		Description:       t.Description,
		State:             t.State.String(),
		Outcomes:          outcomes,
		PledgeCount:       t.PledgeCount,
		TotalPledgedCents: t.TotalPledged,
		CreatedAt:         t.CreatedAt,
		UpdatedAt:         t.UpdatedAt,
	}
}

func mapTriggers(items []domain.Trigger) []TriggerResponse {
	res := make([]TriggerResponse, 0, len(items))
	for _, t := range items {
		res = append(res, triggerResponse(t))
	}
	return res
}

type ActorOutcomeSpec struct {
	ActorID      string `json:"actor_id"`
	OutcomeIndex *int   `json:"outcome_index,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type ExecuteTriggerRequest struct {
	ActionTime  string             `json:"action_time,omitempty" format:"date-time"`
	Description string             `json:"description,omitempty"`
	Outcomes    []ActorOutcomeSpec `json:"outcomes"`
}

type ExecutionResponse struct {
	ID                      string `json:"id"`
	TriggerID               string `json:"trigger_id"`
	ActionTime              string `json:"action_time"`
	Description             string `json:"description,omitempty"`
	PledgeCount             int64  `json:"pledge_count"`
	PledgeCountWithContribs int64  `json:"pledge_count_with_contribs"`
	NumContributions        int64  `json:"num_contributions"`
	TotalContributionsCents int64  `json:"total_contributions_cents"`
	CreatedAt               string `json:"created_at"`
}

func executionResponse(e domain.TriggerExecution) ExecutionResponse {
	return ExecutionResponse{
		ID:                      e.ID,
		TriggerID:               e.TriggerID,
		ActionTime:              e.ActionTime,
		Description:             e.Description,
		PledgeCount:             e.PledgeCount,
		PledgeCountWithContribs: e.PledgeCountWithContribs,
		NumContributions:        e.NumContributions,
		TotalContributionsCents: e.TotalContributions,
		CreatedAt:               e.CreatedAt,
	}
}

type CreatePledgeRequest struct {
	TriggerID        string `json:"trigger_id"`
	UserID           string `json:"user_id"`
	EmailConfirmed   bool   `json:"email_confirmed,omitempty"`
	DesiredOutcome   int    `json:"desired_outcome"`
	AmountCents      int64  `json:"amount_cents"`
	IncumbChallenger int    `json:"incumb_challenger,omitempty"`
	FilterParty      string `json:"filter_party,omitempty"`
	ProfileID        string `json:"profile_id"`
}

type PledgeResponse struct {
	ID                 string `json:"id"`
	TriggerID          string `json:"trigger_id"`
	CampaignID         string `json:"campaign_id,omitempty"`
	UserID             string `json:"user_id"`
	EmailConfirmed     bool   `json:"email_confirmed"`
	DesiredOutcome     int    `json:"desired_outcome"`
	AmountCents        int64  `json:"amount_cents"`
	IncumbChallenger   int    `json:"incumb_challenger"`
	FilterParty        string `json:"filter_party,omitempty"`
	ProfileID          string `json:"profile_id"`
	State              string `json:"state"`
	FeeScheduleVersion int    `json:"fee_schedule_version"`
	MadeAfterExecution bool   `json:"made_after_execution"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

func pledgeResponse(p domain.Pledge) PledgeResponse {
	resp := PledgeResponse{
		ID:                 p.ID,
		TriggerID:          p.TriggerID,
		UserID:             p.UserID,
		EmailConfirmed:     p.EmailConfirmed,
		DesiredOutcome:     p.DesiredOutcome,
		AmountCents:        p.AmountCents,
		IncumbChallenger:   p.IncumbChallenger,
		ProfileID:          p.ProfileID,
		State:              p.State.String(),
		FeeScheduleVersion: p.FeeScheduleVersion,
		MadeAfterExecution: p.MadeAfterExecution,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
	if p.CampaignID != nil {
		resp.CampaignID = *p.CampaignID
	}
	if p.FilterParty != nil {
		resp.FilterParty = *p.FilterParty
	}
	return resp
}

func mapPledges(items []domain.Pledge) []PledgeResponse {
	res := make([]PledgeResponse, 0, len(items))
	for _, p := range items {
		res = append(res, pledgeResponse(p))
	}
	return res
}

type CreateProfileRequest struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Zip     string `json:"zip"`
	CCToken string `json:"cc_token"`
}

type ProfileResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
	CreatedAt string `json:"created_at"`
}

func profileResponse(p domain.ContributorProfile) ProfileResponse {
	return ProfileResponse{
		ID:        p.ID,
		UserID:    p.UserID,
		Name:      p.Name,
		City:      p.City,
		State:     p.State,
		Zip:       p.Zip,
		CreatedAt: p.CreatedAt,
	}
}

type PledgeExecutionResponse struct {
	ID            string `json:"id"`
	PledgeID      string `json:"pledge_id"`
	Problem       string `json:"problem"`
	ProblemDetail string `json:"problem_detail,omitempty"`
	ChargedCents  int64  `json:"charged_cents"`
	FeesCents     int64  `json:"fees_cents"`
	CreatedAt     string `json:"created_at"`
}

func pledgeExecutionResponse(pe domain.PledgeExecution) PledgeExecutionResponse {
	return PledgeExecutionResponse{
		ID:            pe.ID,
		PledgeID:      pe.PledgeID,
		Problem:       pe.Problem.String(),
		ProblemDetail: pe.ProblemDetail,
		ChargedCents:  pe.ChargedCents,
		FeesCents:     pe.FeesCents,
		CreatedAt:     pe.CreatedAt,
	}
}

type BatchResultResponse struct {
	Executed int                 `json:"executed"`
	Problems int                 `json:"problems"`
	Skipped  []BatchSkipResponse `json:"skipped,omitempty"`
}

type BatchSkipResponse struct {
	PledgeID string `json:"pledge_id"`
	Error    string `json:"error"`
}

func batchResultResponse(r engine.BatchResult) BatchResultResponse {
	resp := BatchResultResponse{Executed: r.Executed, Problems: r.Problems}
	for _, s := range r.Skipped {
		resp.Skipped = append(resp.Skipped, BatchSkipResponse{PledgeID: s.PledgeID, Error: s.Err.Error()})
	}
	return resp
}

type CreateActorRequest struct {
	Name                  string          `json:"name"`
	Party                 string          `json:"party"`
	Office                string          `json:"office"`
	District              string          `json:"district,omitempty"`
	ChallengerRecipientID string          `json:"challenger_recipient_id,omitempty"`
	Extra                 json.RawMessage `json:"extra,omitempty"`
}

type CreateRecipientRequest struct {
	ActorID      string `json:"actor_id,omitempty"`
	OfficeSought string `json:"office_sought"`
	Party        string `json:"party"`
	GatewayID    string `json:"gateway_id"`
}

type SliceResponse struct {
	ExecutionID string `json:"execution_id"`
	CampaignID  string `json:"campaign_id"`
	Outcome     string `json:"outcome"`
	ActorID     string `json:"actor_id"`
	Incumbent   string `json:"incumbent"`
	Party       string `json:"party"`
	District    string `json:"district"`
	Count       int64  `json:"count"`
	TotalCents  int64  `json:"total_cents"`
}

func sliceResponse(s aggregate.Slice) SliceResponse {
	return SliceResponse{
		ExecutionID: s.Key.ExecutionID,
		CampaignID:  s.Key.CampaignID,
		Outcome:     s.Key.Outcome,
		ActorID:     s.Key.ActorID,
		Incumbent:   s.Key.Incumbent,
		Party:       s.Key.Party,
		District:    s.Key.District,
		Count:       s.Count,
		TotalCents:  s.TotalCents,
	}
}

func mapSlices(items []aggregate.Slice) []SliceResponse {
	res := make([]SliceResponse, 0, len(items))
	for _, s := range items {
		res = append(res, sliceResponse(s))
	}
	return res
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	CampaignID string          `json:"campaign_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage([]byte(e.Payload))
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CampaignID: e.CampaignID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}
