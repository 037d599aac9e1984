package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"pledgeline/internal/aggregate"
	"pledgeline/internal/domain"
	"pledgeline/internal/engine"
	"pledgeline/internal/gateway"
	"pledgeline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"trigger is executed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Pledgeline API and starts the
// webhook dispatcher.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Pledgeline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerTriggers(group, cfg.Engine)
	registerPledges(group, cfg.Engine)
	registerProfiles(group, cfg.Engine)
	registerExecutions(group, cfg.Engine)
	registerStats(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerRegistry(group, cfg.Engine)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
}

func newEntityID() string {
	return uuid.NewString()
}

func nowRFC3339(e engine.Engine) string {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func campaignID(e engine.Engine) string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Campaign.ID
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var pce *engine.PostChargeError
	if errors.As(err, &pce) {
		return newAPIError(http.StatusInternalServerError, "post_charge_failure", pce.Error(),
			map[string]any{"gateway_response": pce.GatewayResponse, "pledge_id": pce.PledgeID})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidState),
		errors.Is(err, engine.ErrDuplicatePledge):
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), nil)
	case errors.Is(err, engine.ErrFeeScheduleChanged),
		errors.Is(err, engine.ErrDelayNotElapsed),
		errors.Is(err, engine.ErrMissingChallenger),
		errors.Is(err, engine.ErrInactiveRecipient),
		errors.Is(err, engine.ErrAmountTooSmall),
		errors.Is(err, engine.ErrAmountTooSmallToDivide):
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	case errors.Is(err, gateway.ErrIO),
		errors.Is(err, gateway.ErrRetryLater):
		return newAPIError(http.StatusBadGateway, "gateway_unavailable", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") || strings.Contains(lowered, "out of range"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Campaign status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		triggers, err := e.Repo.ListTriggers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		byState := map[string]int{}
		for _, t := range triggers {
			byState[t.State.String()]++
		}
		total, err := aggregate.GetSlice(ctx, e.DB, aggregate.Key{})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"campaign_id":              campaignID(e),
			"triggers":                 byState,
			"contributions":            total.Count,
			"contribution_total_cents": total.TotalCents,
		}}, nil
	})
}

func registerTriggers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-trigger",
		Method:        http.MethodPost,
		Path:          "/triggers",
		Summary:       "Create trigger",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateTriggerRequest `json:"body"`
	}) (*struct {
		Body TriggerResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		desc := ""
		if input.Body.Description != nil {
			desc = *input.Body.Description
		}
		outcomes := make([]domain.TriggerOutcome, 0, len(input.Body.Outcomes))
		for _, o := range input.Body.Outcomes {
			outcomes = append(outcomes, domain.TriggerOutcome{Key: o.Key, Label: o.Label, Object: o.Object})
		}
		t, err := e.CreateTrigger(ctx, engine.TriggerCreateOptions{
			Key:         input.Body.Key,
			Title:       input.Body.Title,
			Description: desc,
			Outcomes:    outcomes,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TriggerResponse `json:"body"`
		}{Body: triggerResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-triggers",
		Method:      http.MethodGet,
		Path:        "/triggers",
		Summary:     "List triggers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []TriggerResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListTriggers(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TriggerResponse `json:"body"`
		}{Body: mapTriggers(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-trigger",
		Method:      http.MethodGet,
		Path:        "/triggers/{trigger_id}",
		Summary:     "Get trigger",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TriggerID string `path:"trigger_id"`
	}) (*struct {
		Body TriggerResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTrigger(ctx, input.TriggerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TriggerResponse `json:"body"`
		}{Body: triggerResponse(t)}, nil
	})

	transition := func(opID, pathSuffix, summary string, fn func(ctx context.Context, id, actorID string) (domain.Trigger, error)) {
		huma.Register(api, huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        "/triggers/{trigger_id}/" + pathSuffix,
			Summary:     summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			TriggerID string `path:"trigger_id"`
		}) (*struct {
			Body TriggerResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			t, err := fn(ctx, input.TriggerID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body TriggerResponse `json:"body"`
			}{Body: triggerResponse(t)}, nil
		})
	}
	transition("open-trigger", "open", "Open trigger", e.OpenTrigger)
	transition("pause-trigger", "pause", "Pause trigger", e.PauseTrigger)
	transition("vacate-trigger", "vacate", "Vacate trigger and its open pledges", e.VacateTrigger)

	huma.Register(api, huma.Operation{
		OperationID: "execute-trigger",
		Method:      http.MethodPost,
		Path:        "/triggers/{trigger_id}/execute",
		Summary:     "Execute trigger with real-world outcomes",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		TriggerID string                `path:"trigger_id"`
		Body      ExecuteTriggerRequest `json:"body"`
	}) (*struct {
		Body ExecutionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		outcomes := make([]engine.ActorOutcome, 0, len(input.Body.Outcomes))
		for _, spec := range input.Body.Outcomes {
			var o domain.Outcome
			if spec.OutcomeIndex != nil {
				o = domain.OutcomeIndex(*spec.OutcomeIndex)
			} else {
				reason := spec.Reason
				if reason == "" {
					reason = "no action taken"
				}
				o = domain.NoOutcome(reason)
			}
			outcomes = append(outcomes, engine.ActorOutcome{ActorID: spec.ActorID, Outcome: o})
		}
		exec, err := e.ExecuteTrigger(ctx, engine.ExecuteTriggerOptions{
			TriggerID:   input.TriggerID,
			ActionTime:  input.Body.ActionTime,
			Description: input.Body.Description,
			Outcomes:    outcomes,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ExecutionResponse `json:"body"`
		}{Body: executionResponse(exec)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-trigger-pledges",
		Method:      http.MethodPost,
		Path:        "/triggers/{trigger_id}/execute-pledges",
		Summary:     "Execute all open pledges on an executed trigger",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		TriggerID string `path:"trigger_id"`
	}) (*struct {
		Body BatchResultResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ExecuteTriggerPledges(ctx, input.TriggerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BatchResultResponse `json:"body"`
		}{Body: batchResultResponse(res)}, nil
	})
}

func registerPledges(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-pledge",
		Method:        http.MethodPost,
		Path:          "/pledges",
		Summary:       "Create pledge",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreatePledgeRequest `json:"body"`
	}) (*struct {
		Body PledgeResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePledge(ctx, engine.PledgeCreateOptions{
			TriggerID:        input.Body.TriggerID,
			UserID:           input.Body.UserID,
			EmailConfirmed:   input.Body.EmailConfirmed,
			DesiredOutcome:   input.Body.DesiredOutcome,
			AmountCents:      input.Body.AmountCents,
			IncumbChallenger: input.Body.IncumbChallenger,
			FilterParty:      input.Body.FilterParty,
			ProfileID:        input.Body.ProfileID,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PledgeResponse `json:"body"`
		}{Body: pledgeResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pledges",
		Method:      http.MethodGet,
		Path:        "/pledges",
		Summary:     "List pledges",
	}, func(ctx context.Context, input *struct {
		TriggerID string `query:"trigger_id"`
		UserID    string `query:"user_id"`
		State     string `query:"state" enum:"open,executed,vacated,"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []PledgeResponse `json:"body"`
	}, error) {
		filters := repo.PledgeFilters{
			TriggerID: input.TriggerID,
			UserID:    input.UserID,
			Limit:     input.Limit,
		}
		switch input.State {
		case "open":
			s := domain.PledgeOpen
			filters.State = &s
		case "executed":
			s := domain.PledgeExecuted
			filters.State = &s
		case "vacated":
			s := domain.PledgeVacated
			filters.State = &s
		}
		items, err := e.Repo.ListPledges(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PledgeResponse `json:"body"`
		}{Body: mapPledges(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pledge",
		Method:      http.MethodGet,
		Path:        "/pledges/{pledge_id}",
		Summary:     "Get pledge",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PledgeID string `path:"pledge_id"`
	}) (*struct {
		Body PledgeResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPledge(ctx, input.PledgeID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PledgeResponse `json:"body"`
		}{Body: pledgeResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-pledge",
		Method:      http.MethodDelete,
		Path:        "/pledges/{pledge_id}",
		Summary:     "Cancel an open pledge",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		PledgeID string `path:"pledge_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.CancelPledge(ctx, input.PledgeID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "execute-pledge",
		Method:      http.MethodPost,
		Path:        "/pledges/{pledge_id}/execute",
		Summary:     "Execute a single pledge",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		PledgeID string `path:"pledge_id"`
	}) (*struct {
		Body PledgeExecutionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		pe, err := e.ExecutePledge(ctx, input.PledgeID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PledgeExecutionResponse `json:"body"`
		}{Body: pledgeExecutionResponse(pe)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-pledge-email",
		Method:      http.MethodPost,
		Path:        "/pledges/{pledge_id}/confirm-email",
		Summary:     "Mark pledge email confirmed",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PledgeID string `path:"pledge_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ConfirmPledgeEmail(ctx, input.PledgeID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-pledge-notice",
		Method:      http.MethodPost,
		Path:        "/pledges/{pledge_id}/notice",
		Summary:     "Record the pre-execution notice timestamp",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		PledgeID string `path:"pledge_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RecordPreExecutionNotice(ctx, input.PledgeID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerProfiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-profile",
		Method:        http.MethodPost,
		Path:          "/profiles",
		Summary:       "Create contributor profile",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateProfileRequest `json:"body"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProfile(ctx, domain.ContributorProfile{
			UserID:  input.Body.UserID,
			Name:    input.Body.Name,
			Address: input.Body.Address,
			City:    input.Body.City,
			State:   input.Body.State,
			Zip:     input.Body.Zip,
			CCToken: input.Body.CCToken,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "refresh-profile",
		Method:        http.MethodPost,
		Path:          "/profiles/refresh",
		Summary:       "Create a new profile and reassign the user's open pledges",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateProfileRequest `json:"body"`
	}) (*struct {
		Body ProfileResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.RefreshProfile(ctx, domain.ContributorProfile{
			UserID:  input.Body.UserID,
			Name:    input.Body.Name,
			Address: input.Body.Address,
			City:    input.Body.City,
			State:   input.Body.State,
			Zip:     input.Body.Zip,
			CCToken: input.Body.CCToken,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProfileResponse `json:"body"`
		}{Body: profileResponse(p)}, nil
	})
}

func registerExecutions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-pledge-execution",
		Method:      http.MethodGet,
		Path:        "/executions/{execution_id}",
		Summary:     "Get pledge execution",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `path:"execution_id"`
	}) (*struct {
		Body PledgeExecutionResponse `json:"body"`
	}, error) {
		pe, err := e.Repo.GetPledgeExecution(ctx, input.ExecutionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PledgeExecutionResponse `json:"body"`
		}{Body: pledgeExecutionResponse(pe)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "void-pledge-execution",
		Method:      http.MethodPost,
		Path:        "/executions/{execution_id}/void",
		Summary:     "Void a charged pledge execution",
		Errors: []int{
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		ExecutionID string `path:"execution_id"`
		Body        struct {
			AllowCredit bool `json:"allow_credit,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body PledgeExecutionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.VoidExecution(ctx, input.ExecutionID, input.Body.AllowCredit, actorID); err != nil {
			return nil, handleError(err)
		}
		pe, err := e.Repo.GetPledgeExecution(ctx, input.ExecutionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PledgeExecutionResponse `json:"body"`
		}{Body: pledgeExecutionResponse(pe)}, nil
	})
}

func registerStats(api huma.API, e engine.Engine) {
	type sliceQuery struct {
		ExecutionID string `query:"execution_id"`
		CampaignID  string `query:"campaign_id"`
		Outcome     string `query:"outcome"`
		ActorID     string `query:"actor_id"`
		Incumbent   string `query:"incumbent" enum:"0,1,"`
		Party       string `query:"party"`
		District    string `query:"district"`
	}
	toKey := func(q sliceQuery) aggregate.Key {
		return aggregate.Key{
			ExecutionID: q.ExecutionID,
			CampaignID:  q.CampaignID,
			Outcome:     q.Outcome,
			ActorID:     q.ActorID,
			Incumbent:   q.Incumbent,
			Party:       q.Party,
			District:    q.District,
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-stats-slice",
		Method:      http.MethodGet,
		Path:        "/stats/slice",
		Summary:     "Get one aggregate slice (missing dimensions mean all)",
	}, func(ctx context.Context, input *sliceQuery) (*struct {
		Body SliceResponse `json:"body"`
	}, error) {
		s, err := aggregate.GetSlice(ctx, e.DB, toKey(*input))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SliceResponse `json:"body"`
		}{Body: sliceResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-stats-slices",
		Method:      http.MethodGet,
		Path:        "/stats/slices",
		Summary:     "List aggregate slices across dimensions, ordered by total",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Across string `query:"across" example:"actor_id,incumbent"`
		sliceQuery
	}) (*struct {
		Body []SliceResponse `json:"body"`
	}, error) {
		var across []string
		for _, dim := range strings.Split(input.Across, ",") {
			if d := strings.TrimSpace(dim); d != "" {
				across = append(across, d)
			}
		}
		if len(across) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "across is required", nil)
		}
		items, err := aggregate.GetSlices(ctx, e.DB, across, toKey(input.sliceQuery))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []SliceResponse `json:"body"`
		}{Body: mapSlices(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rebuild-stats",
		Method:      http.MethodPost,
		Path:        "/stats/rebuild",
		Summary:     "Rebuild all aggregate slices from the contribution ledger",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := aggregate.Rebuild(ctx, e.DB); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "rebuilt"}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, campaignID(e), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerRegistry(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Register actor",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateActorRequest `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" || input.Body.Party == "" || input.Body.Office == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name, party and office are required", nil)
		}
		a := domain.Actor{
			ID:        newEntityID(),
			Name:      input.Body.Name,
			Party:     input.Body.Party,
			Office:    input.Body.Office,
			District:  input.Body.District,
			ExtraJSON: string(input.Body.Extra),
			CreatedAt: nowRFC3339(e),
		}
		if input.Body.ChallengerRecipientID != "" {
			id := input.Body.ChallengerRecipientID
			a.ChallengerRecipientID = &id
		}
		if err := e.Repo.InsertActor(ctx, a); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Actor `json:"body"`
	}, error) {
		items, err := e.Repo.ListActors(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Actor `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-actor",
		Method:      http.MethodPatch,
		Path:        "/actors/{actor_id}",
		Summary:     "Update actor flags",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ActorID string `path:"actor_id"`
		Body    struct {
			Inactive              *bool   `json:"inactive,omitempty"`
			InactiveReason        string  `json:"inactive_reason,omitempty"`
			ChallengerRecipientID *string `json:"challenger_recipient_id,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Actor `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Inactive != nil {
			if err := e.Repo.SetActorInactive(ctx, input.ActorID, *input.Body.Inactive, input.Body.InactiveReason); err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.ChallengerRecipientID != nil {
			if err := e.Repo.SetActorChallenger(ctx, input.ActorID, input.Body.ChallengerRecipientID); err != nil {
				return nil, handleError(err)
			}
		}
		a, err := e.Repo.GetActor(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Actor `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-recipient",
		Method:        http.MethodPost,
		Path:          "/recipients",
		Summary:       "Register payable recipient",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateRecipientRequest `json:"body"`
	}) (*struct {
		Body domain.Recipient `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.OfficeSought == "" || input.Body.Party == "" || input.Body.GatewayID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "office_sought, party and gateway_id are required", nil)
		}
		rec := domain.Recipient{
			ID:           newEntityID(),
			OfficeSought: input.Body.OfficeSought,
			Party:        input.Body.Party,
			GatewayID:    input.Body.GatewayID,
			Active:       true,
			CreatedAt:    nowRFC3339(e),
		}
		if input.Body.ActorID != "" {
			id := input.Body.ActorID
			rec.ActorID = &id
		}
		if err := e.Repo.InsertRecipient(ctx, rec); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Recipient `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-recipient",
		Method:      http.MethodPatch,
		Path:        "/recipients/{recipient_id}",
		Summary:     "Update recipient flags",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RecipientID string `path:"recipient_id"`
		Body        struct {
			Active *bool `json:"active,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body domain.Recipient `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Active != nil {
			if err := e.Repo.SetRecipientActive(ctx, input.RecipientID, *input.Body.Active); err != nil {
				return nil, handleError(err)
			}
		}
		rec, err := e.Repo.GetRecipient(ctx, input.RecipientID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Recipient `json:"body"`
		}{Body: rec}, nil
	})
}
