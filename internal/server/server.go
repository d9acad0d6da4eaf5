package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"opsboard/internal/calendar"
	"opsboard/internal/domain"
	"opsboard/internal/engine"
	"opsboard/internal/engine/auth"
	"opsboard/internal/ledger"
	"opsboard/internal/lifecycle"
	"opsboard/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"task already done; cannot move to SKIPPED"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"DONE\"}"`
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

type out[T any] struct {
	Body T
}

func reply[T any](v T) *out[T] { return &out[T]{Body: v} }

// New returns an HTTP handler exposing the board API.
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
			// Schema validation is a malformed request, not a domain rule.
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
	hcfg := huma.DefaultConfig("Opsboard API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Engine)
	if cfg.Auth.AllowDevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerOwners(group, cfg.Engine)
	registerChannels(group, cfg.Engine)
	registerTemplates(group, cfg.Engine)
	registerMonths(group, cfg.Engine)
	registerInstances(group, cfg.Engine)
	registerPoints(group, cfg.Engine)
	registerIncidents(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	msg := err.Error()

	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", msg, map[string]any{"permission": fe.Permission})
	}
	var oe lifecycle.ForbiddenError
	if errors.As(err, &oe) {
		return newAPIError(http.StatusForbidden, "not_task_owner", msg, map[string]any{"owner_id": oe.OwnerID})
	}
	var ie auth.InactiveOwnerError
	if errors.As(err, &ie) {
		return newAPIError(http.StatusForbidden, "inactive_owner", msg, map[string]any{"owner_id": ie.OwnerID})
	}
	if errors.Is(err, auth.ErrUnknownOwner) {
		return newAPIError(http.StatusUnauthorized, "unknown_owner", msg, nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	}

	var te lifecycle.InvalidStateTransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", msg, map[string]any{
			"instance_id": te.InstanceID,
			"from":        te.From,
			"to":          te.To,
		})
	}
	switch {
	case errors.Is(err, repo.ErrDuplicateInstance):
		return newAPIError(http.StatusConflict, "duplicate_instance", msg, nil)
	case errors.Is(err, repo.ErrAlreadyExists):
		return newAPIError(http.StatusConflict, "already_exists", msg, nil)
	case errors.Is(err, engine.ErrIncidentResolved):
		return newAPIError(http.StatusConflict, "incident_resolved", msg, nil)
	case errors.Is(err, lifecycle.ErrEvidenceRequired):
		return newAPIError(http.StatusUnprocessableEntity, "evidence_required", msg, nil)
	case errors.Is(err, lifecycle.ErrSkipReasonRequired):
		return newAPIError(http.StatusUnprocessableEntity, "skip_reason_required", msg, nil)
	}

	var de calendar.InvalidDateError
	if errors.As(err, &de) {
		return newAPIError(http.StatusBadRequest, "invalid_date", msg, map[string]any{"input": de.Input})
	}
	var me calendar.InvalidMonthError
	if errors.As(err, &me) {
		return newAPIError(http.StatusBadRequest, "invalid_month", msg, map[string]any{"input": me.Input})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, map[string]any{"field": ve.Field})
	}

	var le ledger.InvalidEntryError
	if errors.As(err, &le) {
		// Entries are built by the server itself, so a rejected one is a bug.
		slog.Error("ledger rejected entry", "err", err, "field", le.Field, "rule", le.Rule)
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
	slog.Error("request failed", "err", err)
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func operations(item *huma.PathItem) []*huma.Operation {
	return []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace}
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	public := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if op == nil {
				continue
			}
			if public[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Opsboard API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

var writeErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

var readErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*out[map[string]string], error) {
		return reply(map[string]string{"status": "ok"}), nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*out[WhoAmIResponse], error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		who, err := e.WhoAmI(ctx, principal.OwnerID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(WhoAmIResponse{
			OwnerID:     who.OwnerID,
			Name:        who.Name,
			Role:        who.Role,
			Elevated:    who.Elevated,
			Permissions: nonNilSlice(who.Permissions),
			Source:      principal.Source,
		}), nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*out[DevLoginResponse], error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		ownerID := strings.TrimSpace(input.Body.OwnerID)
		if ownerID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "owner_id is required", nil)
		}
		// Refuse tokens for unknown or inactive owners.
		if _, err := e.WhoAmI(ctx, ownerID); err != nil {
			return nil, handleError(err)
		}
		token, err := signDevToken(authCfg.JWTSecret, ownerID, time.Duration(input.Body.TTLMinutes)*time.Minute)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return reply(DevLoginResponse{Token: token}), nil
	})
}

func registerOwners(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-owners",
		Method:      http.MethodGet,
		Path:        "/owners",
		Summary:     "List owners",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		ActiveOnly bool `query:"active_only"`
	}) (*out[OwnerList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		owners, err := e.ListOwners(ctx, input.ActiveOnly, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(OwnerList{Items: nonNilSlice(owners)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-owner",
		Method:        http.MethodPost,
		Path:          "/owners",
		Summary:       "Create owner",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateOwnerRequest
	}) (*out[domain.Owner], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.CreateOwner(ctx, engine.OwnerCreateOptions{
			ID:      input.Body.ID,
			Name:    input.Body.Name,
			Role:    input.Body.Role,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(o), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-owner-active",
		Method:      http.MethodPost,
		Path:        "/owners/{owner_id}/active",
		Summary:     "Activate or deactivate an owner",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		OwnerID string `path:"owner_id"`
		Body    SetOwnerActiveRequest
	}) (*out[domain.Owner], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		o, err := e.SetOwnerActive(ctx, input.OwnerID, input.Body.Active, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(o), nil
	})
}

func registerChannels(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-channels",
		Method:      http.MethodGet,
		Path:        "/channels",
		Summary:     "List channels",
		Errors:      readErrors,
	}, func(ctx context.Context, _ *struct{}) (*out[ChannelList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		channels, err := e.ListChannels(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ChannelList{Items: nonNilSlice(channels)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-channel",
		Method:        http.MethodPost,
		Path:          "/channels",
		Summary:       "Create channel",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateChannelRequest
	}) (*out[domain.Channel], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateChannel(ctx, engine.ChannelCreateOptions{ID: input.Body.ID, Name: input.Body.Name, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(c), nil
	})
}

func registerTemplates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-templates",
		Method:      http.MethodGet,
		Path:        "/templates",
		Summary:     "List templates visible to the caller",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		OwnerID    string `query:"owner_id"`
		ChannelID  string `query:"channel_id"`
		ActiveOnly bool   `query:"active_only"`
	}) (*out[TemplateList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListVisibleTemplates(ctx, repo.TemplateFilters{
			OwnerID:    input.OwnerID,
			ChannelID:  input.ChannelID,
			ActiveOnly: input.ActiveOnly,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(TemplateList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-template",
		Method:        http.MethodPost,
		Path:          "/templates",
		Summary:       "Create recurring task template",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest
	}) (*out[domain.TaskTemplate], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		tpl, err := e.CreateTemplate(ctx, engine.TemplateCreateOptions{
			ID:               b.ID,
			Title:            b.Title,
			DoD:              b.DoD,
			Description:      b.Description,
			OwnerID:          b.OwnerID,
			ChannelID:        b.ChannelID,
			TimeOfDay:        b.TimeOfDay,
			Weekdays:         b.Weekdays,
			IsCritical:       b.IsCritical,
			EvidenceRequired: b.EvidenceRequired,
			PointsOnComplete: b.PointsOnComplete,
			PointsOnSkip:     b.PointsOnSkip,
			Inactive:         b.Inactive,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tpl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-template",
		Method:      http.MethodGet,
		Path:        "/templates/{template_id}",
		Summary:     "Get template",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
	}) (*out[domain.TaskTemplate], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tpl, err := e.GetTemplate(ctx, input.TemplateID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tpl), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-template",
		Method:      http.MethodPatch,
		Path:        "/templates/{template_id}",
		Summary:     "Update template; existing instances keep their copied fields",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		TemplateID string `path:"template_id"`
		Body       UpdateTemplateRequest
	}) (*out[domain.TaskTemplate], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		tpl, err := e.UpdateTemplate(ctx, input.TemplateID, engine.TemplateUpdateOptions{
			Title:            b.Title,
			DoD:              b.DoD,
			Description:      b.Description,
			OwnerID:          b.OwnerID,
			ChannelID:        b.ChannelID,
			TimeOfDay:        b.TimeOfDay,
			Weekdays:         b.Weekdays,
			IsCritical:       b.IsCritical,
			EvidenceRequired: b.EvidenceRequired,
			PointsOnComplete: b.PointsOnComplete,
			PointsOnSkip:     b.PointsOnSkip,
			IsActive:         b.IsActive,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(tpl), nil
	})
}

func registerMonths(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "apply-month",
		Method:      http.MethodPost,
		Path:        "/months/{month}/apply",
		Summary:     "Generate the month's task instances from active templates",
		Description: "Idempotent. Use `next` for the month after today in the board timezone.",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		Month string `path:"month" example:"2024-02"`
	}) (*out[ApplyMonthResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		month := input.Month
		switch month {
		case "next":
			month = calendar.NextMonthKey(e.Today())
		case "current":
			month = calendar.MonthKey(e.Today())
		}
		res, err := e.ApplyMonth(ctx, month, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(ApplyMonthResponse{Month: res.Month, Created: len(res.Created), Skipped: res.Skipped}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "month-summary",
		Method:      http.MethodGet,
		Path:        "/months/{month}/summary",
		Summary:     "Count the month's task instances by status",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Month string `path:"month" example:"2024-02"`
	}) (*out[MonthSummaryResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		month := input.Month
		switch month {
		case "next":
			month = calendar.NextMonthKey(e.Today())
		case "current":
			month = calendar.MonthKey(e.Today())
		}
		counts, err := e.MonthSummary(ctx, month, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(MonthSummaryResponse{Month: month, Counts: counts}), nil
	})
}

func registerInstances(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-instances",
		Method:      http.MethodGet,
		Path:        "/instances",
		Summary:     "List task instances visible to the caller",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Month   string `query:"month" example:"2024-02"`
		Date    string `query:"date" example:"2024-02-05"`
		OwnerID string `query:"owner_id"`
		Status  string `query:"status" example:"PENDING"`
		Limit   int    `query:"limit" minimum:"0" maximum:"500"`
		Cursor  string `query:"cursor"`
	}) (*out[engine.InstancePage], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, err := e.ListVisibleInstances(ctx, engine.InstanceQuery{
			Month:   input.Month,
			Date:    input.Date,
			OwnerID: input.OwnerID,
			Status:  input.Status,
			Limit:   input.Limit,
			Cursor:  input.Cursor,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		page.Items = nonNilSlice(page.Items)
		return reply(page), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-instance",
		Method:        http.MethodPost,
		Path:          "/instances",
		Summary:       "Create an ad-hoc task instance",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateInstanceRequest
	}) (*out[domain.TaskInstance], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		inst, err := e.CreateAdHocInstance(ctx, engine.AdHocOptions{
			Date:             b.Date,
			Title:            b.Title,
			DoD:              b.DoD,
			Description:      b.Description,
			OwnerID:          b.OwnerID,
			ChannelID:        b.ChannelID,
			TimeOfDay:        b.TimeOfDay,
			IsCritical:       b.IsCritical,
			EvidenceRequired: b.EvidenceRequired,
			PointsOnComplete: b.PointsOnComplete,
			PointsOnSkip:     b.PointsOnSkip,
			ActorID:          actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(inst), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-instance",
		Method:      http.MethodGet,
		Path:        "/instances/{instance_id}",
		Summary:     "Get task instance",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		InstanceID string `path:"instance_id"`
	}) (*out[domain.TaskInstance], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		inst, err := e.GetInstance(ctx, input.InstanceID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(inst), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-instance",
		Method:      http.MethodPost,
		Path:        "/instances/{instance_id}/complete",
		Summary:     "Mark a pending task done and book its points",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		InstanceID string `path:"instance_id"`
		Body       CompleteInstanceRequest `required:"false"`
	}) (*out[engine.TransitionResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CompleteInstance(ctx, input.InstanceID, input.Body.Evidence, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "skip-instance",
		Method:      http.MethodPost,
		Path:        "/instances/{instance_id}/skip",
		Summary:     "Skip a pending task with a reason and book its penalty",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		InstanceID string `path:"instance_id"`
		Body       SkipInstanceRequest `required:"false"`
	}) (*out[engine.TransitionResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.SkipInstance(ctx, input.InstanceID, input.Body.Reason, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

// dateRange builds a range from either month or from/to.
func dateRange(month, from, to string) (ledger.DateRange, error) {
	if month != "" {
		if from != "" || to != "" {
			return ledger.DateRange{}, engine.ValidationError{Field: "month", Message: "use either month or from/to"}
		}
		return ledger.MonthRange(month)
	}
	r := ledger.DateRange{From: from, To: to}
	return r, r.Validate()
}

func registerPoints(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "grant-points",
		Method:        http.MethodPost,
		Path:          "/points",
		Summary:       "Append a manual ledger entry",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body GrantPointsRequest
	}) (*out[domain.PointsEntry], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		entry, err := e.AppendPoints(ctx, engine.GrantOptions{
			OwnerID: input.Body.OwnerID,
			Date:    input.Body.Date,
			Amount:  input.Body.Amount,
			Reason:  input.Body.Reason,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(entry), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-points",
		Method:      http.MethodGet,
		Path:        "/points",
		Summary:     "List ledger entries",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		OwnerID    string `query:"owner_id"`
		SourceKind string `query:"source_kind"`
		Month      string `query:"month"`
		From       string `query:"from"`
		To         string `query:"to"`
		Limit      int    `query:"limit" minimum:"0"`
	}) (*out[PointsList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := dateRange(input.Month, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListPoints(ctx, repo.PointsFilters{
			OwnerID:    input.OwnerID,
			SourceKind: strings.ToUpper(input.SourceKind),
			Range:      r,
			Limit:      input.Limit,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(PointsList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "points-total",
		Method:      http.MethodGet,
		Path:        "/points/total",
		Summary:     "Sum an owner's points over a date range",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		OwnerID string `query:"owner_id"`
		Month   string `query:"month"`
		From    string `query:"from"`
		To      string `query:"to"`
	}) (*out[TotalResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := dateRange(input.Month, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		ownerID := input.OwnerID
		if ownerID == "" {
			ownerID = actorID
		}
		total, err := e.TotalFor(ctx, ownerID, r, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(TotalResponse{OwnerID: ownerID, Range: r, Total: total}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "points-ranking",
		Method:      http.MethodGet,
		Path:        "/points/ranking",
		Summary:     "Rank owners by total points, ties by owner id",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Month string `query:"month"`
		From  string `query:"from"`
		To    string `query:"to"`
	}) (*out[RankingResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		r, err := dateRange(input.Month, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		standings, err := e.Rank(ctx, r, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(RankingResponse{Range: r, Items: nonNilSlice(standings)}), nil
	})
}

func registerIncidents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-incidents",
		Method:      http.MethodGet,
		Path:        "/incidents",
		Summary:     "List incidents, newest first",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status" example:"OPEN"`
		OwnerID string `query:"owner_id"`
		Limit   int    `query:"limit" minimum:"0" maximum:"500"`
		Cursor  string `query:"cursor"`
	}) (*out[IncidentList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.IncidentFilters{Status: input.Status, OwnerID: input.OwnerID, Limit: input.Limit}
		if input.Cursor != "" {
			createdAt, id, ok := strings.Cut(input.Cursor, "|")
			if !ok || createdAt == "" || id == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "cursor must be created_at|id", nil)
			}
			f.CursorCreatedAt, f.CursorID = createdAt, id
		}
		items, err := e.ListIncidents(ctx, f, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := IncidentList{Items: nonNilSlice(items)}
		if input.Limit > 0 && len(items) == input.Limit {
			last := items[len(items)-1]
			res.NextCursor = last.CreatedAt + "|" + last.ID
		}
		return reply(res), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "open-incident",
		Method:        http.MethodPost,
		Path:          "/incidents",
		Summary:       "Open an incident",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateIncidentRequest
	}) (*out[domain.Incident], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		in, err := e.CreateIncident(ctx, engine.IncidentCreateOptions{
			Title:           b.Title,
			Description:     b.Description,
			OwnerID:         b.OwnerID,
			ChannelID:       b.ChannelID,
			Severity:        b.Severity,
			PointsOnResolve: b.PointsOnResolve,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return reply(in), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-incident",
		Method:      http.MethodPost,
		Path:        "/incidents/{incident_id}/resolve",
		Summary:     "Resolve an incident and credit its owner",
		Errors:      writeErrors,
	}, func(ctx context.Context, input *struct {
		IncidentID string `path:"incident_id"`
	}) (*out[engine.IncidentResolution], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ResolveIncident(ctx, input.IncidentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(res), nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit log, newest first",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
		Cursor     string `query:"cursor"`
	}) (*out[EventList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.EventFilters{Type: input.Type, EntityKind: input.EntityKind, EntityID: input.EntityID, Limit: input.Limit}
		if input.Cursor != "" {
			before, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || before <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "cursor must be an event id", nil)
			}
			f.Before = before
		}
		items, err := e.ListEvents(ctx, f, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := EventList{Items: nonNilSlice(items)}
		if input.Limit > 0 && len(items) == input.Limit {
			res.NextCursor = items[len(items)-1].ID
		}
		return reply(res), nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create an API key; the key is only returned once",
		DefaultStatus: http.StatusCreated,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest
	}) (*out[APIKeyResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, secret, err := e.CreateAPIKey(ctx, input.Body.OwnerID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(APIKeyResponse{ID: key.ID, OwnerID: key.OwnerID, Name: key.Name, Key: secret}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys; secrets are never returned",
		Errors:      readErrors,
	}, func(ctx context.Context, input *struct {
		OwnerID string `query:"owner_id"`
	}) (*out[APIKeyList], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, input.OwnerID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return reply(APIKeyList{Items: nonNilSlice(keys)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{key_id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        writeErrors,
	}, func(ctx context.Context, input *struct {
		KeyID string `path:"key_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, input.KeyID, actorID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}
