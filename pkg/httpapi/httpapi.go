// Package httpapi is the HTTP/JSON surface of §6: a thin echo layer that
// binds requests, resolves tenancy/authorization/quota through the
// collaborator boundary, and calls straight into the Pipeline Orchestrator.
// Grounded on pkg/server/server.go's echo.Group wiring and JSON error-body
// convention.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/docker/contex/pkg/collaborator"
	"github.com/docker/contex/pkg/contexerr"
	"github.com/docker/contex/pkg/orchestrator"
)

// Server is the HTTP surface over an Orchestrator.
type Server struct {
	e    *echo.Echo
	orch *orchestrator.Orchestrator

	tenants  collaborator.TenantResolver
	authz    collaborator.Authorizer
	quota    collaborator.QuotaChecker
	metrics  collaborator.MetricsSink
	audit    collaborator.AuditSink
}

// Opt customizes a Server's collaborator wiring; the zero value of each
// slot is the permissive default from pkg/collaborator.
type Opt func(*Server)

func WithTenantResolver(r collaborator.TenantResolver) Opt { return func(s *Server) { s.tenants = r } }
func WithAuthorizer(a collaborator.Authorizer) Opt         { return func(s *Server) { s.authz = a } }
func WithQuotaChecker(q collaborator.QuotaChecker) Opt     { return func(s *Server) { s.quota = q } }
func WithMetricsSink(m collaborator.MetricsSink) Opt       { return func(s *Server) { s.metrics = m } }
func WithAuditSink(a collaborator.AuditSink) Opt           { return func(s *Server) { s.audit = a } }

func New(orch *orchestrator.Orchestrator, opts ...Opt) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{
		e:       e,
		orch:    orch,
		tenants: collaborator.NewPermissiveTenantResolver(),
		authz:   collaborator.NewAllowAllAuthorizer(),
		quota:   collaborator.NewUnlimitedQuotaChecker(),
		metrics: collaborator.NewNoopMetricsSink(),
		audit:   collaborator.NewNoopAuditSink(),
	}
	for _, opt := range opts {
		opt(s)
	}

	group := e.Group("")
	group.POST("/data/publish", s.publishData)
	group.POST("/agents/register", s.registerAgent)
	group.DELETE("/agents/:id", s.unregisterAgent)
	group.POST("/projects/:id/query", s.queryProject)
	group.GET("/projects/:id/events", s.projectEvents)
	group.GET("/projects/:id/data", s.projectData)

	return s
}

func (s *Server) Handler() http.Handler { return s.e }

// guard resolves tenancy and renders the authorization/quota verdict for
// op, writing an error response and returning ok=false if either collaborator
// rejects the request.
func (s *Server) guard(c echo.Context, op collaborator.Op) (tenant string, ok bool) {
	ctx := c.Request().Context()
	identity := collaborator.Identity(c.Request().Header.Get("X-Contex-Identity"))

	tenant, err := s.tenants.Resolve(ctx, identity)
	if err != nil {
		writeError(c, contexerr.Unauthorized("httpapi: resolve tenant", err))
		return "", false
	}

	allowed, err := s.authz.Allow(ctx, identity, op)
	if err != nil {
		writeError(c, contexerr.Unauthorized("httpapi: authorize", err))
		return "", false
	}
	if !allowed {
		writeError(c, contexerr.Unauthorized("httpapi: authorize", errors.New("not allowed")))
		s.audit.Record(ctx, collaborator.AuditRecord{Event: string(op), Actor: identity, Result: "denied"})
		return "", false
	}

	if err := s.quota.Check(ctx, tenant, op); err != nil {
		writeError(c, contexerr.Quota("httpapi: quota", err))
		return "", false
	}

	return tenant, true
}

type publishRequest struct {
	ProjectID  string `json:"project_id"`
	DataKey    string `json:"data_key"`
	Data       any    `json:"data"`
	DataFormat string `json:"data_format"`
	EventType  string `json:"event_type"`
}

func (s *Server) publishData(c echo.Context) error {
	if _, ok := s.guard(c, collaborator.OpPublish); !ok {
		return nil
	}

	var req publishRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, contexerr.Validation("httpapi: bind publish request", err))
	}
	if req.ProjectID == "" || req.DataKey == "" {
		return writeError(c, contexerr.Validation("httpapi: publish", errors.New("project_id and data_key are required")))
	}

	raw, err := marshalDataField(req.Data)
	if err != nil {
		return writeError(c, contexerr.Validation("httpapi: publish data field", err))
	}

	seq, err := s.orch.PublishData(c.Request().Context(), req.ProjectID, req.DataKey, raw, req.DataFormat, req.EventType)
	if err != nil {
		return writeError(c, err)
	}

	s.metrics.IncCounter("events_published", map[string]string{"project": req.ProjectID})
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "published",
		"project_id": req.ProjectID,
		"data_key":   req.DataKey,
		"sequence":   seq,
	})
}

type registerRequest struct {
	AgentID             string   `json:"agent_id"`
	ProjectID           string   `json:"project_id"`
	DataNeeds           []string `json:"data_needs"`
	LastSeenSequence    int64    `json:"last_seen_sequence"`
	ResponseFormat      string   `json:"response_format"`
	NotificationMethod  string   `json:"notification_method"`
	NotificationChannel string   `json:"notification_channel"`
	WebhookURL          string   `json:"webhook_url"`
	WebhookSecret       string   `json:"webhook_secret"`
}

func (s *Server) registerAgent(c echo.Context) error {
	if _, ok := s.guard(c, collaborator.OpRegister); !ok {
		return nil
	}

	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, contexerr.Validation("httpapi: bind register request", err))
	}
	if req.AgentID == "" || req.ProjectID == "" || len(req.DataNeeds) == 0 {
		return writeError(c, contexerr.Validation("httpapi: register", errors.New("agent_id, project_id and data_needs are required")))
	}

	resp, err := s.orch.RegisterAgent(c.Request().Context(), orchestrator.AgentRegistration{
		AgentID:             req.AgentID,
		ProjectID:           req.ProjectID,
		DataNeeds:           req.DataNeeds,
		LastSeenSequence:    req.LastSeenSequence,
		ResponseFormat:      req.ResponseFormat,
		NotificationMethod:  req.NotificationMethod,
		NotificationChannel: req.NotificationChannel,
		WebhookURL:          req.WebhookURL,
		WebhookSecret:       req.WebhookSecret,
	})
	if err != nil {
		return writeError(c, err)
	}

	s.metrics.IncCounter("agents_registered", map[string]string{"project": req.ProjectID})
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) unregisterAgent(c echo.Context) error {
	if _, ok := s.guard(c, collaborator.OpRegister); !ok {
		return nil
	}
	s.orch.UnregisterAgent(c.Param("id"))
	return c.JSON(http.StatusOK, map[string]string{"status": "unregistered", "agent_id": c.Param("id")})
}

type queryRequest struct {
	Query          string  `json:"query"`
	TopK           int     `json:"top_k"`
	Threshold      float64 `json:"threshold"`
	MaxTokens      int     `json:"max_tokens"`
	ResponseFormat string  `json:"response_format"`
}

func (s *Server) queryProject(c echo.Context) error {
	if _, ok := s.guard(c, collaborator.OpQuery); !ok {
		return nil
	}

	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, contexerr.Validation("httpapi: bind query request", err))
	}
	if req.Query == "" {
		return writeError(c, contexerr.Validation("httpapi: query", errors.New("query is required")))
	}
	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}

	result, err := s.orch.Query(c.Request().Context(), c.Param("id"), req.Query, topK, req.Threshold, req.MaxTokens)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"matches": result.Matches})
}

func (s *Server) projectEvents(c echo.Context) error {
	if _, ok := s.guard(c, collaborator.OpEvents); !ok {
		return nil
	}

	since, err := parseInt64Query(c, "since", 0)
	if err != nil {
		return writeError(c, contexerr.Validation("httpapi: since", err))
	}
	count, err := parseIntQuery(c, "count", 100)
	if err != nil {
		return writeError(c, contexerr.Validation("httpapi: count", err))
	}

	events, err := s.orch.EventRange(c.Request().Context(), c.Param("id"), since, count)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

func (s *Server) projectData(c echo.Context) error {
	if _, ok := s.guard(c, collaborator.OpData); !ok {
		return nil
	}

	keys, err := s.orch.DataKeys(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data_keys": keys})
}

// marshalDataField re-encodes the already-decoded JSON value of the
// request's data field back to bytes, since the Node Parser consumes raw
// bytes plus a format hint rather than a pre-decoded any. The bytes are
// always valid JSON, so a data_format of "json" is always satisfied; an
// omitted data_format is passed on as an empty hint and the chain sniffs.
func marshalDataField(v any) ([]byte, error) {
	return json.Marshal(v)
}

func parseIntQuery(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func parseInt64Query(c echo.Context, name string, def int64) (int64, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// writeError maps a contexerr.Error (or any other error) to an HTTP status
// and a JSON error body, logging 5xx-class failures.
func writeError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	if kind, ok := contexerr.KindOf(err); ok {
		if kind.StatusClass() == 4 {
			status = statusFor(kind)
		} else {
			slog.Error("httpapi: request failed", "kind", kind.String(), "error", err)
		}
	} else {
		slog.Error("httpapi: request failed", "error", err)
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}

func statusFor(kind contexerr.Kind) int {
	switch kind {
	case contexerr.KindNotFound:
		return http.StatusNotFound
	case contexerr.KindUnauthorized:
		return http.StatusUnauthorized
	case contexerr.KindQuota:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}
