package api

import (
	"net/http"

	"bridgeguard/api/handlers"
	"bridgeguard/config"
	"bridgeguard/core/orchestrator"
	"bridgeguard/core/rbac"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"
	"bridgeguard/core/verification"

	"github.com/go-chi/chi/v5"
)

type Server struct {
	cfg       *config.AppConfig
	workflows store.WorkflowsStore
	audits    store.AuditStore
	orch      *orchestrator.Service
	verify    *verification.Service
	policy    *rbac.Policy
	logger    *utils.Logger
}

type ServerDeps struct {
	Cfg       *config.AppConfig
	Workflows store.WorkflowsStore
	Audits    store.AuditStore
	Orch      *orchestrator.Service
	Verify    *verification.Service
	Policy    *rbac.Policy
	Logger    *utils.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{
		cfg:       deps.Cfg,
		workflows: deps.Workflows,
		audits:    deps.Audits,
		orch:      deps.Orch,
		verify:    deps.Verify,
		policy:    deps.Policy,
		logger:    deps.Logger,
	}
}

type routeHandlers struct {
	signals      *handlers.SignalsHandler
	workflows    *handlers.WorkflowsHandler
	incidents    *handlers.IncidentsHandler
	verification *handlers.VerificationHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	return routeHandlers{
		signals:      handlers.NewSignalsHandler(s.orch, s.logger),
		workflows:    handlers.NewWorkflowsHandler(s.workflows, s.audits, s.orch, s.logger),
		incidents:    handlers.NewIncidentsHandler(s.cfg, s.workflows, s.orch, s.logger),
		verification: handlers.NewVerificationHandler(s.cfg, s.verify, s.logger),
	}
}

func (s *Server) Router() http.Handler {
	h := s.newRouteHandlers()
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware, s.jsonMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requirePermission(rbac.PermSignalsIngest)).
			Post("/events/asset-risk-computed", h.signals.RiskComputed)
		r.With(s.requirePermission(rbac.PermSignalsIngest)).
			Post("/events/asset-failure-predicted", h.signals.FailurePredicted)

		r.With(s.requirePermission(rbac.PermWorkflowsRead)).
			Get("/workflows", h.workflows.List)
		r.With(s.requirePermission(rbac.PermWorkflowsRead)).
			Get("/workflows/{workflow_id}", h.workflows.Get)
		r.With(s.requirePermission(rbac.PermWorkflowsRead)).
			Get("/workflows/{workflow_id}/events", h.workflows.Events)
		r.With(s.requirePermission(rbac.PermMaintenanceComplete)).
			Post("/workflows/{workflow_id}/maintenance/completed", h.workflows.MaintenanceCompleted)

		r.With(s.requirePermission(rbac.PermWorkflowsRead)).
			Get("/incidents", h.incidents.List)
		r.With(s.requirePermission(rbac.PermWorkflowsRead)).
			Get("/incidents/{workflow_id}", h.incidents.Get)
		r.With(s.requirePermission(rbac.PermIncidentsAck)).
			Post("/incidents/{workflow_id}/acknowledge", h.incidents.Acknowledge)

		r.With(s.requirePermission(rbac.PermVerificationManage)).
			Post("/maintenance/{maintenance_id}/verification/submit", h.verification.Submit)
		r.With(s.requirePermission(rbac.PermVerificationManage)).
			Post("/maintenance/{maintenance_id}/verification/track", h.verification.Track)
		r.With(s.requirePermission(rbac.PermWorkflowsRead)).
			Get("/maintenance/{maintenance_id}/verification/state", h.verification.State)
	})

	return r
}
