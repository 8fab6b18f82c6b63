package appbootstrap

import (
	"bridgeguard/api"
	"bridgeguard/config"
	"bridgeguard/core/clients"
	"bridgeguard/core/orchestrator"
	"bridgeguard/core/rbac"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"
	"bridgeguard/core/verification"
)

// Worker is a background component with its own lifecycle.
type Worker interface {
	Start()
	Stop()
}

type RuntimeComposition struct {
	ServerDeps api.ServerDeps
	Workers    []Worker
}

// ComposeRuntime wires the stores, collaborator clients and services
// into the HTTP server dependencies and the background workers.
func ComposeRuntime(cfg *config.AppConfig, db *store.DB, logger *utils.Logger) (*RuntimeComposition, error) {
	workflows := store.NewWorkflowsStore(db)
	audits := store.NewAuditStore(db)

	timeout := cfg.Collaborators.Timeout()
	runner := clients.NewHTTPCommandRunner(cfg.Collaborators.RuntimeBaseURL, timeout)
	notifier := clients.NewHTTPNotificationSender(cfg.Collaborators.NotifierBaseURL, timeout)
	reports := clients.NewHTTPReportsClient(cfg.Collaborators.ReportsBaseURL, timeout)
	chain := clients.NewHTTPChainClient(cfg.Collaborators.ChainBaseURL, timeout)

	policy, err := rbac.NewPolicy()
	if err != nil {
		return nil, err
	}
	orchSvc := orchestrator.NewService(cfg, workflows, audits, runner, notifier, reports, logger)
	verifySvc := verification.NewService(cfg, workflows, audits, reports, chain, logger)
	engine := orchestrator.NewEscalationEngine(cfg, workflows, audits, notifier, logger)
	janitor := orchestrator.NewJanitor(cfg, workflows, logger)

	return &RuntimeComposition{
		ServerDeps: api.ServerDeps{
			Cfg:       cfg,
			Workflows: workflows,
			Audits:    audits,
			Orch:      orchSvc,
			Verify:    verifySvc,
			Policy:    policy,
			Logger:    logger,
		},
		Workers: []Worker{engine, janitor},
	}, nil
}
