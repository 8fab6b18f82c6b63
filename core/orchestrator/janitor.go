package orchestrator

import (
	"context"

	"bridgeguard/config"
	"bridgeguard/core/store"
	"bridgeguard/core/utils"

	"github.com/robfig/cron/v3"
)

// Janitor prunes stale asset forecasts on a cron schedule. Forecasts
// older than the retention window can no longer raise the effective
// failure probability and only accumulate.
type Janitor struct {
	cfg    *config.AppConfig
	store  store.WorkflowsStore
	logger *utils.Logger
	cron   *cron.Cron
}

func NewJanitor(cfg *config.AppConfig, ws store.WorkflowsStore, logger *utils.Logger) *Janitor {
	return &Janitor{cfg: cfg, store: ws, logger: logger, cron: cron.New()}
}

func (j *Janitor) Start() {
	schedule := j.cfg.Retention.ForecastCron
	if schedule == "" {
		schedule = "@hourly"
	}
	if _, err := j.cron.AddFunc(schedule, j.pruneForecasts); err != nil {
		j.logger.Errorf("janitor: invalid cron schedule %q: %v", schedule, err)
		return
	}
	j.cron.Start()
}

func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) pruneForecasts() {
	cutoff := utils.NowUTC().Add(-j.cfg.Retention.ForecastMaxAge())
	n, err := j.store.DeleteForecastsBefore(context.Background(), cutoff)
	if err != nil {
		j.logger.Errorf("janitor: prune forecasts: %v", err)
		return
	}
	if n > 0 {
		j.logger.Infof("janitor: pruned %d stale forecasts", n)
	}
}
