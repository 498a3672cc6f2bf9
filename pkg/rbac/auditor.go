package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// AllowlistAuditor periodically reports how much the allowlist tier is
// still relied on, and complains once its sunset has passed.
type AllowlistAuditor struct {
	allowlist *AllowlistStrategy
	logger    *observability.Logger
	schedule  string
	cron      *cron.Cron
}

// NewAllowlistAuditor creates an auditor; schedule is a cron spec such as
// "@daily".
func NewAllowlistAuditor(allowlist *AllowlistStrategy, schedule string, logger *observability.Logger) *AllowlistAuditor {
	if schedule == "" {
		schedule = "@daily"
	}
	return &AllowlistAuditor{
		allowlist: allowlist,
		logger:    logger.WithField("component", "allowlist_auditor"),
		schedule:  schedule,
	}
}

// Report logs the grants issued since the previous report
func (a *AllowlistAuditor) Report() {
	if a.allowlist == nil || a.allowlist.Len() == 0 {
		return
	}

	grants := a.allowlist.TakeGrants()
	log := a.logger.WithFields(map[string]interface{}{
		"grants":  grants,
		"entries": a.allowlist.Len(),
	})
	if sunset := a.allowlist.Sunset(); !sunset.IsZero() {
		log = log.WithField("sunset", sunset.Format(time.RFC3339))
	}

	if a.allowlist.Expired() {
		log.Error("Admin allowlist is past its sunset but still configured; remove GATEHOUSE_ADMIN_ALLOWLIST")
		return
	}
	if grants > 0 {
		log.Warn("Admin access granted through the allowlist tier; migrate these accounts to role assignments")
		return
	}
	log.Info("Admin allowlist issued no grants")
}

// Start schedules Report
func (a *AllowlistAuditor) Start() error {
	a.cron = cron.New()
	if _, err := a.cron.AddFunc(a.schedule, a.Report); err != nil {
		return fmt.Errorf("failed to schedule allowlist audit %q: %w", a.schedule, err)
	}
	a.cron.Start()
	return nil
}

// Stop stops the schedule and waits for a running report to finish
func (a *AllowlistAuditor) Stop(ctx context.Context) error {
	if a.cron == nil {
		return nil
	}
	select {
	case <-a.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
