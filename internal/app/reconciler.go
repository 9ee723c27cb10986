/**
 * @description
 * Cron-driven ledger reconciliation. On each tick the job re-derives the sum of
 * per-account invested balances and compares it against the treasury aggregate,
 * exporting any drift as a gauge and logging it at error level. Drift should always
 * be zero; a non-zero reading means a bug or manual database surgery.
 */
package app

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Reconciler schedules periodic ledger invariant checks.
type Reconciler struct {
	cron     *cron.Cron
	service  *Service
	schedule string
}

// NewReconciler creates a reconciler running on the given cron schedule.
func NewReconciler(service *Service, schedule string) *Reconciler {
	cronLogger := cron.PrintfLogger(log.Default())
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Reconciler{
		cron:     c,
		service:  service,
		schedule: schedule,
	}
}

// Start registers the job and starts the scheduler.
func (r *Reconciler) Start() {
	if _, err := r.cron.AddFunc(r.schedule, r.runOnce); err != nil {
		log.Printf("level=error component=reconciler msg=\"failed to schedule reconciliation job\" schedule=%q error=%v", r.schedule, err)
		return
	}
	log.Printf("level=info component=reconciler msg=\"scheduled reconciliation job\" schedule=%q", r.schedule)
	r.cron.Start()
}

// Stop gracefully stops the scheduler.
func (r *Reconciler) Stop() context.Context {
	return r.cron.Stop()
}

func (r *Reconciler) runOnce() {
	if _, err := r.service.Reconcile(context.Background()); err != nil {
		log.Printf("level=error component=reconciler msg=\"reconciliation failed\" error=%v", err)
	}
}
