// Package reconcile audits the wallet totals against the earnings ledger.
package reconcile

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/celvios/baobab-mlm-sub002/internal/domain/ledger"
	"github.com/celvios/baobab-mlm-sub002/internal/metrics"
	"github.com/celvios/baobab-mlm-sub002/internal/storage"
	"github.com/celvios/baobab-mlm-sub002/pkg/logger"
)

// Drift is one wallet whose recorded total diverges from the sum of its
// completed earnings. Any drift means a payout transaction was broken.
type Drift struct {
	MemberID    string
	WalletTotal ledger.Amount
	LedgerTotal ledger.Amount
}

// Auditor recomputes TotalEarned from the earnings ledger for every wallet.
type Auditor struct {
	store storage.Store
	log   *logger.Logger
}

// NewAuditor builds a ledger auditor.
func NewAuditor(store storage.Store, log *logger.Logger) *Auditor {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	return &Auditor{store: store, log: log}
}

// Run audits every wallet and returns the drifted ones. The audit only
// reports; repairs stay a manual operation.
func (a *Auditor) Run(ctx context.Context) ([]Drift, error) {
	ids, err := a.store.ListWalletMemberIDs(ctx)
	if err != nil {
		metrics.RecordReconcileRun(false, 0)
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	var drifts []Drift
	for _, id := range ids {
		wallet, err := a.store.GetWallet(ctx, id)
		if err != nil {
			metrics.RecordReconcileRun(false, 0)
			return nil, fmt.Errorf("wallet %s: %w", id, err)
		}
		total, err := a.store.SumCompletedEarnings(ctx, id)
		if err != nil {
			metrics.RecordReconcileRun(false, 0)
			return nil, fmt.Errorf("sum earnings %s: %w", id, err)
		}
		if wallet.TotalEarned != total {
			d := Drift{MemberID: id, WalletTotal: wallet.TotalEarned, LedgerTotal: total}
			drifts = append(drifts, d)
			a.log.WithField("member_id", id).
				WithField("wallet_total", d.WalletTotal.String()).
				WithField("ledger_total", d.LedgerTotal.String()).
				Warn("wallet drifted from earnings ledger")
		}
	}

	metrics.RecordReconcileRun(true, len(drifts))
	a.log.WithField("wallets", len(ids)).WithField("drifted", len(drifts)).Info("reconciliation run finished")
	return drifts, nil
}

// Scheduler runs the auditor on a cron schedule.
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger
}

// NewScheduler validates the schedule and registers the audit job.
func NewScheduler(a *Auditor, schedule string, log *logger.Logger) (*Scheduler, error) {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if _, err := a.Run(context.Background()); err != nil {
			log.WithError(err).Error("scheduled reconciliation failed")
		}
	}); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", schedule, err)
	}
	return &Scheduler{cron: c, log: log}, nil
}

// Start launches the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("reconciliation scheduler started")
}

// Stop halts scheduling and waits for a running audit to finish or the
// context to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("reconciliation scheduler stopped")
}
