// Package notify carries stage-completion and bonus events to the outside
// world. Delivery is fire-and-forget: the placement transaction never waits
// on, or fails because of, a notification.
package notify

import (
	"context"
	"time"

	"github.com/celvios/baobab-mlm-sub002/pkg/logger"
)

// StageCompletedEvent is emitted when a matrix reaches full qualified
// capacity. PromotedTo is empty when the completed stage is terminal.
type StageCompletedEvent struct {
	MemberID    string    `json:"member_id"`
	Stage       string    `json:"stage"`
	PromotedTo  string    `json:"promoted_to,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// BonusEarnedEvent is emitted for every bonus credited to a wallet.
type BonusEarnedEvent struct {
	BeneficiaryID  string    `json:"beneficiary_id"`
	SourceMemberID string    `json:"source_member_id"`
	Stage          string    `json:"stage"`
	AmountCents    int64     `json:"amount_cents"`
	EarnedAt       time.Time `json:"earned_at"`
}

// Notifier publishes engine events to downstream consumers.
type Notifier interface {
	StageCompleted(ctx context.Context, ev StageCompletedEvent) error
	BonusEarned(ctx context.Context, ev BonusEarnedEvent) error
}

// LogNotifier writes events to the structured log. It is the default when
// no broker is configured.
type LogNotifier struct {
	log *logger.Logger
}

// NewLogNotifier builds a log-backed notifier.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewDefault("notify")
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) StageCompleted(_ context.Context, ev StageCompletedEvent) error {
	n.log.WithField("member_id", ev.MemberID).
		WithField("stage", ev.Stage).
		WithField("promoted_to", ev.PromotedTo).
		Info("stage completed")
	return nil
}

func (n *LogNotifier) BonusEarned(_ context.Context, ev BonusEarnedEvent) error {
	n.log.WithField("beneficiary_id", ev.BeneficiaryID).
		WithField("source_member_id", ev.SourceMemberID).
		WithField("stage", ev.Stage).
		WithField("amount_cents", ev.AmountCents).
		Info("bonus earned")
	return nil
}
