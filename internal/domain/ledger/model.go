// Package ledger defines wallet balances and the append-only earning
// records behind them.
package ledger

import (
	"fmt"
	"time"

	"github.com/celvios/baobab-mlm-sub002/internal/domain/member"
)

// Amount is a money value in cents. Fixed-point integers keep the
// wallet/ledger reconciliation invariant exact.
type Amount int64

// Cents builds an Amount from a cent count.
func Cents(v int64) Amount { return Amount(v) }

// String renders the amount as dollars, e.g. "$9.00".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s$%d.%02d", sign, v/100, v%100)
}

// Wallet aggregates a member's money state. TotalEarned must always equal
// the sum of that member's completed referral earnings.
type Wallet struct {
	MemberID       string
	Balance        Amount
	TotalEarned    Amount
	TotalWithdrawn Amount
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TransactionType tags ledger transactions.
type TransactionType string

const (
	TxMLMEarning TransactionType = "mlm_earning"
)

// Transaction is an immutable record of a wallet movement.
type Transaction struct {
	ID          string
	MemberID    string
	Type        TransactionType
	Amount      Amount
	Description string
	CreatedAt   time.Time
}

// EarningStatus tracks the lifecycle of a referral earning. Transitions go
// pending to completed and never reverse.
type EarningStatus string

const (
	EarningPending   EarningStatus = "pending"
	EarningCompleted EarningStatus = "completed"
)

// Earning is an append-only referral-earning ledger entry. Amount is fixed
// from the stage catalog at creation time.
type Earning struct {
	ID             string
	BeneficiaryID  string
	SourceMemberID string
	Stage          member.Stage
	Amount         Amount
	Status         EarningStatus
	CreatedAt      time.Time
}

// StageEarnings is an aggregate of completed earnings for one stage.
type StageEarnings struct {
	Stage  member.Stage
	Count  int
	Amount Amount
}
