// Package earnings writes referral bonuses into the money ledger.
package earnings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/celvios/baobab-mlm-sub002/internal/domain/ledger"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/member"
	"github.com/celvios/baobab-mlm-sub002/internal/storage"
	"github.com/celvios/baobab-mlm-sub002/pkg/logger"
)

// ErrLedgerWrite wraps any failure while crediting a bonus. The caller must
// treat it as fatal for the surrounding transaction so the wallet, the
// transaction log and the earning records never diverge.
var ErrLedgerWrite = errors.New("ledger write failed")

// Writer applies bonuses against whatever Store it is handed, so the same
// instance works inside and outside transactions.
type Writer struct {
	log *logger.Logger
}

// NewWriter builds a ledger writer.
func NewWriter(log *logger.Logger) *Writer {
	if log == nil {
		log = logger.NewDefault("earnings")
	}
	return &Writer{log: log}
}

// ApplyBonus credits amount to the beneficiary's wallet and records the
// matching transaction and completed earning. All three writes must land in
// the same transaction; pass the transactional Store.
func (w *Writer) ApplyBonus(ctx context.Context, st storage.Store, beneficiaryID, sourceID string, stage member.Stage, amount ledger.Amount) (ledger.Transaction, ledger.Earning, error) {
	now := time.Now().UTC()

	if err := st.CreditEarnings(ctx, beneficiaryID, amount); err != nil {
		return ledger.Transaction{}, ledger.Earning{}, fmt.Errorf("%w: credit wallet %s: %v", ErrLedgerWrite, beneficiaryID, err)
	}

	tx, err := st.CreateTransaction(ctx, ledger.Transaction{
		MemberID:    beneficiaryID,
		Type:        ledger.TxMLMEarning,
		Amount:      amount,
		Description: fmt.Sprintf("%s matrix bonus from %s", stage, sourceID),
		CreatedAt:   now,
	})
	if err != nil {
		return ledger.Transaction{}, ledger.Earning{}, fmt.Errorf("%w: record transaction for %s: %v", ErrLedgerWrite, beneficiaryID, err)
	}

	earning, err := st.CreateEarning(ctx, ledger.Earning{
		BeneficiaryID:  beneficiaryID,
		SourceMemberID: sourceID,
		Stage:          stage,
		Amount:         amount,
		Status:         ledger.EarningCompleted,
		CreatedAt:      now,
	})
	if err != nil {
		return ledger.Transaction{}, ledger.Earning{}, fmt.Errorf("%w: record earning for %s: %v", ErrLedgerWrite, beneficiaryID, err)
	}

	w.log.WithField("beneficiary_id", beneficiaryID).
		WithField("source_member_id", sourceID).
		WithField("stage", string(stage)).
		WithField("amount", amount.String()).
		Debug("bonus applied")

	return tx, earning, nil
}
