// Package storage declares the persistence contracts the engine runs on.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/celvios/baobab-mlm-sub002/internal/domain/ledger"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/matrix"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/member"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// MemberStore persists participant records.
type MemberStore interface {
	CreateMember(ctx context.Context, m member.Member) (member.Member, error)
	GetMember(ctx context.Context, id string) (member.Member, error)
	UpdateMemberStage(ctx context.Context, id string, stage member.Stage) error
}

// MatrixStore persists stage matrices, positions, memberships and
// progression history.
type MatrixStore interface {
	CreateStageMatrix(ctx context.Context, sm matrix.StageMatrix) (matrix.StageMatrix, error)
	GetStageMatrix(ctx context.Context, memberID string, stage member.Stage) (matrix.StageMatrix, error)
	// GetStageMatrixForUpdate reads the matrix row under the exclusive
	// per-(member, stage) lock. Inside a transaction it serializes all
	// concurrent placements into that matrix until commit or rollback.
	GetStageMatrixForUpdate(ctx context.Context, memberID string, stage member.Stage) (matrix.StageMatrix, error)
	UpdateStageMatrixCounts(ctx context.Context, sm matrix.StageMatrix) error
	ListStageMatrices(ctx context.Context, memberID string) ([]matrix.StageMatrix, error)

	CreatePosition(ctx context.Context, p matrix.Position) (matrix.Position, error)
	GetPositionByMember(ctx context.Context, memberID string, stage member.Stage) (matrix.Position, error)
	ListPositions(ctx context.Context, sponsorID string, stage member.Stage) ([]matrix.Position, error)
	// ListOccupiedPaths snapshots the taken paths under a sponsor's matrix.
	ListOccupiedPaths(ctx context.Context, sponsorID string, stage member.Stage) (map[string]bool, error)

	CreateMembership(ctx context.Context, mm matrix.Membership) (matrix.Membership, error)
	GetMembership(ctx context.Context, id string) (matrix.Membership, error)
	ListMemberships(ctx context.Context, ownerID string, stage member.Stage) ([]matrix.Membership, error)
	// ListPendingMembershipsByMember returns the member's placements that
	// have not yet counted as qualified, across all owners and stages.
	ListPendingMembershipsByMember(ctx context.Context, memberID string) ([]matrix.Membership, error)
	// MarkMembershipQualified flips is_qualified to true. The flag is
	// monotonic; implementations must refuse to touch an already-qualified
	// row.
	MarkMembershipQualified(ctx context.Context, id string, at time.Time) error

	CreateProgression(ctx context.Context, p matrix.Progression) (matrix.Progression, error)
	ListProgressions(ctx context.Context, memberID string) ([]matrix.Progression, error)
}

// LedgerStore persists wallets and the append-only earning records.
type LedgerStore interface {
	CreateWallet(ctx context.Context, w ledger.Wallet) (ledger.Wallet, error)
	GetWallet(ctx context.Context, memberID string) (ledger.Wallet, error)
	// CreditEarnings adds amount to both Balance and TotalEarned.
	CreditEarnings(ctx context.Context, memberID string, amount ledger.Amount) error

	CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error)
	ListTransactions(ctx context.Context, memberID string, limit int) ([]ledger.Transaction, error)

	CreateEarning(ctx context.Context, e ledger.Earning) (ledger.Earning, error)
	EarningsByStage(ctx context.Context, beneficiaryID string) ([]ledger.StageEarnings, error)
	SumCompletedEarnings(ctx context.Context, beneficiaryID string) (ledger.Amount, error)

	ListWalletMemberIDs(ctx context.Context) ([]string, error)
}

// Store bundles every persistence contract the engine touches.
type Store interface {
	MemberStore
	MatrixStore
	LedgerStore
}

// TxStore is a Store that can scope work to a single ACID transaction. The
// Store handed to fn sees uncommitted writes; returning an error rolls the
// whole unit back with no partial state observable.
type TxStore interface {
	Store
	RunInTx(ctx context.Context, fn func(Store) error) error
}
