// Package memory is an in-memory implementation of the storage contracts.
// It is safe for concurrent use and intended for tests and local
// development; a single mutex serializes transactions, which trivially
// satisfies the per-(sponsor, stage) locking requirement.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/celvios/baobab-mlm-sub002/internal/domain/ledger"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/matrix"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/member"
	"github.com/celvios/baobab-mlm-sub002/internal/storage"
)

// Store implements storage.TxStore over maps. Transactions snapshot the
// tables up front and restore them on error, so a failed unit of work
// leaves no partial state, matching the SQL implementation.
type Store struct {
	mu sync.Mutex
	t  *tables
}

var _ storage.TxStore = (*Store)(nil)

type tables struct {
	members      map[string]member.Member
	matrices     map[string]matrix.StageMatrix // memberID/stage
	positions    map[string]matrix.Position    // memberID/stage
	memberships  map[string]matrix.Membership  // by ID
	progressions []matrix.Progression
	wallets      map[string]ledger.Wallet
	transactions []ledger.Transaction
	earnings     []ledger.Earning
}

func newTables() *tables {
	return &tables{
		members:     make(map[string]member.Member),
		matrices:    make(map[string]matrix.StageMatrix),
		positions:   make(map[string]matrix.Position),
		memberships: make(map[string]matrix.Membership),
		wallets:     make(map[string]ledger.Wallet),
	}
}

func (t *tables) clone() *tables {
	c := &tables{
		members:      make(map[string]member.Member, len(t.members)),
		matrices:     make(map[string]matrix.StageMatrix, len(t.matrices)),
		positions:    make(map[string]matrix.Position, len(t.positions)),
		memberships:  make(map[string]matrix.Membership, len(t.memberships)),
		progressions: append([]matrix.Progression(nil), t.progressions...),
		wallets:      make(map[string]ledger.Wallet, len(t.wallets)),
		transactions: append([]ledger.Transaction(nil), t.transactions...),
		earnings:     append([]ledger.Earning(nil), t.earnings...),
	}
	for k, v := range t.members {
		c.members[k] = v
	}
	for k, v := range t.matrices {
		c.matrices[k] = v
	}
	for k, v := range t.positions {
		c.positions[k] = v
	}
	for k, v := range t.memberships {
		c.memberships[k] = v
	}
	for k, v := range t.wallets {
		c.wallets[k] = v
	}
	return c
}

func matrixKey(memberID string, stage member.Stage) string {
	return memberID + "/" + string(stage)
}

// New creates an empty store.
func New() *Store {
	return &Store{t: newTables()}
}

// RunInTx serializes the unit of work under the store mutex and rolls the
// tables back if fn fails.
func (s *Store) RunInTx(_ context.Context, fn func(storage.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.t.clone()
	if err := fn(&view{t: s.t}); err != nil {
		s.t = snapshot
		return err
	}
	return nil
}

// view implements storage.Store directly over the tables. It assumes the
// store mutex is held by its creator.
type view struct {
	t *tables
}

var _ storage.Store = (*view)(nil)

// --- MemberStore ------------------------------------------------------------

func (v *view) CreateMember(_ context.Context, m member.Member) (member.Member, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	} else if _, exists := v.t.members[m.ID]; exists {
		return member.Member{}, fmt.Errorf("member %s already exists", m.ID)
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Stage == "" {
		m.Stage = member.StageNone
	}
	v.t.members[m.ID] = m
	return m, nil
}

func (v *view) GetMember(_ context.Context, id string) (member.Member, error) {
	m, ok := v.t.members[id]
	if !ok {
		return member.Member{}, fmt.Errorf("member %s: %w", id, storage.ErrNotFound)
	}
	return m, nil
}

func (v *view) UpdateMemberStage(_ context.Context, id string, stage member.Stage) error {
	m, ok := v.t.members[id]
	if !ok {
		return fmt.Errorf("member %s: %w", id, storage.ErrNotFound)
	}
	m.Stage = stage
	m.UpdatedAt = time.Now().UTC()
	v.t.members[id] = m
	return nil
}

// --- MatrixStore ------------------------------------------------------------

func (v *view) CreateStageMatrix(_ context.Context, sm matrix.StageMatrix) (matrix.StageMatrix, error) {
	key := matrixKey(sm.MemberID, sm.Stage)
	if _, exists := v.t.matrices[key]; exists {
		return matrix.StageMatrix{}, fmt.Errorf("stage matrix %s already exists", key)
	}
	if sm.ID == "" {
		sm.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = now
	}
	sm.UpdatedAt = now
	v.t.matrices[key] = sm
	return sm, nil
}

func (v *view) GetStageMatrix(_ context.Context, memberID string, stage member.Stage) (matrix.StageMatrix, error) {
	sm, ok := v.t.matrices[matrixKey(memberID, stage)]
	if !ok {
		return matrix.StageMatrix{}, fmt.Errorf("stage matrix %s/%s: %w", memberID, stage, storage.ErrNotFound)
	}
	return sm, nil
}

// GetStageMatrixForUpdate is equivalent to GetStageMatrix here: the store
// mutex already serializes every transaction.
func (v *view) GetStageMatrixForUpdate(ctx context.Context, memberID string, stage member.Stage) (matrix.StageMatrix, error) {
	return v.GetStageMatrix(ctx, memberID, stage)
}

func (v *view) UpdateStageMatrixCounts(_ context.Context, sm matrix.StageMatrix) error {
	key := matrixKey(sm.MemberID, sm.Stage)
	existing, ok := v.t.matrices[key]
	if !ok {
		return fmt.Errorf("stage matrix %s: %w", key, storage.ErrNotFound)
	}
	existing.SlotsFilled = sm.SlotsFilled
	existing.QualifiedSlotsFilled = sm.QualifiedSlotsFilled
	existing.IsComplete = sm.IsComplete
	existing.UpdatedAt = time.Now().UTC()
	v.t.matrices[key] = existing
	return nil
}

func (v *view) ListStageMatrices(_ context.Context, memberID string) ([]matrix.StageMatrix, error) {
	var out []matrix.StageMatrix
	for _, sm := range v.t.matrices {
		if sm.MemberID == memberID {
			out = append(out, sm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage.Order() < out[j].Stage.Order() })
	return out, nil
}

func (v *view) CreatePosition(_ context.Context, p matrix.Position) (matrix.Position, error) {
	key := matrixKey(p.MemberID, p.Stage)
	if _, exists := v.t.positions[key]; exists {
		return matrix.Position{}, fmt.Errorf("position for %s already exists", key)
	}
	for _, other := range v.t.positions {
		if other.SponsorID == p.SponsorID && other.Stage == p.Stage && other.Path == p.Path {
			return matrix.Position{}, fmt.Errorf("path %s under %s/%s already occupied", p.Path, p.SponsorID, p.Stage)
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	v.t.positions[key] = p
	return p, nil
}

func (v *view) GetPositionByMember(_ context.Context, memberID string, stage member.Stage) (matrix.Position, error) {
	p, ok := v.t.positions[matrixKey(memberID, stage)]
	if !ok {
		return matrix.Position{}, fmt.Errorf("position %s/%s: %w", memberID, stage, storage.ErrNotFound)
	}
	return p, nil
}

func (v *view) ListPositions(_ context.Context, sponsorID string, stage member.Stage) ([]matrix.Position, error) {
	var out []matrix.Position
	for _, p := range v.t.positions {
		if p.SponsorID == sponsorID && p.Stage == stage {
			out = append(out, p)
		}
	}
	// Lexicographic path order is pre-order for the L/R alphabet.
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (v *view) ListOccupiedPaths(ctx context.Context, sponsorID string, stage member.Stage) (map[string]bool, error) {
	positions, err := v.ListPositions(ctx, sponsorID, stage)
	if err != nil {
		return nil, err
	}
	occupied := make(map[string]bool, len(positions))
	for _, p := range positions {
		occupied[p.Path] = true
	}
	return occupied, nil
}

func (v *view) CreateMembership(_ context.Context, mm matrix.Membership) (matrix.Membership, error) {
	for _, other := range v.t.memberships {
		if other.MatrixOwnerID == mm.MatrixOwnerID && other.Stage == mm.Stage && other.MemberID == mm.MemberID {
			return matrix.Membership{}, fmt.Errorf("membership %s/%s/%s already exists", mm.MatrixOwnerID, mm.Stage, mm.MemberID)
		}
	}
	if mm.ID == "" {
		mm.ID = uuid.NewString()
	}
	if mm.CreatedAt.IsZero() {
		mm.CreatedAt = time.Now().UTC()
	}
	v.t.memberships[mm.ID] = mm
	return mm, nil
}

func (v *view) GetMembership(_ context.Context, id string) (matrix.Membership, error) {
	mm, ok := v.t.memberships[id]
	if !ok {
		return matrix.Membership{}, fmt.Errorf("membership %s: %w", id, storage.ErrNotFound)
	}
	return mm, nil
}

func (v *view) ListMemberships(_ context.Context, ownerID string, stage member.Stage) ([]matrix.Membership, error) {
	var out []matrix.Membership
	for _, mm := range v.t.memberships {
		if mm.MatrixOwnerID == ownerID && mm.Stage == stage {
			out = append(out, mm)
		}
	}
	sortMemberships(out)
	return out, nil
}

func (v *view) ListPendingMembershipsByMember(_ context.Context, memberID string) ([]matrix.Membership, error) {
	var out []matrix.Membership
	for _, mm := range v.t.memberships {
		if mm.MemberID == memberID && !mm.IsQualified {
			out = append(out, mm)
		}
	}
	sortMemberships(out)
	return out, nil
}

func (v *view) MarkMembershipQualified(_ context.Context, id string, at time.Time) error {
	mm, ok := v.t.memberships[id]
	if !ok || mm.IsQualified {
		return fmt.Errorf("pending membership %s: %w", id, storage.ErrNotFound)
	}
	mm.IsQualified = true
	mm.QualifiedAt = at
	v.t.memberships[id] = mm
	return nil
}

func (v *view) CreateProgression(_ context.Context, p matrix.Progression) (matrix.Progression, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	v.t.progressions = append(v.t.progressions, p)
	return p, nil
}

func (v *view) ListProgressions(_ context.Context, memberID string) ([]matrix.Progression, error) {
	var out []matrix.Progression
	for _, p := range v.t.progressions {
		if p.MemberID == memberID {
			out = append(out, p)
		}
	}
	return out, nil
}

// --- LedgerStore ------------------------------------------------------------

func (v *view) CreateWallet(_ context.Context, w ledger.Wallet) (ledger.Wallet, error) {
	if _, exists := v.t.wallets[w.MemberID]; exists {
		return ledger.Wallet{}, fmt.Errorf("wallet %s already exists", w.MemberID)
	}
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now
	v.t.wallets[w.MemberID] = w
	return w, nil
}

func (v *view) GetWallet(_ context.Context, memberID string) (ledger.Wallet, error) {
	w, ok := v.t.wallets[memberID]
	if !ok {
		return ledger.Wallet{}, fmt.Errorf("wallet %s: %w", memberID, storage.ErrNotFound)
	}
	return w, nil
}

func (v *view) CreditEarnings(_ context.Context, memberID string, amount ledger.Amount) error {
	w, ok := v.t.wallets[memberID]
	if !ok {
		return fmt.Errorf("wallet %s: %w", memberID, storage.ErrNotFound)
	}
	w.Balance += amount
	w.TotalEarned += amount
	w.UpdatedAt = time.Now().UTC()
	v.t.wallets[memberID] = w
	return nil
}

func (v *view) CreateTransaction(_ context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	v.t.transactions = append(v.t.transactions, tx)
	return tx, nil
}

func (v *view) ListTransactions(_ context.Context, memberID string, limit int) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for i := len(v.t.transactions) - 1; i >= 0; i-- {
		if v.t.transactions[i].MemberID == memberID {
			out = append(out, v.t.transactions[i])
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (v *view) CreateEarning(_ context.Context, e ledger.Earning) (ledger.Earning, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	v.t.earnings = append(v.t.earnings, e)
	return e, nil
}

func (v *view) EarningsByStage(_ context.Context, beneficiaryID string) ([]ledger.StageEarnings, error) {
	byStage := make(map[member.Stage]*ledger.StageEarnings)
	for _, e := range v.t.earnings {
		if e.BeneficiaryID != beneficiaryID || e.Status != ledger.EarningCompleted {
			continue
		}
		agg, ok := byStage[e.Stage]
		if !ok {
			agg = &ledger.StageEarnings{Stage: e.Stage}
			byStage[e.Stage] = agg
		}
		agg.Count++
		agg.Amount += e.Amount
	}
	var out []ledger.StageEarnings
	for _, agg := range byStage {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage.Order() < out[j].Stage.Order() })
	return out, nil
}

func (v *view) SumCompletedEarnings(_ context.Context, beneficiaryID string) (ledger.Amount, error) {
	var total ledger.Amount
	for _, e := range v.t.earnings {
		if e.BeneficiaryID == beneficiaryID && e.Status == ledger.EarningCompleted {
			total += e.Amount
		}
	}
	return total, nil
}

func (v *view) ListWalletMemberIDs(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(v.t.wallets))
	for id := range v.t.wallets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func sortMemberships(ms []matrix.Membership) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].ID < ms[j].ID
		}
		return ms[i].CreatedAt.Before(ms[j].CreatedAt)
	})
}

// --- Locked pass-throughs ----------------------------------------------------

func (s *Store) locked() *view {
	return &view{t: s.t}
}

func (s *Store) CreateMember(ctx context.Context, m member.Member) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().CreateMember(ctx, m)
}

func (s *Store) GetMember(ctx context.Context, id string) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().GetMember(ctx, id)
}

func (s *Store) UpdateMemberStage(ctx context.Context, id string, stage member.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().UpdateMemberStage(ctx, id, stage)
}

func (s *Store) CreateStageMatrix(ctx context.Context, sm matrix.StageMatrix) (matrix.StageMatrix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().CreateStageMatrix(ctx, sm)
}

func (s *Store) GetStageMatrix(ctx context.Context, memberID string, stage member.Stage) (matrix.StageMatrix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().GetStageMatrix(ctx, memberID, stage)
}

func (s *Store) GetStageMatrixForUpdate(ctx context.Context, memberID string, stage member.Stage) (matrix.StageMatrix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().GetStageMatrixForUpdate(ctx, memberID, stage)
}

func (s *Store) UpdateStageMatrixCounts(ctx context.Context, sm matrix.StageMatrix) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().UpdateStageMatrixCounts(ctx, sm)
}

func (s *Store) ListStageMatrices(ctx context.Context, memberID string) ([]matrix.StageMatrix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().ListStageMatrices(ctx, memberID)
}

func (s *Store) CreatePosition(ctx context.Context, p matrix.Position) (matrix.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().CreatePosition(ctx, p)
}

func (s *Store) GetPositionByMember(ctx context.Context, memberID string, stage member.Stage) (matrix.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().GetPositionByMember(ctx, memberID, stage)
}

func (s *Store) ListPositions(ctx context.Context, sponsorID string, stage member.Stage) ([]matrix.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().ListPositions(ctx, sponsorID, stage)
}

func (s *Store) ListOccupiedPaths(ctx context.Context, sponsorID string, stage member.Stage) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().ListOccupiedPaths(ctx, sponsorID, stage)
}

func (s *Store) CreateMembership(ctx context.Context, mm matrix.Membership) (matrix.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().CreateMembership(ctx, mm)
}

func (s *Store) GetMembership(ctx context.Context, id string) (matrix.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().GetMembership(ctx, id)
}

func (s *Store) ListMemberships(ctx context.Context, ownerID string, stage member.Stage) ([]matrix.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().ListMemberships(ctx, ownerID, stage)
}

func (s *Store) ListPendingMembershipsByMember(ctx context.Context, memberID string) ([]matrix.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().ListPendingMembershipsByMember(ctx, memberID)
}

func (s *Store) MarkMembershipQualified(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().MarkMembershipQualified(ctx, id, at)
}

func (s *Store) CreateProgression(ctx context.Context, p matrix.Progression) (matrix.Progression, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().CreateProgression(ctx, p)
}

func (s *Store) ListProgressions(ctx context.Context, memberID string) ([]matrix.Progression, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().ListProgressions(ctx, memberID)
}

func (s *Store) CreateWallet(ctx context.Context, w ledger.Wallet) (ledger.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().CreateWallet(ctx, w)
}

func (s *Store) GetWallet(ctx context.Context, memberID string) (ledger.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().GetWallet(ctx, memberID)
}

func (s *Store) CreditEarnings(ctx context.Context, memberID string, amount ledger.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().CreditEarnings(ctx, memberID, amount)
}

func (s *Store) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().CreateTransaction(ctx, tx)
}

func (s *Store) ListTransactions(ctx context.Context, memberID string, limit int) ([]ledger.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().ListTransactions(ctx, memberID, limit)
}

func (s *Store) CreateEarning(ctx context.Context, e ledger.Earning) (ledger.Earning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().CreateEarning(ctx, e)
}

func (s *Store) EarningsByStage(ctx context.Context, beneficiaryID string) ([]ledger.StageEarnings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().EarningsByStage(ctx, beneficiaryID)
}

func (s *Store) SumCompletedEarnings(ctx context.Context, beneficiaryID string) (ledger.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().SumCompletedEarnings(ctx, beneficiaryID)
}

func (s *Store) ListWalletMemberIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked().ListWalletMemberIDs(ctx)
}
