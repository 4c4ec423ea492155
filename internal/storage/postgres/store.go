// Package postgres is the production implementation of the storage
// contracts on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/celvios/baobab-mlm-sub002/internal/domain/ledger"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/matrix"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/member"
	"github.com/celvios/baobab-mlm-sub002/internal/storage"
)

// querier is the subset of sqlx shared by *sqlx.DB and *sqlx.Tx, so every
// query below runs identically inside and outside a transaction.
type querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// Store implements storage.TxStore on a connection pool.
type Store struct {
	db *sqlx.DB
	queries
}

var _ storage.TxStore = (*Store)(nil)

// txStore serves the same contracts scoped to one open transaction.
type txStore struct {
	queries
}

var _ storage.Store = (*txStore)(nil)

// New wraps an open connection pool.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, queries: queries{q: db}}
}

// RunInTx runs fn inside a single database transaction. Row locks taken via
// GetStageMatrixForUpdate are held until commit or rollback.
func (s *Store) RunInTx(ctx context.Context, fn func(storage.Store) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&txStore{queries: queries{q: tx}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type queries struct {
	q querier
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// --- rows -------------------------------------------------------------------

type memberRow struct {
	ID         string         `db:"id"`
	Name       string         `db:"name"`
	ReferrerID sql.NullString `db:"referrer_id"`
	Stage      string         `db:"stage"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r memberRow) toDomain() member.Member {
	return member.Member{
		ID:         r.ID,
		Name:       r.Name,
		ReferrerID: r.ReferrerID.String,
		Stage:      member.Stage(r.Stage),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type stageMatrixRow struct {
	ID                   string    `db:"id"`
	MemberID             string    `db:"member_id"`
	Stage                string    `db:"stage"`
	SlotsFilled          int       `db:"slots_filled"`
	QualifiedSlotsFilled int       `db:"qualified_slots_filled"`
	SlotsRequired        int       `db:"slots_required"`
	IsComplete           bool      `db:"is_complete"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (r stageMatrixRow) toDomain() matrix.StageMatrix {
	return matrix.StageMatrix{
		ID:                   r.ID,
		MemberID:             r.MemberID,
		Stage:                member.Stage(r.Stage),
		SlotsFilled:          r.SlotsFilled,
		QualifiedSlotsFilled: r.QualifiedSlotsFilled,
		SlotsRequired:        r.SlotsRequired,
		IsComplete:           r.IsComplete,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

type positionRow struct {
	ID        string    `db:"id"`
	MemberID  string    `db:"member_id"`
	SponsorID string    `db:"sponsor_id"`
	Stage     string    `db:"stage"`
	Path      string    `db:"path"`
	Depth     int       `db:"depth"`
	CreatedAt time.Time `db:"created_at"`
}

func (r positionRow) toDomain() matrix.Position {
	return matrix.Position{
		ID:        r.ID,
		MemberID:  r.MemberID,
		SponsorID: r.SponsorID,
		Stage:     member.Stage(r.Stage),
		Path:      r.Path,
		Depth:     r.Depth,
		CreatedAt: r.CreatedAt,
	}
}

type membershipRow struct {
	ID               string       `db:"id"`
	MatrixOwnerID    string       `db:"matrix_owner_id"`
	MemberID         string       `db:"member_id"`
	Stage            string       `db:"stage"`
	StageAtPlacement string       `db:"stage_at_placement"`
	IsQualified      bool         `db:"is_qualified"`
	QualifiedAt      sql.NullTime `db:"qualified_at"`
	CreatedAt        time.Time    `db:"created_at"`
}

func (r membershipRow) toDomain() matrix.Membership {
	return matrix.Membership{
		ID:               r.ID,
		MatrixOwnerID:    r.MatrixOwnerID,
		MemberID:         r.MemberID,
		Stage:            member.Stage(r.Stage),
		StageAtPlacement: member.Stage(r.StageAtPlacement),
		IsQualified:      r.IsQualified,
		QualifiedAt:      r.QualifiedAt.Time,
		CreatedAt:        r.CreatedAt,
	}
}

type progressionRow struct {
	ID          string    `db:"id"`
	MemberID    string    `db:"member_id"`
	FromStage   string    `db:"from_stage"`
	ToStage     string    `db:"to_stage"`
	MatrixCount int       `db:"matrix_count"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r progressionRow) toDomain() matrix.Progression {
	return matrix.Progression{
		ID:          r.ID,
		MemberID:    r.MemberID,
		FromStage:   member.Stage(r.FromStage),
		ToStage:     member.Stage(r.ToStage),
		MatrixCount: r.MatrixCount,
		CreatedAt:   r.CreatedAt,
	}
}

type walletRow struct {
	MemberID       string    `db:"member_id"`
	Balance        int64     `db:"balance"`
	TotalEarned    int64     `db:"total_earned"`
	TotalWithdrawn int64     `db:"total_withdrawn"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r walletRow) toDomain() ledger.Wallet {
	return ledger.Wallet{
		MemberID:       r.MemberID,
		Balance:        ledger.Amount(r.Balance),
		TotalEarned:    ledger.Amount(r.TotalEarned),
		TotalWithdrawn: ledger.Amount(r.TotalWithdrawn),
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

type transactionRow struct {
	ID          string    `db:"id"`
	MemberID    string    `db:"member_id"`
	Type        string    `db:"type"`
	Amount      int64     `db:"amount"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r transactionRow) toDomain() ledger.Transaction {
	return ledger.Transaction{
		ID:          r.ID,
		MemberID:    r.MemberID,
		Type:        ledger.TransactionType(r.Type),
		Amount:      ledger.Amount(r.Amount),
		Description: r.Description,
		CreatedAt:   r.CreatedAt,
	}
}

type earningRow struct {
	ID             string    `db:"id"`
	BeneficiaryID  string    `db:"beneficiary_id"`
	SourceMemberID string    `db:"source_member_id"`
	Stage          string    `db:"stage"`
	Amount         int64     `db:"amount"`
	Status         string    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
}

func (r earningRow) toDomain() ledger.Earning {
	return ledger.Earning{
		ID:             r.ID,
		BeneficiaryID:  r.BeneficiaryID,
		SourceMemberID: r.SourceMemberID,
		Stage:          member.Stage(r.Stage),
		Amount:         ledger.Amount(r.Amount),
		Status:         ledger.EarningStatus(r.Status),
		CreatedAt:      r.CreatedAt,
	}
}

// --- MemberStore ------------------------------------------------------------

func (s queries) CreateMember(ctx context.Context, m member.Member) (member.Member, error) {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Stage == "" {
		m.Stage = member.StageNone
	}
	referrer := sql.NullString{String: m.ReferrerID, Valid: m.ReferrerID != ""}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO members (id, name, referrer_id, stage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Name, referrer, string(m.Stage), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return member.Member{}, fmt.Errorf("member %s already exists", m.ID)
		}
		return member.Member{}, fmt.Errorf("insert member: %w", err)
	}
	return m, nil
}

func (s queries) GetMember(ctx context.Context, id string) (member.Member, error) {
	var row memberRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT id, name, referrer_id, stage, created_at, updated_at
		FROM members WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return member.Member{}, fmt.Errorf("member %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return member.Member{}, fmt.Errorf("get member: %w", err)
	}
	return row.toDomain(), nil
}

func (s queries) UpdateMemberStage(ctx context.Context, id string, stage member.Stage) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE members SET stage = $2, updated_at = now() WHERE id = $1`,
		id, string(stage))
	if err != nil {
		return fmt.Errorf("update member stage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("member %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

// --- MatrixStore ------------------------------------------------------------

func (s queries) CreateStageMatrix(ctx context.Context, sm matrix.StageMatrix) (matrix.StageMatrix, error) {
	if sm.ID == "" {
		sm.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if sm.CreatedAt.IsZero() {
		sm.CreatedAt = now
	}
	sm.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO stage_matrices
			(id, member_id, stage, slots_filled, qualified_slots_filled, slots_required, is_complete, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sm.ID, sm.MemberID, string(sm.Stage), sm.SlotsFilled, sm.QualifiedSlotsFilled,
		sm.SlotsRequired, sm.IsComplete, sm.CreatedAt, sm.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return matrix.StageMatrix{}, fmt.Errorf("stage matrix %s/%s already exists", sm.MemberID, sm.Stage)
		}
		return matrix.StageMatrix{}, fmt.Errorf("insert stage matrix: %w", err)
	}
	return sm, nil
}

const stageMatrixCols = `id, member_id, stage, slots_filled, qualified_slots_filled, slots_required, is_complete, created_at, updated_at`

func (s queries) GetStageMatrix(ctx context.Context, memberID string, stage member.Stage) (matrix.StageMatrix, error) {
	return s.getStageMatrix(ctx, memberID, stage, "")
}

func (s queries) GetStageMatrixForUpdate(ctx context.Context, memberID string, stage member.Stage) (matrix.StageMatrix, error) {
	return s.getStageMatrix(ctx, memberID, stage, " FOR UPDATE")
}

func (s queries) getStageMatrix(ctx context.Context, memberID string, stage member.Stage, suffix string) (matrix.StageMatrix, error) {
	var row stageMatrixRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT `+stageMatrixCols+`
		FROM stage_matrices WHERE member_id = $1 AND stage = $2`+suffix,
		memberID, string(stage))
	if errors.Is(err, sql.ErrNoRows) {
		return matrix.StageMatrix{}, fmt.Errorf("stage matrix %s/%s: %w", memberID, stage, storage.ErrNotFound)
	}
	if err != nil {
		return matrix.StageMatrix{}, fmt.Errorf("get stage matrix: %w", err)
	}
	return row.toDomain(), nil
}

func (s queries) UpdateStageMatrixCounts(ctx context.Context, sm matrix.StageMatrix) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE stage_matrices
		SET slots_filled = $3, qualified_slots_filled = $4, is_complete = $5, updated_at = now()
		WHERE member_id = $1 AND stage = $2`,
		sm.MemberID, string(sm.Stage), sm.SlotsFilled, sm.QualifiedSlotsFilled, sm.IsComplete)
	if err != nil {
		return fmt.Errorf("update stage matrix counts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("stage matrix %s/%s: %w", sm.MemberID, sm.Stage, storage.ErrNotFound)
	}
	return nil
}

func (s queries) ListStageMatrices(ctx context.Context, memberID string) ([]matrix.StageMatrix, error) {
	var rows []stageMatrixRow
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT `+stageMatrixCols+`
		FROM stage_matrices WHERE member_id = $1 ORDER BY created_at`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list stage matrices: %w", err)
	}
	out := make([]matrix.StageMatrix, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s queries) CreatePosition(ctx context.Context, p matrix.Position) (matrix.Position, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO matrix_positions (id, member_id, sponsor_id, stage, path, depth, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.MemberID, p.SponsorID, string(p.Stage), p.Path, p.Depth, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return matrix.Position{}, fmt.Errorf("position for %s at %s already taken", p.MemberID, p.Stage)
		}
		return matrix.Position{}, fmt.Errorf("insert position: %w", err)
	}
	return p, nil
}

const positionCols = `id, member_id, sponsor_id, stage, path, depth, created_at`

func (s queries) GetPositionByMember(ctx context.Context, memberID string, stage member.Stage) (matrix.Position, error) {
	var row positionRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT `+positionCols+`
		FROM matrix_positions WHERE member_id = $1 AND stage = $2`,
		memberID, string(stage))
	if errors.Is(err, sql.ErrNoRows) {
		return matrix.Position{}, fmt.Errorf("position %s/%s: %w", memberID, stage, storage.ErrNotFound)
	}
	if err != nil {
		return matrix.Position{}, fmt.Errorf("get position: %w", err)
	}
	return row.toDomain(), nil
}

func (s queries) ListPositions(ctx context.Context, sponsorID string, stage member.Stage) ([]matrix.Position, error) {
	var rows []positionRow
	// Lexicographic path order is pre-order for the L/R alphabet.
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT `+positionCols+`
		FROM matrix_positions WHERE sponsor_id = $1 AND stage = $2 ORDER BY path`,
		sponsorID, string(stage))
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	out := make([]matrix.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s queries) ListOccupiedPaths(ctx context.Context, sponsorID string, stage member.Stage) (map[string]bool, error) {
	var paths []string
	err := sqlx.SelectContext(ctx, s.q, &paths, `
		SELECT path FROM matrix_positions WHERE sponsor_id = $1 AND stage = $2`,
		sponsorID, string(stage))
	if err != nil {
		return nil, fmt.Errorf("list occupied paths: %w", err)
	}
	occupied := make(map[string]bool, len(paths))
	for _, p := range paths {
		occupied[p] = true
	}
	return occupied, nil
}

func (s queries) CreateMembership(ctx context.Context, mm matrix.Membership) (matrix.Membership, error) {
	if mm.ID == "" {
		mm.ID = uuid.NewString()
	}
	if mm.CreatedAt.IsZero() {
		mm.CreatedAt = time.Now().UTC()
	}
	qualifiedAt := sql.NullTime{Time: mm.QualifiedAt, Valid: !mm.QualifiedAt.IsZero()}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO matrix_memberships
			(id, matrix_owner_id, member_id, stage, stage_at_placement, is_qualified, qualified_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		mm.ID, mm.MatrixOwnerID, mm.MemberID, string(mm.Stage), string(mm.StageAtPlacement),
		mm.IsQualified, qualifiedAt, mm.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return matrix.Membership{}, fmt.Errorf("membership %s/%s/%s already exists", mm.MatrixOwnerID, mm.Stage, mm.MemberID)
		}
		return matrix.Membership{}, fmt.Errorf("insert membership: %w", err)
	}
	return mm, nil
}

const membershipCols = `id, matrix_owner_id, member_id, stage, stage_at_placement, is_qualified, qualified_at, created_at`

func (s queries) GetMembership(ctx context.Context, id string) (matrix.Membership, error) {
	var row membershipRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT `+membershipCols+`
		FROM matrix_memberships WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return matrix.Membership{}, fmt.Errorf("membership %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return matrix.Membership{}, fmt.Errorf("get membership: %w", err)
	}
	return row.toDomain(), nil
}

func (s queries) ListMemberships(ctx context.Context, ownerID string, stage member.Stage) ([]matrix.Membership, error) {
	var rows []membershipRow
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT `+membershipCols+`
		FROM matrix_memberships
		WHERE matrix_owner_id = $1 AND stage = $2
		ORDER BY created_at, id`,
		ownerID, string(stage))
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	out := make([]matrix.Membership, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s queries) ListPendingMembershipsByMember(ctx context.Context, memberID string) ([]matrix.Membership, error) {
	var rows []membershipRow
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT `+membershipCols+`
		FROM matrix_memberships
		WHERE member_id = $1 AND NOT is_qualified
		ORDER BY created_at, id`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list pending memberships: %w", err)
	}
	out := make([]matrix.Membership, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s queries) MarkMembershipQualified(ctx context.Context, id string, at time.Time) error {
	// The is_qualified guard keeps the flag monotonic under concurrency.
	res, err := s.q.ExecContext(ctx, `
		UPDATE matrix_memberships
		SET is_qualified = TRUE, qualified_at = $2
		WHERE id = $1 AND NOT is_qualified`, id, at)
	if err != nil {
		return fmt.Errorf("mark membership qualified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("pending membership %s: %w", id, storage.ErrNotFound)
	}
	return nil
}

func (s queries) CreateProgression(ctx context.Context, p matrix.Progression) (matrix.Progression, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO stage_progressions (id, member_id, from_stage, to_stage, matrix_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.MemberID, string(p.FromStage), string(p.ToStage), p.MatrixCount, p.CreatedAt)
	if err != nil {
		return matrix.Progression{}, fmt.Errorf("insert progression: %w", err)
	}
	return p, nil
}

func (s queries) ListProgressions(ctx context.Context, memberID string) ([]matrix.Progression, error) {
	var rows []progressionRow
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT id, member_id, from_stage, to_stage, matrix_count, created_at
		FROM stage_progressions WHERE member_id = $1 ORDER BY created_at, id`, memberID)
	if err != nil {
		return nil, fmt.Errorf("list progressions: %w", err)
	}
	out := make([]matrix.Progression, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// --- LedgerStore ------------------------------------------------------------

func (s queries) CreateWallet(ctx context.Context, w ledger.Wallet) (ledger.Wallet, error) {
	now := time.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	w.UpdatedAt = now

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO wallets (member_id, balance, total_earned, total_withdrawn, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		w.MemberID, int64(w.Balance), int64(w.TotalEarned), int64(w.TotalWithdrawn), w.CreatedAt, w.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.Wallet{}, fmt.Errorf("wallet %s already exists", w.MemberID)
		}
		return ledger.Wallet{}, fmt.Errorf("insert wallet: %w", err)
	}
	return w, nil
}

func (s queries) GetWallet(ctx context.Context, memberID string) (ledger.Wallet, error) {
	var row walletRow
	err := sqlx.GetContext(ctx, s.q, &row, `
		SELECT member_id, balance, total_earned, total_withdrawn, created_at, updated_at
		FROM wallets WHERE member_id = $1`, memberID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Wallet{}, fmt.Errorf("wallet %s: %w", memberID, storage.ErrNotFound)
	}
	if err != nil {
		return ledger.Wallet{}, fmt.Errorf("get wallet: %w", err)
	}
	return row.toDomain(), nil
}

func (s queries) CreditEarnings(ctx context.Context, memberID string, amount ledger.Amount) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE wallets
		SET balance = balance + $2, total_earned = total_earned + $2, updated_at = now()
		WHERE member_id = $1`, memberID, int64(amount))
	if err != nil {
		return fmt.Errorf("credit earnings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("wallet %s: %w", memberID, storage.ErrNotFound)
	}
	return nil
}

func (s queries) CreateTransaction(ctx context.Context, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO transactions (id, member_id, type, amount, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		tx.ID, tx.MemberID, string(tx.Type), int64(tx.Amount), tx.Description, tx.CreatedAt)
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

func (s queries) ListTransactions(ctx context.Context, memberID string, limit int) ([]ledger.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []transactionRow
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT id, member_id, type, amount, description, created_at
		FROM transactions WHERE member_id = $1
		ORDER BY created_at DESC, id LIMIT $2`, memberID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]ledger.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s queries) CreateEarning(ctx context.Context, e ledger.Earning) (ledger.Earning, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO referral_earnings (id, beneficiary_id, source_member_id, stage, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.BeneficiaryID, e.SourceMemberID, string(e.Stage), int64(e.Amount), string(e.Status), e.CreatedAt)
	if err != nil {
		return ledger.Earning{}, fmt.Errorf("insert earning: %w", err)
	}
	return e, nil
}

func (s queries) EarningsByStage(ctx context.Context, beneficiaryID string) ([]ledger.StageEarnings, error) {
	var rows []struct {
		Stage  string `db:"stage"`
		Count  int    `db:"count"`
		Amount int64  `db:"amount"`
	}
	err := sqlx.SelectContext(ctx, s.q, &rows, `
		SELECT stage, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS amount
		FROM referral_earnings
		WHERE beneficiary_id = $1 AND status = 'completed'
		GROUP BY stage`, beneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("earnings by stage: %w", err)
	}
	out := make([]ledger.StageEarnings, 0, len(rows))
	for _, r := range rows {
		out = append(out, ledger.StageEarnings{
			Stage:  member.Stage(r.Stage),
			Count:  r.Count,
			Amount: ledger.Amount(r.Amount),
		})
	}
	sortStageEarnings(out)
	return out, nil
}

func (s queries) SumCompletedEarnings(ctx context.Context, beneficiaryID string) (ledger.Amount, error) {
	var total int64
	err := sqlx.GetContext(ctx, s.q, &total, `
		SELECT COALESCE(SUM(amount), 0)
		FROM referral_earnings
		WHERE beneficiary_id = $1 AND status = 'completed'`, beneficiaryID)
	if err != nil {
		return 0, fmt.Errorf("sum completed earnings: %w", err)
	}
	return ledger.Amount(total), nil
}

func (s queries) ListWalletMemberIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := sqlx.SelectContext(ctx, s.q, &ids, `SELECT member_id FROM wallets ORDER BY member_id`)
	if err != nil {
		return nil, fmt.Errorf("list wallet member ids: %w", err)
	}
	return ids, nil
}

func sortStageEarnings(out []ledger.StageEarnings) {
	sort.Slice(out, func(i, j int) bool { return out[i].Stage.Order() < out[j].Stage.Order() })
}
