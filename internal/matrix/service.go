package matrix

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/celvios/baobab-mlm-sub002/internal/domain/matrix"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/ledger"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/member"
	"github.com/celvios/baobab-mlm-sub002/internal/earnings"
	"github.com/celvios/baobab-mlm-sub002/internal/metrics"
	"github.com/celvios/baobab-mlm-sub002/internal/notify"
	"github.com/celvios/baobab-mlm-sub002/internal/storage"
	"github.com/celvios/baobab-mlm-sub002/pkg/logger"
)

// Service runs placement, completion detection, stage progression and bonus
// payout. Every mutation happens inside a store transaction; notifications,
// metrics and the promotion cascade run after commit.
type Service struct {
	store    storage.TxStore
	earnings *earnings.Writer
	notifier notify.Notifier
	log      *logger.Logger
}

// NewService wires the engine together.
func NewService(store storage.TxStore, w *earnings.Writer, n notify.Notifier, log *logger.Logger) *Service {
	if w == nil {
		w = earnings.NewWriter(log)
	}
	if n == nil {
		n = notify.NewLogNotifier(log)
	}
	if log == nil {
		log = logger.NewDefault("matrix")
	}
	return &Service{store: store, earnings: w, notifier: n, log: log}
}

// Placement reports what a placement call did.
type Placement struct {
	Position   domain.Position
	Membership domain.Membership
	// Duplicate is true when the candidate already held this exact
	// position and the call was absorbed as a no-op.
	Duplicate bool
	Qualified bool
	BonusPaid bool
	Completed bool
	// PromotedTo is the sponsor's new stage when the placement completed
	// their matrix, empty otherwise.
	PromotedTo member.Stage
}

// StageProgress is a member's full ladder state.
type StageProgress struct {
	Member       member.Member
	Matrices     []domain.StageMatrix
	Progressions []domain.Progression
}

// EarningsReport aggregates a member's completed earnings.
type EarningsReport struct {
	Wallet  ledger.Wallet
	ByStage []ledger.StageEarnings
	Total   ledger.Amount
}

// Occupancy is the state of one sponsor's matrix for one stage.
type Occupancy struct {
	Matrix      domain.StageMatrix
	Positions   []domain.Position
	Memberships []domain.Membership
}

// RegisterMember creates a participant below the ladder together with an
// empty wallet. The referrer, when named, must already exist.
func (s *Service) RegisterMember(ctx context.Context, name, referrerID string) (member.Member, error) {
	var m member.Member
	err := s.store.RunInTx(ctx, func(st storage.Store) error {
		if referrerID != "" {
			if _, err := st.GetMember(ctx, referrerID); err != nil {
				return fmt.Errorf("referrer: %w", err)
			}
		}
		created, err := st.CreateMember(ctx, member.Member{
			Name:       name,
			ReferrerID: referrerID,
			Stage:      member.StageNone,
		})
		if err != nil {
			return err
		}
		if _, err := st.CreateWallet(ctx, ledger.Wallet{MemberID: created.ID}); err != nil {
			return err
		}
		m = created
		return nil
	})
	if err != nil {
		return member.Member{}, err
	}
	s.log.WithField("member_id", m.ID).WithField("referrer_id", referrerID).Info("member registered")
	return m, nil
}

// Qualify moves a registered member onto the ladder at feeder. It is the
// handler for the external qualifying event (package purchase confirmed).
func (s *Service) Qualify(ctx context.Context, memberID string) (member.Member, error) {
	return s.EnterStage(ctx, memberID, member.StageFeeder)
}

// EnterStage moves a member up the ladder to the given stage, seeds their
// matrix for it and then re-runs qualification plus referrer placement.
// Stages only move up; a request at or below the current stage returns
// ErrStageRegression, and unknown stages are rejected outright.
func (s *Service) EnterStage(ctx context.Context, memberID string, stage member.Stage) (member.Member, error) {
	if _, err := StageConfigFor(stage); err != nil {
		return member.Member{}, err
	}

	var m member.Member
	err := s.store.RunInTx(ctx, func(st storage.Store) error {
		cur, err := st.GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		if cur.Stage.Order() >= stage.Order() {
			return fmt.Errorf("%w: %s is already at %s", ErrStageRegression, memberID, cur.Stage)
		}
		if err := s.promoteInTx(ctx, st, cur, stage); err != nil {
			return err
		}
		cur.Stage = stage
		m = cur
		return nil
	})
	if err != nil {
		return member.Member{}, err
	}

	metrics.RecordPromotion(string(stage))
	s.log.WithField("member_id", memberID).WithField("stage", string(stage)).Info("member entered stage")
	s.afterStageEntry(ctx, memberID, stage)
	return m, nil
}

// PlaceInMatrix fills the next free slot of the sponsor's matrix for the
// stage with the candidate. Placement is first-free in fixed pre-order, is
// idempotent for repeats under the same sponsor, pays the sponsor's bonus
// when the candidate qualifies, and promotes the sponsor when the matrix
// reaches full qualified capacity.
func (s *Service) PlaceInMatrix(ctx context.Context, sponsorID, candidateID string, stage member.Stage) (Placement, error) {
	cfg, err := StageConfigFor(stage)
	if err != nil {
		return Placement{}, err
	}
	if sponsorID == candidateID {
		return Placement{}, fmt.Errorf("member %s cannot sponsor themselves", candidateID)
	}

	var res Placement
	err = s.store.RunInTx(ctx, func(st storage.Store) error {
		candidate, err := st.GetMember(ctx, candidateID)
		if err != nil {
			return fmt.Errorf("candidate: %w", err)
		}
		sponsor, err := st.GetMember(ctx, sponsorID)
		if err != nil {
			return fmt.Errorf("sponsor: %w", err)
		}

		sm, err := s.lockStageMatrix(ctx, st, sponsorID, stage, cfg)
		if err != nil {
			return err
		}

		// The duplicate check runs under the matrix lock so that
		// concurrent deliveries of the same event serialize into one
		// insert and one no-op.
		existing, err := st.GetPositionByMember(ctx, candidateID, stage)
		switch {
		case err == nil:
			if existing.SponsorID != sponsorID {
				return fmt.Errorf("%w: held under %s", ErrAlreadyPlaced, existing.SponsorID)
			}
			res = Placement{Position: existing, Duplicate: true}
			return nil
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
		if sm.SlotsFilled >= sm.SlotsRequired {
			return fmt.Errorf("%w: %s/%s is full", ErrNoAvailablePosition, sponsorID, stage)
		}

		occupied, err := st.ListOccupiedPaths(ctx, sponsorID, stage)
		if err != nil {
			return err
		}
		path, depth, ok := NextFreePosition(occupied, cfg.Levels)
		if !ok {
			return fmt.Errorf("%w: %s/%s has no free path", ErrNoAvailablePosition, sponsorID, stage)
		}

		now := time.Now().UTC()
		pos, err := st.CreatePosition(ctx, domain.Position{
			MemberID:  candidateID,
			SponsorID: sponsorID,
			Stage:     stage,
			Path:      path,
			Depth:     depth,
			CreatedAt: now,
		})
		if err != nil {
			return err
		}

		qualified := IsQualified(candidate.Stage, stage)
		mm := domain.Membership{
			MatrixOwnerID:    sponsorID,
			MemberID:         candidateID,
			Stage:            stage,
			StageAtPlacement: candidate.Stage,
			IsQualified:      qualified,
			CreatedAt:        now,
		}
		if qualified {
			mm.QualifiedAt = now
		}
		mm, err = st.CreateMembership(ctx, mm)
		if err != nil {
			return err
		}

		sm.SlotsFilled++
		promotedTo := member.Stage("")
		if qualified {
			sm, promotedTo, err = s.applyQualifiedFill(ctx, st, sponsor, sm, cfg, candidateID)
			if err != nil {
				return err
			}
		}
		if err := st.UpdateStageMatrixCounts(ctx, sm); err != nil {
			return err
		}

		res = Placement{
			Position:   pos,
			Membership: mm,
			Qualified:  qualified,
			BonusPaid:  qualified,
			Completed:  sm.IsComplete,
			PromotedTo: promotedTo,
		}
		return nil
	})
	if err != nil {
		return Placement{}, err
	}

	if res.Duplicate {
		metrics.RecordDuplicatePlacement(string(stage))
		s.log.WithField("member_id", candidateID).WithField("stage", string(stage)).Debug("duplicate placement absorbed")
		return res, nil
	}

	metrics.RecordPlacement(string(stage), res.Qualified)
	s.log.WithField("member_id", candidateID).
		WithField("sponsor_id", sponsorID).
		WithField("stage", string(stage)).
		WithField("path", res.Position.Path).
		WithField("qualified", res.Qualified).
		Info("member placed")

	if res.BonusPaid {
		s.emitBonus(ctx, sponsorID, candidateID, stage, cfg.EarningPerSlot)
	}
	if res.Completed {
		s.emitCompletion(ctx, sponsorID, stage, res.PromotedTo)
	}
	if res.PromotedTo != "" {
		metrics.RecordPromotion(string(res.PromotedTo))
		s.afterStageEntry(ctx, sponsorID, res.PromotedTo)
	}
	return res, nil
}

// ReevaluateMember walks the member's pending matrix memberships and flips
// every one their current stage now satisfies. Each flip runs in its own
// transaction so one broken matrix cannot block the rest; the qualified
// flag is re-checked under the matrix lock so a bonus is paid exactly once.
func (s *Service) ReevaluateMember(ctx context.Context, memberID string) error {
	m, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return err
	}
	pending, err := s.store.ListPendingMembershipsByMember(ctx, memberID)
	if err != nil {
		return err
	}

	type promotion struct {
		ownerID string
		stage   member.Stage
	}
	var promotions []promotion

	for _, mm := range pending {
		if !IsQualified(m.Stage, mm.Stage) {
			continue
		}
		cfg, err := StageConfigFor(mm.Stage)
		if err != nil {
			s.log.WithError(err).WithField("membership_id", mm.ID).Error("pending membership has unusable stage")
			continue
		}

		var (
			flipped    bool
			completed  bool
			promotedTo member.Stage
		)
		txErr := s.store.RunInTx(ctx, func(st storage.Store) error {
			sm, err := s.lockStageMatrix(ctx, st, mm.MatrixOwnerID, mm.Stage, cfg)
			if err != nil {
				return err
			}
			cur, err := st.GetMembership(ctx, mm.ID)
			if err != nil {
				return err
			}
			if cur.IsQualified {
				return nil
			}
			owner, err := st.GetMember(ctx, mm.MatrixOwnerID)
			if err != nil {
				return err
			}
			if err := st.MarkMembershipQualified(ctx, mm.ID, time.Now().UTC()); err != nil {
				return err
			}
			sm, promotedTo, err = s.applyQualifiedFill(ctx, st, owner, sm, cfg, memberID)
			if err != nil {
				return err
			}
			if err := st.UpdateStageMatrixCounts(ctx, sm); err != nil {
				return err
			}
			flipped = true
			completed = sm.IsComplete
			return nil
		})
		if txErr != nil {
			s.log.WithError(txErr).
				WithField("membership_id", mm.ID).
				WithField("owner_id", mm.MatrixOwnerID).
				Error("requalification failed")
			continue
		}
		if !flipped {
			continue
		}

		metrics.RecordRequalification(string(mm.Stage))
		s.emitBonus(ctx, mm.MatrixOwnerID, memberID, mm.Stage, cfg.EarningPerSlot)
		if completed {
			s.emitCompletion(ctx, mm.MatrixOwnerID, mm.Stage, promotedTo)
		}
		if promotedTo != "" {
			metrics.RecordPromotion(string(promotedTo))
			promotions = append(promotions, promotion{ownerID: mm.MatrixOwnerID, stage: promotedTo})
		}
	}

	// The cascade runs after every flip has committed so each owner is
	// re-evaluated against their final stage.
	for _, p := range promotions {
		s.afterStageEntry(ctx, p.ownerID, p.stage)
	}
	return nil
}

// StageProgress returns the member's ladder state.
func (s *Service) StageProgress(ctx context.Context, memberID string) (StageProgress, error) {
	m, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		return StageProgress{}, err
	}
	matrices, err := s.store.ListStageMatrices(ctx, memberID)
	if err != nil {
		return StageProgress{}, err
	}
	progressions, err := s.store.ListProgressions(ctx, memberID)
	if err != nil {
		return StageProgress{}, err
	}
	return StageProgress{Member: m, Matrices: matrices, Progressions: progressions}, nil
}

// EarningsByStage returns the member's wallet plus completed earnings
// grouped by stage.
func (s *Service) EarningsByStage(ctx context.Context, memberID string) (EarningsReport, error) {
	wallet, err := s.store.GetWallet(ctx, memberID)
	if err != nil {
		return EarningsReport{}, err
	}
	byStage, err := s.store.EarningsByStage(ctx, memberID)
	if err != nil {
		return EarningsReport{}, err
	}
	total, err := s.store.SumCompletedEarnings(ctx, memberID)
	if err != nil {
		return EarningsReport{}, err
	}
	return EarningsReport{Wallet: wallet, ByStage: byStage, Total: total}, nil
}

// MatrixOccupancy returns the fill state of one matrix.
func (s *Service) MatrixOccupancy(ctx context.Context, ownerID string, stage member.Stage) (Occupancy, error) {
	cfg, err := StageConfigFor(stage)
	if err != nil {
		return Occupancy{}, err
	}
	sm, err := s.store.GetStageMatrix(ctx, ownerID, stage)
	if err != nil {
		return Occupancy{}, err
	}
	positions, err := s.store.ListPositions(ctx, ownerID, stage)
	if err != nil {
		return Occupancy{}, err
	}
	for _, p := range positions {
		if !ValidPath(p.Path, cfg.Levels) {
			return Occupancy{}, fmt.Errorf("matrix %s/%s: position %s has malformed path %q", ownerID, stage, p.ID, p.Path)
		}
	}
	memberships, err := s.store.ListMemberships(ctx, ownerID, stage)
	if err != nil {
		return Occupancy{}, err
	}
	return Occupancy{Matrix: sm, Positions: positions, Memberships: memberships}, nil
}

// Transactions returns the member's newest ledger transactions.
func (s *Service) Transactions(ctx context.Context, memberID string, limit int) ([]ledger.Transaction, error) {
	if _, err := s.store.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, memberID, limit)
}

// lockStageMatrix takes the per-(sponsor, stage) lock, creating the matrix
// row first when the sponsor has never had one.
func (s *Service) lockStageMatrix(ctx context.Context, st storage.Store, ownerID string, stage member.Stage, cfg StageConfig) (domain.StageMatrix, error) {
	sm, err := st.GetStageMatrixForUpdate(ctx, ownerID, stage)
	if err == nil {
		return sm, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return domain.StageMatrix{}, err
	}
	if _, err := st.CreateStageMatrix(ctx, domain.StageMatrix{
		MemberID:      ownerID,
		Stage:         stage,
		SlotsRequired: cfg.TotalSlots,
	}); err != nil {
		return domain.StageMatrix{}, err
	}
	return st.GetStageMatrixForUpdate(ctx, ownerID, stage)
}

// applyQualifiedFill pays the slot bonus to the owner, bumps the qualified
// count and, when capacity is reached, marks the matrix complete and
// promotes the owner to the next stage.
func (s *Service) applyQualifiedFill(ctx context.Context, st storage.Store, owner member.Member, sm domain.StageMatrix, cfg StageConfig, sourceID string) (domain.StageMatrix, member.Stage, error) {
	if _, _, err := s.earnings.ApplyBonus(ctx, st, owner.ID, sourceID, cfg.Stage, cfg.EarningPerSlot); err != nil {
		return sm, "", err
	}
	sm.QualifiedSlotsFilled++
	if sm.IsComplete || sm.QualifiedSlotsFilled < sm.SlotsRequired {
		return sm, "", nil
	}
	sm.IsComplete = true

	next, ok := NextStage(cfg.Stage)
	if !ok || owner.Stage.Order() >= next.Order() {
		return sm, "", nil
	}
	if err := s.promoteInTx(ctx, st, owner, next); err != nil {
		return sm, "", err
	}
	return sm, next, nil
}

// promoteInTx records the stage change: member row, progression history and
// the member's own matrix for the new stage.
func (s *Service) promoteInTx(ctx context.Context, st storage.Store, m member.Member, to member.Stage) error {
	cfg, err := StageConfigFor(to)
	if err != nil {
		return err
	}
	if err := st.UpdateMemberStage(ctx, m.ID, to); err != nil {
		return err
	}
	matrices, err := st.ListStageMatrices(ctx, m.ID)
	if err != nil {
		return err
	}
	if _, err := st.CreateProgression(ctx, domain.Progression{
		MemberID:    m.ID,
		FromStage:   m.Stage,
		ToStage:     to,
		MatrixCount: len(matrices),
	}); err != nil {
		return err
	}
	if _, err := st.GetStageMatrix(ctx, m.ID, to); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if _, err := st.CreateStageMatrix(ctx, domain.StageMatrix{
			MemberID:      m.ID,
			Stage:         to,
			SlotsRequired: cfg.TotalSlots,
		}); err != nil {
			return err
		}
	}
	return nil
}

// afterStageEntry runs the post-commit side of a stage change: flip the
// member's pending memberships, then seat them in their referrer's matrix
// for the new stage. Failures here are logged, never propagated; the state
// that matters is already committed and re-evaluation can run again.
func (s *Service) afterStageEntry(ctx context.Context, memberID string, stage member.Stage) {
	if err := s.ReevaluateMember(ctx, memberID); err != nil {
		s.log.WithError(err).WithField("member_id", memberID).Error("post-entry re-evaluation failed")
	}

	m, err := s.store.GetMember(ctx, memberID)
	if err != nil {
		s.log.WithError(err).WithField("member_id", memberID).Error("post-entry member reload failed")
		return
	}
	if m.ReferrerID == "" {
		return
	}
	if _, err := s.PlaceInMatrix(ctx, m.ReferrerID, memberID, stage); err != nil {
		lg := s.log.WithError(err).
			WithField("member_id", memberID).
			WithField("referrer_id", m.ReferrerID).
			WithField("stage", string(stage))
		switch {
		case errors.Is(err, ErrAlreadyPlaced), errors.Is(err, ErrNoAvailablePosition):
			lg.Warn("referrer placement skipped")
		default:
			lg.Error("referrer placement failed")
		}
	}
}

func (s *Service) emitBonus(ctx context.Context, beneficiaryID, sourceID string, stage member.Stage, amount ledger.Amount) {
	metrics.RecordBonus(string(stage), int64(amount))
	ev := notify.BonusEarnedEvent{
		BeneficiaryID:  beneficiaryID,
		SourceMemberID: sourceID,
		Stage:          string(stage),
		AmountCents:    int64(amount),
		EarnedAt:       time.Now().UTC(),
	}
	if err := s.notifier.BonusEarned(ctx, ev); err != nil {
		s.log.WithError(err).WithField("beneficiary_id", beneficiaryID).Warn("bonus notification failed")
	}
}

func (s *Service) emitCompletion(ctx context.Context, memberID string, stage, promotedTo member.Stage) {
	metrics.RecordCompletion(string(stage))
	ev := notify.StageCompletedEvent{
		MemberID:    memberID,
		Stage:       string(stage),
		PromotedTo:  string(promotedTo),
		CompletedAt: time.Now().UTC(),
	}
	if err := s.notifier.StageCompleted(ctx, ev); err != nil {
		s.log.WithError(err).WithField("member_id", memberID).Warn("completion notification failed")
	}
}
