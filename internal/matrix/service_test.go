package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/celvios/baobab-mlm-sub002/internal/domain/ledger"
	domain "github.com/celvios/baobab-mlm-sub002/internal/domain/matrix"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/member"
	"github.com/celvios/baobab-mlm-sub002/internal/earnings"
	"github.com/celvios/baobab-mlm-sub002/internal/notify"
	"github.com/celvios/baobab-mlm-sub002/internal/storage/memory"
	"github.com/celvios/baobab-mlm-sub002/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	svc := NewService(st, earnings.NewWriter(logger.Nop()), notify.NewLogNotifier(logger.Nop()), logger.Nop())
	return svc, st
}

func mustRegister(t *testing.T, svc *Service, name, referrerID string) member.Member {
	t.Helper()
	m, err := svc.RegisterMember(context.Background(), name, referrerID)
	if err != nil {
		t.Fatalf("RegisterMember(%s): %v", name, err)
	}
	return m
}

func mustQualify(t *testing.T, svc *Service, id string) member.Member {
	t.Helper()
	m, err := svc.Qualify(context.Background(), id)
	if err != nil {
		t.Fatalf("Qualify(%s): %v", id, err)
	}
	return m
}

func TestRegisterMember(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	m := mustRegister(t, svc, "alice", "")
	if m.Stage != member.StageNone {
		t.Fatalf("new member stage = %s, want %s", m.Stage, member.StageNone)
	}
	if _, err := st.GetWallet(ctx, m.ID); err != nil {
		t.Fatalf("wallet not created: %v", err)
	}

	if _, err := svc.RegisterMember(ctx, "bob", "missing"); err == nil {
		t.Fatal("registering under unknown referrer should fail")
	}
}

func TestQualifySeedsFeederMatrix(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	m := mustRegister(t, svc, "alice", "")
	m = mustQualify(t, svc, m.ID)
	if m.Stage != member.StageFeeder {
		t.Fatalf("stage after qualify = %s, want feeder", m.Stage)
	}

	sm, err := st.GetStageMatrix(ctx, m.ID, member.StageFeeder)
	if err != nil {
		t.Fatalf("feeder matrix missing: %v", err)
	}
	if sm.SlotsRequired != 6 || sm.SlotsFilled != 0 || sm.IsComplete {
		t.Fatalf("feeder matrix = %+v, want empty 0/6", sm)
	}

	progress, err := svc.StageProgress(ctx, m.ID)
	if err != nil {
		t.Fatalf("StageProgress: %v", err)
	}
	if len(progress.Progressions) != 1 {
		t.Fatalf("progressions = %d, want 1", len(progress.Progressions))
	}
	if p := progress.Progressions[0]; p.FromStage != member.StageNone || p.ToStage != member.StageFeeder {
		t.Fatalf("progression = %s->%s, want no_stage->feeder", p.FromStage, p.ToStage)
	}
}

func TestQualifyPlacesUnderReferrer(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sponsor := mustRegister(t, svc, "sponsor", "")
	mustQualify(t, svc, sponsor.ID)

	child := mustRegister(t, svc, "child", sponsor.ID)
	mustQualify(t, svc, child.ID)

	occ, err := svc.MatrixOccupancy(ctx, sponsor.ID, member.StageFeeder)
	if err != nil {
		t.Fatalf("MatrixOccupancy: %v", err)
	}
	if occ.Matrix.SlotsFilled != 1 || occ.Matrix.QualifiedSlotsFilled != 1 {
		t.Fatalf("matrix counts = %d/%d, want 1/1", occ.Matrix.SlotsFilled, occ.Matrix.QualifiedSlotsFilled)
	}
	if len(occ.Positions) != 1 || occ.Positions[0].Path != "L" {
		t.Fatalf("positions = %+v, want single slot at L", occ.Positions)
	}

	report, err := svc.EarningsByStage(ctx, sponsor.ID)
	if err != nil {
		t.Fatalf("EarningsByStage: %v", err)
	}
	if report.Total != 150 {
		t.Fatalf("sponsor total = %d cents, want 150", report.Total)
	}
}

func TestFeederCompletionPromotesSponsor(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sponsor := mustRegister(t, svc, "sponsor", "")
	mustQualify(t, svc, sponsor.ID)

	for i := 0; i < 6; i++ {
		child := mustRegister(t, svc, fmt.Sprintf("child-%d", i), sponsor.ID)
		mustQualify(t, svc, child.ID)
	}

	got, err := st.GetMember(ctx, sponsor.ID)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if got.Stage != member.StageBronze {
		t.Fatalf("sponsor stage = %s, want bronze", got.Stage)
	}

	feeder, err := st.GetStageMatrix(ctx, sponsor.ID, member.StageFeeder)
	if err != nil {
		t.Fatalf("feeder matrix: %v", err)
	}
	if !feeder.IsComplete || feeder.QualifiedSlotsFilled != 6 {
		t.Fatalf("feeder matrix = %+v, want complete 6/6", feeder)
	}

	bronze, err := st.GetStageMatrix(ctx, sponsor.ID, member.StageBronze)
	if err != nil {
		t.Fatalf("bronze matrix missing after promotion: %v", err)
	}
	if bronze.SlotsRequired != 14 || bronze.SlotsFilled != 0 {
		t.Fatalf("bronze matrix = %+v, want empty 0/14", bronze)
	}

	report, err := svc.EarningsByStage(ctx, sponsor.ID)
	if err != nil {
		t.Fatalf("EarningsByStage: %v", err)
	}
	if report.Total != 900 {
		t.Fatalf("sponsor total = %d cents, want 900", report.Total)
	}
	if len(report.ByStage) != 1 || report.ByStage[0].Stage != member.StageFeeder || report.ByStage[0].Count != 6 {
		t.Fatalf("by stage = %+v, want 6 feeder earnings", report.ByStage)
	}
	if report.Wallet.Balance != 900 || report.Wallet.TotalEarned != 900 {
		t.Fatalf("wallet = %+v, want 900/900", report.Wallet)
	}

	txs, err := svc.Transactions(ctx, sponsor.ID, 0)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txs) != 6 {
		t.Fatalf("transactions = %d, want 6", len(txs))
	}
	for _, tx := range txs {
		if tx.Type != ledger.TxMLMEarning || tx.Amount != 150 {
			t.Fatalf("transaction = %+v, want mlm_earning of 150", tx)
		}
	}
}

func TestPromotionCascadesToUpline(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	root := mustRegister(t, svc, "root", "")
	mustQualify(t, svc, root.ID)

	mid := mustRegister(t, svc, "mid", root.ID)
	mustQualify(t, svc, mid.ID)

	for i := 0; i < 6; i++ {
		child := mustRegister(t, svc, fmt.Sprintf("leaf-%d", i), mid.ID)
		mustQualify(t, svc, child.ID)
	}

	gotMid, err := st.GetMember(ctx, mid.ID)
	if err != nil {
		t.Fatalf("GetMember(mid): %v", err)
	}
	if gotMid.Stage != member.StageBronze {
		t.Fatalf("mid stage = %s, want bronze", gotMid.Stage)
	}

	// Promotion seats mid in root's bronze matrix and pays the bronze bonus.
	occ, err := svc.MatrixOccupancy(ctx, root.ID, member.StageBronze)
	if err != nil {
		t.Fatalf("root bronze occupancy: %v", err)
	}
	if occ.Matrix.SlotsFilled != 1 || occ.Matrix.QualifiedSlotsFilled != 1 {
		t.Fatalf("root bronze counts = %d/%d, want 1/1", occ.Matrix.SlotsFilled, occ.Matrix.QualifiedSlotsFilled)
	}
	if len(occ.Positions) != 1 || occ.Positions[0].MemberID != mid.ID {
		t.Fatalf("root bronze positions = %+v, want mid at L", occ.Positions)
	}

	report, err := svc.EarningsByStage(ctx, root.ID)
	if err != nil {
		t.Fatalf("EarningsByStage(root): %v", err)
	}
	// 150 for mid's feeder placement plus 480 for the bronze one.
	if report.Total != 630 {
		t.Fatalf("root total = %d cents, want 630", report.Total)
	}
}

func TestPlacementIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sponsor := mustRegister(t, svc, "sponsor", "")
	mustQualify(t, svc, sponsor.ID)
	child := mustRegister(t, svc, "child", "")
	mustQualify(t, svc, child.ID)

	first, err := svc.PlaceInMatrix(ctx, sponsor.ID, child.ID, member.StageFeeder)
	if err != nil {
		t.Fatalf("first placement: %v", err)
	}
	if first.Duplicate || !first.Qualified {
		t.Fatalf("first placement = %+v, want fresh qualified", first)
	}

	second, err := svc.PlaceInMatrix(ctx, sponsor.ID, child.ID, member.StageFeeder)
	if err != nil {
		t.Fatalf("repeat placement: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("repeat placement = %+v, want duplicate no-op", second)
	}
	if second.Position.Path != first.Position.Path {
		t.Fatalf("duplicate path = %q, want %q", second.Position.Path, first.Position.Path)
	}

	occ, err := svc.MatrixOccupancy(ctx, sponsor.ID, member.StageFeeder)
	if err != nil {
		t.Fatalf("MatrixOccupancy: %v", err)
	}
	if occ.Matrix.SlotsFilled != 1 {
		t.Fatalf("slots after duplicate = %d, want 1", occ.Matrix.SlotsFilled)
	}

	report, err := svc.EarningsByStage(ctx, sponsor.ID)
	if err != nil {
		t.Fatalf("EarningsByStage: %v", err)
	}
	if report.Total != 150 {
		t.Fatalf("sponsor total = %d cents, want a single 150 bonus", report.Total)
	}
}

func TestPlacementUnderSecondSponsorRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	s1 := mustRegister(t, svc, "sponsor-1", "")
	mustQualify(t, svc, s1.ID)
	s2 := mustRegister(t, svc, "sponsor-2", "")
	mustQualify(t, svc, s2.ID)
	child := mustRegister(t, svc, "child", "")
	mustQualify(t, svc, child.ID)

	if _, err := svc.PlaceInMatrix(ctx, s1.ID, child.ID, member.StageFeeder); err != nil {
		t.Fatalf("first placement: %v", err)
	}
	if _, err := svc.PlaceInMatrix(ctx, s2.ID, child.ID, member.StageFeeder); !errors.Is(err, ErrAlreadyPlaced) {
		t.Fatalf("second sponsor err = %v, want ErrAlreadyPlaced", err)
	}
}

func TestUnqualifiedPlacementPaysOnceOnRequalification(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	owner := mustRegister(t, svc, "owner", "")
	mustQualify(t, svc, owner.ID)
	candidate := mustRegister(t, svc, "candidate", "")

	res, err := svc.PlaceInMatrix(ctx, owner.ID, candidate.ID, member.StageFeeder)
	if err != nil {
		t.Fatalf("placement: %v", err)
	}
	if res.Qualified || res.BonusPaid {
		t.Fatalf("placement of no_stage candidate = %+v, want unqualified", res)
	}

	sm, err := st.GetStageMatrix(ctx, owner.ID, member.StageFeeder)
	if err != nil {
		t.Fatalf("matrix: %v", err)
	}
	if sm.SlotsFilled != 1 || sm.QualifiedSlotsFilled != 0 {
		t.Fatalf("counts = %d/%d, want 1 filled 0 qualified", sm.SlotsFilled, sm.QualifiedSlotsFilled)
	}

	// Qualifying flips the pending membership exactly once.
	mustQualify(t, svc, candidate.ID)

	sm, err = st.GetStageMatrix(ctx, owner.ID, member.StageFeeder)
	if err != nil {
		t.Fatalf("matrix after requalification: %v", err)
	}
	if sm.QualifiedSlotsFilled != 1 {
		t.Fatalf("qualified slots = %d, want 1", sm.QualifiedSlotsFilled)
	}

	report, err := svc.EarningsByStage(ctx, owner.ID)
	if err != nil {
		t.Fatalf("EarningsByStage: %v", err)
	}
	if report.Total != 150 {
		t.Fatalf("owner total = %d cents, want exactly one 150 bonus", report.Total)
	}
	if len(report.ByStage) != 1 || report.ByStage[0].Count != 1 {
		t.Fatalf("by stage = %+v, want one feeder earning", report.ByStage)
	}

	// Explicit re-evaluation afterwards must not pay again.
	if err := svc.ReevaluateMember(ctx, candidate.ID); err != nil {
		t.Fatalf("ReevaluateMember: %v", err)
	}
	report, err = svc.EarningsByStage(ctx, owner.ID)
	if err != nil {
		t.Fatalf("EarningsByStage: %v", err)
	}
	if report.Total != 150 {
		t.Fatalf("owner total after re-run = %d cents, want 150", report.Total)
	}
}

func TestFullMatrixRejectsPlacement(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	owner := mustRegister(t, svc, "owner", "")
	mustQualify(t, svc, owner.ID)

	// Fill all six slots with below-ladder members so the matrix stays
	// incomplete and the owner is never promoted.
	for i := 0; i < 6; i++ {
		c := mustRegister(t, svc, fmt.Sprintf("filler-%d", i), "")
		if _, err := svc.PlaceInMatrix(ctx, owner.ID, c.ID, member.StageFeeder); err != nil {
			t.Fatalf("placement %d: %v", i, err)
		}
	}

	extra := mustRegister(t, svc, "extra", "")
	if _, err := svc.PlaceInMatrix(ctx, owner.ID, extra.ID, member.StageFeeder); !errors.Is(err, ErrNoAvailablePosition) {
		t.Fatalf("placement into full matrix err = %v, want ErrNoAvailablePosition", err)
	}
}

func TestEnterStageRegressionRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m := mustRegister(t, svc, "alice", "")
	mustQualify(t, svc, m.ID)

	if _, err := svc.Qualify(ctx, m.ID); !errors.Is(err, ErrStageRegression) {
		t.Fatalf("second qualify err = %v, want ErrStageRegression", err)
	}
	if _, err := svc.EnterStage(ctx, m.ID, member.StageFeeder); !errors.Is(err, ErrStageRegression) {
		t.Fatalf("re-entry err = %v, want ErrStageRegression", err)
	}
}

func TestUnknownStageIsHardError(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	m := mustRegister(t, svc, "alice", "")
	if _, err := svc.EnterStage(ctx, m.ID, "platinum"); !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("EnterStage(platinum) err = %v, want ErrUnknownStage", err)
	}
	if _, err := svc.PlaceInMatrix(ctx, m.ID, "whoever", "platinum"); !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("PlaceInMatrix(platinum) err = %v, want ErrUnknownStage", err)
	}
	if _, err := svc.MatrixOccupancy(ctx, m.ID, "platinum"); !errors.Is(err, ErrUnknownStage) {
		t.Fatalf("MatrixOccupancy(platinum) err = %v, want ErrUnknownStage", err)
	}
}

func TestSelfSponsorRejected(t *testing.T) {
	svc, _ := newTestService(t)
	m := mustRegister(t, svc, "alice", "")
	if _, err := svc.PlaceInMatrix(context.Background(), m.ID, m.ID, member.StageFeeder); err == nil {
		t.Fatal("self-sponsoring should fail")
	}
}

func TestEnterStageSkipsLevels(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	m := mustRegister(t, svc, "alice", "")
	if _, err := svc.EnterStage(ctx, m.ID, member.StageSilver); err != nil {
		t.Fatalf("EnterStage(silver): %v", err)
	}

	got, err := st.GetMember(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if got.Stage != member.StageSilver {
		t.Fatalf("stage = %s, want silver", got.Stage)
	}
	if _, err := st.GetStageMatrix(ctx, m.ID, member.StageSilver); err != nil {
		t.Fatalf("silver matrix missing: %v", err)
	}
}

func TestConcurrentPlacementsAllocateUniquePaths(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sponsor := mustRegister(t, svc, "sponsor", "")
	mustQualify(t, svc, sponsor.ID)

	candidates := make([]member.Member, 6)
	for i := range candidates {
		c := mustRegister(t, svc, fmt.Sprintf("candidate-%d", i), "")
		mustQualify(t, svc, c.ID)
		candidates[i] = c
	}

	results := make([]Placement, len(candidates))
	errs := make([]error, len(candidates))
	var wg sync.WaitGroup
	for i := range candidates {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.PlaceInMatrix(ctx, sponsor.ID, candidates[i].ID, member.StageFeeder)
		}(i)
	}
	wg.Wait()

	paths := make(map[string]int)
	for i := range candidates {
		if errs[i] != nil {
			t.Fatalf("placement %d: %v", i, errs[i])
		}
		if results[i].Duplicate {
			t.Fatalf("placement %d flagged duplicate", i)
		}
		if prev, taken := paths[results[i].Position.Path]; taken {
			t.Fatalf("path %q allocated to placements %d and %d", results[i].Position.Path, prev, i)
		}
		paths[results[i].Position.Path] = i
	}
	if len(paths) != 6 {
		t.Fatalf("distinct paths = %d, want 6", len(paths))
	}

	sm, err := st.GetStageMatrix(ctx, sponsor.ID, member.StageFeeder)
	if err != nil {
		t.Fatalf("feeder matrix: %v", err)
	}
	if sm.SlotsFilled != 6 || sm.QualifiedSlotsFilled != 6 || !sm.IsComplete {
		t.Fatalf("feeder matrix = %+v, want complete 6/6", sm)
	}

	got, err := st.GetMember(ctx, sponsor.ID)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if got.Stage != member.StageBronze {
		t.Fatalf("sponsor stage = %s, want bronze", got.Stage)
	}
	progress, err := svc.StageProgress(ctx, sponsor.ID)
	if err != nil {
		t.Fatalf("StageProgress: %v", err)
	}
	promotions := 0
	for _, p := range progress.Progressions {
		if p.ToStage == member.StageBronze {
			promotions++
		}
	}
	if promotions != 1 {
		t.Fatalf("promotions to bronze = %d, want exactly 1", promotions)
	}

	w, err := st.GetWallet(ctx, sponsor.ID)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if w.TotalEarned != ledger.Cents(900) {
		t.Fatalf("sponsor earned %d, want 900", w.TotalEarned)
	}
}

func TestConcurrentDuplicateDeliveries(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	sponsor := mustRegister(t, svc, "sponsor", "")
	mustQualify(t, svc, sponsor.ID)
	candidate := mustRegister(t, svc, "candidate", "")
	mustQualify(t, svc, candidate.ID)

	const deliveries = 8
	results := make([]Placement, deliveries)
	errs := make([]error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.PlaceInMatrix(ctx, sponsor.ID, candidate.ID, member.StageFeeder)
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < deliveries; i++ {
		if errs[i] != nil {
			t.Fatalf("delivery %d: %v", i, errs[i])
		}
		if !results[i].Duplicate {
			fresh++
		}
		if results[i].Position.Path != "L" {
			t.Fatalf("delivery %d path = %q, want L", i, results[i].Position.Path)
		}
	}
	if fresh != 1 {
		t.Fatalf("fresh placements = %d, want exactly 1", fresh)
	}

	sm, err := st.GetStageMatrix(ctx, sponsor.ID, member.StageFeeder)
	if err != nil {
		t.Fatalf("feeder matrix: %v", err)
	}
	if sm.SlotsFilled != 1 {
		t.Fatalf("slots filled = %d, want 1", sm.SlotsFilled)
	}
	w, err := st.GetWallet(ctx, sponsor.ID)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if w.TotalEarned != ledger.Cents(150) {
		t.Fatalf("sponsor earned %d, want 150", w.TotalEarned)
	}
}

func TestCorruptPositionPathFailsOccupancy(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	owner := mustRegister(t, svc, "owner", "")
	mustQualify(t, svc, owner.ID)
	if _, err := st.CreatePosition(ctx, domain.Position{
		MemberID:  "intruder",
		SponsorID: owner.ID,
		Stage:     member.StageFeeder,
		Path:      "LXL",
		Depth:     3,
	}); err != nil {
		t.Fatalf("CreatePosition: %v", err)
	}

	if _, err := svc.MatrixOccupancy(ctx, owner.ID, member.StageFeeder); err == nil {
		t.Fatal("occupancy over a malformed path should fail")
	}
}
