package matrix

import (
	"errors"
	"testing"

	"github.com/celvios/baobab-mlm-sub002/internal/domain/ledger"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/member"
)

func TestStageConfigValues(t *testing.T) {
	cases := []struct {
		stage  member.Stage
		levels int
		slots  int
		bonus  ledger.Amount
		next   member.Stage
	}{
		{member.StageFeeder, 2, 6, 150, member.StageBronze},
		{member.StageBronze, 3, 14, 480, member.StageSilver},
		{member.StageSilver, 3, 14, 3000, member.StageGold},
		{member.StageGold, 3, 14, 15000, member.StageDiamond},
		{member.StageDiamond, 3, 14, 75000, member.StageInfinity},
		{member.StageInfinity, 3, 14, 1500000, ""},
	}
	for _, tc := range cases {
		cfg, err := StageConfigFor(tc.stage)
		if err != nil {
			t.Fatalf("StageConfigFor(%s): %v", tc.stage, err)
		}
		if cfg.Levels != tc.levels {
			t.Errorf("%s levels = %d, want %d", tc.stage, cfg.Levels, tc.levels)
		}
		if cfg.TotalSlots != tc.slots {
			t.Errorf("%s slots = %d, want %d", tc.stage, cfg.TotalSlots, tc.slots)
		}
		if cfg.EarningPerSlot != tc.bonus {
			t.Errorf("%s bonus = %d, want %d", tc.stage, cfg.EarningPerSlot, tc.bonus)
		}
		if cfg.Next != tc.next {
			t.Errorf("%s next = %q, want %q", tc.stage, cfg.Next, tc.next)
		}
		if cfg.Terminal() != (tc.next == "") {
			t.Errorf("%s terminal = %v, want %v", tc.stage, cfg.Terminal(), tc.next == "")
		}
	}
}

func TestStageConfigForUnknown(t *testing.T) {
	for _, stage := range []member.Stage{"platinum", "", member.StageNone} {
		if _, err := StageConfigFor(stage); !errors.Is(err, ErrUnknownStage) {
			t.Errorf("StageConfigFor(%q) err = %v, want ErrUnknownStage", stage, err)
		}
	}
}

func TestNextStageChain(t *testing.T) {
	want := []member.Stage{
		member.StageBronze, member.StageSilver, member.StageGold,
		member.StageDiamond, member.StageInfinity,
	}
	cur := member.StageFeeder
	for _, expected := range want {
		next, ok := NextStage(cur)
		if !ok {
			t.Fatalf("NextStage(%s) not ok", cur)
		}
		if next != expected {
			t.Fatalf("NextStage(%s) = %s, want %s", cur, next, expected)
		}
		cur = next
	}
	if next, ok := NextStage(member.StageInfinity); ok {
		t.Fatalf("NextStage(infinity) = %s, want terminal", next)
	}
	if _, ok := NextStage("platinum"); ok {
		t.Fatal("NextStage(platinum) should not resolve")
	}
}

func TestCatalogCoversLadder(t *testing.T) {
	for _, s := range member.Stages() {
		cfg, err := StageConfigFor(s)
		if err != nil {
			t.Fatalf("StageConfigFor(%s): %v", s, err)
		}
		if !cfg.Terminal() {
			if _, err := StageConfigFor(cfg.Next); err != nil {
				t.Fatalf("%s advances to unconfigured stage %s", s, cfg.Next)
			}
		}
	}
}
