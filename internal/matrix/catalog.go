package matrix

import (
	"fmt"

	"github.com/celvios/baobab-mlm-sub002/internal/domain/ledger"
	"github.com/celvios/baobab-mlm-sub002/internal/domain/member"
)

// StageConfig describes the matrix shape and bonus for one stage.
type StageConfig struct {
	Stage          member.Stage
	Levels         int
	TotalSlots     int
	EarningPerSlot ledger.Amount
	// Next is the succeeding stage; empty for the terminal stage.
	Next member.Stage
}

// Terminal reports whether the stage has no successor.
func (c StageConfig) Terminal() bool { return c.Next == "" }

// catalog holds the fixed stage ladder. Slot counts are full binary trees
// of the configured depth (2 levels = 6 slots, 3 levels = 14). Bonuses are
// in cents and must not change without a corresponding ledger migration.
var catalog = map[member.Stage]StageConfig{
	member.StageFeeder:   {Stage: member.StageFeeder, Levels: 2, TotalSlots: 6, EarningPerSlot: ledger.Cents(150), Next: member.StageBronze},
	member.StageBronze:   {Stage: member.StageBronze, Levels: 3, TotalSlots: 14, EarningPerSlot: ledger.Cents(480), Next: member.StageSilver},
	member.StageSilver:   {Stage: member.StageSilver, Levels: 3, TotalSlots: 14, EarningPerSlot: ledger.Cents(3000), Next: member.StageGold},
	member.StageGold:     {Stage: member.StageGold, Levels: 3, TotalSlots: 14, EarningPerSlot: ledger.Cents(15000), Next: member.StageDiamond},
	member.StageDiamond:  {Stage: member.StageDiamond, Levels: 3, TotalSlots: 14, EarningPerSlot: ledger.Cents(75000), Next: member.StageInfinity},
	member.StageInfinity: {Stage: member.StageInfinity, Levels: 3, TotalSlots: 14, EarningPerSlot: ledger.Cents(1500000), Next: ""},
}

// Every ladder stage must have a catalog entry and every Next pointer must
// stay on the ladder; a gap would strand promotions mid-cascade.
func init() {
	for _, s := range member.Stages() {
		cfg, ok := catalog[s]
		if !ok {
			panic(fmt.Sprintf("stage catalog: ladder stage %s has no configuration", s))
		}
		if !cfg.Terminal() {
			if _, ok := catalog[cfg.Next]; !ok {
				panic(fmt.Sprintf("stage catalog: %s advances to unconfigured stage %s", s, cfg.Next))
			}
		}
	}
}

// StageConfigFor returns the configuration for a stage. Unknown stages are
// a hard error; the engine never falls back to the feeder configuration.
func StageConfigFor(stage member.Stage) (StageConfig, error) {
	cfg, ok := catalog[stage]
	if !ok {
		return StageConfig{}, fmt.Errorf("%w: %q", ErrUnknownStage, stage)
	}
	return cfg, nil
}

// NextStage returns the stage succeeding the given one; ok is false when
// the stage is terminal or unknown.
func NextStage(stage member.Stage) (member.Stage, bool) {
	cfg, ok := catalog[stage]
	if !ok || cfg.Terminal() {
		return "", false
	}
	return cfg.Next, true
}
