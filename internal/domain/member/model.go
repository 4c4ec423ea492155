// Package member defines participant records and the stage ladder.
package member

import (
	"fmt"
	"time"
)

// Stage is one tier of the progression ladder. Members start below the
// ladder at StageNone and only move upward.
type Stage string

const (
	StageNone     Stage = "no_stage"
	StageFeeder   Stage = "feeder"
	StageBronze   Stage = "bronze"
	StageSilver   Stage = "silver"
	StageGold     Stage = "gold"
	StageDiamond  Stage = "diamond"
	StageInfinity Stage = "infinity"
)

// ladder lists the matrix stages in promotion order. StageNone sits below
// the ladder and never owns a matrix.
var ladder = []Stage{StageFeeder, StageBronze, StageSilver, StageGold, StageDiamond, StageInfinity}

// Stages returns the matrix stages in promotion order.
func Stages() []Stage {
	out := make([]Stage, len(ladder))
	copy(out, ladder)
	return out
}

// Order returns the position of s on the ladder: 0 for StageNone, 1 for
// feeder, up to 6 for infinity. Unknown stages report -1.
func (s Stage) Order() int {
	if s == StageNone {
		return 0
	}
	for i, st := range ladder {
		if st == s {
			return i + 1
		}
	}
	return -1
}

// Valid reports whether s names a matrix stage (StageNone excluded).
func (s Stage) Valid() bool {
	return s.Order() > 0
}

// ParseStage converts a wire value into a Stage. StageNone is accepted so
// callers can round-trip member records.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if s == StageNone || s.Valid() {
		return s, nil
	}
	return "", fmt.Errorf("unknown stage %q", raw)
}

// Member is a platform participant. Stage is mutated only by the matrix
// service on completion events; ReferrerID is fixed at registration.
type Member struct {
	ID         string
	Name       string
	ReferrerID string
	Stage      Stage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
