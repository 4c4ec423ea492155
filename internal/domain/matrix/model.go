// Package matrix defines the positional-matrix records tracked per member
// and stage.
package matrix

import (
	"time"

	"github.com/celvios/baobab-mlm-sub002/internal/domain/member"
)

// StageMatrix tracks slot fill state for one (member, stage) pair.
// Invariant: QualifiedSlotsFilled <= SlotsFilled <= SlotsRequired, and
// IsComplete holds exactly when QualifiedSlotsFilled >= SlotsRequired.
type StageMatrix struct {
	ID                   string
	MemberID             string
	Stage                member.Stage
	SlotsFilled          int
	QualifiedSlotsFilled int
	SlotsRequired        int
	IsComplete           bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Position records where a member sits inside a sponsor's matrix for a
// stage. Path is a branch-token string ("L", "LR", "RRL"); Depth equals
// len(Path). A member holds at most one position per stage, and no two
// positions under the same sponsor and stage share a path. Immutable once
// created.
type Position struct {
	ID        string
	MemberID  string
	SponsorID string
	Stage     member.Stage
	Path      string
	Depth     int
	CreatedAt time.Time
}

// Membership links a matrix owner to each member placed beneath them for a
// stage. IsQualified is monotonic: once true it never reverts. StageAtPlacement
// preserves the member's ladder position at the moment of placement.
type Membership struct {
	ID               string
	MatrixOwnerID    string
	MemberID         string
	Stage            member.Stage
	StageAtPlacement member.Stage
	IsQualified      bool
	QualifiedAt      time.Time
	CreatedAt        time.Time
}

// Progression is the append-only record of a stage promotion.
type Progression struct {
	ID          string
	MemberID    string
	FromStage   member.Stage
	ToStage     member.Stage
	MatrixCount int
	CreatedAt   time.Time
}
