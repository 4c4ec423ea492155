package matrix

import "github.com/celvios/baobab-mlm-sub002/internal/domain/member"

// IsQualified reports whether a candidate counts toward a sponsor's
// stage-N matrix. The rule: the candidate must have completed stage N-1,
// which on the ladder means their current stage is at or above N
// (completing a stage promotes the member into the next one). Members
// still below the ladder (no_stage) never qualify.
//
// Placement does not wait for qualification: an unqualified candidate
// occupies a slot without counting toward completion or paying a bonus.
// When the candidate later moves up the ladder the membership is re-gated
// (see Service.ReevaluateMember), which is the only way IsQualified flips.
func IsQualified(candidate member.Stage, matrixStage member.Stage) bool {
	co, mo := candidate.Order(), matrixStage.Order()
	if co <= 0 || mo <= 0 {
		return false
	}
	return co >= mo
}
