package matrix

import "strings"

// Branch tokens for matrix paths. A path is the concatenation of tokens
// from the matrix root, e.g. "L", "LR", "RRL".
const (
	branchLeft  = "L"
	branchRight = "R"
)

// PathsForLevels enumerates every legal path for a matrix of the given
// depth in fixed pre-order: at each node the left subtree is emitted before
// the right one. The order is the allocation tie-break and must never
// change; repeated calls against the same occupied set have to produce the
// same next slot for retries to stay idempotent.
func PathsForLevels(levels int) []string {
	if levels <= 0 {
		return nil
	}
	// 2^(levels+1) - 2 paths for a full binary tree of that depth.
	paths := make([]string, 0, (1<<(levels+1))-2)
	var walk func(prefix string)
	walk = func(prefix string) {
		if len(prefix) >= levels {
			return
		}
		for _, b := range []string{branchLeft, branchRight} {
			p := prefix + b
			paths = append(paths, p)
			walk(p)
		}
	}
	walk("")
	return paths
}

// NextFreePosition returns the first pre-order path not present in
// occupied, along with its depth. ok is false when every slot is taken.
// Read-only: persisting the chosen path is the caller's job, inside the
// same transaction that snapshotted the occupied set.
func NextFreePosition(occupied map[string]bool, levels int) (path string, depth int, ok bool) {
	for _, p := range PathsForLevels(levels) {
		if !occupied[p] {
			return p, len(p), true
		}
	}
	return "", 0, false
}

// ValidPath reports whether a stored path is well-formed for the given
// depth. Used by occupancy reads to reject corrupt rows early.
func ValidPath(path string, levels int) bool {
	if path == "" || len(path) > levels {
		return false
	}
	return strings.Trim(path, branchLeft+branchRight) == ""
}
