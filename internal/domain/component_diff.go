package domain

import (
	"fmt"
	"strings"
	"time"
)

// ComponentSnapshot is the state of a component at one version, as needed for diffing.
type ComponentSnapshot struct {
	Version   int
	UpdatedBy string
	State     Component
}

// NewComponentSnapshotFromHistory creates a snapshot from a history entry.
func NewComponentSnapshotFromHistory(entry HistoryEntry) ComponentSnapshot {
	return ComponentSnapshot{
		Version:   entry.Version,
		UpdatedBy: entry.UpdatedBy,
		State:     entry.FullState,
	}
}

// CanonicalText flattens the snapshot into a deterministic set of lines suitable for diffing.
func (s ComponentSnapshot) CanonicalText() []string {
	lines := []string{
		fmt.Sprintf("ID: %s", s.State.ID),
		fmt.Sprintf("Version: %d", s.Version),
		fmt.Sprintf("UpdatedBy: %s", s.UpdatedBy),
		fmt.Sprintf("UpdateDate: %s", s.State.UpdateDate.UTC().Format(time.RFC3339Nano)),
		"Fields:",
	}
	for _, field := range MutableFields {
		value := s.State.FieldValue(field)
		if value == "" {
			value = "(empty)"
		}
		lines = append(lines, fmt.Sprintf("  %s: %s", field, value))
	}
	return lines
}

// DiffComponentSnapshots produces a unified diff between two snapshots using the provided labels.
// A nil snapshot diffs as empty content.
func DiffComponentSnapshots(baseLabel string, base *ComponentSnapshot, targetLabel string, target *ComponentSnapshot) string {
	return buildUnifiedDiff(baseLabel, targetLabel, snapshotLines(base), snapshotLines(target))
}

func snapshotLines(snapshot *ComponentSnapshot) []string {
	if snapshot == nil {
		return nil
	}
	return snapshot.CanonicalText()
}

type diffOp struct {
	prefix string
	line   string
}

func buildUnifiedDiff(baseLabel, targetLabel string, baseLines, targetLines []string) string {
	ops := diffLines(baseLines, targetLines)

	var builder strings.Builder
	fmt.Fprintf(&builder, "--- %s\n", baseLabel)
	fmt.Fprintf(&builder, "+++ %s\n", targetLabel)
	fmt.Fprintf(&builder, "@@ -1,%d +1,%d @@\n", len(baseLines), len(targetLines))
	for _, op := range ops {
		builder.WriteString(op.prefix)
		builder.WriteString(op.line)
		builder.WriteString("\n")
	}
	return builder.String()
}

// diffLines walks a longest-common-subsequence table to emit keep/remove/add operations.
func diffLines(base, target []string) []diffOp {
	m, n := len(base), len(target)
	lcs := make([][]int, m+1)
	for i := range lcs {
		lcs[i] = make([]int, n+1)
	}
	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			switch {
			case base[i] == target[j]:
				lcs[i][j] = lcs[i+1][j+1] + 1
			case lcs[i+1][j] >= lcs[i][j+1]:
				lcs[i][j] = lcs[i+1][j]
			default:
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	ops := make([]diffOp, 0, m+n)
	i, j := 0, 0
	for i < m && j < n {
		switch {
		case base[i] == target[j]:
			ops = append(ops, diffOp{prefix: " ", line: base[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			ops = append(ops, diffOp{prefix: "-", line: base[i]})
			i++
		default:
			ops = append(ops, diffOp{prefix: "+", line: target[j]})
			j++
		}
	}
	for ; i < m; i++ {
		ops = append(ops, diffOp{prefix: "-", line: base[i]})
	}
	for ; j < n; j++ {
		ops = append(ops, diffOp{prefix: "+", line: target[j]})
	}
	return ops
}
