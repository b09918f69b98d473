package domain

import (
	"strings"
	"testing"
	"time"
)

func diffFixture() (ComponentSnapshot, ComponentSnapshot) {
	state := Component{
		ID:           "c-1",
		SerialNumber: "AB-12",
		Type:         "Thermal",
		DateReceived: NewDate(2024, time.March, 1),
		ArrivedFrom:  "Depot",
		Status:       StatusInProcess,
		UpdateDate:   time.Date(2024, time.March, 1, 8, 0, 0, 0, time.UTC),
	}
	next := state
	next.Status = StatusFaulty
	next.PrimaryFault = "Cracked"
	next.UpdateDate = state.UpdateDate.Add(time.Hour)
	return ComponentSnapshot{Version: 1, UpdatedBy: "system", State: state},
		ComponentSnapshot{Version: 2, UpdatedBy: "alice", State: next}
}

func TestComponentSnapshotCanonicalText(t *testing.T) {
	base, _ := diffFixture()

	expected := []string{
		"ID: c-1",
		"Version: 1",
		"UpdatedBy: system",
		"UpdateDate: 2024-03-01T08:00:00Z",
		"Fields:",
		"  serialNumber: AB-12",
		"  type: Thermal",
		"  dateReceived: 2024-03-01",
		"  arrivedFrom: Depot",
		"  primaryFault: (empty)",
		"  secondaryFault: (empty)",
		"  status: in-process",
	}
	lines := base.CanonicalText()
	if len(lines) != len(expected) {
		t.Fatalf("expected %d canonical lines, got %d\n%v", len(expected), len(lines), lines)
	}
	for idx, line := range expected {
		if lines[idx] != line {
			t.Errorf("line %d mismatch: expected %q got %q", idx, line, lines[idx])
		}
	}
}

func TestDiffComponentSnapshots(t *testing.T) {
	base, target := diffFixture()

	diff := DiffComponentSnapshots("c-1@v1", &base, "c-1@v2", &target)
	lines := strings.Split(strings.TrimSuffix(diff, "\n"), "\n")

	if lines[0] != "--- c-1@v1" || lines[1] != "+++ c-1@v2" {
		t.Fatalf("unexpected diff header:\n%s", diff)
	}
	if lines[2] != "@@ -1,12 +1,12 @@" {
		t.Fatalf("unexpected hunk header %q", lines[2])
	}

	for _, want := range []string{
		"-  status: in-process",
		"+  status: faulty",
		"-  primaryFault: (empty)",
		"+  primaryFault: Cracked",
		"-UpdatedBy: system",
		"+UpdatedBy: alice",
		"   serialNumber: AB-12",
	} {
		if !strings.Contains(diff, want+"\n") {
			t.Errorf("diff missing %q:\n%s", want, diff)
		}
	}
}

func TestDiffAgainstMissingSnapshot(t *testing.T) {
	_, target := diffFixture()

	diff := DiffComponentSnapshots("(none)", nil, "c-1@v2", &target)
	if !strings.Contains(diff, "@@ -1,0 +1,12 @@") {
		t.Fatalf("expected empty base hunk, got:\n%s", diff)
	}
	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n")[3:] {
		if !strings.HasPrefix(line, "+") {
			t.Errorf("expected only additions, got %q", line)
		}
	}
}
