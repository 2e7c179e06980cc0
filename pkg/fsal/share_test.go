package fsal

import (
	"testing"
)

// shareModes enumerates the access/deny combinations NFS share semantics
// use: three access levels crossed with three deny levels.
func shareModes() []OpenFlags {
	accesses := []OpenFlags{OpenRead, OpenWrite, OpenReadWrite}
	denies := []OpenFlags{0, OpenDenyRead, OpenDenyWrite, OpenDenyRead | OpenDenyWrite}

	var modes []OpenFlags
	for _, a := range accesses {
		for _, d := range denies {
			modes = append(modes, a|d)
		}
	}
	return modes
}

// conflictsByDefinition restates a share conflict from first principles: A's
// access intersects B's deny, or B's access intersects A's deny.
func conflictsByDefinition(a, b OpenFlags) bool {
	if a.Reading() && b&OpenDenyRead != 0 {
		return true
	}
	if a.Writing() && b&(OpenDenyWrite|OpenDenyWriteMand) != 0 {
		return true
	}
	if b.Reading() && a&OpenDenyRead != 0 {
		return true
	}
	if b.Writing() && a&(OpenDenyWrite|OpenDenyWriteMand) != 0 {
		return true
	}
	return false
}

func TestCheckShareConflict_Matrix(t *testing.T) {
	for _, held := range shareModes() {
		for _, requested := range shareModes() {
			var share shareState
			updateShareCounters(&share, OpenClosed, held)

			err := checkShareConflict(&share, requested, false)
			gotConflict := err != nil
			wantConflict := conflictsByDefinition(requested, held)

			if gotConflict != wantConflict {
				t.Errorf("held=%#x requested=%#x: conflict=%v, want %v",
					held, requested, gotConflict, wantConflict)
			}
		}
	}
}

func TestCheckShareConflict_Symmetric(t *testing.T) {
	// If A conflicts with held B, then B must conflict with held A.
	for _, a := range shareModes() {
		for _, b := range shareModes() {
			var holdB, holdA shareState
			updateShareCounters(&holdB, OpenClosed, b)
			updateShareCounters(&holdA, OpenClosed, a)

			aVsB := checkShareConflict(&holdB, a, false) != nil
			bVsA := checkShareConflict(&holdA, b, false) != nil
			if aVsB != bVsA {
				t.Errorf("asymmetric conflict: a=%#x b=%#x: %v vs %v", a, b, aVsB, bVsA)
			}
		}
	}
}

func TestCheckShareConflict_NoStateChange(t *testing.T) {
	var share shareState
	updateShareCounters(&share, OpenClosed, OpenRead|OpenDenyWrite)
	before := share

	// Denied check must not mutate.
	if err := checkShareConflict(&share, OpenWrite, false); err == nil {
		t.Fatal("expected conflict for write vs deny-write")
	}
	if share != before {
		t.Errorf("checkShareConflict mutated state: %+v -> %+v", before, share)
	}

	// Granted check must not mutate either.
	if err := checkShareConflict(&share, OpenRead, false); err != nil {
		t.Fatalf("unexpected conflict: %v", err)
	}
	if share != before {
		t.Errorf("checkShareConflict mutated state on success: %+v -> %+v", before, share)
	}
}

func TestCheckShareConflict_BypassSkipsAdvisoryDenies(t *testing.T) {
	var share shareState
	updateShareCounters(&share, OpenClosed, OpenRead|OpenDenyRead|OpenDenyWrite)

	if err := checkShareConflict(&share, OpenReadWrite, true); err != nil {
		t.Errorf("bypass should skip advisory deny bits, got %v", err)
	}

	// Mandatory deny-write holds even under bypass.
	updateShareCounters(&share, OpenClosed, OpenRead|OpenDenyWriteMand)
	if err := checkShareConflict(&share, OpenWrite, true); err == nil {
		t.Error("bypass must not skip mandatory deny-write")
	}
}

func TestUpdateShareCounters_SwapAndDrain(t *testing.T) {
	var share shareState

	updateShareCounters(&share, OpenClosed, OpenRead|OpenDenyWrite)
	updateShareCounters(&share, OpenClosed, OpenRead)
	if share.accessRead != 2 || share.denyWrite != 1 {
		t.Fatalf("unexpected counters: %+v", share)
	}

	// Upgrade the first open read -> read/write in one swap.
	updateShareCounters(&share, OpenRead|OpenDenyWrite, OpenReadWrite|OpenDenyWrite)
	if share.accessRead != 2 || share.accessWrite != 1 || share.denyWrite != 1 {
		t.Fatalf("unexpected counters after swap: %+v", share)
	}

	// Drain both opens; the share must return to CLOSED.
	updateShareCounters(&share, OpenReadWrite|OpenDenyWrite, OpenClosed)
	updateShareCounters(&share, OpenRead, OpenClosed)
	if !share.isEmpty() {
		t.Errorf("share not empty after all releases: %+v", share)
	}
}
