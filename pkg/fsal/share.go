package fsal

// shareState tracks how many active opens hold each access and deny bit on
// one object. The counters compensate for the storage library's lack of a
// file-descriptor abstraction: many logical opens share one storage-layer
// open, and the counters decide when conflicts exist and when the storage
// open may finally be closed.
//
// All access goes through the owning Handle's lock. The check and the
// counter update for one open must happen in the same critical section, or
// two racing opens could both pass the check and both be granted.
type shareState struct {
	accessRead    uint32
	accessWrite   uint32
	denyRead      uint32
	denyWrite     uint32
	denyWriteMand uint32
}

// isEmpty reports whether no open holds any reservation, i.e. the share is
// back in the CLOSED state.
func (s *shareState) isEmpty() bool {
	return *s == shareState{}
}

// checkShareConflict decides whether an open with the given flags is
// compatible with the reservations already held: requested access against
// existing deny bits, requested deny against existing access bits. bypass
// skips advisory deny bits (used by special stateless openers) but never
// the mandatory deny-write.
//
// Read-only state check, no mutation. Callers hold the object lock.
func checkShareConflict(s *shareState, flags OpenFlags, bypass bool) error {
	if flags&OpenRead != 0 {
		if !bypass && s.denyRead > 0 {
			return Status{Code: CodeShareDenied, Message: "read access denied by existing reservation"}
		}
	}
	if flags&OpenWrite != 0 {
		if (!bypass && s.denyWrite > 0) || s.denyWriteMand > 0 {
			return Status{Code: CodeShareDenied, Message: "write access denied by existing reservation"}
		}
	}
	if flags&OpenDenyRead != 0 && s.accessRead > 0 {
		return Status{Code: CodeShareDenied, Message: "deny-read conflicts with existing read opens"}
	}
	if flags&(OpenDenyWrite|OpenDenyWriteMand) != 0 && s.accessWrite > 0 {
		return Status{Code: CodeShareDenied, Message: "deny-write conflicts with existing write opens"}
	}
	return nil
}

// updateShareCounters moves one open's reservation from old to new flags in
// a single step. Passing OpenClosed for old registers a fresh open; passing
// OpenClosed for new releases one. Callers hold the object lock and have
// already run checkShareConflict in the same critical section.
func updateShareCounters(s *shareState, old, new OpenFlags) {
	if old&OpenRead != 0 {
		s.accessRead--
	}
	if old&OpenWrite != 0 {
		s.accessWrite--
	}
	if old&OpenDenyRead != 0 {
		s.denyRead--
	}
	if old&OpenDenyWrite != 0 {
		s.denyWrite--
	}
	if old&OpenDenyWriteMand != 0 {
		s.denyWriteMand--
	}

	if new&OpenRead != 0 {
		s.accessRead++
	}
	if new&OpenWrite != 0 {
		s.accessWrite++
	}
	if new&OpenDenyRead != 0 {
		s.denyRead++
	}
	if new&OpenDenyWrite != 0 {
		s.denyWrite++
	}
	if new&OpenDenyWriteMand != 0 {
		s.denyWriteMand++
	}
}
