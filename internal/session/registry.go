package session

import (
	"sort"
	"sync"
	"time"

	"github.com/t-henke/glaskasten/internal/errdefs"
)

// Record states. A terminating record is invisible to lookups and exists
// only so a failed teardown can be retried while still counting against
// capacity.
const (
	stateLive        = "live"
	stateTerminating = "terminating"
)

type record struct {
	snap  Snapshot
	state string
	gate  *gate
}

// Snapshot is a point-in-time copy of one session's registry entry.
type Snapshot struct {
	ID          string
	ContainerID string
	HostPort    int
	Workspace   string
	CreatedAt   time.Time
	LastUsedAt  time.Time
	IdleTimeout time.Duration
}

// Idle reports whether the session has gone unused for its whole idle window.
func (s Snapshot) Idle(now time.Time) bool {
	return now.Sub(s.LastUsedAt) >= s.IdleTimeout
}

// Registry is the in-memory session table. A single mutex guards it and is
// never held across I/O. Capacity counts live, terminating and reserved
// slots together, so a create cannot slip past the cap while a teardown is
// stuck or another create is mid-flight.
type Registry struct {
	mu       sync.Mutex
	max      int
	records  map[string]*record
	reserved int
}

func NewRegistry(maxSessions int) *Registry {
	return &Registry{
		max:     maxSessions,
		records: make(map[string]*record),
	}
}

// Reserve claims a capacity slot ahead of the container create. Every
// successful Reserve must be paired with exactly one Commit or Unreserve.
func (r *Registry) Reserve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records)+r.reserved >= r.max {
		return errdefs.New(errdefs.CodeCapacityExhausted, "session limit reached (%d)", r.max).
			WithDetails(map[string]any{"max_sessions": r.max})
	}
	r.reserved++
	return nil
}

// Unreserve releases a slot claimed by Reserve after a failed create.
func (r *Registry) Unreserve() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserved > 0 {
		r.reserved--
	}
}

// Commit turns a reservation into a live record.
func (r *Registry) Commit(snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[snap.ID]; exists {
		return errdefs.New(errdefs.CodeInternal, "session id collision: %s", snap.ID)
	}
	if r.reserved > 0 {
		r.reserved--
	}
	r.records[snap.ID] = &record{snap: snap, state: stateLive, gate: newGate()}
	return nil
}

// Lookup returns a live session's snapshot.
func (r *Registry) Lookup(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.state != stateLive {
		return Snapshot{}, errdefs.New(errdefs.CodeSessionNotFound, "session %s not found", id)
	}
	return rec.snap, nil
}

// gateFor returns the execute gate of a live session.
func (r *Registry) gateFor(id string) (*gate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.state != stateLive {
		return nil, errdefs.New(errdefs.CodeSessionNotFound, "session %s not found", id)
	}
	return rec.gate, nil
}

// Touch advances last_used_at for a live session. Unknown or terminating
// ids are ignored.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.state != stateLive {
		return
	}
	rec.snap.LastUsedAt = time.Now().UTC()
}

// List returns the live records ordered by creation time.
func (r *Registry) List() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snaps := make([]Snapshot, 0, len(r.records))
	for _, rec := range r.records {
		if rec.state == stateLive {
			snaps = append(snaps, rec.snap)
		}
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps
}

// BeginClose moves a live session to terminating, hiding it from lookups
// while its container is torn down. A session already terminating reports
// session_not_found, so concurrent closes cannot double-remove.
func (r *Registry) BeginClose(id string) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.state != stateLive {
		return Snapshot{}, errdefs.New(errdefs.CodeSessionNotFound, "session %s not found", id)
	}
	rec.state = stateTerminating
	return rec.snap, nil
}

// FinishClose drops the record once its container is gone.
func (r *Registry) FinishClose(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, id)
}

// Terminating returns snapshots of teardowns that still need a retry.
func (r *Registry) Terminating() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	var snaps []Snapshot
	for _, rec := range r.records {
		if rec.state == stateTerminating {
			snaps = append(snaps, rec.snap)
		}
	}
	return snaps
}

// Counts reports the live, terminating and reserved slot totals.
func (r *Registry) Counts() (live, terminating, reserved int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.state == stateLive {
			live++
		} else {
			terminating++
		}
	}
	return live, terminating, r.reserved
}
