package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t-henke/glaskasten/internal/errdefs"
)

func snapshotFor(id string) Snapshot {
	now := time.Now().UTC()
	return Snapshot{
		ID:          id,
		ContainerID: "c-" + id,
		CreatedAt:   now,
		LastUsedAt:  now,
		IdleTimeout: time.Minute,
	}
}

func TestReserveEnforcesCapacity(t *testing.T) {
	r := NewRegistry(2)

	require.NoError(t, r.Reserve())
	require.NoError(t, r.Reserve())

	err := r.Reserve()
	assert.True(t, errdefs.IsCode(err, errdefs.CodeCapacityExhausted))

	r.Unreserve()
	assert.NoError(t, r.Reserve())
}

func TestCommitConsumesReservation(t *testing.T) {
	r := NewRegistry(1)

	require.NoError(t, r.Reserve())
	require.NoError(t, r.Commit(snapshotFor("s1")))

	// The slot moved from reserved to live; capacity is still exhausted.
	err := r.Reserve()
	assert.True(t, errdefs.IsCode(err, errdefs.CodeCapacityExhausted))

	live, terminating, reserved := r.Counts()
	assert.Equal(t, 1, live)
	assert.Zero(t, terminating)
	assert.Zero(t, reserved)
}

func TestTerminatingStillCountsAgainstCapacity(t *testing.T) {
	r := NewRegistry(1)
	require.NoError(t, r.Commit(snapshotFor("s1")))

	_, err := r.BeginClose("s1")
	require.NoError(t, err)

	err = r.Reserve()
	assert.True(t, errdefs.IsCode(err, errdefs.CodeCapacityExhausted))

	r.FinishClose("s1")
	assert.NoError(t, r.Reserve())
}

func TestLookupHidesTerminatingSessions(t *testing.T) {
	r := NewRegistry(5)
	require.NoError(t, r.Commit(snapshotFor("s1")))

	_, err := r.Lookup("s1")
	require.NoError(t, err)

	_, err = r.BeginClose("s1")
	require.NoError(t, err)

	_, err = r.Lookup("s1")
	assert.True(t, errdefs.IsCode(err, errdefs.CodeSessionNotFound))
}

func TestBeginCloseIsExclusive(t *testing.T) {
	r := NewRegistry(5)
	require.NoError(t, r.Commit(snapshotFor("s1")))

	_, err := r.BeginClose("s1")
	require.NoError(t, err)

	_, err = r.BeginClose("s1")
	assert.True(t, errdefs.IsCode(err, errdefs.CodeSessionNotFound))
}

func TestTouchAdvancesLastUsed(t *testing.T) {
	r := NewRegistry(5)
	snap := snapshotFor("s1")
	snap.LastUsedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, r.Commit(snap))

	r.Touch("s1")

	got, err := r.Lookup("s1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), got.LastUsedAt, time.Second)
}

func TestListOrdersByCreation(t *testing.T) {
	r := NewRegistry(5)
	older := snapshotFor("older")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, r.Commit(snapshotFor("newer")))
	require.NoError(t, r.Commit(older))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "older", list[0].ID)
	assert.Equal(t, "newer", list[1].ID)
}

func TestTerminatingReturnsStuckTeardowns(t *testing.T) {
	r := NewRegistry(5)
	require.NoError(t, r.Commit(snapshotFor("s1")))
	require.NoError(t, r.Commit(snapshotFor("s2")))

	_, err := r.BeginClose("s1")
	require.NoError(t, err)

	stuck := r.Terminating()
	require.Len(t, stuck, 1)
	assert.Equal(t, "s1", stuck[0].ID)
}

func TestSnapshotIdle(t *testing.T) {
	snap := snapshotFor("s1")
	snap.LastUsedAt = time.Now().UTC().Add(-30 * time.Second)
	snap.IdleTimeout = time.Minute

	assert.False(t, snap.Idle(time.Now().UTC()))
	assert.True(t, snap.Idle(time.Now().UTC().Add(31*time.Second)))
}
