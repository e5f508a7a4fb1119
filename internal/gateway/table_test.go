package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTable_AddGet(t *testing.T) {
	table := NewTable(time.Minute)

	s := NewSession("s1", Identity{UUID: "u"})
	table.Add(s)

	require.Same(t, s, table.Get("s1"))
	require.Nil(t, table.Get("missing"))
	require.Equal(t, 1, table.Len())
}

func TestTable_RemovalExpires(t *testing.T) {
	table := NewTable(30 * time.Millisecond)
	table.Add(NewSession("s1", Identity{}))

	table.StartRemoval("s1")

	require.Eventually(t, func() bool {
		return table.Get("s1") == nil
	}, time.Second, 10*time.Millisecond, "detached session must be removed after the timeout")
	require.Zero(t, table.Len())
}

func TestTable_CancelRemoval(t *testing.T) {
	table := NewTable(30 * time.Millisecond)
	table.Add(NewSession("s1", Identity{}))

	table.StartRemoval("s1")
	require.True(t, table.CancelRemoval("s1"))

	time.Sleep(80 * time.Millisecond)
	require.NotNil(t, table.Get("s1"), "cancelled removal must not fire")

	// The timer can only be claimed once.
	require.False(t, table.CancelRemoval("s1"))
}

func TestTable_StartRemovalIdempotent(t *testing.T) {
	table := NewTable(time.Minute)
	table.Add(NewSession("s1", Identity{}))

	table.StartRemoval("s1")
	table.StartRemoval("s1")

	require.True(t, table.CancelRemoval("s1"))
	require.False(t, table.CancelRemoval("s1"))
}

func TestTable_Claim(t *testing.T) {
	table := NewTable(time.Minute)
	s := NewSession("s1", Identity{})
	table.Add(s)

	require.Nil(t, table.Claim("ghost"))

	table.StartRemoval("s1")
	require.Same(t, s, table.Claim("s1"))

	// The claim consumed the pending removal.
	require.False(t, table.CancelRemoval("s1"))
}

func TestTable_Claim_BeatsExpiry(t *testing.T) {
	table := NewTable(time.Minute)
	s := NewSession("s1", Identity{})
	table.Add(s)
	table.StartRemoval("s1")

	require.Same(t, s, table.Claim("s1"))

	// The timer firing after a successful claim must not delete the
	// session out from under the resumed connection.
	table.expire("s1")
	require.Same(t, s, table.Get("s1"))
}

func TestTable_Claim_AfterExpiry(t *testing.T) {
	table := NewTable(20 * time.Millisecond)
	table.Add(NewSession("s1", Identity{}))
	table.StartRemoval("s1")

	require.Eventually(t, func() bool {
		return table.Claim("s1") == nil
	}, time.Second, 5*time.Millisecond, "an expired session can never be claimed")
}

func TestTable_StartRemovalUnknownSession(t *testing.T) {
	table := NewTable(time.Minute)

	// No timer is armed for a session that does not exist.
	table.StartRemoval("ghost")
	require.False(t, table.CancelRemoval("ghost"))
}
