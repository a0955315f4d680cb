package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateFreshIDWithCapabilitySendsInit(t *testing.T) {
	tr := New(WithMinCacheArea(100))
	out := tr.Evaluate(42, 1000, true)
	require.Equal(t, DecisionSendInit, out.Decision)
	require.Equal(t, uint64(42), out.ReferenceID)
}

func TestEvaluateBelowMinAreaEncodesNormally(t *testing.T) {
	tr := New(WithMinCacheArea(1000))
	out := tr.Evaluate(42, 10, true)
	require.Equal(t, DecisionEncodeNormally, out.Decision)
}

func TestEvaluateCapabilityNotNegotiatedEncodesNormally(t *testing.T) {
	tr := New(WithMinCacheArea(1))
	out := tr.Evaluate(42, 1000, false)
	require.Equal(t, DecisionEncodeNormally, out.Decision)
}

func TestEvaluateKnownIDSendsRef(t *testing.T) {
	tr := New(WithMinCacheArea(1))
	tr.Evaluate(42, 1000, true) // first time: init, records known
	out := tr.Evaluate(42, 1000, true)
	require.Equal(t, DecisionSendRef, out.Decision)
	require.Equal(t, uint64(42), out.ReferenceID)
}

func TestEvaluateLossyAliasSendsRefAlias(t *testing.T) {
	tr := New(WithMinCacheArea(1))
	tr.Evaluate(42, 1000, true)
	tr.OnHashReport(42, 99) // client stored it under a different id

	out := tr.Evaluate(42, 1000, true)
	require.Equal(t, DecisionSendRefAlias, out.Decision)
	require.Equal(t, uint64(99), out.ReferenceID)
}

func TestRevokeOptimisticAddUndoesKnownID(t *testing.T) {
	tr := New(WithMinCacheArea(1))
	out := tr.Evaluate(42, 1000, true)
	require.Equal(t, DecisionSendInit, out.Decision)

	tr.RevokeOptimisticAdd(42)
	out = tr.Evaluate(42, 1000, true)
	require.Equal(t, DecisionSendInit, out.Decision, "revoked id must be re-offered as a fresh init")
}

func TestOnHashReportNoOpWhenActualMatchesCanonical(t *testing.T) {
	tr := New(WithMinCacheArea(1))
	tr.Evaluate(42, 1000, true)
	tr.OnHashReport(42, 42)

	out := tr.Evaluate(42, 1000, true)
	require.Equal(t, DecisionSendRef, out.Decision)
}

func TestOnEvictionNoticeClearsKnownIDAndAlias(t *testing.T) {
	tr := New(WithMinCacheArea(1))
	tr.Evaluate(42, 1000, true)
	tr.OnHashReport(42, 99)

	tr.OnEvictionNotice([]uint64{99})

	out := tr.Evaluate(42, 1000, true)
	require.Equal(t, DecisionSendInit, out.Decision, "eviction of the aliased actual id must drop the alias too")
}

func TestOnHashListUnionsKnownIDs(t *testing.T) {
	tr := New(WithMinCacheArea(1))
	tr.OnHashList([]uint64{1, 2, 3})

	out := tr.Evaluate(2, 1000, true)
	require.Equal(t, DecisionSendRef, out.Decision)
}

func TestRequestCachedDataUnknownIDReturnsFalse(t *testing.T) {
	tr := New()
	_, ok := tr.OnRequestCachedData(12345)
	require.False(t, ok)
}

func TestRequestCachedDataKnownIDQueuesPendingInit(t *testing.T) {
	tr := New(WithMinCacheArea(1))
	tr.Evaluate(42, 1000, true)
	tr.RecordSent(PendingInit{X: 1, Y: 2, W: 10, H: 10, ContentID: 42, InnerEncoding: 5})

	rect, ok := tr.OnRequestCachedData(42)
	require.True(t, ok)
	require.Equal(t, uint16(10), rect.W)

	pending := tr.DrainPendingInits()
	require.Len(t, pending, 1)
	require.Equal(t, uint64(42), pending[0].ContentID)

	require.Empty(t, tr.DrainPendingInits())
}

func TestSnapshotReflectsState(t *testing.T) {
	tr := New(WithMinCacheArea(1))
	tr.Evaluate(1, 100, true)
	tr.Evaluate(2, 100, true)
	tr.OnHashReport(1, 7)

	snap := tr.Snapshot()
	require.Equal(t, 2, snap.KnownIDCount)
	require.Equal(t, 1, snap.LossyAliasCount)
}
