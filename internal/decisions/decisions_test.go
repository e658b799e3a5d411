package decisions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSalesDecision(t *testing.T) {
	d, err := ParseSalesDecision(" Keep_Both ")
	require.NoError(t, err)
	assert.Equal(t, KeepBoth, d)

	_, err = ParseSalesDecision("maybe")
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestSalesLedger_DefaultsToKeepNew(t *testing.T) {
	l := NewSalesLedger([]string{"a", "b"})

	d, explicit := l.Resolve("a")
	assert.Equal(t, KeepNew, d)
	assert.False(t, explicit)
	assert.Equal(t, 2, l.Len())
	assert.Empty(t, l.Decided())
}

func TestSalesLedger_SetIsImmutableAndLastWriteWins(t *testing.T) {
	base := NewSalesLedger([]string{"a"})

	first, err := base.Set("a", KeepOld)
	require.NoError(t, err)
	second, err := first.Set("a", Reject)
	require.NoError(t, err)

	d, _ := base.Resolve("a")
	assert.Equal(t, KeepNew, d, "receiver must not change")
	d, _ = first.Resolve("a")
	assert.Equal(t, KeepOld, d)
	d, explicit := second.Resolve("a")
	assert.Equal(t, Reject, d)
	assert.True(t, explicit)
}

func TestSalesLedger_RejectsUnknownKeyAndValue(t *testing.T) {
	l := NewSalesLedger([]string{"a"})

	_, err := l.Set("zzz", KeepOld)
	assert.ErrorIs(t, err, ErrUnknownKey)

	_, err = l.Set("a", SalesDecision("merge"))
	assert.ErrorIs(t, err, ErrInvalidDecision)
}

func TestSalesLedger_SetAllIsAtomic(t *testing.T) {
	l := NewSalesLedger([]string{"a", "b"})

	out, err := l.SetAll(map[string]SalesDecision{"a": KeepOld, "missing": KeepNew})
	assert.ErrorIs(t, err, ErrUnknownKey)
	assert.Empty(t, out.Decided())

	out, err = l.SetAll(map[string]SalesDecision{"a": KeepOld, "b": KeepBoth})
	require.NoError(t, err)
	assert.Equal(t, map[string]SalesDecision{"a": KeepOld, "b": KeepBoth}, out.Decided())
}

func keepableExcept(blocked ...string) func(string) bool {
	set := map[string]bool{}
	for _, b := range blocked {
		set[b] = true
	}
	return func(k string) bool { return !set[k] }
}

func TestNormalizationLedger_GateRequiresEveryKey(t *testing.T) {
	l := NewNormalizationLedger([]string{"a", "b"}, keepableExcept())
	assert.False(t, l.AllDecided())

	l, err := l.Set("a", KeepNormalized)
	require.NoError(t, err)
	assert.False(t, l.AllDecided())
	assert.Equal(t, []string{"b"}, l.Undecided())

	l, err = l.Set("b", RejectNormalized)
	require.NoError(t, err)
	assert.True(t, l.AllDecided())
	assert.Empty(t, l.Undecided())

	kept, rejected := l.Tally()
	assert.Equal(t, 1, kept)
	assert.Equal(t, 1, rejected)
}

func TestNormalizationLedger_EmptyIsDecided(t *testing.T) {
	l := NewNormalizationLedger(nil, keepableExcept())
	assert.True(t, l.AllDecided())
}

func TestNormalizationLedger_CannotKeepUnkeepable(t *testing.T) {
	l := NewNormalizationLedger([]string{"low"}, keepableExcept("low"))

	_, err := l.Set("low", KeepNormalized)
	assert.ErrorIs(t, err, ErrNotKeepable)

	l, err = l.Set("low", RejectNormalized)
	require.NoError(t, err)
	d, ok := l.Decision("low")
	assert.True(t, ok)
	assert.Equal(t, RejectNormalized, d)
}

func TestNormalizationLedger_LastWriteWins(t *testing.T) {
	l := NewNormalizationLedger([]string{"a"}, keepableExcept())

	l, err := l.Set("a", KeepNormalized)
	require.NoError(t, err)
	l, err = l.Set("a", RejectNormalized)
	require.NoError(t, err)

	d, _ := l.Decision("a")
	assert.Equal(t, RejectNormalized, d)
}

func TestNormalizationLedger_BulkKeepSkipsUnkeepable(t *testing.T) {
	l := NewNormalizationLedger([]string{"a", "low", "b"}, keepableExcept("low"))
	l, err := l.Set("b", RejectNormalized)
	require.NoError(t, err)

	kept := l.KeepAllUndecided()
	assert.Equal(t, []string{"low"}, kept.Undecided())
	d, _ := kept.Decision("a")
	assert.Equal(t, KeepNormalized, d)
	d, _ = kept.Decision("b")
	assert.Equal(t, RejectNormalized, d, "bulk actions never overwrite explicit decisions")

	assert.Len(t, l.Undecided(), 2, "receiver must not change")
}

func TestNormalizationLedger_BulkRejectDecidesEverything(t *testing.T) {
	l := NewNormalizationLedger([]string{"a", "low"}, keepableExcept("low"))
	l, err := l.Set("a", KeepNormalized)
	require.NoError(t, err)

	rejected := l.RejectAllUndecided()
	assert.True(t, rejected.AllDecided())
	d, _ := rejected.Decision("a")
	assert.Equal(t, KeepNormalized, d)
	d, _ = rejected.Decision("low")
	assert.Equal(t, RejectNormalized, d)
}

func TestNormalizationLedger_SetAllIsAtomic(t *testing.T) {
	l := NewNormalizationLedger([]string{"a", "low"}, keepableExcept("low"))

	out, err := l.SetAll(map[string]NormalizationDecision{"a": KeepNormalized, "low": KeepNormalized})
	assert.ErrorIs(t, err, ErrNotKeepable)
	assert.Empty(t, out.Decided())
}

func TestNormalizationLedger_DuplicateKeysTrackedOnce(t *testing.T) {
	l := NewNormalizationLedger([]string{"a", "a", "b"}, keepableExcept())
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, []string{"a", "b"}, l.Undecided())
}
