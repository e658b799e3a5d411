// Package decisions holds the per-key human decisions collected during a
// reconciliation run. Ledgers are immutable: every transition returns a new
// ledger and leaves the receiver untouched.
package decisions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownKey is returned when a decision names a key the ledger does not track.
	ErrUnknownKey = errors.New("unknown composite key")
	// ErrInvalidDecision is returned for a decision value outside the allowed set.
	ErrInvalidDecision = errors.New("invalid decision")
	// ErrNotKeepable is returned when keep is requested for a result without a
	// persistable normalized value.
	ErrNotKeepable = errors.New("normalized value cannot be kept")
)

// SalesDecision resolves one sales conflict raised by the differ.
type SalesDecision string

const (
	KeepOld  SalesDecision = "keep_old"
	KeepNew  SalesDecision = "keep_new"
	KeepBoth SalesDecision = "keep_both"
	Reject   SalesDecision = "reject"
)

// ParseSalesDecision accepts the canonical snake_case values, case-insensitively.
func ParseSalesDecision(s string) (SalesDecision, error) {
	d := SalesDecision(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case KeepOld, KeepNew, KeepBoth, Reject:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// SalesLedger tracks optional phase one decisions. A key without an entry
// resolves to KeepNew.
type SalesLedger struct {
	keys      map[string]struct{}
	decisions map[string]SalesDecision
}

// NewSalesLedger returns an empty ledger over the given conflicting keys.
func NewSalesLedger(keys []string) SalesLedger {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return SalesLedger{keys: set, decisions: map[string]SalesDecision{}}
}

// Set records d for key and returns the new ledger. Re-assigning a key
// replaces the earlier decision.
func (l SalesLedger) Set(key string, d SalesDecision) (SalesLedger, error) {
	if _, ok := l.keys[key]; !ok {
		return l, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if _, err := ParseSalesDecision(string(d)); err != nil {
		return l, err
	}

	next := make(map[string]SalesDecision, len(l.decisions)+1)
	for k, v := range l.decisions {
		next[k] = v
	}
	next[key] = d
	return SalesLedger{keys: l.keys, decisions: next}, nil
}

// SetAll applies every entry of ds in key order. It fails without partial
// effect when any entry is rejected.
func (l SalesLedger) SetAll(ds map[string]SalesDecision) (SalesLedger, error) {
	out := l
	for _, key := range sortedKeys(ds) {
		var err error
		if out, err = out.Set(key, ds[key]); err != nil {
			return l, err
		}
	}
	return out, nil
}

// Resolve returns the effective decision for key and whether it was explicit.
func (l SalesLedger) Resolve(key string) (SalesDecision, bool) {
	if d, ok := l.decisions[key]; ok {
		return d, true
	}
	return KeepNew, false
}

// Tracks reports whether key is a conflict tracked by the ledger.
func (l SalesLedger) Tracks(key string) bool {
	_, ok := l.keys[key]
	return ok
}

// Len returns the number of tracked keys.
func (l SalesLedger) Len() int { return len(l.keys) }

// Decided returns a copy of the explicit decisions.
func (l SalesLedger) Decided() map[string]SalesDecision {
	out := make(map[string]SalesDecision, len(l.decisions))
	for k, v := range l.decisions {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
