package decisions

import (
	"fmt"
	"strings"
)

// NormalizationDecision is the mandatory phase two outcome of one result.
type NormalizationDecision string

const (
	KeepNormalized   NormalizationDecision = "keep"
	RejectNormalized NormalizationDecision = "reject"
)

// ParseNormalizationDecision accepts "keep" or "reject", case-insensitively.
func ParseNormalizationDecision(s string) (NormalizationDecision, error) {
	d := NormalizationDecision(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case KeepNormalized, RejectNormalized:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// NormalizationLedger gates the save action: every tracked key needs an
// explicit decision before AllDecided reports true.
type NormalizationLedger struct {
	keepable  map[string]bool
	order     []string
	decisions map[string]NormalizationDecision
}

// NewNormalizationLedger tracks keys in the given order. keepable reports
// whether a key has a normalized value that may be kept.
func NewNormalizationLedger(keys []string, keepable func(string) bool) NormalizationLedger {
	l := NormalizationLedger{
		keepable:  make(map[string]bool, len(keys)),
		decisions: map[string]NormalizationDecision{},
	}
	for _, k := range keys {
		if _, dup := l.keepable[k]; dup {
			continue
		}
		l.keepable[k] = keepable(k)
		l.order = append(l.order, k)
	}
	return l
}

// Set records d for key and returns the new ledger.
func (l NormalizationLedger) Set(key string, d NormalizationDecision) (NormalizationLedger, error) {
	canKeep, ok := l.keepable[key]
	if !ok {
		return l, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if _, err := ParseNormalizationDecision(string(d)); err != nil {
		return l, err
	}
	if d == KeepNormalized && !canKeep {
		return l, fmt.Errorf("%w: %s", ErrNotKeepable, key)
	}

	return l.with(map[string]NormalizationDecision{key: d}), nil
}

// SetAll applies ds atomically: on any error the receiver is returned unchanged.
func (l NormalizationLedger) SetAll(ds map[string]NormalizationDecision) (NormalizationLedger, error) {
	out := l
	for _, key := range sortedKeys(ds) {
		var err error
		if out, err = out.Set(key, ds[key]); err != nil {
			return l, err
		}
	}
	return out, nil
}

// KeepAllUndecided keeps every undecided keepable key. Unkeepable keys stay
// undecided and must be rejected explicitly.
func (l NormalizationLedger) KeepAllUndecided() NormalizationLedger {
	add := map[string]NormalizationDecision{}
	for _, k := range l.Undecided() {
		if l.keepable[k] {
			add[k] = KeepNormalized
		}
	}
	return l.with(add)
}

// RejectAllUndecided records an explicit reject for every undecided key.
func (l NormalizationLedger) RejectAllUndecided() NormalizationLedger {
	add := map[string]NormalizationDecision{}
	for _, k := range l.Undecided() {
		add[k] = RejectNormalized
	}
	return l.with(add)
}

// Decision returns the decision recorded for key.
func (l NormalizationLedger) Decision(key string) (NormalizationDecision, bool) {
	d, ok := l.decisions[key]
	return d, ok
}

// Undecided returns the keys still lacking a decision, in tracking order.
func (l NormalizationLedger) Undecided() []string {
	var out []string
	for _, k := range l.order {
		if _, ok := l.decisions[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}

// AllDecided reports whether save may proceed.
func (l NormalizationLedger) AllDecided() bool {
	return len(l.decisions) == len(l.order)
}

// Len returns the number of tracked keys.
func (l NormalizationLedger) Len() int { return len(l.order) }

// Decided returns a copy of the recorded decisions.
func (l NormalizationLedger) Decided() map[string]NormalizationDecision {
	out := make(map[string]NormalizationDecision, len(l.decisions))
	for k, v := range l.decisions {
		out[k] = v
	}
	return out
}

// Tally counts kept and rejected keys.
func (l NormalizationLedger) Tally() (kept, rejected int) {
	for _, d := range l.decisions {
		if d == KeepNormalized {
			kept++
		} else {
			rejected++
		}
	}
	return kept, rejected
}

func (l NormalizationLedger) with(add map[string]NormalizationDecision) NormalizationLedger {
	next := make(map[string]NormalizationDecision, len(l.decisions)+len(add))
	for k, v := range l.decisions {
		next[k] = v
	}
	for k, v := range add {
		next[k] = v
	}
	return NormalizationLedger{keepable: l.keepable, order: l.order, decisions: next}
}
