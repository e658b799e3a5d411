package differ

import (
	"math"
	"sort"
	"strings"

	"github.com/stwalsh4118/appraisal/internal/compositekey"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/vendor"
)

// PriceTolerance is the largest sale price difference treated as equal.
const PriceTolerance = 0.01

// SalesChange is a matched key whose sale price or sale date differs.
// NU code, book and page are carried for display only.
type SalesChange struct {
	OldPrice     *float64 `json:"oldPrice"`
	NewPrice     *float64 `json:"newPrice"`
	CompositeKey string   `json:"compositeKey"`
	OldDate      string   `json:"oldDate"`
	NewDate      string   `json:"newDate"`
	OldNU        string   `json:"oldNu"`
	NewNU        string   `json:"newNu"`
	OldBook      string   `json:"oldBook"`
	NewBook      string   `json:"newBook"`
	OldPage      string   `json:"oldPage"`
	NewPage      string   `json:"newPage"`
	PriceChanged bool     `json:"priceChanged"`
	DateChanged  bool     `json:"dateChanged"`
}

// ClassChange is one differing classification field on a matched key.
type ClassChange struct {
	CompositeKey string `json:"compositeKey"`
	Field        string `json:"field"`
	OldValue     string `json:"oldValue"`
	NewValue     string `json:"newValue"`
}

// FuzzyMatch pairs an added key with a removed key that normalizes to the
// same form. It is informational and never resolved automatically.
type FuzzyMatch struct {
	AddedKey   string `json:"addedKey"`
	RemovedKey string `json:"removedKey"`
	Normalized string `json:"normalized"`
}

// ChangeSet is the result of one diff. Callers treat it as read-only.
type ChangeSet struct {
	Added        []string      `json:"added"`
	Removed      []string      `json:"removed"`
	Matched      []string      `json:"-"`
	SalesChanges []SalesChange `json:"salesChanges"`
	ClassChanges []ClassChange `json:"classChanges"`
	FuzzyMatches []FuzzyMatch  `json:"fuzzyMatches"`
	FileVersion  int           `json:"fileVersion"`
}

// Counts summarizes a ChangeSet.
type Counts struct {
	Added        int `json:"added"`
	Removed      int `json:"removed"`
	Matched      int `json:"matched"`
	SalesChanges int `json:"salesChanges"`
	ClassChanges int `json:"classChanges"`
	FuzzyMatches int `json:"fuzzyMatches"`
}

// Counts returns the size of every category.
func (c *ChangeSet) Counts() Counts {
	return Counts{
		Added:        len(c.Added),
		Removed:      len(c.Removed),
		Matched:      len(c.Matched),
		SalesChanges: len(c.SalesChanges),
		ClassChanges: len(c.ClassChanges),
		FuzzyMatches: len(c.FuzzyMatches),
	}
}

// IsEmpty reports whether the upload changes nothing relative to the snapshot.
func (c *ChangeSet) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 &&
		len(c.SalesChanges) == 0 && len(c.ClassChanges) == 0
}

// SalesChange returns the sales change for key, if any.
func (c *ChangeSet) SalesChange(key string) (SalesChange, bool) {
	for _, sc := range c.SalesChanges {
		if sc.CompositeKey == key {
			return sc, true
		}
	}
	return SalesChange{}, false
}

// ModifiedKeys returns every matched key with a sales or classification change, sorted.
func (c *ChangeSet) ModifiedKeys() []string {
	seen := make(map[string]struct{}, len(c.SalesChanges)+len(c.ClassChanges))
	for _, sc := range c.SalesChanges {
		seen[sc.CompositeKey] = struct{}{}
	}
	for _, cc := range c.ClassChanges {
		seen[cc.CompositeKey] = struct{}{}
	}
	return sortedKeys(seen)
}

// Diff partitions source and snapshot keys into added, removed and matched,
// then compares matched records field by field.
//
// added = source - snapshot, removed = snapshot - source, matched = source ∩ snapshot.
func Diff(source map[string]*models.SourceRecord, snap *Snapshot, p vendor.Profile) *ChangeSet {
	cs := &ChangeSet{}
	dbRecords := map[string]*models.PropertyRecord{}
	if snap != nil {
		dbRecords = snap.Records
		cs.FileVersion = snap.FileVersion
	}

	for key := range source {
		if _, ok := dbRecords[key]; ok {
			cs.Matched = append(cs.Matched, key)
		} else {
			cs.Added = append(cs.Added, key)
		}
	}
	for key := range dbRecords {
		if _, ok := source[key]; !ok {
			cs.Removed = append(cs.Removed, key)
		}
	}
	sort.Strings(cs.Added)
	sort.Strings(cs.Removed)
	sort.Strings(cs.Matched)

	for _, key := range cs.Matched {
		src, old := source[key], dbRecords[key]
		if sc, changed := compareSale(key, &old.PropertyAttributes, &src.PropertyAttributes); changed {
			cs.SalesChanges = append(cs.SalesChanges, sc)
		}
		cs.ClassChanges = append(cs.ClassChanges, compareClassification(key, old.Classification, src.Classification, p.ClassificationFields())...)
	}

	cs.FuzzyMatches = fuzzyMatches(cs.Added, cs.Removed)
	return cs
}

func compareSale(key string, old, cur *models.PropertyAttributes) (SalesChange, bool) {
	priceChanged := pricesDiffer(old.SalePrice, cur.SalePrice)
	oldDate, newDate := old.SaleDateString(), cur.SaleDateString()
	dateChanged := oldDate != newDate

	if !priceChanged && !dateChanged {
		return SalesChange{}, false
	}
	return SalesChange{
		CompositeKey: key,
		OldPrice:     old.SalePrice,
		NewPrice:     cur.SalePrice,
		OldDate:      oldDate,
		NewDate:      newDate,
		OldNU:        old.SaleNU,
		NewNU:        cur.SaleNU,
		OldBook:      old.SaleBook,
		NewBook:      cur.SaleBook,
		OldPage:      old.SalePage,
		NewPage:      cur.SalePage,
		PriceChanged: priceChanged,
		DateChanged:  dateChanged,
	}, true
}

func pricesDiffer(a, b *float64) bool {
	switch {
	case a == nil && b == nil:
		return false
	case a == nil || b == nil:
		return true
	default:
		return math.Abs(*a-*b) > PriceTolerance
	}
}

func compareClassification(key string, old, cur map[string]string, fields []string) []ClassChange {
	var changes []ClassChange
	for _, f := range fields {
		o := strings.TrimSpace(old[f])
		n := strings.TrimSpace(cur[f])
		if o != n {
			changes = append(changes, ClassChange{CompositeKey: key, Field: f, OldValue: o, NewValue: n})
		}
	}
	return changes
}

func fuzzyMatches(added, removed []string) []FuzzyMatch {
	if len(added) == 0 || len(removed) == 0 {
		return nil
	}

	byNormalized := make(map[string][]string, len(removed))
	for _, key := range removed {
		n := compositekey.Normalize(key)
		byNormalized[n] = append(byNormalized[n], key)
	}

	var matches []FuzzyMatch
	for _, key := range added {
		n := compositekey.Normalize(key)
		for _, candidate := range byNormalized[n] {
			matches = append(matches, FuzzyMatch{AddedKey: key, RemovedKey: candidate, Normalized: n})
		}
	}
	return matches
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
