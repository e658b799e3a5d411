package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/appraisal/internal/decisions"
	"github.com/stwalsh4118/appraisal/internal/differ"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/normalization"
)

func saleAttrs(price float64, date string) models.PropertyAttributes {
	d, _ := time.Parse(models.DateLayout, date)
	return models.PropertyAttributes{Block: "1", Lot: "1", SalePrice: &price, SaleDate: &d, SaleBook: "B" + date}
}

func TestBuildRecords_AppliesSalesDecisions(t *testing.T) {
	keys := []string{"keep_old", "keep_new", "keep_both", "reject", "undecided"}
	source := map[string]*models.SourceRecord{}
	snap := &differ.Snapshot{FileVersion: 3, Records: map[string]*models.PropertyRecord{}}
	for _, k := range keys {
		source[k] = &models.SourceRecord{CompositeKey: k, PropertyAttributes: saleAttrs(250000, "2023-06-15")}
		snap.Records[k] = &models.PropertyRecord{
			CompositeKey:       k,
			PropertyAttributes: saleAttrs(200000, "2020-03-01"),
			ValuesNormTime:     f64(210000),
			IsAssignedProperty: true,
		}
	}
	source["added"] = &models.SourceRecord{CompositeKey: "added", PropertyAttributes: saleAttrs(1, "2024-01-01")}

	ledger, err := decisions.NewSalesLedger(keys).SetAll(map[string]decisions.SalesDecision{
		"keep_old":  decisions.KeepOld,
		"keep_new":  decisions.KeepNew,
		"keep_both": decisions.KeepBoth,
		"reject":    decisions.Reject,
	})
	require.NoError(t, err)

	records := buildRecords(9, 4, source, snap, ledger)
	require.Len(t, records, 6)

	byKey := map[string]models.PropertyRecord{}
	for _, r := range records {
		assert.Equal(t, int64(9), r.JobID)
		assert.Equal(t, 4, r.FileVersion)
		byKey[r.CompositeKey] = r
	}

	assert.Equal(t, 200000.0, *byKey["keep_old"].SalePrice)
	assert.Equal(t, "B2020-03-01", byKey["keep_old"].SaleBook)

	assert.Equal(t, 250000.0, *byKey["keep_new"].SalePrice)
	assert.Nil(t, byKey["keep_new"].PriorSalePrice)

	assert.Equal(t, 250000.0, *byKey["keep_both"].SalePrice)
	require.NotNil(t, byKey["keep_both"].PriorSalePrice)
	assert.Equal(t, 200000.0, *byKey["keep_both"].PriorSalePrice)
	assert.Equal(t, "2020-03-01", byKey["keep_both"].PriorSaleDate.Format(models.DateLayout))

	assert.Nil(t, byKey["reject"].SalePrice)
	assert.Nil(t, byKey["reject"].SaleDate)
	assert.Empty(t, byKey["reject"].SaleBook)

	assert.Equal(t, 250000.0, *byKey["undecided"].SalePrice)

	for _, k := range keys {
		assert.Equal(t, 210000.0, *byKey[k].ValuesNormTime, k)
		assert.True(t, byKey[k].IsAssignedProperty, k)
	}
	assert.Nil(t, byKey["added"].ValuesNormTime)
	assert.False(t, byKey["added"].IsAssignedProperty)
}

func TestNormalizationInputs_SelectsChangedAddedAndRemoved(t *testing.T) {
	cs := &differ.ChangeSet{
		Added:        []string{"added_sale", "added_blank"},
		Removed:      []string{"gone"},
		SalesChanges: []differ.SalesChange{{CompositeKey: "changed"}},
	}
	written := []models.PropertyRecord{
		{CompositeKey: "changed", PropertyAttributes: saleAttrs(1000, "2023-01-01"), ValuesNormTime: f64(900)},
		{CompositeKey: "added_sale", PropertyAttributes: saleAttrs(2000, "2023-01-01")},
		{CompositeKey: "added_blank"},
		{CompositeKey: "untouched", PropertyAttributes: saleAttrs(3000, "2023-01-01")},
	}
	snap := &differ.Snapshot{Records: map[string]*models.PropertyRecord{
		"gone": {CompositeKey: "gone", ValuesNormTime: f64(700)},
	}}

	inputs := normalizationInputs(cs, written, snap)

	require.Len(t, inputs, 3)
	assert.Equal(t, "changed", inputs[0].CompositeKey)
	assert.Equal(t, 900.0, *inputs[0].PreviousNormalized)
	assert.Equal(t, "added_sale", inputs[1].CompositeKey)
	assert.Equal(t, "gone", inputs[2].CompositeKey)
	assert.True(t, inputs[2].Removed)
	assert.Equal(t, 700.0, *inputs[2].PreviousNormalized)
}

func TestSaveSet(t *testing.T) {
	results := []normalization.Result{
		{CompositeKey: "kept", TimeNormalizedPrice: f64(261375), HPIMultiplier: 1.0455},
		{CompositeKey: "rejected", TimeNormalizedPrice: f64(5000)},
		{CompositeKey: "gone", Removed: true},
	}
	ledger := decisions.NewNormalizationLedger([]string{"kept", "rejected"}, func(string) bool { return true })
	ledger, err := ledger.SetAll(map[string]decisions.NormalizationDecision{
		"kept":     decisions.KeepNormalized,
		"rejected": decisions.RejectNormalized,
	})
	require.NoError(t, err)

	saves, cleared := saveSet(1, 2, 3, results, ledger, time.Now())

	require.Len(t, saves, 3)
	assert.Equal(t, []string{"gone"}, cleared)

	assert.Equal(t, 3, saves[0].update.FileVersion)
	assert.Equal(t, 261375.0, *saves[0].update.Value)
	assert.Equal(t, "keep", saves[0].sale.Decision)
	assert.False(t, saves[0].drop)

	assert.Equal(t, 3, saves[1].update.FileVersion)
	assert.Nil(t, saves[1].update.Value)
	assert.Equal(t, "reject", saves[1].sale.Decision)
	assert.Nil(t, saves[1].sale.TimeNormalizedPrice)

	assert.Equal(t, 2, saves[2].update.FileVersion)
	assert.Nil(t, saves[2].update.Value)
	assert.Nil(t, saves[2].sale)
	assert.True(t, saves[2].drop)
}

func TestEventHub_ReplaysAndCloses(t *testing.T) {
	hub := newEventHub()
	hub.publish(Event{Kind: EventState, State: StateReviewingSales})

	ch, unsubscribe := hub.subscribe()
	first := <-ch
	assert.Equal(t, StateReviewingSales, first.State)

	hub.publish(Event{Kind: EventState, State: StateApplying})
	assert.Equal(t, StateApplying, (<-ch).State)

	hub.close()
	_, open := <-ch
	assert.False(t, open)
	unsubscribe()

	late, _ := hub.subscribe()
	assert.Len(t, late, 2)
}
