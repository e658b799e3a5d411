package differ

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/vendor"
)

// MockSnapshotReader is a mock implementation of SnapshotReader for testing
type MockSnapshotReader struct {
	mock.Mock
}

func (m *MockSnapshotReader) ListSnapshotPage(ctx context.Context, jobID int64, fileVersion, limit, offset int) ([]models.PropertyRecord, error) {
	args := m.Called(ctx, jobID, fileVersion, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PropertyRecord), args.Error(1)
}

func price(v float64) *float64 { return &v }

func date(s string) *time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return &d
}

func brt(t *testing.T) vendor.Profile {
	t.Helper()
	p, err := vendor.ProfileFor("BRT")
	require.NoError(t, err)
	return p
}

func dbRecord(key string, version int, attrs models.PropertyAttributes) models.PropertyRecord {
	return models.PropertyRecord{CompositeKey: key, FileVersion: version, JobID: 1, PropertyAttributes: attrs}
}

func snapshotOf(version int, recs ...models.PropertyRecord) *Snapshot {
	s := &Snapshot{JobID: 1, FileVersion: version, Records: map[string]*models.PropertyRecord{}}
	for i := range recs {
		r := recs[i]
		s.Records[r.CompositeKey] = &r
	}
	return s
}

func sourceOf(recs ...models.SourceRecord) map[string]*models.SourceRecord {
	m := make(map[string]*models.SourceRecord, len(recs))
	for i := range recs {
		r := recs[i]
		m[r.CompositeKey] = &r
	}
	return m
}

func TestLoadSnapshot_Paginates(t *testing.T) {
	reader := new(MockSnapshotReader)
	ctx := context.Background()

	page1 := []models.PropertyRecord{dbRecord("a", 3, models.PropertyAttributes{}), dbRecord("b", 3, models.PropertyAttributes{})}
	page2 := []models.PropertyRecord{dbRecord("c", 3, models.PropertyAttributes{})}

	reader.On("ListSnapshotPage", ctx, int64(1), 3, 2, 0).Return(page1, nil)
	reader.On("ListSnapshotPage", ctx, int64(1), 3, 2, 2).Return(page2, nil)

	snap, err := LoadSnapshot(ctx, reader, 1, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.Len())
	assert.Equal(t, 3, snap.FileVersion)
	reader.AssertExpectations(t)
}

func TestLoadSnapshot_FullLastPageReadsOnceMore(t *testing.T) {
	reader := new(MockSnapshotReader)
	ctx := context.Background()

	reader.On("ListSnapshotPage", ctx, int64(1), 1, 2, 0).Return([]models.PropertyRecord{dbRecord("a", 1, models.PropertyAttributes{}), dbRecord("b", 1, models.PropertyAttributes{})}, nil)
	reader.On("ListSnapshotPage", ctx, int64(1), 1, 2, 2).Return([]models.PropertyRecord{}, nil)

	snap, err := LoadSnapshot(ctx, reader, 1, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Len())
	reader.AssertExpectations(t)
}

func TestLoadSnapshot_IgnoresOtherVersions(t *testing.T) {
	reader := new(MockSnapshotReader)
	ctx := context.Background()

	reader.On("ListSnapshotPage", ctx, int64(1), 2, 10, 0).Return([]models.PropertyRecord{
		dbRecord("a", 2, models.PropertyAttributes{}),
		dbRecord("old", 1, models.PropertyAttributes{}),
	}, nil)

	snap, err := LoadSnapshot(ctx, reader, 1, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())
	assert.Contains(t, snap.Records, "a")
}

func TestLoadSnapshot_ReaderError(t *testing.T) {
	reader := new(MockSnapshotReader)
	ctx := context.Background()
	dbErr := errors.New("connection reset")

	reader.On("ListSnapshotPage", ctx, int64(1), 1, 10, 0).Return(nil, dbErr)

	_, err := LoadSnapshot(ctx, reader, 1, 1, 10)
	assert.ErrorIs(t, err, dbErr)
}

func TestLoadSnapshot_CancelledContext(t *testing.T) {
	reader := new(MockSnapshotReader)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := LoadSnapshot(ctx, reader, 1, 1, 10)
	assert.ErrorIs(t, err, context.Canceled)
	reader.AssertNotCalled(t, "ListSnapshotPage")
}

func TestDiff_Partition(t *testing.T) {
	snap := snapshotOf(1,
		dbRecord("k1", 1, models.PropertyAttributes{}),
		dbRecord("k2", 1, models.PropertyAttributes{}),
		dbRecord("k3", 1, models.PropertyAttributes{}),
	)
	src := sourceOf(
		models.SourceRecord{CompositeKey: "k2"},
		models.SourceRecord{CompositeKey: "k3"},
		models.SourceRecord{CompositeKey: "k4"},
	)

	cs := Diff(src, snap, brt(t))
	assert.Equal(t, []string{"k4"}, cs.Added)
	assert.Equal(t, []string{"k1"}, cs.Removed)
	assert.Equal(t, []string{"k2", "k3"}, cs.Matched)
	assert.Equal(t, 1, cs.FileVersion)
}

func TestDiff_PartitionProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	p := brt(t)

	for iter := 0; iter < 200; iter++ {
		var dbRecs []models.PropertyRecord
		var srcRecs []models.SourceRecord
		for i := 0; i < 40; i++ {
			key := fmt.Sprintf("k%d", i)
			switch rng.IntN(3) {
			case 0:
				dbRecs = append(dbRecs, dbRecord(key, 1, models.PropertyAttributes{}))
			case 1:
				srcRecs = append(srcRecs, models.SourceRecord{CompositeKey: key})
			default:
				dbRecs = append(dbRecs, dbRecord(key, 1, models.PropertyAttributes{}))
				srcRecs = append(srcRecs, models.SourceRecord{CompositeKey: key})
			}
		}
		src := sourceOf(srcRecs...)
		snap := snapshotOf(1, dbRecs...)
		cs := Diff(src, snap, p)

		added := toSet(cs.Added)
		removed := toSet(cs.Removed)
		matched := toSet(cs.Matched)

		for k := range added {
			require.NotContains(t, removed, k, "added and removed overlap")
			require.NotContains(t, matched, k)
		}
		require.Equal(t, len(src), len(added)+len(matched), "added ∪ matched must equal source keys")
		require.Equal(t, len(snap.Records), len(removed)+len(matched), "removed ∪ matched must equal db keys")
		for k := range src {
			_, inAdded := added[k]
			_, inMatched := matched[k]
			require.True(t, inAdded || inMatched)
		}
		for k := range snap.Records {
			_, inRemoved := removed[k]
			_, inMatched := matched[k]
			require.True(t, inRemoved || inMatched)
		}
	}
}

func TestDiff_IdenticalUploadIsEmpty(t *testing.T) {
	attrs := models.PropertyAttributes{
		Block: "1", Lot: "2", SalePrice: price(200000), SaleDate: date("2020-01-01"),
		Classification: map[string]string{"PROPERTY_CLASS": "2", "BLDGCLASS": "21", "TYPEUSE": "10", "DESIGN": "CL"},
	}
	snap := snapshotOf(4, dbRecord("k1", 4, attrs))
	src := sourceOf(models.SourceRecord{CompositeKey: "k1", PropertyAttributes: attrs})

	cs := Diff(src, snap, brt(t))
	assert.True(t, cs.IsEmpty())
	assert.Equal(t, Counts{Matched: 1}, cs.Counts())
}

func TestDiff_SalesChanges(t *testing.T) {
	snap := snapshotOf(1,
		dbRecord("price", 1, models.PropertyAttributes{SalePrice: price(200000), SaleDate: date("2020-01-01"), SaleBook: "100"}),
		dbRecord("tolerance", 1, models.PropertyAttributes{SalePrice: price(200000), SaleDate: date("2020-01-01")}),
		dbRecord("date", 1, models.PropertyAttributes{SalePrice: price(1000), SaleDate: date("2020-01-01")}),
		dbRecord("cleared", 1, models.PropertyAttributes{SalePrice: price(1000), SaleDate: date("2020-01-01")}),
		dbRecord("bookonly", 1, models.PropertyAttributes{SalePrice: price(1000), SaleBook: "1", SalePage: "2"}),
	)
	src := sourceOf(
		models.SourceRecord{CompositeKey: "price", PropertyAttributes: models.PropertyAttributes{SalePrice: price(250000), SaleDate: date("2023-06-15"), SaleBook: "200"}},
		models.SourceRecord{CompositeKey: "tolerance", PropertyAttributes: models.PropertyAttributes{SalePrice: price(200000.005), SaleDate: date("2020-01-01")}},
		models.SourceRecord{CompositeKey: "date", PropertyAttributes: models.PropertyAttributes{SalePrice: price(1000), SaleDate: date("2021-01-01")}},
		models.SourceRecord{CompositeKey: "cleared", PropertyAttributes: models.PropertyAttributes{}},
		models.SourceRecord{CompositeKey: "bookonly", PropertyAttributes: models.PropertyAttributes{SalePrice: price(1000), SaleBook: "9", SalePage: "8"}},
	)

	cs := Diff(src, snap, brt(t))
	require.Len(t, cs.SalesChanges, 3)

	sc, ok := cs.SalesChange("price")
	require.True(t, ok)
	assert.True(t, sc.PriceChanged)
	assert.True(t, sc.DateChanged)
	assert.Equal(t, "2020-01-01", sc.OldDate)
	assert.Equal(t, "2023-06-15", sc.NewDate)
	assert.Equal(t, "100", sc.OldBook)
	assert.Equal(t, "200", sc.NewBook)

	sc, ok = cs.SalesChange("date")
	require.True(t, ok)
	assert.False(t, sc.PriceChanged)
	assert.True(t, sc.DateChanged)

	sc, ok = cs.SalesChange("cleared")
	require.True(t, ok)
	assert.True(t, sc.PriceChanged)
	assert.Nil(t, sc.NewPrice)

	_, ok = cs.SalesChange("tolerance")
	assert.False(t, ok, "differences within tolerance are not changes")
	_, ok = cs.SalesChange("bookonly")
	assert.False(t, ok, "book and page alone do not raise a sales change")
}

func TestDiff_ClassChanges(t *testing.T) {
	snap := snapshotOf(1, dbRecord("k", 1, models.PropertyAttributes{
		Classification: map[string]string{"PROPERTY_CLASS": "2", "BLDGCLASS": "21", "TYPEUSE": "10", "DESIGN": "CL"},
	}))
	src := sourceOf(models.SourceRecord{CompositeKey: "k", PropertyAttributes: models.PropertyAttributes{
		Classification: map[string]string{"PROPERTY_CLASS": "4A", "BLDGCLASS": " 21 ", "TYPEUSE": "10", "DESIGN": "RA"},
	}})

	cs := Diff(src, snap, brt(t))
	require.Len(t, cs.ClassChanges, 2)
	assert.Equal(t, ClassChange{CompositeKey: "k", Field: "PROPERTY_CLASS", OldValue: "2", NewValue: "4A"}, cs.ClassChanges[0])
	assert.Equal(t, ClassChange{CompositeKey: "k", Field: "DESIGN", OldValue: "CL", NewValue: "RA"}, cs.ClassChanges[1])
	assert.Equal(t, []string{"k"}, cs.ModifiedKeys())
}

func TestDiff_FuzzyMatchesAreInformational(t *testing.T) {
	removedKey := "20250101-12-5_NONE-NONE-123 RT 9"
	addedKey := "20250101-12-5_NONE-NONE-123 ROUTE 9"

	snap := snapshotOf(1, dbRecord(removedKey, 1, models.PropertyAttributes{}))
	src := sourceOf(models.SourceRecord{CompositeKey: addedKey})

	cs := Diff(src, snap, brt(t))
	assert.Equal(t, []string{addedKey}, cs.Added)
	assert.Equal(t, []string{removedKey}, cs.Removed)
	require.Len(t, cs.FuzzyMatches, 1)
	assert.Equal(t, addedKey, cs.FuzzyMatches[0].AddedKey)
	assert.Equal(t, removedKey, cs.FuzzyMatches[0].RemovedKey)
}

func TestDiff_EmptySnapshot(t *testing.T) {
	cs := Diff(sourceOf(models.SourceRecord{CompositeKey: "a"}), nil, brt(t))
	assert.Equal(t, []string{"a"}, cs.Added)
	assert.Empty(t, cs.Removed)
}

func toSet(keys []string) map[string]struct{} {
	s := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}
