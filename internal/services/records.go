package services

import (
	"errors"
	"sort"
	"time"

	"github.com/stwalsh4118/appraisal/internal/compositekey"
	"github.com/stwalsh4118/appraisal/internal/decisions"
	"github.com/stwalsh4118/appraisal/internal/differ"
	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/normalization"
	"github.com/stwalsh4118/appraisal/internal/vendor"
)

// keyedUpload is a parsed file indexed by composite key.
type keyedUpload struct {
	source     map[string]*models.SourceRecord
	skipped    []vendor.SkippedRow
	duplicates []string
}

// keyRecords generates the composite key of every parsed row. Rows without
// a key are skipped; for repeated keys the first row wins.
func keyRecords(parsed *vendor.ParsedFile, year int, ccdd string) keyedUpload {
	out := keyedUpload{
		source:  make(map[string]*models.SourceRecord, len(parsed.Records)),
		skipped: append([]vendor.SkippedRow(nil), parsed.SkippedRows...),
	}

	for i := range parsed.Records {
		rec := &parsed.Records[i]
		key, err := compositekey.For(&rec.PropertyAttributes, year, ccdd)
		if err != nil {
			var ve *compositekey.ValidationError
			if errors.As(err, &ve) {
				ve.Row = rec.RowNumber
			}
			out.skipped = append(out.skipped, vendor.SkippedRow{Line: rec.RowNumber, Reason: err.Error()})
			continue
		}
		if _, dup := out.source[key]; dup {
			out.duplicates = append(out.duplicates, key)
			continue
		}
		rec.CompositeKey = key
		out.source[key] = rec
	}

	return out
}

func sortedSourceKeys(source map[string]*models.SourceRecord) []string {
	keys := make([]string, 0, len(source))
	for k := range source {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildRecords produces every record of the new file version. Matched
// records keep their normalized value and assignment flag; sales changes are
// resolved through the ledger, and undecided changes take the new values.
func buildRecords(jobID int64, version int, source map[string]*models.SourceRecord, snap *differ.Snapshot, sales decisions.SalesLedger) []models.PropertyRecord {
	keys := sortedSourceKeys(source)
	out := make([]models.PropertyRecord, 0, len(keys))

	for _, key := range keys {
		src := source[key]
		rec := models.PropertyRecord{
			PropertyAttributes: src.PropertyAttributes,
			JobID:              jobID,
			CompositeKey:       key,
			FileVersion:        version,
		}

		var old *models.PropertyRecord
		if snap != nil {
			old = snap.Records[key]
		}
		if old != nil {
			rec.ValuesNormTime = old.ValuesNormTime
			rec.IsAssignedProperty = old.IsAssignedProperty
			rec.PriorSalePrice = old.PriorSalePrice
			rec.PriorSaleDate = old.PriorSaleDate
		}

		if old != nil && sales.Tracks(key) {
			d, _ := sales.Resolve(key)
			applySalesDecision(&rec, old, d)
		}

		out = append(out, rec)
	}

	return out
}

func applySalesDecision(rec, old *models.PropertyRecord, d decisions.SalesDecision) {
	switch d {
	case decisions.KeepOld:
		copySale(&rec.PropertyAttributes, &old.PropertyAttributes)
	case decisions.KeepBoth:
		rec.PriorSalePrice = old.SalePrice
		rec.PriorSaleDate = old.SaleDate
	case decisions.Reject:
		rec.ClearSale()
	}
}

func copySale(dst, src *models.PropertyAttributes) {
	dst.SalePrice = src.SalePrice
	dst.SaleDate = src.SaleDate
	dst.SaleNU = src.SaleNU
	dst.SaleBook = src.SaleBook
	dst.SalePage = src.SalePage
}

// normalizationInputs selects the records Phase 2 reviews: every sales
// change, every added record carrying a sale and every removed key.
func normalizationInputs(cs *differ.ChangeSet, written []models.PropertyRecord, snap *differ.Snapshot) []normalization.Input {
	byKey := make(map[string]*models.PropertyRecord, len(written))
	for i := range written {
		byKey[written[i].CompositeKey] = &written[i]
	}

	var inputs []normalization.Input
	for _, sc := range cs.SalesChanges {
		rec, ok := byKey[sc.CompositeKey]
		if !ok {
			continue
		}
		inputs = append(inputs, normalization.Input{
			CompositeKey:       sc.CompositeKey,
			Attributes:         rec.PropertyAttributes,
			PreviousNormalized: rec.ValuesNormTime,
		})
	}
	for _, key := range cs.Added {
		rec, ok := byKey[key]
		if !ok || (rec.SalePrice == nil && rec.SaleDate == nil) {
			continue
		}
		inputs = append(inputs, normalization.Input{CompositeKey: key, Attributes: rec.PropertyAttributes})
	}
	for _, key := range cs.Removed {
		in := normalization.Input{CompositeKey: key, Removed: true}
		if snap != nil {
			if old := snap.Records[key]; old != nil {
				in.Attributes = old.PropertyAttributes
				in.PreviousNormalized = old.ValuesNormTime
			}
		}
		inputs = append(inputs, in)
	}

	return inputs
}

// normalizedSave is the persisted outcome of one Phase 2 result.
type normalizedSave struct {
	sale   *models.TimeNormalizedSale
	update models.NormalizedValueUpdate
	drop   bool
}

// saveSet turns reviewed results into writes. Kept values are stored at the
// new version and rejected values are cleared there; both are recorded in
// the sales list. Removed keys are cleared at the version they were last
// seen in and dropped from the list.
func saveSet(jobID int64, baseVersion, newVersion int, results []normalization.Result, ledger decisions.NormalizationLedger, now time.Time) ([]normalizedSave, []string) {
	out := make([]normalizedSave, 0, len(results))
	var cleared []string

	for i := range results {
		res := &results[i]
		if res.Removed {
			out = append(out, normalizedSave{
				update: models.NormalizedValueUpdate{CompositeKey: res.CompositeKey, FileVersion: baseVersion},
				drop:   true,
			})
			cleared = append(cleared, res.CompositeKey)
			continue
		}

		d, _ := ledger.Decision(res.CompositeKey)
		save := normalizedSave{
			update: models.NormalizedValueUpdate{CompositeKey: res.CompositeKey, FileVersion: newVersion},
			sale: &models.TimeNormalizedSale{
				JobID:         jobID,
				CompositeKey:  res.CompositeKey,
				SalePrice:     res.SalePrice,
				SaleDate:      res.SaleDate,
				SaleNU:        res.SaleNU,
				HPIMultiplier: res.HPIMultiplier,
				SalesRatio:    res.SalesRatio,
				IsOutlier:     res.IsOutlier,
				Decision:      string(d),
				DecidedAt:     now,
			},
		}
		if d == decisions.KeepNormalized {
			save.update.Value = res.TimeNormalizedPrice
			save.sale.TimeNormalizedPrice = res.TimeNormalizedPrice
		}
		out = append(out, save)
	}

	return out, cleared
}
