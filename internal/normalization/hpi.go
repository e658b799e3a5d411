// Package normalization adjusts historical sale prices to a common valuation
// year with a county Housing Price Index and screens sales for eligibility.
package normalization

import (
	"errors"
	"math"
	"sort"

	"github.com/stwalsh4118/appraisal/internal/models"
)

// ErrNoHPIData is returned when a county has no HPI observations.
var ErrNoHPIData = errors.New("no HPI data for county")

// multiplierPrecision is the number of decimals the HPI multiplier is rounded to.
const multiplierPrecision = 4

// Series is the HPI index of one county keyed by observation year.
type Series struct {
	index   map[int]float64
	county  string
	minYear int
	maxYear int
}

// NewSeries builds a series from reference rows. Rows from other counties
// are ignored; later rows for the same year replace earlier ones.
func NewSeries(county string, records []models.HPIRecord) (*Series, error) {
	s := &Series{county: county, index: make(map[int]float64, len(records))}
	for _, r := range records {
		if county != "" && r.County != county {
			continue
		}
		if r.HPIIndex <= 0 {
			continue
		}
		s.index[r.ObservationYear] = r.HPIIndex
	}
	if len(s.index) == 0 {
		return nil, ErrNoHPIData
	}

	years := s.Years()
	s.minYear, s.maxYear = years[0], years[len(years)-1]
	return s, nil
}

// County returns the county the series was built for.
func (s *Series) County() string { return s.county }

// MaxYear returns the latest observation year.
func (s *Series) MaxYear() int { return s.maxYear }

// MinYear returns the earliest observation year.
func (s *Series) MinYear() int { return s.minYear }

// Years returns every observation year, ascending.
func (s *Series) Years() []int {
	years := make([]int, 0, len(s.index))
	for y := range s.index {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Index returns the index value for year.
func (s *Series) Index(year int) (float64, bool) {
	v, ok := s.index[year]
	return v, ok
}

// Multiplier returns targetIndex / saleIndex rounded to four decimals.
//
// Sales after the latest observation are never extrapolated and get 1.0.
// A target beyond the latest observation is clamped to it. ok is false when
// an index needed for the ratio is missing.
func (s *Series) Multiplier(saleYear, targetYear int) (float64, bool) {
	if saleYear > s.maxYear {
		return 1.0, true
	}
	if targetYear > s.maxYear {
		targetYear = s.maxYear
	}
	if saleYear == targetYear {
		return 1.0, true
	}

	saleIdx, ok := s.index[saleYear]
	if !ok {
		return 0, false
	}
	targetIdx, ok := s.index[targetYear]
	if !ok {
		return 0, false
	}
	return roundTo(targetIdx/saleIdx, multiplierPrecision), true
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
