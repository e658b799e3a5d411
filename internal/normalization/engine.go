package normalization

import (
	"context"
	"math"
	"time"

	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/vendor"
)

// MinKeepablePrice is the normalized price at or below which a value can
// never be kept.
const MinKeepablePrice = 100.0

// computeBatchSize is how many records are evaluated between context checks.
const computeBatchSize = 500

// FlagReason explains why a result was flagged for review.
type FlagReason string

// Auto-flag reasons in precedence order.
const (
	FlagNone       FlagReason = ""
	FlagNUCode     FlagReason = "nu_code"
	FlagLowValue   FlagReason = "low_normalized_value"
	FlagIneligible FlagReason = "ineligible"
	FlagRemoved    FlagReason = "removed_from_source"
)

// Input is one record submitted for normalization.
type Input struct {
	Attributes         models.PropertyAttributes
	PreviousNormalized *float64
	CompositeKey       string
	Removed            bool
}

// Result is the computed normalization outcome for one key.
type Result struct {
	SaleDate            *time.Time `json:"saleDate,omitempty"`
	SalePrice           *float64   `json:"salePrice,omitempty"`
	AssessedValue       *float64   `json:"assessedValue,omitempty"`
	TimeNormalizedPrice *float64   `json:"timeNormalizedPrice"`
	PreviousNormalized  *float64   `json:"previousNormalized,omitempty"`
	CompositeKey        string     `json:"compositeKey"`
	SaleNU              string     `json:"saleNu,omitempty"`
	AutoFlagReason      FlagReason `json:"autoFlagReason,omitempty"`
	IneligibleReasons   []string   `json:"ineligibleReasons,omitempty"`
	HPIMultiplier       float64    `json:"hpiMultiplier"`
	SalesRatio          float64    `json:"salesRatio"`
	IsOutlier           bool       `json:"isOutlier"`
	QualifiesForNorm    bool       `json:"qualifiesForNorm"`
	Removed             bool       `json:"removed"`
}

// Keepable reports whether the result may be saved with a keep decision.
func (r *Result) Keepable() bool {
	return !r.Removed && r.TimeNormalizedPrice != nil && *r.TimeNormalizedPrice > MinKeepablePrice
}

// Engine evaluates records of one job against one county series.
type Engine struct {
	series  *Series
	profile vendor.Profile
	cfg     models.NormalizationConfig
}

// NewEngine returns an engine. Zero-valued config fields take their defaults.
func NewEngine(series *Series, p vendor.Profile, cfg models.NormalizationConfig) *Engine {
	def := models.DefaultNormalizationConfig()
	if cfg.NormalizeToYear == 0 {
		cfg.NormalizeToYear = def.NormalizeToYear
	}
	if cfg.SalesFromYear == 0 {
		cfg.SalesFromYear = def.SalesFromYear
	}
	if cfg.MinSalePrice == 0 {
		cfg.MinSalePrice = def.MinSalePrice
	}
	return &Engine{series: series, profile: p, cfg: cfg}
}

// Config returns the effective configuration.
func (e *Engine) Config() models.NormalizationConfig { return e.cfg }

// Compute evaluates every input in order, checking ctx between batches.
func (e *Engine) Compute(ctx context.Context, inputs []Input) ([]Result, error) {
	results := make([]Result, 0, len(inputs))
	for i := range inputs {
		if i%computeBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		results = append(results, e.Evaluate(&inputs[i]))
	}
	return results, nil
}

// Evaluate computes the result of a single record.
func (e *Engine) Evaluate(in *Input) Result {
	a := &in.Attributes
	r := Result{
		CompositeKey:       in.CompositeKey,
		PreviousNormalized: in.PreviousNormalized,
		SalePrice:          a.SalePrice,
		SaleDate:           a.SaleDate,
		SaleNU:             a.SaleNU,
		AssessedValue:      a.AssessedValue,
	}

	if in.Removed {
		r.Removed = true
		r.AutoFlagReason = FlagRemoved
		return r
	}

	r.IneligibleReasons = Eligibility(a, e.profile, e.cfg)
	if len(r.IneligibleReasons) == 0 {
		mult, ok := e.series.Multiplier(a.SaleDate.Year(), e.cfg.NormalizeToYear)
		if ok {
			normalized := math.Round(*a.SalePrice * mult)
			r.HPIMultiplier = mult
			r.TimeNormalizedPrice = &normalized
			r.SalesRatio = salesRatio(a.AssessedValue, normalized)
			r.IsOutlier = e.isOutlier(r.SalesRatio)
			r.QualifiesForNorm = true
		} else {
			r.IneligibleReasons = append(r.IneligibleReasons, ReasonHPIUnavailable)
		}
	}

	r.AutoFlagReason = e.flag(&r)
	return r
}

func (e *Engine) flag(r *Result) FlagReason {
	switch {
	case !IsUsableNU(r.SaleNU):
		return FlagNUCode
	case r.TimeNormalizedPrice != nil && *r.TimeNormalizedPrice <= MinKeepablePrice:
		return FlagLowValue
	case !r.QualifiesForNorm:
		return FlagIneligible
	default:
		return FlagNone
	}
}

func (e *Engine) isOutlier(ratio float64) bool {
	if e.cfg.EqualizationRatio == nil || e.cfg.OutlierThreshold == nil {
		return false
	}
	return math.Abs(ratio*100-*e.cfg.EqualizationRatio) > *e.cfg.OutlierThreshold
}

func salesRatio(assessed *float64, normalized float64) float64 {
	if normalized <= 0 || assessed == nil {
		return 0
	}
	return *assessed / normalized
}
