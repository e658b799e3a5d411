package models

import "time"

// Default normalization settings applied when a job has none persisted.
const (
	DefaultNormalizeToYear = 2025
	DefaultSalesFromYear   = 2012
	DefaultMinSalePrice    = 100.0
)

// NormalizationConfig is the persisted per-job time normalization setup.
// EqualizationRatio and OutlierThreshold are optional; outlier detection
// only runs when both are set.
type NormalizationConfig struct {
	EqualizationRatio *float64 `json:"equalizationRatio,omitempty"`
	OutlierThreshold  *float64 `json:"outlierThreshold,omitempty"`
	MinSalePrice      float64  `json:"minSalePrice"`
	NormalizeToYear   int      `json:"normalizeToYear"`
	SalesFromYear     int      `json:"salesFromYear"`
}

// DefaultNormalizationConfig returns the defaults used for jobs without a saved config.
func DefaultNormalizationConfig() NormalizationConfig {
	return NormalizationConfig{
		NormalizeToYear: DefaultNormalizeToYear,
		SalesFromYear:   DefaultSalesFromYear,
		MinSalePrice:    DefaultMinSalePrice,
	}
}

// HPIRecord is one county-level annual Housing Price Index observation.
type HPIRecord struct {
	County          string  `json:"county"`
	ObservationYear int     `json:"observationYear"`
	HPIIndex        float64 `json:"hpiIndex"`
}

// TableName is the PostgreSQL table holding HPI reference data.
func (HPIRecord) TableName() string {
	return "county_hpi"
}

// TimeNormalizedSale is one entry of a job's reviewed time-normalized sales list.
type TimeNormalizedSale struct {
	DecidedAt           time.Time  `json:"decidedAt"`
	SaleDate            *time.Time `json:"saleDate,omitempty"`
	SalePrice           *float64   `json:"salePrice,omitempty"`
	TimeNormalizedPrice *float64   `json:"timeNormalizedPrice,omitempty"`
	CompositeKey        string     `json:"compositeKey"`
	SaleNU              string     `json:"saleNu,omitempty"`
	Decision            string     `json:"decision"`
	JobID               int64      `json:"jobId"`
	HPIMultiplier       float64    `json:"hpiMultiplier"`
	SalesRatio          float64    `json:"salesRatio"`
	IsOutlier           bool       `json:"isOutlier"`
}

// TableName is the PostgreSQL table holding the reviewed sales list.
func (TimeNormalizedSale) TableName() string {
	return "time_normalized_sales"
}
