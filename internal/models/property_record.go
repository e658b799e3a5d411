package models

import (
	"time"
)

// DateLayout is the canonical textual form of sale dates.
const DateLayout = "2006-01-02"

// PropertyAttributes is the canonical field set shared by a parsed vendor row
// and a persisted property record. Nullable numeric fields use pointers to
// distinguish between zero values and NULL.
type PropertyAttributes struct {
	SalePrice        *float64          `json:"salePrice,omitempty"`
	SaleDate         *time.Time        `json:"saleDate,omitempty"`
	AssessedValue    *float64          `json:"assessedValue,omitempty"`
	ImprovementValue *float64          `json:"improvementValue,omitempty"`
	LandValue        *float64          `json:"landValue,omitempty"`
	FinishedArea     *float64          `json:"finishedArea,omitempty"`
	YearBuilt        *int              `json:"yearBuilt,omitempty"`
	Classification   map[string]string `json:"classification,omitempty"`
	Block            string            `json:"block"`
	Lot              string            `json:"lot"`
	Qualifier        string            `json:"qualifier,omitempty"`
	Card             string            `json:"card,omitempty"`
	Location         string            `json:"location,omitempty"`
	SaleNU           string            `json:"saleNu,omitempty"`
	SaleBook         string            `json:"saleBook,omitempty"`
	SalePage         string            `json:"salePage,omitempty"`
	PropertyClass    string            `json:"propertyClass,omitempty"`
	BuildingClass    string            `json:"buildingClass,omitempty"`
	TypeUse          string            `json:"typeUse,omitempty"`
	DesignStyle      string            `json:"designStyle,omitempty"`
}

// SaleDateString returns the sale date in DateLayout, or "" when absent.
func (a *PropertyAttributes) SaleDateString() string {
	if a.SaleDate == nil {
		return ""
	}
	return a.SaleDate.Format(DateLayout)
}

// ClearSale nulls every current-sale field.
func (a *PropertyAttributes) ClearSale() {
	a.SalePrice = nil
	a.SaleDate = nil
	a.SaleNU = ""
	a.SaleBook = ""
	a.SalePage = ""
}

// SourceRecord is one canonical row produced by the vendor parser.
// It only lives for the duration of a reconciliation run.
type SourceRecord struct {
	PropertyAttributes
	Raw          map[string]string `json:"-"`
	CompositeKey string            `json:"compositeKey"`
	RowNumber    int               `json:"rowNumber"`
}

// PropertyRecord is a persisted property row keyed by
// (job_id, composite_key, file_version). Rows are never physically deleted
// by the reconciliation engine.
type PropertyRecord struct {
	PropertyAttributes
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	PriorSalePrice     *float64   `json:"priorSalePrice,omitempty"`
	PriorSaleDate      *time.Time `json:"priorSaleDate,omitempty"`
	ValuesNormTime     *float64   `json:"valuesNormTime,omitempty"`
	CompositeKey       string     `json:"compositeKey"`
	JobID              int64      `json:"jobId"`
	FileVersion        int        `json:"fileVersion"`
	IsAssignedProperty bool       `json:"isAssignedProperty"`
}

// TableName is the PostgreSQL table holding property records.
func (PropertyRecord) TableName() string {
	return "property_records"
}

// NormalizedValueUpdate sets or clears values_norm_time on one record version.
type NormalizedValueUpdate struct {
	Value        *float64
	CompositeKey string
	FileVersion  int
}
