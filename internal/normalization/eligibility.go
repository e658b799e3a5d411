package normalization

import (
	"strconv"
	"strings"

	"github.com/stwalsh4118/appraisal/internal/models"
	"github.com/stwalsh4118/appraisal/internal/vendor"
)

// Ineligibility reasons, reported in evaluation order.
const (
	ReasonPriceTooLow     = "sale_price_at_or_below_minimum"
	ReasonNoSaleDate      = "missing_sale_date"
	ReasonSaleTooOld      = "sale_before_sales_from_year"
	ReasonNUCode          = "non_useable_nu_code"
	ReasonNotMainCard     = "not_main_card"
	ReasonBuildingClass   = "building_class_not_above_10"
	ReasonPreConstruction = "sale_before_year_built"
	ReasonMissingTypeUse  = "missing_type_use"
	ReasonMissingDesign   = "missing_design_style"
	ReasonNoFinishedArea  = "no_finished_area"
	ReasonLowImprovement  = "improvement_below_minimum"
	ReasonHPIUnavailable  = "hpi_index_unavailable"
)

const (
	minBuildingClass    = 10
	minImprovementValue = 10000.0
)

// usableNUCodes are the sale NU codes that still describe an arms-length
// transaction. Every other code marks the sale as non-useable.
var usableNUCodes = map[string]struct{}{
	"":   {},
	" ":  {},
	"0":  {},
	"00": {},
	"07": {},
	"7":  {},
	"32": {},
	"36": {},
}

// IsUsableNU reports whether a sale NU code leaves the sale usable.
func IsUsableNU(code string) bool {
	if _, ok := usableNUCodes[code]; ok {
		return true
	}
	_, ok := usableNUCodes[strings.TrimSpace(code)]
	return ok
}

// Eligibility returns every predicate a record fails. An empty result means
// the sale qualifies for normalization.
func Eligibility(a *models.PropertyAttributes, p vendor.Profile, cfg models.NormalizationConfig) []string {
	var reasons []string

	if a.SalePrice == nil || *a.SalePrice <= cfg.MinSalePrice {
		reasons = append(reasons, ReasonPriceTooLow)
	}
	if a.SaleDate == nil {
		reasons = append(reasons, ReasonNoSaleDate)
	} else if a.SaleDate.Year() < cfg.SalesFromYear {
		reasons = append(reasons, ReasonSaleTooOld)
	}
	if !IsUsableNU(a.SaleNU) {
		reasons = append(reasons, ReasonNUCode)
	}
	if !p.IsMainCard(a.Card) {
		reasons = append(reasons, ReasonNotMainCard)
	}
	if class, ok := leadingInt(a.BuildingClass); !ok || class <= minBuildingClass {
		reasons = append(reasons, ReasonBuildingClass)
	}
	if a.YearBuilt != nil && a.SaleDate != nil && *a.YearBuilt > a.SaleDate.Year() {
		reasons = append(reasons, ReasonPreConstruction)
	}
	if strings.TrimSpace(a.TypeUse) == "" {
		reasons = append(reasons, ReasonMissingTypeUse)
	}
	if strings.TrimSpace(a.DesignStyle) == "" {
		reasons = append(reasons, ReasonMissingDesign)
	}
	if a.FinishedArea == nil || *a.FinishedArea <= 0 {
		reasons = append(reasons, ReasonNoFinishedArea)
	}
	if a.ImprovementValue == nil || *a.ImprovementValue < minImprovementValue {
		reasons = append(reasons, ReasonLowImprovement)
	}

	return reasons
}

// leadingInt parses the numeric prefix of a building class such as "21" or "23A".
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}
