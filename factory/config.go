/*
Package factory converts JSON/YAML documents into payment configuration and
academic periods.

PURPOSE:
  Administrators describe prices and the school calendar as documents (the
  admin UI, the server's YAML file, fixtures). The factory turns those into
  validated generic.PaymentConfiguration / generic.AcademicPeriod values.
  Money and percentages are decimal strings and never pass through float64.

JSON SCHEMA (configuration):
  {
    "base_price_usd": "50.00",
    "base_price_ves": "1750.00",
    "penalty_percent": "5",
    "cutoff_day": 15,
    "pricing_policy": "retroactive",
    "effective_from": "2025-09-01",
    "instructions": "Transferencia a la cuenta ..."
  }

JSON SCHEMA (period):
  {
    "id": "2025-2026",
    "name": "Año escolar 2025-2026",
    "months": [
      {"month": 9, "year": 2025},
      {"month": 12, "year": 2025, "override_usd": "25.00", "override_ves": "875.00"}
    ]
  }

USAGE:
  cfg, err := factory.ParseConfig(data)
  period, err := factory.ParsePeriod(data)
  upd, err := factory.UpdateFromJSON(uj)

SEE ALSO:
  - generic/types.go: PaymentConfiguration, ConfigUpdate, AcademicPeriod
  - config/config.go: Seeds the initial configuration from YAML
  - api/dto.go: Request bodies built on these types
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/dues-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the document form of a payment configuration.
type ConfigJSON struct {
	BasePriceUSD   string `json:"base_price_usd" yaml:"base_price_usd"`
	BasePriceVES   string `json:"base_price_ves" yaml:"base_price_ves"`
	PenaltyPercent string `json:"penalty_percent" yaml:"penalty_percent"`
	CutoffDay      int    `json:"cutoff_day" yaml:"cutoff_day"`
	PricingPolicy  string `json:"pricing_policy" yaml:"pricing_policy"`
	EffectiveFrom  string `json:"effective_from,omitempty" yaml:"effective_from"`
	Instructions   string `json:"instructions,omitempty" yaml:"instructions"`
}

// UpdateJSON is a partial configuration; absent fields keep their value.
type UpdateJSON struct {
	BasePriceUSD   *string `json:"base_price_usd,omitempty"`
	BasePriceVES   *string `json:"base_price_ves,omitempty"`
	PenaltyPercent *string `json:"penalty_percent,omitempty"`
	CutoffDay      *int    `json:"cutoff_day,omitempty"`
	PricingPolicy  *string `json:"pricing_policy,omitempty"`
	EffectiveFrom  *string `json:"effective_from,omitempty"`
	Instructions   *string `json:"instructions,omitempty"`
}

type PeriodJSON struct {
	ID     string      `json:"id" yaml:"id"`
	Name   string      `json:"name" yaml:"name"`
	Months []MonthJSON `json:"months" yaml:"months"`
}

type MonthJSON struct {
	Month       int    `json:"month" yaml:"month"`
	Year        int    `json:"year" yaml:"year"`
	OverrideUSD string `json:"override_usd,omitempty" yaml:"override_usd"`
	OverrideVES string `json:"override_ves,omitempty" yaml:"override_ves"`
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// ParseConfig parses a JSON document into a validated configuration.
func ParseConfig(data []byte) (generic.PaymentConfiguration, error) {
	var cj ConfigJSON
	if err := json.Unmarshal(data, &cj); err != nil {
		return generic.PaymentConfiguration{}, fmt.Errorf("failed to parse configuration JSON: %w", err)
	}
	return FromJSON(cj)
}

// FromJSON converts ConfigJSON to a validated configuration.
func FromJSON(cj ConfigJSON) (generic.PaymentConfiguration, error) {
	base, err := generic.ParseAmounts(cj.BasePriceUSD, cj.BasePriceVES)
	if err != nil {
		return generic.PaymentConfiguration{}, fieldError("basePrice", err)
	}
	rate, err := parsePercent(cj.PenaltyPercent)
	if err != nil {
		return generic.PaymentConfiguration{}, fieldError("penaltyPercent", err)
	}
	cfg := generic.PaymentConfiguration{
		BasePrice:     base,
		PenaltyRate:   rate,
		CutoffDay:     cj.CutoffDay,
		PricingPolicy: parsePricingPolicy(cj.PricingPolicy),
		Instructions:  cj.Instructions,
	}
	if cj.EffectiveFrom != "" {
		if cfg.EffectiveFrom, err = generic.ParseDate(cj.EffectiveFrom); err != nil {
			return generic.PaymentConfiguration{}, fieldError("effectiveFrom", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return generic.PaymentConfiguration{}, err
	}
	return cfg, nil
}

// ToJSON converts a configuration to its document form.
func ToJSON(cfg generic.PaymentConfiguration) ConfigJSON {
	return ConfigJSON{
		BasePriceUSD:   cfg.BasePrice.USD.Major(),
		BasePriceVES:   cfg.BasePrice.VES.Major(),
		PenaltyPercent: cfg.PenaltyRate.Percent().StringFixed(2),
		CutoffDay:      cfg.CutoffDay,
		PricingPolicy:  string(cfg.PricingPolicy),
		EffectiveFrom:  cfg.EffectiveFrom.String(),
		Instructions:   cfg.Instructions,
	}
}

// UpdateFromJSON converts a partial document to a ConfigUpdate. A price must
// name both currencies. Validation of the merged result happens in the
// configuration store.
func UpdateFromJSON(uj UpdateJSON) (generic.ConfigUpdate, error) {
	var upd generic.ConfigUpdate

	if (uj.BasePriceUSD == nil) != (uj.BasePriceVES == nil) {
		return upd, &generic.ConfigError{Fields: []generic.FieldViolation{
			{Field: "basePrice", Message: "base_price_usd and base_price_ves must be set together"},
		}}
	}
	if uj.BasePriceUSD != nil {
		base, err := generic.ParseAmounts(*uj.BasePriceUSD, *uj.BasePriceVES)
		if err != nil {
			return upd, fieldError("basePrice", err)
		}
		upd.BasePrice = &base
	}
	if uj.PenaltyPercent != nil {
		rate, err := parsePercent(*uj.PenaltyPercent)
		if err != nil {
			return upd, fieldError("penaltyPercent", err)
		}
		upd.PenaltyRate = &rate
	}
	upd.CutoffDay = uj.CutoffDay
	if uj.PricingPolicy != nil {
		p := parsePricingPolicy(*uj.PricingPolicy)
		upd.PricingPolicy = &p
	}
	if uj.EffectiveFrom != nil {
		var tp generic.TimePoint
		if *uj.EffectiveFrom != "" {
			var err error
			if tp, err = generic.ParseDate(*uj.EffectiveFrom); err != nil {
				return upd, fieldError("effectiveFrom", err)
			}
		}
		upd.EffectiveFrom = &tp
	}
	upd.Instructions = uj.Instructions
	return upd, nil
}

// =============================================================================
// PERIODS
// =============================================================================

// ParsePeriod parses a JSON document into an academic period.
func ParsePeriod(data []byte) (generic.AcademicPeriod, error) {
	var pj PeriodJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return generic.AcademicPeriod{}, fmt.Errorf("failed to parse period JSON: %w", err)
	}
	return PeriodFromJSON(pj)
}

// PeriodFromJSON converts PeriodJSON to an academic period. Overrides need
// both currencies; a month with neither uses the configured base price.
func PeriodFromJSON(pj PeriodJSON) (generic.AcademicPeriod, error) {
	if pj.ID == "" {
		return generic.AcademicPeriod{}, fieldError("id", fmt.Errorf("%w: period id is required", generic.ErrInvalidConfiguration))
	}
	p := generic.AcademicPeriod{ID: generic.PeriodID(pj.ID), Name: pj.Name}
	if p.Name == "" {
		p.Name = pj.ID
	}

	for i, mj := range pj.Months {
		field := fmt.Sprintf("months[%d]", i)
		if mj.Month < 1 || mj.Month > 12 || mj.Year < 1 {
			return generic.AcademicPeriod{}, fieldError(field, fmt.Errorf("%w: invalid month %d/%d", generic.ErrInvalidConfiguration, mj.Month, mj.Year))
		}
		pm := generic.PeriodMonth{Month: time.Month(mj.Month), Year: mj.Year}
		if mj.OverrideUSD != "" || mj.OverrideVES != "" {
			if mj.OverrideUSD == "" || mj.OverrideVES == "" {
				return generic.AcademicPeriod{}, fieldError(field, fmt.Errorf("%w: override needs both currencies", generic.ErrInvalidAmount))
			}
			o, err := generic.ParseAmounts(mj.OverrideUSD, mj.OverrideVES)
			if err != nil {
				return generic.AcademicPeriod{}, fieldError(field, err)
			}
			pm.Override = &o
		}
		p.Months = append(p.Months, pm)
	}
	p.StartYear = generic.PeriodStartYearOf(p)
	return p, nil
}

// PeriodToJSON converts an academic period to its document form.
func PeriodToJSON(p generic.AcademicPeriod) PeriodJSON {
	pj := PeriodJSON{ID: string(p.ID), Name: p.Name, Months: []MonthJSON{}}
	for _, m := range p.Months {
		mj := MonthJSON{Month: int(m.Month), Year: m.Year}
		if m.Override != nil {
			mj.OverrideUSD = m.Override.USD.Major()
			mj.OverrideVES = m.Override.VES.Major()
		}
		pj.Months = append(pj.Months, mj)
	}
	return pj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parsePercent(s string) (generic.BasisPoints, error) {
	if s == "" {
		return 0, nil
	}
	return generic.ParsePercent(s)
}

// parsePricingPolicy accepts the stored names and the Spanish labels used
// by the admin UI. Unknown values pass through and fail validation.
func parsePricingPolicy(s string) generic.PricingPolicy {
	switch s {
	case "retroactivo":
		return generic.PolicyRetroactive
	case "congelado":
		return generic.PolicyFrozen
	default:
		return generic.PricingPolicy(s)
	}
}

func fieldError(field string, err error) error {
	return &generic.ConfigError{Fields: []generic.FieldViolation{{Field: field, Message: err.Error()}}}
}

// =============================================================================
// PRESETS
// =============================================================================

// DefaultConfigJSON is the configuration a fresh installation starts with.
func DefaultConfigJSON() ConfigJSON {
	return ConfigJSON{
		BasePriceUSD:   "50.00",
		BasePriceVES:   "1750.00",
		PenaltyPercent: "5",
		CutoffDay:      15,
		PricingPolicy:  string(generic.PolicyRetroactive),
	}
}

// SchoolYearJSON builds a ten-month period (September to June by default)
// named "<start>-<start+1>".
func SchoolYearJSON(startYear int, startMonth time.Month) PeriodJSON {
	if startMonth < time.January || startMonth > time.December {
		startMonth = generic.DefaultStartMonth
	}
	id := fmt.Sprintf("%d-%d", startYear, startYear+1)
	pj := PeriodJSON{ID: id, Name: "Año escolar " + id}
	for i := 0; i < 10; i++ {
		m := (int(startMonth)-1+i)%12 + 1
		y := startYear
		if m < int(startMonth) {
			y++
		}
		pj.Months = append(pj.Months, MonthJSON{Month: m, Year: y})
	}
	return pj
}
