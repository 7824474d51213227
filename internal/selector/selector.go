// Package selector implements the carrier selection rules.
package selector

import "shipflow/internal/model"

// Reason codes returned alongside the selected carrier.
const (
	ReasonHeavy         = "HEAVY>20kg"
	ReasonCOD           = "COD"
	ReasonExpress       = "EXPRESS"
	ReasonInternational = "INTERNATIONAL"
	ReasonDefault       = "DEFAULT_STANDARD"
)

// Rules maps order attributes to a carrier. First matching rule wins:
// weight, then COD, then express, then international, then default.
type Rules struct {
	HeavyThresholdKg     float64
	DomesticCountry      string
	HeavyCarrier         string
	CODCarrier           string
	ExpressCarrier       string
	InternationalCarrier string
	DefaultCarrier       string
}

// Default returns the production rule set: TIPSA handles heavy, COD and
// standard domestic traffic, GLS express, SEUR international.
func Default() Rules {
	return Rules{
		HeavyThresholdKg:     20,
		DomesticCountry:      "ES",
		HeavyCarrier:         "tipsa",
		CODCarrier:           "tipsa",
		ExpressCarrier:       "gls",
		InternationalCarrier: "seur",
		DefaultCarrier:       "tipsa",
	}
}

// Select returns the carrier code and a human-readable reason for the
// given order. Pure: no I/O, no error conditions, always returns a value.
func (r Rules) Select(o model.Order) (carrier, reason string) {
	if o.WeightKg > r.HeavyThresholdKg {
		return r.HeavyCarrier, ReasonHeavy
	}
	if o.COD() {
		return r.CODCarrier, ReasonCOD
	}
	if o.ServiceLevel == "EXPRESS" {
		return r.ExpressCarrier, ReasonExpress
	}
	if o.Shipping.Country != "" && o.Shipping.Country != r.DomesticCountry {
		return r.InternationalCarrier, ReasonInternational
	}
	return r.DefaultCarrier, ReasonDefault
}
