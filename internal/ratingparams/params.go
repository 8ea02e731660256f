// Package ratingparams holds the immutable tunables the rating updater
// (C3) and format normalizer (C2) are parameterized by. Values are loaded
// once at startup from config and never mutated afterward — every
// goroutine that reads a *Params is safe to do so without a lock.
package ratingparams

import "github.com/openrating/core/internal/config"

// Params bundles the Bayesian rating constants used by internal/rating and
// internal/normalize. Roles of each field are fixed by the spec; values are
// tunable via configuration.
type Params struct {
	BaseMu    float64 // prior mean for a brand-new PlayerRating
	BaseSigma float64 // prior standard deviation for a brand-new PlayerRating
	Beta      float64 // skill-noise parameter (performance variance per player)
	Tau       float64 // dynamics/drift parameter added back into sigma each match
	SigmaMin  float64 // floor below which sigma never drops

	MovMin float64 // minimum margin-of-victory weight
	MovMax float64 // maximum margin-of-victory weight

	SynergyActivation int     // matches a pair must share before gamma starts moving
	SynergyK          float64 // base step size for pair synergy updates

	// BaseK is the format-specific base step K referenced in §4.1 step 4.
	// rating.Input.BaseK overrides it per call when non-zero; ingestion and
	// replay leave that unset, so BaseK applies to every format.
	BaseK float64
}

// Default returns the engine's tunable constants. Mirrors the teacher's
// EloK/InitialElo pattern of hardcoded rating constants, generalized to the
// Bayesian (mu, sigma, gamma) model this spec requires.
func Default() *Params {
	return &Params{
		BaseMu:            1500,
		BaseSigma:         350,
		Beta:              200,
		Tau:               4,
		SigmaMin:          40,
		MovMin:            0.5,
		MovMax:            1.8,
		SynergyActivation: 3,
		SynergyK:          16,
		BaseK:             32,
	}
}

// FromConfig builds Params from a loaded config.Config, allowing
// config.json/env overrides of every tunable except BaseK, which config
// has no field for and which always keeps its default.
func FromConfig(cfg *config.Config) *Params {
	p := Default()
	if cfg == nil {
		return p
	}
	r := cfg.Rating
	if r.BaseMu != 0 {
		p.BaseMu = r.BaseMu
	}
	if r.BaseSigma != 0 {
		p.BaseSigma = r.BaseSigma
	}
	if r.Beta != 0 {
		p.Beta = r.Beta
	}
	if r.Tau != 0 {
		p.Tau = r.Tau
	}
	if r.SigmaMin != 0 {
		p.SigmaMin = r.SigmaMin
	}
	if r.MovMin != 0 {
		p.MovMin = r.MovMin
	}
	if r.MovMax != 0 {
		p.MovMax = r.MovMax
	}
	if r.SynergyActivation != 0 {
		p.SynergyActivation = r.SynergyActivation
	}
	if r.SynergyK != 0 {
		p.SynergyK = r.SynergyK
	}
	return p
}
