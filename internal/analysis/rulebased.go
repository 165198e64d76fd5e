package analysis

import (
	"context"

	"github.com/kjstillabower/forecast-enhancer/internal/models"
)

// Decision table thresholds, evaluated in this order.
const (
	HeavyPrecipitationMM = 4.0
	LightPrecipitationMM = 0.2
	StrongWindMS         = 10.0
	FreezingC            = 0.0
	HotC                 = 25.0
	CoolBelowC           = 10.0
	MildBelowC           = 18.0
)

// Canned advisories, one per branch of the decision table.
const (
	AdviceHeavyPrecipitation = "Heavy precipitation expected. Avoid unnecessary travel and keep rain gear close."
	AdviceLightPrecipitation = "Light precipitation around. A jacket or umbrella will keep you comfortable."
	AdviceStrongWind         = "Strong winds expected. Secure loose objects and take care outdoors."
	AdviceFreezing           = "Sub-zero temperatures. Dress warmly and watch for ice."
	AdviceHot                = "Hot conditions. Stay hydrated and seek shade during the afternoon."
	AdviceCool               = "Cool and dry. A warm layer is recommended."
	AdviceMild               = "Mild and dry. Good conditions for being outside."
	AdviceWarm               = "Warm and dry. Pleasant conditions for outdoor plans."
)

// RuleBasedBackend is the zero-dependency baseline. It is always Ready.
type RuleBasedBackend struct{}

// NewRuleBasedBackend returns the baseline backend.
func NewRuleBasedBackend() *RuleBasedBackend { return &RuleBasedBackend{} }

func (*RuleBasedBackend) Initialize(context.Context) error { return nil }

func (*RuleBasedBackend) IsReady() bool { return true }

func (*RuleBasedBackend) Analyze(_ context.Context, f models.NormalizedForecast) (string, error) {
	return Advise(f.Current), nil
}

// Advise applies the decision table to a single reading.
func Advise(r models.Reading) string {
	switch {
	case r.PrecipitationAmount >= HeavyPrecipitationMM:
		return AdviceHeavyPrecipitation
	case r.PrecipitationAmount > LightPrecipitationMM:
		return AdviceLightPrecipitation
	case r.WindSpeed >= StrongWindMS:
		return AdviceStrongWind
	case r.Temperature < FreezingC:
		return AdviceFreezing
	case r.Temperature >= HotC:
		return AdviceHot
	case r.Temperature < CoolBelowC:
		return AdviceCool
	case r.Temperature < MildBelowC:
		return AdviceMild
	default:
		return AdviceWarm
	}
}
