package device

import (
	"github.com/hyqw-adapter/core/internal/statecache"
)

// Function codes shared across device kinds. fn=1 is the power/control
// switch on every known type.
const (
	fnSwitch = 1
)

// DeriveFunc derives typed properties from a device's raw function
// states. Implementations are pure: same states in, same properties out.
type DeriveFunc func(states map[int]statecache.FunctionState) Properties

// strategies is the derivation table keyed by vendor type identifier.
// Unknown types fall back to the common switch-only derivation.
var strategies = map[int]DeriveFunc{
	TypeLight:        deriveLight,
	TypeAirCon:       deriveAirCon,
	TypeCover:        deriveCover,
	TypeFloorHeating: deriveFloorHeating,
	TypeFreshAir:     deriveFreshAir,
}

// Derive maps a device's raw function states to typed properties using
// the strategy for its type.
func Derive(typeID int, states map[int]statecache.FunctionState) Properties {
	if derive, ok := strategies[typeID]; ok {
		return derive(states)
	}
	return deriveCommon(states)
}

// deriveCommon extracts the power switch present on every device kind.
func deriveCommon(states map[int]statecache.FunctionState) Properties {
	var p Properties
	if s, ok := states[fnSwitch]; ok {
		on := s.FV == 1
		p.Power = &on
	}
	return p
}

// deriveLight adds brightness (fn=2).
func deriveLight(states map[int]statecache.FunctionState) Properties {
	p := deriveCommon(states)
	if s, ok := states[2]; ok {
		v := s.FV
		p.Brightness = &v
	}
	return p
}

// deriveAirCon adds target temperature (fn=2), HVAC mode (fn=3), fan
// speed (fn=4) and current temperature (fn=5).
func deriveAirCon(states map[int]statecache.FunctionState) Properties {
	p := deriveCommon(states)
	if s, ok := states[2]; ok {
		t := scaleTemperature(s.FV)
		p.TargetTemp = &t
	}
	if s, ok := states[3]; ok {
		p.HVACMode = ACModes[s.FV]
	}
	if s, ok := states[4]; ok {
		p.FanSpeed = FanSpeeds[s.FV]
	}
	if s, ok := states[5]; ok {
		t := scaleTemperature(s.FV)
		p.CurrentTemp = &t
	}
	return p
}

// deriveCover adds position (fn=2) and the moving state implied by the
// last control value (fn=1: 0 close, 1 open, 2 stop).
func deriveCover(states map[int]statecache.FunctionState) Properties {
	var p Properties
	if s, ok := states[fnSwitch]; ok {
		switch s.FV {
		case 0:
			p.MovingState = "closing"
		case 1:
			p.MovingState = "opening"
		case 2:
			p.MovingState = "stopped"
		}
	}
	if s, ok := states[2]; ok {
		v := s.FV
		p.Position = &v
	}
	return p
}

// deriveFloorHeating adds target temperature (fn=2).
func deriveFloorHeating(states map[int]statecache.FunctionState) Properties {
	p := deriveCommon(states)
	if s, ok := states[2]; ok {
		t := scaleTemperature(s.FV)
		p.TargetTemp = &t
	}
	return p
}

// deriveFreshAir adds fan speed, which fresh-air units carry on fn=3.
func deriveFreshAir(states map[int]statecache.FunctionState) Properties {
	p := deriveCommon(states)
	if s, ok := states[3]; ok {
		p.FanSpeed = FanSpeeds[s.FV]
	}
	return p
}

// scaleTemperature normalizes the cloud's mixed temperature encoding:
// values above 100 are tenths of a degree, the rest are whole degrees.
func scaleTemperature(fv int) float64 {
	if fv > 100 {
		return float64(fv) / 10
	}
	return float64(fv)
}
