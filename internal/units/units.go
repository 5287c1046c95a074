package units

import (
	"fmt"
	"strings"
)

// #region constants
// KBKcalPerMolK is the Boltzmann constant in kcal/(mol*K).
const KBKcalPerMolK = 0.0019872043

const kJPerKcal = 4.184

// #endregion constants

// #region energy-unit
// EnergyUnit names the unit an Energy value is expressed in.
type EnergyUnit string

const (
	KilocaloriePerMole EnergyUnit = "kcal/mol"
	KilojoulePerMole   EnergyUnit = "kJ/mol"
)

// ParseEnergyUnit accepts the spellings OpenMM and mdtraj emit. An empty
// string is an error; callers with a default apply it themselves.
func ParseEnergyUnit(s string) (EnergyUnit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "kcal/mol", "kilocalorie/mole", "kilocalories_per_mole":
		return KilocaloriePerMole, nil
	case "kj/mol", "kilojoule/mole", "kilojoules_per_mole":
		return KilojoulePerMole, nil
	}
	return "", fmt.Errorf("unknown energy unit %q", s)
}

// #endregion energy-unit

// #region energy
// Energy is a molar energy with its unit attached.
type Energy struct {
	Value float64
	Unit  EnergyUnit
}

// KcalPerMol builds an Energy already in kcal/mol.
func KcalPerMol(v float64) Energy {
	return Energy{Value: v, Unit: KilocaloriePerMole}
}

// KJPerMol builds an Energy in kJ/mol.
func KJPerMol(v float64) Energy {
	return Energy{Value: v, Unit: KilojoulePerMole}
}

// InKcalPerMol returns the value converted to kcal/mol.
func (e Energy) InKcalPerMol() (float64, error) {
	switch e.Unit {
	case KilocaloriePerMole:
		return e.Value, nil
	case KilojoulePerMole:
		return e.Value / kJPerKcal, nil
	}
	return 0, fmt.Errorf("convert %q to kcal/mol: unsupported unit", e.Unit)
}

// Sub returns e - o expressed in kcal/mol.
func (e Energy) Sub(o Energy) (Energy, error) {
	a, err := e.InKcalPerMol()
	if err != nil {
		return Energy{}, err
	}
	b, err := o.InKcalPerMol()
	if err != nil {
		return Energy{}, err
	}
	return KcalPerMol(a - b), nil
}

// #endregion energy

// #region temperature
// Temperature is an absolute temperature in kelvin.
type Temperature float64

// Kelvin returns the raw kelvin value.
func (t Temperature) Kelvin() float64 {
	return float64(t)
}

// Beta returns 1/(kB*T) in mol/kcal.
func (t Temperature) Beta() float64 {
	return 1 / (KBKcalPerMolK * float64(t))
}

// #endregion temperature
