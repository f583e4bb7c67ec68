package booking

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrIneligibleVaccine = errors.New("pet is not eligible for this vaccine")
	ErrSeriesComplete    = errors.New("vaccine series already complete")
	ErrUnknownVaccine    = errors.New("unknown vaccine type")
)

// vaccineRule drives the schedule calculator: the first dose is due a fixed
// offset after birth, later doses a fixed interval after the previous one,
// until the series length is reached.
type vaccineRule struct {
	species      Species
	firstDoseAge int // days after birth
	intervalDays int // between doses; 0 for single-dose series
	doses        int
	priceMinor   int64
}

var vaccineRules = map[VaccineType]vaccineRule{
	VaccineDogDHPPL:       {species: SpeciesDog, firstDoseAge: 42, intervalDays: 14, doses: 5, priceMinor: 25000},
	VaccineDogCorona:      {species: SpeciesDog, firstDoseAge: 42, intervalDays: 14, doses: 2, priceMinor: 20000},
	VaccineDogKennelCough: {species: SpeciesDog, firstDoseAge: 98, intervalDays: 14, doses: 2, priceMinor: 22000},
	VaccineDogRabies:      {species: SpeciesDog, firstDoseAge: 112, intervalDays: 0, doses: 1, priceMinor: 30000},
	VaccineCatFVRCP:       {species: SpeciesCat, firstDoseAge: 56, intervalDays: 21, doses: 3, priceMinor: 28000},
	VaccineCatRabies:      {species: SpeciesCat, firstDoseAge: 112, intervalDays: 0, doses: 1, priceMinor: 30000},
}

// NextDue computes when the pet's next dose of vt is due given the completed
// doses so far. Returns ErrIneligibleVaccine on a species mismatch,
// ErrSeriesComplete once every dose in the series is done.
func NextDue(pet *Pet, vt VaccineType, completed []time.Time) (time.Time, error) {
	rule, ok := vaccineRules[vt]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownVaccine, vt)
	}
	if rule.species != pet.Species {
		return time.Time{}, fmt.Errorf("%w: %s is a %s vaccine", ErrIneligibleVaccine, vt, rule.species)
	}
	if len(completed) >= rule.doses {
		return time.Time{}, fmt.Errorf("%w: %s (%d doses)", ErrSeriesComplete, vt, rule.doses)
	}

	if len(completed) == 0 {
		return startOfDay(pet.BirthDate).AddDate(0, 0, rule.firstDoseAge), nil
	}

	last := completed[len(completed)-1]
	return startOfDay(last).AddDate(0, 0, rule.intervalDays), nil
}

// PriceFor sums the list prices of the requested vaccine types.
func PriceFor(types []VaccineType) (int64, error) {
	var total int64
	for _, vt := range types {
		rule, ok := vaccineRules[vt]
		if !ok {
			return 0, fmt.Errorf("%w: %s", ErrUnknownVaccine, vt)
		}
		total += rule.priceMinor
	}
	return total, nil
}

// depositRate is the fraction of the total charged up front on confirm.
const depositRate = 0.3

// DepositFor returns the deposit owed for a given total, rounded down to
// whole currency units.
func DepositFor(total int64) int64 {
	return int64(float64(total) * depositRate)
}

// SpeciesVaccines lists the vaccine types applicable to a species, in a
// stable order.
func SpeciesVaccines(sp Species) []VaccineType {
	var out []VaccineType
	for _, vt := range []VaccineType{
		VaccineDogDHPPL, VaccineDogCorona, VaccineDogKennelCough, VaccineDogRabies,
		VaccineCatFVRCP, VaccineCatRabies,
	} {
		if vaccineRules[vt].species == sp {
			out = append(out, vt)
		}
	}
	return out
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
