package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// HospitalAvailability is one open (hospital, bucket) pair on a date.
// Capacity is a hint only: nothing is held until a reservation row exists.
type HospitalAvailability struct {
	HospitalID uuid.UUID
	Name       string
	Address    string
	Phone      string
	Location   GeoPoint
	Bucket     TimeBucket
	Remaining  int
	DistanceKm float64
}

// Catalog answers which hospitals within a radius of a point have open
// capacity on a date. One call covers all three time buckets; the engine
// filters afterwards so it can tell "no hospitals" apart from "wrong time".
// Two calls against a changing catalog may disagree.
type Catalog interface {
	FindOpenSlots(ctx context.Context, center GeoPoint, radiusKm float64, date time.Time) ([]HospitalAvailability, error)
}
