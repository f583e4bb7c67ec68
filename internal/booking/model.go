package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Active reports whether s occupies the pet's (pet, vaccine type) slot.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type Species string

const (
	SpeciesDog Species = "dog"
	SpeciesCat Species = "cat"
)

type TimeBucket string

const (
	BucketMorning   TimeBucket = "morning"
	BucketAfternoon TimeBucket = "afternoon"
	BucketEvening   TimeBucket = "evening"
)

// Buckets lists every time bucket in catalog order.
var Buckets = []TimeBucket{BucketMorning, BucketAfternoon, BucketEvening}

type VaccineType string

const (
	VaccineDogDHPPL        VaccineType = "DOG_DHPPL"
	VaccineDogCorona       VaccineType = "DOG_CORONA"
	VaccineDogKennelCough  VaccineType = "DOG_KENNEL_COUGH"
	VaccineDogRabies       VaccineType = "DOG_RABIES"
	VaccineCatFVRCP        VaccineType = "CAT_FVRCP"
	VaccineCatRabies       VaccineType = "CAT_RABIES"
)

type Pet struct {
	ID        uuid.UUID
	MemberID  uuid.UUID
	Name      string
	Species   Species
	BirthDate time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlanEligible reports whether the pet may still enter the automated
// vaccination plan: under twelve months old at the time of the request.
func (p *Pet) PlanEligible(asOf time.Time) bool {
	return p.BirthDate.AddDate(0, 12, 0).After(asOf)
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SearchCriteria is what the owner hands to the search engine. It is
// persisted as JSON on the reservation so completion can re-derive the next
// dose with the exact same constraints.
type SearchCriteria struct {
	Center       GeoPoint       `json:"center"`
	RadiusKm     float64        `json:"radius_km"`
	Bucket       TimeBucket     `json:"bucket"`
	Weekdays     []time.Weekday `json:"weekdays"`
	VaccineTypes []VaccineType  `json:"vaccine_types"`
}

// HospitalSlot is a candidate match produced by the search engine. Derived
// only, never persisted.
type HospitalSlot struct {
	HospitalID uuid.UUID
	Name       string
	Address    string
	Phone      string
	Location   GeoPoint
	Date       time.Time
	Bucket     TimeBucket
	Remaining  int
	DistanceKm float64
}

// DroppedVaccine records a requested type the search proceeded without.
type DroppedVaccine struct {
	Type   VaccineType
	Reason string
}

// SearchResult distinguishes "no hospitals at all" (empty Slots, possibly
// after escalation) from "right date, wrong time" (empty Slots with offered
// buckets elsewhere); DueDates is populated in both cases.
type SearchResult struct {
	TargetDate   time.Time
	RadiusUsedKm float64
	DueDates     map[VaccineType]time.Time
	Dropped      []DroppedVaccine
	Slots        []HospitalSlot
}

type Reservation struct {
	ID            uuid.UUID
	PetID         uuid.UUID
	HospitalID    uuid.UUID
	TargetDate    time.Time
	Bucket        TimeBucket
	VaccineTypes  []VaccineType
	TotalAmount   int64
	DepositAmount int64
	PaymentDueAt  *time.Time
	ChargeRef     *string
	Criteria      SearchCriteria
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	ReservationID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// DoseHistory maps a vaccine type to the dates of its completed doses,
// ascending.
type DoseHistory map[VaccineType][]time.Time
