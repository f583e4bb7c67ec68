package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPetNotFound                = errors.New("pet not found")
	ErrHospitalNotFound           = errors.New("hospital not found")
	ErrReservationNotFound        = errors.New("reservation not found")
	ErrDuplicateActiveReservation = errors.New("pet already has an active reservation for a requested vaccine")
)

// NewReservation carries everything the store needs to insert a pending row.
type NewReservation struct {
	PetID         uuid.UUID
	HospitalID    uuid.UUID
	TargetDate    time.Time
	Bucket        TimeBucket
	VaccineTypes  []VaccineType
	TotalAmount   int64
	DepositAmount int64
	PaymentDueAt  time.Time
	Criteria      SearchCriteria
}

// Repository contains all DB interactions needed by the lifecycle service
// and the search engine.
type Repository interface {
	GetPetByID(ctx context.Context, id uuid.UUID) (*Pet, error)
	GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	ListReservationsByPet(ctx context.Context, petID uuid.UUID) ([]Reservation, error)

	// CompletedDoses feeds the schedule calculator: dates of completed
	// reservations per vaccine type, ascending.
	CompletedDoses(ctx context.Context, petID uuid.UUID) (DoseHistory, error)

	// CreatePending checks the one-active-reservation-per-(pet, vaccine)
	// invariant and inserts in a single transaction. Violations fail with
	// ErrDuplicateActiveReservation.
	CreatePending(ctx context.Context, nr NewReservation) (*Reservation, error)

	// ConfirmReservation is a compare-and-swap pending->confirmed that also
	// clears payment_due_at and records the charge reference. A race loss
	// surfaces as ErrReservationNotFound.
	ConfirmReservation(ctx context.Context, id uuid.UUID, chargeRef string) (*Reservation, error)

	// UpdateStatus is a compare-and-swap on status. A race loss surfaces as
	// ErrReservationNotFound.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Reservation, error)

	// Expiry sweep
	FindExpiredPending(ctx context.Context, now time.Time) ([]Reservation, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
