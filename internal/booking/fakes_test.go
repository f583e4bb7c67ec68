package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petcare/vaccine-booking/internal/payment"
)

// In-memory repository with the same transition semantics as the Postgres
// implementation: CAS updates, duplicate check on create.
type memRepo struct {
	mu           sync.Mutex
	pets         map[uuid.UUID]*Pet
	reservations map[uuid.UUID]*Reservation
	events       []EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		pets:         make(map[uuid.UUID]*Pet),
		reservations: make(map[uuid.UUID]*Reservation),
	}
}

func (m *memRepo) addPet(p *Pet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pets[p.ID] = p
}

func (m *memRepo) GetPetByID(_ context.Context, id uuid.UUID) (*Pet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pets[id]
	if !ok {
		return nil, ErrPetNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memRepo) GetReservationByID(_ context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) ListReservationsByPet(_ context.Context, petID uuid.UUID) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.reservations {
		if r.PetID == petID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRepo) CompletedDoses(_ context.Context, petID uuid.UUID) (DoseHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := make(DoseHistory)
	for _, r := range m.reservations {
		if r.PetID != petID || r.Status != StatusCompleted {
			continue
		}
		for _, vt := range r.VaccineTypes {
			history[vt] = append(history[vt], r.TargetDate)
		}
	}
	return history, nil
}

func (m *memRepo) CreatePending(_ context.Context, nr NewReservation) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	requested := make(map[VaccineType]bool, len(nr.VaccineTypes))
	for _, vt := range nr.VaccineTypes {
		requested[vt] = true
	}
	for _, r := range m.reservations {
		if r.PetID != nr.PetID || !r.Status.Active() {
			continue
		}
		for _, vt := range r.VaccineTypes {
			if requested[vt] {
				return nil, ErrDuplicateActiveReservation
			}
		}
	}

	due := nr.PaymentDueAt
	now := time.Now()
	r := &Reservation{
		ID:            uuid.New(),
		PetID:         nr.PetID,
		HospitalID:    nr.HospitalID,
		TargetDate:    nr.TargetDate,
		Bucket:        nr.Bucket,
		VaccineTypes:  append([]VaccineType(nil), nr.VaccineTypes...),
		TotalAmount:   nr.TotalAmount,
		DepositAmount: nr.DepositAmount,
		PaymentDueAt:  &due,
		Criteria:      nr.Criteria,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.reservations[r.ID] = r
	cp := *r
	return &cp, nil
}

func (m *memRepo) ConfirmReservation(_ context.Context, id uuid.UUID, chargeRef string) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok || r.Status != StatusPending {
		return nil, ErrReservationNotFound
	}
	r.Status = StatusConfirmed
	r.PaymentDueAt = nil
	r.ChargeRef = &chargeRef
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *memRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[id]
	if !ok || r.Status != from {
		return nil, ErrReservationNotFound
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func (m *memRepo) FindExpiredPending(_ context.Context, now time.Time) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Reservation
	for _, r := range m.reservations {
		if r.Status == StatusPending && r.PaymentDueAt != nil && r.PaymentDueAt.Before(now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memRepo) eventsOfType(eventType string) []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EventLog
	for _, ev := range m.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// fakeCatalog answers from a function so tests can vary results by radius.
type fakeCatalog struct {
	mu    sync.Mutex
	calls int
	fn    func(center GeoPoint, radiusKm float64, date time.Time) []HospitalAvailability
}

func (f *fakeCatalog) FindOpenSlots(_ context.Context, center GeoPoint, radiusKm float64, date time.Time) ([]HospitalAvailability, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(center, radiusKm, date), nil
}

// fakeLocker runs the critical section inline.
type fakeLocker struct{}

func (fakeLocker) WithPetLock(ctx context.Context, _ uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// fakePayments lets each test script the gateway.
type fakePayments struct {
	chargeFn func(ctx context.Context, amount int64, methodRef string) (*payment.ChargeResult, error)
	refundFn func(ctx context.Context, chargeRef string) (*payment.RefundResult, error)

	charges int
	refunds int
}

func (f *fakePayments) Charge(ctx context.Context, amount int64, methodRef string) (*payment.ChargeResult, error) {
	f.charges++
	if f.chargeFn != nil {
		return f.chargeFn(ctx, amount, methodRef)
	}
	return &payment.ChargeResult{ChargeRef: "ch_test"}, nil
}

func (f *fakePayments) Refund(ctx context.Context, chargeRef string) (*payment.RefundResult, error) {
	f.refunds++
	if f.refundFn != nil {
		return f.refundFn(ctx, chargeRef)
	}
	return &payment.RefundResult{RefundRef: "re_test"}, nil
}
