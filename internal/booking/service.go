package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/petcare/vaccine-booking/internal/config"
	"github.com/petcare/vaccine-booking/internal/metrics"
	"github.com/petcare/vaccine-booking/internal/notify"
	"github.com/petcare/vaccine-booking/internal/payment"
	redisclient "github.com/petcare/vaccine-booking/internal/redis"
)

const (
	EventReservationCreated   = "RESERVATION_CREATED"
	EventReservationConfirmed = "RESERVATION_CONFIRMED"
	EventReservationCompleted = "RESERVATION_COMPLETED"
	EventReservationCancelled = "RESERVATION_CANCELLED"
	EventReservationExpired   = "RESERVATION_EXPIRED"
	EventRefundFailed         = "RESERVATION_REFUND_FAILED"
	EventNextUnplaced         = "RESERVATION_NEXT_UNPLACED"
)

var (
	ErrInvalidTransition  = errors.New("invalid reservation status transition")
	ErrReservationExpired = errors.New("reservation payment deadline has passed")
	ErrPetBeingBooked     = errors.New("a reservation for this pet is currently being created, please retry")
)

// PaymentCoordinator is what the lifecycle needs from the payment layer.
type PaymentCoordinator interface {
	Charge(ctx context.Context, amount int64, methodRef string) (*payment.ChargeResult, error)
	Refund(ctx context.Context, chargeRef string) (*payment.RefundResult, error)
}

// CompletionResult is what Complete returns: the finished reservation and,
// when the series continues and a slot was found, the automatically created
// next one.
type CompletionResult struct {
	Completed *Reservation
	Next      *Reservation
}

// Service is the reservation lifecycle state machine.
type Service struct {
	repo     Repository
	engine   *SearchEngine
	locker   redisclient.Locker
	payments PaymentCoordinator
	notifier notify.Notifier
	metrics  metrics.Recorder
	cfg      config.Config
	now      func() time.Time
}

func NewService(repo Repository, engine *SearchEngine, locker redisclient.Locker, payments PaymentCoordinator, notifier notify.Notifier, rec metrics.Recorder, cfg config.Config) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		repo:     repo,
		engine:   engine,
		locker:   locker,
		payments: payments,
		notifier: notifier,
		metrics:  rec,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Create reserves the chosen slot as a pending reservation. It uses a per
// pet lock plus a transactional check-then-insert so that concurrent create
// calls cannot both claim the same (pet, vaccine type).
func (s *Service) Create(ctx context.Context, petID uuid.UUID, slot HospitalSlot, vaccineTypes []VaccineType, criteria SearchCriteria) (*Reservation, error) {
	if len(vaccineTypes) == 0 {
		return nil, fmt.Errorf("%w: no vaccine types requested", ErrInvalidCriteria)
	}

	pet, err := s.repo.GetPetByID(ctx, petID)
	if err != nil {
		return nil, fmt.Errorf("load pet: %w", err)
	}
	if !pet.PlanEligible(s.now()) {
		return nil, fmt.Errorf("%w: pet is twelve months or older", ErrIneligibleVaccine)
	}
	if err := validateTypesForPet(pet, vaccineTypes); err != nil {
		return nil, err
	}

	return s.create(ctx, pet, slot, vaccineTypes, criteria)
}

func (s *Service) create(ctx context.Context, pet *Pet, slot HospitalSlot, vaccineTypes []VaccineType, criteria SearchCriteria) (*Reservation, error) {
	total, err := PriceFor(vaccineTypes)
	if err != nil {
		return nil, err
	}
	deposit := DepositFor(total)
	paymentDueAt := s.now().Add(s.cfg.PaymentDueIn)

	var created *Reservation

	err = s.locker.WithPetLock(ctx, pet.ID, func(lockCtx context.Context) error {
		res, err := s.repo.CreatePending(lockCtx, NewReservation{
			PetID:         pet.ID,
			HospitalID:    slot.HospitalID,
			TargetDate:    slot.Date,
			Bucket:        slot.Bucket,
			VaccineTypes:  vaccineTypes,
			TotalAmount:   total,
			DepositAmount: deposit,
			PaymentDueAt:  paymentDueAt,
			Criteria:      criteria,
		})
		if err != nil {
			return err
		}

		created = res
		s.logEvent(lockCtx, res.ID, EventReservationCreated, map[string]any{
			"pet_id":         pet.ID.String(),
			"hospital_id":    slot.HospitalID.String(),
			"target_date":    res.TargetDate.Format("2006-01-02"),
			"payment_due_at": paymentDueAt,
		})
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrPetBeingBooked
		}
		return nil, err
	}

	s.metrics.CountReservation("created")
	s.notifier.Notify(ctx, pet.MemberID, EventReservationCreated, map[string]any{
		"reservation_id": created.ID.String(),
		"target_date":    created.TargetDate.Format("2006-01-02"),
		"deposit_amount": created.DepositAmount,
	})

	return created, nil
}

// ConfirmAndPay charges the deposit and moves a pending reservation to
// confirmed. A gateway failure leaves the reservation pending; the error
// goes back to the caller, never a silent retry.
func (s *Service) ConfirmAndPay(ctx context.Context, id uuid.UUID, paymentMethodRef string) (*Reservation, error) {
	r, err := s.repo.GetReservationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}

	if r.Status != StatusPending {
		return nil, ErrInvalidTransition
	}

	now := s.now()
	if r.PaymentDueAt != nil && r.PaymentDueAt.Before(now) {
		// Cancel it here rather than waiting for the sweep
		_, updErr := s.repo.UpdateStatus(ctx, r.ID, StatusPending, StatusCancelled)
		if updErr != nil && !errors.Is(updErr, ErrReservationNotFound) {
			log.Printf("failed to cancel reservation %s during confirm: %v", r.ID, updErr)
		}
		s.logEvent(ctx, r.ID, EventReservationExpired, map[string]any{
			"reason": "confirm_after_due",
		})
		s.metrics.CountReservation("expired")
		return nil, ErrReservationExpired
	}

	chargeRes, err := s.payments.Charge(ctx, r.DepositAmount, paymentMethodRef)
	if err != nil {
		s.metrics.CountPaymentFailure("charge")
		return nil, err
	}

	updated, err := s.repo.ConfirmReservation(ctx, r.ID, chargeRes.ChargeRef)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			// Lost the race against the expiry sweep after the charge went
			// through: undo the charge and tell the caller.
			if _, refundErr := s.payments.Refund(ctx, chargeRes.ChargeRef); refundErr != nil {
				s.metrics.CountPaymentFailure("refund")
				s.logEvent(ctx, r.ID, EventRefundFailed, map[string]any{
					"charge_ref": chargeRes.ChargeRef,
					"error":      refundErr.Error(),
				})
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("confirm reservation: %w", err)
	}

	s.metrics.CountReservation("confirmed")
	s.logEvent(ctx, updated.ID, EventReservationConfirmed, map[string]any{
		"charge_ref": chargeRes.ChargeRef,
	})
	s.notifyOwner(ctx, updated, EventReservationConfirmed, map[string]any{
		"reservation_id": updated.ID.String(),
	})

	return updated, nil
}

// Complete marks a confirmed reservation done and tries to place the next
// dose in the series using the criteria stored at create time. A finished
// series yields Next == nil, which is not an error.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*CompletionResult, error) {
	r, err := s.repo.GetReservationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}

	if r.Status != StatusConfirmed {
		return nil, ErrInvalidTransition
	}

	completed, err := s.repo.UpdateStatus(ctx, r.ID, StatusConfirmed, StatusCompleted)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("complete reservation: %w", err)
	}

	s.metrics.CountReservation("completed")
	s.logEvent(ctx, completed.ID, EventReservationCompleted, map[string]any{})
	s.notifyOwner(ctx, completed, EventReservationCompleted, map[string]any{
		"reservation_id": completed.ID.String(),
	})

	next := s.spawnNext(ctx, completed)

	return &CompletionResult{Completed: completed, Next: next}, nil
}

// spawnNext re-runs the stored criteria for the doses that remain. Failing
// to place the next dose never fails the completion; it is escalated through
// the event log instead.
func (s *Service) spawnNext(ctx context.Context, completed *Reservation) *Reservation {
	pet, err := s.repo.GetPetByID(ctx, completed.PetID)
	if err != nil {
		log.Printf("next dose for reservation %s: load pet: %v", completed.ID, err)
		s.logEvent(ctx, completed.ID, EventNextUnplaced, map[string]any{"reason": err.Error()})
		return nil
	}

	result, err := s.engine.SearchContinuation(ctx, pet, completed.Criteria)
	if err != nil {
		if errors.Is(err, ErrSeriesComplete) {
			// Every requested series is finished; nothing left to book.
			return nil
		}
		log.Printf("next dose for reservation %s: search: %v", completed.ID, err)
		s.logEvent(ctx, completed.ID, EventNextUnplaced, map[string]any{"reason": err.Error()})
		return nil
	}

	if len(result.Slots) == 0 {
		s.logEvent(ctx, completed.ID, EventNextUnplaced, map[string]any{
			"reason":         "no slot available",
			"target_date":    result.TargetDate.Format("2006-01-02"),
			"radius_used_km": result.RadiusUsedKm,
		})
		return nil
	}

	remaining := make([]VaccineType, 0, len(result.DueDates))
	for vt := range result.DueDates {
		remaining = append(remaining, vt)
	}
	sort.Slice(remaining, func(i, j int) bool { return remaining[i] < remaining[j] })

	next, err := s.create(ctx, pet, result.Slots[0], remaining, completed.Criteria)
	if err != nil {
		log.Printf("next dose for reservation %s: create: %v", completed.ID, err)
		s.logEvent(ctx, completed.ID, EventNextUnplaced, map[string]any{"reason": err.Error()})
		return nil
	}

	return next
}

// Cancel moves a pending or confirmed reservation to cancelled. A refund
// failure on a confirmed reservation is escalated through the event log but
// does not block the cancellation.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := s.repo.GetReservationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load reservation: %w", err)
	}

	switch r.Status {
	case StatusPending, StatusConfirmed:
	default:
		return nil, ErrInvalidTransition
	}

	if r.Status == StatusConfirmed && r.ChargeRef != nil {
		if _, refundErr := s.payments.Refund(ctx, *r.ChargeRef); refundErr != nil {
			s.metrics.CountPaymentFailure("refund")
			log.Printf("refund failed for reservation %s, continuing with cancel: %v", r.ID, refundErr)
			s.logEvent(ctx, r.ID, EventRefundFailed, map[string]any{
				"charge_ref": *r.ChargeRef,
				"error":      refundErr.Error(),
			})
		}
	}

	cancelled, err := s.repo.UpdateStatus(ctx, r.ID, r.Status, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("cancel reservation: %w", err)
	}

	s.metrics.CountReservation("cancelled")
	s.logEvent(ctx, cancelled.ID, EventReservationCancelled, map[string]any{
		"from": string(r.Status),
	})
	s.notifyOwner(ctx, cancelled, EventReservationCancelled, map[string]any{
		"reservation_id": cancelled.ID.String(),
	})

	return cancelled, nil
}

// ExpireUnpaid cancels pending reservations whose payment deadline has
// passed, releasing their (pet, vaccine type) slots. Safe to call on any
// cadence, from the scheduler or by hand; a second run over the same
// snapshot changes nothing. Returns how many reservations were expired.
func (s *Service) ExpireUnpaid(ctx context.Context) (int, error) {
	now := s.now()
	candidates, err := s.repo.FindExpiredPending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find expired pending reservations: %w", err)
	}

	expired := 0
	for _, r := range candidates {
		_, err := s.repo.UpdateStatus(ctx, r.ID, StatusPending, StatusCancelled)
		if err != nil {
			// Raced with a concurrent confirm or cancel; the other
			// transition won and that is fine.
			if !errors.Is(err, ErrReservationNotFound) {
				log.Printf("failed to expire reservation %s: %v", r.ID, err)
			}
			continue
		}

		expired++
		s.metrics.CountReservation("expired")
		s.logEvent(ctx, r.ID, EventReservationExpired, map[string]any{
			"reason":         "payment_overdue",
			"payment_due_at": r.PaymentDueAt,
		})
		s.notifyOwner(ctx, &r, EventReservationExpired, map[string]any{
			"reservation_id": r.ID.String(),
		})
	}

	return expired, nil
}

// GetReservation retrieves a reservation by ID.
func (s *Service) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := s.repo.GetReservationByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// ListReservationsByPet retrieves a pet's reservations, newest first.
func (s *Service) ListReservationsByPet(ctx context.Context, petID uuid.UUID) ([]Reservation, error) {
	list, err := s.repo.ListReservationsByPet(ctx, petID)
	if err != nil {
		return nil, fmt.Errorf("list reservations by pet: %w", err)
	}
	return list, nil
}

func (s *Service) notifyOwner(ctx context.Context, r *Reservation, eventKind string, payload map[string]any) {
	pet, err := s.repo.GetPetByID(ctx, r.PetID)
	if err != nil {
		log.Printf("notify for reservation %s: load pet: %v", r.ID, err)
		return
	}
	s.notifier.Notify(ctx, pet.MemberID, eventKind, payload)
}

func (s *Service) logEvent(ctx context.Context, reservationID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("failed to marshal event payload for %s: %v", eventType, err)
		data = nil
	}

	resID := reservationID

	ev := EventLog{
		EventType:     eventType,
		ReservationID: &resID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		log.Printf("failed to insert event log %s for reservation %s: %v", eventType, reservationID, err)
	}
}

func validateTypesForPet(pet *Pet, types []VaccineType) error {
	for _, vt := range types {
		rule, ok := vaccineRules[vt]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownVaccine, vt)
		}
		if rule.species != pet.Species {
			return fmt.Errorf("%w: %s is a %s vaccine", ErrIneligibleVaccine, vt, rule.species)
		}
	}
	return nil
}
