package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/petcare/vaccine-booking/internal/config"
	"github.com/petcare/vaccine-booking/internal/payment"
	redisclient "github.com/petcare/vaccine-booking/internal/redis"
)

type serviceFixture struct {
	repo  *memRepo
	cat   *fakeCatalog
	pay   *fakePayments
	svc   *Service
	clock time.Time
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{
		repo:  newMemRepo(),
		cat:   &fakeCatalog{},
		pay:   &fakePayments{},
		clock: testNow,
	}
	eng := newTestEngine(f.repo, f.cat)
	f.svc = NewService(f.repo, eng, fakeLocker{}, f.pay, nil, nil, config.Config{
		PaymentDueIn: 24 * time.Hour,
	})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *serviceFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func mondaySlot() HospitalSlot {
	return HospitalSlot{
		HospitalID: uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Name:       "Hospital 1111",
		Date:       date(2026, 3, 9),
		Bucket:     BucketMorning,
	}
}

func TestCreate_Pending(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if r.Status != StatusPending {
		t.Errorf("status = %s, want pending", r.Status)
	}
	if r.TotalAmount != 25000 || r.DepositAmount != 7500 {
		t.Errorf("amounts = %d/%d, want 25000/7500", r.TotalAmount, r.DepositAmount)
	}
	if r.PaymentDueAt == nil || !r.PaymentDueAt.Equal(testNow.Add(24*time.Hour)) {
		t.Errorf("payment due at = %v, want now + 24h", r.PaymentDueAt)
	}
	if got := f.repo.eventsOfType(EventReservationCreated); len(got) != 1 {
		t.Errorf("created events = %d, want 1", len(got))
	}
}

func TestCreate_DuplicateActiveReservation(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))
	criteria := mondayMorningCriteria(VaccineDogDHPPL)

	if _, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, criteria); err != nil {
		t.Fatalf("first Create returned error: %v", err)
	}

	_, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, criteria)
	if !errors.Is(err, ErrDuplicateActiveReservation) {
		t.Errorf("second Create error = %v, want ErrDuplicateActiveReservation", err)
	}
}

func TestCreate_AgeGate(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -14, 0))

	_, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if !errors.Is(err, ErrIneligibleVaccine) {
		t.Errorf("Create error = %v, want ErrIneligibleVaccine", err)
	}
}

func TestCreate_SpeciesMismatch(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))

	_, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineCatFVRCP}, mondayMorningCriteria(VaccineCatFVRCP))
	if !errors.Is(err, ErrIneligibleVaccine) {
		t.Errorf("Create error = %v, want ErrIneligibleVaccine", err)
	}
}

type busyLocker struct{}

func (busyLocker) WithPetLock(context.Context, uuid.UUID, func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestCreate_LockContention(t *testing.T) {
	f := newServiceFixture()
	f.svc.locker = busyLocker{}
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))

	_, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if !errors.Is(err, ErrPetBeingBooked) {
		t.Errorf("Create error = %v, want ErrPetBeingBooked", err)
	}
}

func TestConfirmAndPay(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	confirmed, err := f.svc.ConfirmAndPay(context.Background(), r.ID, "card_abc")
	if err != nil {
		t.Fatalf("ConfirmAndPay returned error: %v", err)
	}

	if confirmed.Status != StatusConfirmed {
		t.Errorf("status = %s, want confirmed", confirmed.Status)
	}
	if confirmed.ChargeRef == nil || *confirmed.ChargeRef != "ch_test" {
		t.Errorf("charge ref = %v, want ch_test", confirmed.ChargeRef)
	}
	if confirmed.PaymentDueAt != nil {
		t.Error("payment due at should be cleared on confirm")
	}
	if f.pay.charges != 1 {
		t.Errorf("charges = %d, want 1", f.pay.charges)
	}
}

func TestConfirmAndPay_ChargeDeclinedStaysPending(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))
	f.pay.chargeFn = func(context.Context, int64, string) (*payment.ChargeResult, error) {
		return nil, payment.ErrDeclined
	}

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	_, err = f.svc.ConfirmAndPay(context.Background(), r.ID, "card_abc")
	if !errors.Is(err, payment.ErrDeclined) {
		t.Fatalf("ConfirmAndPay error = %v, want ErrDeclined", err)
	}

	got, err := f.repo.GetReservationByID(context.Background(), r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPending {
		t.Errorf("status after declined charge = %s, want pending", got.Status)
	}
}

func TestConfirmAndPay_AfterDeadline(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	f.advance(25 * time.Hour)

	_, err = f.svc.ConfirmAndPay(context.Background(), r.ID, "card_abc")
	if !errors.Is(err, ErrReservationExpired) {
		t.Fatalf("ConfirmAndPay error = %v, want ErrReservationExpired", err)
	}

	got, _ := f.repo.GetReservationByID(context.Background(), r.ID)
	if got.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if f.pay.charges != 0 {
		t.Errorf("charges = %d, want 0 (no charge after deadline)", f.pay.charges)
	}
	if got := f.repo.eventsOfType(EventReservationExpired); len(got) != 1 {
		t.Errorf("expired events = %d, want 1", len(got))
	}
}

// The charge goes through but the expiry sweep cancels the reservation in
// between: the deposit must be refunded and the caller told the transition
// failed.
func TestConfirmAndPay_RaceLostAfterCharge(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	f.pay.chargeFn = func(ctx context.Context, _ int64, _ string) (*payment.ChargeResult, error) {
		if _, err := f.repo.UpdateStatus(ctx, r.ID, StatusPending, StatusCancelled); err != nil {
			t.Fatalf("cancel during charge: %v", err)
		}
		return &payment.ChargeResult{ChargeRef: "ch_race"}, nil
	}

	_, err = f.svc.ConfirmAndPay(context.Background(), r.ID, "card_abc")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("ConfirmAndPay error = %v, want ErrInvalidTransition", err)
	}
	if f.pay.refunds != 1 {
		t.Errorf("refunds = %d, want 1", f.pay.refunds)
	}
}

func TestExpireUnpaid(t *testing.T) {
	f := newServiceFixture()
	petA := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))
	petB := addTestPet(f.repo, SpeciesCat, testNow.AddDate(0, -3, 0))

	if _, err := f.svc.Create(context.Background(), petA.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Create(context.Background(), petB.ID, mondaySlot(), []VaccineType{VaccineCatFVRCP}, mondayMorningCriteria(VaccineCatFVRCP)); err != nil {
		t.Fatal(err)
	}

	f.advance(25 * time.Hour)

	expired, err := f.svc.ExpireUnpaid(context.Background())
	if err != nil {
		t.Fatalf("ExpireUnpaid returned error: %v", err)
	}
	if expired != 2 {
		t.Errorf("expired = %d, want 2", expired)
	}

	// The same snapshot yields nothing on a second run.
	again, err := f.svc.ExpireUnpaid(context.Background())
	if err != nil {
		t.Fatalf("second ExpireUnpaid returned error: %v", err)
	}
	if again != 0 {
		t.Errorf("second run expired = %d, want 0", again)
	}

	if got := f.repo.eventsOfType(EventReservationExpired); len(got) != 2 {
		t.Errorf("expired events = %d, want 2", len(got))
	}
}

// Expiry then a late confirm: the sweep won, the confirm must not resurrect
// the reservation or charge the deposit.
func TestExpireThenConfirm(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatal(err)
	}

	f.advance(25 * time.Hour)
	if _, err := f.svc.ExpireUnpaid(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.ConfirmAndPay(context.Background(), r.ID, "card_abc")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ConfirmAndPay error = %v, want ErrInvalidTransition", err)
	}
	if f.pay.charges != 0 {
		t.Errorf("charges = %d, want 0", f.pay.charges)
	}
}

func TestCancel_Pending(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatal(err)
	}

	cancelled, err := f.svc.Cancel(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if f.pay.refunds != 0 {
		t.Errorf("refunds = %d, want 0 (nothing was charged)", f.pay.refunds)
	}
}

func TestCancel_ConfirmedRefundsDeposit(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmAndPay(context.Background(), r.ID, "card_abc"); err != nil {
		t.Fatal(err)
	}

	cancelled, err := f.svc.Cancel(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if f.pay.refunds != 1 {
		t.Errorf("refunds = %d, want 1", f.pay.refunds)
	}
}

// A failing refund is escalated through the event log but never blocks the
// cancellation itself.
func TestCancel_RefundFailureStillCancels(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))
	f.pay.refundFn = func(context.Context, string) (*payment.RefundResult, error) {
		return nil, payment.ErrGatewayUnavailable
	}

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmAndPay(context.Background(), r.ID, "card_abc"); err != nil {
		t.Fatal(err)
	}

	cancelled, err := f.svc.Cancel(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Cancel returned error: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	if got := f.repo.eventsOfType(EventRefundFailed); len(got) != 1 {
		t.Errorf("refund failed events = %d, want 1", len(got))
	}
}

func TestCancel_CompletedIsRejected(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmAndPay(context.Background(), r.ID, "card_abc"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Complete(context.Background(), r.ID); err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.Cancel(context.Background(), r.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Cancel error = %v, want ErrInvalidTransition", err)
	}
}

func TestCreateAfterCancel(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))
	criteria := mondayMorningCriteria(VaccineDogDHPPL)

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, criteria)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Cancel(context.Background(), r.ID); err != nil {
		t.Fatal(err)
	}

	// The cancelled reservation no longer claims the (pet, vaccine) pair.
	if _, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, criteria); err != nil {
		t.Fatalf("Create after cancel returned error: %v", err)
	}
}

func TestComplete_SpawnsNextDose(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))
	f.cat.fn = func(_ GeoPoint, _ float64, _ time.Time) []HospitalAvailability {
		return []HospitalAvailability{morningHospital("11111111-1111-1111-1111-111111111111", 1.0)}
	}

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmAndPay(context.Background(), r.ID, "card_abc"); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.Complete(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	if result.Completed.Status != StatusCompleted {
		t.Errorf("completed status = %s, want completed", result.Completed.Status)
	}
	if result.Next == nil {
		t.Fatal("Next is nil, want an automatically created follow-up")
	}
	if result.Next.Status != StatusPending {
		t.Errorf("next status = %s, want pending", result.Next.Status)
	}
	if !result.Next.TargetDate.After(result.Completed.TargetDate) {
		t.Errorf("next target %v is not after completed target %v", result.Next.TargetDate, result.Completed.TargetDate)
	}
	// Dose two is due 14 days after the March 9th visit, which is again a
	// Monday.
	if want := date(2026, 3, 23); !result.Next.TargetDate.Equal(want) {
		t.Errorf("next target = %v, want %v", result.Next.TargetDate, want)
	}
}

func TestComplete_SingleDoseSeriesEnds(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -6, 0))
	f.cat.fn = func(_ GeoPoint, _ float64, _ time.Time) []HospitalAvailability {
		return []HospitalAvailability{morningHospital("11111111-1111-1111-1111-111111111111", 1.0)}
	}

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogRabies}, mondayMorningCriteria(VaccineDogRabies))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmAndPay(context.Background(), r.ID, "card_abc"); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.Complete(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	if result.Next != nil {
		t.Errorf("Next = %+v, want nil for a finished series", result.Next)
	}
	if got := f.repo.eventsOfType(EventNextUnplaced); len(got) != 0 {
		t.Errorf("unplaced events = %d, want 0 for a finished series", len(got))
	}
}

func TestComplete_NoSlotForNextDose(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))
	// Catalog stays empty: the follow-up search finds nothing anywhere.

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.ConfirmAndPay(context.Background(), r.ID, "card_abc"); err != nil {
		t.Fatal(err)
	}

	result, err := f.svc.Complete(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}

	if result.Next != nil {
		t.Errorf("Next = %+v, want nil when no slot exists", result.Next)
	}
	if got := f.repo.eventsOfType(EventNextUnplaced); len(got) != 1 {
		t.Errorf("unplaced events = %d, want 1", len(got))
	}
}

func TestComplete_PendingIsRejected(t *testing.T) {
	f := newServiceFixture()
	pet := addTestPet(f.repo, SpeciesDog, testNow.AddDate(0, -2, 0))

	r, err := f.svc.Create(context.Background(), pet.ID, mondaySlot(), []VaccineType{VaccineDogDHPPL}, mondayMorningCriteria(VaccineDogDHPPL))
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.Complete(context.Background(), r.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Complete error = %v, want ErrInvalidTransition", err)
	}
}
