package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petcare/vaccine-booking/internal/metrics"
)

var ErrInvalidCriteria = errors.New("search criteria must include at least one weekday and one vaccine type")

// SearchEngine turns owner constraints into ranked hospital slot candidates.
// It is read-only: identical criteria against an unchanged catalog produce
// identical ordering.
type SearchEngine struct {
	repo            Repository
	catalog         Catalog
	defaultRadiusKm float64
	maxRadiusKm     float64
	metrics         metrics.Recorder
	now             func() time.Time
}

func NewSearchEngine(repo Repository, catalog Catalog, defaultRadiusKm, maxRadiusKm float64, rec metrics.Recorder) *SearchEngine {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &SearchEngine{
		repo:            repo,
		catalog:         catalog,
		defaultRadiusKm: defaultRadiusKm,
		maxRadiusKm:     maxRadiusKm,
		metrics:         rec,
		now:             time.Now,
	}
}

// Search runs the matching algorithm for an owner-initiated request. The
// automated plan only accepts pets under twelve months old.
func (e *SearchEngine) Search(ctx context.Context, petID uuid.UUID, criteria SearchCriteria) (*SearchResult, error) {
	pet, err := e.repo.GetPetByID(ctx, petID)
	if err != nil {
		return nil, fmt.Errorf("load pet: %w", err)
	}
	if !pet.PlanEligible(e.now()) {
		return nil, fmt.Errorf("%w: pet is twelve months or older", ErrIneligibleVaccine)
	}
	return e.search(ctx, pet, criteria)
}

// SearchContinuation re-runs the stored criteria to place the next dose of
// an ongoing series. The plan age gate does not apply: a series begun while
// the pet was young finishes on schedule.
func (e *SearchEngine) SearchContinuation(ctx context.Context, pet *Pet, criteria SearchCriteria) (*SearchResult, error) {
	return e.search(ctx, pet, criteria)
}

func (e *SearchEngine) search(ctx context.Context, pet *Pet, criteria SearchCriteria) (*SearchResult, error) {
	if len(criteria.Weekdays) == 0 || len(criteria.VaccineTypes) == 0 {
		return nil, ErrInvalidCriteria
	}

	start := e.now()
	defer func() {
		e.metrics.ObserveSearchLatency(time.Since(start))
	}()

	history, err := e.repo.CompletedDoses(ctx, pet.ID)
	if err != nil {
		return nil, fmt.Errorf("load dose history: %w", err)
	}

	dueDates := make(map[VaccineType]time.Time, len(criteria.VaccineTypes))
	var dropped []DroppedVaccine
	ineligible := 0

	for _, vt := range criteria.VaccineTypes {
		due, err := NextDue(pet, vt, history[vt])
		switch {
		case errors.Is(err, ErrIneligibleVaccine), errors.Is(err, ErrUnknownVaccine):
			dropped = append(dropped, DroppedVaccine{Type: vt, Reason: "ineligible"})
			ineligible++
		case errors.Is(err, ErrSeriesComplete):
			dropped = append(dropped, DroppedVaccine{Type: vt, Reason: "series complete"})
		case err != nil:
			return nil, err
		default:
			dueDates[vt] = due
		}
	}

	if len(dueDates) == 0 {
		if ineligible > 0 {
			return nil, fmt.Errorf("%w: no requested vaccine type is eligible", ErrIneligibleVaccine)
		}
		return nil, fmt.Errorf("%w: every requested series is finished", ErrSeriesComplete)
	}

	targetDate := e.targetDate(dueDates, criteria.Weekdays)

	radius := criteria.RadiusKm
	if radius <= 0 {
		radius = e.defaultRadiusKm
	}
	if radius > e.maxRadiusKm {
		radius = e.maxRadiusKm
	}

	open, err := e.catalog.FindOpenSlots(ctx, criteria.Center, radius, targetDate)
	if err != nil {
		return nil, fmt.Errorf("catalog lookup: %w", err)
	}

	// Single escalation to the maximum radius when nothing is in range at
	// all. Hospitals present in the wrong bucket do not trigger it.
	if len(open) == 0 && radius < e.maxRadiusKm {
		radius = e.maxRadiusKm
		e.metrics.CountRadiusEscalation()
		open, err = e.catalog.FindOpenSlots(ctx, criteria.Center, radius, targetDate)
		if err != nil {
			return nil, fmt.Errorf("catalog lookup at max radius: %w", err)
		}
	}

	slots := make([]HospitalSlot, 0, len(open))
	for _, a := range open {
		if a.Bucket != criteria.Bucket {
			continue
		}
		slots = append(slots, HospitalSlot{
			HospitalID: a.HospitalID,
			Name:       a.Name,
			Address:    a.Address,
			Phone:      a.Phone,
			Location:   a.Location,
			Date:       targetDate,
			Bucket:     a.Bucket,
			Remaining:  a.Remaining,
			DistanceKm: a.DistanceKm,
		})
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].DistanceKm != slots[j].DistanceKm {
			return slots[i].DistanceKm < slots[j].DistanceKm
		}
		return strings.Compare(slots[i].HospitalID.String(), slots[j].HospitalID.String()) < 0
	})

	return &SearchResult{
		TargetDate:   targetDate,
		RadiusUsedKm: radius,
		DueDates:     dueDates,
		Dropped:      dropped,
		Slots:        slots,
	}, nil
}

// targetDate picks the first date on a preferred weekday at or after the
// earliest due date, never in the past.
func (e *SearchEngine) targetDate(dueDates map[VaccineType]time.Time, weekdays []time.Weekday) time.Time {
	var min time.Time
	for _, d := range dueDates {
		if min.IsZero() || d.Before(min) {
			min = d
		}
	}

	today := startOfDay(e.now())
	if min.Before(today) {
		min = today
	}

	allowed := make(map[time.Weekday]bool, len(weekdays))
	for _, wd := range weekdays {
		allowed[wd] = true
	}

	d := min
	for !allowed[d.Weekday()] {
		d = d.AddDate(0, 0, 1)
	}
	return d
}
