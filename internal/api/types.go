package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/petcare/vaccine-booking/internal/booking"
)

const dateLayout = "2006-01-02"

type CriteriaRequest struct {
	Lat          float64  `json:"lat"`
	Lng          float64  `json:"lng"`
	RadiusKm     float64  `json:"radius_km,omitempty"`
	TimeBucket   string   `json:"time_bucket"`
	Weekdays     []string `json:"weekdays"`
	VaccineTypes []string `json:"vaccine_types"`
}

type SearchRequest struct {
	PetID string `json:"pet_id"`
	CriteriaRequest
}

type CreateReservationRequest struct {
	PetID        string          `json:"pet_id"`
	HospitalID   string          `json:"hospital_id"`
	TargetDate   string          `json:"target_date"` // YYYY-MM-DD
	TimeBucket   string          `json:"time_bucket"`
	VaccineTypes []string        `json:"vaccine_types"`
	Criteria     CriteriaRequest `json:"criteria"`
}

type ConfirmReservationRequest struct {
	PaymentMethodRef string `json:"payment_method_ref"`
}

type SlotResponse struct {
	HospitalID uuid.UUID `json:"hospital_id"`
	Name       string    `json:"name"`
	Address    string    `json:"address"`
	Phone      string    `json:"phone"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Date       string    `json:"date"`
	TimeBucket string    `json:"time_bucket"`
	Remaining  int       `json:"remaining"`
	DistanceKm float64   `json:"distance_km"`
}

type DroppedVaccineResponse struct {
	VaccineType string `json:"vaccine_type"`
	Reason      string `json:"reason"`
}

type SearchResponse struct {
	TargetDate   string                   `json:"target_date"`
	RadiusUsedKm float64                  `json:"radius_used_km"`
	VaccineDates map[string]string        `json:"vaccine_dates"`
	Dropped      []DroppedVaccineResponse `json:"dropped,omitempty"`
	Slots        []SlotResponse           `json:"slots"`
}

type ReservationResponse struct {
	ID            uuid.UUID  `json:"id"`
	PetID         uuid.UUID  `json:"pet_id"`
	HospitalID    uuid.UUID  `json:"hospital_id"`
	TargetDate    string     `json:"target_date"`
	TimeBucket    string     `json:"time_bucket"`
	VaccineTypes  []string   `json:"vaccine_types"`
	TotalAmount   int64      `json:"total_amount"`
	DepositAmount int64      `json:"deposit_amount"`
	PaymentDueAt  *time.Time `json:"payment_due_at,omitempty"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
}

type CompletionResponse struct {
	Completed ReservationResponse  `json:"completed"`
	Next      *ReservationResponse `json:"next,omitempty"`
}

type ExpireResponse struct {
	Expired int `json:"expired"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Converters

func toCriteria(req CriteriaRequest) (booking.SearchCriteria, error) {
	bucket, err := parseBucket(req.TimeBucket)
	if err != nil {
		return booking.SearchCriteria{}, err
	}

	weekdays, err := parseWeekdays(req.Weekdays)
	if err != nil {
		return booking.SearchCriteria{}, err
	}

	types := make([]booking.VaccineType, len(req.VaccineTypes))
	for i, s := range req.VaccineTypes {
		types[i] = booking.VaccineType(strings.ToUpper(s))
	}

	return booking.SearchCriteria{
		Center:       booking.GeoPoint{Lat: req.Lat, Lng: req.Lng},
		RadiusKm:     req.RadiusKm,
		Bucket:       bucket,
		Weekdays:     weekdays,
		VaccineTypes: types,
	}, nil
}

func parseBucket(s string) (booking.TimeBucket, error) {
	switch strings.ToLower(s) {
	case "morning":
		return booking.BucketMorning, nil
	case "afternoon":
		return booking.BucketAfternoon, nil
	case "evening":
		return booking.BucketEvening, nil
	default:
		return "", fmt.Errorf("time_bucket must be one of morning, afternoon, evening, got %q", s)
	}
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekdays(in []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(in))
	for _, s := range in {
		wd, ok := weekdayNames[strings.ToLower(s)]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", s)
		}
		out = append(out, wd)
	}
	return out, nil
}

func toSearchResponse(res *booking.SearchResult) SearchResponse {
	dates := make(map[string]string, len(res.DueDates))
	for vt, d := range res.DueDates {
		dates[string(vt)] = d.Format(dateLayout)
	}

	dropped := make([]DroppedVaccineResponse, 0, len(res.Dropped))
	for _, d := range res.Dropped {
		dropped = append(dropped, DroppedVaccineResponse{
			VaccineType: string(d.Type),
			Reason:      d.Reason,
		})
	}

	slots := make([]SlotResponse, 0, len(res.Slots))
	for _, s := range res.Slots {
		slots = append(slots, SlotResponse{
			HospitalID: s.HospitalID,
			Name:       s.Name,
			Address:    s.Address,
			Phone:      s.Phone,
			Lat:        s.Location.Lat,
			Lng:        s.Location.Lng,
			Date:       s.Date.Format(dateLayout),
			TimeBucket: string(s.Bucket),
			Remaining:  s.Remaining,
			DistanceKm: s.DistanceKm,
		})
	}

	return SearchResponse{
		TargetDate:   res.TargetDate.Format(dateLayout),
		RadiusUsedKm: res.RadiusUsedKm,
		VaccineDates: dates,
		Dropped:      dropped,
		Slots:        slots,
	}
}

func toReservationResponse(r *booking.Reservation) ReservationResponse {
	types := make([]string, len(r.VaccineTypes))
	for i, vt := range r.VaccineTypes {
		types[i] = string(vt)
	}

	return ReservationResponse{
		ID:            r.ID,
		PetID:         r.PetID,
		HospitalID:    r.HospitalID,
		TargetDate:    r.TargetDate.Format(dateLayout),
		TimeBucket:    string(r.Bucket),
		VaccineTypes:  types,
		TotalAmount:   r.TotalAmount,
		DepositAmount: r.DepositAmount,
		PaymentDueAt:  r.PaymentDueAt,
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt,
	}
}
