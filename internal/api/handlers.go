package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/petcare/vaccine-booking/internal/booking"
	"github.com/petcare/vaccine-booking/internal/payment"
	redisclient "github.com/petcare/vaccine-booking/internal/redis"
)

func searchHandler(engine *booking.SearchEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		petID, err := uuid.Parse(req.PetID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pet_id", "pet_id must be a valid UUID")
			return
		}

		criteria, err := toCriteria(req.CriteriaRequest)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_criteria", err.Error())
			return
		}

		result, err := engine.Search(r.Context(), petID, criteria)
		if err != nil {
			handleSearchError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSearchResponse(result))
	}
}

func createReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateReservationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		petID, err := uuid.Parse(req.PetID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pet_id", "pet_id must be a valid UUID")
			return
		}

		hospitalID, err := uuid.Parse(req.HospitalID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_hospital_id", "hospital_id must be a valid UUID")
			return
		}

		targetDate, err := time.ParseInLocation(dateLayout, req.TargetDate, time.UTC)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_target_date", "target_date must be YYYY-MM-DD")
			return
		}

		bucket, err := parseBucket(req.TimeBucket)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time_bucket", err.Error())
			return
		}

		criteria, err := toCriteria(req.Criteria)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_criteria", err.Error())
			return
		}

		types := make([]booking.VaccineType, len(req.VaccineTypes))
		for i, s := range req.VaccineTypes {
			types[i] = booking.VaccineType(s)
		}

		slot := booking.HospitalSlot{
			HospitalID: hospitalID,
			Date:       targetDate,
			Bucket:     bucket,
		}

		created, err := svc.Create(r.Context(), petID, slot, types, criteria)
		if err != nil {
			handleCreateError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toReservationResponse(created))
	}
}

func confirmReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reservationID(w, r)
		if !ok {
			return
		}

		var req ConfirmReservationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.PaymentMethodRef == "" {
			writeError(w, http.StatusBadRequest, "missing_payment_method", "payment_method_ref is required")
			return
		}

		updated, err := svc.ConfirmAndPay(r.Context(), id, req.PaymentMethodRef)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReservationResponse(updated))
	}
}

func completeReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reservationID(w, r)
		if !ok {
			return
		}

		result, err := svc.Complete(r.Context(), id)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		resp := CompletionResponse{Completed: toReservationResponse(result.Completed)}
		if result.Next != nil {
			next := toReservationResponse(result.Next)
			resp.Next = &next
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func cancelReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reservationID(w, r)
		if !ok {
			return
		}

		cancelled, err := svc.Cancel(r.Context(), id)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReservationResponse(cancelled))
	}
}

func getReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := reservationID(w, r)
		if !ok {
			return
		}

		res, err := svc.GetReservation(r.Context(), id)
		if err != nil {
			if errors.Is(err, booking.ErrReservationNotFound) {
				writeError(w, http.StatusNotFound, "reservation_not_found", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, toReservationResponse(res))
	}
}

func listPetReservationsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := chi.URLParam(r, "id")
		petID, err := uuid.Parse(idStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pet_id", "id must be a valid UUID")
			return
		}

		list, err := svc.ListReservationsByPet(r.Context(), petID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]ReservationResponse, 0, len(list))
		for i := range list {
			resp = append(resp, toReservationResponse(&list[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// expireHandler is the manual escape hatch for the scheduler's entry point;
// both run the exact same sweep.
func expireHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expired, err := svc.ExpireUnpaid(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		writeJSON(w, http.StatusOK, ExpireResponse{Expired: expired})
	}
}

func reservationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_reservation_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrPetNotFound):
		writeError(w, http.StatusNotFound, "pet_not_found", err.Error())
	case errors.Is(err, booking.ErrIneligibleVaccine):
		writeError(w, http.StatusUnprocessableEntity, "ineligible_vaccine", err.Error())
	case errors.Is(err, booking.ErrSeriesComplete):
		writeError(w, http.StatusUnprocessableEntity, "series_complete", err.Error())
	case errors.Is(err, booking.ErrInvalidCriteria):
		writeError(w, http.StatusBadRequest, "invalid_criteria", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrPetNotFound):
		writeError(w, http.StatusNotFound, "pet_not_found", err.Error())
	case errors.Is(err, booking.ErrIneligibleVaccine),
		errors.Is(err, booking.ErrUnknownVaccine):
		writeError(w, http.StatusUnprocessableEntity, "ineligible_vaccine", err.Error())
	case errors.Is(err, booking.ErrInvalidCriteria):
		writeError(w, http.StatusBadRequest, "invalid_criteria", err.Error())
	case errors.Is(err, booking.ErrDuplicateActiveReservation):
		writeError(w, http.StatusConflict, "duplicate_active_reservation", err.Error())
	case errors.Is(err, booking.ErrPetBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "pet_being_booked", "a reservation for this pet is being created, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, "reservation_not_found", err.Error())
	case errors.Is(err, booking.ErrReservationExpired):
		writeError(w, http.StatusConflict, "reservation_expired", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, payment.ErrDeclined):
		writeError(w, http.StatusPaymentRequired, "payment_declined", err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		writeError(w, http.StatusBadGateway, "payment_gateway_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
