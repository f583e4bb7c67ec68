package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const reservationColumns = `id, pet_id, hospital_id, target_date, bucket, vaccine_types,
	total_amount, deposit_amount, payment_due_at, charge_ref, criteria, status, created_at, updated_at`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var types []string
	var paymentDueAt *time.Time
	var chargeRef *string
	var criteriaRaw []byte

	err := row.Scan(
		&r.ID,
		&r.PetID,
		&r.HospitalID,
		&r.TargetDate,
		&r.Bucket,
		&types,
		&r.TotalAmount,
		&r.DepositAmount,
		&paymentDueAt,
		&chargeRef,
		&criteriaRaw,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	r.VaccineTypes = toVaccineTypes(types)
	r.PaymentDueAt = paymentDueAt
	r.ChargeRef = chargeRef

	if len(criteriaRaw) > 0 {
		if err := json.Unmarshal(criteriaRaw, &r.Criteria); err != nil {
			return nil, fmt.Errorf("decode stored criteria: %w", err)
		}
	}

	return &r, nil
}

func scanPet(row pgx.Row) (*Pet, error) {
	var p Pet

	err := row.Scan(
		&p.ID,
		&p.MemberID,
		&p.Name,
		&p.Species,
		&p.BirthDate,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPetNotFound
		}
		return nil, err
	}

	return &p, nil
}

func toVaccineTypes(in []string) []VaccineType {
	out := make([]VaccineType, len(in))
	for i, s := range in {
		out[i] = VaccineType(s)
	}
	return out
}

func fromVaccineTypes(in []VaccineType) []string {
	out := make([]string, len(in))
	for i, vt := range in {
		out[i] = string(vt)
	}
	return out
}

// Interface methods

func (r *PgRepository) GetPetByID(ctx context.Context, id uuid.UUID) (*Pet, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, member_id, name, species, birth_date, created_at, updated_at
		FROM pets
		WHERE id = $1
	`, id)
	return scanPet(row)
}

func (r *PgRepository) GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id)
	return scanReservation(row)
}

func (r *PgRepository) ListReservationsByPet(ctx context.Context, petID uuid.UUID) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE pet_id = $1
		ORDER BY created_at DESC
	`, petID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *res)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) CompletedDoses(ctx context.Context, petID uuid.UUID) (DoseHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT target_date, vaccine_types
		FROM reservations
		WHERE pet_id = $1
		  AND status = 'completed'
		ORDER BY target_date ASC
	`, petID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make(DoseHistory)
	for rows.Next() {
		var date time.Time
		var types []string
		if err := rows.Scan(&date, &types); err != nil {
			return nil, err
		}
		for _, vt := range toVaccineTypes(types) {
			history[vt] = append(history[vt], date)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return history, nil
}

func (r *PgRepository) CreatePending(ctx context.Context, nr NewReservation) (*Reservation, error) {
	criteriaRaw, err := json.Marshal(nr.Criteria)
	if err != nil {
		return nil, fmt.Errorf("encode criteria: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Check-then-insert runs inside one transaction so two creates for the
	// same pet cannot both pass the overlap check.
	var existing uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id
		FROM reservations
		WHERE pet_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND vaccine_types && $2
		LIMIT 1
		FOR UPDATE
	`, nr.PetID, fromVaccineTypes(nr.VaccineTypes)).Scan(&existing)
	if err == nil {
		return nil, ErrDuplicateActiveReservation
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check active reservations: %w", err)
	}

	id := uuid.New()
	row := tx.QueryRow(ctx, `
		INSERT INTO reservations (id, pet_id, hospital_id, target_date, bucket, vaccine_types,
			total_amount, deposit_amount, payment_due_at, criteria, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', now(), now())
		RETURNING `+reservationColumns+`
	`, id, nr.PetID, nr.HospitalID, nr.TargetDate, nr.Bucket, fromVaccineTypes(nr.VaccineTypes),
		nr.TotalAmount, nr.DepositAmount, nr.PaymentDueAt, criteriaRaw)

	created, err := scanReservation(row)
	if err != nil {
		return nil, fmt.Errorf("insert pending reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) ConfirmReservation(ctx context.Context, id uuid.UUID, chargeRef string) (*Reservation, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = 'confirmed',
		    payment_due_at = NULL,
		    charge_ref = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+reservationColumns+`
	`, id, chargeRef)

	return scanReservation(row)
}

func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Reservation, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+reservationColumns+`
	`, id, to, from)

	return scanReservation(row)
}

func (r *PgRepository) FindExpiredPending(ctx context.Context, now time.Time) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE status = 'pending'
		  AND payment_due_at IS NOT NULL
		  AND payment_due_at < $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *res)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, reservation_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.ReservationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
