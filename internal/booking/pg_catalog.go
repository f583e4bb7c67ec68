package booking

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgCatalog reads hospital availability straight from Postgres. Remaining
// capacity is the configured slot capacity minus active reservations for
// that hospital, date and bucket.
type PgCatalog struct {
	pool *pgxpool.Pool
}

func NewPgCatalog(pool *pgxpool.Pool) *PgCatalog {
	return &PgCatalog{pool: pool}
}

func (c *PgCatalog) FindOpenSlots(ctx context.Context, center GeoPoint, radiusKm float64, date time.Time) ([]HospitalAvailability, error) {
	// Haversine on the hospital coordinates; 6371 is the earth radius in km.
	rows, err := c.pool.Query(ctx, `
		SELECT q.id, q.name, q.address, q.phone, q.lat, q.lng, q.bucket, q.remaining, q.distance_km
		FROM (
			SELECT h.id, h.name, h.address, h.phone, h.lat, h.lng, s.bucket,
			       s.capacity - COALESCE(b.booked, 0) AS remaining,
			       6371 * acos(LEAST(1.0,
			           cos(radians($1)) * cos(radians(h.lat)) * cos(radians(h.lng) - radians($2))
			           + sin(radians($1)) * sin(radians(h.lat))
			       )) AS distance_km
			FROM hospitals h
			JOIN hospital_slots s
			  ON s.hospital_id = h.id
			 AND s.slot_date = $3
			LEFT JOIN (
				SELECT hospital_id, bucket, COUNT(*) AS booked
				FROM reservations
				WHERE target_date = $3
				  AND status IN ('pending', 'confirmed')
				GROUP BY hospital_id, bucket
			) b ON b.hospital_id = h.id AND b.bucket = s.bucket
		) q
		WHERE q.distance_km <= $4
		  AND q.remaining > 0
		ORDER BY q.distance_km ASC, q.id ASC
	`, center.Lat, center.Lng, date, radiusKm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []HospitalAvailability
	for rows.Next() {
		var a HospitalAvailability
		var bucket string
		err := rows.Scan(
			&a.HospitalID,
			&a.Name,
			&a.Address,
			&a.Phone,
			&a.Location.Lat,
			&a.Location.Lng,
			&bucket,
			&a.Remaining,
			&a.DistanceKm,
		)
		if err != nil {
			return nil, err
		}
		a.Bucket = TimeBucket(bucket)
		result = append(result, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}
