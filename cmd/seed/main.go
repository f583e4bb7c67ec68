package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/petcare/vaccine-booking/internal/db"
)

// Seed center: Seoul city hall. Hospitals scatter within ~12km so both the
// base radius and the escalated radius have data to find.
const (
	centerLat = 37.5665
	centerLng = 126.9780
)

var buckets = []string{"morning", "afternoon", "evening"}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	if err := db.RunMigrations(dsn); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedHospitals(context.Background(), pool, 40, 60); err != nil {
		log.Fatalf("seed hospitals: %v", err)
	}
	if err := seedPets(context.Background(), pool, 500); err != nil {
		log.Fatalf("seed pets: %v", err)
	}

	log.Println("seed complete")
}

func seedHospitals(ctx context.Context, pool *pgxpool.Pool, count, days int) error {
	log.Printf("seeding %d hospitals with %d days of capacity", count, days)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	today := time.Now().UTC().Truncate(24 * time.Hour)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Company() + " Animal Hospital"
		address := gofakeit.Street() + ", " + gofakeit.City()
		phone := gofakeit.Phone()

		// ~0.001 deg latitude is about 111m
		lat := centerLat + gofakeit.Float64Range(-0.1, 0.1)
		lng := centerLng + gofakeit.Float64Range(-0.12, 0.12)

		_, err := tx.Exec(ctx, `
			INSERT INTO hospitals (id, name, address, phone, lat, lng, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, id, name, address, phone, lat, lng)
		if err != nil {
			return err
		}

		for d := 0; d < days; d++ {
			date := today.AddDate(0, 0, d)
			for _, bucket := range buckets {
				capacity := gofakeit.Number(0, 5)
				if capacity == 0 {
					continue
				}
				_, err := tx.Exec(ctx, `
					INSERT INTO hospital_slots (hospital_id, slot_date, bucket, capacity)
					VALUES ($1, $2, $3, $4)
				`, id, date, bucket, capacity)
				if err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("hospitals seeded")
	return nil
}

func seedPets(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d pets", count)

	const batchSize = 100

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			memberID := uuid.New()
			name := gofakeit.PetName()

			species := "dog"
			if gofakeit.Bool() {
				species = "cat"
			}

			// Young enough to enter the automated plan
			ageDays := gofakeit.Number(30, 300)
			birthDate := time.Now().UTC().AddDate(0, 0, -ageDays)

			_, err := tx.Exec(ctx, `
				INSERT INTO pets (id, member_id, name, species, birth_date, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, now(), now())
			`, id, memberID, name, species, birthDate)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("pets seeded: %d/%d", end, count)
	}

	log.Println("pets seeded")
	return nil
}
