// Command simulate fires concurrent create requests for the same pet at the
// API and reports how many got through. With the per-pet lock and the
// transactional duplicate check in place, exactly one should succeed; the
// rest should see 409s.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type simConfig struct {
	APIBaseURL string
	Workers    int
	PetID      string
	HospitalID string
	TargetDate string
}

func loadSimConfig() simConfig {
	cfg := simConfig{
		APIBaseURL: getenv("SIM_API_URL", "http://127.0.0.1:8080"),
		Workers:    getenvInt("SIM_WORKERS", 20),
		PetID:      os.Getenv("SIM_PET_ID"),
		HospitalID: os.Getenv("SIM_HOSPITAL_ID"),
		TargetDate: getenv("SIM_TARGET_DATE", time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02")),
	}
	if cfg.PetID == "" || cfg.HospitalID == "" {
		log.Fatal("SIM_PET_ID and SIM_HOSPITAL_ID are required")
	}
	return cfg
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := loadSimConfig()
	log.Printf("simulate: %d workers racing to book pet %s", cfg.Workers, cfg.PetID)

	body, err := json.Marshal(map[string]any{
		"pet_id":        cfg.PetID,
		"hospital_id":   cfg.HospitalID,
		"target_date":   cfg.TargetDate,
		"time_bucket":   "morning",
		"vaccine_types": []string{"DOG_DHPPL"},
		"criteria": map[string]any{
			"lat":           37.5665,
			"lng":           126.9780,
			"time_bucket":   "morning",
			"weekdays":      []string{"monday", "wednesday"},
			"vaccine_types": []string{"DOG_DHPPL"},
		},
	})
	if err != nil {
		log.Fatalf("marshal request: %v", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	var created, conflicts, failures int64
	var wg sync.WaitGroup

	start := time.Now()
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.APIBaseURL+"/reservations", bytes.NewReader(body))
			if err != nil {
				atomic.AddInt64(&failures, 1)
				return
			}
			req.Header.Set("Content-Type", "application/json")

			res, err := client.Do(req)
			if err != nil {
				atomic.AddInt64(&failures, 1)
				return
			}
			defer res.Body.Close()
			_, _ = io.Copy(io.Discard, res.Body)

			switch res.StatusCode {
			case http.StatusCreated:
				atomic.AddInt64(&created, 1)
			case http.StatusConflict:
				atomic.AddInt64(&conflicts, 1)
			default:
				atomic.AddInt64(&failures, 1)
			}
		}()
	}
	wg.Wait()

	fmt.Printf("done in %s: created=%d conflicts=%d failures=%d\n",
		time.Since(start), created, conflicts, failures)

	if created != 1 {
		fmt.Println("WARNING: expected exactly one successful create")
		os.Exit(1)
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
