package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/authorized-scheduling/internal/config"
	"github.com/clinicore/authorized-scheduling/internal/db"
)

type SimConfig struct {
	APIBaseURL     string
	Duration       time.Duration
	Workers        int
	ScheduleRatio  float64
	LifecycleRatio float64
	ReadRatio      float64
	PatientLimit   int
	PostgresDSN    string
}

type authTarget struct {
	AuthorizationID uuid.UUID
	PatientID       uuid.UUID
	ServiceCodeID   uuid.UUID
}

type DataPool struct {
	Authorizations []authTarget
	Practitioners  []uuid.UUID

	mu         sync.RWMutex
	scheduled  []uuid.UUID // appointments created but not started
	inProgress []uuid.UUID // appointments started but not settled
}

func (dp *DataPool) AddScheduled(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.scheduled = append(dp.scheduled, id)
}

func (dp *DataPool) TakeScheduled(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.scheduled) == 0 {
		return uuid.Nil, false
	}
	idx := rng.Intn(len(dp.scheduled))
	id := dp.scheduled[idx]
	dp.scheduled = append(dp.scheduled[:idx], dp.scheduled[idx+1:]...)
	return id, true
}

func (dp *DataPool) AddInProgress(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.inProgress = append(dp.inProgress, id)
}

func (dp *DataPool) TakeInProgress(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.inProgress) == 0 {
		return uuid.Nil, false
	}
	idx := rng.Intn(len(dp.inProgress))
	id := dp.inProgress[idx]
	dp.inProgress = append(dp.inProgress[:idx], dp.inProgress[idx+1:]...)
	return id, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)

	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p50Idx := len(latencies) * 50 / 100
	if p50Idx >= len(latencies) {
		p50Idx = len(latencies) - 1
	}
	p50 = latencies[p50Idx]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p50, p95
}

type Metrics struct {
	Schedule OperationMetrics
	Start    OperationMetrics
	Complete OperationMetrics
	Cancel   OperationMetrics
	Reserve  OperationMetrics
	Read     OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d schedule=%.2f lifecycle=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.ScheduleRatio, cfg.LifecycleRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d authorizations, %d practitioners",
		len(dataPool.Authorizations), len(dataPool.Practitioners))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	sim.Run()
	sim.PrintReport()

	// The whole point of the exercise: after arbitrary concurrent
	// traffic the ledger must still be self-consistent.
	verifyCtx, verifyCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer verifyCancel()
	if err := verifyInvariants(verifyCtx, pgPool); err != nil {
		log.Fatalf("invariant verification failed: %v", err)
	}
	log.Println("invariant verification passed")
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:     getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:       getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:        getIntEnv("SIM_WORKERS", 10),
		ScheduleRatio:  getFloatEnv("SIM_SCHEDULE_RATIO", 0.4),
		LifecycleRatio: getFloatEnv("SIM_LIFECYCLE_RATIO", 0.4),
		ReadRatio:      getFloatEnv("SIM_READ_RATIO", 0.2),
		PatientLimit:   getIntEnv("SIM_PATIENT_LIMIT", 500),
		PostgresDSN:    baseCfg.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.ScheduleRatio + cfg.LifecycleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.ScheduleRatio /= total
		cfg.LifecycleRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id, patient_id, service_code_id
		FROM authorizations
		WHERE scheduled_units + used_units < total_units
		LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load authorizations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t authTarget
		if err := rows.Scan(&t.AuthorizationID, &t.PatientID, &t.ServiceCodeID); err != nil {
			return nil, err
		}
		dataPool.Authorizations = append(dataPool.Authorizations, t)
	}

	rows, err = pool.Query(ctx, `
		SELECT id FROM practitioners LIMIT 100
	`)
	if err != nil {
		return nil, fmt.Errorf("load practitioners: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Practitioners = append(dataPool.Practitioners, id)
	}

	if len(dataPool.Authorizations) == 0 {
		return nil, fmt.Errorf("no open authorizations loaded, run cmd/seed first")
	}
	if len(dataPool.Practitioners) == 0 {
		return nil, fmt.Errorf("no practitioners loaded, run cmd/seed first")
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.ScheduleRatio:
				// Half of scheduling traffic books appointments, half
				// hammers the raw reserve endpoint.
				if rng.Intn(2) == 0 {
					s.doSchedule(ctx, rng)
				} else {
					s.doReserve(ctx, rng)
				}
			case r < s.config.ScheduleRatio+s.config.LifecycleRatio:
				switch rng.Intn(3) {
				case 0:
					s.doStart(ctx, rng)
				case 1:
					s.doComplete(ctx, rng)
				case 2:
					s.doCancel(ctx, rng)
				}
			default:
				s.doRead(ctx, rng)
			}
		}
	}
}

func (s *Simulator) post(ctx context.Context, url string, body any) (*http.Response, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, "POST", url, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor", "simulator")

	resp, err := s.client.Do(req)
	return resp, time.Since(start), err
}

func (s *Simulator) doSchedule(ctx context.Context, rng *rand.Rand) {
	target := s.pool.Authorizations[rng.Intn(len(s.pool.Authorizations))]
	practitionerID := s.pool.Practitioners[rng.Intn(len(s.pool.Practitioners))]

	startTime := time.Now().Add(time.Duration(rng.Intn(720)) * time.Hour).Truncate(time.Hour)
	endTime := startTime.Add(time.Duration(15*(1+rng.Intn(8))) * time.Minute)

	resp, latency, err := s.post(ctx, s.config.APIBaseURL+"/appointments", map[string]any{
		"patient_id":       target.PatientID.String(),
		"practitioner_id":  practitionerID.String(),
		"service_code_id":  target.ServiceCodeID.String(),
		"authorization_id": target.AuthorizationID.String(),
		"start_time":       startTime,
		"end_time":         endTime,
	})

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusCreated {
			success = true
			var apptResp struct {
				ID uuid.UUID `json:"id"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if len(bodyBytes) > 0 {
				json.Unmarshal(bodyBytes, &apptResp)
				if apptResp.ID != uuid.Nil {
					s.pool.AddScheduled(apptResp.ID)
				}
			}
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
	}

	s.metrics.Schedule.Record(latency, success, conflict)
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand) {
	target := s.pool.Authorizations[rng.Intn(len(s.pool.Authorizations))]

	resp, latency, err := s.post(ctx,
		fmt.Sprintf("%s/authorizations/%s/reserve", s.config.APIBaseURL, target.AuthorizationID),
		map[string]any{"amount": 1 + rng.Intn(4)})

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.Reserve.Record(latency, success, conflict)
}

func (s *Simulator) doStart(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.TakeScheduled(rng)
	if !ok {
		return
	}

	resp, latency, err := s.post(ctx,
		fmt.Sprintf("%s/appointments/%s/start", s.config.APIBaseURL, apptID), nil)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			success = true
			s.pool.AddInProgress(apptID)
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
	}

	s.metrics.Start.Record(latency, success, conflict)
}

func (s *Simulator) doComplete(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.TakeInProgress(rng)
	if !ok {
		return
	}

	resp, latency, err := s.post(ctx,
		fmt.Sprintf("%s/appointments/%s/complete", s.config.APIBaseURL, apptID),
		map[string]any{
			"narrative": "simulated session",
			"metrics":   map[string]any{"engagement": rng.Intn(10)},
		})

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusCreated
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.Complete.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.TakeScheduled(rng)
	if !ok {
		return
	}

	resp, latency, err := s.post(ctx,
		fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, apptID), nil)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
	}

	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	target := s.pool.Authorizations[rng.Intn(len(s.pool.Authorizations))]

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/authorizations/%s", s.config.APIBaseURL, target.AuthorizationID), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Read.Record(latency, success, false)
}

// verifyInvariants checks the ledger directly in Postgres: no counter
// triple violates the bound and no appointment has more than one
// session.
func verifyInvariants(ctx context.Context, pool *pgxpool.Pool) error {
	var badCounters int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM authorizations
		WHERE scheduled_units < 0
		   OR used_units < 0
		   OR scheduled_units + used_units > total_units
	`).Scan(&badCounters)
	if err != nil {
		return fmt.Errorf("check counters: %w", err)
	}
	if badCounters > 0 {
		return fmt.Errorf("%d authorizations violate the unit invariant", badCounters)
	}

	var dupSessions int
	err = pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT appointment_id
			FROM sessions
			GROUP BY appointment_id
			HAVING count(*) > 1
		) d
	`).Scan(&dupSessions)
	if err != nil {
		return fmt.Errorf("check sessions: %w", err)
	}
	if dupSessions > 0 {
		return fmt.Errorf("%d appointments have duplicate sessions", dupSessions)
	}

	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Schedule", &s.metrics.Schedule)
	printOperationReport("Reserve", &s.metrics.Reserve)
	printOperationReport("Start", &s.metrics.Start)
	printOperationReport("Complete", &s.metrics.Complete)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Read", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
