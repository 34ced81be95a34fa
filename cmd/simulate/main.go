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
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carepoint/hospital-appointments/internal/config"
	"github.com/carepoint/hospital-appointments/internal/db"
	"github.com/carepoint/hospital-appointments/internal/schedule"
)

// A booking-rush generator. Many workers race to book the same small set
// of doctor/date/slot keys, which is exactly the contention the engine
// has to survive: every slot must end up with at most one active
// appointment no matter how many workers fought over it.

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	DoctorLimit  int
	PostgresDSN  string
}

type slotKey struct {
	DoctorID   uuid.UUID
	Date       string
	SlotNumber int
}

type DataPool struct {
	Slots []slotKey

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) TakeRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	idx := rng.Intn(len(dp.appointments))
	id := dp.appointments[idx]
	dp.appointments[idx] = dp.appointments[len(dp.appointments)-1]
	dp.appointments = dp.appointments[:len(dp.appointments)-1]
	return id, true
}

func (dp *DataPool) PeekRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.latencies))
	copy(latencies, om.latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[len(latencies)*50/100]
	p95idx := len(latencies) * 95 / 100
	if p95idx >= len(latencies) {
		p95idx = len(latencies) - 1
	}
	p95 = latencies[p95idx]
	return
}

type Metrics struct {
	Booking      OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
	ReadByID     OperationMetrics
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

	cfg := loadSimConfig()
	if err := validateSimConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f cancel=%.2f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.CancelRatio, cfg.ReadRatio)

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

	log.Printf("loaded: %d contended slot keys", len(dataPool.Slots))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
	sim.VerifyNoDoubleBooking(context.Background(), pgPool)
}

func loadSimConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 20),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.6),
		CancelRatio:  getFloat("SIM_CANCEL_RATIO", 0.1),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 3),
		PostgresDSN:  baseCfg.PostgresDSN,
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateSimConfig(cfg SimConfig) error {
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

// loadDataPool builds the contended key set: a few doctors, tomorrow's
// date, every slot in the grid. Small on purpose.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM doctors ORDER BY created_at LIMIT $1`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	var doctorIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		doctorIDs = append(doctorIDs, id)
	}
	if len(doctorIDs) == 0 {
		return nil, fmt.Errorf("no doctors found, run cmd/seed first")
	}

	grid, err := schedule.BuildGrid(schedule.GridConfig{
		StartTime:   getEnv("START_TIME", "15:00"),
		EndTime:     getEnv("END_TIME", "18:00"),
		SlotMinutes: getInt("SLOT_MINUTES", 15),
	})
	if err != nil {
		return nil, err
	}

	tomorrow := schedule.DateOf(time.Now().UTC()).AddDays(1)
	// Skip weekend days so every request targets a bookable date.
	for tomorrow.Weekday() == time.Saturday || tomorrow.Weekday() == time.Sunday {
		tomorrow = tomorrow.AddDays(1)
	}

	dataPool := &DataPool{}
	for _, doctorID := range doctorIDs {
		for _, slot := range grid {
			dataPool.Slots = append(dataPool.Slots, slotKey{
				DoctorID:   doctorID,
				Date:       tomorrow.String(),
				SlotNumber: slot.Number,
			})
		}
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
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.CancelRatio:
				s.doCancel(ctx, rng)
			default:
				if rng.Intn(2) == 0 {
					s.doAvailability(ctx, rng)
				} else {
					s.doReadByID(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	key := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	cnic := fmt.Sprintf("%05d-%07d-%d",
		rng.Intn(90000)+10000, rng.Intn(9000000)+1000000, rng.Intn(10))

	reqBody := map[string]any{
		"doctor_id":      key.DoctorID.String(),
		"date":           key.Date,
		"slot_number":    key.SlotNumber,
		"patient_name":   fmt.Sprintf("Sim Patient %d", rng.Intn(100000)),
		"patient_cnic":   cnic,
		"patient_phone":  fmt.Sprintf("+9230%08d", rng.Intn(100000000)),
		"patient_email":  fmt.Sprintf("sim%d@example.com", rng.Intn(100000)),
		"email_verified": true,
	}
	body, _ := json.Marshal(reqBody)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		s.config.APIBaseURL+"/api/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false
	if err == nil {
		if resp.StatusCode == http.StatusCreated {
			success = true
			var result struct {
				Appointment struct {
					ID uuid.UUID `json:"id"`
				} `json:"appointment"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if json.Unmarshal(bodyBytes, &result) == nil && result.Appointment.ID != uuid.Nil {
				s.pool.AddAppointment(result.Appointment.ID)
			}
		} else if resp.StatusCode == http.StatusConflict {
			conflict = true
		}
		resp.Body.Close()
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.TakeRandomAppointment(rng)
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{
		"reason": "simulated cancellation by load generator",
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/api/appointments/%s/cancel", s.config.APIBaseURL, apptID),
		bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false
	if err == nil {
		success = resp.StatusCode == http.StatusOK
		conflict = resp.StatusCode == http.StatusConflict
		resp.Body.Close()
	}

	s.metrics.Cancel.Record(latency, success, conflict)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	key := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/doctors/%s/availability?date=%s",
			s.config.APIBaseURL, key.DoctorID, key.Date), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		success = resp.StatusCode == http.StatusOK
		resp.Body.Close()
	}

	s.metrics.Availability.Record(latency, success, false)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.PeekRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/appointments/%s", s.config.APIBaseURL, apptID), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		success = resp.StatusCode == http.StatusOK
		resp.Body.Close()
	}

	s.metrics.ReadByID.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println()
	fmt.Println("=== Simulation Report ===")
	printOp("booking", &s.metrics.Booking)
	printOp("cancel", &s.metrics.Cancel)
	printOp("availability", &s.metrics.Availability)
	printOp("read-by-id", &s.metrics.ReadByID)
}

func printOp(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	avg, min, max, p50, p95 := om.Stats()
	fmt.Printf("%-14s total=%d success=%d conflict=%d error=%d\n",
		name, total, atomic.LoadInt64(&om.Success),
		atomic.LoadInt64(&om.Conflict), atomic.LoadInt64(&om.Error))
	fmt.Printf("%-14s avg=%s min=%s max=%s p50=%s p95=%s\n",
		"", avg, min, max, p50, p95)
}

// VerifyNoDoubleBooking is the point of the whole exercise: after the
// rush, no slot key may hold more than one active appointment.
func (s *Simulator) VerifyNoDoubleBooking(ctx context.Context, pool *pgxpool.Pool) {
	var violations int
	err := pool.QueryRow(ctx, `
		SELECT count(*) FROM (
			SELECT doctor_id, appointment_date, slot_number
			FROM appointments
			WHERE status IN ('PENDING', 'CONFIRMED')
			GROUP BY doctor_id, appointment_date, slot_number
			HAVING count(*) > 1
		) dupes
	`).Scan(&violations)
	if err != nil {
		log.Printf("verification query failed: %v", err)
		return
	}
	if violations > 0 {
		log.Printf("FAIL: %d slot keys hold more than one active appointment", violations)
		os.Exit(1)
	}
	log.Println("OK: no slot key holds more than one active appointment")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
