package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/carepoint/hospital-appointments/internal/db"
	"github.com/carepoint/hospital-appointments/internal/schedule"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	_ = godotenv.Load()

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	doctorIDs, err := seedDoctors(context.Background(), pool, 25)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedHolidays(context.Background(), pool); err != nil {
		log.Fatalf("seed holidays: %v", err)
	}
	if err := seedAppointments(context.Background(), pool, doctorIDs, 200); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specializations := []string{
		"Cardiology",
		"Dermatology",
		"General Medicine",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
		"Gynecology",
		"Urology",
	}
	designations := []string{
		"Consultant",
		"Senior Consultant",
		"Assistant Professor",
		"Associate Professor",
		"Professor",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specializations[gofakeit.Number(0, len(specializations)-1)]
		desig := designations[gofakeit.Number(0, len(designations)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, designation, specialization, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, desig, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedHolidays(ctx context.Context, pool *pgxpool.Pool) error {
	year := time.Now().Year()

	// Movable holidays the fixed calendar cannot predict. Dates here are
	// examples; real observances get entered through the admin API.
	holidays := []struct {
		date string
		name string
	}{
		{fmt.Sprintf("%d-03-31", year), "Eid ul-Fitr"},
		{fmt.Sprintf("%d-04-01", year), "Eid ul-Fitr (Day 2)"},
		{fmt.Sprintf("%d-06-07", year), "Eid ul-Adha"},
		{fmt.Sprintf("%d-06-08", year), "Eid ul-Adha (Day 2)"},
	}

	log.Printf("seeding %d holidays", len(holidays))

	for _, h := range holidays {
		d, err := schedule.ParseDate(h.date)
		if err != nil {
			return err
		}
		_, err = pool.Exec(ctx, `
			INSERT INTO official_holidays (id, date, name, reason, is_active)
			VALUES ($1, $2, $3, '', true)
		`, uuid.New(), d.UTC(), h.name)
		if err != nil {
			return err
		}
	}

	log.Println("holidays seeded")
	return nil
}

func seedAppointments(ctx context.Context, pool *pgxpool.Pool, doctorIDs []uuid.UUID, count int) error {
	log.Printf("seeding %d appointments", count)

	grid, err := schedule.BuildGrid(schedule.GridConfig{
		StartTime:   "15:00",
		EndTime:     "18:00",
		SlotMinutes: 15,
	})
	if err != nil {
		return err
	}

	today := schedule.DateOf(time.Now().UTC())

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	inserted := 0
	taken := make(map[string]bool)
	for inserted < count {
		doctorID := doctorIDs[gofakeit.Number(0, len(doctorIDs)-1)]
		date := today.AddDays(gofakeit.Number(1, 6))
		slot := grid[gofakeit.Number(0, len(grid)-1)]

		key := fmt.Sprintf("%s:%s:%d", doctorID, date, slot.Number)
		if taken[key] {
			continue
		}
		taken[key] = true

		cnic := fmt.Sprintf("%05d-%07d-%d",
			gofakeit.Number(10000, 99999),
			gofakeit.Number(1000000, 9999999),
			gofakeit.Number(0, 9))

		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (
				id, doctor_id, patient_name, patient_cnic, patient_phone,
				patient_email, appointment_date, slot_number, slot_start_time,
				slot_end_time, status, notes, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'PENDING', '', now(), now())
		`, uuid.New(), doctorID, gofakeit.Name(), cnic, gofakeit.Phone(),
			gofakeit.Email(), date.UTC(), slot.Number, slot.StartTime, slot.EndTime)
		if err != nil {
			return err
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("appointments seeded")
	return nil
}
