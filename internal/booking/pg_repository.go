package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carepoint/hospital-appointments/internal/schedule"
)

// ErrSlotKeyConflict maps the partial unique index on
// (doctor_id, appointment_date, slot_number) to a typed error. Two
// transactions racing to insert the same key serialize through Postgres and
// the loser sees this.
var ErrSlotKeyConflict = errors.New("active appointment already exists for this slot")

const pgUniqueViolation = "23505"

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db   dbtx
	pool *pgxpool.Pool // nil when this repository is transaction-scoped
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool, pool: pool}
}

// InTx runs fn against a repository bound to a single transaction. Nested
// calls reuse the surrounding transaction.
func (r *PgRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgRepository{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.Name,
		&d.Designation,
		&d.Specialization,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

const appointmentColumns = `
	id, doctor_id, patient_name, patient_cnic, patient_phone, patient_email,
	appointment_date, slot_number, slot_start_time, slot_end_time,
	status, notes, cancel_reason, cancelled_at, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date time.Time
	var cancelledAt *time.Time

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientName,
		&a.PatientCNIC,
		&a.PatientPhone,
		&a.PatientEmail,
		&date,
		&a.SlotNumber,
		&a.SlotStartTime,
		&a.SlotEndTime,
		&a.Status,
		&a.Notes,
		&a.CancelReason,
		&cancelledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.Date = schedule.DateOf(date.UTC())
	a.CancelledAt = cancelledAt
	return &a, nil
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, designation, specialization, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) ListDoctors(ctx context.Context) ([]Doctor, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, name, designation, specialization, created_at, updated_at
		FROM doctors
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (*AvailabilityOverride, error) {
	var ov AvailabilityOverride
	var d time.Time
	var blocked []int32

	err := r.db.QueryRow(ctx, `
		SELECT doctor_id, date, is_available, unavailability_type, blocked_slots, reason, updated_at
		FROM availability_overrides
		WHERE doctor_id = $1 AND date = $2
	`, doctorID, date.UTC()).Scan(
		&ov.DoctorID,
		&d,
		&ov.IsAvailable,
		&ov.Type,
		&blocked,
		&ov.Reason,
		&ov.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOverrideNotFound
		}
		return nil, err
	}

	ov.Date = schedule.DateOf(d.UTC())
	ov.BlockedSlots = make([]int, 0, len(blocked))
	for _, n := range blocked {
		ov.BlockedSlots = append(ov.BlockedSlots, int(n))
	}
	return &ov, nil
}

func (r *PgRepository) UpsertOverride(ctx context.Context, ov *AvailabilityOverride) error {
	blocked := make([]int32, 0, len(ov.BlockedSlots))
	for _, n := range ov.BlockedSlots {
		blocked = append(blocked, int32(n))
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO availability_overrides
			(doctor_id, date, is_available, unavailability_type, blocked_slots, reason, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (doctor_id, date) DO UPDATE SET
			is_available = EXCLUDED.is_available,
			unavailability_type = EXCLUDED.unavailability_type,
			blocked_slots = EXCLUDED.blocked_slots,
			reason = EXCLUDED.reason,
			updated_at = now()
	`, ov.DoctorID, ov.Date.UTC(), ov.IsAvailable, ov.Type, blocked, ov.Reason)
	if err != nil {
		return fmt.Errorf("upsert override: %w", err)
	}
	return nil
}

func (r *PgRepository) GetActiveHoliday(ctx context.Context, date schedule.Date) (*Holiday, error) {
	var h Holiday
	var d time.Time

	err := r.db.QueryRow(ctx, `
		SELECT id, date, name, reason, is_active
		FROM official_holidays
		WHERE date = $1 AND is_active
		LIMIT 1
	`, date.UTC()).Scan(&h.ID, &d, &h.Name, &h.Reason, &h.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrHolidayNotFound
		}
		return nil, err
	}

	h.Date = schedule.DateOf(d.UTC())
	return &h, nil
}

func (r *PgRepository) CreateHoliday(ctx context.Context, h *Holiday) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO official_holidays (id, date, name, reason, is_active)
		VALUES ($1, $2, $3, $4, $5)
	`, h.ID, h.Date.UTC(), h.Name, h.Reason, h.IsActive)
	if err != nil {
		return fmt.Errorf("create holiday: %w", err)
	}
	return nil
}

func (r *PgRepository) DeactivateHoliday(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE official_holidays SET is_active = false WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate holiday: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrHolidayNotFound
	}
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := r.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	doctor, err := r.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil {
		return nil, err
	}
	return &AppointmentDetail{Appointment: *appt, Doctor: doctor}, nil
}

// GetAppointmentAtSlot reads the row occupying the unique slot key. An
// active row wins over a leftover terminal one. FOR UPDATE makes concurrent
// booking transactions queue on the same row.
func (r *PgRepository) GetAppointmentAtSlot(ctx context.Context, doctorID uuid.UUID, date schedule.Date, slot int) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND slot_number = $3
		ORDER BY (status IN ('PENDING','CONFIRMED')) DESC, created_at DESC
		LIMIT 1
		FOR UPDATE
	`, doctorID, date.UTC(), slot)
	return scanAppointment(row)
}

func (r *PgRepository) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date schedule.Date) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2
		  AND status IN ('PENDING','CONFIRMED')
		ORDER BY slot_number
	`, doctorID, date.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) CountActiveAppointments(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2
		  AND status IN ('PENDING','CONFIRMED')
	`, doctorID, date.UTC()).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *PgRepository) GetActiveByPatient(ctx context.Context, doctorID uuid.UUID, date schedule.Date, cnic string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND patient_cnic = $3
		  AND status IN ('PENDING','CONFIRMED')
		LIMIT 1
	`, doctorID, date.UTC(), cnic)
	return scanAppointment(row)
}

func (r *PgRepository) HasAppointmentHistory(ctx context.Context, cnic string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointments WHERE patient_cnic = $1)
	`, cnic).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments
			(id, doctor_id, patient_name, patient_cnic, patient_phone, patient_email,
			 appointment_date, slot_number, slot_start_time, slot_end_time,
			 status, notes, cancel_reason, cancelled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, '', NULL, now(), now())
		RETURNING`+appointmentColumns+`
	`, a.ID, a.DoctorID, a.PatientName, a.PatientCNIC, a.PatientPhone, a.PatientEmail,
		a.Date.UTC(), a.SlotNumber, a.SlotStartTime, a.SlotEndTime, a.Status, a.Notes)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrSlotKeyConflict
		}
		return fmt.Errorf("insert appointment: %w", err)
	}

	*a = *created
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments SET
			doctor_id = $2,
			appointment_date = $3,
			slot_number = $4,
			slot_start_time = $5,
			slot_end_time = $6,
			status = $7,
			notes = $8,
			cancel_reason = $9,
			cancelled_at = $10,
			updated_at = now()
		WHERE id = $1
	`, a.ID, a.DoctorID, a.Date.UTC(), a.SlotNumber, a.SlotStartTime, a.SlotEndTime,
		a.Status, a.Notes, a.CancelReason, a.CancelledAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrSlotKeyConflict
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING`+appointmentColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) ListPastDueActive(ctx context.Context, today schedule.Date) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT`+appointmentColumns+`
		FROM appointments
		WHERE status IN ('PENDING','CONFIRMED')
		  AND appointment_date < $1
		ORDER BY appointment_date, slot_number
	`, today.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertAudit(ctx context.Context, entry *AuditEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointment_audit_logs
			(appointment_id, action, previous_status, new_status,
			 performed_by, ip_address, user_agent, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
	`, entry.AppointmentID, entry.Action, entry.PreviousStatus, entry.NewStatus,
		entry.PerformedBy, entry.IPAddress, entry.UserAgent, entry.Details)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
