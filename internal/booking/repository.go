package booking

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/carepoint/hospital-appointments/internal/schedule"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrOverrideNotFound    = errors.New("availability override not found")
	ErrHolidayNotFound     = errors.New("holiday not found")
)

// Repository contains all DB interactions needed by the service. InTx runs
// fn against a transaction-scoped repository; every mutation inside fn
// commits or rolls back as one unit.
type Repository interface {
	InTx(ctx context.Context, fn func(Repository) error) error

	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)

	// Overrides (one row per doctor+date, last write wins)
	GetOverride(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (*AvailabilityOverride, error)
	UpsertOverride(ctx context.Context, ov *AvailabilityOverride) error

	// Institution-wide holidays
	GetActiveHoliday(ctx context.Context, date schedule.Date) (*Holiday, error)
	CreateHoliday(ctx context.Context, h *Holiday) error
	DeactivateHoliday(ctx context.Context, id uuid.UUID) error

	// Appointments
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	// GetAppointmentAtSlot returns the row occupying the unique slot key,
	// whatever its status, locking it for update when inside a transaction.
	GetAppointmentAtSlot(ctx context.Context, doctorID uuid.UUID, date schedule.Date, slot int) (*Appointment, error)
	ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, date schedule.Date) ([]Appointment, error)
	CountActiveAppointments(ctx context.Context, doctorID uuid.UUID, date schedule.Date) (int, error)
	GetActiveByPatient(ctx context.Context, doctorID uuid.UUID, date schedule.Date, cnic string) (*Appointment, error)
	HasAppointmentHistory(ctx context.Context, cnic string) (bool, error)
	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	DeleteAppointment(ctx context.Context, id uuid.UUID) error
	// CompareAndSetStatus flips the status only if it still equals from,
	// returning ErrAppointmentNotFound when the precondition fails.
	CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error)

	// Expiry sweep
	ListPastDueActive(ctx context.Context, today schedule.Date) ([]Appointment, error)

	// Audit trail (append-only)
	InsertAudit(ctx context.Context, entry *AuditEntry) error
}
