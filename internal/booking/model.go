package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/carepoint/hospital-appointments/internal/schedule"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
	StatusNoShow    AppointmentStatus = "NO_SHOW"
	StatusExpired   AppointmentStatus = "EXPIRED"
)

// Terminal reports whether the status no longer holds its slot.
func (s AppointmentStatus) Terminal() bool {
	switch s {
	case StatusCancelled, StatusExpired, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCompleted,
		StatusCancelled, StatusNoShow, StatusExpired:
		return true
	}
	return false
}

type UnavailabilityType string

const (
	UnavailableFullDay       UnavailabilityType = "FULL_DAY"
	UnavailableSpecificSlots UnavailabilityType = "SPECIFIC_SLOTS"
)

// Doctor is the scheduling view of a faculty member. Immutable here;
// profile management lives in the CMS.
type Doctor struct {
	ID             uuid.UUID
	Name           string
	Designation    string
	Specialization string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AvailabilityOverride is an admin-entered exception to a doctor's default
// availability for one date. One row per (doctor, date); writes upsert.
type AvailabilityOverride struct {
	DoctorID     uuid.UUID
	Date         schedule.Date
	IsAvailable  bool
	Type         UnavailabilityType
	BlockedSlots []int // only meaningful when Type == UnavailableSpecificSlots
	Reason       string
	UpdatedAt    time.Time
}

// Holiday is an institution-wide closure that applies to every doctor.
type Holiday struct {
	ID       uuid.UUID
	Date     schedule.Date
	Name     string
	Reason   string
	IsActive bool
}

// Appointment slot times are denormalized from the grid at creation time and
// never recomputed, so a later grid reconfiguration cannot move history.
type Appointment struct {
	ID            uuid.UUID
	DoctorID      uuid.UUID
	PatientName   string
	PatientCNIC   string
	PatientPhone  string
	PatientEmail  string
	Date          schedule.Date
	SlotNumber    int
	SlotStartTime string // HH:MM
	SlotEndTime   string // HH:MM
	Status        AppointmentStatus
	Notes         string
	CancelReason  string
	CancelledAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AppointmentDetail joins an appointment with its doctor's identity fields.
type AppointmentDetail struct {
	Appointment
	Doctor *Doctor
}

// Audit actions.
const (
	AuditBookingCreated   = "BOOKING_CREATED"
	AuditUpdatedByAdmin   = "UPDATED_BY_ADMIN"
	AuditCancelledByAdmin = "CANCELLED_BY_ADMIN"
	AuditCancelled        = "APPOINTMENT_CANCELLED"
	AuditAutoExpired      = "AUTO_EXPIRED"
	AuditStatusChanged    = "STATUS_CHANGED_BY_ADMIN"
)

// AuditEntry is one append-only record of a state-changing action.
type AuditEntry struct {
	ID             int64
	AppointmentID  *uuid.UUID
	Action         string
	PreviousStatus AppointmentStatus
	NewStatus      AppointmentStatus
	PerformedBy    string
	IPAddress      string
	UserAgent      string
	Details        []byte // JSON blob of what changed
	CreatedAt      time.Time
}

// Actor identifies who performed a state-changing operation.
type Actor struct {
	Name      string
	IsAdmin   bool
	IPAddress string
	UserAgent string
}

// SlotView is the per-slot availability status shown to the UI.
type SlotView struct {
	schedule.Slot
	IsAvailable bool   `json:"is_available"`
	Status      string `json:"status"` // available | booked | blocked | cutoff_passed | daily_limit
}

// Per-slot status values, in precedence order (booked wins).
const (
	SlotStatusBooked     = "booked"
	SlotStatusBlocked    = "blocked"
	SlotStatusCutoff     = "cutoff_passed"
	SlotStatusDailyLimit = "daily_limit"
	SlotStatusAvailable  = "available"
)

// AvailabilityView is the resolver output for one doctor and date.
type AvailabilityView struct {
	DoctorID         uuid.UUID     `json:"doctor_id"`
	DoctorName       string        `json:"doctor_name"`
	Designation      string        `json:"designation"`
	Specialization   string        `json:"specialization"`
	Date             schedule.Date `json:"-"`
	DateString       string        `json:"date"`
	IsAvailable      bool          `json:"is_available"`
	AvailabilityNote string        `json:"availability_note,omitempty"`
	Slots            []SlotView    `json:"slots"`
	BookedCount      int           `json:"booked_count"`
	RemainingSlots   int           `json:"remaining_slots"`
}
