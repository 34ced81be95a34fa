package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/carepoint/hospital-appointments/internal/booking"
)

// Request DTOs. Validation tags are enforced by validate() before any
// service call; the service re-validates scheduling rules on its own.

type BookAppointmentRequest struct {
	DoctorID      string `json:"doctor_id" validate:"required,uuid"`
	Date          string `json:"date" validate:"required,datetime=2006-01-02"`
	SlotNumber    int    `json:"slot_number" validate:"required,gte=1"`
	PatientName   string `json:"patient_name" validate:"required,min=3,max=100"`
	PatientCNIC   string `json:"patient_cnic" validate:"required,cnic"`
	PatientPhone  string `json:"patient_phone" validate:"required,min=7,max=20"`
	PatientEmail  string `json:"patient_email" validate:"required,email"`
	Notes         string `json:"notes" validate:"max=500"`
	EmailVerified bool   `json:"email_verified"`
}

type CancelAppointmentRequest struct {
	Reason      string `json:"reason" validate:"required,max=500"`
	CancelledBy string `json:"cancelled_by" validate:"max=100"`
}

type UpdateAppointmentRequest struct {
	DoctorID   *string `json:"doctor_id,omitempty" validate:"omitempty,uuid"`
	Date       *string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	SlotNumber *int    `json:"slot_number,omitempty" validate:"omitempty,gte=1"`
	Reason     string  `json:"reason" validate:"required,min=10,max=500"`
}

type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=CONFIRMED COMPLETED NO_SHOW"`
}

type SetOverrideRequest struct {
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	IsAvailable  bool   `json:"is_available"`
	Type         string `json:"unavailability_type" validate:"omitempty,oneof=FULL_DAY SPECIFIC_SLOTS"`
	BlockedSlots []int  `json:"blocked_slots" validate:"dive,gte=1"`
	Reason       string `json:"reason" validate:"max=500"`
}

type CreateHolidayRequest struct {
	Date   string `json:"date" validate:"required,datetime=2006-01-02"`
	Name   string `json:"name" validate:"required,max=100"`
	Reason string `json:"reason" validate:"max=500"`
}

// Response shapes. Every mutating endpoint returns a discriminated result:
// success with a payload, or success=false with a stable error code.

type AppointmentResponse struct {
	ID             uuid.UUID  `json:"id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	DoctorName     string     `json:"doctor_name,omitempty"`
	Specialization string     `json:"specialization,omitempty"`
	PatientName    string     `json:"patient_name"`
	Date           string     `json:"date"`
	SlotNumber     int        `json:"slot_number"`
	SlotStartTime  string     `json:"slot_start_time"`
	SlotEndTime    string     `json:"slot_end_time"`
	Status         string     `json:"status"`
	Notes          string     `json:"notes,omitempty"`
	CancelReason   string     `json:"cancel_reason,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toAppointmentResponse(a *booking.Appointment, doctor *booking.Doctor) AppointmentResponse {
	resp := AppointmentResponse{
		ID:            a.ID,
		DoctorID:      a.DoctorID,
		PatientName:   a.PatientName,
		Date:          a.Date.String(),
		SlotNumber:    a.SlotNumber,
		SlotStartTime: a.SlotStartTime,
		SlotEndTime:   a.SlotEndTime,
		Status:        string(a.Status),
		Notes:         a.Notes,
		CancelReason:  a.CancelReason,
		CancelledAt:   a.CancelledAt,
		CreatedAt:     a.CreatedAt,
	}
	if doctor != nil {
		resp.DoctorName = doctor.Name
		resp.Specialization = doctor.Specialization
	}
	return resp
}

type BookingResult struct {
	Success     bool                `json:"success"`
	Appointment AppointmentResponse `json:"appointment"`
}

type CancelResult struct {
	Success     bool                `json:"success"`
	Appointment AppointmentResponse `json:"appointment"`
}

type UpdateResult struct {
	Success     bool                `json:"success"`
	Appointment AppointmentResponse `json:"appointment"`
	Changes     []string            `json:"changes"`
}

type SweepResult struct {
	Success      bool `json:"success"`
	UpdatedCount int  `json:"updated_count"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

var cnicPattern = regexp.MustCompile(`^[0-9]{5}-[0-9]{7}-[0-9]$`)

func newValidator() *validator.Validate {
	v := validator.New()
	// National identity format: 12345-1234567-1
	_ = v.RegisterValidation("cnic", func(fl validator.FieldLevel) bool {
		return cnicPattern.MatchString(fl.Field().String())
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Success: false, Error: code, Details: details})
}
