package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/carepoint/hospital-appointments/internal/booking"
	"github.com/carepoint/hospital-appointments/internal/schedule"
)

func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", verrs[0].Field()+" failed rule "+verrs[0].Tag())
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid request")
		return false
	}
	return true
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func actorFromRequest(r *http.Request, name string, admin bool) booking.Actor {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.RemoteAddr
	}
	return booking.Actor{
		Name:      name,
		IsAdmin:   admin,
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}

func listDoctorsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			mapServiceError(w, err)
			return
		}
		type doctorResp struct {
			ID             uuid.UUID `json:"id"`
			Name           string    `json:"name"`
			Designation    string    `json:"designation"`
			Specialization string    `json:"specialization"`
		}
		out := make([]doctorResp, 0, len(doctors))
		for _, d := range doctors {
			out = append(out, doctorResp{ID: d.ID, Name: d.Name, Designation: d.Designation, Specialization: d.Specialization})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func getAvailabilityHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "doctorID")
		if !ok {
			return
		}
		date, err := schedule.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		view, err := svc.GetAvailability(r.Context(), doctorID, date)
		if err != nil {
			mapServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func bookAppointmentHandler(svc *booking.Service, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BookAppointmentRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}

		doctorID, _ := uuid.Parse(req.DoctorID)
		date, _ := schedule.ParseDate(req.Date)

		detail, err := svc.BookAppointment(r.Context(), booking.BookingRequest{
			DoctorID:      doctorID,
			Date:          date,
			SlotNumber:    req.SlotNumber,
			PatientName:   req.PatientName,
			PatientCNIC:   req.PatientCNIC,
			PatientPhone:  req.PatientPhone,
			PatientEmail:  req.PatientEmail,
			Notes:         req.Notes,
			EmailVerified: req.EmailVerified,
			IPAddress:     r.Header.Get("X-Forwarded-For"),
			UserAgent:     r.UserAgent(),
		})
		if err != nil {
			mapServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, BookingResult{
			Success:     true,
			Appointment: toAppointmentResponse(&detail.Appointment, detail.Doctor),
		})
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			mapServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(&detail.Appointment, detail.Doctor))
	}
}

func cancelAppointmentHandler(svc *booking.Service, v *validator.Validate, admin bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		var req CancelAppointmentRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}

		actorName := req.CancelledBy
		if actorName == "" {
			if admin {
				actorName = "ADMIN"
			} else {
				actorName = "PATIENT"
			}
		}

		appt, err := svc.Cancel(r.Context(), id, req.Reason, actorFromRequest(r, actorName, admin))
		if err != nil {
			mapServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CancelResult{Success: true, Appointment: toAppointmentResponse(appt, nil)})
	}
}

func updateAppointmentHandler(svc *booking.Service, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		var req UpdateAppointmentRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}

		var update booking.UpdateRequest
		if req.DoctorID != nil {
			doctorID, _ := uuid.Parse(*req.DoctorID)
			update.DoctorID = &doctorID
		}
		if req.Date != nil {
			date, _ := schedule.ParseDate(*req.Date)
			update.Date = &date
		}
		update.SlotNumber = req.SlotNumber

		appt, changes, err := svc.Update(r.Context(), id, update, req.Reason, actorFromRequest(r, "ADMIN", true))
		if err != nil {
			mapServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, UpdateResult{
			Success:     true,
			Appointment: toAppointmentResponse(appt, nil),
			Changes:     changes,
		})
	}
}

func setStatusHandler(svc *booking.Service, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		var req SetStatusRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}

		appt, err := svc.SetStatus(r.Context(), id, booking.AppointmentStatus(req.Status), actorFromRequest(r, "ADMIN", true))
		if err != nil {
			mapServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, CancelResult{Success: true, Appointment: toAppointmentResponse(appt, nil)})
	}
}

func setOverrideHandler(svc *booking.Service, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "doctorID")
		if !ok {
			return
		}
		var req SetOverrideRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}
		date, _ := schedule.ParseDate(req.Date)

		err := svc.SetOverride(r.Context(), &booking.AvailabilityOverride{
			DoctorID:     doctorID,
			Date:         date,
			IsAvailable:  req.IsAvailable,
			Type:         booking.UnavailabilityType(req.Type),
			BlockedSlots: req.BlockedSlots,
			Reason:       req.Reason,
		})
		if err != nil {
			mapServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func createHolidayHandler(svc *booking.Service, v *validator.Validate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateHolidayRequest
		if !decodeAndValidate(w, r, v, &req) {
			return
		}
		date, _ := schedule.ParseDate(req.Date)

		h := booking.Holiday{Date: date, Name: req.Name, Reason: req.Reason}
		if err := svc.AddHoliday(r.Context(), &h); err != nil {
			mapServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": h.ID})
	}
}

func deleteHolidayHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		if err := svc.RemoveHoliday(r.Context(), id); err != nil {
			mapServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

func sweepExpiredHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := svc.SweepExpired(r.Context())
		if err != nil {
			mapServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, SweepResult{Success: true, UpdatedCount: count})
	}
}

// mapServiceError translates service sentinels into the wire contract.
// Callers must be able to tell "slot taken" from "doctor on leave" from
// "you already booked", so every conflict has its own code.
func mapServiceError(w http.ResponseWriter, err error) {
	switch {
	// Not found
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrHolidayNotFound):
		writeError(w, http.StatusNotFound, "holiday_not_found", err.Error())

	// Validation
	case errors.Is(err, schedule.ErrPastDate):
		writeError(w, http.StatusBadRequest, "date_in_past", err.Error())
	case errors.Is(err, schedule.ErrTooFarAhead):
		writeError(w, http.StatusBadRequest, "date_beyond_window", err.Error())
	case errors.Is(err, schedule.ErrWeekdayClosed):
		writeError(w, http.StatusBadRequest, "weekday_closed", err.Error())
	case errors.Is(err, schedule.ErrPublicHoliday):
		writeError(w, http.StatusBadRequest, "public_holiday", err.Error())
	case errors.Is(err, booking.ErrInvalidSlot):
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
	case errors.Is(err, booking.ErrCutoffPassed):
		writeError(w, http.StatusBadRequest, "cutoff_passed", err.Error())
	case errors.Is(err, booking.ErrReasonRequired):
		writeError(w, http.StatusBadRequest, "reason_required", err.Error())
	case errors.Is(err, booking.ErrNoChanges):
		writeError(w, http.StatusBadRequest, "no_changes", err.Error())
	case errors.Is(err, booking.ErrInvalidOverride):
		writeError(w, http.StatusBadRequest, "invalid_override", err.Error())
	case errors.Is(err, booking.ErrVerificationRequired):
		writeError(w, http.StatusForbidden, "verification_required", err.Error())

	// Conflicts
	case errors.Is(err, booking.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_already_booked", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrDailyLimitReached):
		writeError(w, http.StatusConflict, "daily_limit_reached", err.Error())
	case errors.Is(err, booking.ErrDuplicateBooking):
		writeError(w, http.StatusConflict, "duplicate_booking", err.Error())
	case errors.Is(err, booking.ErrDoctorUnavailable):
		writeError(w, http.StatusConflict, "doctor_unavailable", err.Error())
	case errors.Is(err, booking.ErrSlotBlocked):
		writeError(w, http.StatusConflict, "slot_blocked", err.Error())
	case errors.Is(err, booking.ErrHolidayClosure):
		writeError(w, http.StatusConflict, "holiday_closure", err.Error())

	// Illegal state
	case errors.Is(err, booking.ErrCannotCancel):
		writeError(w, http.StatusConflict, "cannot_cancel", err.Error())
	case errors.Is(err, booking.ErrCancelAfterStart):
		writeError(w, http.StatusConflict, "cancel_after_start", err.Error())
	case errors.Is(err, booking.ErrCannotUpdate):
		writeError(w, http.StatusConflict, "cannot_update", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())

	default:
		// Unexpected failures never leak internals to the caller.
		writeError(w, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
	}
}
