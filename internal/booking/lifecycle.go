package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carepoint/hospital-appointments/internal/notify"
	"github.com/carepoint/hospital-appointments/internal/schedule"
)

// ErrCannotUpdate guards reschedules of appointments that no longer hold a slot.
var ErrCannotUpdate = errors.New("appointment can no longer be updated")

// Cancel moves an active appointment to CANCELLED. Cancelling is refused
// once the scheduled slot time has passed, regardless of status: that is a
// hard post-hoc guard, separate from the booking cutoff.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*Appointment, error) {
	if reason == "" {
		return nil, ErrReasonRequired
	}
	now := s.now()

	var cancelled *Appointment
	err := s.repo.InTx(ctx, func(r Repository) error {
		appt, err := r.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return ErrCannotCancel
		}
		if !now.Before(s.slotStart(appt)) {
			return ErrCancelAfterStart
		}

		previous := appt.Status
		appt.Status = StatusCancelled
		appt.CancelReason = reason
		appt.CancelledAt = &now
		if err := r.UpdateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}

		action := AuditCancelled
		if actor.IsAdmin {
			action = AuditCancelledByAdmin
		}
		if err := s.audit(ctx, r, &AuditEntry{
			AppointmentID:  &appt.ID,
			Action:         action,
			PreviousStatus: previous,
			NewStatus:      StatusCancelled,
			PerformedBy:    actor.Name,
			IPAddress:      actor.IPAddress,
			UserAgent:      actor.UserAgent,
			Details:        mustJSON(map[string]any{"reason": reason}),
		}); err != nil {
			return err
		}

		cancelled = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAvailability(ctx, cancelled.DoctorID, cancelled.Date)
	s.sendNotification(ctx, notify.CancellationNotice(cancelled.PatientEmail, cancelled.PatientName, map[string]string{
		"date":      cancelled.Date.String(),
		"slot_time": cancelled.SlotStartTime,
		"reason":    reason,
	}))

	s.log.Info().
		Stringer("appointment_id", cancelled.ID).
		Str("actor", actor.Name).
		Bool("admin", actor.IsAdmin).
		Msg("appointment cancelled")

	return cancelled, nil
}

// UpdateRequest is an admin reschedule: any subset of doctor, date and slot.
type UpdateRequest struct {
	DoctorID   *uuid.UUID
	Date       *schedule.Date
	SlotNumber *int
}

// Update reschedules a non-terminal appointment. Slot times are recomputed
// from the new slot number; each individual field change is recorded in the
// audit trail as a human-readable line.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest, reason string, actor Actor) (*Appointment, []string, error) {
	if len(reason) < minReasonLength {
		return nil, nil, ErrReasonRequired
	}
	now := s.now()

	grid, err := schedule.BuildGrid(s.settings.Grid)
	if err != nil {
		return nil, nil, fmt.Errorf("build slot grid: %w", err)
	}

	var (
		updated  *Appointment
		changes  []string
		prevDocs struct {
			doctorID uuid.UUID
			date     schedule.Date
		}
	)
	err = s.repo.InTx(ctx, func(r Repository) error {
		appt, err := r.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return ErrCannotUpdate
		}
		prevDocs.doctorID = appt.DoctorID
		prevDocs.date = appt.Date

		changes = changes[:0]

		if req.DoctorID != nil && *req.DoctorID != appt.DoctorID {
			if _, err := r.GetDoctorByID(ctx, *req.DoctorID); err != nil {
				return err
			}
			changes = append(changes, fmt.Sprintf("doctor: %s -> %s", appt.DoctorID, *req.DoctorID))
			appt.DoctorID = *req.DoctorID
		}
		if req.Date != nil && *req.Date != appt.Date {
			if err := s.checkDateBookable(ctx, now, *req.Date); err != nil {
				return err
			}
			changes = append(changes, fmt.Sprintf("date: %s -> %s", appt.Date, *req.Date))
			appt.Date = *req.Date
		}
		if req.SlotNumber != nil && *req.SlotNumber != appt.SlotNumber {
			if *req.SlotNumber < 1 || *req.SlotNumber > len(grid) {
				return ErrInvalidSlot
			}
			changes = append(changes, fmt.Sprintf("slot: %d -> %d", appt.SlotNumber, *req.SlotNumber))
			appt.SlotNumber = *req.SlotNumber
		}
		if len(changes) == 0 {
			return ErrNoChanges
		}

		// Slot times always follow the (possibly unchanged) slot number so
		// a date move keeps a consistent denormalized window.
		slot := grid[appt.SlotNumber-1]
		appt.SlotStartTime = slot.StartTime
		appt.SlotEndTime = slot.EndTime

		// The target key must be free (or freeable) before the move.
		occupant, err := r.GetAppointmentAtSlot(ctx, appt.DoctorID, appt.Date, appt.SlotNumber)
		switch {
		case err == nil && occupant.ID != appt.ID:
			if !occupant.Status.Terminal() {
				return ErrSlotTaken
			}
			if err := r.DeleteAppointment(ctx, occupant.ID); err != nil {
				return fmt.Errorf("retire terminal appointment: %w", err)
			}
		case err != nil && !errors.Is(err, ErrAppointmentNotFound):
			return fmt.Errorf("check slot occupancy: %w", err)
		}

		if err := r.UpdateAppointment(ctx, appt); err != nil {
			if errors.Is(err, ErrSlotKeyConflict) {
				return ErrSlotTaken
			}
			return err
		}

		if err := s.audit(ctx, r, &AuditEntry{
			AppointmentID:  &appt.ID,
			Action:         AuditUpdatedByAdmin,
			PreviousStatus: appt.Status,
			NewStatus:      appt.Status,
			PerformedBy:    actor.Name,
			IPAddress:      actor.IPAddress,
			UserAgent:      actor.UserAgent,
			Details:        mustJSON(map[string]any{"changes": changes, "reason": reason}),
		}); err != nil {
			return err
		}

		updated = appt
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.invalidateAvailability(ctx, prevDocs.doctorID, prevDocs.date)
	s.invalidateAvailability(ctx, updated.DoctorID, updated.Date)
	s.sendNotification(ctx, notify.RescheduleNotice(updated.PatientEmail, updated.PatientName, map[string]string{
		"date":      updated.Date.String(),
		"slot_time": updated.SlotStartTime,
		"reason":    reason,
	}))

	s.log.Info().
		Stringer("appointment_id", updated.ID).
		Strs("changes", changes).
		Str("actor", actor.Name).
		Msg("appointment updated")

	return updated, changes, nil
}

// Admin-driven status transitions. EXPIRED is system-only and CANCELLED has
// its own path with the late-cancel guard.
var adminTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCompleted, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusNoShow},
}

// SetStatus applies an admin status transition with audit.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to AppointmentStatus, actor Actor) (*Appointment, error) {
	if !to.Valid() {
		return nil, ErrInvalidTransition
	}

	var updated *Appointment
	err := s.repo.InTx(ctx, func(r Repository) error {
		appt, err := r.GetAppointmentByID(ctx, id)
		if err != nil {
			return err
		}
		allowed := false
		for _, next := range adminTransitions[appt.Status] {
			if next == to {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrInvalidTransition
		}

		previous := appt.Status
		changed, err := r.CompareAndSetStatus(ctx, id, previous, to)
		if err != nil {
			return fmt.Errorf("set status: %w", err)
		}

		if err := s.audit(ctx, r, &AuditEntry{
			AppointmentID:  &changed.ID,
			Action:         AuditStatusChanged,
			PreviousStatus: previous,
			NewStatus:      to,
			PerformedBy:    actor.Name,
			IPAddress:      actor.IPAddress,
			UserAgent:      actor.UserAgent,
		}); err != nil {
			return err
		}

		updated = changed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateAvailability(ctx, updated.DoctorID, updated.Date)
	return updated, nil
}

// SweepExpired marks every active appointment whose date has passed as
// EXPIRED. Each appointment transitions in its own transaction, so one
// failure never blocks the rest, and the compare-and-set makes repeated or
// concurrent sweeps idempotent.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	today := s.settings.Policy().Today(s.now())

	candidates, err := s.repo.ListPastDueActive(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("list past-due appointments: %w", err)
	}

	updated := 0
	for _, appt := range candidates {
		err := s.repo.InTx(ctx, func(r Repository) error {
			changed, err := r.CompareAndSetStatus(ctx, appt.ID, appt.Status, StatusExpired)
			if err != nil {
				return err
			}
			return s.audit(ctx, r, &AuditEntry{
				AppointmentID:  &changed.ID,
				Action:         AuditAutoExpired,
				PreviousStatus: appt.Status,
				NewStatus:      StatusExpired,
				PerformedBy:    "SYSTEM",
			})
		})
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// Another sweep or an admin got there first.
				continue
			}
			s.log.Error().Err(err).Stringer("appointment_id", appt.ID).Msg("expire transition failed")
			continue
		}
		updated++
	}

	if updated > 0 {
		s.log.Info().Int("updated", updated).Msg("expiry sweep complete")
	}
	return updated, nil
}

// slotStart resolves the denormalized HH:MM slot start to an instant in the
// clinic timezone. The stored string is grid-produced and well-formed; a
// damaged row falls back to midnight, which fails closed for the late-cancel
// guard.
func (s *Service) slotStart(a *Appointment) time.Time {
	t, err := time.Parse("15:04", a.SlotStartTime)
	if err != nil {
		return a.Date.At(0, 0, s.settings.Location)
	}
	return a.Date.At(t.Hour(), t.Minute(), s.settings.Location)
}
