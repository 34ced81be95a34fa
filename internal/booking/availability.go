package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/carepoint/hospital-appointments/internal/schedule"
)

// GetAvailability resolves the per-slot booking status for one doctor and
// date. The result is a UI view only: the booking engine re-validates
// everything independently, so a slightly stale view is harmless.
func (s *Service) GetAvailability(ctx context.Context, doctorID uuid.UUID, d schedule.Date) (*AvailabilityView, error) {
	now := s.now()

	doctor, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if cached := s.cachedAvailability(ctx, doctorID, d); cached != nil {
		return cached, nil
	}

	view := &AvailabilityView{
		DoctorID:       doctor.ID,
		DoctorName:     doctor.Name,
		Designation:    doctor.Designation,
		Specialization: doctor.Specialization,
		Date:           d,
		DateString:     d.String(),
		Slots:          []SlotView{},
	}

	// Calendar-level closure: no slot computation at all.
	if err := s.settings.Policy().CheckDate(now, d); err != nil {
		view.AvailabilityNote = dateClosureNote(err)
		return view, nil
	}
	holiday, err := s.repo.GetActiveHoliday(ctx, d)
	if err == nil {
		view.AvailabilityNote = "Hospital closed: " + holiday.Name
		return view, nil
	}
	if !errors.Is(err, ErrHolidayNotFound) {
		return nil, fmt.Errorf("check holiday: %w", err)
	}

	// Full-day override short-circuits before any booking lookups.
	blockedSet := map[int]bool{}
	ov, err := s.repo.GetOverride(ctx, doctorID, d)
	switch {
	case err == nil && !ov.IsAvailable && ov.Type != UnavailableSpecificSlots:
		note := ov.Reason
		if note == "" {
			note = "Doctor is unavailable on this date"
		}
		view.AvailabilityNote = note
		return view, nil
	case err == nil && !ov.IsAvailable:
		for _, n := range ov.BlockedSlots {
			blockedSet[n] = true
		}
	case err != nil && !errors.Is(err, ErrOverrideNotFound):
		return nil, fmt.Errorf("check override: %w", err)
	}

	active, err := s.repo.ListActiveAppointments(ctx, doctorID, d)
	if err != nil {
		return nil, fmt.Errorf("list active appointments: %w", err)
	}
	bookedSet := make(map[int]bool, len(active))
	for _, a := range active {
		bookedSet[a.SlotNumber] = true
	}

	grid, err := schedule.BuildGrid(s.settings.Grid)
	if err != nil {
		return nil, fmt.Errorf("build slot grid: %w", err)
	}

	view.IsAvailable = true
	view.BookedCount = len(active)
	view.RemainingSlots = s.settings.MaxPerDay - view.BookedCount
	if view.RemainingSlots < 0 {
		view.RemainingSlots = 0
	}
	limitReached := view.BookedCount >= s.settings.MaxPerDay

	for _, slot := range grid {
		sv := SlotView{Slot: slot}
		switch {
		case bookedSet[slot.Number]:
			sv.Status = SlotStatusBooked
		case blockedSet[slot.Number]:
			sv.Status = SlotStatusBlocked
		case s.cutoffPassed(now, d, slot):
			sv.Status = SlotStatusCutoff
		case limitReached:
			sv.Status = SlotStatusDailyLimit
		default:
			sv.Status = SlotStatusAvailable
			sv.IsAvailable = true
		}
		view.Slots = append(view.Slots, sv)
	}

	s.storeAvailability(ctx, doctorID, d, view)
	return view, nil
}

func dateClosureNote(err error) string {
	switch {
	case errors.Is(err, schedule.ErrPastDate):
		return "Appointments cannot be booked for past dates"
	case errors.Is(err, schedule.ErrTooFarAhead):
		return "This date is not open for booking yet"
	case errors.Is(err, schedule.ErrWeekdayClosed):
		return "The clinic is closed on this day of the week"
	case errors.Is(err, schedule.ErrPublicHoliday):
		return "The hospital is closed for a public holiday"
	default:
		return "This date is not available for booking"
	}
}

// cachedAvailability returns a cached view with cutoff statuses refreshed
// against the current clock, or nil on a miss. Cutoff is the one slot
// status that decays with time rather than with data changes.
func (s *Service) cachedAvailability(ctx context.Context, doctorID uuid.UUID, d schedule.Date) *AvailabilityView {
	if s.cache == nil {
		return nil
	}
	payload, err := s.cache.Get(ctx, doctorID.String(), d.String())
	if err != nil || payload == nil {
		if err != nil {
			s.log.Warn().Err(err).Msg("availability cache read failed")
		}
		return nil
	}

	var view AvailabilityView
	if err := json.Unmarshal(payload, &view); err != nil {
		s.log.Warn().Err(err).Msg("availability cache payload unreadable")
		return nil
	}
	view.Date = d

	now := s.now()
	for i := range view.Slots {
		if view.Slots[i].Status == SlotStatusAvailable && s.cutoffPassed(now, d, view.Slots[i].Slot) {
			view.Slots[i].Status = SlotStatusCutoff
			view.Slots[i].IsAvailable = false
		}
	}
	return &view
}

func (s *Service) storeAvailability(ctx context.Context, doctorID uuid.UUID, d schedule.Date, view *AvailabilityView) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, doctorID.String(), d.String(), payload); err != nil {
		s.log.Warn().Err(err).Msg("availability cache write failed")
	}
}
