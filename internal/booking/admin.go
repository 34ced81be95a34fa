package booking

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/carepoint/hospital-appointments/internal/schedule"
)

var ErrInvalidOverride = errors.New("invalid availability override")

// SetOverride upserts the (doctor, date) availability exception. Last write
// wins; there is exactly one row per doctor per date.
func (s *Service) SetOverride(ctx context.Context, ov *AvailabilityOverride) error {
	if _, err := s.repo.GetDoctorByID(ctx, ov.DoctorID); err != nil {
		return err
	}
	if ov.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidOverride)
	}

	if ov.IsAvailable {
		// Blocking fields are meaningless on an available day.
		ov.Type = ""
		ov.BlockedSlots = nil
	} else {
		if ov.Type == "" {
			ov.Type = UnavailableFullDay
		}
		switch ov.Type {
		case UnavailableFullDay:
			ov.BlockedSlots = nil
		case UnavailableSpecificSlots:
			grid, err := schedule.BuildGrid(s.settings.Grid)
			if err != nil {
				return fmt.Errorf("build slot grid: %w", err)
			}
			if len(ov.BlockedSlots) == 0 {
				return fmt.Errorf("%w: specific-slot block needs at least one slot", ErrInvalidOverride)
			}
			for _, n := range ov.BlockedSlots {
				if n < 1 || n > len(grid) {
					return fmt.Errorf("%w: slot %d outside the grid", ErrInvalidOverride, n)
				}
			}
		default:
			return fmt.Errorf("%w: unknown unavailability type %q", ErrInvalidOverride, ov.Type)
		}
	}

	if err := s.repo.UpsertOverride(ctx, ov); err != nil {
		return err
	}
	s.invalidateAvailability(ctx, ov.DoctorID, ov.Date)

	s.log.Info().
		Stringer("doctor_id", ov.DoctorID).
		Str("date", ov.Date.String()).
		Bool("available", ov.IsAvailable).
		Msg("availability override saved")
	return nil
}

// AddHoliday registers an institution-wide closure. Doctor availability
// caches are left to expire naturally; a holiday blocks booking at the
// engine regardless of what a cached view still shows.
func (s *Service) AddHoliday(ctx context.Context, h *Holiday) error {
	if h.Date.IsZero() || h.Name == "" {
		return fmt.Errorf("%w: holiday needs a date and a name", ErrInvalidOverride)
	}
	h.IsActive = true
	return s.repo.CreateHoliday(ctx, h)
}

// RemoveHoliday deactivates a holiday row; the record itself is kept.
func (s *Service) RemoveHoliday(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeactivateHoliday(ctx, id)
}

// ListDoctors exposes the scheduling roster.
func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	return s.repo.ListDoctors(ctx)
}
