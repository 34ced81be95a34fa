package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carepoint/hospital-appointments/internal/notify"
	redisclient "github.com/carepoint/hospital-appointments/internal/redis"
	"github.com/carepoint/hospital-appointments/internal/schedule"
)

var (
	ErrInvalidSlot          = errors.New("invalid slot number")
	ErrCutoffPassed         = errors.New("bookings close before the appointment time")
	ErrDoctorUnavailable    = errors.New("doctor is not available on this date")
	ErrSlotBlocked          = errors.New("this slot is blocked for the selected date")
	ErrSlotTaken            = errors.New("slot is already booked")
	ErrSlotBeingBooked      = errors.New("slot is currently being booked, please retry")
	ErrDailyLimitReached    = errors.New("daily appointment limit reached for this doctor")
	ErrDuplicateBooking     = errors.New("patient already has an appointment with this doctor on this date")
	ErrVerificationRequired = errors.New("email verification is required for first-time patients")
	ErrHolidayClosure       = errors.New("hospital is closed on this date")
	ErrCannotCancel         = errors.New("appointment can no longer be cancelled")
	ErrCancelAfterStart     = errors.New("cannot cancel after the scheduled appointment time")
	ErrReasonRequired       = errors.New("a reason of at least 10 characters is required")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrNoChanges            = errors.New("no changes requested")
)

// Settings are the clinic scheduling knobs. They are plain values so a
// process restart (or a config reload at the call site) fully determines
// behavior; the service keeps no derived state between calls.
type Settings struct {
	Grid          schedule.GridConfig
	MaxPerDay     int
	CutoffMinutes int
	LookaheadDays int
	Weekdays      map[time.Weekday]bool
	Location      *time.Location
}

// Policy returns the calendar policy induced by the settings.
func (s Settings) Policy() schedule.Policy {
	return schedule.Policy{
		Weekdays:      s.Weekdays,
		LookaheadDays: s.LookaheadDays,
		Location:      s.Location,
	}
}

const minReasonLength = 10

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	cache    redisclient.AvailabilityCache
	notifier notify.Notifier
	settings Settings
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cache redisclient.AvailabilityCache, notifier notify.Notifier, settings Settings, log zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		cache:    cache,
		notifier: notifier,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// BookingRequest carries everything the engine needs to reserve one slot.
type BookingRequest struct {
	DoctorID      uuid.UUID
	Date          schedule.Date
	SlotNumber    int
	PatientName   string
	PatientCNIC   string
	PatientPhone  string
	PatientEmail  string
	Notes         string
	EmailVerified bool
	IPAddress     string
	UserAgent     string
}

// BookAppointment validates req against every scheduling policy and, inside
// a single transaction, reserves the slot: either exactly one new PENDING
// appointment plus its audit row is committed, or nothing is. The engine
// never trusts a previously served availability view; everything that time
// or concurrency can invalidate is re-checked here.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*AppointmentDetail, error) {
	now := s.now()

	if err := s.checkDateBookable(ctx, now, req.Date); err != nil {
		return nil, err
	}

	doctor, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	grid, err := schedule.BuildGrid(s.settings.Grid)
	if err != nil {
		return nil, fmt.Errorf("build slot grid: %w", err)
	}
	if req.SlotNumber < 1 || req.SlotNumber > len(grid) {
		return nil, ErrInvalidSlot
	}
	slot := grid[req.SlotNumber-1]

	// Re-checked against the wall clock even though the UI already filtered
	// cutoff slots: the client's view may be stale.
	if s.cutoffPassed(now, req.Date, slot) {
		return nil, ErrCutoffPassed
	}

	if !req.EmailVerified {
		returning, err := s.repo.HasAppointmentHistory(ctx, req.PatientCNIC)
		if err != nil {
			return nil, fmt.Errorf("check patient history: %w", err)
		}
		if !returning {
			return nil, ErrVerificationRequired
		}
	}

	var created *Appointment
	lockKey := fmt.Sprintf("%s:%s:%d", req.DoctorID, req.Date, req.SlotNumber)

	err = s.locker.WithSlotLock(ctx, lockKey, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(r Repository) error {
			if err := s.checkOverride(lockCtx, r, req.DoctorID, req.Date, req.SlotNumber); err != nil {
				return err
			}

			// The unique slot key is the contended resource. A leftover
			// terminal row is retired here so the slot can be rebooked; an
			// active row means someone beat us to it.
			existing, err := r.GetAppointmentAtSlot(lockCtx, req.DoctorID, req.Date, req.SlotNumber)
			switch {
			case err == nil:
				if !existing.Status.Terminal() {
					return ErrSlotTaken
				}
				if err := r.DeleteAppointment(lockCtx, existing.ID); err != nil {
					return fmt.Errorf("retire terminal appointment: %w", err)
				}
			case !errors.Is(err, ErrAppointmentNotFound):
				return fmt.Errorf("check slot occupancy: %w", err)
			}

			count, err := r.CountActiveAppointments(lockCtx, req.DoctorID, req.Date)
			if err != nil {
				return fmt.Errorf("count active appointments: %w", err)
			}
			if count >= s.settings.MaxPerDay {
				return ErrDailyLimitReached
			}

			_, err = r.GetActiveByPatient(lockCtx, req.DoctorID, req.Date, req.PatientCNIC)
			if err == nil {
				return ErrDuplicateBooking
			}
			if !errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("check duplicate booking: %w", err)
			}

			appt := &Appointment{
				DoctorID:      req.DoctorID,
				PatientName:   req.PatientName,
				PatientCNIC:   req.PatientCNIC,
				PatientPhone:  req.PatientPhone,
				PatientEmail:  req.PatientEmail,
				Date:          req.Date,
				SlotNumber:    slot.Number,
				SlotStartTime: slot.StartTime,
				SlotEndTime:   slot.EndTime,
				Status:        StatusPending,
				Notes:         req.Notes,
			}
			if err := r.CreateAppointment(lockCtx, appt); err != nil {
				if errors.Is(err, ErrSlotKeyConflict) {
					return ErrSlotTaken
				}
				return err
			}

			if err := s.audit(lockCtx, r, &AuditEntry{
				AppointmentID: &appt.ID,
				Action:        AuditBookingCreated,
				NewStatus:     StatusPending,
				PerformedBy:   req.PatientName,
				IPAddress:     req.IPAddress,
				UserAgent:     req.UserAgent,
				Details: mustJSON(map[string]any{
					"doctor_id":   req.DoctorID.String(),
					"date":        req.Date.String(),
					"slot_number": slot.Number,
					"slot_time":   slot.StartTime + "-" + slot.EndTime,
				}),
			}); err != nil {
				return err
			}

			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.invalidateAvailability(ctx, req.DoctorID, req.Date)
	s.sendNotification(ctx, notify.BookingConfirmation(created.PatientEmail, created.PatientName, map[string]string{
		"doctor":    doctor.Name,
		"date":      created.Date.String(),
		"slot_time": created.SlotStartTime,
	}))

	s.log.Info().
		Stringer("appointment_id", created.ID).
		Stringer("doctor_id", req.DoctorID).
		Str("date", req.Date.String()).
		Int("slot", slot.Number).
		Msg("appointment booked")

	return &AppointmentDetail{Appointment: *created, Doctor: doctor}, nil
}

// GetAppointment returns one appointment with its doctor resolved.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	return s.repo.GetAppointmentDetail(ctx, id)
}

// checkDateBookable applies the calendar policy plus the admin holiday table.
func (s *Service) checkDateBookable(ctx context.Context, now time.Time, d schedule.Date) error {
	if err := s.settings.Policy().CheckDate(now, d); err != nil {
		return err
	}
	_, err := s.repo.GetActiveHoliday(ctx, d)
	if err == nil {
		return ErrHolidayClosure
	}
	if !errors.Is(err, ErrHolidayNotFound) {
		return fmt.Errorf("check holiday: %w", err)
	}
	return nil
}

// checkOverride re-reads the override row inside the booking transaction.
func (s *Service) checkOverride(ctx context.Context, r Repository, doctorID uuid.UUID, d schedule.Date, slotNumber int) error {
	ov, err := r.GetOverride(ctx, doctorID, d)
	if err != nil {
		if errors.Is(err, ErrOverrideNotFound) {
			return nil
		}
		return fmt.Errorf("check override: %w", err)
	}
	if ov.IsAvailable {
		return nil
	}
	if ov.Type != UnavailableSpecificSlots {
		return ErrDoctorUnavailable
	}
	for _, blocked := range ov.BlockedSlots {
		if blocked == slotNumber {
			return ErrSlotBlocked
		}
	}
	return nil
}

// cutoffPassed reports whether now is within the cutoff window of the
// slot's start on d, evaluated in the clinic timezone.
func (s *Service) cutoffPassed(now time.Time, d schedule.Date, slot schedule.Slot) bool {
	start := slot.StartOn(d, s.settings.Location)
	closeAt := start.Add(-time.Duration(s.settings.CutoffMinutes) * time.Minute)
	return !now.Before(closeAt)
}

// audit appends an audit row within the caller's transaction. The audit
// trail is part of the atomic unit: if it cannot be written the whole
// operation rolls back.
func (s *Service) audit(ctx context.Context, r Repository, entry *AuditEntry) error {
	if err := r.InsertAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

func (s *Service) invalidateAvailability(ctx context.Context, doctorID uuid.UUID, d schedule.Date) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, doctorID.String(), d.String()); err != nil {
		s.log.Warn().Err(err).Msg("availability cache invalidation failed")
	}
}

// sendNotification is fire-and-forget: a failed send never fails or rolls
// back the state change that triggered it.
func (s *Service) sendNotification(ctx context.Context, msg notify.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.log.Warn().Err(err).Str("recipient", msg.Recipient).Str("template", msg.Template).Msg("notification send failed")
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
