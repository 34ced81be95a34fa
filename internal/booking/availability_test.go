package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/carepoint/hospital-appointments/internal/redis"
	"github.com/carepoint/hospital-appointments/internal/schedule"
)

func TestGetAvailabilityGridStatuses(t *testing.T) {
	repo := newMockRepo()
	doctorID := addDoctor(repo)
	svc := newTestService(repo, testSettings())

	seedAppointment(repo, doctorID, tomorrow, 2, StatusPending, "35202-1111111-1")
	seedAppointment(repo, doctorID, tomorrow, 7, StatusConfirmed, "35202-2222222-2")
	// A cancelled row must not mark its slot as booked.
	seedAppointment(repo, doctorID, tomorrow, 9, StatusCancelled, "35202-3333333-3")
	repo.overrides[overrideKey(doctorID, tomorrow)] = AvailabilityOverride{
		DoctorID: doctorID, Date: tomorrow, IsAvailable: false,
		Type: UnavailableSpecificSlots, BlockedSlots: []int{3},
	}

	view, err := svc.GetAvailability(context.Background(), doctorID, tomorrow)
	if err != nil {
		t.Fatalf("GetAvailability: %v", err)
	}

	if len(view.Slots) != 12 {
		t.Fatalf("slots = %d, want 12", len(view.Slots))
	}
	if !view.IsAvailable {
		t.Error("IsAvailable = false, want true")
	}
	if view.BookedCount != 2 {
		t.Errorf("BookedCount = %d, want 2", view.BookedCount)
	}
	if view.RemainingSlots != 8 {
		t.Errorf("RemainingSlots = %d, want 8", view.RemainingSlots)
	}

	wantStatus := map[int]string{2: SlotStatusBooked, 7: SlotStatusBooked, 3: SlotStatusBlocked}
	for _, sv := range view.Slots {
		want, ok := wantStatus[sv.Number]
		if !ok {
			want = SlotStatusAvailable
		}
		if sv.Status != want {
			t.Errorf("slot %d status = %s, want %s", sv.Number, sv.Status, want)
		}
		if sv.IsAvailable != (want == SlotStatusAvailable) {
			t.Errorf("slot %d IsAvailable = %v for status %s", sv.Number, sv.IsAvailable, sv.Status)
		}
	}
}

func TestGetAvailabilitySameDayCutoff(t *testing.T) {
	repo := newMockRepo()
	doctorID := addDoctor(repo)
	svc := newTestService(repo, testSettings())
	// 14:30 with a 60-minute cutoff: slots starting before 15:30 are closed,
	// so slots 1-3 (15:00, 15:15, 15:30) are gone and slot 4 (15:45) is open.
	svc.now = func() time.Time { return time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC) }

	today := schedule.Date{Year: 2026, Month: time.January, Day: 15}
	view, err := svc.GetAvailability(context.Background(), doctorID, today)
	if err != nil {
		t.Fatalf("GetAvailability: %v", err)
	}

	for _, sv := range view.Slots {
		want := SlotStatusAvailable
		if sv.Number <= 3 {
			want = SlotStatusCutoff
		}
		if sv.Status != want {
			t.Errorf("slot %d status = %s, want %s", sv.Number, sv.Status, want)
		}
	}
}

func TestGetAvailabilityFullDayOverride(t *testing.T) {
	repo := newMockRepo()
	doctorID := addDoctor(repo)
	svc := newTestService(repo, testSettings())

	// Booked rows exist, but a full-day override short-circuits before any
	// slot computation.
	seedAppointment(repo, doctorID, tomorrow, 4, StatusPending, "35202-1111111-1")
	repo.overrides[overrideKey(doctorID, tomorrow)] = AvailabilityOverride{
		DoctorID: doctorID, Date: tomorrow, IsAvailable: false,
		Type: UnavailableFullDay, Reason: "On leave for a conference",
	}

	view, err := svc.GetAvailability(context.Background(), doctorID, tomorrow)
	if err != nil {
		t.Fatalf("GetAvailability: %v", err)
	}
	if view.IsAvailable {
		t.Error("IsAvailable = true, want false")
	}
	if len(view.Slots) != 0 {
		t.Errorf("slots = %d, want 0", len(view.Slots))
	}
	if view.AvailabilityNote != "On leave for a conference" {
		t.Errorf("note = %q", view.AvailabilityNote)
	}
}

func TestGetAvailabilityClosureNotes(t *testing.T) {
	repo := newMockRepo()
	doctorID := addDoctor(repo)
	svc := newTestService(repo, testSettings())

	holidayID := uuid.New()
	repo.holidays[holidayID] = Holiday{
		ID: holidayID, Date: tomorrow, Name: "Eid ul-Adha", IsActive: true,
	}

	cases := []struct {
		name     string
		date     schedule.Date
		wantNote string
	}{
		{"admin holiday", tomorrow, "Hospital closed: Eid ul-Adha"},
		{"weekend", schedule.Date{Year: 2026, Month: 1, Day: 17}, "The clinic is closed on this day of the week"},
		{"past date", schedule.Date{Year: 2026, Month: 1, Day: 10}, "Appointments cannot be booked for past dates"},
		{"beyond window", schedule.Date{Year: 2026, Month: 1, Day: 30}, "This date is not open for booking yet"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			view, err := svc.GetAvailability(context.Background(), doctorID, tc.date)
			if err != nil {
				t.Fatalf("GetAvailability: %v", err)
			}
			if view.IsAvailable {
				t.Error("IsAvailable = true, want false")
			}
			if len(view.Slots) != 0 {
				t.Errorf("slots = %d, want 0", len(view.Slots))
			}
			if view.AvailabilityNote != tc.wantNote {
				t.Errorf("note = %q, want %q", view.AvailabilityNote, tc.wantNote)
			}
		})
	}
}

func TestGetAvailabilityDailyLimit(t *testing.T) {
	repo := newMockRepo()
	doctorID := addDoctor(repo)
	settings := testSettings()
	settings.MaxPerDay = 2
	svc := newTestService(repo, settings)

	seedAppointment(repo, doctorID, tomorrow, 1, StatusPending, "35202-1111111-1")
	seedAppointment(repo, doctorID, tomorrow, 2, StatusConfirmed, "35202-2222222-2")

	view, err := svc.GetAvailability(context.Background(), doctorID, tomorrow)
	if err != nil {
		t.Fatalf("GetAvailability: %v", err)
	}
	if view.RemainingSlots != 0 {
		t.Errorf("RemainingSlots = %d, want 0", view.RemainingSlots)
	}
	for _, sv := range view.Slots {
		want := SlotStatusDailyLimit
		if sv.Number <= 2 {
			want = SlotStatusBooked
		}
		if sv.Status != want {
			t.Errorf("slot %d status = %s, want %s", sv.Number, sv.Status, want)
		}
	}
}

func TestGetAvailabilityUnknownDoctor(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, testSettings())

	_, err := svc.GetAvailability(context.Background(), uuid.New(), tomorrow)
	if !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("err = %v, want ErrDoctorNotFound", err)
	}
}

// memCache is an in-process stand-in for the Redis availability cache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (c *memCache) key(doctorID, date string) string { return doctorID + ":" + date }

func (c *memCache) Get(ctx context.Context, doctorID, date string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[c.key(doctorID, date)], nil
}

func (c *memCache) Set(ctx context.Context, doctorID, date string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[c.key(doctorID, date)] = payload
	return nil
}

func (c *memCache) Invalidate(ctx context.Context, doctorID, date string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, c.key(doctorID, date))
	return nil
}

func TestGetAvailabilityCaching(t *testing.T) {
	repo := newMockRepo()
	doctorID := addDoctor(repo)
	cache := newMemCache()
	svc := NewService(repo, redisclient.NoopLocker{}, cache, nil, testSettings(), zerolog.Nop())
	svc.now = func() time.Time { return testNow }

	today := schedule.Date{Year: 2026, Month: time.January, Day: 15}

	first, err := svc.GetAvailability(context.Background(), doctorID, today)
	if err != nil {
		t.Fatalf("first GetAvailability: %v", err)
	}
	if first.Slots[0].Status != SlotStatusAvailable {
		t.Fatalf("slot 1 status = %s before cutoff", first.Slots[0].Status)
	}

	// A booking written behind the cache's back is invisible until
	// invalidation; this is the accepted staleness window.
	seedAppointment(repo, doctorID, today, 5, StatusPending, "35202-1111111-1")
	second, err := svc.GetAvailability(context.Background(), doctorID, today)
	if err != nil {
		t.Fatalf("second GetAvailability: %v", err)
	}
	if second.Slots[4].Status != SlotStatusAvailable {
		t.Errorf("cache hit should not reflect the uninvalidated booking")
	}

	// Cutoff decay is recomputed on every cache hit: at 14:30 the cached
	// "available" statuses for slots 1-3 must come back as cutoff_passed.
	svc.now = func() time.Time { return time.Date(2026, 1, 15, 14, 30, 0, 0, time.UTC) }
	third, err := svc.GetAvailability(context.Background(), doctorID, today)
	if err != nil {
		t.Fatalf("third GetAvailability: %v", err)
	}
	for _, sv := range third.Slots[:3] {
		if sv.Status != SlotStatusCutoff {
			t.Errorf("slot %d status = %s, want cutoff_passed on cache hit", sv.Number, sv.Status)
		}
		if sv.IsAvailable {
			t.Errorf("slot %d still marked available past cutoff", sv.Number)
		}
	}

	// After invalidation the next read recomputes from storage.
	if err := cache.Invalidate(context.Background(), doctorID.String(), today.String()); err != nil {
		t.Fatal(err)
	}
	fourth, err := svc.GetAvailability(context.Background(), doctorID, today)
	if err != nil {
		t.Fatalf("fourth GetAvailability: %v", err)
	}
	if fourth.Slots[4].Status != SlotStatusBooked {
		t.Errorf("slot 5 status = %s after invalidation, want booked", fourth.Slots[4].Status)
	}
}
