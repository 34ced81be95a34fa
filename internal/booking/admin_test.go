package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestSetOverrideNormalization(t *testing.T) {
	t.Run("available clears blocking fields", func(t *testing.T) {
		repo := newMockRepo()
		doctorID := addDoctor(repo)
		svc := newTestService(repo, testSettings())

		err := svc.SetOverride(context.Background(), &AvailabilityOverride{
			DoctorID:     doctorID,
			Date:         tomorrow,
			IsAvailable:  true,
			Type:         UnavailableFullDay,
			BlockedSlots: []int{1, 2, 3},
		})
		if err != nil {
			t.Fatalf("SetOverride: %v", err)
		}
		saved := repo.overrides[overrideKey(doctorID, tomorrow)]
		if saved.Type != "" || saved.BlockedSlots != nil {
			t.Errorf("blocking fields survived on an available day: type=%q slots=%v", saved.Type, saved.BlockedSlots)
		}
	})

	t.Run("unavailable defaults to full day", func(t *testing.T) {
		repo := newMockRepo()
		doctorID := addDoctor(repo)
		svc := newTestService(repo, testSettings())

		err := svc.SetOverride(context.Background(), &AvailabilityOverride{
			DoctorID:    doctorID,
			Date:        tomorrow,
			IsAvailable: false,
			Reason:      "On leave",
		})
		if err != nil {
			t.Fatalf("SetOverride: %v", err)
		}
		if saved := repo.overrides[overrideKey(doctorID, tomorrow)]; saved.Type != UnavailableFullDay {
			t.Errorf("type = %q, want FULL_DAY", saved.Type)
		}
	})

	t.Run("last write wins", func(t *testing.T) {
		repo := newMockRepo()
		doctorID := addDoctor(repo)
		svc := newTestService(repo, testSettings())

		first := &AvailabilityOverride{DoctorID: doctorID, Date: tomorrow, IsAvailable: false}
		if err := svc.SetOverride(context.Background(), first); err != nil {
			t.Fatal(err)
		}
		second := &AvailabilityOverride{DoctorID: doctorID, Date: tomorrow, IsAvailable: true}
		if err := svc.SetOverride(context.Background(), second); err != nil {
			t.Fatal(err)
		}
		if saved := repo.overrides[overrideKey(doctorID, tomorrow)]; !saved.IsAvailable {
			t.Error("second write did not replace the first")
		}
	})
}

func TestSetOverrideValidation(t *testing.T) {
	repo := newMockRepo()
	doctorID := addDoctor(repo)
	svc := newTestService(repo, testSettings())

	cases := []struct {
		name string
		ov   AvailabilityOverride
	}{
		{"missing date", AvailabilityOverride{DoctorID: doctorID, IsAvailable: false}},
		{"specific without slots", AvailabilityOverride{
			DoctorID: doctorID, Date: tomorrow, IsAvailable: false, Type: UnavailableSpecificSlots,
		}},
		{"slot outside grid", AvailabilityOverride{
			DoctorID: doctorID, Date: tomorrow, IsAvailable: false,
			Type: UnavailableSpecificSlots, BlockedSlots: []int{13},
		}},
		{"unknown type", AvailabilityOverride{
			DoctorID: doctorID, Date: tomorrow, IsAvailable: false, Type: "HALF_DAY",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ov := tc.ov
			if err := svc.SetOverride(context.Background(), &ov); !errors.Is(err, ErrInvalidOverride) {
				t.Errorf("err = %v, want ErrInvalidOverride", err)
			}
		})
	}

	t.Run("unknown doctor", func(t *testing.T) {
		ov := AvailabilityOverride{DoctorID: uuid.New(), Date: tomorrow, IsAvailable: false}
		if err := svc.SetOverride(context.Background(), &ov); !errors.Is(err, ErrDoctorNotFound) {
			t.Errorf("err = %v, want ErrDoctorNotFound", err)
		}
	})
}

func TestHolidayAdmin(t *testing.T) {
	repo := newMockRepo()
	svc := newTestService(repo, testSettings())

	h := &Holiday{Date: tomorrow, Name: "Eid ul-Fitr"}
	if err := svc.AddHoliday(context.Background(), h); err != nil {
		t.Fatalf("AddHoliday: %v", err)
	}
	if !h.IsActive {
		t.Error("new holiday not active")
	}
	if _, err := repo.GetActiveHoliday(context.Background(), tomorrow); err != nil {
		t.Fatalf("GetActiveHoliday after add: %v", err)
	}

	if err := svc.RemoveHoliday(context.Background(), h.ID); err != nil {
		t.Fatalf("RemoveHoliday: %v", err)
	}
	if _, err := repo.GetActiveHoliday(context.Background(), tomorrow); !errors.Is(err, ErrHolidayNotFound) {
		t.Errorf("err after removal = %v, want ErrHolidayNotFound", err)
	}

	if err := svc.AddHoliday(context.Background(), &Holiday{Name: "No date"}); !errors.Is(err, ErrInvalidOverride) {
		t.Errorf("missing date err = %v, want ErrInvalidOverride", err)
	}
	if err := svc.RemoveHoliday(context.Background(), uuid.New()); !errors.Is(err, ErrHolidayNotFound) {
		t.Errorf("unknown holiday err = %v, want ErrHolidayNotFound", err)
	}
}

func TestListDoctors(t *testing.T) {
	repo := newMockRepo()
	addDoctor(repo)
	addDoctor(repo)
	svc := newTestService(repo, testSettings())

	doctors, err := svc.ListDoctors(context.Background())
	if err != nil {
		t.Fatalf("ListDoctors: %v", err)
	}
	if len(doctors) != 2 {
		t.Errorf("doctors = %d, want 2", len(doctors))
	}
}
