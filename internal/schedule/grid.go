package schedule

import (
	"fmt"
	"time"
)

// Slot is one bookable window in a day's grid. Numbers are 1-based and
// stable for a given clinic configuration.
type Slot struct {
	Number    int    `json:"slot_number"`
	StartTime string `json:"start_time"` // HH:MM, 24h
	EndTime   string `json:"end_time"`   // HH:MM, 24h
}

// GridConfig describes the daily consultation window.
type GridConfig struct {
	StartTime   string // HH:MM
	EndTime     string // HH:MM
	SlotMinutes int
}

// BuildGrid derives the fixed daily slot grid from cfg. It is a pure
// function: the same config always yields the same slots.
func BuildGrid(cfg GridConfig) ([]Slot, error) {
	start, err := parseClock(cfg.StartTime)
	if err != nil {
		return nil, fmt.Errorf("grid start time: %w", err)
	}
	end, err := parseClock(cfg.EndTime)
	if err != nil {
		return nil, fmt.Errorf("grid end time: %w", err)
	}
	if cfg.SlotMinutes <= 0 {
		return nil, fmt.Errorf("slot duration must be positive, got %d", cfg.SlotMinutes)
	}
	if end <= start {
		return nil, fmt.Errorf("grid end %s must be after start %s", cfg.EndTime, cfg.StartTime)
	}

	n := (end - start) / cfg.SlotMinutes
	slots := make([]Slot, 0, n)
	for i := 0; i < n; i++ {
		from := start + i*cfg.SlotMinutes
		slots = append(slots, Slot{
			Number:    i + 1,
			StartTime: formatClock(from),
			EndTime:   formatClock(from + cfg.SlotMinutes),
		})
	}
	return slots, nil
}

// StartOn resolves the slot's start instant on a concrete date in loc.
func (s Slot) StartOn(d Date, loc *time.Location) time.Time {
	h, m := mustClock(s.StartTime)
	return d.At(h, m, loc)
}

// EndOn resolves the slot's end instant on a concrete date in loc.
func (s Slot) EndOn(d Date, loc *time.Location) time.Time {
	h, m := mustClock(s.EndTime)
	return d.At(h, m, loc)
}

// parseClock converts HH:MM to minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// mustClock is only called on strings the grid itself produced.
func mustClock(s string) (hour, min int) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		panic(fmt.Sprintf("malformed slot clock %q", s))
	}
	return t.Hour(), t.Minute()
}
