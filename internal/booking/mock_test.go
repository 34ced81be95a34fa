package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/carepoint/hospital-appointments/internal/redis"
	"github.com/carepoint/hospital-appointments/internal/schedule"
)

// mockRepo is an in-memory Repository. InTx serializes transactions with a
// mutex and restores a snapshot on error, which mirrors the commit-or-rollback
// behavior the service relies on. The active-slot uniqueness constraint is
// enforced in CreateAppointment and UpdateAppointment just like the partial
// unique index does in Postgres.
type mockRepo struct {
	mu   sync.Mutex
	txMu sync.Mutex

	doctors      map[uuid.UUID]Doctor
	overrides    map[string]AvailabilityOverride
	holidays     map[uuid.UUID]Holiday
	appointments map[uuid.UUID]Appointment
	audits       []AuditEntry

	seq int64

	failAudit bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		doctors:      make(map[uuid.UUID]Doctor),
		overrides:    make(map[string]AvailabilityOverride),
		holidays:     make(map[uuid.UUID]Holiday),
		appointments: make(map[uuid.UUID]Appointment),
	}
}

func overrideKey(doctorID uuid.UUID, d schedule.Date) string {
	return doctorID.String() + "|" + d.String()
}

func (m *mockRepo) snapshot() *mockRepo {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := newMockRepo()
	for k, v := range m.doctors {
		snap.doctors[k] = v
	}
	for k, v := range m.overrides {
		snap.overrides[k] = v
	}
	for k, v := range m.holidays {
		snap.holidays[k] = v
	}
	for k, v := range m.appointments {
		snap.appointments[k] = v
	}
	snap.audits = append([]AuditEntry(nil), m.audits...)
	snap.seq = m.seq
	return snap
}

func (m *mockRepo) restore(snap *mockRepo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.doctors = snap.doctors
	m.overrides = snap.overrides
	m.holidays = snap.holidays
	m.appointments = snap.appointments
	m.audits = snap.audits
	m.seq = snap.seq
}

func (m *mockRepo) InTx(ctx context.Context, fn func(Repository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *mockRepo) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *mockRepo) ListDoctors(ctx context.Context) ([]Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Doctor, 0, len(m.doctors))
	for _, d := range m.doctors {
		out = append(out, d)
	}
	return out, nil
}

func (m *mockRepo) GetOverride(ctx context.Context, doctorID uuid.UUID, d schedule.Date) (*AvailabilityOverride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ov, ok := m.overrides[overrideKey(doctorID, d)]
	if !ok {
		return nil, ErrOverrideNotFound
	}
	return &ov, nil
}

func (m *mockRepo) UpsertOverride(ctx context.Context, ov *AvailabilityOverride) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ov.UpdatedAt = time.Now()
	m.overrides[overrideKey(ov.DoctorID, ov.Date)] = *ov
	return nil
}

func (m *mockRepo) GetActiveHoliday(ctx context.Context, d schedule.Date) (*Holiday, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, h := range m.holidays {
		if h.IsActive && h.Date == d {
			out := h
			return &out, nil
		}
	}
	return nil, ErrHolidayNotFound
}

func (m *mockRepo) CreateHoliday(ctx context.Context, h *Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	m.holidays[h.ID] = *h
	return nil
}

func (m *mockRepo) DeactivateHoliday(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.holidays[id]
	if !ok {
		return ErrHolidayNotFound
	}
	h.IsActive = false
	m.holidays[id] = h
	return nil
}

func (m *mockRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *mockRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	detail := AppointmentDetail{Appointment: a}
	if doc, ok := m.doctors[a.DoctorID]; ok {
		detail.Doctor = &doc
	}
	return &detail, nil
}

func (m *mockRepo) GetAppointmentAtSlot(ctx context.Context, doctorID uuid.UUID, d schedule.Date, slot int) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latestTerminal *Appointment
	for _, a := range m.appointments {
		if a.DoctorID != doctorID || a.Date != d || a.SlotNumber != slot {
			continue
		}
		if !a.Status.Terminal() {
			out := a
			return &out, nil
		}
		if latestTerminal == nil || a.CreatedAt.After(latestTerminal.CreatedAt) {
			out := a
			latestTerminal = &out
		}
	}
	if latestTerminal != nil {
		return latestTerminal, nil
	}
	return nil, ErrAppointmentNotFound
}

func (m *mockRepo) ListActiveAppointments(ctx context.Context, doctorID uuid.UUID, d schedule.Date) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Date == d && !a.Status.Terminal() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) CountActiveAppointments(ctx context.Context, doctorID uuid.UUID, d schedule.Date) (int, error) {
	list, _ := m.ListActiveAppointments(ctx, doctorID, d)
	return len(list), nil
}

func (m *mockRepo) GetActiveByPatient(ctx context.Context, doctorID uuid.UUID, d schedule.Date, cnic string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Date == d && a.PatientCNIC == cnic && !a.Status.Terminal() {
			out := a
			return &out, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (m *mockRepo) HasAppointmentHistory(ctx context.Context, cnic string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.appointments {
		if a.PatientCNIC == cnic {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRepo) CreateAppointment(ctx context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !a.Status.Terminal() {
		for _, existing := range m.appointments {
			if existing.DoctorID == a.DoctorID && existing.Date == a.Date &&
				existing.SlotNumber == a.SlotNumber && !existing.Status.Terminal() {
				return ErrSlotKeyConflict
			}
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	m.seq++
	a.CreatedAt = time.Unix(m.seq, 0)
	a.UpdatedAt = a.CreatedAt
	m.appointments[a.ID] = *a
	return nil
}

func (m *mockRepo) UpdateAppointment(ctx context.Context, a *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.appointments[a.ID]; !ok {
		return ErrAppointmentNotFound
	}
	if !a.Status.Terminal() {
		for id, existing := range m.appointments {
			if id != a.ID && existing.DoctorID == a.DoctorID && existing.Date == a.Date &&
				existing.SlotNumber == a.SlotNumber && !existing.Status.Terminal() {
				return ErrSlotKeyConflict
			}
		}
	}
	a.UpdatedAt = time.Now()
	m.appointments[a.ID] = *a
	return nil
}

func (m *mockRepo) DeleteAppointment(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.appointments[id]; !ok {
		return ErrAppointmentNotFound
	}
	delete(m.appointments, id)
	return nil
}

func (m *mockRepo) CompareAndSetStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	m.appointments[id] = a
	return &a, nil
}

func (m *mockRepo) ListPastDueActive(ctx context.Context, today schedule.Date) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Appointment
	for _, a := range m.appointments {
		if !a.Status.Terminal() && a.Date.Before(today) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockRepo) InsertAudit(ctx context.Context, entry *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAudit {
		return errors.New("audit insert failed")
	}
	m.seq++
	entry.ID = m.seq
	entry.CreatedAt = time.Now()
	m.audits = append(m.audits, *entry)
	return nil
}

func (m *mockRepo) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.audits))
	for _, e := range m.audits {
		out = append(out, e.Action)
	}
	return out
}

func (m *mockRepo) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, a := range m.appointments {
		if !a.Status.Terminal() {
			n++
		}
	}
	return n
}

// Test fixture. The clock is pinned to a Thursday morning so Friday is a
// bookable weekday within the lookahead window.
var (
	testNow  = time.Date(2026, time.January, 15, 9, 0, 0, 0, time.UTC)
	tomorrow = schedule.Date{Year: 2026, Month: time.January, Day: 16}
)

func testSettings() Settings {
	weekdays, err := schedule.ParseWeekdays("Mon,Tue,Wed,Thu,Fri")
	if err != nil {
		panic(err)
	}
	return Settings{
		Grid: schedule.GridConfig{
			StartTime:   "15:00",
			EndTime:     "18:00",
			SlotMinutes: 15,
		},
		MaxPerDay:     10,
		CutoffMinutes: 60,
		LookaheadDays: 7,
		Weekdays:      weekdays,
		Location:      time.UTC,
	}
}

func newTestService(repo *mockRepo, settings Settings) *Service {
	svc := NewService(repo, redisclient.NoopLocker{}, nil, nil, settings, zerolog.Nop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func addDoctor(repo *mockRepo) uuid.UUID {
	id := uuid.New()
	repo.doctors[id] = Doctor{
		ID:             id,
		Name:           "Dr. Ayesha Khan",
		Designation:    "Consultant",
		Specialization: "Cardiology",
	}
	return id
}

func seedAppointment(repo *mockRepo, doctorID uuid.UUID, d schedule.Date, slot int, status AppointmentStatus, cnic string) uuid.UUID {
	grid, err := schedule.BuildGrid(testSettings().Grid)
	if err != nil {
		panic(err)
	}
	id := uuid.New()
	repo.seq++
	repo.appointments[id] = Appointment{
		ID:            id,
		DoctorID:      doctorID,
		PatientName:   "Seeded Patient",
		PatientCNIC:   cnic,
		PatientPhone:  "+923000000000",
		PatientEmail:  "seeded@example.com",
		Date:          d,
		SlotNumber:    slot,
		SlotStartTime: grid[slot-1].StartTime,
		SlotEndTime:   grid[slot-1].EndTime,
		Status:        status,
		CreatedAt:     time.Unix(repo.seq, 0),
		UpdatedAt:     time.Unix(repo.seq, 0),
	}
	return id
}

func validRequest(doctorID uuid.UUID) BookingRequest {
	return BookingRequest{
		DoctorID:      doctorID,
		Date:          tomorrow,
		SlotNumber:    1,
		PatientName:   "Hassan Raza",
		PatientCNIC:   "35202-1234567-1",
		PatientPhone:  "+923001234567",
		PatientEmail:  "hassan@example.com",
		EmailVerified: true,
	}
}
