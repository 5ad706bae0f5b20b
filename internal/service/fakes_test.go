package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/config"
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/repository"
)

// memStore is an in-memory implementation of every store interface.
// Transition holds txMu for the whole callback, standing in for row locks.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	drives       map[uuid.UUID]model.Drive
	rounds       []model.Round
	enrollments  map[uuid.UUID]model.Enrollment
	progress     map[uuid.UUID]model.RoundProgress
	interactions []model.Interaction
}

func newMemStore() *memStore {
	return &memStore{
		drives:      make(map[uuid.UUID]model.Drive),
		enrollments: make(map[uuid.UUID]model.Enrollment),
		progress:    make(map[uuid.UUID]model.RoundProgress),
	}
}

func (m *memStore) GetDrive(_ context.Context, id uuid.UUID) (*model.Drive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drives[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &d, nil
}

func (m *memStore) ListRounds(_ context.Context, driveID uuid.UUID) ([]model.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roundsOf(driveID), nil
}

func (m *memStore) roundsOf(driveID uuid.UUID) []model.Round {
	var out []model.Round
	for _, r := range m.rounds {
		if r.DriveID == driveID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b model.Round) int { return a.RoundNumber - b.RoundNumber })
	return out
}

func (m *memStore) GetRound(_ context.Context, id uuid.UUID) (*model.Round, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rounds {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memStore) GetOrCreate(_ context.Context, userID int, drive *model.Drive) (*model.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.UserID == userID && e.DriveID == drive.ID {
			return &e, nil
		}
	}
	e := model.Enrollment{
		ID:                 uuid.New(),
		DriveID:            drive.ID,
		UserID:             userID,
		SubjectName:        drive.CompanyName,
		OverallStatus:      model.EnrollmentStatusActive,
		CurrentRoundNumber: 1,
	}
	m.enrollments[e.ID] = e
	return &e, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*model.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &e, nil
}

func (m *memStore) GetByUserAndDrive(_ context.Context, userID int, driveID uuid.UUID) (*model.Enrollment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.enrollments {
		if e.UserID == userID && e.DriveID == driveID {
			return &e, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memStore) ListByEnrollment(_ context.Context, enrollmentID uuid.UUID) ([]model.RoundProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.progressOf(enrollmentID, uuid.Nil), nil
}

func (m *memStore) progressOf(enrollmentID, except uuid.UUID) []model.RoundProgress {
	var out []model.RoundProgress
	for _, p := range m.progress {
		if p.EnrollmentID == enrollmentID && p.RoundID != except {
			out = append(out, p)
		}
	}
	return out
}

func (m *memStore) findProgress(enrollmentID, roundID uuid.UUID) (model.RoundProgress, bool) {
	for _, p := range m.progress {
		if p.EnrollmentID == enrollmentID && p.RoundID == roundID {
			return p, true
		}
	}
	return model.RoundProgress{}, false
}

func (m *memStore) GetOrInit(_ context.Context, enrollmentID, roundID uuid.UUID) (*model.RoundProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrInit(enrollmentID, roundID), nil
}

func (m *memStore) getOrInit(enrollmentID, roundID uuid.UUID) *model.RoundProgress {
	if p, ok := m.findProgress(enrollmentID, roundID); ok {
		return &p
	}
	p := model.RoundProgress{
		ID:           uuid.New(),
		EnrollmentID: enrollmentID,
		RoundID:      roundID,
		Status:       model.ProgressStatusPending,
	}
	m.progress[p.ID] = p
	return &p
}

func (m *memStore) Transition(_ context.Context, enrollmentID, roundID uuid.UUID, fn repository.TransitionFunc) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	e, ok := m.enrollments[enrollmentID]
	if !ok {
		m.mu.Unlock()
		return pgx.ErrNoRows
	}
	t := &repository.Transition{
		Enrollment: &e,
		Progress:   m.getOrInit(enrollmentID, roundID),
		Rounds:     m.roundsOf(e.DriveID),
		Others:     m.progressOf(enrollmentID, roundID),
	}
	m.mu.Unlock()

	if err := fn(t); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ResetInteractions {
		m.interactions = slices.DeleteFunc(m.interactions, func(it model.Interaction) bool {
			return it.RoundProgressID == t.Progress.ID
		})
	}
	m.progress[t.Progress.ID] = *t.Progress
	m.enrollments[e.ID] = *t.Enrollment
	return nil
}

func (m *memStore) List(_ context.Context, progressID uuid.UUID) ([]model.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Interaction
	for _, it := range m.interactions {
		if it.RoundProgressID == progressID {
			out = append(out, it)
		}
	}
	slices.SortFunc(out, func(a, b model.Interaction) int { return a.OrderIndex - b.OrderIndex })
	return out, nil
}

func (m *memStore) Create(_ context.Context, it *model.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.interactions {
		if other.RoundProgressID != it.RoundProgressID {
			continue
		}
		if other.OrderIndex == it.OrderIndex || other.AnswerText == nil {
			return repository.ErrDuplicate
		}
	}
	it.ID = uuid.New()
	it.CreatedAt = time.Now()
	m.interactions = append(m.interactions, *it)
	return nil
}

func (m *memStore) Claim(_ context.Context, id uuid.UUID, answer string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.interactions {
		if m.interactions[i].ID == id {
			if m.interactions[i].AnswerText != nil {
				return false, nil
			}
			m.interactions[i].AnswerText = &answer
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) Score(_ context.Context, id uuid.UUID, score float64, feedback string, sentiment model.Sentiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.interactions {
		if m.interactions[i].ID == id {
			m.interactions[i].TurnScore = &score
			m.interactions[i].TurnFeedback = &feedback
			m.interactions[i].Sentiment = &sentiment
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (m *memStore) progressFor(t *testing.T, enrollmentID, roundID uuid.UUID) model.RoundProgress {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.findProgress(enrollmentID, roundID)
	if !ok {
		t.Fatalf("no progress for round %s", roundID)
	}
	return p
}

func (m *memStore) enrollment(t *testing.T, id uuid.UUID) model.Enrollment {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.enrollments[id]
	if !ok {
		t.Fatalf("no enrollment %s", id)
	}
	return e
}

func (m *memStore) countInteractions(progressID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.interactions {
		if it.RoundProgressID == progressID {
			n++
		}
	}
	return n
}

// fixture is a drive with one round per kind given, in order.
type fixture struct {
	store  *memStore
	drive  model.Drive
	rounds []model.Round
	userID int
}

func newFixture(kinds ...model.RoundKind) *fixture {
	s := newMemStore()
	d := model.Drive{ID: uuid.New(), CompanyName: "Acme Corp", Title: "Campus Drive"}
	s.drives[d.ID] = d
	f := &fixture{store: s, drive: d, userID: 42}
	for i, k := range kinds {
		r := model.Round{
			ID:          uuid.New(),
			DriveID:     d.ID,
			RoundNumber: i + 1,
			Kind:        k,
			Title:       fmt.Sprintf("Round %d", i+1),
		}
		s.rounds = append(s.rounds, r)
		f.rounds = append(f.rounds, r)
	}
	return f
}

func (f *fixture) withMetadata(i int, md string) *fixture {
	f.store.rounds[i].Metadata = []byte(md)
	f.rounds[i].Metadata = []byte(md)
	return f
}

func (f *fixture) progression(policy config.FailurePolicy) *ProgressionService {
	return NewProgressionService(f.store, f.store, f.store, policy, 70, zerolog.Nop())
}

func (f *fixture) enroll(t *testing.T, ps *ProgressionService) *model.Enrollment {
	t.Helper()
	e, err := ps.Enroll(context.Background(), f.userID, f.drive.ID)
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}
	return e
}

// fakeOracle answers by prompt kind.
type fakeOracle struct {
	mu    sync.Mutex
	calls []string

	question func(n int) (string, error)
	score    func(answer string) (string, error)
	evaluate func() (string, error)
}

func (o *fakeOracle) Generate(_ context.Context, prompt string) (string, error) {
	o.mu.Lock()
	o.calls = append(o.calls, prompt)
	n := len(o.calls)
	o.mu.Unlock()

	switch {
	case strings.Contains(prompt, "Candidate Answer:"):
		if o.score == nil {
			return `{"score": 8, "feedback": "Solid.", "sentiment": "POSITIVE"}`, nil
		}
		answer := prompt[strings.Index(prompt, "Candidate Answer: ")+len("Candidate Answer: "):]
		answer = answer[:strings.Index(answer, "\n")]
		return o.score(answer)
	case strings.Contains(prompt, "Evaluate the candidate's performance"):
		if o.evaluate == nil {
			return "", fmt.Errorf("no evaluation configured")
		}
		return o.evaluate()
	default:
		if o.question == nil {
			return fmt.Sprintf("Question %d?", n), nil
		}
		return o.question(n)
	}
}

func (o *fakeOracle) callCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

func failingOracle() *fakeOracle {
	err := func() (string, error) { return "", context.DeadlineExceeded }
	return &fakeOracle{
		question: func(int) (string, error) { return err() },
		score:    func(string) (string, error) { return err() },
		evaluate: err,
	}
}
