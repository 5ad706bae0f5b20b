package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stemsi/mockdrive-backend/internal/config"
	"github.com/stemsi/mockdrive-backend/internal/model"
)

var fourRounds = []model.RoundKind{
	model.RoundKindChoiceTest,
	model.RoundKindCoding,
	model.RoundKindTechInterview,
	model.RoundKindHRInterview,
}

func TestUnlocked(t *testing.T) {
	f := newFixture(fourRounds...)
	completed := func(i int) model.RoundProgress {
		return model.RoundProgress{RoundID: f.rounds[i].ID, Status: model.ProgressStatusCompleted}
	}

	tests := []struct {
		name     string
		status   model.EnrollmentStatus
		current  int
		progress []model.RoundProgress
		round    int
		want     bool
	}{
		{"first round always open", model.EnrollmentStatusActive, 1, nil, 1, true},
		{"second round locked", model.EnrollmentStatusActive, 1, nil, 2, false},
		{"pointer unlocks", model.EnrollmentStatusActive, 3, nil, 3, true},
		{"completed unlocks next", model.EnrollmentStatusActive, 1, []model.RoundProgress{completed(0), completed(1)}, 3, true},
		{"no skipping ahead", model.EnrollmentStatusActive, 2, []model.RoundProgress{completed(0)}, 4, false},
		{"passed drive opens all", model.EnrollmentStatusPassed, 1, nil, 4, true},
		{"failed drive keeps gating", model.EnrollmentStatusFailed, 2, nil, 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &model.Enrollment{OverallStatus: tt.status, CurrentRoundNumber: tt.current}
			if got := Unlocked(e, f.rounds, tt.progress, tt.round); got != tt.want {
				t.Errorf("Unlocked() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccessibility(t *testing.T) {
	f := newFixture(fourRounds...)
	r1 := &f.rounds[0]

	tests := []struct {
		name     string
		policy   config.FailurePolicy
		status   model.EnrollmentStatus
		progress *model.ProgressStatus
		round    *model.Round
		want     AccessState
	}{
		{"fresh round", config.FailurePolicyBlock, model.EnrollmentStatusActive, nil, r1, AccessOpen},
		{"locked round", config.FailurePolicyBlock, model.EnrollmentStatusActive, nil, &f.rounds[1], AccessLocked},
		{"completed is read only", config.FailurePolicyBlock, model.EnrollmentStatusActive, ptr(model.ProgressStatusCompleted), r1, AccessReadOnly},
		{"failed under block", config.FailurePolicyBlock, model.EnrollmentStatusFailed, ptr(model.ProgressStatusFailed), r1, AccessReadOnly},
		{"failed under retry", config.FailurePolicyRetry, model.EnrollmentStatusActive, ptr(model.ProgressStatusFailed), r1, AccessOpen},
		{"in progress", config.FailurePolicyBlock, model.EnrollmentStatusActive, ptr(model.ProgressStatusInProgress), r1, AccessOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := f.progression(tt.policy)
			e := &model.Enrollment{OverallStatus: tt.status, CurrentRoundNumber: 1}
			var progress []model.RoundProgress
			if tt.progress != nil {
				progress = append(progress, model.RoundProgress{RoundID: tt.round.ID, Status: *tt.progress})
			}
			if got := ps.Accessibility(e, f.rounds, progress, tt.round); got != tt.want {
				t.Errorf("Accessibility() = %s, want %s", got, tt.want)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestEnroll_Idempotent(t *testing.T) {
	f := newFixture(fourRounds...)
	ps := f.progression(config.FailurePolicyBlock)

	a := f.enroll(t, ps)
	b := f.enroll(t, ps)
	if a.ID != b.ID {
		t.Fatalf("second Enroll() created a new enrollment")
	}
	if a.CurrentRoundNumber != 1 || a.OverallStatus != model.EnrollmentStatusActive || a.SubjectName != "Acme Corp" {
		t.Errorf("enrollment = %+v", a)
	}

	if _, err := ps.Enroll(context.Background(), f.userID, uuid.New()); !errors.Is(err, ErrDriveNotFound) {
		t.Errorf("unknown drive error = %v, want ErrDriveNotFound", err)
	}
}

func TestBegin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(fourRounds...)
	ps := f.progression(config.FailurePolicyBlock)
	e := f.enroll(t, ps)

	p, err := ps.Begin(ctx, f.userID, e.ID, f.rounds[0].ID)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if p.Status != model.ProgressStatusInProgress || p.StartedAt == nil {
		t.Errorf("progress = %+v", p)
	}

	again, err := ps.Begin(ctx, f.userID, e.ID, f.rounds[0].ID)
	if err != nil || again.ID != p.ID || !again.StartedAt.Equal(*p.StartedAt) {
		t.Errorf("second Begin() = %+v, %v", again, err)
	}

	if _, err := ps.Begin(ctx, f.userID, e.ID, f.rounds[1].ID); !errors.Is(err, ErrRoundLocked) {
		t.Errorf("Begin(locked) error = %v, want ErrRoundLocked", err)
	}
	if _, err := ps.Begin(ctx, f.userID+1, e.ID, f.rounds[0].ID); !errors.Is(err, ErrEnrollmentForbidden) {
		t.Errorf("Begin(other user) error = %v, want ErrEnrollmentForbidden", err)
	}
	if _, err := ps.Begin(ctx, f.userID, uuid.New(), f.rounds[0].ID); !errors.Is(err, ErrEnrollmentNotFound) {
		t.Errorf("Begin(unknown enrollment) error = %v, want ErrEnrollmentNotFound", err)
	}
}

func TestGetOrInitializeProgress_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(fourRounds...)
	ps := f.progression(config.FailurePolicyBlock)
	e := f.enroll(t, ps)

	a, err := ps.GetOrInitializeProgress(ctx, e.ID, f.rounds[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := ps.GetOrInitializeProgress(ctx, e.ID, f.rounds[0].ID)
	if a.ID != b.ID || a.Status != model.ProgressStatusPending {
		t.Errorf("got %+v and %+v", a, b)
	}
}

func TestComplete_AdvancesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(fourRounds...)
	ps := f.progression(config.FailurePolicyBlock)
	e := f.enroll(t, ps)

	out, err := ps.Complete(ctx, e.ID, f.rounds[0].ID, 80, nil)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if out.Unchanged || out.Enrollment.CurrentRoundNumber != 2 || out.Enrollment.OverallScore != 80 {
		t.Errorf("outcome = %+v", out)
	}

	again, err := ps.Complete(ctx, e.ID, f.rounds[0].ID, 10, nil)
	if err != nil {
		t.Fatalf("second Complete() error = %v", err)
	}
	if !again.Unchanged || *again.Progress.Score != 80 {
		t.Errorf("second completion should be a no-op, got %+v", again)
	}
	if got := f.store.enrollment(t, e.ID).CurrentRoundNumber; got != 2 {
		t.Errorf("CurrentRoundNumber = %d, want 2", got)
	}

	// The next round's progress is not created eagerly.
	if rows, _ := f.store.ListByEnrollment(ctx, e.ID); len(rows) != 1 {
		t.Errorf("progress rows = %d, want 1", len(rows))
	}
}

func TestComplete_Concurrent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(fourRounds...)
	ps := f.progression(config.FailurePolicyBlock)
	e := f.enroll(t, ps)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := ps.Complete(ctx, e.ID, f.rounds[0].ID, 90, nil)
			if err != nil {
				t.Errorf("Complete() error = %v", err)
				return
			}
			if !out.Unchanged {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if changed != 1 {
		t.Errorf("%d completions took effect, want 1", changed)
	}
	if got := f.store.enrollment(t, e.ID).CurrentRoundNumber; got != 2 {
		t.Errorf("CurrentRoundNumber = %d, want 2", got)
	}
}

func TestComplete_LastRoundPassesDrive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(fourRounds...)
	ps := f.progression(config.FailurePolicyBlock)
	e := f.enroll(t, ps)

	scores := []float64{70, 80, 90, 100}
	for i, r := range f.rounds {
		if _, err := ps.Complete(ctx, e.ID, r.ID, scores[i], nil); err != nil {
			t.Fatalf("Complete(round %d) error = %v", i+1, err)
		}
	}

	got := f.store.enrollment(t, e.ID)
	if got.OverallStatus != model.EnrollmentStatusPassed {
		t.Errorf("OverallStatus = %s, want PASSED", got.OverallStatus)
	}
	if got.CurrentRoundNumber != 4 {
		t.Errorf("CurrentRoundNumber = %d, want 4", got.CurrentRoundNumber)
	}
	if got.OverallScore != 85 {
		t.Errorf("OverallScore = %v, want 85", got.OverallScore)
	}
}

func TestComplete_LockedRound(t *testing.T) {
	f := newFixture(fourRounds...)
	ps := f.progression(config.FailurePolicyBlock)
	e := f.enroll(t, ps)

	if _, err := ps.Complete(context.Background(), e.ID, f.rounds[2].ID, 100, nil); !errors.Is(err, ErrRoundLocked) {
		t.Errorf("Complete(locked) error = %v, want ErrRoundLocked", err)
	}
}

func TestFail_BlockPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(fourRounds...)
	ps := f.progression(config.FailurePolicyBlock)
	e := f.enroll(t, ps)
	r1 := f.rounds[0].ID

	if _, err := ps.Begin(ctx, f.userID, e.ID, r1); err != nil {
		t.Fatal(err)
	}
	out, err := ps.Fail(ctx, e.ID, r1, nil, nil)
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if out.Passed || out.Progress.Status != model.ProgressStatusFailed {
		t.Errorf("outcome = %+v", out)
	}
	if out.Enrollment.OverallStatus != model.EnrollmentStatusFailed {
		t.Errorf("OverallStatus = %s, want FAILED", out.Enrollment.OverallStatus)
	}

	if _, err := ps.Begin(ctx, f.userID, e.ID, r1); !errors.Is(err, ErrEnrollmentInactive) {
		t.Errorf("Begin after block failure error = %v, want ErrEnrollmentInactive", err)
	}
	if _, err := ps.Complete(ctx, e.ID, r1, 100, nil); !errors.Is(err, ErrRoundReadOnly) {
		t.Errorf("Complete after Fail error = %v, want ErrRoundReadOnly", err)
	}

	again, err := ps.Fail(ctx, e.ID, r1, nil, nil)
	if err != nil || !again.Unchanged {
		t.Errorf("second Fail() = %+v, %v", again, err)
	}
}

func TestFail_RetryPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(model.RoundKindTechInterview, model.RoundKindHRInterview)
	ps := f.progression(config.FailurePolicyRetry)
	e := f.enroll(t, ps)
	r1 := f.rounds[0].ID

	p, err := ps.Begin(ctx, f.userID, e.ID, r1)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Create(ctx, &model.Interaction{RoundProgressID: p.ID, OrderIndex: 1, QuestionText: "Q?"}); err != nil {
		t.Fatal(err)
	}

	out, err := ps.Fail(ctx, e.ID, r1, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if out.Enrollment.OverallStatus != model.EnrollmentStatusActive {
		t.Errorf("OverallStatus = %s, want ACTIVE", out.Enrollment.OverallStatus)
	}

	restarted, err := ps.Begin(ctx, f.userID, e.ID, r1)
	if err != nil {
		t.Fatalf("Begin after retry-policy failure error = %v", err)
	}
	if restarted.Status != model.ProgressStatusInProgress || restarted.CompletedAt != nil {
		t.Errorf("restarted = %+v", restarted)
	}
	if n := f.store.countInteractions(p.ID); n != 0 {
		t.Errorf("interactions after restart = %d, want 0", n)
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		correct    int
		total      int
		wantPassed bool
		wantScore  float64
	}{
		{"at pass mark", 7, 10, true, 70},
		{"below pass mark", 6, 10, false, 60},
		{"fraction rounds", 2, 3, false, 66.67},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(fourRounds...)
			ps := f.progression(config.FailurePolicyBlock)
			e := f.enroll(t, ps)
			r1 := f.rounds[0].ID

			if _, err := ps.Submit(ctx, f.userID, e.ID, r1, tt.correct, tt.total); !errors.Is(err, ErrRoundNotStarted) {
				t.Fatalf("Submit before Begin error = %v, want ErrRoundNotStarted", err)
			}
			if _, err := ps.Begin(ctx, f.userID, e.ID, r1); err != nil {
				t.Fatal(err)
			}
			out, err := ps.Submit(ctx, f.userID, e.ID, r1, tt.correct, tt.total)
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			if out.Passed != tt.wantPassed || *out.Progress.Score != tt.wantScore {
				t.Errorf("outcome passed=%v score=%v, want %v %v", out.Passed, *out.Progress.Score, tt.wantPassed, tt.wantScore)
			}
			if _, err := ps.Submit(ctx, f.userID, e.ID, r1, tt.correct, tt.total); !errors.Is(err, ErrRoundReadOnly) {
				t.Errorf("second Submit error = %v, want ErrRoundReadOnly", err)
			}
		})
	}
}

func TestSubmit_InterviewRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(model.RoundKindTechInterview)
	ps := f.progression(config.FailurePolicyBlock)
	e := f.enroll(t, ps)

	if _, err := ps.Begin(ctx, f.userID, e.ID, f.rounds[0].ID); err != nil {
		t.Fatal(err)
	}
	if _, err := ps.Submit(ctx, f.userID, e.ID, f.rounds[0].ID, 1, 1); !errors.Is(err, ErrWrongRoundKind) {
		t.Errorf("Submit(interview) error = %v, want ErrWrongRoundKind", err)
	}
}

func TestDriveProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(fourRounds...)
	ps := f.progression(config.FailurePolicyBlock)
	e := f.enroll(t, ps)

	if _, err := ps.Complete(ctx, e.ID, f.rounds[0].ID, 75, nil); err != nil {
		t.Fatal(err)
	}

	dp, err := ps.DriveProgress(ctx, f.userID, f.drive.ID)
	if err != nil {
		t.Fatalf("DriveProgress() error = %v", err)
	}
	want := []AccessState{AccessReadOnly, AccessOpen, AccessLocked, AccessLocked}
	if len(dp.Rounds) != len(want) {
		t.Fatalf("rounds = %d, want %d", len(dp.Rounds), len(want))
	}
	for i, rv := range dp.Rounds {
		if rv.Access != want[i] {
			t.Errorf("round %d access = %s, want %s", i+1, rv.Access, want[i])
		}
	}
	if dp.Rounds[0].Progress == nil || dp.Rounds[1].Progress != nil {
		t.Errorf("progress attached to wrong rounds")
	}
}
