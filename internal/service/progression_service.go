package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/config"
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/repository"
)

// Progression errors.
var (
	ErrDriveNotFound       = errors.New("drive not found")
	ErrEnrollmentNotFound  = errors.New("enrollment not found")
	ErrRoundNotFound       = errors.New("round not found")
	ErrEnrollmentForbidden = errors.New("enrollment belongs to another candidate")
	ErrRoundNotInDrive     = errors.New("round does not belong to the enrollment's drive")
	ErrRoundLocked         = errors.New("round is locked")
	ErrRoundReadOnly       = errors.New("round is already finished")
	ErrRoundNotStarted     = errors.New("round has not been started")
	ErrEnrollmentInactive  = errors.New("enrollment is not active")
	ErrWrongRoundKind      = errors.New("operation not supported for this round kind")
)

// AccessState is the policy answer to "may the candidate enter this round".
type AccessState string

const (
	AccessOpen     AccessState = "OPEN"
	AccessReadOnly AccessState = "READ_ONLY"
	AccessLocked   AccessState = "LOCKED"
)

// RoundView is one round as seen by a candidate.
type RoundView struct {
	Round    model.Round          `json:"round"`
	Access   AccessState          `json:"access"`
	Progress *model.RoundProgress `json:"progress,omitempty"`
}

// DriveProgress is the candidate's full view of an enrollment.
type DriveProgress struct {
	Enrollment model.Enrollment `json:"enrollment"`
	Rounds     []RoundView      `json:"rounds"`
}

// Outcome is the result of a completion or failure transition.
type Outcome struct {
	Enrollment model.Enrollment    `json:"enrollment"`
	Progress   model.RoundProgress `json:"progress"`
	Passed     bool                `json:"passed"`
	// Unchanged is true when the round was already in the requested state.
	Unchanged bool `json:"unchanged"`
}

// ProgressionService enforces forward-only, gated round progression.
type ProgressionService struct {
	rounds      RoundStore
	enrollments EnrollmentStore
	progress    ProgressStore
	policy      config.FailurePolicy
	passMark    float64
	log         zerolog.Logger
	now         func() time.Time
}

// NewProgressionService creates a new ProgressionService.
func NewProgressionService(
	rounds RoundStore,
	enrollments EnrollmentStore,
	progress ProgressStore,
	policy config.FailurePolicy,
	passMark float64,
	log zerolog.Logger,
) *ProgressionService {
	return &ProgressionService{
		rounds:      rounds,
		enrollments: enrollments,
		progress:    progress,
		policy:      policy,
		passMark:    passMark,
		log:         log.With().Str("component", "progression_service").Logger(),
		now:         time.Now,
	}
}

// Unlocked reports whether round number n may be entered:
// n ≤ max(currentRoundNumber, highestCompleted+1), or the drive is passed.
func Unlocked(e *model.Enrollment, rounds []model.Round, progress []model.RoundProgress, n int) bool {
	if e.OverallStatus == model.EnrollmentStatusPassed {
		return true
	}
	numbers := make(map[uuid.UUID]int, len(rounds))
	for _, r := range rounds {
		numbers[r.ID] = r.RoundNumber
	}
	highest := 0
	for _, p := range progress {
		if p.Status == model.ProgressStatusCompleted && numbers[p.RoundID] > highest {
			highest = numbers[p.RoundID]
		}
	}
	return n <= max(e.CurrentRoundNumber, highest+1)
}

// Accessibility classifies round for the candidate. It never fails: a
// locked round is a state, not an error.
func (s *ProgressionService) Accessibility(e *model.Enrollment, rounds []model.Round, progress []model.RoundProgress, round *model.Round) AccessState {
	if !Unlocked(e, rounds, progress, round.RoundNumber) {
		return AccessLocked
	}
	p := findProgress(progress, round.ID)
	switch {
	case p != nil && p.Status == model.ProgressStatusCompleted:
		return AccessReadOnly
	case e.OverallStatus != model.EnrollmentStatusActive:
		return AccessReadOnly
	case p != nil && p.Status == model.ProgressStatusFailed && s.policy != config.FailurePolicyRetry:
		return AccessReadOnly
	}
	return AccessOpen
}

// Enroll returns the candidate's enrollment in a drive, creating it on first use.
func (s *ProgressionService) Enroll(ctx context.Context, userID int, driveID uuid.UUID) (*model.Enrollment, error) {
	drive, err := s.rounds.GetDrive(ctx, driveID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDriveNotFound
		}
		return nil, fmt.Errorf("get drive: %w", err)
	}
	e, err := s.enrollments.GetOrCreate(ctx, userID, drive)
	if err != nil {
		return nil, fmt.Errorf("get or create enrollment: %w", err)
	}
	return e, nil
}

// DriveProgress returns the enrollment with every round's access state.
func (s *ProgressionService) DriveProgress(ctx context.Context, userID int, driveID uuid.UUID) (*DriveProgress, error) {
	e, err := s.enrollments.GetByUserAndDrive(ctx, userID, driveID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	rounds, err := s.rounds.ListRounds(ctx, e.DriveID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	progress, err := s.progress.ListByEnrollment(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}

	out := &DriveProgress{Enrollment: *e, Rounds: make([]RoundView, 0, len(rounds))}
	for i := range rounds {
		out.Rounds = append(out.Rounds, RoundView{
			Round:    rounds[i],
			Access:   s.Accessibility(e, rounds, progress, &rounds[i]),
			Progress: findProgress(progress, rounds[i].ID),
		})
	}
	return out, nil
}

// RoundAccess is the resolved context of one (enrollment, round) pair.
type RoundAccess struct {
	Enrollment *model.Enrollment
	Round      *model.Round
	Access     AccessState
	Progress   *model.RoundProgress
}

// CheckAccess loads the enrollment and round, verifies ownership and
// reports the access state. userID 0 skips the ownership check.
func (s *ProgressionService) CheckAccess(ctx context.Context, userID int, enrollmentID, roundID uuid.UUID) (*RoundAccess, error) {
	e, err := s.enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	if userID != 0 && e.UserID != userID {
		return nil, ErrEnrollmentForbidden
	}
	round, err := s.rounds.GetRound(ctx, roundID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("get round: %w", err)
	}
	if round.DriveID != e.DriveID {
		return nil, ErrRoundNotInDrive
	}
	rounds, err := s.rounds.ListRounds(ctx, e.DriveID)
	if err != nil {
		return nil, fmt.Errorf("list rounds: %w", err)
	}
	progress, err := s.progress.ListByEnrollment(ctx, e.ID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	return &RoundAccess{
		Enrollment: e,
		Round:      round,
		Access:     s.Accessibility(e, rounds, progress, round),
		Progress:   findProgress(progress, round.ID),
	}, nil
}

// GetOrInitializeProgress returns the progress row for the pair, creating
// it as PENDING on first use. Idempotent.
func (s *ProgressionService) GetOrInitializeProgress(ctx context.Context, enrollmentID, roundID uuid.UUID) (*model.RoundProgress, error) {
	p, err := s.progress.GetOrInit(ctx, enrollmentID, roundID)
	if err != nil {
		return nil, fmt.Errorf("get or init progress: %w", err)
	}
	return p, nil
}

// Begin moves a round from PENDING to IN_PROGRESS. Beginning an
// IN_PROGRESS round is a no-op; a FAILED round restarts only under the
// retry policy.
func (s *ProgressionService) Begin(ctx context.Context, userID int, enrollmentID, roundID uuid.UUID) (*model.RoundProgress, error) {
	var out model.RoundProgress
	err := s.progress.Transition(ctx, enrollmentID, roundID, func(t *repository.Transition) error {
		round, err := s.guard(t, userID, roundID)
		if err != nil {
			return err
		}
		if t.Enrollment.OverallStatus != model.EnrollmentStatusActive {
			return ErrEnrollmentInactive
		}

		p := t.Progress
		now := s.now()
		switch p.Status {
		case model.ProgressStatusPending:
			p.Status = model.ProgressStatusInProgress
			p.StartedAt = &now
		case model.ProgressStatusInProgress:
		case model.ProgressStatusCompleted:
			return ErrRoundReadOnly
		case model.ProgressStatusFailed:
			if s.policy != config.FailurePolicyRetry {
				return ErrRoundReadOnly
			}
			p.Status = model.ProgressStatusInProgress
			p.Score = nil
			p.AggregateFeedback = nil
			p.StartedAt = &now
			p.CompletedAt = nil
			t.ResetInteractions = round.Kind.IsInterview()
		}
		out = *p
		return nil
	})
	if err != nil {
		return nil, s.mapStoreErr(err)
	}

	s.log.Info().
		Str("enrollment_id", enrollmentID.String()).
		Str("round_id", roundID.String()).
		Str("status", string(out.Status)).
		Msg("Round begun")
	return &out, nil
}

// Complete marks a round COMPLETED and advances the enrollment. Completing
// an already completed round is a no-op that reports Unchanged.
func (s *ProgressionService) Complete(ctx context.Context, enrollmentID, roundID uuid.UUID, score float64, feedback *string) (*Outcome, error) {
	var out Outcome
	err := s.progress.Transition(ctx, enrollmentID, roundID, func(t *repository.Transition) error {
		round, err := s.guard(t, 0, roundID)
		if err != nil {
			return err
		}
		switch t.Progress.Status {
		case model.ProgressStatusCompleted:
			out = Outcome{Enrollment: *t.Enrollment, Progress: *t.Progress, Passed: true, Unchanged: true}
			return nil
		case model.ProgressStatusFailed:
			return ErrRoundReadOnly
		}
		s.applyComplete(t, round, score, feedback)
		out = Outcome{Enrollment: *t.Enrollment, Progress: *t.Progress, Passed: true}
		return nil
	})
	if err != nil {
		return nil, s.mapStoreErr(err)
	}

	if !out.Unchanged {
		s.log.Info().
			Str("enrollment_id", enrollmentID.String()).
			Str("round_id", roundID.String()).
			Float64("score", score).
			Int("current_round", out.Enrollment.CurrentRoundNumber).
			Str("overall_status", string(out.Enrollment.OverallStatus)).
			Msg("Round completed")
	}
	return &out, nil
}

// Fail marks a round FAILED. Under the block policy the enrollment fails
// too; under retry it stays active.
func (s *ProgressionService) Fail(ctx context.Context, enrollmentID, roundID uuid.UUID, score *float64, feedback *string) (*Outcome, error) {
	var out Outcome
	err := s.progress.Transition(ctx, enrollmentID, roundID, func(t *repository.Transition) error {
		if _, err := s.guard(t, 0, roundID); err != nil {
			return err
		}
		switch t.Progress.Status {
		case model.ProgressStatusFailed:
			out = Outcome{Enrollment: *t.Enrollment, Progress: *t.Progress, Unchanged: true}
			return nil
		case model.ProgressStatusCompleted:
			return ErrRoundReadOnly
		}
		s.applyFail(t, score, feedback)
		out = Outcome{Enrollment: *t.Enrollment, Progress: *t.Progress}
		return nil
	})
	if err != nil {
		return nil, s.mapStoreErr(err)
	}

	if !out.Unchanged {
		s.log.Info().
			Str("enrollment_id", enrollmentID.String()).
			Str("round_id", roundID.String()).
			Str("policy", string(s.policy)).
			Str("overall_status", string(out.Enrollment.OverallStatus)).
			Msg("Round failed")
	}
	return &out, nil
}

// Submit finishes a choice-test or coding round from its raw result. The
// round passes when the percentage reaches the pass mark.
func (s *ProgressionService) Submit(ctx context.Context, userID int, enrollmentID, roundID uuid.UUID, correct, total int) (*Outcome, error) {
	if total <= 0 || correct < 0 || correct > total {
		return nil, fmt.Errorf("invalid result %d/%d", correct, total)
	}
	score := math.Round(float64(correct)/float64(total)*10000) / 100
	feedback := fmt.Sprintf(`{"correct":%d,"total":%d}`, correct, total)

	var out Outcome
	err := s.progress.Transition(ctx, enrollmentID, roundID, func(t *repository.Transition) error {
		round, err := s.guard(t, userID, roundID)
		if err != nil {
			return err
		}
		if round.Kind.IsInterview() {
			return ErrWrongRoundKind
		}
		switch t.Progress.Status {
		case model.ProgressStatusPending:
			return ErrRoundNotStarted
		case model.ProgressStatusCompleted, model.ProgressStatusFailed:
			return ErrRoundReadOnly
		}

		if score >= s.passMark {
			s.applyComplete(t, round, score, &feedback)
			out = Outcome{Enrollment: *t.Enrollment, Progress: *t.Progress, Passed: true}
		} else {
			s.applyFail(t, &score, &feedback)
			out = Outcome{Enrollment: *t.Enrollment, Progress: *t.Progress}
		}
		return nil
	})
	if err != nil {
		return nil, s.mapStoreErr(err)
	}

	s.log.Info().
		Str("enrollment_id", enrollmentID.String()).
		Str("round_id", roundID.String()).
		Float64("score", score).
		Bool("passed", out.Passed).
		Msg("Round submitted")
	return &out, nil
}

// guard resolves the round inside a transition and enforces ownership and
// gating. userID 0 skips the ownership check.
func (s *ProgressionService) guard(t *repository.Transition, userID int, roundID uuid.UUID) (*model.Round, error) {
	if userID != 0 && t.Enrollment.UserID != userID {
		return nil, ErrEnrollmentForbidden
	}
	round := findRound(t.Rounds, roundID)
	if round == nil {
		return nil, ErrRoundNotInDrive
	}
	if !Unlocked(t.Enrollment, t.Rounds, allProgress(t), round.RoundNumber) {
		return nil, ErrRoundLocked
	}
	return round, nil
}

func (s *ProgressionService) applyComplete(t *repository.Transition, round *model.Round, score float64, feedback *string) {
	now := s.now()
	p := t.Progress
	p.Status = model.ProgressStatusCompleted
	p.Score = &score
	p.AggregateFeedback = feedback
	if p.StartedAt == nil {
		p.StartedAt = &now
	}
	p.CompletedAt = &now
	advanceEnrollment(t, round)
}

func (s *ProgressionService) applyFail(t *repository.Transition, score *float64, feedback *string) {
	now := s.now()
	p := t.Progress
	p.Status = model.ProgressStatusFailed
	p.Score = score
	p.AggregateFeedback = feedback
	if p.StartedAt == nil {
		p.StartedAt = &now
	}
	p.CompletedAt = &now
	if s.policy == config.FailurePolicyBlock && t.Enrollment.OverallStatus == model.EnrollmentStatusActive {
		t.Enrollment.OverallStatus = model.EnrollmentStatusFailed
	}
}

func (s *ProgressionService) mapStoreErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrEnrollmentNotFound
	}
	return err
}

// advanceEnrollment moves the round pointer past round (never backwards),
// passes the drive after its last round and refreshes the running score.
func advanceEnrollment(t *repository.Transition, round *model.Round) {
	e := t.Enrollment
	if e.OverallStatus == model.EnrollmentStatusActive {
		last := 0
		for _, r := range t.Rounds {
			last = max(last, r.RoundNumber)
		}
		if round.RoundNumber >= last {
			e.OverallStatus = model.EnrollmentStatusPassed
		} else {
			e.CurrentRoundNumber = max(e.CurrentRoundNumber, round.RoundNumber+1)
		}
	}

	var sum float64
	var n int
	for _, p := range allProgress(t) {
		if p.Status == model.ProgressStatusCompleted && p.Score != nil {
			sum += *p.Score
			n++
		}
	}
	if n > 0 {
		e.OverallScore = math.Round(sum/float64(n)*100) / 100
	}
}

func allProgress(t *repository.Transition) []model.RoundProgress {
	out := make([]model.RoundProgress, 0, len(t.Others)+1)
	out = append(out, t.Others...)
	return append(out, *t.Progress)
}

func findRound(rounds []model.Round, id uuid.UUID) *model.Round {
	for i := range rounds {
		if rounds[i].ID == id {
			return &rounds[i]
		}
	}
	return nil
}

func findProgress(progress []model.RoundProgress, roundID uuid.UUID) *model.RoundProgress {
	for i := range progress {
		if progress[i].RoundID == roundID {
			return &progress[i]
		}
	}
	return nil
}
