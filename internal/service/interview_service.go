package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/oracle"
	"github.com/stemsi/mockdrive-backend/internal/repository"
)

// Interview errors.
var (
	ErrMissingIdentifiers = errors.New("enrollment_id and round_id are required")
	ErrInvalidTurnState   = errors.New("interview is not in a state that accepts this request")
)

// Defaults substituted when the oracle fails or replies with garbage.
const (
	DefaultTurnScore    = 5.0
	DefaultTurnFeedback = "Good attempt."
	DefaultMaxTurns     = 20
)

var (
	fallbackOpening = map[bool]string{
		false: "Tell me about a recent project you worked on and the main technical decisions you made.",
		true:  "Tell me about yourself and why you are interested in this role.",
	}
	fallbackFollowUp = map[bool]string{
		false: "How would you approach debugging a problem you have never seen before?",
		true:  "Describe a time you worked through a disagreement with a teammate.",
	}
)

// TurnRequest is one call into the interview turn engine.
type TurnRequest struct {
	UserID       int
	EnrollmentID uuid.UUID
	RoundID      uuid.UUID
	AnswerText   *string
	Difficulty   model.Difficulty
	// QuestionIndex is the order index the client believes is pending.
	// An answer for a stale index is treated as a Resume.
	QuestionIndex *int
}

// TurnResult is the engine's reply.
type TurnResult struct {
	Question   *string `json:"question"`
	Feedback   *string `json:"feedback"`
	IsComplete bool    `json:"is_complete"`
	// Processing is true while a concurrent request is still scoring the
	// answer this request tried to submit.
	Processing bool `json:"processing"`
}

// TurnScore is the oracle's assessment of one answer.
type TurnScore struct {
	Score     float64         `json:"score"`
	Feedback  string          `json:"feedback"`
	Sentiment model.Sentiment `json:"sentiment"`
}

type scoreReply struct {
	Score     *float64 `json:"score"`
	Feedback  string   `json:"feedback"`
	Sentiment string   `json:"sentiment"`
}

// InterviewService runs interview rounds turn by turn. It keeps no state
// between calls: every turn is decided from the persisted interactions.
type InterviewService struct {
	progression     *ProgressionService
	interactions    InteractionStore
	oracle          oracle.Oracle
	evaluator       *EvaluationService
	defaultMaxTurns int
	log             zerolog.Logger

	// inflight holds the ids of interactions whose turn this instance is
	// currently carrying past the claim.
	inflight sync.Map
}

// NewInterviewService creates a new InterviewService.
func NewInterviewService(
	progression *ProgressionService,
	interactions InteractionStore,
	o oracle.Oracle,
	evaluator *EvaluationService,
	defaultMaxTurns int,
	log zerolog.Logger,
) *InterviewService {
	if defaultMaxTurns < 1 {
		defaultMaxTurns = DefaultMaxTurns
	}
	return &InterviewService{
		progression:     progression,
		interactions:    interactions,
		oracle:          o,
		evaluator:       evaluator,
		defaultMaxTurns: defaultMaxTurns,
		log:             log.With().Str("component", "interview_service").Logger(),
	}
}

// MaxTurns resolves the turn cap of a round.
func (s *InterviewService) MaxTurns(md model.RoundMetadata) int {
	switch {
	case md.MaxTurns > 0:
		return md.MaxTurns
	case md.MaxQuestions > 0:
		return md.MaxQuestions
	}
	return s.defaultMaxTurns
}

// Turn applies exactly one of Start, Answer or Resume.
func (s *InterviewService) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.EnrollmentID == uuid.Nil || req.RoundID == uuid.Nil {
		return nil, ErrMissingIdentifiers
	}

	ra, err := s.progression.CheckAccess(ctx, req.UserID, req.EnrollmentID, req.RoundID)
	if err != nil {
		return nil, err
	}
	if !ra.Round.Kind.IsInterview() {
		return nil, ErrWrongRoundKind
	}

	progress := ra.Progress
	switch {
	case ra.Access == AccessLocked:
		return nil, ErrRoundLocked
	case progress != nil && progress.Status == model.ProgressStatusCompleted:
		return &TurnResult{IsComplete: true}, nil
	case ra.Access == AccessReadOnly:
		return nil, ErrRoundReadOnly
	case progress == nil || progress.Status != model.ProgressStatusInProgress:
		progress, err = s.progression.Begin(ctx, req.UserID, req.EnrollmentID, req.RoundID)
		if err != nil {
			return nil, err
		}
	}

	interactions, err := s.interactions.List(ctx, progress.ID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}

	difficulty := req.Difficulty
	if difficulty == "" {
		difficulty = model.DifficultyMedium
	}
	md := ra.Round.ParseMetadata()
	ic := oracle.InterviewContext{
		Kind:           ra.Round.Kind,
		Difficulty:     difficulty,
		Topics:         md.Topics,
		CompanyContext: md.CompanyContext,
	}
	if ic.CompanyContext == "" {
		ic.CompanyContext = ra.Enrollment.SubjectName
	}

	var pending *model.Interaction
	if n := len(interactions); n > 0 && interactions[n-1].Pending() {
		pending = &interactions[n-1]
	}

	answer := ""
	if req.AnswerText != nil {
		answer = strings.TrimSpace(*req.AnswerText)
	}

	switch {
	case len(interactions) == 0 && answer == "":
		return s.start(ctx, progress, ic)
	case pending != nil && answer == "":
		return resume(pending), nil
	case pending != nil && req.QuestionIndex != nil && *req.QuestionIndex != pending.OrderIndex:
		return resume(pending), nil
	case pending != nil:
		return s.answer(ctx, ra, progress, ic, interactions, answer, s.MaxTurns(md))
	case len(interactions) > 0:
		return s.resumeTurn(ctx, ra, progress, ic, s.MaxTurns(md))
	}
	return nil, ErrInvalidTurnState
}

func (s *InterviewService) start(ctx context.Context, progress *model.RoundProgress, ic oracle.InterviewContext) (*TurnResult, error) {
	q := s.generateQuestion(ctx, oracle.OpeningQuestionPrompt(ic), fallbackOpening[ic.Kind == model.RoundKindHRInterview])

	it := &model.Interaction{RoundProgressID: progress.ID, OrderIndex: 1, QuestionText: q}
	if err := s.interactions.Create(ctx, it); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.reread(ctx, progress.ID, nil)
		}
		return nil, fmt.Errorf("create interaction: %w", err)
	}

	s.log.Info().
		Str("round_progress_id", progress.ID.String()).
		Msg("Interview started")
	return &TurnResult{Question: &it.QuestionText}, nil
}

func (s *InterviewService) answer(
	ctx context.Context,
	ra *RoundAccess,
	progress *model.RoundProgress,
	ic oracle.InterviewContext,
	interactions []model.Interaction,
	answer string,
	maxTurns int,
) (*TurnResult, error) {
	pending := &interactions[len(interactions)-1]

	if _, busy := s.inflight.LoadOrStore(pending.ID, struct{}{}); busy {
		return s.reread(ctx, progress.ID, pending)
	}
	defer s.inflight.Delete(pending.ID)

	claimed, err := s.interactions.Claim(ctx, pending.ID, answer)
	if err != nil {
		return nil, fmt.Errorf("claim interaction: %w", err)
	}
	if !claimed {
		s.log.Debug().
			Str("interaction_id", pending.ID.String()).
			Msg("Answer already claimed, resuming")
		return s.reread(ctx, progress.ID, pending)
	}
	pending.AnswerText = &answer

	return s.finish(ctx, ra, progress, ic, interactions, maxTurns)
}

// resumeTurn picks up a turn whose answer was claimed but whose follow-up
// work (scoring, next question or completion) never landed.
func (s *InterviewService) resumeTurn(
	ctx context.Context,
	ra *RoundAccess,
	progress *model.RoundProgress,
	ic oracle.InterviewContext,
	maxTurns int,
) (*TurnResult, error) {
	interactions, err := s.interactions.List(ctx, progress.ID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	if len(interactions) == 0 {
		return nil, ErrInvalidTurnState
	}
	last := &interactions[len(interactions)-1]

	if _, busy := s.inflight.LoadOrStore(last.ID, struct{}{}); busy {
		q := last.QuestionText
		return &TurnResult{Question: &q, Processing: true}, nil
	}
	defer s.inflight.Delete(last.ID)

	// Re-read under the marker: the turn may have finished meanwhile.
	interactions, err = s.interactions.List(ctx, progress.ID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	if n := len(interactions); interactions[n-1].Pending() {
		return resume(&interactions[n-1]), nil
	}

	s.log.Warn().
		Str("round_progress_id", progress.ID.String()).
		Int("turn", len(interactions)).
		Msg("Resuming unfinished interview turn")
	return s.finish(ctx, ra, progress, ic, interactions, maxTurns)
}

// finish scores the last, answered interaction if needed and then either
// completes the round or persists the next question. Caller cancellation is
// ignored once the answer is claimed.
func (s *InterviewService) finish(
	ctx context.Context,
	ra *RoundAccess,
	progress *model.RoundProgress,
	ic oracle.InterviewContext,
	interactions []model.Interaction,
	maxTurns int,
) (*TurnResult, error) {
	ctx = context.WithoutCancel(ctx)
	last := &interactions[len(interactions)-1]
	answer := *last.AnswerText

	if last.TurnScore == nil {
		ts := s.ScoreAnswer(ctx, last.QuestionText, answer)
		if err := s.interactions.Score(ctx, last.ID, ts.Score, ts.Feedback, ts.Sentiment); err != nil {
			return nil, fmt.Errorf("score interaction: %w", err)
		}
		last.TurnScore = &ts.Score
		last.TurnFeedback = &ts.Feedback
		last.Sentiment = &ts.Sentiment
	}
	feedback := DefaultTurnFeedback
	if last.TurnFeedback != nil {
		feedback = *last.TurnFeedback
	}

	if len(interactions) >= maxTurns {
		res := s.evaluator.Evaluate(ctx, ra.Round.Kind, interactions)
		aggregate := mustJSON(res.Evaluation)
		if _, err := s.progression.Complete(ctx, ra.Enrollment.ID, ra.Round.ID, res.Score, &aggregate); err != nil {
			return nil, fmt.Errorf("complete round: %w", err)
		}
		s.log.Info().
			Str("round_progress_id", progress.ID.String()).
			Int("turns", len(interactions)).
			Float64("score", res.Score).
			Str("verdict", string(res.Evaluation.OverallVerdict)).
			Msg("Interview completed")
		return &TurnResult{Feedback: &feedback, IsComplete: true}, nil
	}

	prompt := oracle.NextQuestionPrompt(ic, interactions, answer, *last.TurnScore)
	q := s.generateQuestion(ctx, prompt, fallbackFollowUp[ic.Kind == model.RoundKindHRInterview])
	next := &model.Interaction{RoundProgressID: progress.ID, OrderIndex: len(interactions) + 1, QuestionText: q}
	if err := s.interactions.Create(ctx, next); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return s.reread(ctx, progress.ID, nil)
		}
		return nil, fmt.Errorf("create interaction: %w", err)
	}
	return &TurnResult{Question: &next.QuestionText, Feedback: &feedback}, nil
}

// reread resolves a request that lost a race. claimed is the interaction
// this request tried to answer, if any.
func (s *InterviewService) reread(ctx context.Context, progressID uuid.UUID, claimed *model.Interaction) (*TurnResult, error) {
	interactions, err := s.interactions.List(ctx, progressID)
	if err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	if n := len(interactions); n > 0 && interactions[n-1].Pending() {
		return resume(&interactions[n-1]), nil
	}
	res := &TurnResult{Processing: true}
	if claimed != nil {
		q := claimed.QuestionText
		res.Question = &q
	}
	return res, nil
}

func resume(pending *model.Interaction) *TurnResult {
	q := pending.QuestionText
	return &TurnResult{Question: &q}
}

// ScoreAnswer asks the oracle to score one answer. It never fails; any
// problem yields the documented default.
func (s *InterviewService) ScoreAnswer(ctx context.Context, question, answer string) TurnScore {
	def := TurnScore{Score: DefaultTurnScore, Feedback: DefaultTurnFeedback, Sentiment: model.SentimentNeutral}
	if s.oracle == nil {
		return def
	}

	raw, err := s.oracle.Generate(ctx, oracle.ScorePrompt(question, answer))
	if err != nil {
		s.log.Warn().Err(err).Msg("Scoring oracle call failed, using default")
		return def
	}

	five := DefaultTurnScore
	parsed := oracle.ParseJSON(raw, scoreReply{Score: &five, Feedback: DefaultTurnFeedback}, func(r *scoreReply) bool {
		return r.Score != nil
	})
	if !parsed.OK {
		s.log.Warn().Str("reason", parsed.Reason).Msg("Score unparseable, using default")
		return def
	}

	out := TurnScore{
		Score:     ClampTurnScore(*parsed.Value.Score),
		Feedback:  strings.TrimSpace(parsed.Value.Feedback),
		Sentiment: normalizeSentiment(parsed.Value.Sentiment),
	}
	if out.Feedback == "" {
		out.Feedback = DefaultTurnFeedback
	}
	return out
}

func (s *InterviewService) generateQuestion(ctx context.Context, prompt, fallback string) string {
	if s.oracle == nil {
		return fallback
	}
	raw, err := s.oracle.Generate(ctx, prompt)
	if err != nil {
		s.log.Warn().Err(err).Msg("Question oracle call failed, using fallback question")
		return fallback
	}
	res := oracle.ParseText(raw, fallback)
	if !res.OK {
		s.log.Warn().Str("reason", res.Reason).Msg("Question unusable, using fallback question")
	}
	return res.Value
}

func normalizeSentiment(raw string) model.Sentiment {
	switch model.Sentiment(strings.ToUpper(strings.TrimSpace(raw))) {
	case model.SentimentPositive:
		return model.SentimentPositive
	case model.SentimentNegative:
		return model.SentimentNegative
	}
	return model.SentimentNeutral
}

// FeedbackJSON decodes a stored aggregate feedback string.
func FeedbackJSON(raw *string) (*Evaluation, bool) {
	if raw == nil {
		return nil, false
	}
	var ev Evaluation
	if err := json.Unmarshal([]byte(*raw), &ev); err != nil {
		return nil, false
	}
	return &ev, true
}
