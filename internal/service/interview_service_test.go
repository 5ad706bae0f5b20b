package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/config"
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/oracle"
)

type interviewHarness struct {
	*fixture
	progression *ProgressionService
	interview   *InterviewService
	oracle      *fakeOracle
	enrollment  *model.Enrollment
}

// newInterviewHarness builds a drive whose first round is an interview
// capped at maxTurns, followed by a choice test.
func newInterviewHarness(t *testing.T, o *fakeOracle, maxTurns int) *interviewHarness {
	t.Helper()
	f := newFixture(model.RoundKindTechInterview, model.RoundKindChoiceTest).
		withMetadata(0, fmt.Sprintf(`{"topics":"Go, SQL","maxTurns":%d}`, maxTurns))
	ps := f.progression(config.FailurePolicyBlock)
	var orc oracle.Oracle
	if o != nil {
		orc = o
	}
	is := NewInterviewService(ps, f.store, orc, NewEvaluationService(orc, zerolog.Nop()), 20, zerolog.Nop())
	return &interviewHarness{
		fixture:     f,
		progression: ps,
		interview:   is,
		oracle:      o,
		enrollment:  f.enroll(t, ps),
	}
}

func (h *interviewHarness) turn(t *testing.T, answer *string, idx *int) *TurnResult {
	t.Helper()
	res, err := h.interview.Turn(context.Background(), TurnRequest{
		UserID:        h.userID,
		EnrollmentID:  h.enrollment.ID,
		RoundID:       h.rounds[0].ID,
		AnswerText:    answer,
		QuestionIndex: idx,
	})
	if err != nil {
		t.Fatalf("Turn() error = %v", err)
	}
	return res
}

func TestInterview_FullRound(t *testing.T) {
	o := &fakeOracle{
		evaluate: func() (string, error) {
			return "```json\n{\"feedback\":\"Strong fundamentals.\",\"strengths\":[\"Go\"],\"weaknesses\":[],\"overallVerdict\":\"Hire\"}\n```", nil
		},
	}
	h := newInterviewHarness(t, o, 3)

	first := h.turn(t, nil, nil)
	if first.Question == nil || first.IsComplete || first.Feedback != nil {
		t.Fatalf("start = %+v", first)
	}

	for i := 1; i <= 3; i++ {
		res := h.turn(t, ptr(fmt.Sprintf("answer %d", i)), nil)
		if res.Feedback == nil || *res.Feedback != "Solid." {
			t.Fatalf("turn %d feedback = %v", i, res.Feedback)
		}
		if i < 3 && (res.IsComplete || res.Question == nil) {
			t.Fatalf("turn %d = %+v, want next question", i, res)
		}
		if i == 3 && (!res.IsComplete || res.Question != nil) {
			t.Fatalf("final turn = %+v, want completion", res)
		}
	}

	p := h.store.progressFor(t, h.enrollment.ID, h.rounds[0].ID)
	if p.Status != model.ProgressStatusCompleted || p.Score == nil || *p.Score != 80 {
		t.Errorf("progress = %+v", p)
	}
	ev, ok := FeedbackJSON(p.AggregateFeedback)
	if !ok {
		t.Fatalf("aggregate feedback is not an evaluation: %v", p.AggregateFeedback)
	}
	if ev.OverallVerdict != VerdictHire || ev.Feedback != "Strong fundamentals." {
		t.Errorf("evaluation = %+v", ev)
	}
	if ev.Scores["collaboration"] != 10 || ev.Scores["dsaBasics"] != 8 {
		t.Errorf("criterion scores = %v", ev.Scores)
	}
	if got := h.store.enrollment(t, h.enrollment.ID).CurrentRoundNumber; got != 2 {
		t.Errorf("CurrentRoundNumber = %d, want 2", got)
	}

	// A completed round reads back as complete without touching the oracle.
	calls := o.callCount()
	done := h.turn(t, nil, nil)
	if !done.IsComplete || done.Question != nil || done.Feedback != nil {
		t.Errorf("after completion = %+v", done)
	}
	if o.callCount() != calls {
		t.Error("reading a completed round called the oracle")
	}
}

func TestInterview_ResumeIsReadOnly(t *testing.T) {
	o := &fakeOracle{}
	h := newInterviewHarness(t, o, 5)

	first := h.turn(t, nil, nil)
	calls := o.callCount()

	for range 3 {
		res := h.turn(t, nil, nil)
		if res.Question == nil || *res.Question != *first.Question {
			t.Fatalf("resume = %+v, want %q", res, *first.Question)
		}
		empty := "   "
		res = h.turn(t, &empty, nil)
		if *res.Question != *first.Question {
			t.Fatalf("blank answer should resume, got %+v", res)
		}
	}
	if o.callCount() != calls {
		t.Errorf("resume called the oracle %d times", o.callCount()-calls)
	}
	p := h.store.progressFor(t, h.enrollment.ID, h.rounds[0].ID)
	if n := h.store.countInteractions(p.ID); n != 1 {
		t.Errorf("interactions = %d, want 1", n)
	}
}

func TestInterview_StaleQuestionIndexResumes(t *testing.T) {
	h := newInterviewHarness(t, &fakeOracle{}, 5)

	h.turn(t, nil, nil)
	second := h.turn(t, ptr("first answer"), ptr(1))

	res := h.turn(t, ptr("retried first answer"), ptr(1))
	if res.Question == nil || *res.Question != *second.Question || res.Feedback != nil {
		t.Errorf("stale answer = %+v, want resume of %q", res, *second.Question)
	}
	p := h.store.progressFor(t, h.enrollment.ID, h.rounds[0].ID)
	its, _ := h.store.List(context.Background(), p.ID)
	if len(its) != 2 || its[1].AnswerText != nil {
		t.Errorf("interactions = %+v", its)
	}
}

func TestInterview_ConcurrentAnswersClaimOnce(t *testing.T) {
	o := &fakeOracle{}
	h := newInterviewHarness(t, o, 5)
	h.turn(t, nil, nil)

	var wg sync.WaitGroup
	results := make([]*TurnResult, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.interview.Turn(context.Background(), TurnRequest{
				UserID:        h.userID,
				EnrollmentID:  h.enrollment.ID,
				RoundID:       h.rounds[0].ID,
				AnswerText:    ptr(fmt.Sprintf("answer from tab %d", i)),
				QuestionIndex: ptr(1),
			})
			if err != nil {
				t.Errorf("Turn() error = %v", err)
				res = &TurnResult{}
			}
			results[i] = res
		}()
	}
	wg.Wait()

	p := h.store.progressFor(t, h.enrollment.ID, h.rounds[0].ID)
	its, _ := h.store.List(context.Background(), p.ID)
	if len(its) != 2 {
		t.Fatalf("interactions = %d, want 2", len(its))
	}
	if its[0].AnswerText == nil || its[1].AnswerText != nil {
		t.Errorf("interactions = %+v", its)
	}

	scored := 0
	for _, r := range results {
		if r.Feedback != nil {
			scored++
		}
		if r.IsComplete {
			t.Errorf("unexpected completion %+v", r)
		}
	}
	if scored != 1 {
		t.Errorf("%d requests scored an answer, want 1", scored)
	}
}

func TestInterview_OracleFailureUsesDefaults(t *testing.T) {
	h := newInterviewHarness(t, failingOracle(), 2)

	first := h.turn(t, nil, nil)
	if *first.Question != fallbackOpening[false] {
		t.Errorf("opening = %q, want fallback", *first.Question)
	}

	res := h.turn(t, ptr("an answer"), nil)
	if *res.Feedback != DefaultTurnFeedback || *res.Question != fallbackFollowUp[false] {
		t.Errorf("turn = %+v", res)
	}

	p := h.store.progressFor(t, h.enrollment.ID, h.rounds[0].ID)
	its, _ := h.store.List(context.Background(), p.ID)
	if *its[0].TurnScore != DefaultTurnScore || *its[0].Sentiment != model.SentimentNeutral {
		t.Errorf("scored interaction = %+v", its[0])
	}

	last := h.turn(t, ptr("another answer"), nil)
	if !last.IsComplete {
		t.Fatalf("final = %+v", last)
	}
	p = h.store.progressFor(t, h.enrollment.ID, h.rounds[0].ID)
	ev, _ := FeedbackJSON(p.AggregateFeedback)
	if ev == nil || ev.Feedback != "Interview completed successfully." || ev.OverallVerdict != VerdictMaybe {
		t.Errorf("fallback evaluation = %+v", ev)
	}
	if *p.Score != 50 {
		t.Errorf("score = %v, want 50", *p.Score)
	}
}

func TestInterviewService_ScoreAnswer(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		wantScore float64
		wantFb    string
		wantSent  model.Sentiment
	}{
		{"well formed", `{"score": 7.5, "feedback": "Clear.", "sentiment": "positive"}`, 7.5, "Clear.", model.SentimentPositive},
		{"clamped high", `{"score": 15, "feedback": "Wow.", "sentiment": "POSITIVE"}`, 10, "Wow.", model.SentimentPositive},
		{"clamped low", `{"score": -3, "feedback": "Off topic.", "sentiment": "NEGATIVE"}`, 0, "Off topic.", model.SentimentNegative},
		{"prose", `I would rate this a 6.`, DefaultTurnScore, DefaultTurnFeedback, model.SentimentNeutral},
		{"missing score", `{"feedback": "Hmm."}`, DefaultTurnScore, DefaultTurnFeedback, model.SentimentNeutral},
		{"unknown sentiment", `{"score": 4, "feedback": "", "sentiment": "MEH"}`, 4, DefaultTurnFeedback, model.SentimentNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := &fakeOracle{score: func(string) (string, error) { return tt.reply, nil }}
			s := NewInterviewService(nil, nil, o, nil, 0, zerolog.Nop())
			got := s.ScoreAnswer(context.Background(), "Q?", "A.")
			if got.Score != tt.wantScore || got.Feedback != tt.wantFb || got.Sentiment != tt.wantSent {
				t.Errorf("ScoreAnswer() = %+v, want %v %q %s", got, tt.wantScore, tt.wantFb, tt.wantSent)
			}
		})
	}
}

func TestInterview_InvalidRequests(t *testing.T) {
	ctx := context.Background()
	o := &fakeOracle{}
	h := newInterviewHarness(t, o, 5)

	_, err := h.interview.Turn(ctx, TurnRequest{UserID: h.userID, RoundID: h.rounds[0].ID})
	if !errors.Is(err, ErrMissingIdentifiers) {
		t.Errorf("missing enrollment error = %v, want ErrMissingIdentifiers", err)
	}
	_, err = h.interview.Turn(ctx, TurnRequest{UserID: h.userID, EnrollmentID: h.enrollment.ID})
	if !errors.Is(err, ErrMissingIdentifiers) {
		t.Errorf("missing round error = %v, want ErrMissingIdentifiers", err)
	}
	if o.callCount() != 0 {
		t.Error("missing ids reached the oracle")
	}

	_, err = h.interview.Turn(ctx, TurnRequest{
		UserID: h.userID, EnrollmentID: h.enrollment.ID, RoundID: h.rounds[0].ID, AnswerText: ptr("eager"),
	})
	if !errors.Is(err, ErrInvalidTurnState) {
		t.Errorf("answer before start error = %v, want ErrInvalidTurnState", err)
	}

	_, err = h.interview.Turn(ctx, TurnRequest{UserID: h.userID, EnrollmentID: h.enrollment.ID, RoundID: h.rounds[1].ID})
	if !errors.Is(err, ErrWrongRoundKind) {
		t.Errorf("choice round error = %v, want ErrWrongRoundKind", err)
	}

	_, err = h.interview.Turn(ctx, TurnRequest{UserID: h.userID + 1, EnrollmentID: h.enrollment.ID, RoundID: h.rounds[0].ID})
	if !errors.Is(err, ErrEnrollmentForbidden) {
		t.Errorf("other user error = %v, want ErrEnrollmentForbidden", err)
	}

	_, err = h.interview.Turn(ctx, TurnRequest{UserID: h.userID, EnrollmentID: h.enrollment.ID, RoundID: uuid.New()})
	if !errors.Is(err, ErrRoundNotFound) {
		t.Errorf("unknown round error = %v, want ErrRoundNotFound", err)
	}
}

func TestInterview_LockedRound(t *testing.T) {
	f := newFixture(model.RoundKindChoiceTest, model.RoundKindHRInterview)
	ps := f.progression(config.FailurePolicyBlock)
	e := f.enroll(t, ps)
	is := NewInterviewService(ps, f.store, &fakeOracle{}, nil, 20, zerolog.Nop())

	_, err := is.Turn(context.Background(), TurnRequest{UserID: f.userID, EnrollmentID: e.ID, RoundID: f.rounds[1].ID})
	if !errors.Is(err, ErrRoundLocked) {
		t.Errorf("Turn(locked) error = %v, want ErrRoundLocked", err)
	}
}

func TestInterviewService_MaxTurns(t *testing.T) {
	s := NewInterviewService(nil, nil, nil, nil, 12, zerolog.Nop())

	tests := []struct {
		md   model.RoundMetadata
		want int
	}{
		{model.RoundMetadata{MaxTurns: 4}, 4},
		{model.RoundMetadata{MaxQuestions: 6}, 6},
		{model.RoundMetadata{MaxTurns: 3, MaxQuestions: 9}, 3},
		{model.RoundMetadata{}, 12},
	}
	for _, tt := range tests {
		if got := s.MaxTurns(tt.md); got != tt.want {
			t.Errorf("MaxTurns(%+v) = %d, want %d", tt.md, got, tt.want)
		}
	}

	if got := NewInterviewService(nil, nil, nil, nil, 0, zerolog.Nop()).MaxTurns(model.RoundMetadata{}); got != DefaultMaxTurns {
		t.Errorf("default MaxTurns = %d, want %d", got, DefaultMaxTurns)
	}
}

// flakyInteractions fails chosen Create and Score calls once each.
type flakyInteractions struct {
	*memStore
	mu          sync.Mutex
	creates     int
	failCreateN int
	failScore   bool
}

func (f *flakyInteractions) Create(ctx context.Context, it *model.Interaction) error {
	f.mu.Lock()
	f.creates++
	fail := f.creates == f.failCreateN
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.memStore.Create(ctx, it)
}

func (f *flakyInteractions) Score(ctx context.Context, id uuid.UUID, score float64, feedback string, sentiment model.Sentiment) error {
	f.mu.Lock()
	fail := f.failScore
	f.failScore = false
	f.mu.Unlock()
	if fail {
		return errors.New("connection reset")
	}
	return f.memStore.Score(ctx, id, score, feedback, sentiment)
}

func TestInterview_UnfinishedTurnResumes(t *testing.T) {
	tests := []struct {
		name  string
		store func(*memStore) *flakyInteractions
		retry *string
	}{
		{"next question insert failed, plain resume", func(m *memStore) *flakyInteractions {
			return &flakyInteractions{memStore: m, failCreateN: 2}
		}, nil},
		{"next question insert failed, answer resent", func(m *memStore) *flakyInteractions {
			return &flakyInteractions{memStore: m, failCreateN: 2}
		}, ptr("first answer")},
		{"score write failed", func(m *memStore) *flakyInteractions {
			return &flakyInteractions{memStore: m, failScore: true}
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newInterviewHarness(t, &fakeOracle{}, 3)
			h.interview.interactions = tt.store(h.store)
			h.turn(t, nil, nil)

			_, err := h.interview.Turn(context.Background(), TurnRequest{
				UserID:       h.userID,
				EnrollmentID: h.enrollment.ID,
				RoundID:      h.rounds[0].ID,
				AnswerText:   ptr("first answer"),
			})
			if err == nil {
				t.Fatal("expected the failed write to surface")
			}

			res := h.turn(t, tt.retry, nil)
			if res.Question == nil || res.Feedback == nil || res.IsComplete || res.Processing {
				t.Fatalf("retry = %+v, want next question with feedback", res)
			}

			p := h.store.progressFor(t, h.enrollment.ID, h.rounds[0].ID)
			its, _ := h.store.List(context.Background(), p.ID)
			if len(its) != 2 || its[0].TurnScore == nil || !its[1].Pending() {
				t.Fatalf("interactions = %+v", its)
			}
			if *its[0].AnswerText != "first answer" {
				t.Errorf("answer = %q", *its[0].AnswerText)
			}

			again := h.turn(t, nil, nil)
			if *again.Question != *res.Question {
				t.Errorf("resume = %q, want %q", *again.Question, *res.Question)
			}
		})
	}
}

func TestInterview_UnfinishedFinalTurnCompletes(t *testing.T) {
	h := newInterviewHarness(t, &fakeOracle{}, 1)
	h.interview.interactions = &flakyInteractions{memStore: h.store, failScore: true}
	h.turn(t, nil, nil)

	if _, err := h.interview.Turn(context.Background(), TurnRequest{
		UserID: h.userID, EnrollmentID: h.enrollment.ID, RoundID: h.rounds[0].ID, AnswerText: ptr("only answer"),
	}); err == nil {
		t.Fatal("expected the failed score write to surface")
	}

	res := h.turn(t, nil, nil)
	if !res.IsComplete || res.Feedback == nil {
		t.Fatalf("retry = %+v, want completion", res)
	}
	p := h.store.progressFor(t, h.enrollment.ID, h.rounds[0].ID)
	if p.Status != model.ProgressStatusCompleted || p.Score == nil {
		t.Errorf("progress = %+v", p)
	}
}
