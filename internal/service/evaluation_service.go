package service

import (
	"context"
	"math"

	"github.com/rs/zerolog"
	"github.com/stemsi/mockdrive-backend/internal/model"
	"github.com/stemsi/mockdrive-backend/internal/oracle"
)

// Verdict is the overall hiring recommendation for an interview round.
type Verdict string

const (
	VerdictHire   Verdict = "Hire"
	VerdictMaybe  Verdict = "Maybe"
	VerdictReject Verdict = "Reject"
)

// hireThreshold is the mean turn score at or above which the fallback
// verdict is Hire.
const hireThreshold = 7.0

// Evaluation is the aggregate feedback stored on a completed interview round.
type Evaluation struct {
	Scores         map[string]float64 `json:"scores"`
	Feedback       string             `json:"feedback"`
	Strengths      []string           `json:"strengths"`
	Weaknesses     []string           `json:"weaknesses"`
	OverallVerdict Verdict            `json:"overallVerdict"`
}

// EvaluationResult carries the evaluation and the round score on a 0-100 scale.
type EvaluationResult struct {
	Evaluation Evaluation
	Score      float64
	// FromOracle is false when the narrative is the deterministic fallback.
	FromOracle bool
}

var (
	technicalCriteria = []string{"programmingFundamentals", "oopConcepts", "dsaBasics", "collaboration"}
	hrCriteria        = []string{"communication", "cultureFit", "confidence", "teamwork"}
)

// CriteriaFor returns the criterion keys scored for a round kind.
func CriteriaFor(kind model.RoundKind) []string {
	if kind == model.RoundKindHRInterview {
		return hrCriteria
	}
	return technicalCriteria
}

// EvaluationService produces the final verdict of an interview round.
type EvaluationService struct {
	oracle oracle.Oracle
	log    zerolog.Logger
}

// NewEvaluationService creates a new EvaluationService. A nil oracle always
// yields the fallback narrative.
func NewEvaluationService(o oracle.Oracle, log zerolog.Logger) *EvaluationService {
	return &EvaluationService{
		oracle: o,
		log:    log.With().Str("component", "evaluation_service").Logger(),
	}
}

// Evaluate aggregates a finished interview. It never fails: oracle
// problems fall back to a verdict derived from the mean turn score.
func (s *EvaluationService) Evaluate(ctx context.Context, kind model.RoundKind, interactions []model.Interaction) EvaluationResult {
	avg := MeanTurnScore(interactions)
	scores := criterionScores(kind, avg)

	fallback := Evaluation{
		Scores:         scores,
		Feedback:       "Interview completed successfully.",
		Strengths:      []string{"Communication"},
		Weaknesses:     []string{},
		OverallVerdict: FallbackVerdict(avg),
	}
	result := EvaluationResult{Evaluation: fallback, Score: roundTo(avg*10, 2)}

	if s.oracle == nil {
		return result
	}

	raw, err := s.oracle.Generate(ctx, oracle.EvaluationPrompt(kind, CriteriaFor(kind), interactions))
	if err != nil {
		s.log.Warn().Err(err).Msg("Final evaluation oracle call failed, using fallback")
		return result
	}

	parsed := oracle.ParseJSON(raw, fallback, func(e *Evaluation) bool {
		switch e.OverallVerdict {
		case VerdictHire, VerdictMaybe, VerdictReject:
		default:
			return false
		}
		return e.Feedback != ""
	})
	if !parsed.OK {
		s.log.Warn().Str("reason", parsed.Reason).Msg("Final evaluation unparseable, using fallback")
		return result
	}

	ev := parsed.Value
	// The criterion vector stays deterministic; only the narrative is the oracle's.
	ev.Scores = scores
	if ev.Strengths == nil {
		ev.Strengths = []string{}
	}
	if ev.Weaknesses == nil {
		ev.Weaknesses = []string{}
	}
	result.Evaluation = ev
	result.FromOracle = true
	return result
}

// MeanTurnScore averages clamped turn scores. Unscored turns count as 0.
func MeanTurnScore(interactions []model.Interaction) float64 {
	if len(interactions) == 0 {
		return 0
	}
	var sum float64
	for _, it := range interactions {
		if it.TurnScore != nil {
			sum += ClampTurnScore(*it.TurnScore)
		}
	}
	return sum / float64(len(interactions))
}

// ClampTurnScore bounds an oracle score to [0, 10].
func ClampTurnScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(10, v))
}

// FallbackVerdict derives a verdict from the mean turn score alone.
func FallbackVerdict(avg float64) Verdict {
	if avg >= hireThreshold {
		return VerdictHire
	}
	return VerdictMaybe
}

func criterionScores(kind model.RoundKind, avg float64) map[string]float64 {
	a := roundTo(avg, 2)
	bonus := roundTo(math.Min(10, avg+2), 2)
	if kind == model.RoundKindHRInterview {
		return map[string]float64{
			"communication": a,
			"cultureFit":    a,
			"confidence":    a,
			"teamwork":      bonus,
		}
	}
	return map[string]float64{
		"programmingFundamentals": a,
		"oopConcepts":             a,
		"dsaBasics":               a,
		"collaboration":           bonus,
	}
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
