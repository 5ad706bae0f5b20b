package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stemsi/mockdrive-backend/internal/model"
)

// InterviewContext carries the round settings that shape every question.
type InterviewContext struct {
	Kind           model.RoundKind
	Difficulty     model.Difficulty
	Topics         string
	CompanyContext string
}

func (ic InterviewContext) interviewType() string {
	if ic.Kind == model.RoundKindHRInterview {
		return "HR"
	}
	return "Technical"
}

func (ic InterviewContext) company() string {
	if ic.CompanyContext != "" {
		return ic.CompanyContext
	}
	return "a company"
}

func (ic InterviewContext) background() string {
	var sb strings.Builder
	if ic.CompanyContext != "" {
		sb.WriteString("Company Background: " + ic.CompanyContext + ". ")
	}
	if ic.Kind != model.RoundKindHRInterview && ic.Topics != "" {
		sb.WriteString("Preferred Technical Topics: " + ic.Topics + ".")
	}
	return strings.TrimSpace(sb.String())
}

// OpeningQuestionPrompt asks for the first question of an interview.
func OpeningQuestionPrompt(ic InterviewContext) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a professional %s interviewer at %s.\n", ic.interviewType(), ic.company())
	fmt.Fprintf(&sb, "The candidate is appearing for an interview with the following difficulty level: %s.\n\n", ic.Difficulty)
	if bg := ic.background(); bg != "" {
		fmt.Fprintf(&sb, "Interview context: %q\n\n", bg)
	}
	fmt.Fprintf(&sb, "Generate a first question appropriate for the %s difficulty level.\n", ic.Difficulty)
	sb.WriteString("If the difficulty is \"Easy\", start with basic introductory or fundamental questions.\n")
	sb.WriteString("If the difficulty is \"Expert\", start with complex architectural or deep troubleshooting questions.\n\n")
	sb.WriteString("Keep the tone professional and encouraging.\n")
	sb.WriteString("Respond ONLY with the question text.\n")
	return sb.String()
}

type historyEntry struct {
	Q string   `json:"q"`
	A string   `json:"a,omitempty"`
	S *float64 `json:"s,omitempty"`
}

func history(interactions []model.Interaction) string {
	entries := make([]historyEntry, 0, len(interactions))
	for _, it := range interactions {
		e := historyEntry{Q: it.QuestionText, S: it.TurnScore}
		if it.AnswerText != nil {
			e.A = *it.AnswerText
		}
		entries = append(entries, e)
	}
	b, _ := json.Marshal(entries)
	return string(b)
}

// NextQuestionPrompt asks for an adaptive follow-up question given the
// full history and the answer just scored.
func NextQuestionPrompt(ic InterviewContext, interactions []model.Interaction, latestAnswer string, latestScore float64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a professional %s interviewer at %s.\n", ic.interviewType(), ic.company())
	fmt.Fprintf(&sb, "The interview difficulty level is set to %s.\n\n", ic.Difficulty)
	sb.WriteString("Current Interview State:\n")
	if bg := ic.background(); bg != "" {
		sb.WriteString("- Context: " + bg + "\n")
	}
	sb.WriteString("- Previous Interactions: " + history(interactions) + "\n")
	fmt.Fprintf(&sb, "- Latest Answer: %q\n", latestAnswer)
	fmt.Fprintf(&sb, "- Latest Answer Score: %.1f/10\n\n", latestScore)
	sb.WriteString("Your Task:\n")
	sb.WriteString("1. Generate the next follow-up question.\n")
	fmt.Fprintf(&sb, "2. The question must be consistent with the %s difficulty level.\n", ic.Difficulty)
	sb.WriteString("3. If the candidate is performing well, gradually increase the complexity within that level.\n")
	sb.WriteString("4. If the candidate is struggling, slightly simplify the next question while keeping the same level.\n")
	sb.WriteString("5. Do not repeat a previous question.\n\n")
	sb.WriteString("Respond ONLY with the next question text.\n")
	return sb.String()
}

// ScorePrompt asks for a JSON assessment of one answer.
func ScorePrompt(question, answer string) string {
	var sb strings.Builder
	sb.WriteString("Question: " + question + "\n")
	sb.WriteString("Candidate Answer: " + answer + "\n\n")
	sb.WriteString("Evaluate this answer on a scale of 1-10. Provide brief feedback.\n")
	sb.WriteString("Respond ONLY with a JSON object:\n")
	sb.WriteString(`{"score": <number 1-10>, "feedback": "<string>", "sentiment": "POSITIVE"|"NEUTRAL"|"NEGATIVE"}`)
	sb.WriteString("\n")
	return sb.String()
}

// EvaluationPrompt asks for a holistic narrative and verdict for a finished
// interview. criteria are the score keys expected in the reply.
func EvaluationPrompt(kind model.RoundKind, criteria []string, interactions []model.Interaction) string {
	var sb strings.Builder
	label := "technical"
	if kind == model.RoundKindHRInterview {
		label = "HR"
	}
	fmt.Fprintf(&sb, "Evaluate the candidate's performance in this %s interview.\n", label)
	sb.WriteString("Interactions: " + history(interactions) + "\n\n")
	sb.WriteString("Respond ONLY with a JSON object:\n{\n  \"scores\": {\n")
	for i, c := range criteria {
		fmt.Fprintf(&sb, "    %q: <number 1-10>", c)
		if i < len(criteria)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("  },\n")
	sb.WriteString("  \"feedback\": \"<string>\",\n")
	sb.WriteString("  \"strengths\": [\"<string>\"],\n")
	sb.WriteString("  \"weaknesses\": [\"<string>\"],\n")
	sb.WriteString("  \"overallVerdict\": \"Hire\" | \"Maybe\" | \"Reject\"\n}\n")
	return sb.String()
}
