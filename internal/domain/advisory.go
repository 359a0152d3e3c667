package domain

// RoundSummary is the condensed form of a prior round sent as context.
type RoundSummary struct {
	Round        int    `json:"round"`
	Prompt       string `json:"prompt"`
	UserText     string `json:"userText,omitempty"`
	AdvisoryText string `json:"advisoryText,omitempty"`
}

// TurnRequest asks the counterpart for its response to the latest round.
type TurnRequest struct {
	ActivityID  string         `json:"activityId"`
	Kind        ActivityKind   `json:"kind"`
	Persona     string         `json:"persona,omitempty"`
	RoundNumber int            `json:"roundNumber"`
	Prompt      string         `json:"prompt"`
	Counterpart string         `json:"counterpart,omitempty"`
	PriorRounds []RoundSummary `json:"priorRounds,omitempty"`
	UserText    string         `json:"userText"`
}

// ScoreRequest asks for a 0-100 score of one round.
type ScoreRequest struct {
	ActivityID string       `json:"activityId"`
	Kind       ActivityKind `json:"kind"`
	Round      RoundResult  `json:"round"`
	Spec       RoundSpec    `json:"spec"`
	UserText   string       `json:"userText"`
}

// Summaries condenses round history into advisory context.
func Summaries(rounds []RoundResult) []RoundSummary {
	out := make([]RoundSummary, 0, len(rounds))
	for _, round := range rounds {
		out = append(out, RoundSummary{
			Round:        round.Round,
			Prompt:       round.Prompt,
			AdvisoryText: round.AdvisoryText,
		})
	}
	return out
}
