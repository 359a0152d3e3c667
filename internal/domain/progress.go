package domain

import (
	"sort"
	"time"
)

// DayLayout formats practice days and date-keyed session ids.
const DayLayout = "2006-01-02"

// SessionRecord is the persisted outcome of a session attempt.
type SessionRecord struct {
	ID              string        `json:"id"`
	ActivityID      string        `json:"activityId"`
	Kind            ActivityKind  `json:"kind"`
	UserID          string        `json:"userId"`
	StartedAt       time.Time     `json:"startedAt"`
	CompletedAt     time.Time     `json:"completedAt,omitzero"`
	Completed       bool          `json:"completed"`
	FinishedEarly   bool          `json:"finishedEarly"`
	AggregateScore  float64       `json:"aggregateScore"`
	RoundCount      int           `json:"roundCount"`
	Rounds          []RoundResult `json:"rounds"`
	ProgressApplied bool          `json:"progressApplied"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// RecordingRecord is the persisted metadata of one round artifact.
type RecordingRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Round      int       `json:"round"`
	URI        string    `json:"uri"`
	DurationMs int64     `json:"durationMs"`
	SizeBytes  int64     `json:"sizeBytes"`
	CreatedAt  time.Time `json:"createdAt"`
}

// UserProgress is the long-lived practice aggregate for one user.
type UserProgress struct {
	UserID           string         `json:"userId"`
	TotalSessions    int            `json:"totalSessions"`
	TotalRounds      int            `json:"totalRounds"`
	TotalPracticeMs  int64          `json:"totalPracticeMs"`
	CurrentStreak    int            `json:"currentStreak"`
	LongestStreak    int            `json:"longestStreak"`
	LastPracticeDate string         `json:"lastPracticeDate,omitempty"`
	PracticeDays     int            `json:"practiceDays"`
	ActivityCounts   map[string]int `json:"activityCounts"`
	LastSessionID    string         `json:"lastSessionId,omitempty"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Apply rolls a completed session into the aggregate and returns the result.
// The receiver is not modified.
func (p UserProgress) Apply(rec SessionRecord, day time.Time) UserProgress {
	next := p
	next.ActivityCounts = make(map[string]int, len(p.ActivityCounts)+1)
	for k, v := range p.ActivityCounts {
		next.ActivityCounts[k] = v
	}

	next.TotalSessions++
	next.TotalRounds += len(rec.Rounds)
	for _, round := range rec.Rounds {
		next.TotalPracticeMs += round.DurationMs
	}
	next.ActivityCounts[rec.ActivityID]++

	today := day.Format(DayLayout)
	switch {
	case p.LastPracticeDate == today:
	case p.LastPracticeDate != "" && isNextDay(p.LastPracticeDate, day):
		next.CurrentStreak++
		next.PracticeDays++
	default:
		next.CurrentStreak = 1
		next.PracticeDays++
	}
	if next.CurrentStreak == 0 {
		next.CurrentStreak = 1
	}
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	next.LastPracticeDate = today
	next.LastSessionID = rec.ID
	next.UpdatedAt = day
	return next
}

// TopActivities lists activity ids by descending practice count.
func (p UserProgress) TopActivities() []string {
	ids := make([]string, 0, len(p.ActivityCounts))
	for id := range p.ActivityCounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if p.ActivityCounts[ids[i]] != p.ActivityCounts[ids[j]] {
			return p.ActivityCounts[ids[i]] > p.ActivityCounts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

func isNextDay(last string, day time.Time) bool {
	prev, err := time.ParseInLocation(DayLayout, last, day.Location())
	if err != nil {
		return false
	}
	return prev.AddDate(0, 0, 1).Format(DayLayout) == day.Format(DayLayout)
}

// AggregateScore is the mean of scored rounds, or 0 when none were scored.
func AggregateScore(rounds []RoundResult) float64 {
	var (
		sum   float64
		count int
	)
	for _, round := range rounds {
		if round.Score == nil {
			continue
		}
		sum += *round.Score
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
