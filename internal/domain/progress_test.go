package domain

import (
	"errors"
	"testing"
	"time"
)

func TestUserProgressApplyStreaks(t *testing.T) {
	t.Parallel()

	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec := SessionRecord{ID: "s1", ActivityID: "interview", Rounds: []RoundResult{{DurationMs: 3000}, {DurationMs: 4000}}}

	p := UserProgress{UserID: "u"}.Apply(rec, day1)
	if p.CurrentStreak != 1 || p.LongestStreak != 1 || p.PracticeDays != 1 {
		t.Fatalf("unexpected first-day progress: %+v", p)
	}
	if p.TotalSessions != 1 || p.TotalRounds != 2 || p.TotalPracticeMs != 7000 {
		t.Fatalf("unexpected counters: %+v", p)
	}

	rec.ID = "s2"
	p = p.Apply(rec, day1.Add(3*time.Hour))
	if p.CurrentStreak != 1 || p.PracticeDays != 1 || p.TotalSessions != 2 {
		t.Fatalf("same day should keep streak: %+v", p)
	}

	rec.ID = "s3"
	p = p.Apply(rec, day1.AddDate(0, 0, 1))
	if p.CurrentStreak != 2 || p.LongestStreak != 2 || p.PracticeDays != 2 {
		t.Fatalf("next day should extend streak: %+v", p)
	}

	rec.ID = "s4"
	p = p.Apply(rec, day1.AddDate(0, 0, 5))
	if p.CurrentStreak != 1 || p.LongestStreak != 2 || p.PracticeDays != 3 {
		t.Fatalf("gap should reset streak: %+v", p)
	}
	if p.LastSessionID != "s4" || p.ActivityCounts["interview"] != 4 {
		t.Fatalf("unexpected bookkeeping: %+v", p)
	}
}

func TestUserProgressApplyDoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	base := UserProgress{ActivityCounts: map[string]int{"debate": 2}}
	_ = base.Apply(SessionRecord{ID: "x", ActivityID: "debate"}, time.Now())
	if base.ActivityCounts["debate"] != 2 || base.TotalSessions != 0 {
		t.Fatalf("receiver mutated: %+v", base)
	}
}

func TestAggregateScore(t *testing.T) {
	t.Parallel()

	if got := AggregateScore(nil); got != 0 {
		t.Fatalf("expected 0 for no rounds, got %v", got)
	}
	a, b := 60.0, 90.0
	got := AggregateScore([]RoundResult{{Score: &a}, {}, {Score: &b}})
	if got != 75 {
		t.Fatalf("expected mean of scored rounds, got %v", got)
	}
}

func TestDescribeCategorizesErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code ErrorCode
	}{
		{&DeviceError{Kind: DeviceBusy}, ErrorCodeDevice},
		{&ServiceError{Op: "request turn", Transient: true}, ErrorCodeAdvisory},
		{&ValidationError{Reason: ValidationTooShort, Message: "too short"}, ErrorCodeValidation},
		{&PersistenceError{Op: "session"}, ErrorCodePersistence},
		{&ConfigError{ActivityID: "x"}, ErrorCodeConfig},
		{&DeviceError{Kind: DevicePlaybackFailed}, ErrorCodePlayback},
	}
	for _, tc := range cases {
		info := Describe(tc.err)
		if info == nil || info.Code != tc.code {
			t.Fatalf("unexpected info for %T: %+v", tc.err, info)
		}
	}
	if Describe(nil) != nil {
		t.Fatalf("expected nil info for nil error")
	}
	if info := Describe(&ValidationError{Message: "Recording too short"}); info.Message != "Recording too short" {
		t.Fatalf("validation message should be user-visible, got %q", info.Message)
	}
}

func TestDeviceErrorMatchesSentinels(t *testing.T) {
	t.Parallel()

	var err error = &DeviceError{Kind: DeviceBusy}
	if !errors.Is(err, ErrDeviceBusy) || errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("unexpected sentinel matching for %v", err)
	}
}
