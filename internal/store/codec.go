// Package store holds the encoding shared by the durable backends. The
// backends themselves live in the sqlite and postgres subpackages.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"podium/internal/domain"
)

// DefaultListLimit caps history queries that pass no limit.
const DefaultListLimit = 50

// timeLayout keeps every fraction digit so text columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// EncodeRounds serializes a round history. A nil history encodes as "[]".
func EncodeRounds(rounds []domain.RoundResult) ([]byte, error) {
	if rounds == nil {
		rounds = []domain.RoundResult{}
	}
	raw, err := json.Marshal(rounds)
	if err != nil {
		return nil, fmt.Errorf("encode rounds: %w", err)
	}
	return raw, nil
}

func DecodeRounds(raw []byte) ([]domain.RoundResult, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var rounds []domain.RoundResult
	if err := json.Unmarshal(raw, &rounds); err != nil {
		return nil, fmt.Errorf("decode rounds: %w", err)
	}
	return rounds, nil
}

// EncodeCounts serializes per-activity counters.
func EncodeCounts(counts map[string]int) ([]byte, error) {
	if counts == nil {
		counts = map[string]int{}
	}
	raw, err := json.Marshal(counts)
	if err != nil {
		return nil, fmt.Errorf("encode activity counts: %w", err)
	}
	return raw, nil
}

func DecodeCounts(raw []byte) (map[string]int, error) {
	counts := map[string]int{}
	if len(raw) == 0 {
		return counts, nil
	}
	if err := json.Unmarshal(raw, &counts); err != nil {
		return nil, fmt.Errorf("decode activity counts: %w", err)
	}
	return counts, nil
}

// FormatTime renders t in UTC at a fixed width for text columns. The zero
// time renders as "".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func ParseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", value, err)
	}
	return t, nil
}

// Limit normalizes a caller-supplied list limit.
func Limit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
