// Package content holds the activity library and resolves a user's selection
// into a session configuration.
package content

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"podium/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Param is a named placeholder. It is required when it has no default.
type Param struct {
	Name    string `yaml:"name" json:"name"`
	Default string `yaml:"default,omitempty" json:"default,omitempty"`
}

// Round is one round template.
type Round struct {
	Prompt           string `yaml:"prompt" json:"prompt"`
	Hint             string `yaml:"hint,omitempty" json:"hint,omitempty"`
	Counterpart      string `yaml:"counterpart,omitempty" json:"counterpart,omitempty"`
	TimeLimitSeconds int    `yaml:"time_limit_seconds,omitempty" json:"timeLimitSeconds,omitempty"`
}

// Activity is a catalog entry.
type Activity struct {
	ID                 string              `yaml:"id" json:"id"`
	Kind               domain.ActivityKind `yaml:"kind" json:"kind"`
	Title              string              `yaml:"title" json:"title"`
	Description        string              `yaml:"description,omitempty" json:"description,omitempty"`
	Persona            string              `yaml:"persona,omitempty" json:"persona,omitempty"`
	PreparationSeconds *int                `yaml:"preparation_seconds,omitempty" json:"preparationSeconds,omitempty"`
	MinRecordingMs     int                 `yaml:"min_recording_ms,omitempty" json:"minRecordingMs,omitempty"`
	RequiresAdvisory   *bool               `yaml:"requires_advisory,omitempty" json:"requiresAdvisory,omitempty"`
	Resumable          bool                `yaml:"resumable,omitempty" json:"resumable"`
	Params             []Param             `yaml:"params,omitempty" json:"params,omitempty"`
	Topics             []string            `yaml:"topics,omitempty" json:"topics,omitempty"`
	Rounds             []Round             `yaml:"rounds" json:"rounds"`
}

type catalogFile struct {
	Activities []Activity `yaml:"activities"`
}

// Catalog is an ordered, read-only set of activities.
type Catalog struct {
	activities []Activity
	byID       map[string]int
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads a catalog that replaces the built-in one.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %q: %w", path, err)
	}
	catalog, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %q: %w", path, err)
	}
	return catalog, nil
}

// Load returns the catalog at path, or the built-in one when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}

func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Activities) == 0 {
		return nil, errors.New("catalog has no activities")
	}

	catalog := &Catalog{byID: make(map[string]int, len(file.Activities))}
	for i, activity := range file.Activities {
		if err := validate(activity); err != nil {
			return nil, fmt.Errorf("activity %d: %w", i+1, err)
		}
		if _, dup := catalog.byID[activity.ID]; dup {
			return nil, fmt.Errorf("duplicate activity id %q", activity.ID)
		}
		catalog.byID[activity.ID] = len(catalog.activities)
		catalog.activities = append(catalog.activities, activity)
	}
	return catalog, nil
}

func validate(a Activity) error {
	if a.ID == "" {
		return errors.New("missing id")
	}
	switch a.Kind {
	case domain.KindLesson, domain.KindImprovisation, domain.KindDailyChallenge, domain.KindStorytelling,
		domain.KindInterview, domain.KindSales, domain.KindNegotiation, domain.KindDebate:
	default:
		return fmt.Errorf("%s: unknown kind %q", a.ID, a.Kind)
	}
	if len(a.Rounds) == 0 {
		return fmt.Errorf("%s: no rounds", a.ID)
	}
	for i, round := range a.Rounds {
		if round.Prompt == "" {
			return fmt.Errorf("%s: round %d has no prompt", a.ID, i+1)
		}
		if round.TimeLimitSeconds < 0 {
			return fmt.Errorf("%s: round %d has a negative time limit", a.ID, i+1)
		}
	}
	if a.PreparationSeconds != nil && *a.PreparationSeconds < 0 || a.MinRecordingMs < 0 {
		return fmt.Errorf("%s: negative duration", a.ID)
	}
	return nil
}

// Lookup finds an activity by id.
func (c *Catalog) Lookup(id string) (Activity, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return Activity{}, false
	}
	return c.activities[idx], true
}

// List returns activities in catalog order.
func (c *Catalog) List() []Activity {
	out := make([]Activity, len(c.activities))
	copy(out, c.activities)
	return out
}
