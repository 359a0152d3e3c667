package content

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"podium/internal/domain"
)

const (
	DefaultPreparation          = 5 * time.Second
	DefaultMinRecordingDuration = 2000 * time.Millisecond
	DefaultRoundTimeLimit       = 60 * time.Second
)

// topicParam is filled from the activity's topic list.
const topicParam = "topic"

var placeholderRE = regexp.MustCompile(`\{([a-z][a-z0-9_]*)\}`)

// Resolver turns selections into session configurations. Given the same
// selection it always returns the same configuration.
type Resolver struct {
	catalog *Catalog
	now     func() time.Time
}

// NewResolver uses now for selections that carry no date.
func NewResolver(catalog *Catalog, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{catalog: catalog, now: now}
}

func (r *Resolver) Catalog() *Catalog { return r.catalog }

func (r *Resolver) Resolve(sel domain.Selection) (domain.SessionConfig, error) {
	activity, ok := r.catalog.Lookup(sel.ActivityID)
	if !ok {
		return domain.SessionConfig{}, &domain.ConfigError{ActivityID: sel.ActivityID, Detail: "unknown activity"}
	}

	date := sel.Date
	if date.IsZero() {
		date = r.now()
	}

	params, err := resolveParams(activity, sel, date)
	if err != nil {
		return domain.SessionConfig{}, err
	}
	fill := func(text string) string {
		return placeholderRE.ReplaceAllStringFunc(text, func(match string) string {
			return params[match[1:len(match)-1]]
		})
	}

	cfg := domain.SessionConfig{
		ActivityID:           activity.ID,
		Kind:                 activity.Kind,
		Title:                fill(activity.Title),
		Persona:              fill(activity.Persona),
		RequiresAdvisoryTurn: activity.Kind.Conversational(),
		MinRecordingDuration: DefaultMinRecordingDuration,
		Preparation:          DefaultPreparation,
		Resumable:            activity.Resumable,
		Params:               params,
	}
	if activity.RequiresAdvisory != nil {
		cfg.RequiresAdvisoryTurn = *activity.RequiresAdvisory
	}
	if activity.MinRecordingMs > 0 {
		cfg.MinRecordingDuration = time.Duration(activity.MinRecordingMs) * time.Millisecond
	}
	// Zero preparation starts capture as soon as the round opens.
	if activity.PreparationSeconds != nil {
		cfg.Preparation = time.Duration(*activity.PreparationSeconds) * time.Second
	}
	if activity.Resumable {
		cfg.SessionID = SessionID(activity, date)
	}

	cfg.Rounds = make([]domain.RoundSpec, 0, len(activity.Rounds))
	for _, round := range activity.Rounds {
		limit := DefaultRoundTimeLimit
		if round.TimeLimitSeconds > 0 {
			limit = time.Duration(round.TimeLimitSeconds) * time.Second
		}
		cfg.Rounds = append(cfg.Rounds, domain.RoundSpec{
			Prompt:      fill(round.Prompt),
			Hint:        fill(round.Hint),
			Counterpart: fill(round.Counterpart),
			TimeLimit:   limit,
		})
	}
	return cfg, nil
}

// MustResolve is Resolve for selections known to be valid, such as
// built-in defaults. It panics on error.
func (r *Resolver) MustResolve(sel domain.Selection) domain.SessionConfig {
	cfg, err := r.Resolve(sel)
	if err != nil {
		panic(err)
	}
	return cfg
}

// SessionID is the deterministic id of a resumable activity on a given day.
// The daily challenge is keyed by its kind so renaming it keeps history.
func SessionID(activity Activity, date time.Time) string {
	prefix := activity.ID
	if activity.Kind == domain.KindDailyChallenge {
		prefix = string(domain.KindDailyChallenge)
	}
	return prefix + ":" + date.Format(domain.DayLayout)
}

func resolveParams(activity Activity, sel domain.Selection, date time.Time) (map[string]string, error) {
	params := make(map[string]string, len(activity.Params)+1)
	var missing []string
	for _, p := range activity.Params {
		value := strings.TrimSpace(sel.Params[p.Name])
		if value == "" {
			value = p.Default
		}
		if value == "" {
			missing = append(missing, p.Name)
			continue
		}
		params[p.Name] = value
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &domain.ConfigError{
			ActivityID: activity.ID,
			Detail:     "missing required params: " + strings.Join(missing, ", "),
		}
	}

	if len(activity.Topics) > 0 {
		params[topicParam] = pickTopic(activity, sel.Variant, date)
	}

	if unresolved := unresolvedPlaceholders(activity, params); len(unresolved) > 0 {
		return nil, &domain.ConfigError{
			ActivityID: activity.ID,
			Detail:     "unresolved placeholders: " + strings.Join(unresolved, ", "),
		}
	}
	return params, nil
}

// pickTopic rotates the daily challenge by day of year and everything else
// by the caller's variant.
func pickTopic(activity Activity, variant int, date time.Time) string {
	n := len(activity.Topics)
	index := variant
	if activity.Kind == domain.KindDailyChallenge {
		index = date.YearDay() - 1 + variant
	}
	index %= n
	if index < 0 {
		index += n
	}
	return activity.Topics[index]
}

func unresolvedPlaceholders(activity Activity, params map[string]string) []string {
	texts := []string{activity.Title, activity.Persona}
	for _, round := range activity.Rounds {
		texts = append(texts, round.Prompt, round.Hint, round.Counterpart)
	}

	seen := map[string]bool{}
	var out []string
	for _, text := range texts {
		for _, match := range placeholderRE.FindAllStringSubmatch(text, -1) {
			name := match[1]
			if _, ok := params[name]; ok || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Describe renders a short catalog line for listings.
func Describe(a Activity) string {
	return fmt.Sprintf("%-22s %-16s %d round(s)  %s", a.ID, a.Kind, len(a.Rounds), a.Title)
}
