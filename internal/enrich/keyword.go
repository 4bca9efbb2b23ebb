package enrich

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskbridge/taskbridge/pkg/api"
)

// KeywordStrategy is the default, deterministic enrichment strategy. It
// buckets priority and effort on keywords in the task title and
// description, derives tags from a domain dictionary, detects dependency
// phrases, and suggests assignees from the tag set.
type KeywordStrategy struct{}

var _ Strategy = (*KeywordStrategy)(nil)

// NewKeywordStrategy creates the default rule-based strategy.
func NewKeywordStrategy() *KeywordStrategy {
	return &KeywordStrategy{}
}

func (s *KeywordStrategy) Name() string { return "keyword" }

// priorityBuckets are evaluated in order; the first match wins.
// Priority 1 is the highest, 5 the lowest.
var priorityBuckets = []struct {
	keywords []string
	priority int
}{
	{[]string{"urgent", "critical"}, 1},
	{[]string{"bug", "security"}, 2},
	{[]string{"feature"}, 3},
	{[]string{"test", "doc"}, 4},
	{[]string{"optional"}, 5},
}

// effortBuckets are evaluated in order; the first match wins.
var effortBuckets = []struct {
	keywords []string
	hours    float64
}{
	{[]string{"simple", "minor"}, 1},
	{[]string{"complex", "refactor"}, 8},
	{[]string{"integration"}, 4},
	{[]string{"ui"}, 3},
	{[]string{"test", "doc"}, 2},
}

// tagDictionary maps domain keywords to tags. Ordered so the produced
// tag list is deterministic for a given task.
var tagDictionary = []struct {
	keyword string
	tag     string
}{
	{"api", "api"},
	{"endpoint", "api"},
	{"ui", "frontend"},
	{"frontend", "frontend"},
	{"screen", "frontend"},
	{"database", "database"},
	{"migration", "database"},
	{"sql", "database"},
	{"auth", "security"},
	{"security", "security"},
	{"test", "testing"},
	{"doc", "documentation"},
	{"deploy", "infrastructure"},
	{"infra", "infrastructure"},
	{"performance", "performance"},
	{"bug", "bugfix"},
	{"sync", "integration"},
	{"integration", "integration"},
}

// assigneeByTag suggests an owner role per tag.
var assigneeByTag = map[string]string{
	"api":            "backend-team",
	"frontend":       "frontend-team",
	"database":       "backend-team",
	"security":       "security-team",
	"testing":        "qa-team",
	"documentation":  "docs-team",
	"infrastructure": "platform-team",
	"performance":    "backend-team",
	"bugfix":         "backend-team",
	"integration":    "platform-team",
}

var dependencyPhrases = []string{"depends on", "requires", "after"}

const (
	defaultPriority = 3
	defaultEffort   = 2.0
)

func (s *KeywordStrategy) Enrich(ctx context.Context, task *api.StagedTask) (*api.EnrichmentPayload, error) {
	text := strings.ToLower(task.Title + " " + task.Description)

	p := &api.EnrichmentPayload{
		Description:  s.description(task),
		UnitTests:    s.unitTests(task),
		Priority:     bucketPriority(text),
		EffortHours:  bucketEffort(text),
		Dependencies: detectDependencies(task.Description),
		Tags:         s.tags(task, text),
	}
	p.Assignees = suggestAssignees(p.Tags)
	p.Confidence = confidence(p)
	return p, nil
}

func (s *KeywordStrategy) description(task *api.StagedTask) string {
	if task.Description != "" {
		return task.Description
	}
	return fmt.Sprintf("Implement %q for project %s. Acceptance: the change is covered by unit tests and reviewed before promotion.",
		task.Title, task.ProjectRef)
}

func (s *KeywordStrategy) unitTests(task *api.StagedTask) []string {
	slug := slugify(task.Title)
	return []string{
		"Test" + slug + "_HappyPath",
		"Test" + slug + "_InvalidInput",
	}
}

func (s *KeywordStrategy) tags(task *api.StagedTask, text string) []string {
	seen := make(map[string]bool, len(task.Tags))
	tags := make([]string, 0, len(task.Tags)+2)
	for _, t := range task.Tags {
		if !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}

	for _, entry := range tagDictionary {
		if strings.Contains(text, entry.keyword) && !seen[entry.tag] {
			seen[entry.tag] = true
			tags = append(tags, entry.tag)
		}
	}

	if len(tags) == 0 {
		tags = append(tags, "general")
	}
	return tags
}

func bucketPriority(text string) int {
	for _, bucket := range priorityBuckets {
		for _, kw := range bucket.keywords {
			if strings.Contains(text, kw) {
				return bucket.priority
			}
		}
	}
	return defaultPriority
}

func bucketEffort(text string) float64 {
	for _, bucket := range effortBuckets {
		for _, kw := range bucket.keywords {
			if strings.Contains(text, kw) {
				return bucket.hours
			}
		}
	}
	return defaultEffort
}

// detectDependencies naively pulls the remainder of any sentence that
// follows a dependency phrase.
func detectDependencies(description string) []string {
	lower := strings.ToLower(description)

	var deps []string
	for _, phrase := range dependencyPhrases {
		idx := 0
		for {
			i := strings.Index(lower[idx:], phrase+" ")
			if i < 0 {
				break
			}
			start := idx + i + len(phrase) + 1
			end := start
			for end < len(description) && description[end] != '.' && description[end] != ',' && description[end] != '\n' {
				end++
			}
			if dep := strings.TrimSpace(description[start:end]); dep != "" {
				deps = append(deps, dep)
			}
			idx = start
		}
	}
	return deps
}

func suggestAssignees(tags []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tag := range tags {
		if team, ok := assigneeByTag[tag]; ok && !seen[team] {
			seen[team] = true
			out = append(out, team)
		}
	}
	if len(out) == 0 {
		out = append(out, "triage-team")
	}
	return out
}

// confidence is a completeness heuristic, not a probability: it rewards
// a substantial description, generated tests, tags and a nonzero effort
// estimate, clamped to [0,1].
func confidence(p *api.EnrichmentPayload) float64 {
	score := 0.0
	switch {
	case len(p.Description) >= 100:
		score += 0.4
	case len(p.Description) >= 30:
		score += 0.25
	case len(p.Description) > 0:
		score += 0.1
	}
	if len(p.UnitTests) >= 2 {
		score += 0.25
	} else if len(p.UnitTests) == 1 {
		score += 0.15
	}
	if len(p.Tags) > 0 {
		score += 0.2
	}
	if p.EffortHours > 0 {
		score += 0.15
	}
	if score > 1 {
		score = 1
	}
	return score
}

func slugify(title string) string {
	var b strings.Builder
	upperNext := true
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z':
			if upperNext {
				r -= 'a' - 'A'
			}
			b.WriteRune(r)
			upperNext = false
		case r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			upperNext = false
		default:
			upperNext = true
		}
	}
	if b.Len() == 0 {
		return "Task"
	}
	return b.String()
}
