package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/inaiurai/bidengine/internal/models"
)

// Default scoring weights. All of them are overridable through MatchWeights.
const (
	DefaultKeywordWeight = 12
	DefaultCategoryBonus = 15
	DefaultMaxScore      = 100
)

// AttemptLookup is the minimal ledger interface required for candidate selection.
type AttemptLookup interface {
	IsAttempted(ctx context.Context, taskID string, includeFailed bool) (bool, error)
}

// MatchWeights are the heuristic scoring constants.
type MatchWeights struct {
	KeywordWeight int
	CategoryBonus int
	MaxScore      int
}

// Matcher ranks tasks and assigns each one to the best-fit agent profile.
type Matcher struct {
	profiles   []models.AgentProfile
	defaultIdx int
	weights    MatchWeights
}

// NewMatcher returns a Matcher over profiles in declaration order.
// defaultRole names the fallback profile for tasks that score zero
// everywhere; it must be present in profiles. Zero KeywordWeight or
// MaxScore fall back to the defaults; a zero CategoryBonus disables it.
func NewMatcher(profiles []models.AgentProfile, defaultRole string, weights MatchWeights) (*Matcher, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("matcher: no agent profiles")
	}
	idx := -1
	for i := range profiles {
		if profiles[i].Role == defaultRole {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("matcher: default role %q not in roster", defaultRole)
	}
	if weights.KeywordWeight <= 0 {
		weights.KeywordWeight = DefaultKeywordWeight
	}
	if weights.CategoryBonus < 0 {
		weights.CategoryBonus = 0
	}
	if weights.MaxScore <= 0 {
		weights.MaxScore = DefaultMaxScore
	}
	ps := make([]models.AgentProfile, len(profiles))
	copy(ps, profiles)
	return &Matcher{profiles: ps, defaultIdx: idx, weights: weights}, nil
}

// Profiles returns the roster in declaration order.
func (m *Matcher) Profiles() []models.AgentProfile {
	out := make([]models.AgentProfile, len(m.profiles))
	copy(out, m.profiles)
	return out
}

// SelectCandidates keeps eligible tasks that have no blocking ledger record
// and orders them by reward, highest first. Equal rewards keep source order.
// A task ID listed more than once is kept at its first occurrence.
func (m *Matcher) SelectCandidates(ctx context.Context, tasks []models.Task, lookup AttemptLookup, includeFailed bool) ([]models.Task, error) {
	out := make([]models.Task, 0, len(tasks))
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		if !t.Eligible() {
			continue
		}
		attempted, err := lookup.IsAttempted(ctx, t.ID, includeFailed)
		if err != nil {
			return nil, fmt.Errorf("ledger lookup %s: %w", t.ID, err)
		}
		if attempted {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Reward > out[j].Reward
	})
	return out, nil
}

// Assign scores the task against every profile and returns the winner.
// Each distinct skill keyword found in the task text adds KeywordWeight;
// a profile whose categories include the task's category gets CategoryBonus
// on top of at least one keyword hit. Ties go to the earlier profile.
func (m *Matcher) Assign(task *models.Task) models.MatchResult {
	text := task.Text()
	category := Classify(task)

	best := -1
	bestScore := 0
	var bestReasons []string
	for i := range m.profiles {
		p := &m.profiles[i]
		score, reasons := m.score(p, text, category)
		if score > bestScore {
			best, bestScore, bestReasons = i, score, reasons
		}
	}

	if best < 0 {
		p := &m.profiles[m.defaultIdx]
		return models.MatchResult{Agent: p, Role: p.Role, Score: 0, Reasons: []string{}, Category: category}
	}
	p := &m.profiles[best]
	return models.MatchResult{Agent: p, Role: p.Role, Score: bestScore, Reasons: bestReasons, Category: category}
}

func (m *Matcher) score(p *models.AgentProfile, text, category string) (int, []string) {
	seen := make(map[string]bool, len(p.Skills))
	reasons := []string{}
	score := 0
	for _, kw := range p.Skills {
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		if containsKeyword(text, kw) {
			score += m.weights.KeywordWeight
			reasons = append(reasons, kw)
		}
	}
	if score > 0 && m.weights.CategoryBonus > 0 {
		for _, c := range p.Categories {
			if c == category {
				score += m.weights.CategoryBonus
				reasons = append(reasons, "category:"+category)
				break
			}
		}
	}
	if score > m.weights.MaxScore {
		score = m.weights.MaxScore
	}
	return score, reasons
}
