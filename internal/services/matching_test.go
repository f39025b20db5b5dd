package services

import (
	"context"
	"errors"
	"testing"

	"github.com/inaiurai/bidengine/internal/models"
)

// ---------------------------------------------------------------------------
// Fake ledger lookup
// ---------------------------------------------------------------------------

// fakeLookup mirrors the ledger's dedup contract: pending/won always block,
// failed blocks only when includeFailed is set.
type fakeLookup struct {
	status map[string]models.BidStatus
	err    error
}

func (f *fakeLookup) IsAttempted(_ context.Context, taskID string, includeFailed bool) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	st, ok := f.status[taskID]
	if !ok {
		return false, nil
	}
	if st.Active() {
		return true, nil
	}
	return includeFailed && st == models.BidStatusFailed, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func testRoster() []models.AgentProfile {
	return []models.AgentProfile{
		{Role: models.RoleBackend, DisplayName: "Forge", Skills: []string{"api", "backend", "automation"}, Categories: []string{CategoryBackend}},
		{Role: models.RoleContracts, DisplayName: "Ledgerwright", Skills: []string{"solidity", "token"}, Categories: []string{CategorySmartContract}},
		{Role: models.RoleFrontend, DisplayName: "Pixel", Skills: []string{"react", "dashboard"}, Categories: []string{CategoryFrontend}},
		{Role: models.RoleResearch, DisplayName: "Scout", Skills: []string{"research", "report"}, Categories: []string{CategoryResearch}},
	}
}

func newTestMatcher(t *testing.T, w MatchWeights) *Matcher {
	t.Helper()
	m, err := NewMatcher(testRoster(), models.RoleResearch, w)
	if err != nil {
		t.Fatalf("NewMatcher: %v", err)
	}
	return m
}

func openTask(id string, reward float64, tags ...string) models.Task {
	return models.Task{ID: id, Title: "task " + id, Reward: reward, Tags: tags, Status: models.TaskStatusOpen}
}

// ---------------------------------------------------------------------------
// SelectCandidates
// ---------------------------------------------------------------------------

func TestSelectCandidates_FiltersAndSorts(t *testing.T) {
	m := newTestMatcher(t, MatchWeights{})
	claimed := openTask("claimed", 900)
	claimed.Status = models.TaskStatusClaimed

	tasks := []models.Task{
		openTask("low", 50),
		openTask("zero", 0),
		claimed,
		openTask("high", 800),
		openTask("tieA", 300),
		openTask("tieB", 300),
	}
	got, err := m.SelectCandidates(context.Background(), tasks, &fakeLookup{}, false)
	if err != nil {
		t.Fatalf("SelectCandidates: %v", err)
	}
	want := []string{"high", "tieA", "tieB", "low"}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestSelectCandidates_DuplicateIDsKeepFirst(t *testing.T) {
	m := newTestMatcher(t, MatchWeights{})
	first := openTask("t1", 500)
	dup := openTask("t1", 900)
	dup.Title = "repeated page"
	tasks := []models.Task{first, openTask("t2", 100), dup}

	got, err := m.SelectCandidates(context.Background(), tasks, &fakeLookup{}, true)
	if err != nil {
		t.Fatalf("SelectCandidates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %v, want [t1 t2]", ids(got))
	}
	if got[0].ID != "t1" || got[0].Reward != 500 {
		t.Errorf("first candidate = %s reward %v, want t1 reward 500", got[0].ID, got[0].Reward)
	}
	if got[1].ID != "t2" {
		t.Errorf("second candidate = %s, want t2", got[1].ID)
	}
}

func TestSelectCandidates_ExcludesAttempted(t *testing.T) {
	m := newTestMatcher(t, MatchWeights{})
	lookup := &fakeLookup{status: map[string]models.BidStatus{
		"t1": models.BidStatusPending,
		"t2": models.BidStatusWon,
		"t3": models.BidStatusFailed,
		"t4": models.BidStatusLost,
	}}
	tasks := []models.Task{openTask("t1", 500), openTask("t2", 400), openTask("t3", 300), openTask("t4", 200)}

	cases := []struct {
		name          string
		includeFailed bool
		want          []string
	}{
		{"retry failed", false, []string{"t3", "t4"}},
		{"skip failed", true, []string{"t4"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := m.SelectCandidates(context.Background(), tasks, lookup, tc.includeFailed)
			if err != nil {
				t.Fatalf("SelectCandidates: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", ids(got), tc.want)
			}
			for i := range tc.want {
				if got[i].ID != tc.want[i] {
					t.Errorf("got %v, want %v", ids(got), tc.want)
				}
			}
		})
	}
}

func TestSelectCandidates_LookupError(t *testing.T) {
	m := newTestMatcher(t, MatchWeights{})
	boom := errors.New("db down")
	_, err := m.SelectCandidates(context.Background(), []models.Task{openTask("t1", 10)}, &fakeLookup{err: boom}, false)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped lookup error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Assign
// ---------------------------------------------------------------------------

func TestAssign_BackendAPITask(t *testing.T) {
	m := newTestMatcher(t, MatchWeights{})
	task := openTask("t1", 500, "api", "backend")

	res := m.Assign(&task)
	if res.Role != models.RoleBackend {
		t.Fatalf("expected backend agent, got %s", res.Role)
	}
	if res.Score < 12 {
		t.Errorf("expected score >= 12, got %d", res.Score)
	}
	if res.Agent == nil || res.Agent.DisplayName != "Forge" {
		t.Errorf("agent not populated: %+v", res.Agent)
	}
}

func TestAssign_CountsDistinctKeywordsOnce(t *testing.T) {
	m := newTestMatcher(t, MatchWeights{CategoryBonus: 0})
	task := models.Task{ID: "x", Title: "research research research", Description: "more research", Status: models.TaskStatusOpen, Reward: 1}

	res := m.Assign(&task)
	if res.Role != models.RoleResearch {
		t.Fatalf("expected research, got %s", res.Role)
	}
	if res.Score != 12 {
		t.Errorf("got score %d, want 12", res.Score)
	}
	if len(res.Reasons) != 1 || res.Reasons[0] != "research" {
		t.Errorf("reasons: got %v", res.Reasons)
	}
}

func TestAssign_CategoryBonus(t *testing.T) {
	m := newTestMatcher(t, MatchWeights{CategoryBonus: DefaultCategoryBonus})
	task := models.Task{ID: "x", Title: "Competitor research", Status: models.TaskStatusOpen, Reward: 1}

	res := m.Assign(&task)
	if res.Category != CategoryResearch {
		t.Fatalf("category: got %s", res.Category)
	}
	if res.Score != 12+DefaultCategoryBonus {
		t.Errorf("got score %d, want %d", res.Score, 12+DefaultCategoryBonus)
	}
}

func TestAssign_TieGoesToFirstProfile(t *testing.T) {
	roster := []models.AgentProfile{
		{Role: "first", Skills: []string{"api"}},
		{Role: "second", Skills: []string{"api"}},
	}
	m, err := NewMatcher(roster, "second", MatchWeights{})
	if err != nil {
		t.Fatal(err)
	}
	task := openTask("t", 10, "api")

	res := m.Assign(&task)
	if res.Role != "first" {
		t.Errorf("tie should go to first declared profile, got %s", res.Role)
	}
	if res.Score != 12 {
		t.Errorf("got score %d, want 12", res.Score)
	}
}

func TestAssign_FallbackToDefault(t *testing.T) {
	m := newTestMatcher(t, MatchWeights{})
	task := models.Task{ID: "x", Title: "water my plants", Status: models.TaskStatusOpen, Reward: 5}

	res := m.Assign(&task)
	if res.Role != models.RoleResearch {
		t.Errorf("expected default research agent, got %s", res.Role)
	}
	if res.Score != 0 {
		t.Errorf("expected score 0, got %d", res.Score)
	}
	if len(res.Reasons) != 0 {
		t.Errorf("expected no reasons, got %v", res.Reasons)
	}
}

func TestAssign_ClampsToMaxScore(t *testing.T) {
	roster := []models.AgentProfile{{Role: "research", Skills: []string{"a1", "a2", "a3", "a4", "a5"}}}
	m, err := NewMatcher(roster, "research", MatchWeights{KeywordWeight: 30, MaxScore: 100})
	if err != nil {
		t.Fatal(err)
	}
	task := models.Task{ID: "x", Title: "a1 a2 a3 a4 a5", Status: models.TaskStatusOpen, Reward: 1}
	if res := m.Assign(&task); res.Score != 100 {
		t.Errorf("got %d, want clamp to 100", res.Score)
	}
}

func TestAssign_Deterministic(t *testing.T) {
	m := newTestMatcher(t, MatchWeights{})
	tasks := []models.Task{
		openTask("a", 10, "solidity", "token"),
		openTask("b", 10, "react", "dashboard", "api"),
		{ID: "c", Title: "Research report on DeFi", Status: models.TaskStatusOpen, Reward: 10},
	}
	for _, task := range tasks {
		r1 := m.Assign(&task)
		r2 := m.Assign(&task)
		if r1.Role != r2.Role || r1.Score != r2.Score {
			t.Errorf("task %s: %s/%d vs %s/%d", task.ID, r1.Role, r1.Score, r2.Role, r2.Score)
		}
	}
}

func TestNewMatcher_UnknownDefaultRole(t *testing.T) {
	if _, err := NewMatcher(testRoster(), "janitor", MatchWeights{}); err == nil {
		t.Fatal("expected error for unknown default role")
	}
}

func ids(tasks []models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
