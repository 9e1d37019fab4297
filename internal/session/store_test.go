package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DigiBanks99/lopen/internal/tasktree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func sampleState(id string, complete bool, updatedAt time.Time) State {
	return State{
		SessionID:     id,
		Module:        "auth",
		Phase:         PhaseBuilding,
		Step:          StepIterateTasks,
		TaskTree:      tasktree.NewTree("auth", "auth module"),
		SectionHashes: map[string]string{"Dependencies": "ABC123"},
		IsComplete:    complete,
		CreatedAt:     updatedAt,
		UpdatedAt:     updatedAt,
	}
}

func TestNextSessionID_AllocatesAscendingCounter(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)

	id1, err := s.NextSessionID("auth", day)
	require.NoError(t, err)
	assert.Equal(t, "auth-20260115-1", id1)

	require.NoError(t, s.Save(sampleState(id1, false, day), Metrics{}))

	id2, err := s.NextSessionID("auth", day)
	require.NoError(t, err)
	assert.Equal(t, "auth-20260115-2", id2)
}

func TestSaveAndLoad_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	st := sampleState("auth-20260115-1", false, day)
	m := Metrics{IterationCount: 3, CumulativeInputTokens: 100}

	require.NoError(t, s.Save(st, m))

	loaded, loadedM, ok, err := s.Load("auth-20260115-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, st.Module, loaded.Module)
	assert.Equal(t, 3, loadedM.IterationCount)

	latest, ok, err := s.Latest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "auth-20260115-1", latest)
}

func TestLoad_MissingSessionReturnsNotOkNoError(t *testing.T) {
	s := newTestStore(t)
	_, _, ok, err := s.Load("does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoad_CorruptStateIsQuarantinedNotThrown(t *testing.T) {
	s := newTestStore(t)
	day := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	st := sampleState("auth-20260115-1", false, day)
	require.NoError(t, s.Save(st, Metrics{}))

	require.NoError(t, os.WriteFile(s.stateFile("auth-20260115-1"), []byte("{not json"), 0o644))

	_, _, ok, err := s.Load("auth-20260115-1")
	require.NoError(t, err, "corruption must never surface as an error to the caller")
	assert.False(t, ok)

	entries, err := os.ReadDir(s.corruptedDir())
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPrune_RemovesOldestCompletedBeyondRetentionLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		id := sessionIDFor(i)
		require.NoError(t, s.Save(sampleState(id, true, base.AddDate(0, 0, i)), Metrics{}))
	}
	// one incomplete session that must never be pruned
	require.NoError(t, s.Save(sampleState("auth-20260104-1", false, base.AddDate(0, 0, 4)), Metrics{}))

	require.NoError(t, s.Prune(1))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Contains(t, ids, "auth-20260104-1", "incomplete session must survive pruning")
	assert.Contains(t, ids, sessionIDFor(2), "most recently completed session must survive")
	assert.NotContains(t, ids, sessionIDFor(0))
	assert.NotContains(t, ids, sessionIDFor(1))
}

func sessionIDFor(i int) string {
	days := []string{"20260101", "20260102", "20260103"}
	return "auth-" + days[i] + "-1"
}

func TestPrune_ZeroRetentionLimitIsNoop(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(sampleState("auth-20260101-1", true, time.Now()), Metrics{}))
	require.NoError(t, s.Prune(0))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestPlan_WriteAndSetChecked(t *testing.T) {
	s := newTestStore(t)
	body := "## Components\n- [ ] Component A\n  - [ ] task 1\n  - [x] task 2\n"
	require.NoError(t, s.WritePlan("auth", body))

	ok, err := s.SetChecked("auth", "task 1", true)
	require.NoError(t, err)
	require.True(t, ok)

	raw, err := os.ReadFile(s.PlanPath("auth"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[x] task 1")
	assert.Contains(t, string(raw), "[x] task 2", "unrelated lines must be preserved")
}

func TestPlan_SetCheckedMissingItemReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WritePlan("auth", "## Components\n- [ ] Component A\n"))

	ok, err := s.SetChecked("auth", "nonexistent", true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewStore_CreatesFixedLayout(t *testing.T) {
	root := t.TempDir()
	_, err := NewStore(root)
	require.NoError(t, err)

	for _, dir := range []string{"sessions", "modules", filepath.Join("cache", "sections"), filepath.Join("cache", "assessments"), "corrupted"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
