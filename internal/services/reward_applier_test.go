package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studentforge-backend/internal/models"
)

type applierDeps struct {
	profiles    *fakeProfiles
	progress    *fakeProgress
	history     *fakeHistory
	queue       *MemoryJobQueue
	leaderboard *fakeLeaderboard
}

func newTestApplier() (*RewardApplier, applierDeps) {
	d := applierDeps{
		profiles:    newFakeProfiles(),
		progress:    newFakeProgress(),
		history:     newFakeHistory(),
		queue:       &MemoryJobQueue{},
		leaderboard: &fakeLeaderboard{},
	}
	return NewRewardApplier(d.progress, d.profiles, d.history, d.queue, d.leaderboard), d
}

func TestRewardApplier_AppliesAllSteps(t *testing.T) {
	a, d := newTestApplier()
	user := testUser()
	doc := uuid.New()

	res := a.Apply(context.Background(), RewardDelta{
		UserID:   user,
		EventID:  "s1:e1",
		XP:       510,
		Reason:   ReasonPageTurn,
		Progress: &models.ReadingProgress{UserID: user, DocumentID: doc, LastPage: 5, CompletionPercentage: 25},
		Badges:   []string{"first_page", "on_a_roll"},
		History:  &models.StudyHistoryEntry{ID: uuid.New(), UserID: user, ActionType: ActionReadingSession, EntityID: doc},
	})

	assert.False(t, res.SyncPending)
	assert.Empty(t, res.FailedSteps)
	assert.True(t, res.XPApplied)
	assert.Equal(t, 510, res.Award.XP)
	assert.True(t, res.Award.LevelUp())
	assert.Equal(t, 2, res.Award.Level)
	assert.Equal(t, []string{"first_page", "on_a_roll"}, res.Badges)
	assert.Len(t, d.history.entries, 1)
	assert.Equal(t, 510, d.leaderboard.scores[user])

	p, _ := d.progress.Get(context.Background(), user, doc)
	require.NotNil(t, p)
	assert.Equal(t, 5, p.LastPage)
	assert.Zero(t, d.queue.Len())
}

func TestRewardApplier_ReplayedEventIsNoop(t *testing.T) {
	a, d := newTestApplier()
	user := testUser()
	delta := RewardDelta{UserID: user, EventID: "s1:e1", XP: 60, Reason: ReasonPageTurn}

	first := a.Apply(context.Background(), delta)
	second := a.Apply(context.Background(), delta)

	assert.True(t, first.Award.Applied)
	assert.False(t, second.Award.Applied)
	assert.Equal(t, 60, d.profiles.get(user).XP)
}

func TestRewardApplier_FailedStepsAreIndependentAndQueued(t *testing.T) {
	a, d := newTestApplier()
	user := testUser()
	doc := uuid.New()
	d.profiles.failXP = 1
	d.history.fail = true

	res := a.Apply(context.Background(), RewardDelta{
		UserID:   user,
		EventID:  "s1:e7",
		XP:       60,
		Reason:   ReasonPageTurn,
		Progress: &models.ReadingProgress{UserID: user, DocumentID: doc, LastPage: 5, CompletionPercentage: 25},
		Badges:   []string{"chapter_champion"},
		History:  &models.StudyHistoryEntry{ID: uuid.New(), UserID: user, EntityID: doc},
	})

	assert.True(t, res.SyncPending)
	assert.Equal(t, []string{StepXP, StepHistory}, res.FailedSteps)
	assert.False(t, res.XPApplied)

	// Progress and badges still went through.
	p, _ := d.progress.Get(context.Background(), user, doc)
	require.NotNil(t, p)
	assert.Equal(t, []string{"chapter_champion"}, d.profiles.get(user).Badges)

	require.Equal(t, 2, d.queue.Len())
	job := d.queue.Jobs[0]
	assert.Equal(t, models.JobRewardSync, job.Type)

	var task models.RewardSyncTask
	require.NoError(t, json.Unmarshal(job.ConfigJSON, &task))
	assert.Equal(t, StepXP, task.Step)
	assert.Equal(t, "s1:e7", task.EventID)
	assert.Equal(t, 60, task.Amount)

	// The worker replays the step once the database is back.
	require.NoError(t, a.Replay(context.Background(), task))
	require.NoError(t, a.Replay(context.Background(), task))
	assert.Equal(t, 60, d.profiles.get(user).XP)
}

func TestRewardApplier_SkipsEmptyParts(t *testing.T) {
	a, d := newTestApplier()

	res := a.Apply(context.Background(), RewardDelta{UserID: testUser(), EventID: "x"})

	assert.False(t, res.SyncPending)
	assert.False(t, res.XPApplied)
	assert.Zero(t, d.progress.calls)
	assert.Zero(t, d.queue.Len())
}

func TestRewardApplier_ReplayRejectsUnknownStep(t *testing.T) {
	a, _ := newTestApplier()
	assert.Error(t, a.Replay(context.Background(), models.RewardSyncTask{Step: "bogus"}))
	assert.Error(t, a.Replay(context.Background(), models.RewardSyncTask{Step: StepHistory}))
}
