package ledger

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"bookforge/internal/book"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestJob(id, fp string) *Job {
	return &Job{
		ID:            id,
		Fingerprint:   fp,
		Format:        "epub",
		Filename:      "book.epub",
		EnrichEnabled: true,
	}
}

func TestCreateIfAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, created, err := store.CreateIfAbsent(ctx, newTestJob("job-1", "fp-1"), []byte("doc bytes"))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, StateQueued, job.State)
	require.True(t, job.EnrichEnabled)
	require.False(t, job.CreatedAt.IsZero())

	// Same fingerprint, different job ID: existing job wins.
	dup, created, err := store.CreateIfAbsent(ctx, newTestJob("job-2", "fp-1"), []byte("doc bytes"))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "job-1", dup.ID)

	data, err := store.DocumentData(ctx, "fp-1")
	require.NoError(t, err)
	require.Equal(t, []byte("doc bytes"), data)
}

func TestCreateIfAbsent_ConcurrentSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const racers = 8
	var wg sync.WaitGroup
	ids := make([]string, racers)
	createdFlags := make([]bool, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job := newTestJob(string(rune('a'+i))+"-job", "shared-fp")
			stored, created, err := store.CreateIfAbsent(ctx, job, []byte("same bytes"))
			require.NoError(t, err)
			ids[i] = stored.ID
			createdFlags[i] = created
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, c := range createdFlags {
		if c {
			winners++
		}
	}
	require.Equal(t, 1, winners, "exactly one concurrent submission may create the job")
	for i := 1; i < racers; i++ {
		require.Equal(t, ids[0], ids[i], "all racers must converge on the same job")
	}
}

func TestUpdateState_Transitions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.CreateIfAbsent(ctx, newTestJob("j", "fp"), nil)
	require.NoError(t, err)

	require.NoError(t, store.UpdateState(ctx, "j", StateConverting, "", nil))
	require.NoError(t, store.UpdateState(ctx, "j", StateEnriching, "", nil))
	require.NoError(t, store.UpdateState(ctx, "j", StateFailed, "enrichment failed", []int{1, 3}))

	job, err := store.GetByID(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, StateFailed, job.State)
	require.Equal(t, "enrichment failed", job.ErrorMessage)
	require.Equal(t, []int{1, 3}, job.FailedSections)

	// Retry path: failed -> enriching is allowed on request.
	require.NoError(t, store.UpdateState(ctx, "j", StateEnriching, "", nil))
	job, err = store.GetByID(ctx, "j")
	require.NoError(t, err)
	require.Empty(t, job.ErrorMessage)
	require.Empty(t, job.FailedSections)
}

func TestUpdateState_InvalidTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.CreateIfAbsent(ctx, newTestJob("j", "fp"), nil)
	require.NoError(t, err)

	// queued -> enriching skips conversion.
	err = store.UpdateState(ctx, "j", StateEnriching, "", nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// Completed is terminal.
	require.NoError(t, store.UpdateState(ctx, "j", StateConverting, "", nil))
	require.NoError(t, store.UpdateState(ctx, "j", StateCompleted, "", nil))
	err = store.UpdateState(ctx, "j", StateConverting, "", nil)
	require.ErrorIs(t, err, ErrInvalidTransition)

	job, err := store.GetByID(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, StateCompleted, job.State, "failed transition must not change state")
}

func TestUpdateState_NotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateState(context.Background(), "ghost", StateConverting, "", nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSections(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.CreateIfAbsent(ctx, newTestJob("j", "fp"), nil)
	require.NoError(t, err)

	sections := []book.Section{
		{Index: 0, Number: "1.", Title: "One", Content: "first"},
		{Index: 1, Number: "1.1.", Title: "One-One", Content: "nested"},
		{Index: 2, Number: "2.", Title: "Two", Content: "second"},
	}
	require.NoError(t, store.ReplaceSections(ctx, "j", sections))

	require.NoError(t, store.SetSectionResult(ctx, "j", 1, KindPlan, "the plan"))
	require.NoError(t, store.SetSectionResult(ctx, "j", 1, KindSummary, "the summary"))

	job, err := store.GetByID(ctx, "j")
	require.NoError(t, err)
	require.Len(t, job.Sections, 3)
	require.Equal(t, "1.1.", job.Sections[1].Number)
	require.Equal(t, "the plan", job.Sections[1].Plan)
	require.Equal(t, "the summary", job.Sections[1].Summary)
	require.True(t, job.Sections[1].Enriched())
	require.False(t, job.Sections[0].Enriched())
	require.Equal(t, "nested", job.Sections[1].Content, "enrichment must not alter content")
}

func TestSetSectionResult_Unknown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.CreateIfAbsent(ctx, newTestJob("j", "fp"), nil)
	require.NoError(t, err)

	err = store.SetSectionResult(ctx, "j", 0, KindPlan, "x")
	require.ErrorIs(t, err, ErrNotFound)

	err = store.SetSectionResult(ctx, "j", 0, "poem", "x")
	require.Error(t, err)
}

func TestSetTitle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.CreateIfAbsent(ctx, newTestJob("j", "fp"), nil)
	require.NoError(t, err)

	require.NoError(t, store.SetTitle(ctx, "j", "Discovered Title"))
	job, err := store.GetByID(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, "Discovered Title", job.Title)
}

func TestResumableJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, j := range []struct {
		id, fp string
		to     []State
	}{
		{"queued-job", "fp-a", nil},
		{"converting-job", "fp-b", []State{StateConverting}},
		{"done-job", "fp-c", []State{StateConverting, StateCompleted}},
		{"failed-job", "fp-d", []State{StateConverting, StateFailed}},
	} {
		_, _, err := store.CreateIfAbsent(ctx, newTestJob(j.id, j.fp), nil)
		require.NoError(t, err)
		for _, to := range j.to {
			require.NoError(t, store.UpdateState(ctx, j.id, to, "", nil))
		}
	}

	jobs, err := store.ResumableJobs(ctx)
	require.NoError(t, err)

	got := make([]string, 0, len(jobs))
	for _, j := range jobs {
		got = append(got, j.ID)
	}
	require.ElementsMatch(t, []string{"queued-job", "converting-job"}, got,
		"only non-terminal jobs are resumable; failed waits for explicit retry")
}

func TestGetByID_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetByID(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	_, _, err = store.CreateIfAbsent(ctx, newTestJob("j", "fp"), []byte("bytes"))
	require.NoError(t, err)
	require.NoError(t, store.UpdateState(ctx, "j", StateConverting, "", nil))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	job, err := store.GetByID(ctx, "j")
	require.NoError(t, err)
	require.Equal(t, StateConverting, job.State)

	data, err := store.DocumentData(ctx, "fp")
	require.NoError(t, err)
	require.Equal(t, []byte("bytes"), data)
}
