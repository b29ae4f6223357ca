package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mozci/src/buildapi"
	"mozci/src/catalog"
)

func TestDetermineObjective_NoMatchingJobs(t *testing.T) {
	api := &fakeAPI{jobs: map[string][]buildapi.JobRecord{
		"try@abc123": {terminalJob("other-build", buildapi.StatusSuccess)},
	}}
	svc := defaultService(api)

	objective, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	assert.Equal(t, Objective{Builder: "linux64-build"}, objective)
}

func TestDetermineObjective_EmptyJobList(t *testing.T) {
	svc := defaultService(&fakeAPI{jobs: map[string][]buildapi.JobRecord{}})

	objective, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	assert.Equal(t, Objective{Builder: "linux64-build"}, objective)
}

func TestDetermineObjective_RunningBuild(t *testing.T) {
	// A build is in flight; triggering anything would double-schedule.
	api := &fakeAPI{jobs: map[string][]buildapi.JobRecord{
		"try@abc123": {runningJob("linux64-build")},
	}}
	svc := defaultService(api)

	objective, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	assert.True(t, objective.Empty())
}

func TestDetermineObjective_PendingBuildCountsAsRunning(t *testing.T) {
	api := &fakeAPI{jobs: map[string][]buildapi.JobRecord{
		"try@abc123": {pendingJob("linux64-build")},
	}}
	svc := defaultService(api)

	objective, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	assert.True(t, objective.Empty())
}

func TestDetermineObjective_EncounterOrderWins(t *testing.T) {
	// The first matching job in service order is in flight, so the scan
	// commits to waiting on it even though a later job succeeded.
	api := &fakeAPI{
		jobs: map[string][]buildapi.JobRecord{
			"try@abc123": {
				runningJob("linux64-build"),
				successfulJob("linux64-build", 7),
			},
		},
		statuses: map[int64]*buildapi.JobStatus{
			7: {Properties: map[string]interface{}{
				"packageUrl": "http://x/pkg",
				"testsUrl":   "http://x/tests",
			}},
		},
	}
	svc := defaultService(api)

	objective, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	assert.True(t, objective.Empty())
}

func TestDetermineObjective_SuccessWithReachableArtifacts(t *testing.T) {
	api := &fakeAPI{
		jobs: map[string][]buildapi.JobRecord{
			"try@abc123": {successfulJob("linux64-build", 7)},
		},
		statuses: map[int64]*buildapi.JobStatus{
			7: {Properties: map[string]interface{}{
				"packageUrl": "http://x/pkg",
				"testsUrl":   "http://x/tests",
			}},
		},
	}
	svc := defaultService(api)

	objective, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	assert.Equal(t, Objective{
		Builder: "linux64-test",
		Files:   []string{"http://x/pkg", "http://x/tests"},
	}, objective)
}

func TestDetermineObjective_SuccessTakesFirstInOrder(t *testing.T) {
	// The first success in encounter order wins over a later one.
	api := &fakeAPI{
		jobs: map[string][]buildapi.JobRecord{
			"try@abc123": {
				terminalJob("linux64-build", buildapi.StatusFailure),
				successfulJob("linux64-build", 7),
				successfulJob("linux64-build", 8),
			},
		},
		statuses: map[int64]*buildapi.JobStatus{
			7: {Properties: map[string]interface{}{"packageUrl": "http://seven/pkg", "testsUrl": "http://seven/tests"}},
			8: {Properties: map[string]interface{}{"packageUrl": "http://eight/pkg", "testsUrl": "http://eight/tests"}},
		},
	}
	svc := defaultService(api)

	objective, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://seven/pkg", "http://seven/tests"}, objective.Files)
}

func TestDetermineObjective_SuccessWithoutArtifactURLs(t *testing.T) {
	// A successful build whose status document carries no artifact URLs
	// still selects the test builder, just with an empty file list. The
	// reachability probe has nothing to check, so it passes. Long-standing
	// self-serve behavior; downstream the test job decides what a missing
	// installer means.
	api := &fakeAPI{
		jobs: map[string][]buildapi.JobRecord{
			"try@abc123": {successfulJob("linux64-build", 7)},
		},
		statuses: map[int64]*buildapi.JobStatus{
			7: {Properties: map[string]interface{}{
				"buildername": "linux64-build",
			}},
		},
	}
	svc := defaultService(api)

	objective, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	assert.Equal(t, "linux64-test", objective.Builder)
	assert.Empty(t, objective.Files)
}

func TestDetermineObjective_ExpiredArtifactsRebuild(t *testing.T) {
	// The build succeeded but its artifacts are gone upstream, so the
	// objective degrades to retriggering the build with no files.
	api := &fakeAPI{
		jobs: map[string][]buildapi.JobRecord{
			"try@abc123": {successfulJob("linux64-build", 7)},
		},
		statuses: map[int64]*buildapi.JobStatus{
			7: {Properties: map[string]interface{}{
				"packageUrl": "http://x/pkg",
				"testsUrl":   "http://x/tests",
			}},
		},
		unreachable: map[string]bool{"http://x/tests": true},
	}
	svc := defaultService(api)

	objective, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	assert.Equal(t, Objective{Builder: "linux64-build"}, objective)
	assert.Empty(t, objective.Files)
}

func TestDetermineObjective_AllTerminalFailures(t *testing.T) {
	api := &fakeAPI{jobs: map[string][]buildapi.JobRecord{
		"try@abc123": {
			terminalJob("linux64-build", buildapi.StatusFailure),
			terminalJob("linux64-build", buildapi.StatusException),
			terminalJob("linux64-build", buildapi.StatusRetry),
			terminalJob("linux64-build", buildapi.StatusCancelled),
		},
	}}
	svc := defaultService(api)

	objective, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	assert.Equal(t, Objective{Builder: "linux64-build"}, objective)
}

func TestDetermineObjective_Idempotent(t *testing.T) {
	// With unchanged upstream state the decision is a pure function.
	api := &fakeAPI{
		jobs: map[string][]buildapi.JobRecord{
			"try@abc123": {successfulJob("linux64-build", 7)},
		},
		statuses: map[int64]*buildapi.JobStatus{
			7: {Properties: map[string]interface{}{
				"packageUrl": "http://x/pkg",
				"testsUrl":   "http://x/tests",
			}},
		},
	}
	svc := defaultService(api)

	first, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	second, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDetermineObjective_InconsistentMapping(t *testing.T) {
	// The upstream mapping names a builder the catalog rejects.
	api := &fakeAPI{}
	builders := &fakeBuilders{
		valid:    map[string]bool{"linux64-test": true},
		upstream: map[string]string{"linux64-test": "linux64-build"},
	}
	svc := New(api, &fakePushLog{}, fakeRepos{}, catalogAdapter{builders}, silentLogger())
	_, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	assert.Error(t, err)
}

func TestDetermineObjective_MissingJobStatusSurfaced(t *testing.T) {
	api := &fakeAPI{
		jobs: map[string][]buildapi.JobRecord{
			"try@abc123": {successfulJob("linux64-build", 7)},
		},
		// No detailed status for request 7.
	}
	svc := defaultService(api)

	_, err := svc.DetermineObjective(context.Background(), "try", "abc123", "linux64-test")
	assert.ErrorIs(t, err, buildapi.ErrMissingJobStatus)
}

func TestFilterByBuilder(t *testing.T) {
	jobs := []buildapi.JobRecord{
		pendingJob("a"),
		pendingJob("b"),
		runningJob("a"),
	}

	matching := FilterByBuilder(jobs, "a")
	require.Len(t, matching, 2)
	assert.True(t, matching[0].InFlight())
	assert.Equal(t, "a", matching[1].BuilderName)

	assert.Empty(t, FilterByBuilder(jobs, "c"))
}

func TestClassifyJobs(t *testing.T) {
	tests := []struct {
		name string
		jobs []buildapi.JobRecord
		want scanOutcome
	}{
		{
			name: "empty list finds nothing",
			want: noneFound,
		},
		{
			name: "running first short-circuits",
			jobs: []buildapi.JobRecord{runningJob("b"), successfulJob("b", 1)},
			want: foundRunning,
		},
		{
			name: "success first short-circuits",
			jobs: []buildapi.JobRecord{successfulJob("b", 1), runningJob("b")},
			want: foundSuccessful,
		},
		{
			name: "terminal failures are skipped",
			jobs: []buildapi.JobRecord{
				terminalJob("b", buildapi.StatusFailure),
				successfulJob("b", 1),
			},
			want: foundSuccessful,
		},
		{
			name: "all terminal non-success",
			jobs: []buildapi.JobRecord{
				terminalJob("b", buildapi.StatusFailure),
				terminalJob("b", buildapi.StatusWarning),
			},
			want: noneFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, _ := classifyJobs(tt.jobs)
			assert.Equal(t, tt.want, outcome)
		})
	}
}

// catalogAdapter turns a fakeBuilders into the strict Builders contract the
// real catalog enforces: an upstream result the catalog does not recognize
// is an inconsistency, not a usable answer.
type catalogAdapter struct {
	inner *fakeBuilders
}

func (c catalogAdapter) IsValid(ctx context.Context, builderName string) (bool, error) {
	return c.inner.IsValid(ctx, builderName)
}

func (c catalogAdapter) UpstreamBuilder(ctx context.Context, builderName, repoName string) (string, error) {
	up, err := c.inner.UpstreamBuilder(ctx, builderName, repoName)
	if err != nil {
		return "", err
	}
	valid, _ := c.inner.IsValid(ctx, up)
	if !valid {
		return "", catalog.ErrInconsistentCatalog
	}
	return up, nil
}
