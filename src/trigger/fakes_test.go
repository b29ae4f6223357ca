package trigger

import (
	"context"
	"fmt"
	"net/url"

	"mozci/src/buildapi"
	"mozci/src/logger"
	"mozci/src/pushlog"
)

func silentLogger() logger.Logger {
	return logger.NewSilentLogger()
}

type postCall struct {
	url     string
	payload url.Values
}

// fakeAPI stands in for the self-serve client.
type fakeAPI struct {
	jobs    map[string][]buildapi.JobRecord // keyed "repo@rev"
	jobsErr error

	statuses  map[int64]*buildapi.JobStatus // keyed by request id
	statusErr error

	unreachable map[string]bool

	posts        []postCall
	postStatuses []int // consumed per call; empty means 202
	postErr      error
}

func (f *fakeAPI) ListJobs(ctx context.Context, repoName, revision string) ([]buildapi.JobRecord, error) {
	if f.jobsErr != nil {
		return nil, f.jobsErr
	}
	return f.jobs[repoName+"@"+revision], nil
}

func (f *fakeAPI) JobStatus(ctx context.Context, completeAt, requestID int64) (*buildapi.JobStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status, ok := f.statuses[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: request %d", buildapi.ErrMissingJobStatus, requestID)
	}
	return status, nil
}

func (f *fakeAPI) PostTrigger(ctx context.Context, triggerURL string, payload url.Values) (*buildapi.TriggerResponse, error) {
	if f.postErr != nil {
		return nil, f.postErr
	}
	f.posts = append(f.posts, postCall{url: triggerURL, payload: payload})
	status := 202
	if len(f.postStatuses) > 0 {
		status = f.postStatuses[0]
		f.postStatuses = f.postStatuses[1:]
	}
	return &buildapi.TriggerResponse{StatusCode: status, Body: `{"request_id": 1}`}, nil
}

func (f *fakeAPI) AllReachable(ctx context.Context, urls []string) bool {
	for _, u := range urls {
		if f.unreachable[u] {
			return false
		}
	}
	return true
}

func (f *fakeAPI) TriggerURL(repoName, builderName, revision string) string {
	return fmt.Sprintf("https://selfserve.test/%s/builders/%s/%s", repoName, builderName, revision)
}

func (f *fakeAPI) ScheduleURL(repoName, revision string) string {
	return fmt.Sprintf("https://selfserve.test/%s/rev/%s", repoName, revision)
}

// fakePushLog serves canned changeset descriptions per revision.
type fakePushLog struct {
	descs map[string]string
	err   error
}

func (f *fakePushLog) RevisionInfo(ctx context.Context, repoURL, revision string, full bool) (*pushlog.PushInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pushlog.PushInfo{
		PushID:     "1",
		Changesets: []pushlog.Changeset{{Node: revision, Desc: f.descs[revision]}},
	}, nil
}

type fakeRepos struct{}

func (fakeRepos) RepoURL(ctx context.Context, repoName string) (string, error) {
	return "https://hg.example.com/" + repoName, nil
}

// fakeBuilders is a canned catalog.
type fakeBuilders struct {
	valid       map[string]bool
	upstream    map[string]string
	upstreamErr error
}

func (f *fakeBuilders) IsValid(ctx context.Context, builderName string) (bool, error) {
	return f.valid[builderName], nil
}

func (f *fakeBuilders) UpstreamBuilder(ctx context.Context, builderName, repoName string) (string, error) {
	if f.upstreamErr != nil {
		return "", f.upstreamErr
	}
	up, ok := f.upstream[builderName]
	if !ok {
		return "", fmt.Errorf("no upstream builder known for %q", builderName)
	}
	return up, nil
}

// Job record fixtures. Pending records have no status key at all; running
// records carry a null status; terminal records carry a numeric one.

func pendingJob(name string) buildapi.JobRecord {
	return buildapi.JobRecord{BuilderName: name}
}

func runningJob(name string) buildapi.JobRecord {
	return buildapi.JobRecord{BuilderName: name, HasStatus: true, EndTime: "2015-02-15 12:00:00"}
}

func terminalJob(name string, status int) buildapi.JobRecord {
	return buildapi.JobRecord{BuilderName: name, HasStatus: true, StatusSet: true, Status: status}
}

func successfulJob(name string, requestID int64) buildapi.JobRecord {
	job := terminalJob(name, buildapi.StatusSuccess)
	job.Requests = []buildapi.JobRequest{{CompleteAt: 1424000000, RequestID: requestID}}
	return job
}

// defaultService builds a Service over the fakes with a standard catalog:
// linux64-test depends on linux64-build, both valid.
func defaultService(api *fakeAPI) *Service {
	return newService(api, &fakePushLog{descs: map[string]string{}})
}

func newService(api *fakeAPI, plog *fakePushLog) *Service {
	builders := &fakeBuilders{
		valid:    map[string]bool{"linux64-test": true, "linux64-build": true},
		upstream: map[string]string{"linux64-test": "linux64-build", "linux64-build": "linux64-build"},
	}
	return New(api, plog, fakeRepos{}, builders, silentLogger())
}
