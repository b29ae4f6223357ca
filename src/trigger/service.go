// Package trigger decides whether a job needs scheduling and issues the
// trigger requests. This is the decision core: given the current job state
// for a revision it either triggers the requested builder, triggers the
// upstream build builder whose artifacts it depends on, or does nothing.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"mozci/src/buildapi"
	"mozci/src/catalog"
	"mozci/src/logger"
	"mozci/src/pushlog"
)

// DoNotBuildMarker in the tip changeset description excludes a push from CI.
const DoNotBuildMarker = "DONTBUILD"

// BuildAPI is the slice of the self-serve client the core consumes.
type BuildAPI interface {
	ListJobs(ctx context.Context, repoName, revision string) ([]buildapi.JobRecord, error)
	JobStatus(ctx context.Context, completeAt, requestID int64) (*buildapi.JobStatus, error)
	PostTrigger(ctx context.Context, triggerURL string, payload url.Values) (*buildapi.TriggerResponse, error)
	AllReachable(ctx context.Context, urls []string) bool
	TriggerURL(repoName, builderName, revision string) string
	ScheduleURL(repoName, revision string) string
}

// PushLog is the slice of the push-log client the core consumes.
type PushLog interface {
	RevisionInfo(ctx context.Context, repoURL, revision string, full bool) (*pushlog.PushInfo, error)
}

// Repos resolves repository names to clone URLs.
type Repos interface {
	RepoURL(ctx context.Context, repoName string) (string, error)
}

// Builders answers builder validity and upstream-dependency questions.
type Builders interface {
	IsValid(ctx context.Context, builderName string) (bool, error)
	UpstreamBuilder(ctx context.Context, builderName, repoName string) (string, error)
}

// Service wires the collaborators together. It holds no state of its own;
// every decision re-queries fresh job state, accepting the refetch cost over
// staleness risk.
type Service struct {
	api      BuildAPI
	pushlog  PushLog
	repos    Repos
	builders Builders
	log      logger.Logger
}

// New creates a trigger service.
func New(api BuildAPI, plog PushLog, repos Repos, builders Builders, log logger.Logger) *Service {
	return &Service{
		api:      api,
		pushlog:  plog,
		repos:    repos,
		builders: builders,
		log:      log,
	}
}

// FilterByBuilder returns the records matching a builder name exactly,
// preserving input order.
func FilterByBuilder(jobs []buildapi.JobRecord, builderName string) []buildapi.JobRecord {
	var matching []buildapi.JobRecord
	for _, j := range jobs {
		if j.BuilderName == builderName {
			matching = append(matching, j)
		}
	}
	return matching
}

// RevisionSchedulable reports whether self-serve will accept work for a
// revision. Pushes whose tip changeset carries the do-not-build marker never
// exist in self-serve.
func (s *Service) RevisionSchedulable(ctx context.Context, repoName, revision string) (bool, error) {
	repoURL, err := s.repos.RepoURL(ctx, repoName)
	if err != nil {
		return false, err
	}
	info, err := s.pushlog.RevisionInfo(ctx, repoURL, revision, true)
	if err != nil {
		return false, fmt.Errorf("looking up revision %s: %w", revision, err)
	}
	if len(info.Changesets) > 0 && strings.Contains(info.Changesets[0].Desc, DoNotBuildMarker) {
		s.log.Info("We will NOT trigger anything for revision %s on %s since "+
			"it does not exist in self-serve", revision, repoName)
		return false, nil
	}
	return true, nil
}

// QueryJobs returns all scheduling records for a revision. It fails with
// buildapi.ErrRevisionNotSchedulable when the revision is excluded from CI;
// callers must treat that as zero jobs, not as a crash.
func (s *Service) QueryJobs(ctx context.Context, repoName, revision string) ([]buildapi.JobRecord, error) {
	ok, err := s.RevisionSchedulable(ctx, repoName, revision)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", buildapi.ErrRevisionNotSchedulable,
			revision, repoName)
	}
	return s.api.ListJobs(ctx, repoName, revision)
}

// ScheduleURL returns the page where the scheduled jobs for a revision can
// be inspected.
func (s *Service) ScheduleURL(repoName, revision string) string {
	return s.api.ScheduleURL(repoName, revision)
}

// validBuilder checks the catalog and maps a miss onto ErrUnknownBuilder.
func (s *Service) validBuilder(ctx context.Context, builderName string) error {
	valid, err := s.builders.IsValid(ctx, builderName)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("%w: %q", catalog.ErrUnknownBuilder, builderName)
	}
	return nil
}

// notSchedulable reports whether err is the expected excluded-revision case.
func notSchedulable(err error) bool {
	return errors.Is(err, buildapi.ErrRevisionNotSchedulable)
}

// authFailed reports whether err is a credential rejection, which is fatal
// and never retried.
func authFailed(err error) bool {
	return errors.Is(err, buildapi.ErrAuthFailed)
}
