package trigger

import (
	"context"
	"fmt"

	"mozci/src/buildapi"
)

// Objective is the computed trigger decision: which builder to trigger, if
// any, and with which artifact files. A zero Builder means trigger nothing.
type Objective struct {
	Builder string
	Files   []string
}

// Empty reports whether the objective is to do nothing.
func (o Objective) Empty() bool {
	return o.Builder == ""
}

// scanOutcome is the tri-state result of scanning the matching build jobs.
type scanOutcome int

const (
	noneFound scanOutcome = iota
	foundRunning
	foundSuccessful
)

// classifyJobs scans records in the order the service returned them and
// short-circuits on the first in-flight or successful job it meets.
// Encounter order wins: a running job earlier in the list takes priority
// over a later success. That matches what self-serve consumers have always
// relied on, so it is kept as an explicit contract here.
func classifyJobs(jobs []buildapi.JobRecord) (scanOutcome, *buildapi.JobRecord) {
	for i := range jobs {
		job := &jobs[i]
		if job.InFlight() {
			return foundRunning, job
		}
		if job.Succeeded() {
			return foundSuccessful, job
		}
		// Terminal but not successful; keep scanning.
	}
	return noneFound, nil
}

// DetermineObjective decides what, if anything, to schedule so that
// builderName can eventually run on the revision. Test and talos builders
// depend on a build builder's artifacts; if those artifacts are missing or
// expired the build builder is (re)triggered instead.
//
// The decision is a pure function of the current job state: calling it twice
// against unchanged upstream state yields the same objective.
func (s *Service) DetermineObjective(ctx context.Context, repoName, revision, builderName string) (Objective, error) {
	buildBuilder, err := s.builders.UpstreamBuilder(ctx, builderName, repoName)
	if err != nil {
		// A mapping-table inconsistency is a fatal configuration error.
		return Objective{}, err
	}

	allJobs, err := s.api.ListJobs(ctx, repoName, revision)
	if err != nil {
		return Objective{}, err
	}
	matching := FilterByBuilder(allJobs, buildBuilder)
	s.log.Info("We have found %d job(s) of %q", len(matching), buildBuilder)

	if len(matching) == 0 {
		// No build exists yet, nothing to depend on.
		s.log.Debug("We might trigger %s instead of %s", buildBuilder, builderName)
		return Objective{Builder: buildBuilder}, nil
	}

	outcome, job := classifyJobs(matching)
	switch outcome {
	case foundSuccessful:
		s.log.Info("There is a job that has completed successfully.")
		files, err := s.findArtifactFiles(ctx, job)
		if err != nil {
			return Objective{}, err
		}
		if !s.api.AllReachable(ctx, files) {
			// Artifacts expired upstream; rebuild from scratch.
			s.log.Debug("The files are not around anymore: %v", files)
			return Objective{Builder: buildBuilder}, nil
		}
		return Objective{Builder: builderName, Files: files}, nil

	case foundRunning:
		// A build is in flight; triggering again would double-schedule.
		s.log.Info("We are waiting for a build to finish.")
		return Objective{}, nil

	default:
		// Every matching job ended in failure/exception/retry/cancelled.
		s.log.Info("We are going to trigger %s instead of %s", buildBuilder, builderName)
		return Objective{Builder: buildBuilder}, nil
	}
}

// findArtifactFiles extracts the artifact URLs a test job is bootstrapped
// with from the successful job's most recent completed request.
func (s *Service) findArtifactFiles(ctx context.Context, job *buildapi.JobRecord) ([]string, error) {
	if len(job.Requests) == 0 {
		return nil, fmt.Errorf("%w: job %q has no requests",
			buildapi.ErrMalformedJobStatus, job.BuilderName)
	}
	req := job.Requests[0]

	// NOTE: this lookup can take a while.
	status, err := s.api.JobStatus(ctx, req.CompleteAt, req.RequestID)
	if err != nil {
		return nil, err
	}

	var files []string
	if pkg, ok := status.Property("packageUrl"); ok {
		files = append(files, pkg)
	}
	if tests, ok := status.Property("testsUrl"); ok {
		files = append(files, tests)
	}
	return files, nil
}
