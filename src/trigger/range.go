package trigger

import (
	"context"

	"mozci/src/buildapi"
)

// RangeRequest describes a trigger sweep across a sequence of revisions.
type RangeRequest struct {
	BuilderName string
	RepoName    string
	// Revisions is ordered oldest first, as produced by the push log.
	Revisions []string
	// Times is the target number of pending, running or successful jobs of
	// BuilderName per revision.
	Times  int
	DryRun bool
}

// RangeResult reports what happened on one revision of a sweep.
type RangeResult struct {
	Revision  string
	Potential int
	Receipts  []Receipt
	Err       error
}

// TriggerRange ensures every revision in the range has the target number of
// jobs for the exact builder name, topping up the shortfall revision by
// revision. Revisions are processed independently: a failure on one is
// recorded in its result and does not abort the rest, and a revision that
// already has enough coverage is skipped.
func (s *Service) TriggerRange(ctx context.Context, req RangeRequest) []RangeResult {
	s.log.Info("We want to have %d job(s) of %q on revisions %v",
		req.Times, req.BuilderName, req.Revisions)

	results := make([]RangeResult, 0, len(req.Revisions))
	for _, revision := range req.Revisions {
		s.log.Info("=== %s ===", revision)
		result := s.triggerOne(ctx, req, revision)
		if result.Err != nil && !notSchedulable(result.Err) {
			s.log.Error("Revision %s: %v", revision, result.Err)
		}
		results = append(results, result)
	}
	return results
}

func (s *Service) triggerOne(ctx context.Context, req RangeRequest, revision string) RangeResult {
	result := RangeResult{Revision: revision}

	// A not-schedulable revision lands here too: nothing exists and
	// nothing can be triggered for it, which is an expected outcome.
	jobs, err := s.QueryJobs(ctx, req.RepoName, revision)
	if err != nil {
		result.Err = err
		return result
	}

	// This operates at the requested builder's own level, not the upstream
	// build builder's.
	matching := FilterByBuilder(jobs, req.BuilderName)

	var pending, running, successful int
	for i := range matching {
		state, err := matching[i].State()
		if err != nil {
			result.Err = err
			return result
		}
		switch state {
		case buildapi.StatusPending:
			pending++
		case buildapi.StatusRunning:
			running++
		case buildapi.StatusSuccess:
			successful++
		}
	}

	result.Potential = pending + running + successful
	s.log.Debug("We found %d pending, %d running and %d successful job(s)",
		pending, running, successful)

	if result.Potential >= req.Times {
		s.log.Info("We have %d job(s) for %q which is enough for the %d job(s) we want",
			result.Potential, req.BuilderName, req.Times)
		return result
	}

	receipts, err := s.Trigger(ctx, Request{
		RepoName:    req.RepoName,
		Revision:    revision,
		BuilderName: req.BuilderName,
		Times:       req.Times - result.Potential,
		DryRun:      req.DryRun,
	})
	result.Receipts = receipts
	result.Err = err

	for _, receipt := range receipts {
		if !receipt.Accepted() {
			s.log.Warn("Not all requests succeeded.")
			break
		}
	}
	return result
}
