package trigger

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/google/uuid"
)

// Receipt records one issued trigger request. The ID is generated client
// side so receipts can be correlated in logs even when self-serve rejects
// the request.
type Receipt struct {
	ID         string
	URL        string
	StatusCode int
	Body       string
}

// Accepted reports whether self-serve accepted this request.
func (r Receipt) Accepted() bool {
	return r.StatusCode == 202
}

// Request describes one trigger invocation.
type Request struct {
	RepoName    string
	Revision    string
	BuilderName string
	// Times is how many requests to issue; zero means one.
	Times int
	// Files, when set, is trusted as-is and skips the objective decision.
	Files []string
	// DryRun logs the intended action without touching the network.
	DryRun bool
}

// Trigger schedules a job through self-serve and returns a receipt per
// issued request. A revision excluded from CI yields no receipts and no
// error; an unknown builder is a fatal usage error surfaced to the caller.
// Receipts are collected even when some requests are rejected, so partial
// success is reported rather than masked.
func (s *Service) Trigger(ctx context.Context, req Request) ([]Receipt, error) {
	times := req.Times
	if times <= 0 {
		times = 1
	}
	s.log.Info("We want to trigger %q on revision %q a total of %d time(s)",
		req.BuilderName, req.Revision, times)

	ok, err := s.RevisionSchedulable(ctx, req.RepoName, req.Revision)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if err := s.validBuilder(ctx, req.BuilderName); err != nil {
		s.log.Error("The builder %q requested is invalid", req.BuilderName)
		return nil, err
	}

	objective := Objective{Builder: req.BuilderName, Files: req.Files}
	if len(req.Files) > 0 {
		// The caller knows which files to use; probe them only so an
		// expired URL shows up in the logs.
		if !s.api.AllReachable(ctx, req.Files) {
			s.log.Warn("Not all supplied files are reachable: %v", req.Files)
		}
	} else {
		// For test and talos jobs the installer and tests URLs have to be
		// determined; without usable files the build job is triggered
		// instead.
		objective, err = s.DetermineObjective(ctx, req.RepoName, req.Revision, req.BuilderName)
		if err != nil {
			return nil, err
		}
	}

	if objective.Empty() {
		s.log.Debug("Nothing needs to be triggered")
		return nil, nil
	}

	properties, err := json.Marshal(map[string]string{
		"branch":   req.RepoName,
		"revision": req.Revision,
	})
	if err != nil {
		return nil, err
	}
	payload := url.Values{}
	payload.Set("properties", string(properties))
	if len(objective.Files) > 0 {
		files, err := json.Marshal(objective.Files)
		if err != nil {
			return nil, err
		}
		payload.Set("files", string(files))
	}

	triggerURL := s.api.TriggerURL(req.RepoName, objective.Builder, req.Revision)

	if req.DryRun {
		s.log.Info("We were going to post to this url: %s", triggerURL)
		s.log.Info("With this payload: %s", payload.Encode())
		if len(objective.Files) > 0 {
			s.log.Info("With these files: %v", objective.Files)
		}
		return nil, nil
	}

	var receipts []Receipt
	for i := 0; i < times; i++ {
		receipt := Receipt{
			ID:  uuid.NewString(),
			URL: triggerURL,
		}
		resp, err := s.api.PostTrigger(ctx, triggerURL, payload)
		if err != nil {
			if !isPartialFailure(err) {
				return receipts, err
			}
			s.log.Error("Trigger request %s failed: %v", receipt.ID, err)
			receipts = append(receipts, receipt)
			continue
		}
		receipt.StatusCode = resp.StatusCode
		receipt.Body = resp.Body
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// isPartialFailure reports whether an error should be recorded in a receipt
// and the remaining requests still issued. Authentication failures abort
// immediately; transport errors do not.
func isPartialFailure(err error) bool {
	return !authFailed(err)
}
