// Package store caches the self-serve repository catalog in a local file.
// The cache holds advisory data only; it can always be refetched, and
// concurrent writers are not synchronized across processes.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"

	"mozci/src/buildapi"
	"mozci/src/logger"
)

// DefaultCachePath is where the serialized repository catalog lives when no
// path is configured.
const DefaultCachePath = "repositories.json"

// Lister is the slice of the self-serve client the store needs.
type Lister interface {
	ListRepositories(ctx context.Context) (map[string]buildapi.Repository, error)
}

// RepoStore is a cache of the repository catalog with explicit invalidation.
type RepoStore struct {
	client Lister
	fs     afero.Fs
	path   string
	log    logger.Logger
}

// NewRepoStore creates a store backed by the given filesystem and cache
// path. An empty path selects DefaultCachePath.
func NewRepoStore(client Lister, fs afero.Fs, path string, log logger.Logger) *RepoStore {
	if path == "" {
		path = DefaultCachePath
	}
	return &RepoStore{
		client: client,
		fs:     fs,
		path:   path,
		log:    log,
	}
}

// Get returns the repository catalog. With forceRefresh the cache file is
// clobbered and the catalog refetched from self-serve; otherwise the cache
// is used when present.
func (s *RepoStore) Get(ctx context.Context, forceRefresh bool) (map[string]buildapi.Repository, error) {
	if forceRefresh {
		if err := s.fs.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("clobbering %s: %w", s.path, err)
		}
	}

	if exists, _ := afero.Exists(s.fs, s.path); exists {
		s.log.Debug("Loading %s", s.path)
		data, err := afero.ReadFile(s.fs, s.path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", s.path, err)
		}
		var repos map[string]buildapi.Repository
		if err := json.Unmarshal(data, &repos); err == nil {
			return repos, nil
		}
		// A corrupt cache file is not fatal, refetch over it.
		s.log.Warn("Cache file %s is corrupt, refetching", s.path)
	}

	repos, err := s.client.ListRepositories(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(repos)
	if err != nil {
		return nil, err
	}
	if err := afero.WriteFile(s.fs, s.path, data, 0o644); err != nil {
		s.log.Warn("Unable to write %s: %v", s.path, err)
	}
	return repos, nil
}

// Repository returns the catalog entry for a repository. A miss clobbers the
// cache and retries once, covering the stale-catalog case.
func (s *RepoStore) Repository(ctx context.Context, repoName string) (buildapi.Repository, error) {
	repos, err := s.Get(ctx, false)
	if err != nil {
		return buildapi.Repository{}, err
	}
	if repo, ok := repos[repoName]; ok {
		return repo, nil
	}

	repos, err = s.Get(ctx, true)
	if err != nil {
		return buildapi.Repository{}, err
	}
	if repo, ok := repos[repoName]; ok {
		return repo, nil
	}
	return buildapi.Repository{}, fmt.Errorf("repository %q does not exist", repoName)
}

// RepoURL returns the clone URL for a known repository name.
func (s *RepoStore) RepoURL(ctx context.Context, repoName string) (string, error) {
	s.log.Debug("Determine repository URL for %s", repoName)
	repo, err := s.Repository(ctx, repoName)
	if err != nil {
		return "", err
	}
	return repo.Repo, nil
}

// RepoNameFromBuilder extracts the repository name embedded in a builder
// name. A miss clobbers the cache and retries once before giving up.
func (s *RepoStore) RepoNameFromBuilder(ctx context.Context, builderName string) (string, error) {
	name, err := s.repoNameFromBuilder(ctx, builderName, false)
	if err != nil {
		return "", err
	}
	if name == "" {
		// The catalog may have grown a repository since it was cached.
		name, err = s.repoNameFromBuilder(ctx, builderName, true)
		if err != nil {
			return "", err
		}
	}
	if name == "" {
		return "", fmt.Errorf("no repository name found in builder %q", builderName)
	}
	return name, nil
}

func (s *RepoStore) repoNameFromBuilder(ctx context.Context, builderName string, forceRefresh bool) (string, error) {
	repos, err := s.Get(ctx, forceRefresh)
	if err != nil {
		return "", err
	}
	// Prefer the longest match so e.g. "mozilla-inbound" wins over a
	// repository whose name happens to be a substring of it.
	best := ""
	for repoName := range repos {
		if strings.Contains(builderName, repoName) && len(repoName) > len(best) {
			best = repoName
		}
	}
	return best, nil
}
