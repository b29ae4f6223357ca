// Package catalog validates builder names and resolves the upstream build
// builder a test or talos builder depends on. The platform naming table
// itself lives upstream; this package consumes it through the Source
// interface.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"mozci/src/logger"
)

var (
	// ErrUnknownBuilder means the requested builder is not in the catalog.
	// This is a caller bug or a stale catalog, and fatal either way.
	ErrUnknownBuilder = errors.New("unknown builder")

	// ErrInconsistentCatalog means the upstream mapping produced a builder
	// name that the catalog itself does not recognize. This is a
	// configuration error in the platform table, not something a retry can
	// fix.
	ErrInconsistentCatalog = errors.New("inconsistent builder catalog")
)

// DiagnosticFile is where the full list of valid builders is dumped when an
// unknown builder name is encountered, so operators can inspect it.
const DiagnosticFile = "builders.txt"

// Source is the external capability the catalog consumes: the full set of
// known builders and the test-to-build dependency mapping.
type Source interface {
	ListBuilders(ctx context.Context) ([]string, error)
	UpstreamBuilder(ctx context.Context, builderName, repoName string) (string, error)
}

// Catalog answers builder validity and upstream-dependency questions.
type Catalog struct {
	source   Source
	fs       afero.Fs
	diagPath string
	log      logger.Logger
}

// New creates a catalog over the given source. The diagnostic builder list
// is written through fs at diagPath; an empty diagPath selects
// DiagnosticFile in the working directory.
func New(source Source, fs afero.Fs, diagPath string, log logger.Logger) *Catalog {
	if diagPath == "" {
		diagPath = DiagnosticFile
	}
	return &Catalog{
		source:   source,
		fs:       fs,
		diagPath: diagPath,
		log:      log,
	}
}

// IsValid reports whether builderName is a recognized builder. On a miss it
// dumps the sorted list of valid builders to the diagnostic file.
func (c *Catalog) IsValid(ctx context.Context, builderName string) (bool, error) {
	builders, err := c.source.ListBuilders(ctx)
	if err != nil {
		return false, fmt.Errorf("listing builders: %w", err)
	}
	for _, b := range builders {
		if b == builderName {
			c.log.Debug("Builder %q is valid", builderName)
			return true, nil
		}
	}

	c.log.Warn("Builder %q is *NOT* valid", builderName)
	if err := c.writeDiagnostic(builders); err != nil {
		c.log.Error("Unable to write %s: %v", c.diagPath, err)
	} else {
		c.log.Info("Check %s for a list of valid builders", c.diagPath)
	}
	return false, nil
}

// UpstreamBuilder maps a test or talos builder to the build builder whose
// artifacts it consumes, and insists the result is itself a recognized
// builder. A mapping that points outside the catalog aborts the caller.
func (c *Catalog) UpstreamBuilder(ctx context.Context, builderName, repoName string) (string, error) {
	buildBuilder, err := c.source.UpstreamBuilder(ctx, builderName, repoName)
	if err != nil {
		return "", fmt.Errorf("resolving upstream builder for %q: %w", builderName, err)
	}

	valid, err := c.IsValid(ctx, buildBuilder)
	if err != nil {
		return "", err
	}
	if !valid {
		return "", fmt.Errorf("%w: %q resolved to %q", ErrInconsistentCatalog,
			builderName, buildBuilder)
	}
	return buildBuilder, nil
}

// Builders returns the sorted list of all known builders.
func (c *Catalog) Builders(ctx context.Context) ([]string, error) {
	builders, err := c.source.ListBuilders(ctx)
	if err != nil {
		return nil, err
	}
	sorted := append([]string(nil), builders...)
	sort.Strings(sorted)
	return sorted, nil
}

func (c *Catalog) writeDiagnostic(builders []string) error {
	sorted := append([]string(nil), builders...)
	sort.Strings(sorted)
	data := strings.Join(sorted, "\n") + "\n"
	return afero.WriteFile(c.fs, c.diagPath, []byte(data), 0o644)
}
