// Package main provides the mozci command line interface: trigger one job,
// trigger a job across a revision range, or look up scheduling information.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"mozci/src/buildapi"
	"mozci/src/catalog"
	"mozci/src/config"
	"mozci/src/logger"
	"mozci/src/pushlog"
	"mozci/src/store"
	"mozci/src/trigger"
)

var (
	appConfig *config.Config
	log       *logger.ConsoleLogger

	repoName    string
	revision    string
	builderName string
	times       int
	dryRun      bool
	files       []string
	verbose     bool

	fromRevision string
	toRevision   string
	delta        int
	clobber      bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "mozci",
	Short: "mozci - trigger jobs on buildapi self-serve",
	Long: `mozci schedules continuous-integration jobs through the buildapi
self-serve service.

Given a repository, a revision and a builder it decides whether to trigger
the requested job, trigger the upstream build job whose artifacts it
depends on, or do nothing because a usable build already exists or is in
flight.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		appConfig, err = config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
			os.Exit(1)
		}
		log = logger.NewConsoleLogger()
		log.Verbose = verbose
	},
}

// triggerCmd schedules one builder on one revision.
var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Trigger a builder on a revision",
	Long: `Trigger a builder on a revision.

For test and talos builders the upstream build job's artifacts are located
first; if they are missing or expired the build job is triggered instead.
With --dry-run the intended request is logged and nothing is issued.`,
	Run: func(cmd *cobra.Command, args []string) {
		svc := newService()
		receipts, err := svc.Trigger(cmd.Context(), trigger.Request{
			RepoName:    repoName,
			Revision:    revision,
			BuilderName: builderName,
			Times:       times,
			Files:       files,
			DryRun:      dryRun,
		})
		if err != nil {
			log.Error("%v", err)
			os.Exit(1)
		}
		reportReceipts(receipts)
	},
}

// triggerRangeCmd schedules a builder across a range of revisions.
var triggerRangeCmd = &cobra.Command{
	Use:   "trigger-range",
	Short: "Trigger a builder across a revision range",
	Long: `Trigger a builder on every revision of a range until each revision
has the target number of pending, running or successful jobs.

The range is either --from-rev/--to-rev, or --rev with --delta pushes on
either side. Failures on one revision do not stop the rest.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		svc := newService()
		revisions, err := resolveRange(ctx)
		if err != nil {
			log.Error("%v", err)
			os.Exit(1)
		}

		results := svc.TriggerRange(ctx, trigger.RangeRequest{
			BuilderName: builderName,
			RepoName:    repoName,
			Revisions:   revisions,
			Times:       times,
			DryRun:      dryRun,
		})
		for _, result := range results {
			if result.Err != nil {
				log.Warn("%s: %v", result.Revision, result.Err)
				continue
			}
			log.Info("%s: %d existing job(s), %d request(s) issued",
				result.Revision, result.Potential, len(result.Receipts))
		}
	},
}

// scheduleURLCmd prints where the scheduled jobs for a revision live.
var scheduleURLCmd = &cobra.Command{
	Use:   "schedule-url",
	Short: "Print the self-serve page for a revision's scheduled jobs",
	Run: func(cmd *cobra.Command, args []string) {
		svc := newService()
		fmt.Println(svc.ScheduleURL(repoName, revision))
	},
}

// buildersCmd lists every known builder.
var buildersCmd = &cobra.Command{
	Use:   "builders",
	Short: "List all known builders",
	Run: func(cmd *cobra.Command, args []string) {
		cat := newCatalog()
		builders, err := cat.Builders(cmd.Context())
		if err != nil {
			log.Error("%v", err)
			os.Exit(1)
		}
		for _, b := range builders {
			fmt.Println(b)
		}
	},
}

// repositoriesCmd lists the repository catalog, optionally clobbering the
// local cache first.
var repositoriesCmd = &cobra.Command{
	Use:   "repositories",
	Short: "List the repository catalog",
	Run: func(cmd *cobra.Command, args []string) {
		repos := newRepoStore()
		known, err := repos.Get(cmd.Context(), clobber)
		if err != nil {
			log.Error("%v", err)
			os.Exit(1)
		}
		for name, repo := range known {
			fmt.Printf("%s\t%s\n", name, repo.Repo)
		}
	},
}

func newBuildAPI() *buildapi.Client {
	client := buildapi.NewClient(appConfig.User, appConfig.Password,
		appConfig.HTTPTimeout, log)
	client.SetHosts(appConfig.BuildAPIHost, appConfig.JobDataHost)
	return client
}

func newRepoStore() *store.RepoStore {
	return store.NewRepoStore(newBuildAPI(), afero.NewOsFs(), appConfig.CacheFile, log)
}

func newCatalog() *catalog.Catalog {
	source := catalog.NewHTTPSource(appConfig.CatalogURL, appConfig.HTTPTimeout, log)
	return catalog.New(source, afero.NewOsFs(), appConfig.BuildersFile, log)
}

func newService() *trigger.Service {
	return trigger.New(
		newBuildAPI(),
		pushlog.NewClient(appConfig.HTTPTimeout, log),
		newRepoStore(),
		newCatalog(),
		log,
	)
}

// resolveRange turns the range flags into an ordered revision list.
func resolveRange(ctx context.Context) ([]string, error) {
	repos := newRepoStore()
	repoURL, err := repos.RepoURL(ctx, repoName)
	if err != nil {
		return nil, err
	}
	plog := pushlog.NewClient(appConfig.HTTPTimeout, log)

	switch {
	case fromRevision != "" && toRevision != "":
		return plog.RevisionsRange(ctx, repoURL, fromRevision, toRevision)
	case revision != "" && delta > 0:
		return plog.RangeFromRevisionAndDelta(ctx, repoURL, revision, delta)
	case revision != "":
		return []string{revision}, nil
	}
	return nil, fmt.Errorf("specify --from-rev/--to-rev, or --rev (optionally with --delta)")
}

func reportReceipts(receipts []trigger.Receipt) {
	for _, receipt := range receipts {
		if receipt.Accepted() {
			log.Info("Request %s accepted", receipt.ID)
		} else {
			log.Warn("Request %s returned %d: %s",
				receipt.ID, receipt.StatusCode, receipt.Body)
		}
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug output")

	for _, cmd := range []*cobra.Command{triggerCmd, triggerRangeCmd, scheduleURLCmd} {
		cmd.Flags().StringVar(&repoName, "repo", "", "repository name (required)")
		cmd.MarkFlagRequired("repo")
	}

	triggerCmd.Flags().StringVar(&revision, "rev", "", "revision to trigger on (required)")
	triggerCmd.Flags().StringVar(&builderName, "builder", "", "builder to trigger (required)")
	triggerCmd.Flags().IntVar(&times, "times", 1, "number of requests to issue")
	triggerCmd.Flags().StringArrayVar(&files, "file", nil, "artifact URL to trigger with (repeatable)")
	triggerCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the intended action without issuing it")
	triggerCmd.MarkFlagRequired("rev")
	triggerCmd.MarkFlagRequired("builder")

	triggerRangeCmd.Flags().StringVar(&builderName, "builder", "", "builder to trigger (required)")
	triggerRangeCmd.Flags().IntVar(&times, "times", 1, "target number of jobs per revision")
	triggerRangeCmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the intended actions without issuing them")
	triggerRangeCmd.Flags().StringVar(&fromRevision, "from-rev", "", "start of the revision range")
	triggerRangeCmd.Flags().StringVar(&toRevision, "to-rev", "", "end of the revision range")
	triggerRangeCmd.Flags().StringVar(&revision, "rev", "", "center revision when using --delta")
	triggerRangeCmd.Flags().IntVar(&delta, "delta", 0, "pushes on either side of --rev")
	triggerRangeCmd.MarkFlagRequired("builder")

	scheduleURLCmd.Flags().StringVar(&revision, "rev", "", "revision to look up (required)")
	scheduleURLCmd.MarkFlagRequired("rev")

	repositoriesCmd.Flags().BoolVar(&clobber, "clobber", false, "drop the local cache before fetching")

	rootCmd.AddCommand(triggerCmd)
	rootCmd.AddCommand(triggerRangeCmd)
	rootCmd.AddCommand(scheduleURLCmd)
	rootCmd.AddCommand(buildersCmd)
	rootCmd.AddCommand(repositoriesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
