// qdashboard-platforms manages the qibolab platforms checkout from the
// command line, offering the same operations the dashboard exposes
// under /api/platforms.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/qiboteam/qdashboard/internal/config"
	"github.com/qiboteam/qdashboard/internal/platforms"
	"github.com/qiboteam/qdashboard/internal/shell"
)

var (
	dir     string
	debug   bool
	timeout time.Duration

	stashChanges   bool
	failOnChanges  bool
	discardConfirm bool

	mgr *platforms.Manager
)

var rootCmd = &cobra.Command{
	Use:   "qdashboard-platforms",
	Short: "Manage the qibolab platforms checkout",
	Long: `Manage the qibolab platforms checkout the dashboard serves QPU
configurations from. The directory defaults to QIBOLAB_PLATFORMS, or
to qibolab_platforms_qrc under QD_PATH.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(debug)
		if err != nil {
			return err
		}
		zap.ReplaceGlobals(logger)
		sugar := logger.Sugar()

		if dir == "" {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			dir = cfg.PlatformsDir()
		}
		mgr = platforms.NewManager(dir, shell.NewRunner(sugar), sugar)

		return nil
	},
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Clone the platforms repository if the checkout is missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := opCtx(cmd)
		defer cancel()

		if err := mgr.Ensure(ctx); err != nil {
			return err
		}
		fmt.Printf("Platforms checkout ready at %s\n", mgr.Dir())

		return nil
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Pull the latest changes on the current branch",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := opCtx(cmd)
		defer cancel()

		if err := mgr.Update(ctx); err != nil {
			return err
		}
		fmt.Println("Platforms repository updated")

		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the checkout's branch, commit and cleanliness",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := opCtx(cmd)
		defer cancel()

		status, err := mgr.Status(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Branch:  %s\n", status.Branch)
		fmt.Printf("Commit:  %s %s\n", status.Commit, status.Message)
		if status.Ahead > 0 || status.Behind > 0 {
			fmt.Printf("Drift:   %d ahead, %d behind\n", status.Ahead, status.Behind)
		}
		if status.Clean {
			fmt.Println("Working tree clean")
		} else {
			fmt.Println("Working tree has local changes")
		}

		return nil
	},
}

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "List local and remote branches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := opCtx(cmd)
		defer cancel()

		branches, err := mgr.Branches(ctx)
		if err != nil {
			return err
		}

		for _, name := range branches.Local {
			marker := "  "
			if name == branches.Current {
				marker = "* "
			}
			fmt.Println(marker + name)
		}
		for _, name := range branches.Remote {
			fmt.Println("  origin/" + name)
		}

		return nil
	},
}

var switchCmd = &cobra.Command{
	Use:   "switch <branch>",
	Short: "Check out another branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := opCtx(cmd)
		defer cancel()

		handling := platforms.FailOnChanges
		if stashChanges {
			handling = platforms.StashOnChanges
		}

		result, err := mgr.Switch(ctx, args[0], handling)
		if err != nil {
			return err
		}

		fmt.Printf("Switched to %s\n", result.Branch)
		if result.StashCreated != "" {
			fmt.Printf("Local changes stashed as %s\n", result.StashCreated)
		}
		if result.StashConflicts {
			fmt.Println("Warning: the stash did not apply cleanly, resolve conflicts by hand")
		}

		return nil
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard",
	Short: "Throw away all local changes in the checkout",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !discardConfirm {
			return fmt.Errorf("refusing to discard local changes without --yes")
		}

		ctx, cancel := opCtx(cmd)
		defer cancel()

		files, err := mgr.Discard(ctx)
		if err != nil {
			return err
		}

		if len(files) == 0 {
			fmt.Println("Nothing to discard")

			return nil
		}
		for _, f := range files {
			fmt.Println("discarded " + f)
		}

		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the platforms available in the checkout",
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := mgr.List()
		if err != nil {
			return err
		}

		queues, err := mgr.Queues()
		if err != nil {
			queues = map[string]string{}
		}

		for _, name := range names {
			if queue := queues[name]; queue != "" {
				fmt.Printf("%s (queue %s)\n", name, queue)
			} else {
				fmt.Println(name)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dir, "dir", "d", "", "platforms checkout directory")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "v", false, "verbose logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "git operation timeout")

	switchCmd.Flags().BoolVar(&stashChanges, "stash", false, "stash local changes and reapply them after the switch")
	switchCmd.Flags().BoolVar(&failOnChanges, "fail", false, "refuse to switch when the tree has local changes")
	switchCmd.MarkFlagsMutuallyExclusive("stash", "fail")

	discardCmd.Flags().BoolVar(&discardConfirm, "yes", false, "confirm that local changes may be lost")

	rootCmd.AddCommand(setupCmd, updateCmd, statusCmd, branchesCmd, switchCmd, discardCmd, listCmd)
}

func opCtx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

	return cfg.Build()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "qdashboard-platforms: %v\n", err)
		os.Exit(1)
	}
}
