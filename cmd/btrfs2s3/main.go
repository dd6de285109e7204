// Command btrfs2s3 maintains a tree of differential btrfs backups in an
// S3-compatible bucket. Grounded on the pack's bt-go cobra CLI
// (cmd/bt/main.go): a root command with config-driven subcommands, each
// building its own collaborators from the loaded config rather than a
// shared global.
package main

import (
  "context"
  "errors"
  "fmt"
  "os"

  "github.com/spf13/cobra"
  "golang.org/x/term"

  "github.com/sbrudenell/btrfs2s3/internal/config"
  "github.com/sbrudenell/btrfs2s3/internal/logging"
  "github.com/sbrudenell/btrfs2s3/internal/model"
  "github.com/sbrudenell/btrfs2s3/internal/wiring"
)

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

// Exit codes (spec.md §6.6).
const (
  exitOK              = 0
  exitConfigError     = 1
  exitInventoryError  = 2
  exitExecutorError   = 3
  exitAssertionFailed = 4
)

func main() {
  os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
  root := newRootCmd()
  root.SetArgs(args)
  if err := root.Execute(); err != nil {
    return exitCodeFor(err)
  }
  return exitOK
}

// cliError pairs an error with the exit code its category maps to
// (spec.md §6.6), so main can translate a cobra RunE failure without
// re-deriving it from the error's type.
type cliError struct {
  code int
  err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
  var ce *cliError
  if errors.As(err, &ce) {
    return ce.code
  }
  switch {
  case errors.Is(err, model.ErrConfig):
    return exitConfigError
  case errors.Is(err, model.ErrInventory):
    return exitInventoryError
  case errors.Is(err, model.ErrResolverInconsistency), errors.Is(err, model.ErrPlannerAssertion):
    return exitAssertionFailed
  default:
    return exitExecutorError
  }
}

func newRootCmd() *cobra.Command {
  var configPath string
  var sourceFilter string

  root := &cobra.Command{
    Use:           "btrfs2s3",
    Short:         "Maintain a tree of differential btrfs backups in S3",
    SilenceUsage:  true,
    SilenceErrors: true,
  }
  root.PersistentFlags().StringVar(&configPath, "config", "/etc/btrfs2s3/config.yaml", "path to the YAML config file")
  root.PersistentFlags().StringVar(&sourceFilter, "source", "", "only operate on the source with this path")

  root.AddCommand(newPlanCmd(&configPath, &sourceFilter))
  root.AddCommand(newRunCmd(&configPath, &sourceFilter))
  root.AddCommand(newVersionCmd())
  return root
}

func newVersionCmd() *cobra.Command {
  return &cobra.Command{
    Use:   "version",
    Short: "Print the btrfs2s3 version",
    RunE: func(cmd *cobra.Command, args []string) error {
      fmt.Fprintln(cmd.OutOrStdout(), version)
      return nil
    },
  }
}

func newPlanCmd(configPath, sourceFilter *string) *cobra.Command {
  return &cobra.Command{
    Use:   "plan",
    Short: "Print the actions a run would take, without executing them",
    RunE: func(cmd *cobra.Command, args []string) error {
      ctx := cmd.Context()
      cfg, log, err := loadConfig(*configPath)
      if err != nil {
        return err
      }
      targets, err := buildTargets(ctx, cfg, *sourceFilter, log)
      if err != nil {
        return err
      }
      for _, target := range targets {
        actions, err := target.target.Plan(ctx)
        if err != nil {
          return &cliError{code: exitCodeFor(err), err: fmt.Errorf("%s -> %s: %w", target.sourcePath, target.remoteID, err)}
        }
        fmt.Fprintf(cmd.OutOrStdout(), "# %s -> %s\n", target.sourcePath, target.remoteID)
        for _, a := range actions {
          fmt.Fprintln(cmd.OutOrStdout(), a.String())
        }
      }
      return nil
    },
  }
}

func newRunCmd(configPath, sourceFilter *string) *cobra.Command {
  var force bool
  cmd := &cobra.Command{
    Use:   "run",
    Short: "Plan and execute the reconciling actions for every configured source",
    RunE: func(cmd *cobra.Command, args []string) error {
      ctx := cmd.Context()
      if !force && !term.IsTerminal(int(os.Stdin.Fd())) {
        return &cliError{code: exitInventoryError, err: fmt.Errorf("refusing to run non-interactively without --force")}
      }
      cfg, log, err := loadConfig(*configPath)
      if err != nil {
        return err
      }
      targets, err := buildTargets(ctx, cfg, *sourceFilter, log)
      if err != nil {
        return err
      }
      for _, target := range targets {
        if err := runOneTarget(ctx, target, cmd, log); err != nil {
          return err
        }
      }
      return nil
    },
  }
  cmd.Flags().BoolVar(&force, "force", false, "skip the interactive-terminal precondition")
  return cmd
}

func runOneTarget(ctx context.Context, target boundTarget, cmd *cobra.Command, log *logging.Logger) error {
  lock, err := target.target.Lock(ctx, hostname())
  if err != nil {
    return &cliError{code: exitExecutorError, err: err}
  }
  if lock != nil {
    if err := lock.Acquire(ctx); err != nil {
      return &cliError{code: exitExecutorError, err: fmt.Errorf("acquiring lock for %s: %w", target.sourcePath, err)}
    }
    defer lock.Release(ctx)
  }

  actions, err := target.target.Plan(ctx)
  if err != nil {
    return &cliError{code: exitCodeFor(err), err: fmt.Errorf("%s -> %s: %w", target.sourcePath, target.remoteID, err)}
  }
  fmt.Fprintf(cmd.OutOrStdout(), "# %s -> %s (%d actions)\n", target.sourcePath, target.remoteID, len(actions))
  for _, a := range actions {
    fmt.Fprintln(cmd.OutOrStdout(), a.String())
  }
  if err := target.target.Apply(ctx, actions); err != nil {
    return &cliError{code: exitExecutorError, err: fmt.Errorf("%s -> %s: %w", target.sourcePath, target.remoteID, err)}
  }
  return nil
}

func loadConfig(path string) (*config.Config, *logging.Logger, error) {
  cfg, err := config.Load(path)
  if err != nil {
    return nil, nil, &cliError{code: exitConfigError, err: err}
  }
  log := logging.New("btrfs2s3", cfg.LogLevel)
  return cfg, log, nil
}

// boundTarget pairs a built wiring.Target with the (source, remote)
// identifiers it was built for, for progress reporting.
type boundTarget struct {
  target     *wiring.Target
  sourcePath string
  remoteID   string
}

func buildTargets(ctx context.Context, cfg *config.Config, sourceFilter string, log *logging.Logger) ([]boundTarget, error) {
  var out []boundTarget
  for _, src := range cfg.Sources {
    if sourceFilter != "" && src.Path != sourceFilter {
      continue
    }
    for _, up := range src.UploadToRemotes {
      t, err := wiring.Build(ctx, cfg, src, up, log)
      if err != nil {
        return nil, &cliError{code: exitConfigError, err: err}
      }
      out = append(out, boundTarget{target: t, sourcePath: src.Path, remoteID: up.RemoteID})
    }
  }
  if sourceFilter != "" && len(out) == 0 {
    return nil, &cliError{code: exitConfigError, err: fmt.Errorf("%w: no source configured at %q", model.ErrConfig, sourceFilter)}
  }
  return out, nil
}

func hostname() string {
  h, err := os.Hostname()
  if err != nil {
    return "unknown-host"
  }
  return h
}
