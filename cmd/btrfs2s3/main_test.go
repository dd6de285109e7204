package main

import (
  "context"
  "errors"
  "os"
  "path/filepath"
  "testing"

  "github.com/sbrudenell/btrfs2s3/internal/config"
  "github.com/sbrudenell/btrfs2s3/internal/logging"
  "github.com/sbrudenell/btrfs2s3/internal/model"
)

func TestExitCodeForSentinels(t *testing.T) {
  cases := []struct {
    err  error
    want int
  }{
    {model.ErrConfig, exitConfigError},
    {model.ErrInventory, exitInventoryError},
    {model.ErrResolverInconsistency, exitAssertionFailed},
    {model.ErrPlannerAssertion, exitAssertionFailed},
    {errors.New("boom"), exitExecutorError},
    {&cliError{code: exitInventoryError, err: errors.New("no tty")}, exitInventoryError},
  }
  for _, c := range cases {
    if got := exitCodeFor(c.err); got != c.want {
      t.Errorf("exitCodeFor(%v) = %d, want %d", c.err, got, c.want)
    }
  }
}

func writeTempConfig(t *testing.T, contents string) string {
  t.Helper()
  dir := t.TempDir()
  path := filepath.Join(dir, "config.yaml")
  if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
    t.Fatalf("WriteFile: %v", err)
  }
  return path
}

const testConfig = `
sources:
  - path: /vol/data
    snapshot_dir: /vol/.snapshots
    upload_to_remotes:
      - remote_id: main
        preserve: "1y"
  - path: /vol/other
    snapshot_dir: /vol/.snapshots-other
    upload_to_remotes:
      - remote_id: main
        preserve: "1y"
remotes:
  - id: main
    bucket: my-bucket
    endpoint:
      region: us-east-1
`

func TestBuildTargetsFiltersBySource(t *testing.T) {
  path := writeTempConfig(t, testConfig)
  cfg, err := config.Load(path)
  if err != nil {
    t.Fatalf("Load: %v", err)
  }
  log := logging.New("test", "debug")

  targets, err := buildTargets(context.Background(), cfg, "/vol/data", log)
  if err != nil {
    t.Fatalf("buildTargets: %v", err)
  }
  if len(targets) != 1 || targets[0].sourcePath != "/vol/data" {
    t.Fatalf("targets = %+v", targets)
  }
}

func TestBuildTargetsUnfilteredCoversAllSources(t *testing.T) {
  path := writeTempConfig(t, testConfig)
  cfg, err := config.Load(path)
  if err != nil {
    t.Fatalf("Load: %v", err)
  }
  log := logging.New("test", "debug")

  targets, err := buildTargets(context.Background(), cfg, "", log)
  if err != nil {
    t.Fatalf("buildTargets: %v", err)
  }
  if len(targets) != 2 {
    t.Fatalf("targets = %+v, want 2", targets)
  }
}

func TestBuildTargetsUnknownSourceFails(t *testing.T) {
  path := writeTempConfig(t, testConfig)
  cfg, err := config.Load(path)
  if err != nil {
    t.Fatalf("Load: %v", err)
  }
  log := logging.New("test", "debug")

  _, err = buildTargets(context.Background(), cfg, "/vol/nope", log)
  if !errors.Is(err, model.ErrConfig) {
    t.Fatalf("expected ErrConfig, got %v", err)
  }
}
