package config

import (
  "errors"
  "os"
  "path/filepath"
  "testing"

  "github.com/sbrudenell/btrfs2s3/internal/model"
)

func writeTemp(t *testing.T, contents string) string {
  t.Helper()
  dir := t.TempDir()
  path := filepath.Join(dir, "config.yaml")
  if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
    t.Fatalf("WriteFile: %v", err)
  }
  return path
}

const validConfig = `
timezone: America/New_York
sources:
  - path: /vol/data
    snapshot_dir: /vol/.snapshots
    upload_to_remotes:
      - remote_id: main
        preserve: "1y 12m 4w 7d"
        pipe_through:
          - ["zstd", "-9"]
remotes:
  - id: main
    bucket: my-bucket
    endpoint:
      region: us-east-1
`

func TestLoadValidConfigAppliesDefaults(t *testing.T) {
  path := writeTemp(t, validConfig)
  cfg, err := Load(path)
  if err != nil {
    t.Fatalf("Load: %v", err)
  }
  if cfg.LogLevel != "info" {
    t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
  }
  if cfg.Location().String() != "America/New_York" {
    t.Errorf("Location = %v", cfg.Location())
  }
  remote, ok := cfg.Remote("main")
  if !ok || remote.Bucket != "my-bucket" {
    t.Fatalf("Remote(main) = %+v, %v", remote, ok)
  }
  pol := cfg.Sources[0].UploadToRemotes[0].Policy()
  if len(pol.Entries) == 0 {
    t.Errorf("expected parsed policy entries")
  }
}

func TestLoadDefaultsTimezoneToUTC(t *testing.T) {
  path := writeTemp(t, `
sources:
  - path: /vol/data
    snapshot_dir: /vol/.snapshots
    upload_to_remotes:
      - remote_id: main
        preserve: "1y"
remotes:
  - id: main
    bucket: my-bucket
`)
  cfg, err := Load(path)
  if err != nil {
    t.Fatalf("Load: %v", err)
  }
  if cfg.Location().String() != "UTC" {
    t.Errorf("Location = %v, want UTC", cfg.Location())
  }
}

func TestLoadNoSourcesFails(t *testing.T) {
  path := writeTemp(t, `
remotes:
  - id: main
    bucket: my-bucket
`)
  _, err := Load(path)
  if !errors.Is(err, model.ErrConfig) {
    t.Fatalf("expected ErrConfig, got %v", err)
  }
}

func TestLoadUnknownRemoteIDFails(t *testing.T) {
  path := writeTemp(t, `
sources:
  - path: /vol/data
    snapshot_dir: /vol/.snapshots
    upload_to_remotes:
      - remote_id: nope
        preserve: "1y"
remotes:
  - id: main
    bucket: my-bucket
`)
  _, err := Load(path)
  if !errors.Is(err, model.ErrConfig) {
    t.Fatalf("expected ErrConfig, got %v", err)
  }
}

func TestLoadDuplicateSourcePathFails(t *testing.T) {
  path := writeTemp(t, `
sources:
  - path: /vol/data
    snapshot_dir: /vol/.snapshots
    upload_to_remotes:
      - remote_id: main
        preserve: "1y"
  - path: /vol/data
    snapshot_dir: /vol/.snapshots2
    upload_to_remotes:
      - remote_id: main
        preserve: "1y"
remotes:
  - id: main
    bucket: my-bucket
`)
  _, err := Load(path)
  if !errors.Is(err, model.ErrConfig) {
    t.Fatalf("expected ErrConfig, got %v", err)
  }
}

func TestLoadBadPolicyFails(t *testing.T) {
  path := writeTemp(t, `
sources:
  - path: /vol/data
    snapshot_dir: /vol/.snapshots
    upload_to_remotes:
      - remote_id: main
        preserve: "not-a-policy"
remotes:
  - id: main
    bucket: my-bucket
`)
  _, err := Load(path)
  if !errors.Is(err, model.ErrConfig) {
    t.Fatalf("expected ErrConfig, got %v", err)
  }
}

func TestLoadEmptyPipeThroughEntryFails(t *testing.T) {
  path := writeTemp(t, `
sources:
  - path: /vol/data
    snapshot_dir: /vol/.snapshots
    upload_to_remotes:
      - remote_id: main
        preserve: "1y"
        pipe_through:
          - []
remotes:
  - id: main
    bucket: my-bucket
`)
  _, err := Load(path)
  if !errors.Is(err, model.ErrConfig) {
    t.Fatalf("expected ErrConfig, got %v", err)
  }
}

func TestLoadMissingFileFails(t *testing.T) {
  _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
  if !errors.Is(err, model.ErrConfig) {
    t.Fatalf("expected ErrConfig, got %v", err)
  }
}
