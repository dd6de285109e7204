// Package config loads and validates the YAML configuration file
// (SPEC_FULL.md §4.9): sources, remotes, per-source upload targets and
// the pipe_through filter chain. Grounded on the teacher's yaml.v2 usage
// (i5heu-ouroboros-db/internal/config).
package config

import (
  "fmt"
  "os"
  "time"

  "gopkg.in/yaml.v2"

  "github.com/sbrudenell/btrfs2s3/internal/model"
  "github.com/sbrudenell/btrfs2s3/internal/policy"
)

// EndpointConfig configures how to reach one S3-compatible endpoint.
type EndpointConfig struct {
  ProfileName     string `yaml:"profile_name"`
  Region          string `yaml:"region"`
  AccessKeyID     string `yaml:"access_key_id"`
  SecretAccessKey string `yaml:"secret_access_key"`
  EndpointURL     string `yaml:"endpoint_url"`
  Verify          *bool  `yaml:"verify"`
}

// RemoteConfig names one S3 bucket a source can upload backups to.
type RemoteConfig struct {
  ID       string         `yaml:"id"`
  Bucket   string         `yaml:"bucket"`
  Endpoint EndpointConfig `yaml:"endpoint"`
  LockTable string        `yaml:"lock_table"`
}

// UploadConfig binds a source to one remote, with its preservation
// policy and the shell pipeline backup streams are passed through
// before upload (e.g. compression).
type UploadConfig struct {
  RemoteID    string     `yaml:"remote_id"`
  Preserve    string     `yaml:"preserve"`
  PipeThrough [][]string `yaml:"pipe_through"`

  policy policy.Policy
}

// Policy returns the parsed preservation policy for this upload target.
func (u UploadConfig) Policy() policy.Policy { return u.policy }

// SourceConfig is one btrfs subvolume tree to preserve, and the set of
// remotes it should be backed up to.
type SourceConfig struct {
  Path            string          `yaml:"path"`
  SnapshotDir     string          `yaml:"snapshot_dir"`
  UploadToRemotes []UploadConfig  `yaml:"upload_to_remotes"`
}

// Config is the top-level configuration file.
type Config struct {
  Timezone string         `yaml:"timezone"`
  LogLevel string         `yaml:"log_level"`
  Sources  []SourceConfig `yaml:"sources"`
  Remotes  []RemoteConfig `yaml:"remotes"`

  remotesByID map[string]RemoteConfig
  location    *time.Location
}

// Load reads the YAML file at path, validates it, and parses its
// embedded policy strings and timezone.
func Load(path string) (*Config, error) {
  data, err := os.ReadFile(path)
  if err != nil {
    return nil, fmt.Errorf("%w: reading %s: %v", model.ErrConfig, path, err)
  }
  var cfg Config
  if err := yaml.Unmarshal(data, &cfg); err != nil {
    return nil, fmt.Errorf("%w: parsing %s: %v", model.ErrConfig, path, err)
  }
  if err := cfg.validate(); err != nil {
    return nil, err
  }
  return &cfg, nil
}

func (c *Config) validate() error {
  if c.LogLevel == "" {
    c.LogLevel = "info"
  }
  if c.Timezone == "" {
    c.Timezone = "UTC"
  }
  loc, err := time.LoadLocation(c.Timezone)
  if err != nil {
    return fmt.Errorf("%w: timezone %q: %v", model.ErrConfig, c.Timezone, err)
  }
  c.location = loc

  if len(c.Sources) == 0 {
    return fmt.Errorf("%w: no sources configured", model.ErrConfig)
  }

  c.remotesByID = make(map[string]RemoteConfig, len(c.Remotes))
  for _, r := range c.Remotes {
    if r.ID == "" {
      return fmt.Errorf("%w: remote with empty id", model.ErrConfig)
    }
    if _, dup := c.remotesByID[r.ID]; dup {
      return fmt.Errorf("%w: duplicate remote id %q", model.ErrConfig, r.ID)
    }
    if r.Bucket == "" {
      return fmt.Errorf("%w: remote %q: bucket is required", model.ErrConfig, r.ID)
    }
    c.remotesByID[r.ID] = r
  }

  seenPaths := make(map[string]bool, len(c.Sources))
  for si := range c.Sources {
    s := &c.Sources[si]
    if s.Path == "" {
      return fmt.Errorf("%w: source with empty path", model.ErrConfig)
    }
    if seenPaths[s.Path] {
      return fmt.Errorf("%w: duplicate source path %q", model.ErrConfig, s.Path)
    }
    seenPaths[s.Path] = true
    if s.SnapshotDir == "" {
      return fmt.Errorf("%w: source %q: snapshot_dir is required", model.ErrConfig, s.Path)
    }
    if len(s.UploadToRemotes) == 0 {
      return fmt.Errorf("%w: source %q: no upload_to_remotes configured", model.ErrConfig, s.Path)
    }
    for ui := range s.UploadToRemotes {
      u := &s.UploadToRemotes[ui]
      if _, ok := c.remotesByID[u.RemoteID]; !ok {
        return fmt.Errorf("%w: source %q: unknown remote_id %q", model.ErrConfig, s.Path, u.RemoteID)
      }
      pol, err := policy.Parse(u.Preserve)
      if err != nil {
        return fmt.Errorf("%w: source %q remote %q: %v", model.ErrConfig, s.Path, u.RemoteID, err)
      }
      u.policy = pol
      for _, argv := range u.PipeThrough {
        if len(argv) == 0 {
          return fmt.Errorf("%w: source %q remote %q: empty pipe_through entry", model.ErrConfig, s.Path, u.RemoteID)
        }
      }
    }
  }
  return nil
}

// Location returns the parsed timezone used for bucket arithmetic.
func (c *Config) Location() *time.Location { return c.location }

// Remote looks up a configured remote by id.
func (c *Config) Remote(id string) (RemoteConfig, bool) {
  r, ok := c.remotesByID[id]
  return r, ok
}
