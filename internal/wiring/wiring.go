// Package wiring builds the concrete collaborators for one (source,
// remote) pair and drives them through inventory, resolver, planner and
// executor, in the dependency-injection style of the teacher's
// factory.BuildBackupManagerAdmin (factory/workflow.go): a handful of
// Build* functions, wired together by one top-level entry point per mode
// (plan vs run).
package wiring

import (
  "context"
  "fmt"
  "io"
  "path/filepath"
  "time"

  "github.com/aws/aws-sdk-go-v2/service/dynamodb"

  "github.com/sbrudenell/btrfs2s3/internal/awsconfig"
  "github.com/sbrudenell/btrfs2s3/internal/awslock"
  "github.com/sbrudenell/btrfs2s3/internal/btrfsfs"
  "github.com/sbrudenell/btrfs2s3/internal/config"
  "github.com/sbrudenell/btrfs2s3/internal/executor"
  "github.com/sbrudenell/btrfs2s3/internal/inventory"
  "github.com/sbrudenell/btrfs2s3/internal/logging"
  "github.com/sbrudenell/btrfs2s3/internal/metacodec"
  "github.com/sbrudenell/btrfs2s3/internal/model"
  "github.com/sbrudenell/btrfs2s3/internal/piper"
  "github.com/sbrudenell/btrfs2s3/internal/planner"
  "github.com/sbrudenell/btrfs2s3/internal/resolver"
  "github.com/sbrudenell/btrfs2s3/internal/s3remote"
  "github.com/sbrudenell/btrfs2s3/internal/uploader"
)

// Target is one fully-wired (source, remote) pair, ready to be planned
// and, optionally, executed.
type Target struct {
  cfg    *config.Config
  src    config.SourceConfig
  up     config.UploadConfig
  remote config.RemoteConfig
  fs     *btrfsfs.Filesystem
  s3     *s3remote.Remote
  log    *logging.Logger
  base   string

  // lastInventory is populated by Plan and consumed by Apply to seed the
  // executor's path/metadata tracker for items it didn't create itself.
  lastInventory []model.Item
}

// Build resolves the concrete collaborators (btrfs ioctls, S3 client) for
// one source's upload target.
func Build(ctx context.Context, cfg *config.Config, src config.SourceConfig, up config.UploadConfig, log *logging.Logger) (*Target, error) {
  remote, ok := cfg.Remote(up.RemoteID)
  if !ok {
    return nil, fmt.Errorf("%w: remote %q not found", model.ErrConfig, up.RemoteID)
  }
  awsCfg, err := awsconfig.Load(ctx, remote.Endpoint)
  if err != nil {
    return nil, fmt.Errorf("wiring: loading aws config for remote %q: %w", remote.ID, err)
  }
  s3Client := s3remote.NewS3Client(awsCfg, remote.Endpoint)
  return &Target{
    cfg: cfg, src: src, up: up, remote: remote,
    fs:   btrfsfs.New(),
    s3:   s3remote.New(s3Client, remote.Bucket),
    log:  log.With("source", src.Path).With("remote", remote.ID),
    base: filepath.Base(src.Path),
  }, nil
}

// Lock builds the advisory lock for this target's remote. It returns nil
// when no lock table is configured: the caller should skip Acquire/Release
// in that case, per spec.md §9's "concurrent runs" open question.
func (t *Target) Lock(ctx context.Context, holder string) (*awslock.Lock, error) {
  if t.remote.LockTable == "" {
    return nil, nil
  }
  awsCfg, err := awsconfig.Load(ctx, t.remote.Endpoint)
  if err != nil {
    return nil, fmt.Errorf("wiring: loading aws config for lock table: %w", err)
  }
  client := dynamodb.NewFromConfig(awsCfg)
  return awslock.New(client, t.remote.LockTable, t.src.Path, holder), nil
}

// Plan computes the reconciling actions for this target without applying
// them.
func (t *Target) Plan(ctx context.Context) ([]model.Action, error) {
  srcInfo, err := t.fs.Info(t.src.Path)
  if err != nil {
    return nil, fmt.Errorf("wiring: reading source subvolume info %s: %w", t.src.Path, err)
  }

  localSnaps, err := inventory.ListLocal(ctx, t.fs, t.src.SnapshotDir, srcInfo.Uuid, t.log)
  if err != nil {
    return nil, fmt.Errorf("%w: listing local snapshots: %v", model.ErrInventory, err)
  }
  remoteItems, err := inventory.ListRemote(ctx, t.s3, t.base, t.log)
  if err != nil {
    return nil, fmt.Errorf("%w: listing remote objects: %v", model.ErrInventory, err)
  }
  // The key prefix can also match another source with the same base
  // name; keep only this source's backups, as Merge expects.
  ownRemote := remoteItems[:0]
  for _, it := range remoteItems {
    if it.ParentUuid == srcInfo.Uuid {
      ownRemote = append(ownRemote, it)
    }
  }
  merged := inventory.Merge(localSnaps, ownRemote)
  t.lastInventory = merged

  candidates := make([]resolver.Candidate, 0, len(merged))
  for _, it := range merged {
    candidates = append(candidates, resolver.Candidate{
      Uuid: it.Uuid, ParentUuid: it.ParentUuid, Ctime: it.Ctime, Ctransid: it.Ctransid, Where: it.Where,
    })
  }
  res, err := resolver.Resolve(candidates, t.up.Policy(), time.Now(), t.cfg.Location())
  if err != nil {
    return nil, err
  }

  invItems := make([]planner.InvItem, 0, len(merged))
  for _, it := range merged {
    canonical := false
    if it.LocalPath != "" {
      meta := model.Metadata{
        Ctime: it.Ctime, Ctransid: it.Ctransid, Uuid: it.Uuid, ParentUuid: it.ParentUuid,
        MetadataVersion: model.CurrentMetadataVersion, SequenceNumber: model.CurrentSequenceNumber,
      }
      if it.HasSendParent {
        meta.SendParentUuid = it.SendParentUuid
      }
      canonical = filepath.Base(it.LocalPath) == metacodec.Encode(meta, t.base)
    }
    invItems = append(invItems, planner.InvItem{
      Uuid: it.Uuid, Where: it.Where, LocalPath: it.LocalPath,
      LocalCanonical: canonical, ObjectKey: it.ObjectKey,
    })
  }

  existingCtransids := make([]uint64, len(localSnaps))
  for i, s := range localSnaps {
    existingCtransids[i] = s.Item.Ctransid
  }
  return planner.Plan(res.Kept, invItems, t.src.Path, t.base, srcInfo.Ctransid, existingCtransids)
}

// Apply executes actions against this target's real collaborators: btrfs
// ioctls for snapshot lifecycle, a btrfs-send|pipe_through pipeline
// feeding the S3 uploader for backup creation.
func (t *Target) Apply(ctx context.Context, actions []model.Action) error {
  paths := newPathTracker(t.base)
  for _, it := range t.lastInventory {
    meta := model.Metadata{
      Ctime: it.Ctime, Ctransid: it.Ctransid, Uuid: it.Uuid, ParentUuid: it.ParentUuid,
      MetadataVersion: model.CurrentMetadataVersion, SequenceNumber: model.CurrentSequenceNumber,
    }
    if it.HasSendParent {
      meta.SendParentUuid = it.SendParentUuid
    }
    paths.Seed(it.Uuid, it.LocalPath, it.ObjectKey, meta)
  }
  namer := func(sourcePath string) string {
    return filepath.Join(t.src.SnapshotDir, fmt.Sprintf(".staging-%d", time.Now().UnixNano()))
  }
  uploadFn := executor.UploaderFunc(func(ctx context.Context, key string, r io.Reader) error {
    return uploader.Upload(ctx, t.s3, t.remote.Bucket, key, r)
  })
  ex := executor.New(t.fs, t.pipelineFactory(), uploadFn, t.s3, paths, namer, t.log)
  return ex.Apply(ctx, actions)
}

func (t *Target) pipelineFactory() executor.PipelineFactory {
  return func(ctx context.Context, srcPath, sendParentPath string, hasParent bool) (io.ReadCloser, func() error, error) {
    sendArgs := []string{"btrfs", "send"}
    if hasParent {
      sendArgs = append(sendArgs, "-p", sendParentPath)
    }
    sendArgs = append(sendArgs, srcPath)
    stages := append([][]string{sendArgs}, t.up.PipeThrough...)
    p := piper.New(stages, t.log)
    out, err := p.Start(ctx)
    if err != nil {
      return nil, nil, err
    }
    return out, p.Wait, nil
  }
}
