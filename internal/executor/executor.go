// Package executor applies a plan's actions in order (spec.md §4.6):
// idempotent deletes, snapshot creation bound to plan slots, and backup
// creation driven through a Piper into an Uploader. A run is not atomic;
// spec.md §5 accepts that a failure mid-plan can leave a partially
// applied state to be finished by the next run.
package executor

import (
  "context"
  "fmt"
  "io"
  "os"

  "github.com/google/uuid"

  "github.com/sbrudenell/btrfs2s3/internal/logging"
  "github.com/sbrudenell/btrfs2s3/internal/metacodec"
  "github.com/sbrudenell/btrfs2s3/internal/model"
)

// Filesystem is the subset of the filesystem collaborator the executor
// drives directly (creation and deletion; sending is via Piper). Info is
// used right after CreateSnapshot to discover the uuid the kernel actually
// assigned, since it can't be chosen in advance.
type Filesystem interface {
  CreateSnapshot(src, dst string, readOnly bool) error
  DestroySnapshot(path string) error
  Info(path string) (model.SubvolumeInfo, error)
}

// PipelineFactory builds and starts the send|pipe_through... pipeline for
// one backup, returning its output stream.
type PipelineFactory func(ctx context.Context, sourcePath string, sendParentPath string, hasSendParent bool) (out io.ReadCloser, wait func() error, err error)

// Uploader uploads a single backup's byte stream to a key.
type Uploader interface {
  Upload(ctx context.Context, key string, r io.Reader) error
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, key string, r io.Reader) error

func (f UploaderFunc) Upload(ctx context.Context, key string, r io.Reader) error { return f(ctx, key, r) }

// RemoteDeleter deletes remote objects by key.
type RemoteDeleter interface {
  DeleteObjects(ctx context.Context, keys []string) error
}

// PathResolver maps a uuid (real, or a plan Slot's real uuid once bound)
// to its on-disk snapshot path, its already-known remote object key (for
// items the executor didn't create this run), and the metadata needed to
// compute a fresh object key for one it did.
type PathResolver interface {
  SnapshotPath(id uuid.UUID) (string, bool)
  ObjectKey(id uuid.UUID) (string, bool)
  Metadata(id uuid.UUID) (model.Metadata, bool)
  Base() string
  Rename(id uuid.UUID, newPath string)
  BindSlot(slot int, id uuid.UUID, path string, meta model.Metadata)
  ResolveSlot(slot int) (uuid.UUID, string, bool)
}

// SnapshotNamer computes the destination path for a newly created
// snapshot before its real uuid is known (e.g. a temp/staging name later
// renamed to the canonical one).
type SnapshotNamer func(sourcePath string) string

// Executor applies a plan against the filesystem and remote store.
type Executor struct {
  fs       Filesystem
  pipeline PipelineFactory
  uploader Uploader
  deleter  RemoteDeleter
  paths    PathResolver
  namer    SnapshotNamer
  log      *logging.Logger
}

// New builds an Executor from its collaborators.
func New(fs Filesystem, pipeline PipelineFactory, uploader Uploader, deleter RemoteDeleter, paths PathResolver, namer SnapshotNamer, log *logging.Logger) *Executor {
  return &Executor{fs: fs, pipeline: pipeline, uploader: uploader, deleter: deleter, paths: paths, namer: namer, log: log}
}

// Apply runs every action in order, stopping at the first error. Deletion
// actions are idempotent: deleting an already-absent snapshot or object is
// not an error.
func (e *Executor) Apply(ctx context.Context, actions []model.Action) error {
  // Accumulated DeleteBackup keys are flushed before the next
  // DeleteSnapshot (and at the end), never after it: deleting a local
  // snapshot before its remote backup is gone is the orphan hazard
  // spec.md §4.5 step 4 forbids, so a run of DeleteBackup actions must
  // reach S3 before the DeleteSnapshot that follows them runs.
  var deleteBackupKeys []string
  flushBackupDeletes := func() error {
    if len(deleteBackupKeys) == 0 {
      return nil
    }
    keys := deleteBackupKeys
    deleteBackupKeys = nil
    return e.deleter.DeleteObjects(ctx, keys)
  }
  for i, a := range actions {
    switch a.Kind {
    case model.ActionRenameSnapshot:
      if err := e.doRename(a); err != nil {
        return fmt.Errorf("executor: action %d %s: %w", i, a, err)
      }
    case model.ActionCreateSnapshot:
      if err := e.doCreateSnapshot(a); err != nil {
        return fmt.Errorf("executor: action %d %s: %w", i, a, err)
      }
    case model.ActionCreateBackup:
      if err := e.doCreateBackup(ctx, a); err != nil {
        return fmt.Errorf("executor: action %d %s: %w", i, a, err)
      }
    case model.ActionDeleteBackup:
      id, _, ok := e.subjectID(a)
      if !ok {
        continue
      }
      if key, ok := e.paths.ObjectKey(id); ok {
        deleteBackupKeys = append(deleteBackupKeys, key)
      }
    case model.ActionDeleteSnapshot:
      if err := flushBackupDeletes(); err != nil {
        return fmt.Errorf("executor: action %d %s: %w", i, a, err)
      }
      if err := e.doDeleteSnapshot(a); err != nil {
        return fmt.Errorf("executor: action %d %s: %w", i, a, err)
      }
    default:
      return fmt.Errorf("executor: unknown action kind %v", a.Kind)
    }
  }
  if err := flushBackupDeletes(); err != nil {
    return fmt.Errorf("executor: deleting backups: %w", err)
  }
  return nil
}

func (e *Executor) subjectID(a model.Action) (uuid.UUID, string, bool) {
  if a.Slot != 0 {
    return e.paths.ResolveSlot(a.Slot)
  }
  path, _ := e.paths.SnapshotPath(a.Uuid)
  return a.Uuid, path, true
}

func (e *Executor) doRename(a model.Action) error {
  id, oldPath, ok := e.subjectID(a)
  if !ok {
    return fmt.Errorf("rename: unresolved subject")
  }
  dir, _ := splitDir(oldPath)
  newPath := dir + "/" + a.NewName
  if newPath == oldPath {
    return nil
  }
  if err := os.Rename(oldPath, newPath); err != nil {
    return err
  }
  e.paths.Rename(id, newPath)
  return nil
}

func (e *Executor) doCreateSnapshot(a model.Action) error {
  dstPath := e.namer(a.SourcePath)
  if err := e.fs.CreateSnapshot(a.SourcePath, dstPath, true); err != nil {
    return err
  }
  info, err := e.fs.Info(dstPath)
  if err != nil {
    return fmt.Errorf("create snapshot: reading info of newly created %s: %w", dstPath, err)
  }
  meta := model.Metadata{
    Ctime: info.Ctime, Ctransid: info.Ctransid, Uuid: info.Uuid, ParentUuid: info.ParentUuid,
    MetadataVersion: model.CurrentMetadataVersion, SequenceNumber: model.CurrentSequenceNumber,
  }
  e.paths.BindSlot(a.Slot, info.Uuid, dstPath, meta)
  return nil
}

func (e *Executor) doCreateBackup(ctx context.Context, a model.Action) error {
  id, srcPath, ok := e.subjectID(a)
  if !ok {
    return fmt.Errorf("create backup: unresolved subject")
  }
  var sendParentPath string
  var sendParentID uuid.UUID
  if a.HasSendParent {
    sendParentID = a.SendParentUuid
    if a.SendParentSlot != 0 {
      var ppOK bool
      sendParentID, sendParentPath, ppOK = e.paths.ResolveSlot(a.SendParentSlot)
      if !ppOK {
        return fmt.Errorf("create backup: send-parent slot %d unresolved", a.SendParentSlot)
      }
    } else {
      var ppOK bool
      sendParentPath, ppOK = e.paths.SnapshotPath(sendParentID)
      if !ppOK {
        return fmt.Errorf("create backup: send-parent %s has no known path", sendParentID)
      }
    }
  }

  meta, ok := e.paths.Metadata(id)
  if !ok {
    return fmt.Errorf("create backup: no metadata known for %s", id)
  }
  if a.HasSendParent {
    meta.SendParentUuid = sendParentID
  }
  key := metacodec.Encode(meta, e.paths.Base())

  out, wait, err := e.pipeline(ctx, srcPath, sendParentPath, a.HasSendParent)
  if err != nil {
    return err
  }
  uploadErr := e.uploader.Upload(ctx, key, out)
  waitErr := wait()
  if uploadErr != nil {
    return uploadErr
  }
  return waitErr
}

func (e *Executor) doDeleteSnapshot(a model.Action) error {
  id, path, ok := e.subjectID(a)
  if !ok || path == "" {
    return nil // already gone: idempotent
  }
  if err := e.fs.DestroySnapshot(path); err != nil {
    return err
  }
  e.paths.Rename(id, "")
  return nil
}

func splitDir(path string) (dir, name string) {
  for i := len(path) - 1; i >= 0; i-- {
    if path[i] == '/' {
      return path[:i], path[i+1:]
    }
  }
  return ".", path
}
