package executor

import (
  "bytes"
  "context"
  "io"
  "testing"

  "github.com/google/uuid"

  "github.com/sbrudenell/btrfs2s3/internal/logging"
  "github.com/sbrudenell/btrfs2s3/internal/metacodec"
  "github.com/sbrudenell/btrfs2s3/internal/model"
)

type fakeFS struct {
  created   []string
  destroyed []string
  infoByPath map[string]model.SubvolumeInfo
}

func (f *fakeFS) CreateSnapshot(src, dst string, readOnly bool) error {
  f.created = append(f.created, dst)
  return nil
}
func (f *fakeFS) DestroySnapshot(path string) error {
  f.destroyed = append(f.destroyed, path)
  return nil
}
func (f *fakeFS) Info(path string) (model.SubvolumeInfo, error) {
  if f.infoByPath != nil {
    if info, ok := f.infoByPath[path]; ok {
      return info, nil
    }
  }
  return model.SubvolumeInfo{Uuid: uuid.New(), Path: path}, nil
}

type fakePaths struct {
  paths     map[uuid.UUID]string
  keys      map[uuid.UUID]string
  metas     map[uuid.UUID]model.Metadata
  slots     map[int]uuid.UUID
  slotPaths map[int]string
}

func newFakePaths() *fakePaths {
  return &fakePaths{
    paths: map[uuid.UUID]string{}, keys: map[uuid.UUID]string{}, metas: map[uuid.UUID]model.Metadata{},
    slots: map[int]uuid.UUID{}, slotPaths: map[int]string{},
  }
}
func (p *fakePaths) SnapshotPath(id uuid.UUID) (string, bool)        { s, ok := p.paths[id]; return s, ok }
func (p *fakePaths) ObjectKey(id uuid.UUID) (string, bool)           { s, ok := p.keys[id]; return s, ok }
func (p *fakePaths) Metadata(id uuid.UUID) (model.Metadata, bool)    { m, ok := p.metas[id]; return m, ok }
func (p *fakePaths) Base() string                                    { return "base" }
func (p *fakePaths) Rename(id uuid.UUID, newPath string)             { p.paths[id] = newPath }
func (p *fakePaths) BindSlot(slot int, id uuid.UUID, path string, meta model.Metadata) {
  p.slots[slot] = id
  p.slotPaths[slot] = path
  p.paths[id] = path
  p.metas[id] = meta
  p.keys[id] = "key-for-slot"
}
func (p *fakePaths) ResolveSlot(slot int) (uuid.UUID, string, bool) {
  id, ok := p.slots[slot]
  return id, p.slotPaths[slot], ok
}

type fakeDeleter struct{ deleted []string }

func (d *fakeDeleter) DeleteObjects(ctx context.Context, keys []string) error {
  d.deleted = append(d.deleted, keys...)
  return nil
}

func testLogger() *logging.Logger { return logging.New("test", "debug") }

func TestApplyCreateSnapshotThenBackup(t *testing.T) {
  wantInfo := model.SubvolumeInfo{Uuid: uuid.New(), Path: "/vol/src-snap"}
  fs := &fakeFS{infoByPath: map[string]model.SubvolumeInfo{"/vol/src-snap": wantInfo}}
  paths := newFakePaths()
  var uploadedKey string
  var uploadedData []byte
  pipeline := func(ctx context.Context, srcPath, sendParentPath string, hasParent bool) (io.ReadCloser, func() error, error) {
    return io.NopCloser(bytes.NewReader([]byte("stream"))), func() error { return nil }, nil
  }
  up := UploaderFunc(func(ctx context.Context, key string, r io.Reader) error {
    b, _ := io.ReadAll(r)
    uploadedKey = key
    uploadedData = b
    return nil
  })
  deleter := &fakeDeleter{}
  ex := New(fs, pipeline, up, deleter, paths, func(src string) string { return src + "-snap" }, testLogger())

  actions := []model.Action{
    {Kind: model.ActionCreateSnapshot, SourcePath: "/vol/src", Slot: 1},
    {Kind: model.ActionCreateBackup, Slot: 1},
  }
  if err := ex.Apply(context.Background(), actions); err != nil {
    t.Fatalf("Apply: %v", err)
  }
  if len(fs.created) != 1 || fs.created[0] != "/vol/src-snap" {
    t.Fatalf("created = %+v", fs.created)
  }
  wantKey := metacodec.Encode(model.Metadata{
    Uuid: wantInfo.Uuid, MetadataVersion: model.CurrentMetadataVersion, SequenceNumber: model.CurrentSequenceNumber,
  }, paths.Base())
  if uploadedKey != wantKey || string(uploadedData) != "stream" {
    t.Fatalf("upload = %q %q, want key %q", uploadedKey, uploadedData, wantKey)
  }
}

func TestApplyDeleteSnapshotIsIdempotent(t *testing.T) {
  fs := &fakeFS{}
  paths := newFakePaths()
  ex := New(fs, nil, nil, &fakeDeleter{}, paths, nil, testLogger())
  id := uuid.New()
  // No path recorded for id: DeleteSnapshot should be a no-op, not an error.
  if err := ex.Apply(context.Background(), []model.Action{{Kind: model.ActionDeleteSnapshot, Uuid: id}}); err != nil {
    t.Fatalf("Apply: %v", err)
  }
  if len(fs.destroyed) != 0 {
    t.Fatalf("expected no destroy calls, got %+v", fs.destroyed)
  }
}

func TestApplyDeletesBackupBeforeSnapshot(t *testing.T) {
  id := uuid.New()
  fs := &fakeFS{}
  paths := newFakePaths()
  paths.paths[id] = "/vol/.snapshots/old"
  paths.keys[id] = "obj-old"
  var order []string
  deleter := &orderedDeleter{order: &order}
  fs2 := &orderedFS{fakeFS: fs, order: &order}
  ex := New(fs2, nil, nil, deleter, paths, nil, testLogger())

  actions := []model.Action{
    {Kind: model.ActionDeleteBackup, Uuid: id},
    {Kind: model.ActionDeleteSnapshot, Uuid: id},
  }
  if err := ex.Apply(context.Background(), actions); err != nil {
    t.Fatalf("Apply: %v", err)
  }
  if len(order) != 2 || order[0] != "delete-backup:obj-old" || order[1] != "destroy-snapshot:/vol/.snapshots/old" {
    t.Fatalf("order = %+v, want [delete-backup:obj-old destroy-snapshot:/vol/.snapshots/old]", order)
  }
}

type orderedDeleter struct{ order *[]string }

func (d *orderedDeleter) DeleteObjects(ctx context.Context, keys []string) error {
  for _, k := range keys {
    *d.order = append(*d.order, "delete-backup:"+k)
  }
  return nil
}

type orderedFS struct {
  *fakeFS
  order *[]string
}

func (f *orderedFS) DestroySnapshot(path string) error {
  *f.order = append(*f.order, "destroy-snapshot:"+path)
  return f.fakeFS.DestroySnapshot(path)
}

func TestApplyBatchesBackupDeletes(t *testing.T) {
  paths := newFakePaths()
  id1, id2 := uuid.New(), uuid.New()
  paths.keys[id1] = "obj1"
  paths.keys[id2] = "obj2"
  deleter := &fakeDeleter{}
  ex := New(&fakeFS{}, nil, nil, deleter, paths, nil, testLogger())
  actions := []model.Action{
    {Kind: model.ActionDeleteBackup, Uuid: id1},
    {Kind: model.ActionDeleteBackup, Uuid: id2},
  }
  if err := ex.Apply(context.Background(), actions); err != nil {
    t.Fatalf("Apply: %v", err)
  }
  if len(deleter.deleted) != 2 {
    t.Fatalf("deleted = %+v", deleter.deleted)
  }
}
