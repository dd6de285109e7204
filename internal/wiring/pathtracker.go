package wiring

import (
  "github.com/google/uuid"

  "github.com/sbrudenell/btrfs2s3/internal/model"
)

// pathTracker implements executor.PathResolver over an in-memory map,
// seeded from the inventory the planner already saw and updated as the
// executor creates and renames snapshots within one Apply call.
type pathTracker struct {
  base      string
  paths     map[uuid.UUID]string
  keys      map[uuid.UUID]string
  metas     map[uuid.UUID]model.Metadata
  slots     map[int]uuid.UUID
  slotPaths map[int]string
}

func newPathTracker(base string) *pathTracker {
  return &pathTracker{
    base: base, paths: map[uuid.UUID]string{}, keys: map[uuid.UUID]string{},
    metas: map[uuid.UUID]model.Metadata{}, slots: map[int]uuid.UUID{}, slotPaths: map[int]string{},
  }
}

// Seed registers an item already known from the inventory, before any
// plan actions run.
func (p *pathTracker) Seed(id uuid.UUID, path, key string, meta model.Metadata) {
  if path != "" {
    p.paths[id] = path
  }
  if key != "" {
    p.keys[id] = key
  }
  p.metas[id] = meta
}

func (p *pathTracker) Base() string { return p.base }

func (p *pathTracker) SnapshotPath(id uuid.UUID) (string, bool) {
  s, ok := p.paths[id]
  return s, ok
}

func (p *pathTracker) ObjectKey(id uuid.UUID) (string, bool) {
  s, ok := p.keys[id]
  return s, ok
}

func (p *pathTracker) Metadata(id uuid.UUID) (model.Metadata, bool) {
  m, ok := p.metas[id]
  return m, ok
}

func (p *pathTracker) Rename(id uuid.UUID, newPath string) {
  if newPath == "" {
    delete(p.paths, id)
    return
  }
  p.paths[id] = newPath
}

func (p *pathTracker) BindSlot(slot int, id uuid.UUID, path string, meta model.Metadata) {
  p.slots[slot] = id
  p.slotPaths[slot] = path
  p.paths[id] = path
  p.metas[id] = meta
}

func (p *pathTracker) ResolveSlot(slot int) (uuid.UUID, string, bool) {
  id, ok := p.slots[slot]
  return id, p.slotPaths[slot], ok
}
