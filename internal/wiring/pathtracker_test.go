package wiring

import (
  "testing"

  "github.com/google/uuid"

  "github.com/sbrudenell/btrfs2s3/internal/model"
)

func TestPathTrackerSeedThenLookup(t *testing.T) {
  p := newPathTracker("myvol")
  id := uuid.New()
  meta := model.Metadata{Uuid: id, MetadataVersion: model.CurrentMetadataVersion}
  p.Seed(id, "/snaps/a", "myvol.a.key", meta)

  if got, ok := p.SnapshotPath(id); !ok || got != "/snaps/a" {
    t.Fatalf("SnapshotPath = %q, %v", got, ok)
  }
  if got, ok := p.ObjectKey(id); !ok || got != "myvol.a.key" {
    t.Fatalf("ObjectKey = %q, %v", got, ok)
  }
  if got, ok := p.Metadata(id); !ok || got != meta {
    t.Fatalf("Metadata = %+v, %v", got, ok)
  }
  if p.Base() != "myvol" {
    t.Fatalf("Base = %q", p.Base())
  }
}

func TestPathTrackerSeedEmptyPathOrKeyIsSkipped(t *testing.T) {
  p := newPathTracker("base")
  id := uuid.New()
  p.Seed(id, "", "", model.Metadata{Uuid: id})

  if _, ok := p.SnapshotPath(id); ok {
    t.Fatalf("expected no path recorded for empty seed")
  }
  if _, ok := p.ObjectKey(id); ok {
    t.Fatalf("expected no key recorded for empty seed")
  }
  // Metadata is always recorded, even with an empty path/key.
  if _, ok := p.Metadata(id); !ok {
    t.Fatalf("expected metadata recorded")
  }
}

func TestPathTrackerRename(t *testing.T) {
  p := newPathTracker("base")
  id := uuid.New()
  p.Seed(id, "/snaps/old", "", model.Metadata{})

  p.Rename(id, "/snaps/new")
  if got, ok := p.SnapshotPath(id); !ok || got != "/snaps/new" {
    t.Fatalf("SnapshotPath after rename = %q, %v", got, ok)
  }

  p.Rename(id, "")
  if _, ok := p.SnapshotPath(id); ok {
    t.Fatalf("expected path removed after rename to empty")
  }
}

func TestPathTrackerBindSlotThenResolveSlot(t *testing.T) {
  p := newPathTracker("base")
  id := uuid.New()
  meta := model.Metadata{Uuid: id}

  p.BindSlot(3, id, "/snaps/new-snap", meta)

  gotID, gotPath, ok := p.ResolveSlot(3)
  if !ok || gotID != id || gotPath != "/snaps/new-snap" {
    t.Fatalf("ResolveSlot(3) = %v, %q, %v", gotID, gotPath, ok)
  }
  if got, ok := p.SnapshotPath(id); !ok || got != "/snaps/new-snap" {
    t.Fatalf("SnapshotPath after BindSlot = %q, %v", got, ok)
  }
  if got, ok := p.Metadata(id); !ok || got != meta {
    t.Fatalf("Metadata after BindSlot = %+v, %v", got, ok)
  }
  if _, _, ok := p.ResolveSlot(4); ok {
    t.Fatalf("expected slot 4 to be unresolved")
  }
}
