// Package inventory builds the local and remote model.Item sets that feed
// the resolver (spec.md §4.3): the local side lists read-only snapshots
// under a source's snapshot directory, the remote side paginates the
// backing object store and decodes each key with metacodec, and both
// sides are merged by uuid.
package inventory

import (
  "context"
  "sort"
  "time"

  "github.com/google/uuid"

  "github.com/sbrudenell/btrfs2s3/internal/logging"
  "github.com/sbrudenell/btrfs2s3/internal/metacodec"
  "github.com/sbrudenell/btrfs2s3/internal/model"
)

// LocalSubvolume is one read-only snapshot found under a source's snapshot
// directory, as reported by the filesystem collaborator. Ctime is the
// kernel's creation time (spec.md §3.1/§9's authoritative ordering key),
// not derived from the filename.
type LocalSubvolume struct {
  Path       string
  Uuid       uuid.UUID
  ParentUuid uuid.UUID
  Ctransid   uint64
  Ctime      time.Time
}

// LocalLister lists read-only snapshots. Grounded on the teacher's
// types.VolumeManager.GetSnapshotSeqForVolume.
type LocalLister interface {
  ListSnapshots(ctx context.Context, dir string) ([]LocalSubvolume, error)
}

// RemoteObject is one key returned by a bucket listing page.
type RemoteObject struct {
  Key string
}

// RemotePage is one page of a bucket listing.
type RemotePage struct {
  Objects               []RemoteObject
  NextContinuationToken string
  IsTruncated           bool
}

// RemoteLister paginates a bucket listing. Grounded on the teacher's
// s3ObjectIterator (volume_store/aws_s3_storage).
type RemoteLister interface {
  ListPage(ctx context.Context, prefix, continuationToken string) (RemotePage, error)
}

// Snapshot is one local item, decoded and matched against its parent
// subvolume's canonical filename.
type Snapshot struct {
  Item      model.Item
  Canonical bool // filename already equals metacodec.Encode(meta, base)
}

// ListLocal walks dir with lister and returns one Snapshot per read-only
// child whose ParentUuid matches sourceParent. Non-matching subvolumes are
// silently skipped: they belong to a different source.
func ListLocal(ctx context.Context, lister LocalLister, dir string, sourceParent uuid.UUID, log *logging.Logger) ([]Snapshot, error) {
  subvols, err := lister.ListSnapshots(ctx, dir)
  if err != nil {
    return nil, err
  }
  var out []Snapshot
  for _, sv := range subvols {
    if sv.ParentUuid != sourceParent {
      continue
    }
    out = append(out, Snapshot{
      Item: model.Item{
        Uuid: sv.Uuid, ParentUuid: sv.ParentUuid, Ctransid: sv.Ctransid,
        Ctime: sv.Ctime, Where: model.Local, LocalPath: sv.Path,
      },
      // Canonicalization is decided by the caller once it has the full
      // Metadata (ctime, send-parent) from the resolver; ListLocal only
      // reports what's on disk.
      Canonical: false,
    })
  }
  sort.Slice(out, func(i, j int) bool { return out[i].Item.LocalPath < out[j].Item.LocalPath })
  return out, nil
}

// ListRemote paginates every object under prefix, decodes each key with
// metacodec, and returns one model.Item per successfully decoded key.
// Keys that fail to decode (spec.md §4.3, §7) are logged and skipped, not
// treated as fatal.
func ListRemote(ctx context.Context, lister RemoteLister, prefix string, log *logging.Logger) ([]model.Item, error) {
  var out []model.Item
  token := ""
  for {
    page, err := lister.ListPage(ctx, prefix, token)
    if err != nil {
      return nil, err
    }
    for _, obj := range page.Objects {
      base, meta, derr := metacodec.Decode(obj.Key)
      if derr != nil {
        log.Warnf("skipping undecodable object key %q: %v", obj.Key, derr)
        continue
      }
      _ = base
      item := model.Item{
        Uuid: meta.Uuid, ParentUuid: meta.ParentUuid, Ctime: meta.Ctime,
        Ctransid: meta.Ctransid, Where: model.Remote, ObjectKey: obj.Key,
      }
      if !meta.IsFull() {
        item.HasSendParent = true
        item.SendParentUuid = meta.SendParentUuid
      }
      out = append(out, item)
    }
    if !page.IsTruncated || page.NextContinuationToken == "" {
      break
    }
    token = page.NextContinuationToken
  }
  return out, nil
}

// Merge combines a local and a remote item slice (already filtered to one
// source's parent_uuid) into one model.Item per uuid, with Where set to
// Local, Remote or Both.
func Merge(local []Snapshot, remote []model.Item) []model.Item {
  byUuid := make(map[uuid.UUID]*model.Item)
  order := make([]uuid.UUID, 0, len(local)+len(remote))
  for _, s := range local {
    it := s.Item
    byUuid[it.Uuid] = &it
    order = append(order, it.Uuid)
  }
  for _, r := range remote {
    if existing, ok := byUuid[r.Uuid]; ok {
      existing.Where = model.Both
      existing.ObjectKey = r.ObjectKey
      existing.HasSendParent = r.HasSendParent
      existing.SendParentUuid = r.SendParentUuid
      if existing.Ctime.IsZero() {
        existing.Ctime = r.Ctime
      }
      if existing.Ctransid == 0 {
        existing.Ctransid = r.Ctransid
      }
      continue
    }
    rc := r
    byUuid[rc.Uuid] = &rc
    order = append(order, rc.Uuid)
  }
  out := make([]model.Item, 0, len(order))
  for _, id := range order {
    out = append(out, *byUuid[id])
  }
  return out
}
