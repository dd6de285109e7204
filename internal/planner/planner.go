// Package planner computes the ordered list of actions (spec.md §4.5)
// needed to bring the on-disk snapshots and remote objects for one source
// into agreement with a resolver.Result.
package planner

import (
  "fmt"
  "sort"

  "github.com/google/uuid"

  "github.com/sbrudenell/btrfs2s3/internal/metacodec"
  "github.com/sbrudenell/btrfs2s3/internal/model"
  "github.com/sbrudenell/btrfs2s3/internal/resolver"
)

// InvItem is one item already observed locally and/or remotely for a
// source, as produced by the inventory component.
type InvItem struct {
  Uuid           uuid.UUID
  Where          model.Where
  LocalPath      string
  LocalCanonical bool // the on-disk filename already matches metacodec.Encode
  ObjectKey      string
}

// Plan diffs a resolver.Result against the current inventory for a single
// source and returns the ordered actions needed to reconcile them:
// canonicalizing renames, then new snapshots, then new backups (parents
// before children), then backup deletions, then snapshot deletions.
//
// sourceCtransid is the live source subvolume's current ctransid;
// existingCtransids is the ctransid of every existing local snapshot of
// this source. A proposed new snapshot is only emitted
// as a CreateSnapshot (and its dependent CreateBackup) when sourceCtransid
// is strictly greater than every value in existingCtransids: otherwise the
// source hasn't changed since the last snapshot, so creating one would
// snapshot unchanged content (spec.md §4.5 step 2), grounded on
// original_source/_internal/assessor.py's _is_new_snapshot_needed.
func Plan(kept []resolver.Kept, inv []InvItem, sourcePath, base string, sourceCtransid uint64, existingCtransids []uint64) ([]model.Action, error) {
  newSnapshotNeeded := true
  if len(existingCtransids) > 0 {
    var maxCtransid uint64
    for _, c := range existingCtransids {
      if c > maxCtransid {
        maxCtransid = c
      }
    }
    newSnapshotNeeded = sourceCtransid > maxCtransid
  }

  invByUuid := make(map[uuid.UUID]InvItem, len(inv))
  for _, it := range inv {
    invByUuid[it.Uuid] = it
  }
  keptByUuid := make(map[uuid.UUID]resolver.Kept, len(kept))
  for _, k := range kept {
    if !k.Proposed {
      keptByUuid[k.Uuid] = k
    }
  }

  var actions []model.Action

  // 1. Canonicalizing renames: existing local items whose on-disk name
  // doesn't match the canonical encoding.
  sortedKept := append([]resolver.Kept(nil), kept...)
  if !newSnapshotNeeded {
    // The source hasn't advanced past its last snapshot: drop any
    // proposed item so it yields neither a CreateSnapshot nor the
    // CreateBackup that would otherwise depend on it.
    filtered := sortedKept[:0]
    for _, k := range sortedKept {
      if !k.Proposed {
        filtered = append(filtered, k)
      }
    }
    sortedKept = filtered
  }
  sort.Slice(sortedKept, func(i, j int) bool { return sortedKept[i].Ctime.Before(sortedKept[j].Ctime) })
  for _, k := range sortedKept {
    if k.Proposed {
      continue
    }
    it, ok := invByUuid[k.Uuid]
    if !ok || it.LocalCanonical || (it.Where != model.Local && it.Where != model.Both) {
      continue
    }
    meta := model.Metadata{
      Ctime: k.Ctime, Ctransid: k.Ctransid, Uuid: k.Uuid, ParentUuid: k.ParentUuid,
      MetadataVersion: model.CurrentMetadataVersion, SequenceNumber: model.CurrentSequenceNumber,
    }
    if k.HasSendParent {
      meta.SendParentUuid = k.SendParent
    }
    actions = append(actions, model.Action{
      Kind: model.ActionRenameSnapshot, Uuid: k.Uuid, NewName: metacodec.Encode(meta, base),
    })
  }

  // 2. New snapshots: proposed items. Only one is expected per resolve
  // call, but slots are assigned in encounter order regardless.
  slotOf := make(map[*resolver.Kept]int)
  nextSlot := 1
  for i := range sortedKept {
    k := &sortedKept[i]
    if !k.Proposed {
      continue
    }
    slotOf[k] = nextSlot
    actions = append(actions, model.Action{Kind: model.ActionCreateSnapshot, SourcePath: sourcePath, Slot: nextSlot})
    nextSlot++
  }

  // 3. New backups: any kept item not already present remotely
  // (Where == Remote or Both), ordered parents-first.
  type pendingBackup struct {
    kept resolver.Kept
    slot int // 0 if this item already has a real uuid
  }
  pending := make(map[uuid.UUID]*pendingBackup) // keyed by real uuid; proposed items keyed by model.ZeroUUID won't collide since there's at most one
  var pendingList []*pendingBackup
  for i := range sortedKept {
    k := sortedKept[i]
    slot := 0
    if k.Proposed {
      slot = slotOf[&sortedKept[i]]
    } else {
      it, ok := invByUuid[k.Uuid]
      if ok && (it.Where == model.Both || it.Where == model.Remote) {
        continue
      }
    }
    pb := &pendingBackup{kept: k, slot: slot}
    pendingList = append(pendingList, pb)
    pending[k.Uuid] = pb
  }

  emitted := make(map[*pendingBackup]bool, len(pendingList))
  for len(emitted) < len(pendingList) {
    progressed := false
    // Stable order: sort remaining candidates by ctime for determinism.
    remaining := make([]*pendingBackup, 0, len(pendingList))
    for _, pb := range pendingList {
      if !emitted[pb] {
        remaining = append(remaining, pb)
      }
    }
    sort.Slice(remaining, func(i, j int) bool { return remaining[i].kept.Ctime.Before(remaining[j].kept.Ctime) })
    for _, pb := range remaining {
      k := pb.kept
      ready := true
      if k.HasSendParent {
        if parentPB, isPending := pending[k.SendParent]; isPending && !emitted[parentPB] {
          ready = false
        }
      }
      if !ready {
        continue
      }
      action := model.Action{Kind: model.ActionCreateBackup, HasSendParent: k.HasSendParent}
      if pb.slot != 0 {
        action.Slot = pb.slot
      } else {
        action.Uuid = k.Uuid
      }
      if k.HasSendParent {
        if parentPB, isPending := pending[k.SendParent]; isPending {
          action.SendParentSlot = parentPB.slot
          if parentPB.slot == 0 {
            action.SendParentUuid = parentPB.kept.Uuid
          }
        } else {
          action.SendParentUuid = k.SendParent
        }
      }
      actions = append(actions, action)
      emitted[pb] = true
      progressed = true
    }
    if !progressed {
      return nil, fmt.Errorf("%w: cycle or missing send-parent while ordering backup creation", model.ErrPlannerAssertion)
    }
  }

  // 4. Backup deletions: remote items no longer in the kept set.
  var toDelete []InvItem
  for _, it := range inv {
    if _, ok := keptByUuid[it.Uuid]; ok {
      continue
    }
    toDelete = append(toDelete, it)
  }
  sort.Slice(toDelete, func(i, j int) bool { return toDelete[i].Uuid.String() < toDelete[j].Uuid.String() })
  for _, it := range toDelete {
    if it.Where == model.Remote || it.Where == model.Both {
      actions = append(actions, model.Action{Kind: model.ActionDeleteBackup, Uuid: it.Uuid})
    }
  }

  // 5. Snapshot deletions: local items no longer in the kept set.
  for _, it := range toDelete {
    if it.Where == model.Local || it.Where == model.Both {
      actions = append(actions, model.Action{Kind: model.ActionDeleteSnapshot, Uuid: it.Uuid})
    }
  }

  if err := Validate(actions); err != nil {
    return nil, err
  }
  return actions, nil
}

// Validate self-checks a plan: every slot referenced by a later action must
// have been introduced by an earlier CreateSnapshot.
func Validate(actions []model.Action) error {
  introduced := make(map[int]bool)
  for _, a := range actions {
    switch a.Kind {
    case model.ActionCreateSnapshot:
      if a.Slot == 0 {
        return fmt.Errorf("%w: CreateSnapshot with no slot", model.ErrPlannerAssertion)
      }
      introduced[a.Slot] = true
    case model.ActionCreateBackup, model.ActionRenameSnapshot, model.ActionDeleteSnapshot, model.ActionDeleteBackup:
      if a.Slot != 0 && !introduced[a.Slot] {
        return fmt.Errorf("%w: action %s references slot %d before it is created", model.ErrPlannerAssertion, a, a.Slot)
      }
      if a.Kind == model.ActionCreateBackup && a.SendParentSlot != 0 && !introduced[a.SendParentSlot] {
        return fmt.Errorf("%w: action %s references send-parent slot %d before it is created", model.ErrPlannerAssertion, a, a.SendParentSlot)
      }
    }
  }
  return nil
}
