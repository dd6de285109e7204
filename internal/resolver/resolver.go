// Package resolver implements the differential-tree resolver (spec.md
// §4.4): given a set of candidate items and a preservation policy, it
// determines the unique full-backup root per root-timeframe bucket and the
// send-parent for every other kept item.
package resolver

import (
  "fmt"
  "time"

  "github.com/google/uuid"

  "github.com/sbrudenell/btrfs2s3/internal/model"
  "github.com/sbrudenell/btrfs2s3/internal/policy"
  "github.com/sbrudenell/btrfs2s3/internal/timeframe"
)

// Candidate is one input item to the resolver: an existing snapshot
// and/or backup object, identified by uuid.
type Candidate struct {
  Uuid       uuid.UUID
  ParentUuid uuid.UUID
  Ctime      time.Time
  Ctransid   uint64
  Where      model.Where
}

// Kept is one output item: a candidate the resolver decided to retain
// (possibly newly proposed), plus its send-parent, if any.
type Kept struct {
  Candidate
  Proposed      bool // true iff this item does not correspond to any input candidate
  HasSendParent bool
  SendParent    uuid.UUID // valid iff HasSendParent
}

// Result is the resolver's output for one source.
type Result struct {
  Kept []Kept
}

// candWithLevel augments a candidate with per-level bucket tags computed
// against the active policy, plus whether the resolver proposed it.
type candWithLevel struct {
  Candidate
  proposed bool
  tags     []timeframe.BucketId // tags[i] = bucket at policy.Entries[i].Timeframe
}

// Resolve implements spec.md §4.4 for a single source. tNow is the current
// instant, tz the configured timezone. Resolve is a pure function of its
// inputs.
func Resolve(candidates []Candidate, pol policy.Policy, tNow time.Time, tz *time.Location) (Result, error) {
  if len(pol.Entries) == 0 {
    return Result{}, fmt.Errorf("%w: empty policy", model.ErrResolverInconsistency)
  }

  bucketSets := make([]map[timeframe.BucketId]bool, len(pol.Entries))
  for i, e := range pol.Entries {
    buckets := timeframe.EnumerateBuckets(e.Timeframe, tNow, e.Count, tz)
    set := make(map[timeframe.BucketId]bool, len(buckets))
    for _, b := range buckets {
      set[b] = true
    }
    bucketSets[i] = set
  }

  tag := func(c Candidate) []timeframe.BucketId {
    tags := make([]timeframe.BucketId, len(pol.Entries))
    for i, e := range pol.Entries {
      tags[i] = timeframe.Bucket(e.Timeframe, c.Ctime, tz)
    }
    return tags
  }

  nominate := func(items []candWithLevel) ([]map[timeframe.BucketId]uuid.UUID, map[uuid.UUID]candWithLevel, error) {
    byUuid := make(map[uuid.UUID]candWithLevel, len(items))
    for _, it := range items {
      byUuid[it.Uuid] = it
    }
    nomineeMap := make([]map[timeframe.BucketId]uuid.UUID, len(pol.Entries))
    for i := range pol.Entries {
      nomineeMap[i] = make(map[timeframe.BucketId]uuid.UUID)
      groups := make(map[timeframe.BucketId][]candWithLevel)
      for _, it := range items {
        b := it.tags[i]
        if !bucketSets[i][b] {
          continue
        }
        groups[b] = append(groups[b], it)
      }
      for b, group := range groups {
        // First find the group's minimum by (ctime, ctransid), ignoring
        // ties entirely: a candidate that is uniquely smaller than every
        // other must win regardless of what any two other candidates in
        // the group tie on.
        winner := group[0]
        for _, cand := range group[1:] {
          if cand.Ctime.Before(winner.Ctime) ||
            (cand.Ctime.Equal(winner.Ctime) && cand.Ctransid < winner.Ctransid) {
            winner = cand
          }
        }
        // Only now check for a genuine tie: another candidate matching
        // the minimum exactly, which makes the winner ambiguous.
        for _, cand := range group {
          if cand.Uuid == winner.Uuid {
            continue
          }
          if cand.Ctime.Equal(winner.Ctime) && cand.Ctransid == winner.Ctransid {
            return nil, nil, fmt.Errorf(
              "%w: candidates %s and %s tie on both ctime and ctransid in bucket",
              model.ErrResolverInconsistency, cand.Uuid, winner.Uuid)
          }
        }
        nomineeMap[i][b] = winner.Uuid
      }
    }
    return nomineeMap, byUuid, nil
  }

  withTags := make([]candWithLevel, 0, len(candidates))
  for _, c := range candidates {
    withTags = append(withTags, candWithLevel{Candidate: c, tags: tag(c)})
  }

  nomineeMap, _, err := nominate(withTags)
  if err != nil {
    return Result{}, err
  }

  rootLevel := 0
  finestLevel := len(pol.Entries) - 1
  needsFill := false
  if len(bucketSets[rootLevel]) > 0 {
    curRootBucket := timeframe.Bucket(pol.Entries[rootLevel].Timeframe, tNow, tz)
    if _, ok := nomineeMap[rootLevel][curRootBucket]; !ok && bucketSets[rootLevel][curRootBucket] {
      needsFill = true
    }
  }
  if len(bucketSets[finestLevel]) > 0 {
    curFinestBucket := timeframe.Bucket(pol.Entries[finestLevel].Timeframe, tNow, tz)
    if _, ok := nomineeMap[finestLevel][curFinestBucket]; !ok && bucketSets[finestLevel][curFinestBucket] {
      needsFill = true
    }
  }

  if needsFill {
    proposed := candWithLevel{
      Candidate: Candidate{
        Uuid:     model.ZeroUUID,
        Ctime:    tNow,
        Ctransid: ^uint64(0), // newest possible; never wins over an existing candidate at a tied bucket
      },
      proposed: true,
    }
    proposed.tags = tag(proposed.Candidate)
    withTags = append(withTags, proposed)
    nomineeMap, _, err = nominate(withTags)
    if err != nil {
      return Result{}, err
    }
  }

  byUuid := make(map[uuid.UUID]candWithLevel, len(withTags))
  for _, it := range withTags {
    byUuid[it.Uuid] = it
  }

  // coarsestLevel[uuid] = smallest i at which this item is the nominee.
  coarsestLevel := make(map[uuid.UUID]int)
  keptSet := make(map[uuid.UUID]bool)
  for i := range pol.Entries {
    for _, id := range nomineeMap[i] {
      keptSet[id] = true
      if _, ok := coarsestLevel[id]; !ok {
        coarsestLevel[id] = i
      }
    }
  }

  type parentAssignment struct {
    hasParent bool
    parent    uuid.UUID
  }
  parents := make(map[uuid.UUID]parentAssignment, len(keptSet))
  for id := range keptSet {
    level := coarsestLevel[id]
    x := byUuid[id]
    found := false
    for j := level - 1; j >= 0; j-- {
      pb := timeframe.Bucket(pol.Entries[j].Timeframe, x.Ctime, tz)
      if pid, ok := nomineeMap[j][pb]; ok {
        parents[id] = parentAssignment{hasParent: true, parent: pid}
        found = true
        break
      }
    }
    if !found {
      parents[id] = parentAssignment{hasParent: false}
    }
  }

  // Invariant 3: at most one root (parent==None) per root-timeframe bucket.
  rootsByBucket := make(map[timeframe.BucketId][]uuid.UUID)
  for id := range keptSet {
    if !parents[id].hasParent {
      x := byUuid[id]
      b := timeframe.Bucket(pol.Entries[rootLevel].Timeframe, x.Ctime, tz)
      rootsByBucket[b] = append(rootsByBucket[b], id)
    }
  }
  for b, ids := range rootsByBucket {
    if len(ids) > 1 {
      return Result{}, fmt.Errorf("%w: %d roots in the same %s bucket %v",
        model.ErrResolverInconsistency, len(ids), pol.Entries[rootLevel].Timeframe, b)
    }
  }

  result := Result{}
  for id := range keptSet {
    x := byUuid[id]
    p := parents[id]
    k := Kept{
      Candidate:     x.Candidate,
      Proposed:      x.proposed,
      HasSendParent: p.hasParent,
    }
    if p.hasParent {
      k.SendParent = p.parent
    }
    result.Kept = append(result.Kept, k)
  }
  return result, nil
}
