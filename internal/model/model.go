// Package model holds the core data types shared by every component:
// subvolume/backup metadata, timeframes, policies, items and plan actions.
package model

import (
  "errors"
  "fmt"
  "time"

  "github.com/google/uuid"
)

var ZeroUUID uuid.UUID

var (
  ErrMalformedKey               = errors.New("malformed_metadata_key")
  ErrUnsupportedMetadataVersion = errors.New("unsupported_metadata_version")
  ErrUnsupportedSequence        = errors.New("unsupported_sequence")
  ErrResolverInconsistency      = errors.New("resolver_inconsistency")
  ErrPlannerAssertion           = errors.New("planner_assertion")
  ErrConfig                     = errors.New("config_error")
  ErrInventory                  = errors.New("inventory_error")
  ErrEmptyStream                = errors.New("empty_stream")
  ErrObjectTooLarge             = errors.New("object_too_large")
)

// SubvolumeInfo mirrors the "runtime-typed info tuple from the kernel" the
// teacher generated from protobuf. Here it is a plain struct with named
// fields, per DESIGN.md.
type SubvolumeInfo struct {
  Uuid         uuid.UUID
  ParentUuid   uuid.UUID
  Ctransid     uint64
  Ctime        time.Time
  Path         string
  ReadOnly     bool
}

// Metadata is the full per-backup metadata mirrored by both the on-disk
// snapshot and the remote object key (spec.md §3.1).
type Metadata struct {
  Ctime           time.Time
  Ctransid        uint64
  Uuid            uuid.UUID
  ParentUuid      uuid.UUID
  SendParentUuid  uuid.UUID // model.ZeroUUID iff full
  MetadataVersion uint16
  SequenceNumber  uint32
}

func (m Metadata) IsFull() bool { return m.SendParentUuid == ZeroUUID }

const CurrentMetadataVersion uint16 = 1
const CurrentSequenceNumber uint32 = 0

// Where records which side(s) of the parallel trees (spec.md §3.2
// invariant 1) an item was observed on.
type Where int

const (
  Nowhere Where = iota
  Local
  Remote
  Both
)

// Item is the resolver's unit of work: a logical snapshot/backup pair
// identified by uuid.
type Item struct {
  Uuid           uuid.UUID
  ParentUuid     uuid.UUID
  Ctime          time.Time
  Ctransid       uint64
  SendParentUuid uuid.UUID // model.ZeroUUID means "root" (full backup)
  HasSendParent  bool
  Where          Where
  // LocalPath is set when Where is Local or Both.
  LocalPath string
  // ObjectKey is set when Where is Remote or Both.
  ObjectKey string
  // Proposed marks an item the resolver invented to fill a bucket that
  // had no nominee; the executor must create it before anything else
  // can reference it.
  Proposed bool
}

// ActionKind is a closed set of plan-action variants (spec.md §3.1).
type ActionKind int

const (
  ActionCreateSnapshot ActionKind = iota
  ActionRenameSnapshot
  ActionDeleteSnapshot
  ActionCreateBackup
  ActionDeleteBackup
)

func (k ActionKind) String() string {
  switch k {
  case ActionCreateSnapshot:
    return "CreateSnapshot"
  case ActionRenameSnapshot:
    return "RenameSnapshot"
  case ActionDeleteSnapshot:
    return "DeleteSnapshot"
  case ActionCreateBackup:
    return "CreateBackup"
  case ActionDeleteBackup:
    return "DeleteBackup"
  default:
    return "Unknown"
  }
}

// Action is one step of a plan (spec.md §3.1, §4.5).
//
// A proposed item's real uuid is not known until its CreateSnapshot action
// has executed. Such actions are correlated by Slot instead of Uuid: a
// nonzero Slot on CreateSnapshot introduces a new binding, and the same
// Slot on a later CreateBackup or RenameSnapshot action refers back to
// whatever uuid that snapshot was actually created with.
type Action struct {
  Kind ActionKind

  // Populated depending on Kind.
  Uuid           uuid.UUID // subject of the action; ignored when Slot != 0
  Slot           int       // nonzero: subject is the item created by the Slot-matching CreateSnapshot
  SourcePath     string    // CreateSnapshot: path of the source subvolume
  NewName        string    // RenameSnapshot: canonical filename
  SendParentUuid uuid.UUID // CreateBackup: model.ZeroUUID means full
  SendParentSlot int       // CreateBackup: nonzero overrides SendParentUuid with a slot binding
  HasSendParent  bool
}

func (a Action) subject() string {
  if a.Slot != 0 {
    return fmt.Sprintf("slot(%d)", a.Slot)
  }
  return a.Uuid.String()
}

func (a Action) String() string {
  switch a.Kind {
  case ActionCreateSnapshot:
    return fmt.Sprintf("CreateSnapshot(%s, slot=%d)", a.SourcePath, a.Slot)
  case ActionRenameSnapshot:
    return "RenameSnapshot(" + a.subject() + " -> " + a.NewName + ")"
  case ActionDeleteSnapshot:
    return "DeleteSnapshot(" + a.subject() + ")"
  case ActionCreateBackup:
    if !a.HasSendParent {
      return "CreateBackup(" + a.subject() + ", parent=none)"
    }
    if a.SendParentSlot != 0 {
      return fmt.Sprintf("CreateBackup(%s, parent=slot(%d))", a.subject(), a.SendParentSlot)
    }
    return "CreateBackup(" + a.subject() + ", parent=" + a.SendParentUuid.String() + ")"
  case ActionDeleteBackup:
    return "DeleteBackup(" + a.subject() + ")"
  default:
    return "Unknown"
  }
}
