//go:build linux

// Package btrfsfs is a concrete, cgo-free filesystem collaborator for
// btrfs: it creates and destroys read-only snapshots and drives `btrfs
// send` via raw ioctls. Struct layouts and ioctl numbers are ported
// directly from btrfs2s3's original _internal/btrfsioctl.py (IOC_*
// constants, VolArgsV2, SubvolInfoStruct, SendArgs), since spec.md leaves
// the filesystem collaborator as an external contract. The teacher's own
// local/btrfs.go used cgo; this package uses golang.org/x/sys/unix instead
// so the module has no cgo dependency.
package btrfsfs

import (
  "context"
  "fmt"
  "os"
  "path/filepath"
  "time"
  "unsafe"

  "github.com/google/uuid"
  "golang.org/x/sys/unix"

  "github.com/sbrudenell/btrfs2s3/internal/inventory"
  "github.com/sbrudenell/btrfs2s3/internal/model"
)

const (
  volNameMax    = 255
  subvolNameMax = 4039
  uuidSize      = 16
)

// SubvolArgsFlag mirrors btrfsioctl.py's SubvolArgsFlag.
const (
  subvolArgReadOnly      uint64 = 1 << 1
  subvolArgSubvolSpecByID uint64 = 1 << 4
)

// volArgsV2 mirrors btrfs2s3's VolArgsV2 ctypes.Structure: an 8-byte fd,
// two 8-byte uint64s, 4 reserved uint64s for qgroup args, then a union of
// {name[4040], devid, subvolid}. Total size must stay 4096 bytes to match
// the kernel ABI (BTRFS_SUBVOL_NAME_MAX+1 == 4040, padded).
type volArgsV2 struct {
  fd      int64
  transid uint64
  flags   uint64
  unused  [4]uint64
  union   [4040]byte // name, or subvolid/devid aliased into the first 8 bytes
}

func (v *volArgsV2) setName(name string) error {
  b := []byte(name)
  if len(b) > subvolNameMax {
    return fmt.Errorf("btrfsfs: name %q exceeds %d bytes", name, subvolNameMax)
  }
  copy(v.union[:], b)
  return nil
}

func (v *volArgsV2) setSubvolID(id uint64) {
  *(*uint64)(unsafe.Pointer(&v.union[0])) = id
}

const volArgsV2Size = 8 + 8 + 8 + 4*8 + 4040 // == 4096

// timeSpec mirrors btrfsioctl.py's TimeSpec.
type timeSpec struct {
  Sec  uint64
  Nsec uint32
  _    uint32 // padding to keep struct alignment matching the kernel's
}

// subvolInfoStruct mirrors btrfsioctl.py's SubvolInfoStruct.
type subvolInfoStruct struct {
  ID           uint64
  Name         [volNameMax + 1]byte
  ParentID     uint64
  DirID        uint64
  Generation   uint64
  Flags        uint64
  UUID         [uuidSize]byte
  ParentUUID   [uuidSize]byte
  ReceivedUUID [uuidSize]byte
  Ctransid     uint64
  Otransid     uint64
  Stransid     uint64
  Rtransid     uint64
  Ctime        timeSpec
  Otime        timeSpec
  Stime        timeSpec
  Rtime        timeSpec
  Reserved     [8]uint64
}

// sendArgs mirrors btrfsioctl.py's SendArgs (64-bit pointer layout).
type sendArgs struct {
  SendFD            int64
  CloneSourcesCount uint64
  CloneSources      uintptr
  ParentRoot        uint64
  Flags             uint64
  Version           uint32
  Reserved          [28]byte
}

const (
  iocMagic  = 0x94
  iocWrite  = 1
  iocRead   = 2
  nrShift   = 0
  typeShift = nrShift + 8
  sizeShift = typeShift + 8
  dirShift  = sizeShift + 14
)

func ioc(dir, nr uint, size uintptr) uintptr {
  return uintptr(dir)<<dirShift | uintptr(iocMagic)<<typeShift | uintptr(nr)<<nrShift | size<<sizeShift
}

var (
  iocSnapCreateV2   = ioc(iocWrite, 23, volArgsV2Size)
  iocSubvolCreateV2 = ioc(iocWrite, 24, volArgsV2Size)
  iocSend           = ioc(iocWrite, 38, unsafe.Sizeof(sendArgs{}))
  iocGetSubvolInfo  = ioc(iocRead, 60, unsafe.Sizeof(subvolInfoStruct{}))
  iocSnapDestroyV2  = ioc(iocWrite, 63, volArgsV2Size)
)

func doIoctl(fd int, req uintptr, arg unsafe.Pointer) error {
  _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
  if errno != 0 {
    return errno
  }
  return nil
}

// Filesystem drives btrfs subvolume management on the local host.
type Filesystem struct{}

// New returns a Filesystem collaborator.
func New() *Filesystem { return &Filesystem{} }

// Info reads BTRFS_IOC_GET_SUBVOL_INFO for the subvolume rooted at path.
func (fs *Filesystem) Info(path string) (model.SubvolumeInfo, error) {
  dirFd, err := unix.Open(path, unix.O_RDONLY, 0)
  if err != nil {
    return model.SubvolumeInfo{}, fmt.Errorf("btrfsfs: open %s: %w", path, err)
  }
  defer unix.Close(dirFd)

  var info subvolInfoStruct
  if err := doIoctl(dirFd, iocGetSubvolInfo, unsafe.Pointer(&info)); err != nil {
    return model.SubvolumeInfo{}, fmt.Errorf("btrfsfs: IOC_GET_SUBVOL_INFO %s: %w", path, err)
  }
  return model.SubvolumeInfo{
    Uuid:       uuidFromBytes(info.UUID),
    ParentUuid: uuidFromBytes(info.ParentUUID),
    Ctransid:   info.Ctransid,
    Ctime:      time.Unix(int64(info.Ctime.Sec), int64(info.Ctime.Nsec)),
    Path:       path,
    ReadOnly:   info.Flags&1 != 0,
  }, nil
}

// CreateSnapshot issues BTRFS_IOC_SNAP_CREATE_V2, creating dst as a
// (optionally read-only) snapshot of src.
func (fs *Filesystem) CreateSnapshot(src, dst string, readOnly bool) error {
  srcFd, err := unix.Open(src, unix.O_RDONLY, 0)
  if err != nil {
    return fmt.Errorf("btrfsfs: open %s: %w", src, err)
  }
  defer unix.Close(srcFd)

  dstDir, dstName := splitDir(dst)
  dstDirFd, err := unix.Open(dstDir, unix.O_RDONLY, 0)
  if err != nil {
    return fmt.Errorf("btrfsfs: open %s: %w", dstDir, err)
  }
  defer unix.Close(dstDirFd)

  var args volArgsV2
  args.fd = int64(srcFd)
  if readOnly {
    args.flags |= subvolArgReadOnly
  }
  if err := args.setName(dstName); err != nil {
    return err
  }
  if err := doIoctl(dstDirFd, iocSnapCreateV2, unsafe.Pointer(&args)); err != nil {
    return fmt.Errorf("btrfsfs: IOC_SNAP_CREATE_V2 %s -> %s: %w", src, dst, err)
  }
  return nil
}

// DestroySnapshot issues BTRFS_IOC_SNAP_DESTROY_V2 for path.
func (fs *Filesystem) DestroySnapshot(path string) error {
  dir, name := splitDir(path)
  dirFd, err := unix.Open(dir, unix.O_RDONLY, 0)
  if err != nil {
    return fmt.Errorf("btrfsfs: open %s: %w", dir, err)
  }
  defer unix.Close(dirFd)

  var args volArgsV2
  if err := args.setName(name); err != nil {
    return err
  }
  if err := doIoctl(dirFd, iocSnapDestroyV2, unsafe.Pointer(&args)); err != nil {
    return fmt.Errorf("btrfsfs: IOC_SNAP_DESTROY_V2 %s: %w", path, err)
  }
  return nil
}

// Send issues BTRFS_IOC_SEND, writing a send stream for src into dst. If
// parentRootID is nonzero, the kernel emits an incremental stream relative
// to that subvolume's root id.
func (fs *Filesystem) Send(src string, dst *os.File, parentRootID uint64) error {
  srcFd, err := unix.Open(src, unix.O_RDONLY, 0)
  if err != nil {
    return fmt.Errorf("btrfsfs: open %s: %w", src, err)
  }
  defer unix.Close(srcFd)

  args := sendArgs{SendFD: int64(dst.Fd()), ParentRoot: parentRootID}
  if err := doIoctl(srcFd, iocSend, unsafe.Pointer(&args)); err != nil {
    return fmt.Errorf("btrfsfs: IOC_SEND %s: %w", src, err)
  }
  return nil
}

// ListSnapshots implements inventory.LocalLister: it enumerates every
// entry of dir and reports subvolume info for the ones that are
// read-only btrfs subvolumes, skipping anything else (plain files,
// read-write subvolumes belonging to unrelated work). Grounded on the
// teacher's types.VolumeManager.GetSnapshotSeqForVolume, which does the
// same directory-scan-plus-per-entry-info pattern.
func (fs *Filesystem) ListSnapshots(ctx context.Context, dir string) ([]inventory.LocalSubvolume, error) {
  entries, err := os.ReadDir(dir)
  if err != nil {
    return nil, fmt.Errorf("btrfsfs: ReadDir %s: %w", dir, err)
  }
  var out []inventory.LocalSubvolume
  for _, entry := range entries {
    if !entry.IsDir() {
      continue
    }
    path := filepath.Join(dir, entry.Name())
    info, err := fs.Info(path)
    if err != nil {
      continue // not a subvolume, or not accessible: not ours
    }
    if !info.ReadOnly {
      continue
    }
    out = append(out, inventory.LocalSubvolume{
      Path: path, Uuid: info.Uuid, ParentUuid: info.ParentUuid,
      Ctransid: info.Ctransid, Ctime: info.Ctime,
    })
  }
  return out, nil
}

func uuidFromBytes(b [uuidSize]byte) uuid.UUID {
  var u uuid.UUID
  copy(u[:], b[:])
  return u
}

func splitDir(path string) (dir, name string) {
  for i := len(path) - 1; i >= 0; i-- {
    if path[i] == '/' {
      return path[:i], path[i+1:]
    }
  }
  return ".", path
}
