// Package metacodec implements the bidirectional metadata-filename codec
// (spec.md §4.2, §6.1): encoding per-backup metadata into an object key
// (or snapshot filename) and decoding it back, so the entire remote state
// can be reconstructed from a single bucket listing.
package metacodec

import (
  "fmt"
  "strconv"
  "strings"
  "time"

  "github.com/google/uuid"

  "github.com/sbrudenell/btrfs2s3/internal/model"
)

// isoLayout always emits a numeric UTC offset ("+00:00"), never the "Z"
// shorthand, matching the exact example in spec.md §6.1. Parse accepts
// both forms per §4.2.
const isoLayout = "2006-01-02T15:04:05-07:00"

var tokenPrefixes = [...]string{"ctim", "ctid", "uuid", "sndp", "prnt", "mdvn", "seqn"}

// Encode is total: it never fails, and always produces a key of the form
// base.ctim<iso>.ctid<u64>.uuid<u>.sndp<u>.prnt<u>.mdvn<u16>.seqn<u32>.
func Encode(meta model.Metadata, base string) string {
  var b strings.Builder
  b.WriteString(base)
  fmt.Fprintf(&b, ".ctim%s", meta.Ctime.Format(isoLayout))
  fmt.Fprintf(&b, ".ctid%d", meta.Ctransid)
  fmt.Fprintf(&b, ".uuid%s", meta.Uuid.String())
  fmt.Fprintf(&b, ".sndp%s", meta.SendParentUuid.String())
  fmt.Fprintf(&b, ".prnt%s", meta.ParentUuid.String())
  fmt.Fprintf(&b, ".mdvn%d", meta.MetadataVersion)
  fmt.Fprintf(&b, ".seqn%d", meta.SequenceNumber)
  return b.String()
}

// Decode parses a key produced (possibly with extra, ignored suffixes) by
// Encode. Tokens may appear in any order; the leading base and any
// unrecognized tokens are returned joined back together, unchanged.
func Decode(key string) (base string, meta model.Metadata, err error) {
  segments := strings.Split(key, ".")
  values := make(map[string]string, len(tokenPrefixes))
  var unrecognized []string

  for _, seg := range segments {
    matched := ""
    for _, prefix := range tokenPrefixes {
      if strings.HasPrefix(seg, prefix) && len(seg) > len(prefix) {
        matched = prefix
        break
      }
    }
    if matched == "" {
      unrecognized = append(unrecognized, seg)
      continue
    }
    if _, dup := values[matched]; dup {
      return "", model.Metadata{}, fmt.Errorf("%w: duplicate token %q in %q", model.ErrMalformedKey, matched, key)
    }
    values[matched] = seg[len(matched):]
  }
  base = strings.Join(unrecognized, ".")

  ctimRaw, ok := values["ctim"]
  if !ok {
    return "", model.Metadata{}, fmt.Errorf("%w: missing ctim in %q", model.ErrMalformedKey, key)
  }
  ctime, perr := time.Parse(time.RFC3339, ctimRaw)
  if perr != nil {
    return "", model.Metadata{}, fmt.Errorf("%w: bad ctim %q: %v", model.ErrMalformedKey, ctimRaw, perr)
  }

  ctidRaw, ok := values["ctid"]
  if !ok {
    return "", model.Metadata{}, fmt.Errorf("%w: missing ctid in %q", model.ErrMalformedKey, key)
  }
  ctid, perr := strconv.ParseUint(ctidRaw, 10, 64)
  if perr != nil {
    return "", model.Metadata{}, fmt.Errorf("%w: bad ctid %q: %v", model.ErrMalformedKey, ctidRaw, perr)
  }

  uuidRaw, ok := values["uuid"]
  if !ok {
    return "", model.Metadata{}, fmt.Errorf("%w: missing uuid in %q", model.ErrMalformedKey, key)
  }
  id, perr := uuid.Parse(uuidRaw)
  if perr != nil {
    return "", model.Metadata{}, fmt.Errorf("%w: bad uuid %q: %v", model.ErrMalformedKey, uuidRaw, perr)
  }

  sndpRaw, ok := values["sndp"]
  if !ok {
    return "", model.Metadata{}, fmt.Errorf("%w: missing sndp in %q", model.ErrMalformedKey, key)
  }
  sendParent, perr := uuid.Parse(sndpRaw)
  if perr != nil {
    return "", model.Metadata{}, fmt.Errorf("%w: bad sndp %q: %v", model.ErrMalformedKey, sndpRaw, perr)
  }

  prntRaw, ok := values["prnt"]
  if !ok {
    return "", model.Metadata{}, fmt.Errorf("%w: missing prnt in %q", model.ErrMalformedKey, key)
  }
  parent, perr := uuid.Parse(prntRaw)
  if perr != nil {
    return "", model.Metadata{}, fmt.Errorf("%w: bad prnt %q: %v", model.ErrMalformedKey, prntRaw, perr)
  }

  mdvnRaw, ok := values["mdvn"]
  if !ok {
    return "", model.Metadata{}, fmt.Errorf("%w: missing mdvn in %q", model.ErrMalformedKey, key)
  }
  mdvn64, perr := strconv.ParseUint(mdvnRaw, 10, 16)
  if perr != nil {
    return "", model.Metadata{}, fmt.Errorf("%w: bad mdvn %q: %v", model.ErrMalformedKey, mdvnRaw, perr)
  }
  if uint16(mdvn64) != model.CurrentMetadataVersion {
    return "", model.Metadata{}, fmt.Errorf("%w: %d", model.ErrUnsupportedMetadataVersion, mdvn64)
  }

  seqnRaw, ok := values["seqn"]
  if !ok {
    return "", model.Metadata{}, fmt.Errorf("%w: missing seqn in %q", model.ErrMalformedKey, key)
  }
  seqn64, perr := strconv.ParseUint(seqnRaw, 10, 32)
  if perr != nil {
    return "", model.Metadata{}, fmt.Errorf("%w: bad seqn %q: %v", model.ErrMalformedKey, seqnRaw, perr)
  }
  if uint32(seqn64) != model.CurrentSequenceNumber {
    return "", model.Metadata{}, fmt.Errorf("%w: %d", model.ErrUnsupportedSequence, seqn64)
  }

  meta = model.Metadata{
    Ctime:           ctime,
    Ctransid:        ctid,
    Uuid:            id,
    ParentUuid:      parent,
    SendParentUuid:  sendParent,
    MetadataVersion: uint16(mdvn64),
    SequenceNumber:  uint32(seqn64),
  }
  return base, meta, nil
}
