package inventory

import (
  "context"
  "testing"
  "time"

  "github.com/google/uuid"

  "github.com/sbrudenell/btrfs2s3/internal/logging"
  "github.com/sbrudenell/btrfs2s3/internal/metacodec"
  "github.com/sbrudenell/btrfs2s3/internal/model"
)

type fakeLocalLister struct {
  subvols []LocalSubvolume
}

func (f *fakeLocalLister) ListSnapshots(ctx context.Context, dir string) ([]LocalSubvolume, error) {
  return f.subvols, nil
}

type fakeRemoteLister struct {
  pages []RemotePage
}

func (f *fakeRemoteLister) ListPage(ctx context.Context, prefix, token string) (RemotePage, error) {
  idx := 0
  if token != "" {
    var err error
    idx, err = parseIdx(token)
    if err != nil {
      return RemotePage{}, err
    }
  }
  if idx >= len(f.pages) {
    return RemotePage{}, nil
  }
  return f.pages[idx], nil
}

func parseIdx(s string) (int, error) {
  n := 0
  for _, r := range s {
    n = n*10 + int(r-'0')
  }
  return n, nil
}

func testLogger() *logging.Logger { return logging.New("test", "debug") }

func TestListLocalFiltersByParent(t *testing.T) {
  wantParent := uuid.New()
  otherParent := uuid.New()
  lister := &fakeLocalLister{subvols: []LocalSubvolume{
    {Path: "/vol/a", Uuid: uuid.New(), ParentUuid: wantParent},
    {Path: "/vol/b", Uuid: uuid.New(), ParentUuid: otherParent},
  }}
  got, err := ListLocal(context.Background(), lister, "/vol", wantParent, testLogger())
  if err != nil {
    t.Fatalf("ListLocal: %v", err)
  }
  if len(got) != 1 || got[0].Item.LocalPath != "/vol/a" {
    t.Fatalf("got %+v", got)
  }
}

func TestListLocalCarriesKernelCtime(t *testing.T) {
  wantParent := uuid.New()
  wantCtime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
  lister := &fakeLocalLister{subvols: []LocalSubvolume{
    {Path: "/vol/a", Uuid: uuid.New(), ParentUuid: wantParent, Ctime: wantCtime},
  }}
  got, err := ListLocal(context.Background(), lister, "/vol", wantParent, testLogger())
  if err != nil {
    t.Fatalf("ListLocal: %v", err)
  }
  if len(got) != 1 || !got[0].Item.Ctime.Equal(wantCtime) {
    t.Fatalf("got %+v, want Ctime %v", got, wantCtime)
  }
}

func TestListRemoteSkipsUndecodableKeys(t *testing.T) {
  meta := model.Metadata{
    Uuid: uuid.New(), ParentUuid: uuid.New(), SendParentUuid: model.ZeroUUID,
    MetadataVersion: model.CurrentMetadataVersion, SequenceNumber: model.CurrentSequenceNumber,
  }
  goodKey := metacodec.Encode(meta, "base")
  lister := &fakeRemoteLister{pages: []RemotePage{
    {Objects: []RemoteObject{{Key: goodKey}, {Key: "garbage"}}, IsTruncated: false},
  }}
  got, err := ListRemote(context.Background(), lister, "", testLogger())
  if err != nil {
    t.Fatalf("ListRemote: %v", err)
  }
  if len(got) != 1 || got[0].Uuid != meta.Uuid {
    t.Fatalf("got %+v", got)
  }
}

func TestListRemotePaginates(t *testing.T) {
  meta1 := model.Metadata{Uuid: uuid.New(), SendParentUuid: model.ZeroUUID, MetadataVersion: 1, SequenceNumber: 0}
  meta2 := model.Metadata{Uuid: uuid.New(), SendParentUuid: model.ZeroUUID, MetadataVersion: 1, SequenceNumber: 0}
  lister := &fakeRemoteLister{pages: []RemotePage{
    {Objects: []RemoteObject{{Key: metacodec.Encode(meta1, "a")}}, IsTruncated: true, NextContinuationToken: "1"},
    {Objects: []RemoteObject{{Key: metacodec.Encode(meta2, "b")}}, IsTruncated: false},
  }}
  got, err := ListRemote(context.Background(), lister, "", testLogger())
  if err != nil {
    t.Fatalf("ListRemote: %v", err)
  }
  if len(got) != 2 {
    t.Fatalf("expected 2 items across pages, got %d", len(got))
  }
}

func TestMergeMarksBoth(t *testing.T) {
  id := uuid.New()
  local := []Snapshot{{Item: model.Item{Uuid: id, Where: model.Local, LocalPath: "/vol/a"}}}
  remote := []model.Item{{Uuid: id, Where: model.Remote, ObjectKey: "a.key"}}
  merged := Merge(local, remote)
  if len(merged) != 1 || merged[0].Where != model.Both {
    t.Fatalf("got %+v", merged)
  }
  if merged[0].LocalPath != "/vol/a" || merged[0].ObjectKey != "a.key" {
    t.Fatalf("merge lost fields: %+v", merged[0])
  }
}
