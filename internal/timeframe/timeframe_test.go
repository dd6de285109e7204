package timeframe

import (
  "testing"
  "time"
)

func mustLoc(t *testing.T, name string) *time.Location {
  loc, err := time.LoadLocation(name)
  if err != nil {
    t.Fatalf("LoadLocation(%s): %v", name, err)
  }
  return loc
}

func TestBucketEquality(t *testing.T) {
  utc := time.UTC
  a := time.Date(2006, 1, 1, 0, 0, 0, 0, time.UTC)
  b := time.Date(2006, 12, 31, 23, 59, 59, 0, time.UTC)
  if Bucket(Year, a, utc) != Bucket(Year, b, utc) {
    t.Fatalf("expected same year bucket")
  }
  if Bucket(Day, a, utc) == Bucket(Day, b, utc) {
    t.Fatalf("expected different day buckets")
  }
}

func TestWeekIsIsoMondayStart(t *testing.T) {
  utc := time.UTC
  // 2006-01-01 is a Sunday, so it belongs to ISO week 52 of 2005.
  sun := time.Date(2006, 1, 1, 12, 0, 0, 0, time.UTC)
  mon := time.Date(2006, 1, 2, 0, 0, 0, 0, time.UTC)
  if Bucket(Week, sun, utc) == Bucket(Week, mon, utc) {
    t.Fatalf("expected week boundary between Sunday and Monday")
  }
}

func TestEnumerateBucketsReturnsRequestedCount(t *testing.T) {
  utc := time.UTC
  now := time.Date(2006, 1, 3, 0, 0, 1, 0, time.UTC)
  buckets := EnumerateBuckets(Day, now, 3, utc)
  if len(buckets) != 3 {
    t.Fatalf("expected 3 buckets, got %d", len(buckets))
  }
  if buckets[0] != Bucket(Day, now, utc) {
    t.Fatalf("index 0 must contain now")
  }
  expectPrev := Bucket(Day, now.AddDate(0, 0, -1), utc)
  if buckets[1] != expectPrev {
    t.Fatalf("index 1 must be the previous day")
  }
}

func TestDstWallClockArithmetic(t *testing.T) {
  la := mustLoc(t, "America/Los_Angeles")
  // 2006-04-02 is a DST spring-forward day in the US.
  before := time.Date(2006, 4, 1, 12, 0, 0, 0, la)
  after := time.Date(2006, 4, 2, 12, 0, 0, 0, la)
  if Bucket(Day, before, la) == Bucket(Day, after, la) {
    t.Fatalf("expected distinct day buckets across DST boundary")
  }
  // Wall-clock difference is exactly 24h even though elapsed time is 23h.
  diff := after.Sub(before)
  if diff == 24*time.Hour {
    t.Fatalf("expected elapsed duration to differ from 24h across DST, got exactly 24h")
  }
}

func TestOrderedIsCoarsestFirst(t *testing.T) {
  got := Ordered([]Timeframe{Day, Year, Hour})
  want := []Timeframe{Year, Day, Hour}
  if len(got) != len(want) {
    t.Fatalf("length mismatch: %v", got)
  }
  for i := range want {
    if got[i] != want[i] {
      t.Fatalf("index %d: got %v want %v", i, got[i], want[i])
    }
  }
}
