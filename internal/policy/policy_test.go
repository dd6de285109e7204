package policy

import (
  "testing"

  "github.com/sbrudenell/btrfs2s3/internal/timeframe"
)

func TestParseOrdersCoarsestFirst(t *testing.T) {
  p, err := Parse("1d 2y")
  if err != nil {
    t.Fatalf("Parse: %v", err)
  }
  if len(p.Entries) != 2 {
    t.Fatalf("expected 2 entries, got %d", len(p.Entries))
  }
  if p.Entries[0].Timeframe != timeframe.Year || p.Entries[0].Count != 2 {
    t.Fatalf("entry 0 = %+v", p.Entries[0])
  }
  if p.Entries[1].Timeframe != timeframe.Day || p.Entries[1].Count != 1 {
    t.Fatalf("entry 1 = %+v", p.Entries[1])
  }
  if p.RootTimeframe() != timeframe.Year {
    t.Fatalf("RootTimeframe = %v, want year", p.RootTimeframe())
  }
}

func TestParseMinutesVsMonths(t *testing.T) {
  p, err := Parse("3m 5M")
  if err != nil {
    t.Fatalf("Parse: %v", err)
  }
  var monthCount, minuteCount int
  for _, e := range p.Entries {
    switch e.Timeframe {
    case timeframe.Month:
      monthCount = e.Count
    case timeframe.Minute:
      minuteCount = e.Count
    }
  }
  if monthCount != 3 {
    t.Fatalf("month count = %d, want 3", monthCount)
  }
  if minuteCount != 5 {
    t.Fatalf("minute count = %d, want 5", minuteCount)
  }
}

func TestParseRejectsEmpty(t *testing.T) {
  if _, err := Parse(""); err == nil {
    t.Fatalf("expected error for empty policy")
  }
}

func TestParseRejectsAllZero(t *testing.T) {
  if _, err := Parse("0y 0d"); err == nil {
    t.Fatalf("expected error when no entry is nonzero")
  }
}

func TestParseRejectsDuplicateUnit(t *testing.T) {
  if _, err := Parse("1y 2y"); err == nil {
    t.Fatalf("expected error for duplicate unit")
  }
}

func TestParseRejectsMalformedField(t *testing.T) {
  if _, err := Parse("1x"); err == nil {
    t.Fatalf("expected error for unknown unit")
  }
}

func TestParseSingleTimeframe(t *testing.T) {
  p, err := Parse("5y")
  if err != nil {
    t.Fatalf("Parse: %v", err)
  }
  if len(p.Entries) != 1 || p.Entries[0].Count != 5 {
    t.Fatalf("entries = %+v", p.Entries)
  }
}
