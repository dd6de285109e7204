// Package policy parses and represents preservation policies: an ordered,
// strictly decreasing sequence of timeframes with counts (spec.md §3.1,
// §6.4).
package policy

import (
  "fmt"
  "regexp"
  "strconv"

  "github.com/sbrudenell/btrfs2s3/internal/timeframe"
)

// Entry pairs a timeframe with how many of its most recent buckets to
// retain.
type Entry struct {
  Timeframe timeframe.Timeframe
  Count     int
}

// Policy is the coarsest-first ordered sequence of Entries with count > 0.
// Entries with count 0 are meaningless and are dropped by Parse.
type Policy struct {
  Entries []Entry
}

// RootTimeframe is the coarsest timeframe named in the policy (spec.md
// §3.1's "root timeframe").
func (p Policy) RootTimeframe() timeframe.Timeframe {
  return p.Entries[0].Timeframe
}

var unitRx = regexp.MustCompile(`^(\d+)([yqmwdhMs])$`)

var unitToTimeframe = map[string]timeframe.Timeframe{
  "y": timeframe.Year,
  "q": timeframe.Quarter,
  "m": timeframe.Month,
  "w": timeframe.Week,
  "d": timeframe.Day,
  "h": timeframe.Hour,
  "M": timeframe.Minute,
  "s": timeframe.Second,
}

// Parse parses a policy string of the form
// "[<N>y][ <N>q][ <N>m][ <N>w][ <N>d][ <N>h][ <N>M][ <N>s]" (spec.md §6.4).
// Unit order within the string is free; the result is always normalized to
// canonical coarsest-first order. At least one nonzero entry is required,
// and at most one of each unit may appear.
func Parse(s string) (Policy, error) {
  fields := splitFields(s)
  if len(fields) == 0 {
    return Policy{}, fmt.Errorf("policy string is empty")
  }
  counts := make(map[timeframe.Timeframe]int)
  for _, field := range fields {
    m := unitRx.FindStringSubmatch(field)
    if m == nil {
      return Policy{}, fmt.Errorf("malformed policy field %q", field)
    }
    n, err := strconv.Atoi(m[1])
    if err != nil {
      return Policy{}, fmt.Errorf("malformed count in %q: %w", field, err)
    }
    tf, ok := unitToTimeframe[m[2]]
    if !ok {
      return Policy{}, fmt.Errorf("unknown unit %q", m[2])
    }
    if _, dup := counts[tf]; dup {
      return Policy{}, fmt.Errorf("duplicate unit %q in policy %q", m[2], s)
    }
    counts[tf] = n
  }

  tfsPresent := make([]timeframe.Timeframe, 0, len(counts))
  for tf := range counts {
    tfsPresent = append(tfsPresent, tf)
  }
  ordered := timeframe.Ordered(tfsPresent)

  var entries []Entry
  for _, tf := range ordered {
    n := counts[tf]
    if n == 0 {
      continue
    }
    entries = append(entries, Entry{Timeframe: tf, Count: n})
  }
  if len(entries) == 0 {
    return Policy{}, fmt.Errorf("policy %q has no nonzero entry", s)
  }
  return Policy{Entries: entries}, nil
}

func splitFields(s string) []string {
  var out []string
  start := -1
  for i, r := range s {
    if r == ' ' || r == '\t' {
      if start >= 0 {
        out = append(out, s[start:i])
        start = -1
      }
      continue
    }
    if start < 0 {
      start = i
    }
  }
  if start >= 0 {
    out = append(out, s[start:])
  }
  return out
}
