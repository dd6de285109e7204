// Package timeframe implements calendar-bucket arithmetic (spec.md §4.1):
// mapping an instant plus a timezone to the enclosing interval identity at
// each supported granularity, and enumerating the N most recent buckets
// ending at "now".
package timeframe

import (
  "fmt"
  "time"
)

// Timeframe is a closed set of calendar granularities, dispatched on by a
// tagged union rather than a string (spec.md §9 design note).
type Timeframe int

const (
  Year Timeframe = iota
  Quarter
  Month
  Week
  Day
  Hour
  Minute
  Second
)

var order = [...]Timeframe{Year, Quarter, Month, Week, Day, Hour, Minute, Second}

// Coarser reports whether tf is strictly coarser than other (i.e. appears
// earlier in the canonical coarsest-first ordering).
func (tf Timeframe) Coarser(other Timeframe) bool { return tf < other }

func (tf Timeframe) String() string {
  switch tf {
  case Year:
    return "year"
  case Quarter:
    return "quarter"
  case Month:
    return "month"
  case Week:
    return "week"
  case Day:
    return "day"
  case Hour:
    return "hour"
  case Minute:
    return "minute"
  case Second:
    return "second"
  default:
    return fmt.Sprintf("timeframe(%d)", int(tf))
  }
}

// BucketId is the opaque identity of one specific interval instance (e.g.
// "the year 2006"). Two instants share a bucket at a timeframe iff their
// BucketIds compare equal.
type BucketId struct {
  tf                             Timeframe
  year, quarter, month, week, isoYear, day, hour, minute, second int
}

// Bucket computes the identity of the interval enclosing t at granularity
// tf, using tz's wall-clock arithmetic (spec.md §4.1: DST gaps/overlaps
// resolve deterministically via the timezone's own arithmetic).
func Bucket(tf Timeframe, t time.Time, tz *time.Location) BucketId {
  wall := t.In(tz)
  switch tf {
  case Year:
    return BucketId{tf: tf, year: wall.Year()}
  case Quarter:
    return BucketId{tf: tf, year: wall.Year(), quarter: (int(wall.Month())-1)/3 + 1}
  case Month:
    return BucketId{tf: tf, year: wall.Year(), month: int(wall.Month())}
  case Week:
    isoYear, isoWeek := wall.ISOWeek()
    return BucketId{tf: tf, isoYear: isoYear, week: isoWeek}
  case Day:
    return BucketId{tf: tf, year: wall.Year(), month: int(wall.Month()), day: wall.Day()}
  case Hour:
    return BucketId{tf: tf, year: wall.Year(), month: int(wall.Month()), day: wall.Day(), hour: wall.Hour()}
  case Minute:
    return BucketId{tf: tf, year: wall.Year(), month: int(wall.Month()), day: wall.Day(), hour: wall.Hour(), minute: wall.Minute()}
  case Second:
    return BucketId{tf: tf, year: wall.Year(), month: int(wall.Month()), day: wall.Day(), hour: wall.Hour(), minute: wall.Minute(), second: wall.Second()}
  default:
    panic(fmt.Sprintf("unknown timeframe %d", int(tf)))
  }
}

// stepBack returns t shifted back by one interval of tf, in tz's wall
// clock. This is used only to walk backwards enumerating buckets; it need
// not itself land exactly on a boundary.
func stepBack(tf Timeframe, t time.Time, tz *time.Location) time.Time {
  wall := t.In(tz)
  switch tf {
  case Year:
    return wall.AddDate(-1, 0, 0)
  case Quarter:
    return wall.AddDate(0, -3, 0)
  case Month:
    return wall.AddDate(0, -1, 0)
  case Week:
    return wall.AddDate(0, 0, -7)
  case Day:
    return wall.AddDate(0, 0, -1)
  case Hour:
    return wall.Add(-time.Hour)
  case Minute:
    return wall.Add(-time.Minute)
  case Second:
    return wall.Add(-time.Second)
  default:
    panic(fmt.Sprintf("unknown timeframe %d", int(tf)))
  }
}

// EnumerateBuckets returns the count most recent buckets at granularity tf
// ending at (and including) the bucket containing tNow, coarsest-adjacent
// order preserved: index 0 is the bucket containing tNow, index 1 is the
// previous one, and so on.
func EnumerateBuckets(tf Timeframe, tNow time.Time, count int, tz *time.Location) []BucketId {
  if count <= 0 {
    return nil
  }
  out := make([]BucketId, 0, count)
  cursor := tNow
  seen := Bucket(tf, cursor, tz)
  out = append(out, seen)
  for len(out) < count {
    cursor = stepBack(tf, cursor, tz)
    b := Bucket(tf, cursor, tz)
    if b != out[len(out)-1] {
      out = append(out, b)
    } else {
      // stepBack didn't cross a boundary (shouldn't normally happen given
      // the step sizes above); keep walking back until it does.
      for {
        cursor = stepBack(tf, cursor, tz)
        b = Bucket(tf, cursor, tz)
        if b != out[len(out)-1] {
          out = append(out, b)
          break
        }
      }
    }
  }
  return out
}

// Ordered returns the canonical coarsest-first evaluation order (spec.md
// §6.4) of the given timeframes, as they appear in `order`.
func Ordered(tfs []Timeframe) []Timeframe {
  present := make(map[Timeframe]bool, len(tfs))
  for _, tf := range tfs {
    present[tf] = true
  }
  out := make([]Timeframe, 0, len(tfs))
  for _, tf := range order {
    if present[tf] {
      out = append(out, tf)
    }
  }
  return out
}
