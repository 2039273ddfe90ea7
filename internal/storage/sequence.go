package storage

import (
	"fmt"
	"strings"
)

// SequenceNumbers names the deltas [First, Current) that replay to one
// checkpoint. Timestamp is the commit time in Unix milliseconds.
type SequenceNumbers struct {
	First     int   `json:"first"`
	Current   int   `json:"current"`
	Timestamp int64 `json:"timestamp"`

	// Suffix is the name of the record the set was read from. It is set by
	// ReadSequenceNumbers and never stored inside the record.
	Suffix string `json:"-"`
}

// Valid reports whether the set names at least one delta.
func (s SequenceNumbers) Valid() bool {
	return s.First >= 0 && s.First < s.Current
}

// Len returns the number of deltas in the set.
func (s SequenceNumbers) Len() int {
	if s.Current < s.First {
		return 0
	}
	return s.Current - s.First
}

// Archived reports whether the set was read from an archive record.
func (s SequenceNumbers) Archived() bool { return s.Suffix != "" }

func (s SequenceNumbers) String() string {
	return fmt.Sprintf("[%d,%d)@%d%s", s.First, s.Current, s.Timestamp, s.Suffix)
}

// ArchiveSuffix returns the record suffix used when archiving set s.
func ArchiveSuffix(s SequenceNumbers) string {
	return fmt.Sprintf("_%08d", s.First)
}

// MatchSuffix reports whether a record named by suffix is selected by want.
func MatchSuffix(suffix, want string) bool {
	return strings.HasPrefix(suffix, want)
}
