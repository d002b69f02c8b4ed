// Package period defines the unit of work for the date-partitioned source: a
// calendar day identified by a YYYYMMDD string, plus the node count the
// upstream manifest reported for that day.
package period

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalid is returned when a period id is not a real YYYYMMDD date.
var ErrInvalid = errors.New("period: invalid id")

const layout = "20060102"

// Period identifies one day of upstream data.
type Period struct {
	ID            string `json:"id"`             // YYYYMMDD
	ExpectedCount int    `json:"expected_count"` // display hint only
}

// Valid reports whether id is eight digits denoting a real calendar date.
func Valid(id string) bool {
	if len(id) != 8 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	_, err := time.Parse(layout, id)
	return err == nil
}

// Parse accepts YYYYMMDD, YYYY-MM-DD or YYYY/MM/DD and returns the canonical id.
func Parse(s string) (string, error) {
	s = strings.TrimSpace(s)
	id := strings.NewReplacer("-", "", "/", "").Replace(s)
	if !Valid(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return id, nil
}

// New builds a Period after validating the id.
func New(id string, expected int) (Period, error) {
	canon, err := Parse(id)
	if err != nil {
		return Period{}, err
	}
	if expected < 0 {
		expected = 0
	}
	return Period{ID: canon, ExpectedCount: expected}, nil
}

// Format renders an id as YYYY-MM-DD. Invalid ids are returned unchanged.
func Format(id string) string {
	if len(id) != 8 {
		return id
	}
	return id[:4] + "-" + id[4:6] + "-" + id[6:]
}

// Time returns the midnight UTC instant of the period.
func (p Period) Time() time.Time {
	t, _ := time.Parse(layout, p.ID)
	return t
}

func (p Period) String() string {
	return fmt.Sprintf("%s(%d)", Format(p.ID), p.ExpectedCount)
}

// Dedup removes repeated ids, keeping the first occurrence of each.
func Dedup(ps []Period) []Period {
	seen := make(map[string]struct{}, len(ps))
	out := make([]Period, 0, len(ps))
	for _, p := range ps {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// SortDesc sorts in place, newest first. Equal ids keep their relative order.
func SortDesc(ps []Period) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].ID > ps[j].ID })
}

// Normalize de-duplicates and sorts newest first, returning a new slice.
func Normalize(ps []Period) []Period {
	out := Dedup(ps)
	SortDesc(out)
	return out
}

// Max returns the greatest id, or "" for an empty input.
func Max(ids []string) string {
	var max string
	for _, id := range ids {
		if id > max {
			max = id
		}
	}
	return max
}

// IDs returns the ids in order.
func IDs(ps []Period) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
