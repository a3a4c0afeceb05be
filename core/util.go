package core

import (
	"sort"
	"strings"
)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// ContainsInt reports whether `id` is in `ids`.
func ContainsInt(ids []int, id int) bool {
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

// UniqueInts returns the sorted, de-duplicated copy of `ids`.
func UniqueInts(ids []int) []int {
	if len(ids) == 0 {
		return []int{}
	}
	cp := make([]int, len(ids))
	copy(cp, ids)
	sort.Ints(cp)
	out := cp[:1]
	for _, id := range cp[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}

// RemoveInt returns `ids` without any occurrence of `id`.
func RemoveInt(ids []int, id int) []int {
	out := make([]int, 0, len(ids))
	for _, i := range ids {
		if i != id {
			out = append(out, i)
		}
	}
	return out
}

// Ordering is a requested sort on a field; Field is the JSON name of the field.
type Ordering struct {
	Field     string
	Ascending bool
}

func (ord Ordering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}
