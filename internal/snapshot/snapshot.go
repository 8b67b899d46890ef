// Package snapshot models the installed-package state of a host and computes
// the difference between two such states.
package snapshot

import "sort"

// Snapshot maps a package name to its version-release identifier
// (e.g. "bash" -> "5.1.8-6.el9"). Identifiers are opaque and only ever
// compared for exact equality.
type Snapshot map[string]string

// Names returns the package names in ascending order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy of s. Cloning nil yields an empty snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for name, vr := range s {
		out[name] = vr
	}
	return out
}

// Equal reports whether s and other hold the same packages at the same
// version-release identifiers. A nil snapshot equals an empty one.
func (s Snapshot) Equal(other Snapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for name, vr := range s {
		ovr, ok := other[name]
		if !ok || ovr != vr {
			return false
		}
	}
	return true
}
