package snapshot

import "sort"

// Result holds the four disjoint name sets derived from a current and a prior
// snapshot. Changed and Unchanged partition the names present in both;
// Added and Removed hold the names present in only one of them. Each list is
// sorted ascending.
type Result struct {
	Added     []string
	Removed   []string
	Changed   []string
	Unchanged []string
}

// Empty reports whether nothing was added, removed or changed.
func (r Result) Empty() bool {
	return len(r.Added) == 0 && len(r.Removed) == 0 && len(r.Changed) == 0
}

// Diff compares current against prior. It has no side effects and treats
// version-release identifiers as opaque strings.
func Diff(current, prior Snapshot) Result {
	res := Result{
		Added:     []string{},
		Removed:   []string{},
		Changed:   []string{},
		Unchanged: []string{},
	}

	for name, vr := range current {
		pvr, inPrior := prior[name]
		switch {
		case !inPrior:
			res.Added = append(res.Added, name)
		case pvr != vr:
			res.Changed = append(res.Changed, name)
		default:
			res.Unchanged = append(res.Unchanged, name)
		}
	}

	for name := range prior {
		if _, inCurrent := current[name]; !inCurrent {
			res.Removed = append(res.Removed, name)
		}
	}

	sort.Strings(res.Added)
	sort.Strings(res.Removed)
	sort.Strings(res.Changed)
	sort.Strings(res.Unchanged)

	return res
}
