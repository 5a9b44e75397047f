package featureflag

// flagScope keys the canonical flag table.
type flagScope struct {
	key    string
	branch string
}

// Canonicalise collapses duplicate provider entries deterministically.
// Per (flag_key, branch_id): DISABLED dominates ENABLED; among equal
// statuses the later created entry wins, with the status string as the
// final lexicographic tiebreak.
func Canonicalise(flags []Flag) map[string]map[string]Status {
	table := make(map[flagScope]Flag)
	for _, f := range flags {
		k := flagScope{key: f.FlagKey, branch: f.BranchID}
		cur, exists := table[k]
		if !exists || wins(f, cur) {
			table[k] = f
		}
	}

	out := make(map[string]map[string]Status)
	for k, f := range table {
		if out[k.key] == nil {
			out[k.key] = make(map[string]Status)
		}
		out[k.key][k.branch] = f.Status
	}
	return out
}

// wins reports whether candidate replaces incumbent under the duplicate
// policy.
func wins(candidate, incumbent Flag) bool {
	if candidate.Status != incumbent.Status {
		return candidate.Status == Disabled
	}
	if !candidate.CreatedAt.Equal(incumbent.CreatedAt) {
		return candidate.CreatedAt.After(incumbent.CreatedAt)
	}
	return string(candidate.Status) < string(incumbent.Status)
}

// IsEnabled evaluates a flag for a tenant scope. A branch-level entry
// overrides the business-wide entry; absence of any entry allows.
func IsEnabled(flags []Flag, flagKey, branchID string) bool {
	table := Canonicalise(flags)
	scopes, ok := table[flagKey]
	if !ok {
		return true
	}
	if branchID != "" {
		if st, ok := scopes[branchID]; ok {
			return st == Enabled
		}
	}
	if st, ok := scopes[""]; ok {
		return st == Enabled
	}
	return true
}
