package retention

import (
	"sort"
	"time"
)

// Resolve picks the single effective policy for (orgID, dataType) at asOf
// from the supplied candidates. Highest priority value wins; ties go to the
// most recently created policy. Disabled policies and policies created after
// asOf never apply. Returns ErrPolicyNotFound when nothing matches; callers
// must treat such data as active indefinitely rather than failing.
//
// Resolve is side-effect free and safe to call concurrently.
func Resolve(policies []RetentionPolicy, orgID, dataType string, asOf time.Time) (RetentionPolicy, error) {
	var matched []RetentionPolicy
	for _, p := range policies {
		if !p.Enabled || p.OrgID != orgID || p.DataType != dataType {
			continue
		}
		if p.CreatedAt.After(asOf) {
			continue
		}
		matched = append(matched, p)
	}
	if len(matched) == 0 {
		return RetentionPolicy{}, ErrPolicyNotFound
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return matched[0], nil
}

// ConflictingPriorities reports whether more than one enabled policy for the
// same data type shares the winning priority. The auditor surfaces this as a
// tenant-configuration issue rather than an error.
func ConflictingPriorities(policies []RetentionPolicy, orgID, dataType string) bool {
	top := 0
	count := 0
	for _, p := range policies {
		if !p.Enabled || p.OrgID != orgID || p.DataType != dataType {
			continue
		}
		switch {
		case count == 0 || p.Priority > top:
			top = p.Priority
			count = 1
		case p.Priority == top:
			count++
		}
	}
	return count > 1
}
