package storage

import (
	"time"

	"github.com/corralproject/corral/pkg/models"
)

// Matches reports whether a candidate row with the given tenant, ACL set and
// source timestamp passes the search filters. Tenant match is mandatory; an
// empty filter ACL set means no ACL restriction, otherwise one shared entry
// suffices. The time window is half-open: start <= ts < end.
func Matches(tenantID string, acl []string, ts time.Time, f models.SearchFilters) bool {
	if f.TenantID != "" && tenantID != f.TenantID {
		return false
	}
	if len(f.ACL) > 0 && !aclOverlap(acl, f.ACL) {
		return false
	}
	if f.TimeWindow != nil {
		if !f.TimeWindow.Start.IsZero() && ts.Before(f.TimeWindow.Start) {
			return false
		}
		if !f.TimeWindow.End.IsZero() && !ts.Before(f.TimeWindow.End) {
			return false
		}
	}
	return true
}

func aclOverlap(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
