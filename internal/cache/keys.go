package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const analyticsPrefix = "analytics:"

// UserStatsKey keys a user's analytics for a requested range. A zero bound
// stands for the default and is keyed as such.
func UserStatsKey(ownerID int64, start, end time.Time) string {
	return fmt.Sprintf("%suser:%d:%s:%s", analyticsPrefix, ownerID, rangeBound(start), rangeBound(end))
}

// ProjectStatsKey keys a project's analytics for a requested range.
func ProjectStatsKey(ownerID, projectID int64, start, end time.Time) string {
	return fmt.Sprintf("%sproject:%d:%d:%s:%s", analyticsPrefix, ownerID, projectID, rangeBound(start), rangeBound(end))
}

func rangeBound(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// AdminOverviewKey keys the system-wide overview.
const AdminOverviewKey = analyticsPrefix + "admin:overview"

// InvalidateOwner drops every analytics entry derived from ownerID's data,
// plus the system overview. Every deletion is attempted; the failures are
// joined.
func InvalidateOwner(ctx context.Context, c Cache, ownerID int64) error {
	if c == nil {
		return nil
	}
	var errs []error
	for _, pattern := range []string{
		fmt.Sprintf("%suser:%d:*", analyticsPrefix, ownerID),
		fmt.Sprintf("%sproject:%d:*", analyticsPrefix, ownerID),
	} {
		if _, err := c.DeletePattern(ctx, pattern); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", pattern, err))
		}
	}
	if _, err := c.Delete(ctx, AdminOverviewKey); err != nil {
		errs = append(errs, fmt.Errorf("delete %s: %w", AdminOverviewKey, err))
	}
	return errors.Join(errs...)
}
