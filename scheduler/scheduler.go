// Package scheduler defines candidate eligibility and the dispatch
// total order shared by every store backend.
//
// The order is: ascending priority (1 before 4), then ascending
// schedule time (unscheduled jobs sort first), then ascending creation
// time. Because ties fall back to age, a low-priority job becomes the
// head of the queue once higher-priority work drains — no separate
// aging mechanism is needed while priority classes stay bounded.
package scheduler

import (
	"sort"
	"time"

	"github.com/ricmsdev/eventcad-sub001/job"
)

// Eligible reports whether the record may be dispatched at now: a
// claimable status, schedule time passed, and backoff gate passed.
// Selection is advisory — winners are decided by the store's atomic
// claim, not here.
func Eligible(r *job.Record, now time.Time) bool {
	if r.Status != job.StatusPending && r.Status != job.StatusQueued {
		return false
	}
	if r.ScheduledFor != nil && r.ScheduledFor.After(now) {
		return false
	}
	if r.NextRetryAt != nil && r.NextRetryAt.After(now) {
		return false
	}
	return true
}

// scheduleKey is the second ordering key. Unscheduled jobs use the zero
// time so they sort ahead of anything with an explicit schedule.
func scheduleKey(r *job.Record) time.Time {
	if r.ScheduledFor == nil {
		return time.Time{}
	}
	return *r.ScheduledFor
}

// Less is the dispatch total order over two records.
func Less(a, b *job.Record) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	sa, sb := scheduleKey(a), scheduleKey(b)
	if !sa.Equal(sb) {
		return sa.Before(sb)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Order sorts records in place into dispatch order.
func Order(recs []*job.Record) {
	sort.Slice(recs, func(i, k int) bool {
		return Less(recs[i], recs[k])
	})
}
