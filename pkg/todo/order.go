package todo

import (
	"cmp"
	"slices"
	"time"
)

// listOrder is the SQL form of SortForViewer. The placeholder is the viewer.
const listOrder = `CASE WHEN t.user_ip = %s THEN 0 ELSE 1 END, t.last_updated DESC NULLS LAST, t.id`

// SortForViewer orders tasks in place: the viewer's own tasks first, then
// everyone else's, each group by LastUpdated descending. Tasks with no
// timestamp go last in their group. Equal keys keep their input order.
func SortForViewer(tasks []Task, viewer string) {
	slices.SortStableFunc(tasks, func(a, b Task) int {
		if c := cmp.Compare(bucket(a, viewer), bucket(b, viewer)); c != 0 {
			return c
		}
		return newestFirst(a.LastUpdated, b.LastUpdated)
	})
}

func bucket(t Task, viewer string) int {
	if t.Owner == viewer {
		return 0
	}
	return 1
}

func newestFirst(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return b.Compare(*a)
}
