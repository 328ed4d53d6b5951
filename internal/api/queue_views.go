package api

import (
	"sort"
	"time"
)

// SortJobsNewestFirst returns a copy of jobs ordered by creation time
// descending, with ID descending as the tiebreak so freshly submitted jobs
// surface first.
func SortJobsNewestFirst(jobs []Job) []Job {
	if len(jobs) == 0 {
		return nil
	}
	sorted := append([]Job(nil), jobs...)
	sort.Slice(sorted, func(i, j int) bool {
		ti, tj := ParseQueueTime(sorted[i].CreatedAt), ParseQueueTime(sorted[j].CreatedAt)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return sorted[i].ID > sorted[j].ID
	})
	return sorted
}

// ParseQueueTime parses a queue timestamp, accepting RFC3339 with or without
// fractional seconds. Unparseable values sort as the zero time.
func ParseQueueTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
