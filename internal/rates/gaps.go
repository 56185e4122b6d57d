package rates

import (
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/models"
)

// FindGaps walks the grid start, start+interval, ... <= end alongside rows
// (sorted by timestamp ascending) and counts the grid points that have no
// row strictly within interval/2 of them. At most limit of those points are
// returned; missing is always the full count. Linear in len(rows) + grid size.
func FindGaps(rows []models.RateHistory, start, end time.Time, interval time.Duration, limit int) (gaps []time.Time, missing int) {
	if interval <= 0 || end.Before(start) {
		return nil, 0
	}

	half := interval / 2
	j := 0
	for t := start; !t.After(end); t = t.Add(interval) {
		lo := t.Add(-half)
		// Rows at or before lo are too early for t and every later point.
		for j < len(rows) && !rows[j].Timestamp.After(lo) {
			j++
		}
		if j < len(rows) && rows[j].Timestamp.Before(t.Add(half)) {
			continue
		}
		missing++
		if len(gaps) < limit {
			gaps = append(gaps, t)
		}
	}

	return gaps, missing
}
