package forecast

import (
	"sort"
	"time"
)

// NextHourIndices picks display slots from an ascending series of hourly
// timestamps: the first index at or after now, then every step-th index
// after it, up to slots entries. It returns nil when every timestamp is
// before now.
func NextHourIndices(times []time.Time, now time.Time, step, slots int) []int {
	if slots <= 0 {
		return nil
	}
	if step < 1 {
		step = 1
	}

	start := sort.Search(len(times), func(i int) bool {
		return !times[i].Before(now)
	})
	if start >= len(times) {
		return nil
	}

	indices := make([]int, 0, slots)
	for i := start; i < len(times) && len(indices) < slots; i += step {
		indices = append(indices, i)
	}
	return indices
}

// TodayIndex returns the index of the daily entry whose date matches now in
// loc, or -1.
func TodayIndex(days []time.Time, now time.Time, loc *time.Location) int {
	y, m, d := now.In(loc).Date()
	for i, day := range days {
		dy, dm, dd := day.In(loc).Date()
		if dy == y && dm == m && dd == d {
			return i
		}
	}
	return -1
}

// FirstDayIndex returns the index of today's daily entry, or of the first
// later one when today is missing. It returns -1 when every entry is in the
// past, as with a bundle cached several days ago.
func FirstDayIndex(days []time.Time, now time.Time, loc *time.Location) int {
	if i := TodayIndex(days, now, loc); i >= 0 {
		return i
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	for i, day := range days {
		if !day.Before(midnight) {
			return i
		}
	}
	return -1
}
