package analysis

import (
	"time"

	"github.com/xoelrdgz/logsift/internal/domain"
)

// MaxSeriesMinutes bounds the per-minute series. A batch spanning more than
// this keeps only the most recent minutes; SeriesTruncated reports when that
// happens.
const MaxSeriesMinutes = 366 * 24 * 60

const DayLayout = "2006-01-02"

// fullMinuteRange returns the first and last minute of the timestamped records.
func fullMinuteRange(records []domain.LogRecord) (first, last time.Time, ok bool) {
	for i := range records {
		if !records[i].HasTimestamp() {
			continue
		}
		m := records[i].OccurredAt.Truncate(time.Minute)
		if !ok || m.Before(first) {
			first = m
		}
		if !ok || m.After(last) {
			last = m
		}
		ok = true
	}
	return first, last, ok
}

// minuteRange is fullMinuteRange capped to the last MaxSeriesMinutes minutes.
func minuteRange(records []domain.LogRecord) (first, last time.Time, ok bool) {
	first, last, ok = fullMinuteRange(records)
	if ok && int(last.Sub(first)/time.Minute) >= MaxSeriesMinutes {
		first = last.Add(-time.Duration(MaxSeriesMinutes-1) * time.Minute)
	}
	return first, last, ok
}

// SeriesTruncated reports whether the per-minute series of records is cut to
// MaxSeriesMinutes, dropping the oldest minutes.
func SeriesTruncated(records []domain.LogRecord) bool {
	first, last, ok := fullMinuteRange(records)
	return ok && int(last.Sub(first)/time.Minute) >= MaxSeriesMinutes
}

// RequestsPerMinute counts timestamped records per minute over the
// inclusive range [earliest, latest]. Minutes without requests are present
// with a zero count.
func RequestsPerMinute(records []domain.LogRecord) []domain.MinuteCount {
	first, last, ok := minuteRange(records)
	if !ok {
		return []domain.MinuteCount{}
	}

	n := int(last.Sub(first)/time.Minute) + 1
	out := make([]domain.MinuteCount, n)
	for i := range out {
		out[i].Minute = first.Add(time.Duration(i) * time.Minute)
	}
	for i := range records {
		if !records[i].HasTimestamp() {
			continue
		}
		idx := int(records[i].OccurredAt.Truncate(time.Minute).Sub(first) / time.Minute)
		if idx >= 0 && idx < n {
			out[idx].Count++
		}
	}
	return out
}

// BotVsHumanPerMinute splits the per-minute series using isBot.
func BotVsHumanPerMinute(records []domain.LogRecord, isBot func(*domain.LogRecord) bool) []domain.BotHumanCount {
	first, last, ok := minuteRange(records)
	if !ok {
		return []domain.BotHumanCount{}
	}

	n := int(last.Sub(first)/time.Minute) + 1
	out := make([]domain.BotHumanCount, n)
	for i := range out {
		out[i].Minute = first.Add(time.Duration(i) * time.Minute)
	}
	for i := range records {
		if !records[i].HasTimestamp() {
			continue
		}
		idx := int(records[i].OccurredAt.Truncate(time.Minute).Sub(first) / time.Minute)
		if idx < 0 || idx >= n {
			continue
		}
		if isBot != nil && isBot(&records[i]) {
			out[idx].Bot++
		} else {
			out[idx].Human++
		}
	}
	return out
}

// RequestsPerHour counts timestamped records by hour of day.
func RequestsPerHour(records []domain.LogRecord) [24]int {
	var out [24]int
	for i := range records {
		if records[i].HasTimestamp() {
			out[records[i].OccurredAt.Hour()]++
		}
	}
	return out
}

// RequestsPerDay counts timestamped records by calendar day.
func RequestsPerDay(records []domain.LogRecord) domain.FrequencyTable {
	out := make(domain.FrequencyTable)
	for i := range records {
		if records[i].HasTimestamp() {
			out[records[i].OccurredAt.Format(DayLayout)]++
		}
	}
	return out
}
