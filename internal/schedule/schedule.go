// Package schedule decides when jobs fire. NextRun and IsDue are pure; the
// Resolver combines them with stored candidates and run history.
package schedule

import (
	"sort"
	"strconv"
	"time"

	"github.com/kylemclaren/local-tasks/internal/db"
)

// MinuteOfDay returns t's minutes since local midnight.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// ScheduledMinute truncates t to the start of its wall-clock minute.
func ScheduledMinute(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

// DaysIn returns the length of the month in days.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// IsDue reports whether slot fires at now's minute.
func IsDue(slot db.ScheduleSlot, now time.Time) bool {
	if !slot.Active || slot.MinuteOfDay != MinuteOfDay(now) {
		return false
	}
	switch slot.Kind {
	case db.KindRecurring:
		return slot.DaysMask&db.WeekdayBit(now) != 0
	case db.KindDate:
		return slot.Date == now.Format("2006-01-02")
	case db.KindMonthly:
		day, err := strconv.Atoi(slot.Date)
		if err != nil {
			return false
		}
		last := DaysIn(now.Year(), now.Month())
		return day == now.Day() || (day > last && now.Day() == last)
	default:
		return false
	}
}

// NextRun returns the earliest instant strictly after ref's minute at which an
// active slot fires. All slots of a job share kind and date, so the first active
// slot decides the rule.
func NextRun(slots []db.ScheduleSlot, ref time.Time) (time.Time, bool) {
	active := make([]db.ScheduleSlot, 0, len(slots))
	for _, s := range slots {
		if s.Active {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		return time.Time{}, false
	}
	sort.Slice(active, func(i, j int) bool { return active[i].MinuteOfDay < active[j].MinuteOfDay })

	switch active[0].Kind {
	case db.KindRecurring:
		return nextRecurring(active, ref)
	case db.KindDate:
		return nextDate(active, ref)
	case db.KindMonthly:
		return nextMonthly(active, ref)
	default:
		return time.Time{}, false
	}
}

func at(year int, month time.Month, day, minuteOfDay int, loc *time.Location) time.Time {
	return time.Date(year, month, day, minuteOfDay/60, minuteOfDay%60, 0, 0, loc)
}

// firstOnDay picks the earliest slot on the given day, skipping minutes not after
// ref's minute when the day is ref's day.
func firstOnDay(slots []db.ScheduleSlot, year int, month time.Month, day int, ref time.Time, sameDay bool) (time.Time, bool) {
	refMinute := MinuteOfDay(ref)
	for _, s := range slots {
		if sameDay && s.MinuteOfDay <= refMinute {
			continue
		}
		return at(year, month, day, s.MinuteOfDay, ref.Location()), true
	}
	return time.Time{}, false
}

func nextRecurring(slots []db.ScheduleSlot, ref time.Time) (time.Time, bool) {
	for offset := 0; offset <= 7; offset++ {
		day := time.Date(ref.Year(), ref.Month(), ref.Day()+offset, 12, 0, 0, 0, ref.Location())
		bit := db.WeekdayBit(day)
		var matching []db.ScheduleSlot
		for _, s := range slots {
			if s.DaysMask&bit != 0 {
				matching = append(matching, s)
			}
		}
		if t, ok := firstOnDay(matching, day.Year(), day.Month(), day.Day(), ref, offset == 0); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func nextDate(slots []db.ScheduleSlot, ref time.Time) (time.Time, bool) {
	target, err := time.ParseInLocation("2006-01-02", slots[0].Date, ref.Location())
	if err != nil {
		return time.Time{}, false
	}
	today := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	if target.Before(today) {
		return time.Time{}, false
	}
	return firstOnDay(slots, target.Year(), target.Month(), target.Day(), ref, target.Equal(today))
}

func nextMonthly(slots []db.ScheduleSlot, ref time.Time) (time.Time, bool) {
	wanted, err := strconv.Atoi(slots[0].Date)
	if err != nil || wanted < 1 {
		return time.Time{}, false
	}
	for offset := 0; offset <= 12; offset++ {
		first := time.Date(ref.Year(), ref.Month()+time.Month(offset), 1, 0, 0, 0, 0, ref.Location())
		day := min(wanted, DaysIn(first.Year(), first.Month()))
		sameDay := first.Year() == ref.Year() && first.Month() == ref.Month() && day == ref.Day()
		if offset == 0 && day < ref.Day() {
			continue
		}
		if t, ok := firstOnDay(slots, first.Year(), first.Month(), day, ref, sameDay); ok {
			return t, true
		}
	}
	return time.Time{}, false
}
