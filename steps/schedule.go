package steps

import "time"

const minutesPerDay = 24 * 60

// NextSendAt computes when a step fires, counting from now.
//
// Without a send hour the step fires exactly delayMinutes later, which makes
// delay 0 mean "send immediately". With a send hour the delay expresses a
// whole-day offset: the step fires that many calendar days later, snapped to
// HH:MM in now's location. If the snapped instant has already passed it
// rolls forward one day (delay 0 with a send hour earlier than now means
// tomorrow, not the past).
func NextSendAt(now time.Time, delayMinutes int, sendHour, sendMinute *int) time.Time {
	if sendHour == nil {
		return now.Add(time.Duration(delayMinutes) * time.Minute)
	}

	minute := 0
	if sendMinute != nil {
		minute = *sendMinute
	}

	days := delayMinutes / minutesPerDay
	target := now.AddDate(0, 0, days)
	target = time.Date(target.Year(), target.Month(), target.Day(),
		*sendHour, minute, 0, 0, now.Location())
	if target.Before(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}
