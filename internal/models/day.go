package models

import "time"

// Day отбрасывает время суток, сохраняя часовой пояс.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// dayKey сравнивает календарные даты независимо от часового пояса значения.
// Колонки DATE приходят из pq в UTC, а «сегодня» считается в локальной зоне.
func dayKey(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}

// DayBefore сообщает, что календарная дата a строго раньше b.
func DayBefore(a, b time.Time) bool {
	return dayKey(a) < dayKey(b)
}
