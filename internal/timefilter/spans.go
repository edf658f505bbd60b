package timefilter

// Common hour and minute spans for building selection windows.
var (
	// NightHours covers the evening through early morning.
	NightHours = []int{21, 22, 23, 0, 1, 2, 3, 4, 5}
	// DawnToDusk covers 06:00 through 20:00.
	DawnToDusk = hourRange(6, 21)
	// DaylightHours covers 06:00 through 19:00.
	DaylightHours = hourRange(6, 20)
	// EveryTwoHours selects every second hour of the day.
	EveryTwoHours = stepRange(0, 24, 2)
	// WorkdayEveryTwoHours is a sparse daytime sampling.
	WorkdayEveryTwoHours = []int{8, 10, 12, 14, 16, 20}

	// EveryTenMinutes selects minutes 0, 10, ... 50.
	EveryTenMinutes = stepRange(0, 51, 10)
	// EveryFiveMinutes selects minutes 0, 5, ... 55.
	EveryFiveMinutes = stepRange(0, 56, 5)
	// EveryTwoMinutes selects minutes 0, 2, ... 58.
	EveryTwoMinutes = stepRange(0, 59, 2)
	// QuarterHours selects minutes 0, 15, 30, 45.
	QuarterHours = []int{0, 15, 30, 45}
)

// AllHours returns the full 0-23 hour list, the Dayslice default.
func AllHours() []int {
	return hourRange(0, 24)
}

func hourRange(start, end int) []int {
	return stepRange(start, end, 1)
}

func stepRange(start, end, step int) []int {
	var out []int
	for v := start; v < end; v += step {
		out = append(out, v)
	}
	return out
}
