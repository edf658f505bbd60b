package timefilter

import (
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/sonicdm/pyLapse/internal/imageset"
)

func TestFindNearest(t *testing.T) {
	tests := []struct {
		name      string
		values    []int
		target    int
		tolerance int
		wantVal   int
		wantIdx   int
		wantOK    bool
	}{
		{"exact match", []int{0, 15, 30, 45}, 30, 5, 30, 2, true},
		{"within tolerance", []int{0, 15, 30, 45}, 13, 5, 15, 1, true},
		{"outside tolerance", []int{0, 15, 30, 45}, 7, 5, 0, 0, false},
		{"tie keeps earliest", []int{5, 15}, 10, 5, 5, 0, true},
		{"tie keeps earliest reversed", []int{15, 5}, 10, 5, 15, 0, true},
		{"single value", []int{42}, 40, 3, 42, 0, true},
		{"empty", nil, 10, 60, 0, 0, false},
		{"zero tolerance exact", []int{10}, 10, 0, 10, 0, true},
		{"zero tolerance off by one", []int{11}, 10, 0, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, idx, ok := FindNearest(tt.values, tt.target, tt.tolerance)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && (val != tt.wantVal || idx != tt.wantIdx) {
				t.Errorf("got (%d, %d), want (%d, %d)", val, idx, tt.wantVal, tt.wantIdx)
			}
		})
	}
}

func TestFindNearestTime(t *testing.T) {
	target := time.Date(2023, 5, 1, 12, 0, 0, 0, time.Local)
	at := func(h, m int) time.Time {
		return time.Date(2023, 5, 1, h, m, 0, 0, time.Local)
	}

	got, ok := FindNearestTime(target, []time.Time{at(11, 50), at(12, 3), at(12, 30)}, 5)
	if !ok || !got.Equal(at(12, 3)) {
		t.Errorf("got %v ok=%v, want %v", got, ok, at(12, 3))
	}

	// Equidistant candidates keep the first found.
	got, ok = FindNearestTime(target, []time.Time{at(11, 56), at(12, 4)}, 5)
	if !ok || !got.Equal(at(11, 56)) {
		t.Errorf("tie: got %v ok=%v, want %v", got, ok, at(11, 56))
	}

	if _, ok = FindNearestTime(target, []time.Time{at(9, 0), at(15, 0)}, 5); ok {
		t.Error("nothing within tolerance should report ok=false")
	}
	if _, ok = FindNearestTime(target, nil, 60); ok {
		t.Error("empty candidates should report ok=false")
	}
}

// buildIndex groups the given timestamps into an ImageIndex keyed by
// day, with synthetic paths derived from each timestamp.
func buildIndex(times ...time.Time) (imageset.ImageIndex, map[time.Time]string) {
	idx := make(imageset.ImageIndex)
	paths := make(map[time.Time]string)
	for _, ts := range times {
		day := imageset.DayKey(ts)
		if idx[day] == nil {
			idx[day] = make(map[string]time.Time)
		}
		path := fmt.Sprintf("/frames/cam1-%s.jpg", ts.Format("2006-01-02-150405"))
		idx[day][path] = ts
		paths[ts] = path
	}
	return idx, paths
}

func TestDaysliceFuzzyMatching(t *testing.T) {
	at := func(m int) time.Time {
		return time.Date(2023, 5, 1, 10, m, 0, 0, time.Local)
	}
	index, paths := buildIndex(at(0), at(5), at(15))

	tests := []struct {
		name       string
		minutelist []int
		want       []string
	}{
		{"exact minute", []int{0}, []string{paths[at(0)]}},
		{"tie breaks to earliest frame", []int{10}, []string{paths[at(5)]}},
		{"nothing in range", []int{30}, nil},
		{"two targets two frames", []int{0, 15}, []string{paths[at(0)], paths[at(15)]}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Dayslice(index, []int{10}, tt.minutelist, 5)
			want := append([]string(nil), tt.want...)
			if len(got) == 0 && len(want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("got %v, want %v", got, want)
			}
		})
	}
}

func TestDaysliceTieFollowsFilenameOrder(t *testing.T) {
	// Filename order deliberately diverges from capture order.
	early := time.Date(2023, 5, 1, 10, 5, 0, 0, time.Local)
	late := time.Date(2023, 5, 1, 10, 15, 0, 0, time.Local)
	index := imageset.ImageIndex{"2023-05-01": {
		"/frames/zulu.jpg":  early,
		"/frames/alpha.jpg": late,
	}}

	// Both frames sit 5 minutes from the target; the first in filename
	// order wins even though it is the later capture.
	got := Dayslice(index, []int{10}, []int{10}, 5)
	want := []string{"/frames/alpha.jpg"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDaysliceDefaults(t *testing.T) {
	// One frame at the top of every hour across two days.
	var times []time.Time
	for day := 1; day <= 2; day++ {
		for h := 0; h < 24; h++ {
			times = append(times, time.Date(2023, 5, day, h, 0, 0, 0, time.Local))
		}
	}
	index, _ := buildIndex(times...)

	// Empty hour and minute lists mean all hours at minute 0.
	got := Dayslice(index, nil, nil, 5)
	if len(got) != 48 {
		t.Errorf("selected %d files, want 48", len(got))
	}
}

func TestDaysliceSkipsEmptyHours(t *testing.T) {
	at := func(h int) time.Time {
		return time.Date(2023, 5, 1, h, 0, 0, 0, time.Local)
	}
	index, paths := buildIndex(at(9), at(14))

	got := Dayslice(index, []int{9, 10, 11}, []int{0}, 5)
	want := []string{paths[at(9)]}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestDaysliceDeduplicates(t *testing.T) {
	// A single frame near two target minutes must appear once.
	ts := time.Date(2023, 5, 1, 10, 12, 0, 0, time.Local)
	index, _ := buildIndex(ts)

	got := Dayslice(index, []int{10}, []int{10, 14}, 5)
	if len(got) != 1 {
		t.Errorf("selected %d files, want 1 (no duplicates)", len(got))
	}
}

func TestDaysliceResultSorted(t *testing.T) {
	var times []time.Time
	for h := 0; h < 12; h++ {
		times = append(times, time.Date(2023, 5, 1, h, 0, 0, 0, time.Local))
	}
	index, _ := buildIndex(times...)

	got := Dayslice(index, nil, nil, 5)
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("result not sorted at %d: %q >= %q", i, got[i-1], got[i])
		}
	}
}

func TestParseCron(t *testing.T) {
	for _, spec := range []string{"0 * * * *", "*/30 * * * * *", "@hourly", "@daily"} {
		if _, err := ParseCron(spec); err != nil {
			t.Errorf("ParseCron(%q) = %v", spec, err)
		}
	}
	if _, err := ParseCron("not a cron line"); err == nil {
		t.Error("invalid expression should not parse")
	}
}

func TestFireTimesIncludesMidnight(t *testing.T) {
	day := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)

	daily, err := ParseCron("0 0 * * *")
	if err != nil {
		t.Fatal(err)
	}
	fires := FireTimes(daily, day)
	if len(fires) != 1 {
		t.Fatalf("daily schedule fired %d times, want 1", len(fires))
	}
	if !fires[0].Equal(day) {
		t.Errorf("fire at %v, want midnight %v", fires[0], day)
	}
}

func TestFireTimesHourly(t *testing.T) {
	day := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)

	hourly, err := ParseCron("@hourly")
	if err != nil {
		t.Fatal(err)
	}
	fires := FireTimes(hourly, day)
	if len(fires) != 24 {
		t.Fatalf("hourly schedule fired %d times, want 24", len(fires))
	}
	for i, f := range fires {
		if f.Hour() != i || f.Minute() != 0 {
			t.Errorf("fire %d at %v, want hour %d minute 0", i, f, i)
		}
	}
}

func TestFireTimesInactiveDay(t *testing.T) {
	// 2023-05-01 is a Monday; restrict to Sundays.
	monday := time.Date(2023, 5, 1, 0, 0, 0, 0, time.Local)

	sundays, err := ParseCron("0 12 * * 0")
	if err != nil {
		t.Fatal(err)
	}
	if fires := FireTimes(sundays, monday); len(fires) != 0 {
		t.Errorf("Sunday schedule fired %d times on a Monday", len(fires))
	}
}

func TestCronFilterHourly(t *testing.T) {
	// One frame per minute for a full day.
	var times []time.Time
	for h := 0; h < 24; h++ {
		for m := 0; m < 60; m++ {
			times = append(times, time.Date(2023, 5, 1, h, m, 0, 0, time.Local))
		}
	}
	index, paths := buildIndex(times...)

	hourly, err := ParseCron("0 * * * *")
	if err != nil {
		t.Fatal(err)
	}

	got := CronFilter(index, hourly, 5)
	if len(got) != 24 {
		t.Fatalf("selected %d files, want 24", len(got))
	}

	// Each selection is the exact on-the-hour frame.
	want := make(map[string]struct{})
	for h := 0; h < 24; h++ {
		want[paths[time.Date(2023, 5, 1, h, 0, 0, 0, time.Local)]] = struct{}{}
	}
	for _, p := range got {
		if _, ok := want[p]; !ok {
			t.Errorf("unexpected selection %q", p)
		}
	}
}

func TestCronFilterSkipsInactiveDays(t *testing.T) {
	// Frames on a Monday and the following Sunday.
	monday := time.Date(2023, 5, 1, 12, 0, 0, 0, time.Local)
	sunday := time.Date(2023, 5, 7, 12, 0, 0, 0, time.Local)
	index, paths := buildIndex(monday, sunday)

	sundaysOnly, err := ParseCron("0 12 * * 0")
	if err != nil {
		t.Fatal(err)
	}

	got := CronFilter(index, sundaysOnly, 10)
	want := []string{paths[sunday]}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCronFilterFuzzyTieKeepsEarliest(t *testing.T) {
	// Frames equidistant from the noon fire.
	before := time.Date(2023, 5, 1, 11, 57, 0, 0, time.Local)
	after := time.Date(2023, 5, 1, 12, 3, 0, 0, time.Local)
	index, paths := buildIndex(before, after)

	noon, err := ParseCron("0 12 * * *")
	if err != nil {
		t.Fatal(err)
	}

	got := CronFilter(index, noon, 5)
	want := []string{paths[before]}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCronFilterNothingInTolerance(t *testing.T) {
	ts := time.Date(2023, 5, 1, 8, 0, 0, 0, time.Local)
	index, _ := buildIndex(ts)

	noon, err := ParseCron("0 12 * * *")
	if err != nil {
		t.Fatal(err)
	}
	if got := CronFilter(index, noon, 5); len(got) != 0 {
		t.Errorf("selected %v, want nothing", got)
	}
}

func TestSpans(t *testing.T) {
	if got := len(AllHours()); got != 24 {
		t.Errorf("AllHours has %d entries, want 24", got)
	}
	if got := EveryFiveMinutes[len(EveryFiveMinutes)-1]; got != 55 {
		t.Errorf("EveryFiveMinutes ends at %d, want 55", got)
	}
	if got := len(EveryTwoHours); got != 12 {
		t.Errorf("EveryTwoHours has %d entries, want 12", got)
	}
	if got := DaylightHours[0]; got != 6 {
		t.Errorf("DaylightHours starts at %d, want 6", got)
	}
}
