package expand_test

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"opsboard/internal/calendar"
	"opsboard/internal/domain"
	"opsboard/internal/expand"
)

func genMonthKey(t *rapid.T) string {
	year := rapid.IntRange(1990, 2100).Draw(t, "year")
	month := rapid.IntRange(1, 12).Draw(t, "month")
	return fmt.Sprintf("%04d-%02d", year, month)
}

func genTemplates(t *rapid.T) []domain.TaskTemplate {
	n := rapid.IntRange(0, 6).Draw(t, "templates")
	out := make([]domain.TaskTemplate, 0, n)
	for i := 0; i < n; i++ {
		days := rapid.SliceOfDistinct(rapid.IntRange(1, 7), func(d int) int { return d }).Draw(t, fmt.Sprintf("days_%d", i))
		weekdays := make([]calendar.Weekday, 0, len(days))
		for _, d := range days {
			weekdays = append(weekdays, calendar.Weekday(d))
		}
		out = append(out, domain.TaskTemplate{
			ID:        fmt.Sprintf("tpl-%d", i),
			Title:     fmt.Sprintf("task %d", i),
			OwnerID:   rapid.SampledFrom([]string{"ana", "ben", "cho"}).Draw(t, fmt.Sprintf("owner_%d", i)),
			TimeOfDay: rapid.SampledFrom([]string{"08:00", "12:30", "18:45"}).Draw(t, fmt.Sprintf("time_%d", i)),
			Weekdays:  weekdays,
			IsActive:  rapid.Bool().Draw(t, fmt.Sprintf("active_%d", i)),
		})
	}
	return out
}

func TestPropertyExpandIsIdempotent(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		templates := genTemplates(rt)
		month := genMonthKey(rt)
		first, err := expand.Expand(templates, month, nil)
		if err != nil {
			rt.Fatalf("expand: %v", err)
		}
		second, err := expand.Expand(templates, month, first)
		if err != nil {
			rt.Fatalf("re-expand: %v", err)
		}
		if len(second) != 0 {
			rt.Fatalf("second expansion produced %d instances", len(second))
		}
	})
}

func TestPropertyExpandMatchesWeekdays(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		templates := genTemplates(rt)
		month := genMonthKey(rt)
		got, err := expand.Expand(templates, month, nil)
		if err != nil {
			rt.Fatalf("expand: %v", err)
		}
		year, m, _ := calendar.ParseMonthKey(month)
		dates, _ := calendar.EnumerateDates(year, m)
		want := 0
		for _, tpl := range templates {
			if !tpl.IsActive {
				continue
			}
			for d := range dates {
				wd, _ := calendar.WeekdayOf(d)
				if tpl.RunsOn(wd) {
					want++
				}
			}
		}
		if len(got) != want {
			rt.Fatalf("expected %d instances, got %d", want, len(got))
		}
		seen := map[string]bool{}
		for _, inst := range got {
			k := inst.TemplateKey() + "|" + inst.Date
			if seen[k] {
				rt.Fatalf("duplicate instance %s", k)
			}
			seen[k] = true
		}
	})
}
