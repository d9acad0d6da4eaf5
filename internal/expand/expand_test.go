package expand_test

import (
	"errors"
	"testing"

	"opsboard/internal/calendar"
	"opsboard/internal/domain"
	"opsboard/internal/expand"
)

func template(id string, days []calendar.Weekday) domain.TaskTemplate {
	return domain.TaskTemplate{
		ID:               id,
		Title:            "Check " + id,
		OwnerID:          "owner-1",
		TimeOfDay:        "09:00",
		Weekdays:         days,
		EvidenceRequired: true,
		PointsOnComplete: 10,
		PointsOnSkip:     -5,
		IsActive:         true,
	}
}

func TestExpandWorkweekCounts(t *testing.T) {
	cases := map[string]int{
		"2024-01": 23,
		"2024-02": 21,
		"2024-03": 21,
		"2024-06": 20,
	}
	for month, want := range cases {
		got, err := expand.Expand([]domain.TaskTemplate{template("t1", calendar.Workweek)}, month, nil)
		if err != nil {
			t.Fatalf("%s: %v", month, err)
		}
		if len(got) != want {
			t.Fatalf("%s: expected %d instances, got %d", month, want, len(got))
		}
		for _, inst := range got {
			wd, _ := calendar.WeekdayOf(inst.Date)
			if wd == calendar.Saturday || wd == calendar.Sunday {
				t.Fatalf("%s: weekend instance generated on %s", month, inst.Date)
			}
		}
	}
}

func TestExpandCopiesTemplateFields(t *testing.T) {
	ch := "shopify"
	tpl := template("t1", []calendar.Weekday{calendar.Monday})
	tpl.ChannelID = &ch
	tpl.DoD = "inbox zero"
	tpl.IsCritical = true
	got, err := expand.Expand([]domain.TaskTemplate{tpl}, "2024-01", nil)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 mondays in jan 2024, got %d", len(got))
	}
	first := got[0]
	if first.Date != "2024-01-01" || first.Status != domain.StatusPending {
		t.Fatalf("unexpected first instance: %+v", first)
	}
	if first.TemplateKey() != "t1" || first.OwnerID != "owner-1" || first.DoD != "inbox zero" || !first.IsCritical {
		t.Fatalf("fields not copied: %+v", first)
	}
	if first.PointsOnComplete != 10 || first.PointsOnSkip != -5 || !first.EvidenceRequired {
		t.Fatalf("points not copied: %+v", first)
	}
	if first.ChannelID == nil || *first.ChannelID != "shopify" {
		t.Fatalf("channel not copied")
	}
	// later template edits must not reach generated instances
	ch = "amazon"
	tpl.Title = "renamed"
	if *first.ChannelID != "shopify" || first.Title != "Check t1" {
		t.Fatalf("instance aliases template data: %+v", first)
	}
	if first.ID != expand.InstanceID("t1", "2024-01-01") {
		t.Fatalf("instance id is not deterministic")
	}
}

func TestExpandSkipsExisting(t *testing.T) {
	tpl := template("t1", calendar.Workweek)
	first, err := expand.Expand([]domain.TaskTemplate{tpl}, "2024-02", nil)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	second, err := expand.Expand([]domain.TaskTemplate{tpl}, "2024-02", first)
	if err != nil {
		t.Fatalf("re-expand: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected no new instances, got %d", len(second))
	}

	partial := first[:10]
	rest, err := expand.Expand([]domain.TaskTemplate{tpl}, "2024-02", partial)
	if err != nil {
		t.Fatalf("partial expand: %v", err)
	}
	if len(rest) != len(first)-10 {
		t.Fatalf("expected %d remaining, got %d", len(first)-10, len(rest))
	}
}

func TestExpandInactiveAndEmptyWeekdays(t *testing.T) {
	inactive := template("t1", calendar.Workweek)
	inactive.IsActive = false
	empty := template("t2", nil)
	got, err := expand.Expand([]domain.TaskTemplate{inactive, empty}, "2024-02", nil)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no instances, got %d", len(got))
	}
}

func TestExpandIgnoresAdHocExisting(t *testing.T) {
	adHoc := domain.TaskInstance{ID: "adhoc", Date: "2024-02-01", Status: domain.StatusPending}
	got, err := expand.Expand([]domain.TaskTemplate{template("t1", []calendar.Weekday{calendar.Thursday})}, "2024-02", []domain.TaskInstance{adHoc})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 thursdays in feb 2024, got %d", len(got))
	}
}

func TestExpandDuplicateTemplateInput(t *testing.T) {
	tpl := template("t1", calendar.Workweek)
	got, err := expand.Expand([]domain.TaskTemplate{tpl, tpl}, "2024-02", nil)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if len(got) != 21 {
		t.Fatalf("expected 21 instances, got %d", len(got))
	}
}

func TestExpandOrdering(t *testing.T) {
	late := template("b", []calendar.Weekday{calendar.Monday})
	late.TimeOfDay = "17:00"
	early := template("a", []calendar.Weekday{calendar.Monday})
	early.TimeOfDay = "08:30"
	got, err := expand.Expand([]domain.TaskTemplate{late, early}, "2024-01", nil)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if got[0].TemplateKey() != "a" || got[1].TemplateKey() != "b" || got[0].Date != got[1].Date {
		t.Fatalf("unexpected order: %s %s", got[0].TemplateKey(), got[1].TemplateKey())
	}
	for i := 1; i < len(got); i++ {
		if got[i].Date < got[i-1].Date {
			t.Fatalf("dates out of order at %d", i)
		}
	}
}

func TestExpandInvalidMonth(t *testing.T) {
	for _, key := range []string{"2024-13", "0000-01"} {
		_, err := expand.Expand(nil, key, nil)
		var me calendar.InvalidMonthError
		if !errors.As(err, &me) {
			t.Fatalf("%s: expected InvalidMonthError, got %v", key, err)
		}
	}
}
