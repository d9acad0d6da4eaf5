package expand

import (
	"sort"

	"github.com/google/uuid"

	"opsboard/internal/calendar"
	"opsboard/internal/domain"
)

var instanceNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("opsboard.task-instance"))

// InstanceID is the deterministic id of the instance generated from a
// template on a date.
func InstanceID(templateID, date string) string {
	return uuid.NewSHA1(instanceNamespace, []byte(templateID+"|"+date)).String()
}

type key struct {
	templateID string
	date       string
}

// Expand projects the active templates onto every matching date of monthKey
// and returns the instances that do not exist yet. A (template, date) pair
// already present in existing is never produced again, so calling Expand with
// its own previous output yields nothing. Neither input is modified.
func Expand(templates []domain.TaskTemplate, monthKey string, existing []domain.TaskInstance) ([]domain.TaskInstance, error) {
	year, month, err := calendar.ParseMonthKey(monthKey)
	if err != nil {
		return nil, err
	}
	dates, err := calendar.EnumerateDates(year, month)
	if err != nil {
		return nil, err
	}
	seen := make(map[key]struct{}, len(existing))
	for _, inst := range existing {
		if inst.TemplateID == nil {
			continue
		}
		seen[key{*inst.TemplateID, inst.Date}] = struct{}{}
	}

	var out []domain.TaskInstance
	for _, tpl := range templates {
		if !tpl.IsActive || len(tpl.Weekdays) == 0 {
			continue
		}
		for date := range dates {
			wd, err := calendar.WeekdayOf(date)
			if err != nil {
				return nil, err
			}
			if !tpl.RunsOn(wd) {
				continue
			}
			k := key{tpl.ID, date}
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, instanceFrom(tpl, date))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.TimeOfDay != b.TimeOfDay {
			return a.TimeOfDay < b.TimeOfDay
		}
		return *a.TemplateID < *b.TemplateID
	})
	return out, nil
}

func instanceFrom(tpl domain.TaskTemplate, date string) domain.TaskInstance {
	templateID := tpl.ID
	var channelID *string
	if tpl.ChannelID != nil {
		ch := *tpl.ChannelID
		channelID = &ch
	}
	return domain.TaskInstance{
		ID:               InstanceID(tpl.ID, date),
		TemplateID:       &templateID,
		Date:             date,
		Title:            tpl.Title,
		DoD:              tpl.DoD,
		Description:      tpl.Description,
		OwnerID:          tpl.OwnerID,
		ChannelID:        channelID,
		TimeOfDay:        tpl.TimeOfDay,
		IsCritical:       tpl.IsCritical,
		EvidenceRequired: tpl.EvidenceRequired,
		PointsOnComplete: tpl.PointsOnComplete,
		PointsOnSkip:     tpl.PointsOnSkip,
		Status:           domain.StatusPending,
	}
}
