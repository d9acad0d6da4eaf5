package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"opsboard/internal/calendar"
	"opsboard/internal/domain"
)

// InvalidEntryError reports a malformed ledger write.
type InvalidEntryError struct {
	Field string
	Rule  string
}

func (e InvalidEntryError) Error() string {
	return fmt.Sprintf("invalid ledger entry: %s fails %s", e.Field, e.Rule)
}

// Validate checks an entry before it is appended.
func Validate(e domain.PointsEntry) error {
	if err := domain.ValidateStruct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return InvalidEntryError{Field: verrs[0].Field(), Rule: verrs[0].Tag()}
		}
		return InvalidEntryError{Field: "entry", Rule: err.Error()}
	}
	if strings.TrimSpace(e.OwnerID) == "" {
		return InvalidEntryError{Field: "owner_id", Rule: "required"}
	}
	if e.SourceKind != domain.SourceManual && strings.TrimSpace(domain.StrVal(e.SourceID)) == "" {
		return InvalidEntryError{Field: "source_id", Rule: "required_unless"}
	}
	return nil
}

// DateRange is an inclusive window of ISO dates. An empty bound is open.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// MonthRange covers every day of a YYYY-MM month.
func MonthRange(monthKey string) (DateRange, error) {
	first, last, err := calendar.MonthBounds(monthKey)
	if err != nil {
		return DateRange{}, err
	}
	return DateRange{From: first, To: last}, nil
}

func (r DateRange) Validate() error {
	for _, d := range []string{r.From, r.To} {
		if d == "" {
			continue
		}
		if _, err := calendar.ParseDate(d); err != nil {
			return err
		}
	}
	if r.From != "" && r.To != "" && r.From > r.To {
		return calendar.InvalidDateError{Input: r.From + ".." + r.To, Reason: "range start after end"}
	}
	return nil
}

// Contains reports whether the ISO date falls inside the range. ISO dates
// compare correctly as strings.
func (r DateRange) Contains(date string) bool {
	if r.From != "" && date < r.From {
		return false
	}
	if r.To != "" && date > r.To {
		return false
	}
	return true
}

// Standing is one row of a ranking.
type Standing struct {
	OwnerID string `json:"owner_id"`
	Total   int    `json:"total"`
}

// TotalFor sums the amounts of ownerID's entries inside r. An owner without
// entries totals zero.
func TotalFor(entries []domain.PointsEntry, ownerID string, r DateRange) int {
	total := 0
	for _, e := range entries {
		if e.OwnerID == ownerID && r.Contains(e.Date) {
			total += e.Amount
		}
	}
	return total
}

// Rank totals every owner with entries in r, highest first. Equal totals are
// ordered by owner id.
func Rank(entries []domain.PointsEntry, r DateRange) []Standing {
	totals := map[string]int{}
	for _, e := range entries {
		if r.Contains(e.Date) {
			totals[e.OwnerID] += e.Amount
		}
	}
	out := make([]Standing, 0, len(totals))
	for owner, total := range totals {
		out = append(out, Standing{OwnerID: owner, Total: total})
	}
	SortStandings(out)
	return out
}

// SortStandings orders by total descending, then owner id ascending.
func SortStandings(s []Standing) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Total != s[j].Total {
			return s[i].Total > s[j].Total
		}
		return s[i].OwnerID < s[j].OwnerID
	})
}

// Ledger is an append-only store of points entries.
type Ledger interface {
	Append(ctx context.Context, e domain.PointsEntry) (domain.PointsEntry, error)
	TotalFor(ctx context.Context, ownerID string, r DateRange) (int, error)
	Rank(ctx context.Context, r DateRange) ([]Standing, error)
}
