package server

import (
	"opsboard/internal/domain"
	"opsboard/internal/ledger"
)

// Request payloads

type DevLoginRequest struct {
	OwnerID    string `json:"owner_id"`
	TTLMinutes int    `json:"ttl_minutes,omitempty" minimum:"0"`
}

type CreateOwnerRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
	Role string `json:"role,omitempty"`
}

type SetOwnerActiveRequest struct {
	Active bool `json:"active"`
}

type CreateChannelRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type CreateTemplateRequest struct {
	ID               string   `json:"id,omitempty"`
	Title            string   `json:"title"`
	DoD              string   `json:"dod,omitempty"`
	Description      string   `json:"description,omitempty"`
	OwnerID          string   `json:"owner_id"`
	ChannelID        string   `json:"channel_id,omitempty"`
	TimeOfDay        string   `json:"time_of_day,omitempty" example:"08:30"`
	Weekdays         []string `json:"weekdays,omitempty" example:"[\"MON\",\"FRI\"]"`
	IsCritical       bool     `json:"is_critical,omitempty"`
	EvidenceRequired *bool    `json:"evidence_required,omitempty"`
	PointsOnComplete *int     `json:"points_on_complete,omitempty"`
	PointsOnSkip     *int     `json:"points_on_skip,omitempty"`
	Inactive         bool     `json:"inactive,omitempty"`
}

type UpdateTemplateRequest struct {
	Title            *string  `json:"title,omitempty"`
	DoD              *string  `json:"dod,omitempty"`
	Description      *string  `json:"description,omitempty"`
	OwnerID          *string  `json:"owner_id,omitempty"`
	ChannelID        *string  `json:"channel_id,omitempty"`
	TimeOfDay        *string  `json:"time_of_day,omitempty"`
	Weekdays         []string `json:"weekdays,omitempty"`
	IsCritical       *bool    `json:"is_critical,omitempty"`
	EvidenceRequired *bool    `json:"evidence_required,omitempty"`
	PointsOnComplete *int     `json:"points_on_complete,omitempty"`
	PointsOnSkip     *int     `json:"points_on_skip,omitempty"`
	IsActive         *bool    `json:"is_active,omitempty"`
}

type CreateInstanceRequest struct {
	Date             string `json:"date" format:"date"`
	Title            string `json:"title"`
	DoD              string `json:"dod,omitempty"`
	Description      string `json:"description,omitempty"`
	OwnerID          string `json:"owner_id"`
	ChannelID        string `json:"channel_id,omitempty"`
	TimeOfDay        string `json:"time_of_day,omitempty"`
	IsCritical       bool   `json:"is_critical,omitempty"`
	EvidenceRequired *bool  `json:"evidence_required,omitempty"`
	PointsOnComplete *int   `json:"points_on_complete,omitempty"`
	PointsOnSkip     *int   `json:"points_on_skip,omitempty"`
}

type CompleteInstanceRequest struct {
	Evidence []string `json:"evidence,omitempty"`
}

type SkipInstanceRequest struct {
	Reason string `json:"reason,omitempty"`
}

type GrantPointsRequest struct {
	OwnerID string `json:"owner_id"`
	Date    string `json:"date,omitempty" format:"date"`
	Amount  int    `json:"amount"`
	Reason  string `json:"reason"`
}

type CreateIncidentRequest struct {
	Title           string `json:"title"`
	Description     string `json:"description,omitempty"`
	OwnerID         string `json:"owner_id,omitempty"`
	ChannelID       string `json:"channel_id,omitempty"`
	Severity        string `json:"severity,omitempty" enum:"low,medium,high"`
	PointsOnResolve *int   `json:"points_on_resolve,omitempty"`
}

type CreateAPIKeyRequest struct {
	OwnerID string `json:"owner_id,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	OwnerID     string   `json:"owner_id"`
	Name        string   `json:"name"`
	Role        string   `json:"role"`
	Elevated    bool     `json:"elevated"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type OwnerList struct {
	Items []domain.Owner `json:"items"`
}

type ChannelList struct {
	Items []domain.Channel `json:"items"`
}

type TemplateList struct {
	Items []domain.TaskTemplate `json:"items"`
}

type ApplyMonthResponse struct {
	Month   string `json:"month"`
	Created int    `json:"created"`
	Skipped int    `json:"skipped"`
}

type TotalResponse struct {
	OwnerID string           `json:"owner_id"`
	Range   ledger.DateRange `json:"range"`
	Total   int              `json:"total"`
}

type RankingResponse struct {
	Range ledger.DateRange  `json:"range"`
	Items []ledger.Standing `json:"items"`
}

type PointsList struct {
	Items []domain.PointsEntry `json:"items"`
}

type IncidentList struct {
	Items      []domain.Incident `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type EventList struct {
	Items      []domain.Event `json:"items"`
	NextCursor int64          `json:"next_cursor,omitempty"`
}

type APIKeyResponse struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name,omitempty"`
	Key     string `json:"key"`
}

type APIKeyList struct {
	Items []domain.APIKey `json:"items"`
}

type MonthSummaryResponse struct {
	Month  string                        `json:"month"`
	Counts map[domain.InstanceStatus]int `json:"counts"`
}

func nonNilSlice[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
