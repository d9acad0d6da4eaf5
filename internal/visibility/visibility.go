package visibility

import (
	"fmt"
	"strings"

	"opsboard/internal/domain"
)

// GlobalPolicy decides who sees tasks that are not tied to a channel.
type GlobalPolicy string

const (
	GlobalAll          GlobalPolicy = "ALL"
	GlobalElevatedOnly GlobalPolicy = "ELEVATED_ONLY"
)

// ParsePolicy accepts ALL or ELEVATED_ONLY (case-insensitive).
func ParsePolicy(s string) (GlobalPolicy, error) {
	switch GlobalPolicy(strings.ToUpper(strings.TrimSpace(s))) {
	case GlobalAll:
		return GlobalAll, nil
	case GlobalElevatedOnly:
		return GlobalElevatedOnly, nil
	}
	return "", fmt.Errorf("invalid global visibility %q: expected ALL or ELEVATED_ONLY", s)
}

// Config describes one viewer.
type Config struct {
	RestrictToOwner  bool
	CurrentOwnerID   string
	GlobalVisibility GlobalPolicy
	IsElevated       bool
}

// ForViewer builds the viewer config. Elevated viewers are never restricted.
func ForViewer(ownerID string, elevated, restrictToOwner bool, global GlobalPolicy) Config {
	return Config{
		RestrictToOwner:  restrictToOwner && !elevated,
		CurrentOwnerID:   ownerID,
		GlobalVisibility: global,
		IsElevated:       elevated,
	}
}

func (c Config) allows(ownerID string, channelID *string) bool {
	if !c.RestrictToOwner {
		return true
	}
	if ownerID == c.CurrentOwnerID {
		return true
	}
	if channelID != nil {
		return false
	}
	switch c.GlobalVisibility {
	case GlobalAll:
		return true
	case GlobalElevatedOnly:
		return c.IsElevated
	}
	return false
}

// Visible keeps the instances the viewer may see, in input order.
func Visible(instances []domain.TaskInstance, cfg Config) []domain.TaskInstance {
	out := make([]domain.TaskInstance, 0, len(instances))
	for _, inst := range instances {
		if cfg.allows(inst.OwnerID, inst.ChannelID) {
			out = append(out, inst)
		}
	}
	return out
}

// VisibleTemplates applies the same rule to templates.
func VisibleTemplates(templates []domain.TaskTemplate, cfg Config) []domain.TaskTemplate {
	out := make([]domain.TaskTemplate, 0, len(templates))
	for _, tpl := range templates {
		if cfg.allows(tpl.OwnerID, tpl.ChannelID) {
			out = append(out, tpl)
		}
	}
	return out
}
