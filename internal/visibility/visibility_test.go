package visibility_test

import (
	"fmt"
	"testing"

	"opsboard/internal/domain"
	"opsboard/internal/visibility"
)

func inst(id, owner string, channel *string) domain.TaskInstance {
	return domain.TaskInstance{ID: id, OwnerID: owner, ChannelID: channel, Status: domain.StatusPending}
}

func ids(items []domain.TaskInstance) []string {
	var out []string
	for _, i := range items {
		out = append(out, i.ID)
	}
	return out
}

func TestVisible(t *testing.T) {
	shop := "shopify"
	all := []domain.TaskInstance{
		inst("own-channel", "ana", &shop),
		inst("own-global", "ana", nil),
		inst("other-channel", "ben", &shop),
		inst("other-global", "ben", nil),
	}
	cases := []struct {
		name string
		cfg  visibility.Config
		want string
	}{
		{"unrestricted", visibility.Config{RestrictToOwner: false, CurrentOwnerID: "ana"}, "[own-channel own-global other-channel other-global]"},
		{"restricted global all", visibility.Config{RestrictToOwner: true, CurrentOwnerID: "ana", GlobalVisibility: visibility.GlobalAll}, "[own-channel own-global other-global]"},
		{"restricted elevated-only, not elevated", visibility.Config{RestrictToOwner: true, CurrentOwnerID: "ana", GlobalVisibility: visibility.GlobalElevatedOnly}, "[own-channel own-global]"},
		{"restricted elevated-only, elevated", visibility.Config{RestrictToOwner: true, CurrentOwnerID: "ana", GlobalVisibility: visibility.GlobalElevatedOnly, IsElevated: true}, "[own-channel own-global other-global]"},
		{"restricted unknown policy", visibility.Config{RestrictToOwner: true, CurrentOwnerID: "ana"}, "[own-channel own-global]"},
	}
	for _, tc := range cases {
		got := ids(visibility.Visible(all, tc.cfg))
		if fmt.Sprint(got) != tc.want {
			t.Fatalf("%s: got %v want %s", tc.name, got, tc.want)
		}
	}
}

func TestForViewer(t *testing.T) {
	cfg := visibility.ForViewer("ana", true, true, visibility.GlobalElevatedOnly)
	if cfg.RestrictToOwner {
		t.Fatalf("elevated viewers are not restricted")
	}
	cfg = visibility.ForViewer("ana", false, true, visibility.GlobalAll)
	if !cfg.RestrictToOwner || cfg.CurrentOwnerID != "ana" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestVisibleTemplates(t *testing.T) {
	shop := "shopify"
	tpls := []domain.TaskTemplate{
		{ID: "a", OwnerID: "ana", ChannelID: &shop},
		{ID: "b", OwnerID: "ben", ChannelID: &shop},
		{ID: "c", OwnerID: "ben"},
	}
	got := visibility.VisibleTemplates(tpls, visibility.Config{RestrictToOwner: true, CurrentOwnerID: "ana", GlobalVisibility: visibility.GlobalAll})
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("unexpected templates: %+v", got)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := visibility.ParsePolicy("elevated_only"); err != nil || p != visibility.GlobalElevatedOnly {
		t.Fatalf("parse: %v %v", p, err)
	}
	if _, err := visibility.ParsePolicy("some"); err == nil {
		t.Fatalf("expected error")
	}
}
