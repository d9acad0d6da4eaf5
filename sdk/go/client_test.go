package opsboardsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientFlow(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.RequestURI())
		if r.Header.Get("X-Api-Key") != "ob_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v0/months/2024-02/apply":
			json.NewEncoder(w).Encode(ApplyResult{Month: "2024-02", Created: 21})
		case "/v0/instances":
			json.NewEncoder(w).Encode(InstancePage{Items: []Instance{{ID: "i1", Status: "PENDING"}}, NextCursor: "c1"})
		case "/v0/instances/i1/complete":
			var body struct {
				Evidence []string `json:"evidence"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			if len(body.Evidence) == 0 {
				w.WriteHeader(http.StatusUnprocessableEntity)
				w.Write([]byte(`{"error":{"code":"evidence_required","message":"evidence required to complete this task"}}`))
				return
			}
			json.NewEncoder(w).Encode(Transition{Instance: Instance{ID: "i1", Status: "DONE"}, Entry: PointsEntry{Amount: 10}})
		case "/v0/points/ranking":
			json.NewEncoder(w).Encode(map[string]any{"items": []Standing{{OwnerID: "ana", Total: 5}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.APIKey = "ob_test"
	ctx := context.Background()

	applied, err := c.ApplyMonth(ctx, "2024-02")
	if err != nil || applied.Created != 21 {
		t.Fatalf("apply: %+v %v", applied, err)
	}
	page, err := c.ListInstances(ctx, InstanceQuery{Month: "2024-02", Limit: 50})
	if err != nil || len(page.Items) != 1 || page.NextCursor != "c1" {
		t.Fatalf("list: %+v %v", page, err)
	}
	if seen[1] != "GET /v0/instances?limit=50&month=2024-02" {
		t.Fatalf("unexpected query: %s", seen[1])
	}

	_, err = c.Complete(ctx, "i1", nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "evidence_required" {
		t.Fatalf("expected evidence_required api error, got %v", err)
	}
	done, err := c.Complete(ctx, "i1", []string{"photo.jpg"})
	if err != nil || done.Instance.Status != "DONE" || done.Entry.Amount != 10 {
		t.Fatalf("complete: %+v %v", done, err)
	}

	standings, err := c.Ranking(ctx, "2024-02")
	if err != nil || len(standings) != 1 || standings[0].OwnerID != "ana" {
		t.Fatalf("ranking: %+v %v", standings, err)
	}
}
