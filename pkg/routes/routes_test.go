package routes_test

import (
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	"github.com/JaimeStill/docket/pkg/routes"
)

func ok(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body + ":" + r.PathValue("id")))
	}
}

func TestRegisterNested(t *testing.T) {
	group := routes.Group{
		Prefix: "/workflows",
		Routes: []routes.Route{
			{Method: "GET", Pattern: "", Handler: ok("list")},
			{Method: "GET", Pattern: "/{id}", Handler: ok("find")},
		},
		Children: []routes.Group{
			{
				Prefix: "/{id}/review",
				Routes: []routes.Route{
					{Method: "POST", Pattern: "/approve", Handler: ok("approve")},
				},
			},
		},
	}

	mux := http.NewServeMux()
	routes.Register(mux, group)

	tests := []struct {
		method string
		path   string
		want   string
	}{
		{"GET", "/workflows", "list:"},
		{"GET", "/workflows/abc", "find:abc"},
		{"POST", "/workflows/abc/review/approve", "approve:abc"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != http.StatusOK {
				t.Fatalf("status: got %d, want 200", rec.Code)
			}
			if rec.Body.String() != tt.want {
				t.Errorf("body: got %q, want %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestRegisterMethodMismatch(t *testing.T) {
	mux := http.NewServeMux()
	routes.Register(mux, routes.Group{
		Prefix: "/workflows",
		Routes: []routes.Route{{Method: "POST", Pattern: "", Handler: ok("submit")}},
	})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("DELETE", "/workflows", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rec.Code)
	}
}

func TestPatterns(t *testing.T) {
	got := routes.Patterns(routes.Group{
		Prefix: "/a",
		Routes: []routes.Route{{Method: "GET", Pattern: "/b"}},
		Children: []routes.Group{
			{Prefix: "/c", Routes: []routes.Route{{Method: "POST", Pattern: "/d"}}},
		},
	})

	want := []string{"GET /a/b", "POST /a/c/d"}
	if !slices.Equal(got, want) {
		t.Errorf("Patterns = %v, want %v", got, want)
	}
}
