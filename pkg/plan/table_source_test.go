package plan

import "testing"

func TestBuildScanSQLEmptyProjection(t *testing.T) {
	got := buildScanSQL("orders", nil, nil, 0)
	want := "SELECT 1 AS _row FROM orders"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildScanSQLWithProjectionFiltersLimit(t *testing.T) {
	got := buildScanSQL("orders", []string{"id", "total"}, []Filter{{SQL: "total > 100"}, {SQL: "region = 'us'"}}, 50)
	want := "SELECT id, total FROM orders WHERE total > 100 AND region = 'us' LIMIT 50"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
