package aggregation

import (
	"strings"
	"testing"
)

func TestDecomposeNoAggregates(t *testing.T) {
	d, err := Decompose("SELECT x FROM t")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.HasAggregations {
		t.Fatalf("expected has_aggregations=false")
	}
	if d.NodeSQL != "SELECT x FROM t" {
		t.Fatalf("node sql changed: %q", d.NodeSQL)
	}
	if d.MergeSQL != "SELECT * FROM _merged" {
		t.Fatalf("unexpected merge sql: %q", d.MergeSQL)
	}
}

func TestDecomposeAvg(t *testing.T) {
	// Mirrors spec.md scenario S6.
	d, err := Decompose("SELECT AVG(price) FROM orders")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.HasAggregations {
		t.Fatalf("expected has_aggregations=true")
	}
	if !strings.Contains(d.NodeSQL, "SUM(price)") || !strings.Contains(d.NodeSQL, "COUNT(price)") {
		t.Fatalf("node sql missing sum/count rewrite: %q", d.NodeSQL)
	}
	if !strings.Contains(d.MergeSQL, "SUM(_avg_sum_0)/SUM(_avg_cnt_0)") {
		t.Fatalf("merge sql missing avg recombination: %q", d.MergeSQL)
	}
}

func TestDecomposeGroupByHavingRejected(t *testing.T) {
	_, err := Decompose("SELECT region, SUM(x) FROM t GROUP BY region HAVING SUM(x) > 10")
	if err == nil {
		t.Fatalf("expected decomposition failure for GROUP BY + HAVING")
	}
}

func TestDecomposeCountDistinctFallback(t *testing.T) {
	d, err := Decompose("SELECT COUNT(DISTINCT user_id) FROM events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(d.NodeSQL, "user_id") || strings.Contains(d.NodeSQL, "COUNT") {
		t.Fatalf("expected node sql to ship raw rows: %q", d.NodeSQL)
	}
	if !strings.Contains(d.MergeSQL, "COUNT(DISTINCT user_id)") {
		t.Fatalf("expected merge sql to count distinct: %q", d.MergeSQL)
	}
}
