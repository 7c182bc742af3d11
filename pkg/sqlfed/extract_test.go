package sqlfed

import "testing"

func TestExtractTableNameSimple(t *testing.T) {
	name, err := ExtractTableName("SELECT * FROM orders")
	if err != nil || name != "orders" {
		t.Fatalf("got %q, %v", name, err)
	}
}

func TestExtractTableNameWithSchema(t *testing.T) {
	name, err := ExtractTableName("SELECT * FROM public.orders WHERE id > 5")
	if err != nil || name != "orders" {
		t.Fatalf("got %q, %v", name, err)
	}
}

func TestExtractTableNameWithAlias(t *testing.T) {
	name, err := ExtractTableName("SELECT o.id FROM orders o")
	if err != nil || name != "orders" {
		t.Fatalf("got %q, %v", name, err)
	}
}

func TestExtractTableNameWithJoin(t *testing.T) {
	name, err := ExtractTableName("SELECT * FROM orders o JOIN users u ON o.user_id = u.id")
	if err != nil || name != "orders" {
		t.Fatalf("got %q, %v", name, err)
	}
}

func TestExtractTableNameCaseInsensitiveFrom(t *testing.T) {
	name, err := ExtractTableName("select count(*) from orders")
	if err != nil || name != "orders" {
		t.Fatalf("got %q, %v", name, err)
	}
}

func TestExtractTableNameNoFromClause(t *testing.T) {
	_, err := ExtractTableName("SELECT 1 + 2")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestExtractTableNameNonSelect(t *testing.T) {
	_, err := ExtractTableName("INSERT INTO orders VALUES (1)")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestExtractTableNameSubquery(t *testing.T) {
	name, err := ExtractTableName("SELECT * FROM (SELECT id FROM orders) AS sub")
	if err != nil || name != "orders" {
		t.Fatalf("got %q, %v", name, err)
	}
}

func TestExtractTableNameWithWhereAndGroupBy(t *testing.T) {
	name, err := ExtractTableName("SELECT region, SUM(price) FROM orders WHERE active = true GROUP BY region")
	if err != nil || name != "orders" {
		t.Fatalf("got %q, %v", name, err)
	}
}
