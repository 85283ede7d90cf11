package storage

import "testing"

func TestTableFromKey(t *testing.T) {
	tests := []struct {
		key   string
		table string
		ok    bool
	}{
		{key: "farmers/part-0001.parquet", table: "farmers", ok: true},
		{key: "/farmers/year=2025/part.PARQUET", table: "farmers", ok: true},
		{key: "crop_yields/a/b/c.parquet", table: "crop_yields", ok: true},
		{key: "farmers.parquet", ok: false},
		{key: "farmers/readme.md", ok: false},
		{key: "../farmers/x.parquet", table: "farmers", ok: true},
		{key: "bad-name/x.parquet", ok: false},
		{key: "1farmers/x.parquet", ok: false},
	}
	for _, tc := range tests {
		table, ok := TableFromKey(tc.key)
		if ok != tc.ok || table != tc.table {
			t.Fatalf("TableFromKey(%q) = %q/%v, want %q/%v", tc.key, table, ok, tc.table, tc.ok)
		}
	}
}

func TestValidateTableName(t *testing.T) {
	if err := ValidateTableName("farmers"); err != nil {
		t.Fatalf("ValidateTableName() error = %v", err)
	}
	if err := ValidateTableName(`x"; DROP`); err == nil {
		t.Fatal("expected invalid table name error")
	}
}
