package nl2sql

import (
	"strings"
	"testing"
	"time"

	"github.com/askdb/askdb/internal/schema"
)

func TestSchemaTextListsColumnsAndSamples(t *testing.T) {
	text := SchemaText([]TableContext{
		{
			TableName: "farmers",
			Columns:   []string{"id", "name", "joined"},
			SampleRows: []map[string]any{
				{"name": "Ada", "id": int64(1), "joined": time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
				{"id": int64(2), "name": nil, "joined": []byte("2024-06-01")},
			},
		},
		{TableName: "plots", Columns: []string{"id"}},
	})
	want := "TABLE farmers (id, name, joined)\n" +
		"SAMPLE_ROWS farmers:\n" +
		"  1. id=1, name=Ada, joined=2024-05-01T00:00:00Z\n" +
		"  2. id=2, name=null, joined=2024-06-01\n" +
		"\n" +
		"TABLE plots (id)\n" +
		"\n"
	if text != want {
		t.Fatalf("SchemaText() = %q, want %q", text, want)
	}
}

func TestBuildPromptCarriesRulesAndQuestion(t *testing.T) {
	prompt := BuildPrompt(Request{
		Question: "  How many farmers are there?  ",
		Dialect:  "postgres",
		Tables:   []TableContext{{TableName: "farmers", Columns: []string{"id"}}},
	})
	for _, want := range []string{
		"You are a strict PostgreSQL SQL assistant.",
		"TABLE farmers (id)",
		"reply exactly: OUT_OF_SCOPE",
		"include LIMIT 100",
		"User question:\nHow many farmers are there?",
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestDialectLabelDefaultsToMySQL(t *testing.T) {
	if DialectLabel("") != "MySQL" || DialectLabel("lake") != "DuckDB" {
		t.Fatalf("unexpected labels %q %q", DialectLabel(""), DialectLabel("lake"))
	}
}

func TestTablesFromEntryFollowsSnapshotOrder(t *testing.T) {
	entry := &schema.Entry{
		Snapshot: schema.Snapshot{
			Tables:  []string{"plots", "farmers"},
			Columns: map[string][]string{"plots": {"id"}, "farmers": {"id", "name"}},
		},
		Samples: schema.Samples{"farmers": {{"id": int64(1), "name": "Ada"}}},
	}
	tables := TablesFromEntry(entry)
	if len(tables) != 2 || tables[0].TableName != "plots" || tables[1].TableName != "farmers" {
		t.Fatalf("tables = %#v", tables)
	}
	if len(tables[1].SampleRows) != 1 || tables[1].SampleRows[0]["name"] != "Ada" {
		t.Fatalf("samples = %#v", tables[1].SampleRows)
	}
	if TablesFromEntry(nil) != nil {
		t.Fatal("nil entry should render no tables")
	}
}

func TestIsOutOfScopeIsCaseSensitive(t *testing.T) {
	if !IsOutOfScope("  OUT_OF_SCOPE\n") {
		t.Fatal("expected sentinel match")
	}
	if IsOutOfScope("out_of_scope") || IsOutOfScope("OUT_OF_SCOPE.") {
		t.Fatal("sentinel match must be exact")
	}
}
