package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/askdb/askdb/internal/pipeline"
	"github.com/askdb/askdb/internal/sqlgate"
)

func TestChatReturnsRows(t *testing.T) {
	asker := &fakeAsker{resp: pipeline.Response{
		Question: "How many farmers are there?",
		Query:    "SELECT COUNT(*) AS total FROM farmers",
		Columns:  []string{"total"},
		Rows:     []map[string]any{{"total": 42}},
		RowCount: 1,
	}}
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipeline: asker})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newChatRequest(`{"question":"How many farmers are there?","refreshSchema":true}`, ""))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["query"] != "SELECT COUNT(*) AS total FROM farmers" || body["rowCount"] != float64(1) {
		t.Fatalf("body = %#v", body)
	}
	rows := body["rows"].([]any)
	if rows[0].(map[string]any)["total"] != float64(42) {
		t.Fatalf("rows = %#v", rows)
	}
	if !asker.last.RefreshSchema || asker.last.Question != "How many farmers are there?" {
		t.Fatalf("pipeline request = %#v", asker.last)
	}
}

func TestChatRejectsBadInput(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipeline: &fakeAsker{}})
	tests := []struct {
		body string
		code string
	}{
		{body: `{"question":"   "}`, code: "QUESTION_REQUIRED"},
		{body: `{}`, code: "QUESTION_REQUIRED"},
		{body: `{"question":`, code: "INVALID_JSON"},
		{body: `{"question":"q","extra":1}`, code: "INVALID_JSON"},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, newChatRequest(tc.body, ""))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d", tc.body, rr.Code)
		}
		if got := decodeBody(t, rr)["error_code"]; got != tc.code {
			t.Fatalf("body %s: error_code = %v, want %s", tc.body, got, tc.code)
		}
	}
}

func TestChatMapsPipelineErrors(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "out of scope", err: &pipeline.Error{Kind: pipeline.KindOutOfScope, Message: pipeline.OutOfScopeMessage}, status: http.StatusBadRequest, code: "OUT_OF_SCOPE"},
		{name: "rejected", err: &pipeline.Error{Kind: pipeline.KindValidation, Message: "Blocked unsafe SQL: disallowed table(s): secrets", SQL: "SELECT * FROM secrets", Reason: "disallowed table(s): secrets", Rule: sqlgate.RuleDisallowedTable}, status: http.StatusBadRequest, code: "SQL_REJECTED"},
		{name: "schema", err: &pipeline.Error{Kind: pipeline.KindSchemaFetch, Message: "failed to load database schema", Err: cause}, status: http.StatusInternalServerError, code: "SCHEMA_FETCH_FAILED"},
		{name: "generation", err: &pipeline.Error{Kind: pipeline.KindGeneration, Message: "failed to generate SQL", Err: cause}, status: http.StatusInternalServerError, code: "GENERATION_FAILED"},
		{name: "execution", err: &pipeline.Error{Kind: pipeline.KindExecution, Message: "failed to execute SQL", SQL: "SELECT x FROM farmers LIMIT 100", Err: cause}, status: http.StatusInternalServerError, code: "EXECUTION_FAILED"},
		{name: "unknown", err: cause, status: http.StatusInternalServerError, code: "INTERNAL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(loadConfig(t, nil), Dependencies{Pipeline: &fakeAsker{err: tc.err}})
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, newChatRequest(`{"question":"q"}`, ""))
			if rr.Code != tc.status {
				t.Fatalf("status = %d, want %d", rr.Code, tc.status)
			}
			body := decodeBody(t, rr)
			if body["error_code"] != tc.code {
				t.Fatalf("error_code = %v, want %s", body["error_code"], tc.code)
			}
			if body["trace_id"] == "" {
				t.Fatal("expected trace_id in error envelope")
			}
		})
	}
}

func TestChatOutOfScopeMessage(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipeline: &fakeAsker{err: &pipeline.Error{Kind: pipeline.KindOutOfScope, Message: pipeline.OutOfScopeMessage}}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newChatRequest(`{"question":"What is the weather today?"}`, ""))
	body := decodeBody(t, rr)
	if body["message"] != "Sorry, this question is not related to the database schema." {
		t.Fatalf("message = %v", body["message"])
	}
	if body["context"].(map[string]any)["question"] != "What is the weather today?" {
		t.Fatalf("context = %#v", body["context"])
	}
}

func TestChatRejectedCarriesGeneratedSQL(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{Pipeline: &fakeAsker{err: &pipeline.Error{
		Kind:    pipeline.KindValidation,
		Message: "Blocked unsafe SQL: disallowed table(s): secrets",
		SQL:     "SELECT * FROM secrets",
		Reason:  "disallowed table(s): secrets",
		Rule:    sqlgate.RuleDisallowedTable,
	}}})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newChatRequest(`{"question":"secrets please"}`, ""))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["generated"] != "SELECT * FROM secrets" || body["reason"] != "disallowed table(s): secrets" {
		t.Fatalf("top-level generated/reason = %v / %v", body["generated"], body["reason"])
	}
	if body["message"] != "Blocked unsafe SQL: disallowed table(s): secrets" {
		t.Fatalf("message = %v", body["message"])
	}
	extra := body["context"].(map[string]any)
	if extra["generated"] != "SELECT * FROM secrets" || extra["reason"] != "disallowed table(s): secrets" || extra["rule"] != "disallowed_table" {
		t.Fatalf("context = %#v", extra)
	}
}

func TestChatNotConfigured(t *testing.T) {
	h := NewHandler(loadConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, newChatRequest(`{"question":"q"}`, ""))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

type fakeAsker struct {
	resp pipeline.Response
	err  error
	last pipeline.Request
}

func (f *fakeAsker) Ask(_ context.Context, req pipeline.Request) (pipeline.Response, error) {
	f.last = req
	if f.err != nil {
		return pipeline.Response{}, f.err
	}
	return f.resp, nil
}
