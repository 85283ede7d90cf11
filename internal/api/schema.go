package api

import (
	"net/http"
)

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Schema == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "SCHEMA_NOT_CONFIGURED", "schema cache is not configured", false, nil)
		return
	}
	entry, err := deps.Schema.Get(r.Context(), false)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", "failed to load database schema", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"schema":    entry.Snapshot.Columns,
		"tables":    entry.Snapshot.TableNames(),
		"samples":   entry.Samples,
		"fetchedAt": entry.FetchedAt,
	})
}
