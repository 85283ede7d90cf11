package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/askdb/askdb/internal/pipeline"
)

const maxChatBodyBytes = 1 << 20

type chatRequest struct {
	Question      string `json:"question"`
	RefreshSchema bool   `json:"refreshSchema"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}

	var req chatRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", false, nil)
		return
	}

	resp, err := deps.Pipeline.Ask(r.Context(), pipeline.Request{
		Question:      req.Question,
		RefreshSchema: req.RefreshSchema,
	})
	if err != nil {
		writeAskError(w, r, req.Question, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeAskError(w http.ResponseWriter, r *http.Request, question string, err error) {
	ctx := r.Context()
	var pipelineErr *pipeline.Error
	if !errors.As(err, &pipelineErr) {
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal server error", false, map[string]any{"details": err.Error()})
		return
	}

	switch pipelineErr.Kind {
	case pipeline.KindInput:
		writeError(ctx, w, http.StatusBadRequest, "QUESTION_REQUIRED", pipelineErr.Message, false, nil)
	case pipeline.KindOutOfScope:
		writeError(ctx, w, http.StatusBadRequest, "OUT_OF_SCOPE", pipelineErr.Message, false, map[string]any{
			"question": question,
		})
	case pipeline.KindValidation:
		body := errorBody(ctx, "SQL_REJECTED", pipelineErr.Message, false, map[string]any{
			"question":  question,
			"generated": pipelineErr.SQL,
			"reason":    pipelineErr.Reason,
			"rule":      string(pipelineErr.Rule),
		})
		// Chat clients read the rejected statement from the top level.
		body["generated"] = pipelineErr.SQL
		body["reason"] = pipelineErr.Reason
		writeJSON(w, http.StatusBadRequest, body)
	case pipeline.KindSchemaFetch:
		writeError(ctx, w, http.StatusInternalServerError, "SCHEMA_FETCH_FAILED", pipelineErr.Message, true, map[string]any{
			"details": pipelineErr.Details(),
		})
	case pipeline.KindGeneration:
		writeError(ctx, w, http.StatusInternalServerError, "GENERATION_FAILED", pipelineErr.Message, true, map[string]any{
			"details": pipelineErr.Details(),
		})
	case pipeline.KindExecution:
		writeError(ctx, w, http.StatusInternalServerError, "EXECUTION_FAILED", pipelineErr.Message, false, map[string]any{
			"query":   pipelineErr.SQL,
			"details": pipelineErr.Details(),
		})
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal server error", false, map[string]any{"details": err.Error()})
	}
}
