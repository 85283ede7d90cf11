package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/database"
	"github.com/askdb/askdb/internal/nl2sql"
	"github.com/askdb/askdb/internal/observability"
	"github.com/askdb/askdb/internal/schema"
	"github.com/askdb/askdb/internal/sqlgate"
)

type SchemaProvider interface {
	Get(ctx context.Context, force bool) (*schema.Entry, error)
}

type Executor interface {
	Execute(ctx context.Context, sqlText string) (database.Result, error)
}

type Dependencies struct {
	Schema    SchemaProvider
	Generator nl2sql.Generator
	Gate      *sqlgate.Gate
	Executor  Executor
	// Dialect names the SQL flavour in the generator prompt.
	Dialect string
	Logger  *slog.Logger
	// LogSQL includes statement text in logs; otherwise only a fingerprint.
	LogSQL bool
}

type Request struct {
	Question      string `json:"question"`
	RefreshSchema bool   `json:"refreshSchema"`
}

type Response struct {
	Question string           `json:"question"`
	Query    string           `json:"query"`
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"rowCount"`
}

// Pipeline turns a question into a gated, executed query. It holds no state
// of its own beyond its collaborators.
type Pipeline struct {
	schema    SchemaProvider
	generator nl2sql.Generator
	gate      *sqlgate.Gate
	executor  Executor
	dialect   string
	logger    *slog.Logger
	logSQL    bool
}

func New(deps Dependencies) (*Pipeline, error) {
	if deps.Schema == nil {
		return nil, fmt.Errorf("schema provider is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	gate := deps.Gate
	if gate == nil {
		gate = sqlgate.New(sqlgate.Options{})
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		schema:    deps.Schema,
		generator: deps.Generator,
		gate:      gate,
		executor:  deps.Executor,
		dialect:   deps.Dialect,
		logger:    logger,
		logSQL:    deps.LogSQL,
	}, nil
}

// Ask answers one question. Failures are returned as *Error.
func (p *Pipeline) Ask(ctx context.Context, req Request) (Response, error) {
	start := time.Now()
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Response{}, p.fail(ctx, start, &Error{Kind: KindInput, Message: "question is required"})
	}

	entry, err := p.schema.Get(ctx, req.RefreshSchema)
	if err != nil {
		return Response{}, p.fail(ctx, start, &Error{Kind: KindSchemaFetch, Message: "failed to load database schema", Err: err})
	}

	generationStart := time.Now()
	generated, err := p.generator.Generate(ctx, nl2sql.Request{
		Question: question,
		Dialect:  p.dialect,
		Tables:   nl2sql.TablesFromEntry(entry),
	})
	observability.ObserveGeneration(time.Since(generationStart))
	if err != nil {
		return Response{}, p.fail(ctx, start, &Error{Kind: KindGeneration, Message: "failed to generate SQL", Err: err})
	}
	if strings.TrimSpace(generated.Text) == "" {
		return Response{}, p.fail(ctx, start, &Error{Kind: KindGeneration, Message: "no response from text generator"})
	}
	if nl2sql.IsOutOfScope(generated.Text) {
		return Response{}, p.fail(ctx, start, &Error{Kind: KindOutOfScope, Message: OutOfScopeMessage})
	}

	sqlText := sqlgate.Sanitize(generated.Text)
	verdict := p.gate.Validate(sqlText, sqlgate.NewTableSet(entry.AllowedTables()...))
	if !verdict.OK {
		observability.IncrementGateRejection(string(verdict.Rule))
		return Response{}, p.fail(ctx, start, &Error{
			Kind:    KindValidation,
			Message: "Blocked unsafe SQL: " + verdict.Reason,
			SQL:     sqlText,
			Reason:  verdict.Reason,
			Rule:    verdict.Rule,
		})
	}

	limited := p.gate.EnforceLimit(sqlText)
	executionStart := time.Now()
	result, err := p.executor.Execute(ctx, limited)
	observability.ObserveExecution(time.Since(executionStart))
	if err != nil {
		return Response{}, p.fail(ctx, start, &Error{Kind: KindExecution, Message: "failed to execute SQL", SQL: limited, Err: err})
	}

	rows := result.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	columns := result.Columns
	if columns == nil {
		columns = []string{}
	}
	observability.ObservePipelineOutcome("answered")
	attrs := []slog.Attr{
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("outcome", "answered"),
		slog.Int("row_count", len(rows)),
		slog.Duration("duration", time.Since(start)),
		slog.String("provider", generated.Provider),
	}
	attrs = append(attrs, observability.SQLAttrs(limited, p.logSQL)...)
	p.logger.LogAttrs(ctx, slog.LevelInfo, "question answered", attrs...)

	return Response{
		Question: req.Question,
		Query:    limited,
		Columns:  columns,
		Rows:     rows,
		RowCount: len(rows),
	}, nil
}

func (p *Pipeline) fail(ctx context.Context, start time.Time, pipelineErr *Error) error {
	outcome := string(pipelineErr.Kind)
	observability.ObservePipelineOutcome(outcome)

	level := slog.LevelInfo
	switch pipelineErr.Kind {
	case KindSchemaFetch, KindGeneration, KindExecution:
		level = slog.LevelError
	case KindValidation:
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("outcome", outcome),
		slog.Duration("duration", time.Since(start)),
	}
	if pipelineErr.Rule != "" {
		attrs = append(attrs, slog.String("rule", string(pipelineErr.Rule)), slog.String("reason", pipelineErr.Reason))
	}
	if pipelineErr.SQL != "" {
		attrs = append(attrs, observability.SQLAttrs(pipelineErr.SQL, p.logSQL)...)
	}
	if pipelineErr.Err != nil {
		attrs = append(attrs, slog.Any("error", pipelineErr.Err))
	}
	p.logger.LogAttrs(ctx, level, "question failed", attrs...)
	return pipelineErr
}
