package pipeline

import (
	"fmt"

	"github.com/askdb/askdb/internal/sqlgate"
)

type Kind string

const (
	KindInput       Kind = "input"
	KindOutOfScope  Kind = "out_of_scope"
	KindValidation  Kind = "validation"
	KindSchemaFetch Kind = "schema_fetch"
	KindGeneration  Kind = "generation"
	KindExecution   Kind = "execution"
)

// OutOfScopeMessage is returned to callers when the generator declines a
// question.
const OutOfScopeMessage = "Sorry, this question is not related to the database schema."

// Error is the terminal failure of one Ask call. SQL, Reason and Rule are set
// for validation failures; SQL is also set for execution failures.
type Error struct {
	Kind    Kind
	Message string
	SQL     string
	Reason  string
	Rule    sqlgate.Rule
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Details is the underlying cause message, or empty.
func (e *Error) Details() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
