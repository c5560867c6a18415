package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type Kind string

const (
	KindInput                   Kind = "input"
	KindSourceUnavailable       Kind = "source_unavailable"
	KindStatisticalPrecondition Kind = "statistical_precondition"
	KindInternalComputation     Kind = "internal_computation"
)

// Codes narrow a Kind to the concrete condition a caller may branch on.
const (
	CodeEmptyGeneList           = "empty_gene_list"
	CodeInvalidIdentifierFormat = "invalid_identifier_format"
	CodeUnsupportedSpecies      = "unsupported_species"
	CodeInvalidParameter        = "invalid_parameter"
	CodeMissingGeneSet          = "missing_gene_set"
	CodeDownloadFailed          = "download_failed"
	CodeAllSourcesFailed        = "all_sources_failed"
	CodeInsufficientGenes       = "insufficient_genes"
	CodeNoTestableSets          = "no_testable_sets"
)

// Error is the structured failure returned across component boundaries.
// Context carries the parameters that reproduce the failure.
type Error struct {
	Kind    Kind
	Code    string
	Op      string
	Msg     string
	Context map[string]any
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, op, msg string) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Msg: msg}
}

func Wrap(kind Kind, code, op string, err error, msg string) *Error {
	return &Error{Kind: kind, Code: code, Op: op, Msg: msg, Err: err}
}

// With attaches a reproduction parameter and returns the receiver.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func Input(code, op, msg string) *Error {
	return New(KindInput, code, op, msg)
}

func SourceUnavailable(code, op, msg string) *Error {
	return New(KindSourceUnavailable, code, op, msg)
}

// Precondition reports a gene count below the statistical minimum.
func Precondition(op string, minimum, actual int) *Error {
	return New(KindStatisticalPrecondition, CodeInsufficientGenes, op,
		fmt.Sprintf("at least %d genes required, got %d", minimum, actual)).
		With("minimum", minimum).
		With("actual", actual)
}

func Internal(op, msg string) *Error {
	return New(KindInternalComputation, "", op, msg)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
