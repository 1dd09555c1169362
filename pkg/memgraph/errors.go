package memgraph

import "errors"

// Schema errors
var (
	ErrSchemaSyntax   = errors.New("schema syntax error")
	ErrUnknownType    = errors.New("unknown schema type")
	ErrTypeChange     = errors.New("cannot change predicate between uid and scalar while it holds data")
	ErrUnknownIndexer = errors.New("unknown tokenizer")
)

// Mutation errors
var (
	ErrBadMutation   = errors.New("mutation must be a JSON object or array of objects")
	ErrNeedUID       = errors.New("delete needs a concrete uid")
	ErrBadUID        = errors.New("invalid uid")
	ErrScalarOnEdge  = errors.New("uid predicate needs object values")
	ErrObjectOnValue = errors.New("scalar predicate cannot hold objects")
	ErrListValue     = errors.New("lists of scalar values are not supported")
	ErrConversion    = errors.New("value does not match predicate type")
)

// Query errors
var (
	ErrQuerySyntax     = errors.New("query syntax error")
	ErrUnknownFunction = errors.New("unknown function")
	ErrNotIndexed      = errors.New("predicate is not indexed")
	ErrUndefinedVar    = errors.New("variable is not defined")
	ErrNoSelection     = errors.New("scalar predicate cannot have a selection")
	ErrNoReverse       = errors.New("predicate has no @reverse index")
)

// Transaction errors
var (
	ErrConflict     = errors.New("transaction has been aborted: conflict")
	ErrTxnAborted   = errors.New("transaction has been aborted")
	ErrTxnCommitted = errors.New("transaction has already been committed")
	ErrMissingStart = errors.New("start ts is required")
	ErrUnknownGroup = errors.New("read vector names an unknown group")
)
