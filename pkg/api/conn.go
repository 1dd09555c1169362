package api

import "context"

// Conn is a handle to one backend server. Implementations must be safe for
// concurrent use; the client shares handles between transactions.
type Conn interface {
	Alter(ctx context.Context, op *Operation) (*Payload, error)
	Query(ctx context.Context, req *Request) (*Response, error)
	Mutate(ctx context.Context, mu *Mutation) (*Assigned, error)
	CommitOrAbort(ctx context.Context, tc *TxnContext) (*TxnContext, error)
	CheckVersion(ctx context.Context, c *Check) (*Version, error)
}

// Method names a Conn operation on the wire.
type Method string

const (
	MethodAlter         Method = "Alter"
	MethodQuery         Method = "Query"
	MethodMutate        Method = "Mutate"
	MethodCommitOrAbort Method = "CommitOrAbort"
	MethodCheckVersion  Method = "CheckVersion"
)
