package api

import "time"

// Operation alters the schema. It is not transactional.
type Operation struct {
	Schema   string `json:"schema,omitempty"`
	DropAttr string `json:"drop_attr,omitempty"`
	DropAll  bool   `json:"drop_all,omitempty"`
}

// Payload is the reply to an Alter.
type Payload struct {
	Data []byte `json:"data,omitempty"`
}

// LinRead is a read-progress vector: partition (group) id to the highest
// applied index the caller has observed for that partition.
type LinRead struct {
	Ids map[uint32]uint64 `json:"ids,omitempty"`
}

// NewLinRead returns an empty vector ready for writes.
func NewLinRead() *LinRead {
	return &LinRead{Ids: make(map[uint32]uint64)}
}

// TxnContext is exchanged with every transactional request and reply.
type TxnContext struct {
	StartTs  uint64   `json:"start_ts,omitempty"`
	CommitTs uint64   `json:"commit_ts,omitempty"`
	Aborted  bool     `json:"aborted,omitempty"`
	Keys     []string `json:"keys,omitempty"`
	LinRead  *LinRead `json:"lin_read,omitempty"`
}

// Request is a query sent within a transaction.
type Request struct {
	Query    string            `json:"query"`
	Vars     map[string]string `json:"vars,omitempty"`
	StartTs  uint64            `json:"start_ts,omitempty"`
	LinRead  *LinRead          `json:"lin_read,omitempty"`
	ReadOnly bool              `json:"read_only,omitempty"`
}

// Latency breaks down server side processing time.
type Latency struct {
	ParsingNs    uint64 `json:"parsing_ns,omitempty"`
	ProcessingNs uint64 `json:"processing_ns,omitempty"`
	EncodingNs   uint64 `json:"encoding_ns,omitempty"`
}

// Total returns the summed server side latency.
func (l *Latency) Total() time.Duration {
	if l == nil {
		return 0
	}
	return time.Duration(l.ParsingNs + l.ProcessingNs + l.EncodingNs)
}

// Response carries the JSON encoded query result.
type Response struct {
	Json    []byte      `json:"json,omitempty"`
	Txn     *TxnContext `json:"txn,omitempty"`
	Latency *Latency    `json:"latency,omitempty"`
}

// Mutation adds or removes data inside a transaction.
type Mutation struct {
	SetJson             []byte `json:"set_json,omitempty"`
	DeleteJson          []byte `json:"delete_json,omitempty"`
	StartTs             uint64 `json:"start_ts,omitempty"`
	CommitNow           bool   `json:"commit_now,omitempty"`
	IgnoreIndexConflict bool   `json:"ignore_index_conflict,omitempty"`
}

// Assigned reports the uids allocated for blank nodes.
type Assigned struct {
	Uids    map[string]string `json:"uids,omitempty"`
	Context *TxnContext       `json:"context,omitempty"`
	Latency *Latency          `json:"latency,omitempty"`
}

// Check is the empty request for CheckVersion.
type Check struct{}

// Version identifies the server build.
type Version struct {
	Tag string `json:"tag"`
}
