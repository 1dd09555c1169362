package logging

import (
	"time"
)

// Common field constructors
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

func Uint64(key string, value uint64) Field {
	return Field{Key: key, Value: value}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Client and protocol field helpers

func Component(name string) Field {
	return String("component", name)
}

// Op names the client operation (alter, query, mutate, commit, discard).
func Op(op string) Field {
	return String("op", op)
}

func Method(m string) Field {
	return String("method", m)
}

func StartTs(ts uint64) Field {
	return Uint64("start_ts", ts)
}

func CommitTs(ts uint64) Field {
	return Uint64("commit_ts", ts)
}

func Partition(id uint32) Field {
	return Field{Key: "partition", Value: id}
}

func Endpoint(addr string) Field {
	return String("endpoint", addr)
}

func RequestID(id string) Field {
	return String("request_id", id)
}

func Attempt(n int) Field {
	return Int("attempt", n)
}

func Latency(d time.Duration) Field {
	return Duration("latency", d)
}

func Count(n int) Field {
	return Int("count", n)
}
