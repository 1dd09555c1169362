package transport

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/dd0wney/cluso-graphclient/pkg/api"
	"github.com/dd0wney/cluso-graphclient/pkg/pools"
)

const flagSnappy byte = 1 << 0

// Frame is the envelope for one call or reply. Replies echo the request ID.
type Frame struct {
	ID       string            `json:"id"`
	Method   api.Method        `json:"method"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Deadline int64             `json:"deadline_unix_nano,omitempty"`
	Body     json.RawMessage   `json:"body,omitempty"`
	Err      *api.Error        `json:"error,omitempty"`
}

// EncodeFrame serializes f behind a one byte header. With compress set the
// JSON payload is snappy-compressed and the header flag records it. The
// result comes from a buffer pool; hand it to ReleaseFrame once sent.
func EncodeFrame(f *Frame, compress bool) ([]byte, error) {
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if !compress {
		out := pools.GetBytes(1 + len(payload))
		out = append(out, 0)
		return append(out, payload...), nil
	}
	out := pools.GetBytesSized(1 + snappy.MaxEncodedLen(len(payload)))
	out[0] = flagSnappy
	enc := snappy.Encode(out[1:], payload)
	return out[:1+len(enc)], nil
}

// ReleaseFrame returns an encoded frame's buffer to the pool.
func ReleaseFrame(data []byte) {
	pools.PutBytes(data)
}

// DecodeFrame reverses EncodeFrame. Either peer may compress independently.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < 1 {
		return nil, ErrFrameTooShort
	}
	payload := data[1:]
	if data[0]&flagSnappy != 0 {
		n, err := snappy.DecodedLen(payload)
		if err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
		buf := pools.GetBytesSized(n)
		defer pools.PutBytes(buf)
		if payload, err = snappy.Decode(buf, payload); err != nil {
			return nil, fmt.Errorf("decompress frame: %w", err)
		}
	}
	var f Frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}
