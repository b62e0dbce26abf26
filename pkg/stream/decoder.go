package stream

import (
	"bytes"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// DefaultDeltaPath is where chat completion chunks carry their text delta.
const DefaultDeltaPath = "choices.0.delta.content"

const (
	dataPrefix   = "data:"
	doneSentinel = "[DONE]"
)

// event stream lines that carry no data for us
var ignoredPrefixes = [][]byte{
	[]byte(":"),
	[]byte("event:"),
	[]byte("id:"),
	[]byte("retry:"),
}

type RecordKind int

const (
	// RecordDelta carries a text token.
	RecordDelta RecordKind = iota
	// RecordEmpty is a well-formed record without a token, like a role-only first chunk
	// or an event stream comment.
	RecordEmpty
	// RecordDone is the end-of-stream sentinel.
	RecordDone
	// RecordSkip is a record that could not be decoded.
	RecordSkip
)

func (k RecordKind) String() string {
	switch k {
	case RecordDelta:
		return "delta"
	case RecordEmpty:
		return "empty"
	case RecordDone:
		return "done"
	case RecordSkip:
		return "skip"
	}
	return "unknown"
}

type Record struct {
	Kind  RecordKind
	Delta string
	// Err is set for RecordSkip and wraps ErrDecodeSkip.
	Err error
}

// Decoder splits a chunked byte stream into newline-terminated records.
// Partial lines are buffered until the next Feed.
type Decoder struct {
	path string
	buf  []byte
}

func NewDecoder(deltaPath string) *Decoder {
	if deltaPath == "" {
		deltaPath = DefaultDeltaPath
	}
	return &Decoder{path: deltaPath}
}

// Feed consumes b and returns the records of every line completed by it.
func (d *Decoder) Feed(b []byte) []Record {
	d.buf = append(d.buf, b...)

	var ret []Record
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := d.buf[:idx]
		if r, ok := d.decodeLine(line); ok {
			ret = append(ret, r)
		}
		d.buf = d.buf[idx+1:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return ret
}

// Flush decodes a trailing line that never got its newline.
func (d *Decoder) Flush() []Record {
	line := d.buf
	d.buf = nil
	if r, ok := d.decodeLine(line); ok {
		return []Record{r}
	}
	return nil
}

func (d *Decoder) decodeLine(line []byte) (Record, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(bytes.TrimSpace(line)) == 0 {
		return Record{}, false
	}
	for _, prefix := range ignoredPrefixes {
		if bytes.HasPrefix(line, prefix) {
			return Record{Kind: RecordEmpty}, true
		}
	}
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		return Record{
			Kind: RecordSkip,
			Err:  errors.Wrapf(ErrDecodeSkip, "no %q prefix: %.64q", dataPrefix, line),
		}, true
	}

	payload := line[len(dataPrefix):]
	payload = bytes.TrimPrefix(payload, []byte(" "))
	return d.DecodePayload(payload), true
}

// DecodePayload decodes the part of a record after the data prefix.
func (d *Decoder) DecodePayload(payload []byte) Record {
	if string(bytes.TrimSpace(payload)) == doneSentinel {
		return Record{Kind: RecordDone}
	}
	if !gjson.ValidBytes(payload) {
		return Record{
			Kind: RecordSkip,
			Err:  errors.Wrapf(ErrDecodeSkip, "invalid json: %.64q", payload),
		}
	}

	value := gjson.GetBytes(payload, d.path)
	switch value.Type {
	case gjson.Null:
		return Record{Kind: RecordEmpty}
	case gjson.String:
		if value.Str == "" {
			return Record{Kind: RecordEmpty}
		}
		return Record{Kind: RecordDelta, Delta: value.Str}
	default:
		return Record{
			Kind: RecordSkip,
			Err:  errors.Wrapf(ErrDecodeSkip, "%s is %s, not a string", d.path, value.Type),
		}
	}
}
