// Package transport carries node RPCs as CBOR frames over TCP. Every
// call opens a fresh connection, exchanges exactly one request and one
// response, and closes; there is no connection reuse or pipelining.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Method names the closed set of operations a node serves.
type Method string

const (
	MethodSuccessor              Method = "successor"
	MethodFindSuccessor          Method = "find_successor"
	MethodFindPredecessor        Method = "find_predecessor"
	MethodClosestPrecedingFinger Method = "closest_preceding_finger"
	MethodUpdateFingerTable      Method = "update_finger_table"
	MethodUpdateYourPredecessor  Method = "update_your_predecessor"
	MethodPopulate               Method = "populate"
	MethodPutKey                 Method = "put_key"
	MethodQuery                  Method = "query"
	MethodGetKey                 Method = "get_key"
)

// Response codes distinguishing caller mistakes from server failures.
const (
	codeBadRequest = "bad_request"
	codeError      = "error"
)

// maxFrameSize bounds a single request or response frame.
const maxFrameSize = 4 << 20 // 4MB

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, _ := cbor.CanonicalEncOptions().EncMode()
	dm, _ := (cbor.DecOptions{}).DecMode()
	encMode, decMode = em, dm
}

// request is the serialized (method, arg1, arg2) tuple. Arguments are
// raw CBOR so each method decodes exactly the types it requires.
type request struct {
	Method Method          `cbor:"method"`
	Arg1   cbor.RawMessage `cbor:"arg1,omitempty"`
	Arg2   cbor.RawMessage `cbor:"arg2,omitempty"`
}

// response is the single value written back for a request.
type response struct {
	Code   string          `cbor:"code,omitempty"`
	Err    string          `cbor:"err,omitempty"`
	Result cbor.RawMessage `cbor:"result,omitempty"`
}

// keyResult carries get_key and query responses. Found is false for
// the defined "not stored" outcome, which is not an error.
type keyResult struct {
	Row   []string `cbor:"row,omitempty"`
	Found bool     `cbor:"found"`
}

// writeFrame writes one length-prefixed CBOR value.
func writeFrame(w io.Writer, v any) error {
	payload, err := encMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", len(payload))
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// readFrame reads one length-prefixed CBOR value into v.
func readFrame(r io.Reader, v any) error {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return err
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > maxFrameSize {
		return fmt.Errorf("frame too large: %d bytes", size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	if err := decMode.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// encodeArg marshals one request argument.
func encodeArg(v any) (cbor.RawMessage, error) {
	raw, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode argument: %w", err)
	}
	return raw, nil
}

// decodeArg unmarshals a required argument; a missing argument is an
// error, never a panic.
func decodeArg[T any](raw cbor.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("missing argument")
	}
	if err := decMode.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode argument: %w", err)
	}
	return v, nil
}
