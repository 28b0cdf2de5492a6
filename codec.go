package mls

import (
	"fmt"

	syntax "github.com/cisco/go-tls-syntax"
)

// marshal and unmarshal are the package-wide TLS-presentation codec
// entry points: every wire struct in this package carries `tls:"..."`
// struct tags and goes through these two functions (or a type's own
// MarshalTLS/UnmarshalTLS for tagged variants) rather than
// encoding/json or encoding/gob.
func marshal(v interface{}) ([]byte, error) {
	out, err := syntax.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInputDecode, err)
	}
	return out, nil
}

func unmarshal(data []byte, v interface{}) (int, error) {
	n, err := syntax.Unmarshal(data, v)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInputDecode, err)
	}
	return n, nil
}

// unmarshalExact requires the full buffer to be consumed, for
// top-level message types (Welcome, GroupInfo, MlsPlaintext,
// MlsCiphertext) that are never embedded inside a longer vector.
func unmarshalExact(data []byte, v interface{}) error {
	n, err := unmarshal(data, v)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("%w: %d trailing bytes", ErrInputDecode, len(data)-n)
	}
	return nil
}

// writeOpaqueVec1 and readOpaqueVec1 give call sites that build a
// variant payload by hand (custom MarshalTLS/UnmarshalTLS methods) the
// same one-byte-length-prefixed opaque vector shape the `tls:"head=1"`
// struct tag produces automatically on a struct field.
func writeOpaqueVec1(data []byte) []byte {
	return append([]byte{byte(len(data))}, data...)
}

func readOpaqueVec1(data []byte) ([]byte, int, error) {
	if len(data) < 1 {
		return nil, 0, fmt.Errorf("%w: short opaque vector header", ErrInputDecode)
	}
	n := int(data[0])
	if len(data) < 1+n {
		return nil, 0, fmt.Errorf("%w: truncated opaque vector", ErrInputDecode)
	}
	return data[1 : 1+n], 1 + n, nil
}
