// Package rpcapi is the transport binding for the external cluster
// controller endpoints: worker recruitment, storage initialize/remove,
// and failure-monitor watch. It builds a grpc.ServiceDesc by hand,
// registering handlers directly against a *grpc.Server, but routes
// every method through a small JSON codec instead of protoc-generated
// message types, since no .proto toolchain runs as part of this build.
package rpcapi

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const jsonCodecName = "json"

// jsonCodec implements encoding.Codec by marshaling every request and
// reply through encoding/json, registered under the name "json" so
// grpc.CallContentSubtype / the server's accepted codec list picks it
// up automatically for this service.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return jsonCodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// callContentSubtype is passed as a grpc.CallOption-producing helper on
// the client side; kept here so both client.go and service.go agree on
// the subtype string without repeating the literal.
func callContentSubtype() string { return jsonCodecName }

// unexpectedTypeError is returned by a handler when the message decoded
// off the wire isn't the struct pointer the handler expected — should
// never happen given the request/reply types are pinned per method.
func unexpectedTypeError(got interface{}) error {
	return fmt.Errorf("rpcapi: unexpected message type %T", got)
}
