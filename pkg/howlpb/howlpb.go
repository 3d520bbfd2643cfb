// Package howlpb holds the wire contract for the howl version and discovery
// services. Every message is a protobuf well-known type: the single-field
// messages of the howl protos (version, id) are wire-identical to
// google.protobuf.StringValue, and the registration descriptor travels as a
// google.protobuf.Struct.
package howlpb

import (
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type (
	// VersionRequest carries the caller's protocol version.
	VersionRequest = wrapperspb.StringValue
	// VersionResponse echoes the responder's protocol version.
	VersionResponse = wrapperspb.StringValue
	// RegisterRequest describes the registering service.
	RegisterRequest = structpb.Struct
	// RegisterResponse carries the identity assigned by the registry.
	RegisterResponse = wrapperspb.StringValue
	// HeartbeatPayload identifies the service sending a heartbeat.
	HeartbeatPayload = wrapperspb.StringValue
	// HeartbeatAck is the empty heartbeat acknowledgement.
	HeartbeatAck = emptypb.Empty
)

func NewVersionRequest(version string) *VersionRequest { return wrapperspb.String(version) }

func NewVersionResponse(version string) *VersionResponse { return wrapperspb.String(version) }

func NewRegisterResponse(id string) *RegisterResponse { return wrapperspb.String(id) }

func NewHeartbeatPayload(id string) *HeartbeatPayload { return wrapperspb.String(id) }
