// Package syncproto implements the wire protocol two peers speak once a
// transport connection is established: a framed, bidirectional
// request/response channel carrying the ten message kinds from spec.md
// §4.8 (RootAnnounce, RootRequest/Root, ChildrenRequest/Children,
// BlockRequest/Block, Interest/InterestAck, Heartbeat).
//
// Framing is a 1-byte kind tag followed by two protobuf-style varints
// (request id, body length) and a JSON body. There is no generated
// .proto schema for this protocol, so full protobuf messages aren't an
// option; the varint-prefixed length framing from
// google.golang.org/protobuf/encoding/protowire is reused on its own,
// with JSON carrying the typed payloads defined in messages.go.
//
// Session (session.go) dispatches a received frame one of two ways: a
// response frame is matched to the local call that's blocked waiting for
// it by request id; anything else is a request from the peer, answered
// from the local Server (branch.Store, index.Tree, block.Store). A
// Session also implements pkg/reconciler.BlockFetcher directly, so a
// Reconciler can pull through it without knowing about frames at all.
// An unrecognized Kind ends the session rather than being skipped.
package syncproto
