package syncproto

import (
	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/types"
)

// Kind tags every frame on the wire (spec.md §4.8). Unknown kinds
// terminate the session rather than being skipped, since there is no
// reliable way to know how many bytes an unrecognized body occupies
// beyond what the length prefix already gives us, and silently
// swallowing unknown messages would hide a protocol mismatch.
type Kind byte

const (
	KindRootAnnounce Kind = iota + 1
	KindRootRequest
	KindRoot
	KindChildrenRequest
	KindChildren
	KindBlockRequest
	KindBlockMsg
	KindInterest
	KindInterestAck
	KindHeartbeat
)

func (k Kind) String() string {
	switch k {
	case KindRootAnnounce:
		return "RootAnnounce"
	case KindRootRequest:
		return "RootRequest"
	case KindRoot:
		return "Root"
	case KindChildrenRequest:
		return "ChildrenRequest"
	case KindChildren:
		return "Children"
	case KindBlockRequest:
		return "BlockRequest"
	case KindBlockMsg:
		return "Block"
	case KindInterest:
		return "Interest"
	case KindInterestAck:
		return "InterestAck"
	case KindHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

// RootAnnounce advertises a newly signed root for UserID. A session
// receiving this either already has every block it names (nothing to
// do) or hands it to pkg/reconciler.HandleRootAnnounce.
type RootAnnounce struct {
	UserID   types.UserId
	VV       types.VersionVector
	RootHash crypto.Hash
	Sig      []byte
}

// RootRequest asks the peer to resend its current root for UserID,
// answered with a RootMsg. Used on first contact, before any
// RootAnnounce has been seen for that branch.
type RootRequest struct {
	UserID types.UserId
}

// RootMsg answers a RootRequest. Same shape as RootAnnounce; split into
// its own type because one is peer-initiated push, the other reply to a
// pull, and they carry different RequestID semantics on the Frame.
type RootMsg struct {
	UserID   types.UserId
	VV       types.VersionVector
	RootHash crypto.Hash
	Sig      []byte
}

// ChildrenRequest asks for the raw encoded bytes of the Merkle node
// addressed by ParentHash, answered with Children.
type ChildrenRequest struct {
	ParentHash crypto.Hash
}

// Children answers a ChildrenRequest with the node's raw bytes, ready
// for pkg/index.Tree.StoreForeignNode after the caller verifies
// ParentHash == H(NodeBytes).
type Children struct {
	NodeBytes []byte
}

// BlockRequest asks for one block's ciphertext, answered with Block.
type BlockRequest struct {
	BlockID types.BlockId
}

// BlockMsg answers a BlockRequest.
type BlockMsg struct {
	Nonce      crypto.Nonce
	Ciphertext []byte
}

// Interest declares that this session wants to follow RepositoryID,
// answered with InterestAck before any RootAnnounce for that repository
// is sent.
type Interest struct {
	RepositoryID types.RepositoryId
}

// InterestAck acknowledges an Interest.
type InterestAck struct{}

// Heartbeat keeps an otherwise idle session alive so a stalled transport
// is detected faster than the peer's own request timeouts would catch
// it.
type Heartbeat struct{}
