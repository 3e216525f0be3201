package syncproto

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/branch"
	"github.com/ouisync/ouisync/pkg/types"
)

// Stream is the duplex byte channel a Session runs over. The transport
// that implements it (QUIC, TCP+Noise, whatever dials the other side) is
// out of scope here; Session only ever reads, writes, and closes it.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// Server answers the requests a peer sends us over a Session. A
// repository façade satisfies this by delegating to its branch.Store,
// index.Tree, and block.Store.
type Server interface {
	Root(user types.UserId) (branch.Root, bool, error)
	ChildrenBytes(parent crypto.Hash) ([]byte, error)
	Block(id types.BlockId) (crypto.Nonce, []byte, error)
}

// ErrUnknownMessageKind terminates a session on an unrecognized tag
// (spec.md §4.8: "unknown tags terminate the session").
var ErrUnknownMessageKind = errors.New("syncproto: unknown message kind")

type pendingResult struct {
	frame Frame
	err   error
}

// Session is one peer connection: the receive loop dispatches incoming
// requests to Server and incoming responses to whichever local call is
// waiting on them, correlated by RequestID. It is strictly pull-based on
// the receiving side per spec.md §4.8: Session never decides on its own
// to fetch anything, it only answers what FetchChildren/FetchBlock (its
// pkg/reconciler.BlockFetcher methods) are told to ask for.
type Session struct {
	stream Stream
	server Server

	writeMu sync.Mutex

	nextReqID uint64

	mu      sync.Mutex
	pending map[uint64]chan pendingResult
}

// NewSession wires a Session over stream, answering peer requests from
// server. server may be nil for a session that only ever issues requests
// (e.g. a read-only client with nothing local to serve).
func NewSession(stream Stream, server Server) *Session {
	return &Session{
		stream:  stream,
		server:  server,
		pending: make(map[uint64]chan pendingResult),
	}
}

// Close closes the underlying stream, which unblocks Run's pending
// ReadFrame and fails any outstanding local request.
func (s *Session) Close() error {
	return s.stream.Close()
}

// Run reads frames until the stream errs or an unknown kind arrives.
// onRootAnnounce is called for every RootAnnounce received; wire it to
// pkg/reconciler.Reconciler.HandleRootAnnounce, passing this Session as
// the BlockFetcher (it implements FetchChildren/FetchBlock).
func (s *Session) Run(onRootAnnounce func(root branch.Root)) error {
	for {
		f, err := ReadFrame(s.stream)
		if err != nil {
			s.failPending(err)
			return err
		}

		if err := s.dispatch(f, onRootAnnounce); err != nil {
			s.failPending(err)
			return err
		}
	}
}

func (s *Session) dispatch(f Frame, onRootAnnounce func(root branch.Root)) error {
	switch f.Kind {
	case KindRoot, KindChildren, KindBlockMsg, KindInterestAck:
		s.deliver(f)
		return nil
	case KindRootAnnounce:
		msg, err := Decode[RootAnnounce](f)
		if err != nil {
			return err
		}
		if onRootAnnounce != nil {
			onRootAnnounce(branch.Root{UserID: msg.UserID, Hash: msg.RootHash, VV: msg.VV, Sig: msg.Sig})
		}
		return nil
	case KindRootRequest:
		return s.handleRootRequest(f)
	case KindChildrenRequest:
		return s.handleChildrenRequest(f)
	case KindBlockRequest:
		return s.handleBlockRequest(f)
	case KindInterest:
		return s.handleInterest(f)
	case KindHeartbeat:
		return nil
	default:
		return ErrUnknownMessageKind
	}
}

func (s *Session) deliver(f Frame) {
	s.mu.Lock()
	ch, ok := s.pending[f.RequestID]
	if ok {
		delete(s.pending, f.RequestID)
	}
	s.mu.Unlock()
	if ok {
		ch <- pendingResult{frame: f}
	}
}

func (s *Session) failPending(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.pending {
		ch <- pendingResult{err: err}
		delete(s.pending, id)
	}
}

func (s *Session) writeFrame(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFrame(s.stream, f)
}

// request sends payload as kind and blocks for the correlated response,
// or until ctx is done or the session fails.
func (s *Session) request(ctx context.Context, kind Kind, payload any) (Frame, error) {
	id := atomic.AddUint64(&s.nextReqID, 1)
	ch := make(chan pendingResult, 1)

	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	f, err := Encode(kind, id, payload)
	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return Frame{}, err
	}
	if err := s.writeFrame(f); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return Frame{}, err
	}

	select {
	case res := <-ch:
		return res.frame, res.err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return Frame{}, ctx.Err()
	}
}

// FetchChildren implements pkg/reconciler.BlockFetcher.
func (s *Session) FetchChildren(ctx context.Context, parent crypto.Hash) ([]byte, error) {
	resp, err := s.request(ctx, KindChildrenRequest, ChildrenRequest{ParentHash: parent})
	if err != nil {
		return nil, err
	}
	children, err := Decode[Children](resp)
	if err != nil {
		return nil, err
	}
	return children.NodeBytes, nil
}

// FetchBlock implements pkg/reconciler.BlockFetcher.
func (s *Session) FetchBlock(ctx context.Context, id types.BlockId) (crypto.Nonce, []byte, error) {
	resp, err := s.request(ctx, KindBlockRequest, BlockRequest{BlockID: id})
	if err != nil {
		return crypto.Nonce{}, nil, err
	}
	b, err := Decode[BlockMsg](resp)
	if err != nil {
		return crypto.Nonce{}, nil, err
	}
	return b.Nonce, b.Ciphertext, nil
}

// RequestRoot asks the peer for its current root for user (RootRequest).
func (s *Session) RequestRoot(ctx context.Context, user types.UserId) (branch.Root, bool, error) {
	resp, err := s.request(ctx, KindRootRequest, RootRequest{UserID: user})
	if err != nil {
		return branch.Root{}, false, err
	}
	msg, err := Decode[RootMsg](resp)
	if err != nil {
		return branch.Root{}, false, err
	}
	if msg.Sig == nil {
		return branch.Root{}, false, nil
	}
	return branch.Root{UserID: msg.UserID, Hash: msg.RootHash, VV: msg.VV, Sig: msg.Sig}, true, nil
}

// AnnounceInterest declares repo as followed and waits for InterestAck.
func (s *Session) AnnounceInterest(ctx context.Context, repo types.RepositoryId) error {
	_, err := s.request(ctx, KindInterest, Interest{RepositoryID: repo})
	return err
}

// AnnounceRoot pushes a freshly signed root to the peer. It is a
// one-way push (RequestID 0): the peer reacts by pulling, it does not
// reply.
func (s *Session) AnnounceRoot(root branch.Root) error {
	f, err := Encode(KindRootAnnounce, 0, RootAnnounce{UserID: root.UserID, VV: root.VV, RootHash: root.Hash, Sig: root.Sig})
	if err != nil {
		return err
	}
	return s.writeFrame(f)
}

// SendHeartbeat keeps an idle session alive.
func (s *Session) SendHeartbeat() error {
	f, err := Encode(KindHeartbeat, 0, Heartbeat{})
	if err != nil {
		return err
	}
	return s.writeFrame(f)
}

func (s *Session) handleRootRequest(f Frame) error {
	req, err := Decode[RootRequest](f)
	if err != nil {
		return err
	}
	var msg RootMsg
	if s.server != nil {
		if root, ok, err := s.server.Root(req.UserID); err != nil {
			return err
		} else if ok {
			msg = RootMsg{UserID: root.UserID, VV: root.VV, RootHash: root.Hash, Sig: root.Sig}
		}
	}
	resp, err := Encode(KindRoot, f.RequestID, msg)
	if err != nil {
		return err
	}
	return s.writeFrame(resp)
}

func (s *Session) handleChildrenRequest(f Frame) error {
	req, err := Decode[ChildrenRequest](f)
	if err != nil {
		return err
	}
	var body Children
	if s.server != nil {
		data, err := s.server.ChildrenBytes(req.ParentHash)
		if err != nil {
			return err
		}
		body.NodeBytes = data
	}
	resp, err := Encode(KindChildren, f.RequestID, body)
	if err != nil {
		return err
	}
	return s.writeFrame(resp)
}

func (s *Session) handleBlockRequest(f Frame) error {
	req, err := Decode[BlockRequest](f)
	if err != nil {
		return err
	}
	var body BlockMsg
	if s.server != nil {
		nonce, ciphertext, err := s.server.Block(req.BlockID)
		if err != nil {
			return err
		}
		body = BlockMsg{Nonce: nonce, Ciphertext: ciphertext}
	}
	resp, err := Encode(KindBlockMsg, f.RequestID, body)
	if err != nil {
		return err
	}
	return s.writeFrame(resp)
}

func (s *Session) handleInterest(f Frame) error {
	if _, err := Decode[Interest](f); err != nil {
		return err
	}
	resp, err := Encode(KindInterestAck, f.RequestID, InterestAck{})
	if err != nil {
		return err
	}
	return s.writeFrame(resp)
}
