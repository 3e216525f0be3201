package syncproto

import (
	"bytes"
	"testing"

	"github.com/ouisync/ouisync/internal/crypto"
	"github.com/ouisync/ouisync/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTripEachKind(t *testing.T) {
	blockID := types.BlockIdFromHash(crypto.H([]byte("block")))
	parentHash := crypto.H([]byte("parent"))

	cases := []struct {
		name string
		kind Kind
		body any
	}{
		{"RootAnnounce", KindRootAnnounce, RootAnnounce{RootHash: parentHash, Sig: []byte("sig")}},
		{"RootRequest", KindRootRequest, RootRequest{}},
		{"Root", KindRoot, RootMsg{RootHash: parentHash, Sig: []byte("sig")}},
		{"ChildrenRequest", KindChildrenRequest, ChildrenRequest{ParentHash: parentHash}},
		{"Children", KindChildren, Children{NodeBytes: []byte{1, 2, 3}}},
		{"BlockRequest", KindBlockRequest, BlockRequest{BlockID: blockID}},
		{"Block", KindBlockMsg, BlockMsg{Ciphertext: []byte("cipher")}},
		{"Interest", KindInterest, Interest{}},
		{"InterestAck", KindInterestAck, InterestAck{}},
		{"Heartbeat", KindHeartbeat, Heartbeat{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Encode(tc.kind, 42, tc.body)
			require.NoError(t, err)

			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, f))

			got, err := ReadFrame(&buf)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, got.Kind)
			assert.Equal(t, uint64(42), got.RequestID)
			assert.Equal(t, f.Body, got.Body)
		})
	}
}

func TestFrameWriteReadPreservesOrderOnSharedStream(t *testing.T) {
	var buf bytes.Buffer

	f1, err := Encode(KindHeartbeat, 0, Heartbeat{})
	require.NoError(t, err)
	f2, err := Encode(KindBlockRequest, 7, BlockRequest{BlockID: types.BlockIdFromHash(crypto.H([]byte("x")))})
	require.NoError(t, err)

	require.NoError(t, WriteFrame(&buf, f1))
	require.NoError(t, WriteFrame(&buf, f2))

	got1, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindHeartbeat, got1.Kind)

	got2, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, KindBlockRequest, got2.Kind)
	assert.Equal(t, uint64(7), got2.RequestID)
}

func TestReadFrameTruncatedStreamErrors(t *testing.T) {
	f, err := Encode(KindHeartbeat, 1, Heartbeat{})
	require.NoError(t, err)

	var full bytes.Buffer
	require.NoError(t, WriteFrame(&full, f))

	truncated := bytes.NewReader(full.Bytes()[:full.Len()-1])
	_, err = ReadFrame(truncated)
	require.Error(t, err)
}

func TestReadVarintRejectsOverlongVarint(t *testing.T) {
	// 11 bytes each with the continuation bit set never terminates within
	// binary.MaxVarintLen64 (10) bytes.
	overlong := bytes.Repeat([]byte{0x80}, 11)
	_, err := readVarint(bytes.NewReader(overlong))
	require.Error(t, err)
}

func TestDecodeMismatchedKindStillUnmarshals(t *testing.T) {
	f, err := Encode(KindBlockMsg, 1, BlockMsg{Ciphertext: []byte("data")})
	require.NoError(t, err)

	got, err := Decode[BlockMsg](f)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got.Ciphertext)
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", Kind(255).String())
	assert.Equal(t, "Heartbeat", KindHeartbeat.String())
}
