package clocksync

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Both messages ride an unreliable channel; losses are expected and absorbed
// by the sample window, so frames carry no sequence numbers. Each frame is a
// kind byte, a fixed little-endian payload and an xxhash64 checksum of the
// payload, so a corrupted datagram is dropped rather than steering the clock.

var (
	// ErrTruncatedMessage is returned when a frame is shorter than its fixed
	// layout.
	ErrTruncatedMessage = errors.New("clocksync: truncated message")
	// ErrChecksumMismatch is returned when a frame's payload does not match
	// its checksum.
	ErrChecksumMismatch = errors.New("clocksync: checksum mismatch")
)

// MessageKind discriminates the wire messages.
type MessageKind uint8

const (
	// KindServerUpdate is an authority→follower frame.
	KindServerUpdate MessageKind = iota + 1
	// KindFollowerUpdate is a follower→authority frame.
	KindFollowerUpdate
)

// ServerUpdate is the periodic authority→follower message: the authority's
// game time and the arrival offset it measured for this follower's inputs.
type ServerUpdate struct {
	GameTime     float64
	ClientOffset float32
}

// FollowerUpdate is the periodic follower→authority message carrying the
// follower's current game time.
type FollowerUpdate struct {
	GameTime float64
}

const (
	serverUpdateSize   = 12
	followerUpdateSize = 8
)

// Encode appends the framed message to dst and returns the result.
func (u ServerUpdate) Encode(dst []byte) []byte {
	var payload [serverUpdateSize]byte
	binary.LittleEndian.PutUint64(payload[0:], math.Float64bits(u.GameTime))
	binary.LittleEndian.PutUint32(payload[8:], math.Float32bits(u.ClientOffset))
	return appendFrame(dst, KindServerUpdate, payload[:])
}

// Encode appends the framed message to dst and returns the result.
func (u FollowerUpdate) Encode(dst []byte) []byte {
	var payload [followerUpdateSize]byte
	binary.LittleEndian.PutUint64(payload[0:], math.Float64bits(u.GameTime))
	return appendFrame(dst, KindFollowerUpdate, payload[:])
}

func appendFrame(dst []byte, kind MessageKind, payload []byte) []byte {
	dst = append(dst, byte(kind))
	dst = append(dst, payload...)
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], xxhash.Sum64(payload))
	return append(dst, sum[:]...)
}

// Decode parses a framed message, returning a ServerUpdate or FollowerUpdate.
func Decode(frame []byte) (any, error) {
	if len(frame) < 1 {
		return nil, ErrTruncatedMessage
	}
	kind := MessageKind(frame[0])
	var size int
	switch kind {
	case KindServerUpdate:
		size = serverUpdateSize
	case KindFollowerUpdate:
		size = followerUpdateSize
	default:
		return nil, fmt.Errorf("clocksync: unknown message kind %d", kind)
	}
	if len(frame) < 1+size+8 {
		return nil, ErrTruncatedMessage
	}
	payload := frame[1 : 1+size]
	sum := binary.LittleEndian.Uint64(frame[1+size:])
	if xxhash.Sum64(payload) != sum {
		return nil, ErrChecksumMismatch
	}
	switch kind {
	case KindServerUpdate:
		return ServerUpdate{
			GameTime:     math.Float64frombits(binary.LittleEndian.Uint64(payload[0:])),
			ClientOffset: math.Float32frombits(binary.LittleEndian.Uint32(payload[8:])),
		}, nil
	default:
		return FollowerUpdate{
			GameTime: math.Float64frombits(binary.LittleEndian.Uint64(payload[0:])),
		}, nil
	}
}
