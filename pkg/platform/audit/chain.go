package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

const chainKeyInfo = "stagepass audit chain v1"

// DeriveChainKey derives the HMAC key for the audit chain from a master
// secret, so the raw secret is never used directly as a MAC key.
func DeriveChainKey(master []byte) ([]byte, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("audit chain master secret is empty")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(chainKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive audit chain key: %w", err)
	}
	return key, nil
}

// Chain links events into a tamper-evident sequence. Each sealed event
// carries the previous event's hash and an HMAC over its own content.
// Chain is not safe for concurrent use; the sink seals from one goroutine.
//
// A chain belongs to one stream. Replicas writing to the same store each seal
// their own stream, so their sequences never contend.
type Chain struct {
	key    []byte
	stream string
	seq    uint64
	last   string
}

// NewChain starts a chain. Resume it from persisted state with Resume.
func NewChain(key []byte) *Chain {
	return &Chain{key: key}
}

// Resume continues an existing chain after the given sequence and hash.
func (c *Chain) Resume(seq uint64, lastHash string) {
	c.seq = seq
	c.last = lastHash
}

// Seal assigns the next sequence number and the chain hashes to e.
func (c *Chain) Seal(e *Event) {
	c.seq++
	e.Stream = c.stream
	e.Sequence = c.seq
	e.PrevHash = c.last
	e.Timestamp = normalizeTimestamp(e.Timestamp)
	e.Hash = computeHash(c.key, *e)
	c.last = e.Hash
}

// Head returns the sequence and hash of the last sealed event.
func (c *Chain) Head() (uint64, string) {
	return c.seq, c.last
}

// ChainError identifies the first event that breaks the chain.
type ChainError struct {
	Index  int
	Reason string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken at index %d: %s", e.Index, e.Reason)
}

// VerifyChain checks the events of one stream (ordered by sequence) against
// key. It returns a *ChainError for the first broken link, or nil.
func VerifyChain(key []byte, events []Event) error {
	for i, e := range events {
		if i > 0 {
			prev := events[i-1]
			if e.Stream != prev.Stream {
				return &ChainError{Index: i, Reason: "stream changed"}
			}
			if e.Sequence != prev.Sequence+1 {
				return &ChainError{Index: i, Reason: "sequence gap"}
			}
			if e.PrevHash != prev.Hash {
				return &ChainError{Index: i, Reason: "previous hash mismatch"}
			}
		}
		want := computeHash(key, e)
		if !hmac.Equal([]byte(e.Hash), []byte(want)) {
			return &ChainError{Index: i, Reason: "hash mismatch"}
		}
	}
	return nil
}

// VerifyStreams splits events by stream, keeping their relative order, and
// verifies each stream as its own chain.
func VerifyStreams(key []byte, events []Event) error {
	var order []string
	byStream := make(map[string][]Event)
	for _, e := range events {
		if _, seen := byStream[e.Stream]; !seen {
			order = append(order, e.Stream)
		}
		byStream[e.Stream] = append(byStream[e.Stream], e)
	}
	for _, stream := range order {
		if err := VerifyChain(key, byStream[stream]); err != nil {
			return fmt.Errorf("stream %q: %w", stream, err)
		}
	}
	return nil
}

// Storage backends keep microseconds; hash what survives a round trip.
func normalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func computeHash(key []byte, e Event) string {
	e.Hash = ""
	e.Timestamp = normalizeTimestamp(e.Timestamp)
	data, err := json.Marshal(e)
	if err != nil {
		// Details hold caller values; an unmarshalable value still gets a
		// deterministic hash over its type description.
		data = fmt.Appendf(nil, "%s|%d|%s|%s|%#v", e.Stream, e.Sequence, e.PrevHash, e.Type, e.Details)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
