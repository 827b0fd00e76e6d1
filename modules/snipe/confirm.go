package snipe

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"ex-snipe/pkg/otogi"
)

// deleteEmoji is the acknowledgment reaction for deleting a snipe response.
const deleteEmoji = "🚮"

type ackOutcome int

const (
	// ackIgnored means no live confirmation matches the acknowledgment.
	ackIgnored ackOutcome = iota
	ackDenied
	ackAccepted
)

// pendingDelete is a snipe response waiting for a delete acknowledgment.
type pendingDelete struct {
	id        ulid.ULID
	response  otogi.OutboundMessage
	allowed   []string
	expiresAt time.Time
}

type responseKey struct {
	channel   Channel
	messageID string
}

// confirmations tracks pending delete acknowledgments per response message
// and remembers recent responses so their own deletion is not tracked.
type confirmations struct {
	mu      sync.Mutex
	pending map[responseKey]*pendingDelete
	sent    map[responseKey]time.Time
	entropy io.Reader
}

func newConfirmations() *confirmations {
	return &confirmations{
		pending: make(map[responseKey]*pendingDelete),
		sent:    make(map[responseKey]time.Time),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// rememberResponse marks messageID as sent by this module until until.
func (c *confirmations) rememberResponse(channel Channel, messageID string, until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent[responseKey{channel: channel, messageID: messageID}] = until
}

// isResponse reports whether messageID is a remembered response at now.
func (c *confirmations) isResponse(channel Channel, messageID string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	until, exists := c.sent[responseKey{channel: channel, messageID: messageID}]

	return exists && now.Before(until)
}

// register arms a confirmation for response that the sniper or the sniped
// author can acknowledge until now+timeout.
func (c *confirmations) register(
	channel Channel,
	response otogi.OutboundMessage,
	sniperID string,
	authorID string,
	now time.Time,
	timeout time.Duration,
) (ulid.ULID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(now), c.entropy)
	if err != nil {
		return ulid.ULID{}, fmt.Errorf("new confirmation id: %w", err)
	}
	allowed := make([]string, 0, 2)
	for _, actorID := range []string{sniperID, authorID} {
		if actorID != "" {
			allowed = append(allowed, actorID)
		}
	}
	c.pending[responseKey{channel: channel, messageID: response.ID}] = &pendingDelete{
		id:        id,
		response:  response,
		allowed:   allowed,
		expiresAt: now.Add(timeout),
	}

	return id, nil
}

// acknowledge resolves an acknowledgment by actorID on the response
// messageID. Accepted confirmations are removed.
func (c *confirmations) acknowledge(
	channel Channel,
	messageID string,
	actorID string,
	now time.Time,
) (pendingDelete, ackOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := responseKey{channel: channel, messageID: messageID}
	pending, exists := c.pending[key]
	if !exists {
		return pendingDelete{}, ackIgnored
	}
	if !now.Before(pending.expiresAt) {
		delete(c.pending, key)
		return pendingDelete{}, ackIgnored
	}
	for _, allowed := range pending.allowed {
		if allowed == actorID {
			delete(c.pending, key)
			return *pending, ackAccepted
		}
	}

	return *pending, ackDenied
}

// prune drops timed-out confirmations and forgotten responses. It returns
// how many confirmations timed out.
func (c *confirmations) prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, pending := range c.pending {
		if !now.Before(pending.expiresAt) {
			delete(c.pending, key)
			removed++
		}
	}
	for key, until := range c.sent {
		if !now.Before(until) {
			delete(c.sent, key)
		}
	}

	return removed
}

func (c *confirmations) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

func (c *confirmations) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = make(map[responseKey]*pendingDelete)
	c.sent = make(map[responseKey]time.Time)
}
