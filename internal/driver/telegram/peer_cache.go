package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"ex-snipe/pkg/otogi"

	"github.com/gotd/td/tg"
)

var errPeerUnknown = errors.New("peer not seen")

type peerCacheKey struct {
	kind otogi.ConversationType
	id   string
}

// PeerCache maps neutral conversations to the Telegram input peers learned
// from inbound updates. Outbound calls can only reach chats seen here,
// because channels and users need an access hash. A nil cache ignores
// writes.
type PeerCache struct {
	mu    sync.RWMutex
	peers map[peerCacheKey]tg.InputPeerClass
}

func NewPeerCache() *PeerCache {
	return &PeerCache{peers: make(map[peerCacheKey]tg.InputPeerClass)}
}

// Remember records how to reach chat. A nil peer is ignored.
func (c *PeerCache) Remember(chat ChatRef, peer tg.InputPeerClass) {
	if c == nil || peer == nil || chat.ID == "" || chat.ID == gotdUnknownConversationID {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeLocked(chat.Type, chat.ID, peer)
}

// rememberEntities records every user and chat delivered with an update.
func (c *PeerCache) rememberEntities(entities gotdEntities) {
	if c == nil || (len(entities.users) == 0 && len(entities.chats) == 0) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, user := range entities.users {
		c.storeLocked(otogi.ConversationTypePrivate, strconv.FormatInt(id, 10), user.AsInputPeer())
	}
	for id, chat := range entities.chats {
		if chat.inputPeer != nil {
			c.storeLocked(chat.kind, strconv.FormatInt(id, 10), chat.inputPeer)
		}
	}
}

// storeLocked also files megagroups under the channel kind, since they are
// groups to modules but channels to the RPC layer.
func (c *PeerCache) storeLocked(kind otogi.ConversationType, id string, peer tg.InputPeerClass) {
	c.peers[peerCacheKey{kind: kind, id: id}] = cloneInputPeer(peer)
	if _, channel := peer.(*tg.InputPeerChannel); channel && kind == otogi.ConversationTypeGroup {
		c.peers[peerCacheKey{kind: otogi.ConversationTypeChannel, id: id}] = cloneInputPeer(peer)
	}
}

// Resolve returns a private copy of the peer for conversation. Groups and
// channels share an ID space, so each is tried as the other.
func (c *PeerCache) Resolve(conversation otogi.Conversation) (tg.InputPeerClass, error) {
	if c == nil {
		return nil, fmt.Errorf("resolve peer: nil cache")
	}
	if conversation.ID == "" || conversation.Type == "" {
		return nil, fmt.Errorf("resolve peer: incomplete conversation %+v", conversation)
	}

	kinds := []otogi.ConversationType{conversation.Type}
	switch conversation.Type {
	case otogi.ConversationTypeGroup:
		kinds = append(kinds, otogi.ConversationTypeChannel)
	case otogi.ConversationTypeChannel:
		kinds = append(kinds, otogi.ConversationTypeGroup)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, kind := range kinds {
		if peer, ok := c.peers[peerCacheKey{kind: kind, id: conversation.ID}]; ok {
			return cloneInputPeer(peer), nil
		}
	}

	return nil, fmt.Errorf("resolve peer %s/%s: %w", conversation.Type, conversation.ID, errPeerUnknown)
}

func cloneInputPeer(peer tg.InputPeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.InputPeerUser:
		clone := *typed
		return &clone
	case *tg.InputPeerChat:
		clone := *typed
		return &clone
	case *tg.InputPeerChannel:
		clone := *typed
		return &clone
	default:
		return peer
	}
}
