package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"ex-snipe/pkg/otogi"

	"github.com/gotd/td/tg"
)

const (
	defaultReactionTrackerCapacity = 4096

	paidReactionToken   = "paid"
	customReactionToken = "custom:"
)

// reactionToEmoji encodes a Telegram reaction as the neutral emoji token.
// Custom emoji become "custom:<document id>".
func reactionToEmoji(reaction tg.ReactionClass) string {
	switch typed := reaction.(type) {
	case *tg.ReactionEmoji:
		return typed.Emoticon
	case *tg.ReactionCustomEmoji:
		return customReactionToken + strconv.FormatInt(typed.DocumentID, 10)
	case *tg.ReactionPaid:
		return paidReactionToken
	default:
		return ""
	}
}

// parseReaction is the inverse of reactionToEmoji.
func parseReaction(emoji string) (tg.ReactionClass, error) {
	token := strings.TrimSpace(emoji)
	if token == "" {
		return nil, fmt.Errorf("%w: empty emoji", otogi.ErrInvalidOutboundRequest)
	}
	if token == paidReactionToken {
		return &tg.ReactionPaid{}, nil
	}

	rawID, custom := strings.CutPrefix(token, customReactionToken)
	if !custom {
		return &tg.ReactionEmoji{Emoticon: token}, nil
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("%w: custom reaction id %q", otogi.ErrInvalidOutboundRequest, rawID)
	}

	return &tg.ReactionCustomEmoji{DocumentID: id}, nil
}

// reactionKey identifies one emoji placed by one reactor.
type reactionKey struct {
	reactor string
	emoji   string
}

// reactionTracker turns the reaction snapshots a user account receives into
// add and remove deltas. Snapshots list only recent reactors, so a reactor
// that drops off the list reads as a removal.
type reactionTracker struct {
	mu       sync.Mutex
	capacity int
	// order lists tracked messages oldest first for eviction.
	order    []string
	previous map[string]map[reactionKey]gotdReactionDelta
}

func newReactionTracker(capacity int) *reactionTracker {
	if capacity <= 0 {
		capacity = defaultReactionTrackerCapacity
	}

	return &reactionTracker{
		capacity: capacity,
		previous: make(map[string]map[reactionKey]gotdReactionDelta),
	}
}

// Diff stores the snapshot and returns what changed since the last snapshot
// of the same message. The first snapshot of a message is all additions.
func (t *reactionTracker) Diff(update *tg.UpdateMessageReactions) []gotdReactionDelta {
	if update == nil {
		return nil
	}

	current := make(map[reactionKey]gotdReactionDelta)
	for _, recent := range update.Reactions.RecentReactions {
		key := reactionKey{reactor: peerIdentity(recent.PeerID), emoji: reactionToEmoji(recent.Reaction)}
		if key.reactor == "" || key.emoji == "" {
			continue
		}
		current[key] = gotdReactionDelta{
			action:    UpdateTypeReactionAdd,
			messageID: update.MsgID,
			emoji:     key.emoji,
			actor:     recent.PeerID,
			peer:      update.Peer,
		}
	}
	message := peerIdentity(update.Peer) + "/" + strconv.Itoa(update.MsgID)

	t.mu.Lock()
	defer t.mu.Unlock()

	previous, tracked := t.previous[message]
	deltas := make([]gotdReactionDelta, 0, len(current))
	for key, delta := range current {
		if _, seen := previous[key]; !seen {
			deltas = append(deltas, delta)
		}
	}
	for key, delta := range previous {
		if _, still := current[key]; !still {
			delta.action = UpdateTypeReactionRemove
			deltas = append(deltas, delta)
		}
	}

	t.previous[message] = current
	if !tracked {
		t.order = append(t.order, message)
		for len(t.order) > t.capacity {
			delete(t.previous, t.order[0])
			t.order = t.order[1:]
		}
	}

	return deltas
}

// diffReactionSets compares the before and after reaction lists a bot
// account receives for one reactor.
func diffReactionSets(before, after []tg.ReactionClass) (added, removed []string) {
	beforeSet := make(map[string]bool, len(before))
	for _, reaction := range before {
		if emoji := reactionToEmoji(reaction); emoji != "" {
			beforeSet[emoji] = true
		}
	}

	afterSet := make(map[string]bool, len(after))
	for _, reaction := range after {
		emoji := reactionToEmoji(reaction)
		if emoji == "" || afterSet[emoji] {
			continue
		}
		afterSet[emoji] = true
		if !beforeSet[emoji] {
			added = append(added, emoji)
		}
	}
	for _, reaction := range before {
		emoji := reactionToEmoji(reaction)
		if beforeSet[emoji] && !afterSet[emoji] {
			removed = append(removed, emoji)
			delete(beforeSet, emoji)
		}
	}

	return added, removed
}

func peerIdentity(peer tg.PeerClass) string {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return "user:" + strconv.FormatInt(typed.UserID, 10)
	case *tg.PeerChat:
		return "chat:" + strconv.FormatInt(typed.ChatID, 10)
	case *tg.PeerChannel:
		return "channel:" + strconv.FormatInt(typed.ChannelID, 10)
	default:
		return ""
	}
}
