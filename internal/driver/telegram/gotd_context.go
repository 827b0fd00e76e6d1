package telegram

import (
	"strconv"
	"strings"
	"time"

	"ex-snipe/pkg/otogi"

	"github.com/gotd/td/tg"
)

// gotdUpdateEnvelope is one flattened gotd update together with the users
// and chats delivered in the same container.
type gotdUpdateEnvelope struct {
	update     tg.UpdateClass
	occurredAt time.Time
	entities   gotdEntities
	className  string
	// reaction is set when the update was expanded into per-emoji deltas.
	reaction *gotdReactionDelta
}

type gotdReactionDelta struct {
	action    UpdateType
	messageID int
	emoji     string
	actor     tg.PeerClass
	peer      tg.PeerClass
}

type gotdChatInfo struct {
	title     string
	kind      otogi.ConversationType
	inputPeer tg.InputPeerClass
}

// gotdEntities indexes container users and chats by ID. The zero value is
// an empty index.
type gotdEntities struct {
	users map[int64]*tg.User
	chats map[int64]gotdChatInfo
}

func newGotdEntities(users []tg.UserClass, chats []tg.ChatClass) gotdEntities {
	var entities gotdEntities
	for _, raw := range users {
		user, ok := raw.(*tg.User)
		if !ok || user == nil {
			continue
		}
		if entities.users == nil {
			entities.users = make(map[int64]*tg.User, len(users))
		}
		entities.users[user.ID] = user
	}
	for _, raw := range chats {
		id, info, ok := describeGotdChat(raw)
		if !ok {
			continue
		}
		if entities.chats == nil {
			entities.chats = make(map[int64]gotdChatInfo, len(chats))
		}
		entities.chats[id] = info
	}

	return entities
}

// describeGotdChat reports megagroups as groups; only broadcast channels
// keep the channel kind.
func describeGotdChat(chat tg.ChatClass) (int64, gotdChatInfo, bool) {
	switch typed := chat.(type) {
	case *tg.Chat:
		return typed.ID, gotdChatInfo{
			title:     typed.Title,
			kind:      otogi.ConversationTypeGroup,
			inputPeer: typed.AsInputPeer(),
		}, true
	case *tg.ChatForbidden:
		return typed.ID, gotdChatInfo{
			title:     typed.Title,
			kind:      otogi.ConversationTypeGroup,
			inputPeer: &tg.InputPeerChat{ChatID: typed.ID},
		}, true
	case *tg.Channel:
		return typed.ID, gotdChatInfo{
			title:     typed.Title,
			kind:      channelKind(typed.Megagroup),
			inputPeer: typed.AsInputPeer(),
		}, true
	case *tg.ChannelForbidden:
		return typed.ID, gotdChatInfo{
			title:     typed.Title,
			kind:      channelKind(typed.Megagroup),
			inputPeer: &tg.InputPeerChannel{ChannelID: typed.ID, AccessHash: typed.AccessHash},
		}, true
	default:
		return 0, gotdChatInfo{}, false
	}
}

func channelKind(megagroup bool) otogi.ConversationType {
	if megagroup {
		return otogi.ConversationTypeGroup
	}

	return otogi.ConversationTypeChannel
}

// chat describes the conversation a peer points at. A user peer is the
// private chat with that user.
func (e gotdEntities) chat(peer tg.PeerClass) ChatRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		user := e.user(typed.UserID)
		return ChatRef{ID: user.ID, Title: user.DisplayName, Type: otogi.ConversationTypePrivate}
	case *tg.PeerChat:
		return e.chatByID(typed.ChatID, otogi.ConversationTypeGroup)
	case *tg.PeerChannel:
		return e.chatByID(typed.ChannelID, otogi.ConversationTypeChannel)
	default:
		return ChatRef{ID: gotdUnknownConversationID, Type: otogi.ConversationTypePrivate}
	}
}

// chatByID falls back to kind when the container did not include the chat.
func (e gotdEntities) chatByID(id int64, kind otogi.ConversationType) ChatRef {
	ref := ChatRef{ID: strconv.FormatInt(id, 10), Type: kind}
	if info, ok := e.chats[id]; ok {
		ref.Title = info.title
		ref.Type = info.kind
	}

	return ref
}

// actor describes who a peer is. Anonymous admins and channel posts are
// attributed to the chat itself.
func (e gotdEntities) actor(peer tg.PeerClass) ActorRef {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return e.user(typed.UserID)
	case *tg.PeerChat:
		return ActorRef{ID: strconv.FormatInt(typed.ChatID, 10), DisplayName: e.chats[typed.ChatID].title}
	case *tg.PeerChannel:
		return ActorRef{ID: strconv.FormatInt(typed.ChannelID, 10), DisplayName: e.chats[typed.ChannelID].title}
	default:
		return ActorRef{ID: gotdUnknownActorID}
	}
}

func (e gotdEntities) user(id int64) ActorRef {
	if id == 0 {
		return ActorRef{ID: gotdUnknownActorID}
	}

	ref := ActorRef{ID: strconv.FormatInt(id, 10)}
	user, ok := e.users[id]
	if !ok {
		return ref
	}

	ref.Username, _ = user.GetUsername()
	ref.IsBot = user.Bot
	first, _ := user.GetFirstName()
	last, _ := user.GetLastName()
	switch name := strings.TrimSpace(first + " " + last); {
	case name != "":
		ref.DisplayName = name
	case ref.Username != "":
		ref.DisplayName = ref.Username
	default:
		ref.DisplayName = ref.ID
	}

	return ref
}

// inputPeer returns the RPC address of a peer, or nil when the container
// lacks the access hash it needs. Basic groups need no hash.
func (e gotdEntities) inputPeer(peer tg.PeerClass) tg.InputPeerClass {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		if user, ok := e.users[typed.UserID]; ok {
			return user.AsInputPeer()
		}
	case *tg.PeerChat:
		if typed.ChatID != 0 {
			return &tg.InputPeerChat{ChatID: typed.ChatID}
		}
	case *tg.PeerChannel:
		if info, ok := e.chats[typed.ChannelID]; ok && info.inputPeer != nil {
			return cloneInputPeer(info.inputPeer)
		}
	}

	return nil
}
