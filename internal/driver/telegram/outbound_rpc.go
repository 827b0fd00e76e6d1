package telegram

import (
	"context"
	"fmt"
	"io"

	"ex-snipe/pkg/otogi"

	"github.com/gotd/td/crypto"
	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/telegram/message/unpack"
	"github.com/gotd/td/tg"
)

// outboundRPC is the slice of the Telegram API the dispatcher needs.
type outboundRPC interface {
	SendText(ctx context.Context, peer tg.InputPeerClass, request otogi.SendMessageRequest) (int, error)
	DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int, revoke bool) error
	SetReaction(ctx context.Context, peer tg.InputPeerClass, messageID int, reactions []tg.ReactionClass) error
}

type gotdOutboundRPC struct {
	api    *tg.Client
	sender *message.Sender
	random io.Reader
}

var _ outboundRPC = gotdOutboundRPC{}

func newGotdOutboundRPC(client *gotdtelegram.Client) gotdOutboundRPC {
	api := client.API()

	return gotdOutboundRPC{
		api:    api,
		sender: message.NewSender(api),
		random: crypto.DefaultRand(),
	}
}

// SendText calls messages.sendMessage directly so entities keep their exact
// offsets. DisableMentions maps to a silent send.
func (r gotdOutboundRPC) SendText(
	ctx context.Context,
	peer tg.InputPeerClass,
	request otogi.SendMessageRequest,
) (int, error) {
	entities, err := mapOutboundTextEntities(request.Text, request.Entities)
	if err != nil {
		return 0, fmt.Errorf("map entities: %w", err)
	}
	randomID, err := crypto.RandInt64(r.random)
	if err != nil {
		return 0, fmt.Errorf("draw random id: %w", err)
	}

	call := &tg.MessagesSendMessageRequest{
		Peer:      peer,
		Message:   request.Text,
		Entities:  entities,
		NoWebpage: request.DisableLinkPreview,
		Silent:    request.DisableMentions,
		RandomID:  randomID,
	}
	if request.ReplyToMessageID != "" {
		replyTo, err := parseMessageID(request.ReplyToMessageID)
		if err != nil {
			return 0, fmt.Errorf("reply target: %w", err)
		}
		call.ReplyTo = &tg.InputReplyToMessage{ReplyToMsgID: replyTo}
	}

	updates, err := r.api.MessagesSendMessage(ctx, call)
	if err != nil {
		return 0, err
	}
	id, err := unpack.MessageID(updates, nil)
	if err != nil {
		return 0, fmt.Errorf("read sent message id: %w", err)
	}

	return id, nil
}

func (r gotdOutboundRPC) DeleteMessage(ctx context.Context, peer tg.InputPeerClass, messageID int, revoke bool) error {
	if revoke {
		_, err := r.sender.To(peer).Revoke().Messages(ctx, messageID)
		return err
	}
	if _, channel := peer.(*tg.InputPeerChannel); channel {
		return fmt.Errorf("%w: channel messages are always deleted for everyone", otogi.ErrOutboundUnsupported)
	}

	_, err := r.sender.Delete().Messages(ctx, messageID)
	return err
}

func (r gotdOutboundRPC) SetReaction(
	ctx context.Context,
	peer tg.InputPeerClass,
	messageID int,
	reactions []tg.ReactionClass,
) error {
	_, err := r.sender.To(peer).Reaction(ctx, messageID, reactions...)
	return err
}
