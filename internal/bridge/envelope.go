package bridge

import (
	"encoding/json"
	"errors"

	"github.com/goevery/chat/internal/chat"
	"github.com/google/uuid"
)

var errMissingField = errors.New("missing required field")

type subscriptionEnvelope struct {
	ChatId *uuid.UUID `json:"chat_id"`
	UserId *int64     `json:"user_id"`
}

type messageEnvelope struct {
	ChatId   *uuid.UUID `json:"chat_id"`
	SenderId *int64     `json:"sender_id"`
	Date     int64      `json:"date"`
	Text     string     `json:"msg_text"`
}

func decodeSubscription(payload []byte, kind chat.SubscriptionKind) (chat.SubscriptionEvent, error) {
	var envelope subscriptionEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return chat.SubscriptionEvent{}, err
	}

	if envelope.ChatId == nil || envelope.UserId == nil {
		return chat.SubscriptionEvent{}, errMissingField
	}

	return chat.SubscriptionEvent{
		ChatId: *envelope.ChatId,
		UserId: chat.UserId(*envelope.UserId),
		Kind:   kind,
	}, nil
}

func decodeMessage(payload []byte) (chat.Message, error) {
	var envelope messageEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return chat.Message{}, err
	}

	if envelope.ChatId == nil || envelope.SenderId == nil {
		return chat.Message{}, errMissingField
	}

	return chat.Message{
		ChatId:   *envelope.ChatId,
		SenderId: chat.UserId(*envelope.SenderId),
		Date:     envelope.Date,
		Text:     envelope.Text,
	}, nil
}

func subscriptionChannel(kind chat.SubscriptionKind) string {
	if kind == chat.Unsubscribe {
		return ChannelUnsubscribe
	}

	return ChannelSubscribe
}
