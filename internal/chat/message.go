package chat

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

type ChatId = uuid.UUID

type UserId int64

func ParseUserId(s string) (UserId, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}

	return UserId(id), nil
}

func (u UserId) String() string {
	return strconv.FormatInt(int64(u), 10)
}

// Message is a chat message as it travels over the broadcast medium and
// the websocket transport. Date is milliseconds since the Unix epoch.
type Message struct {
	ChatId   ChatId `json:"chat_id"`
	SenderId UserId `json:"sender_id"`
	Date     int64  `json:"date"`
	Text     string `json:"msg_text"`
}

func NewMessage(chatId ChatId, senderId UserId, text string, now time.Time) Message {
	return Message{
		ChatId:   chatId,
		SenderId: senderId,
		Date:     now.UnixMilli(),
		Text:     text,
	}
}

func (m Message) Time() time.Time {
	return time.UnixMilli(m.Date)
}

type SubscriptionKind int

const (
	Subscribe SubscriptionKind = iota
	Unsubscribe
)

func (k SubscriptionKind) String() string {
	switch k {
	case Subscribe:
		return "subscribe"
	case Unsubscribe:
		return "unsubscribe"
	default:
		return "unknown"
	}
}

type SubscriptionEvent struct {
	ChatId ChatId           `json:"chat_id"`
	UserId UserId           `json:"user_id"`
	Kind   SubscriptionKind `json:"-"`
}
