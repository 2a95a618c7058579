package registry

import (
	"sync"

	"github.com/goevery/chat/internal/chat"
)

// SubscriptionTable caches which users belong to which chats. A chat
// missing from the table has no known local subscribers yet; storage
// remains authoritative for membership.
type SubscriptionTable struct {
	mu sync.RWMutex

	subscribersByChat map[chat.ChatId]map[chat.UserId]struct{}
}

func NewSubscriptionTable() *SubscriptionTable {
	return &SubscriptionTable{
		subscribersByChat: make(map[chat.ChatId]map[chat.UserId]struct{}),
	}
}

func (t *SubscriptionTable) Subscribe(chatId chat.ChatId, userId chat.UserId) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.subscribeLocked(chatId, userId)
}

func (t *SubscriptionTable) Unsubscribe(chatId chat.ChatId, userId chat.UserId) {
	t.mu.Lock()
	defer t.mu.Unlock()

	subscribers, ok := t.subscribersByChat[chatId]
	if !ok {
		return
	}

	delete(subscribers, userId)
	if len(subscribers) == 0 {
		delete(t.subscribersByChat, chatId)
	}
}

// Backfill merges userId into every listed chat. Chats not listed are left
// untouched and no existing member is ever removed.
func (t *SubscriptionTable) Backfill(userId chat.UserId, chatIds []chat.ChatId) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, chatId := range chatIds {
		t.subscribeLocked(chatId, userId)
	}
}

// IMPORTANT: It must be called only when a write lock is already held.
func (t *SubscriptionTable) subscribeLocked(chatId chat.ChatId, userId chat.UserId) {
	if _, ok := t.subscribersByChat[chatId]; !ok {
		t.subscribersByChat[chatId] = make(map[chat.UserId]struct{})
	}

	t.subscribersByChat[chatId][userId] = struct{}{}
}

// SubscribersOf returns a snapshot of the chat's subscribers, empty when
// the chat is unknown.
func (t *SubscriptionTable) SubscribersOf(chatId chat.ChatId) []chat.UserId {
	t.mu.RLock()
	defer t.mu.RUnlock()

	subscribers := t.subscribersByChat[chatId]

	userIds := make([]chat.UserId, 0, len(subscribers))
	for userId := range subscribers {
		userIds = append(userIds, userId)
	}

	return userIds
}

func (t *SubscriptionTable) IsSubscribed(chatId chat.ChatId, userId chat.UserId) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	_, ok := t.subscribersByChat[chatId][userId]

	return ok
}
