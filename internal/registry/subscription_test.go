package registry

import (
	"testing"

	"github.com/goevery/chat/internal/chat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSubscriptionTable(t *testing.T) {
	c1 := uuid.New()
	c2 := uuid.New()
	c3 := uuid.New()

	t.Run("unknown chat has no subscribers", func(t *testing.T) {
		table := NewSubscriptionTable()

		assert.Empty(t, table.SubscribersOf(c1))
	})

	t.Run("backfill merges user into every listed chat", func(t *testing.T) {
		table := NewSubscriptionTable()
		table.Subscribe(c1, 2)
		table.Subscribe(c3, 3)

		table.Backfill(1, []chat.ChatId{c1, c2})

		assert.ElementsMatch(t, []chat.UserId{1, 2}, table.SubscribersOf(c1))
		assert.ElementsMatch(t, []chat.UserId{1}, table.SubscribersOf(c2))
		assert.ElementsMatch(t, []chat.UserId{3}, table.SubscribersOf(c3))
	})

	t.Run("empty backfill changes nothing", func(t *testing.T) {
		table := NewSubscriptionTable()
		table.Subscribe(c1, 2)

		table.Backfill(1, nil)

		assert.ElementsMatch(t, []chat.UserId{2}, table.SubscribersOf(c1))
	})

	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		once := NewSubscriptionTable()
		twice := NewSubscriptionTable()
		for _, table := range []*SubscriptionTable{once, twice} {
			table.Subscribe(c1, 1)
			table.Subscribe(c1, 2)
		}

		once.Unsubscribe(c1, 1)
		twice.Unsubscribe(c1, 1)
		twice.Unsubscribe(c1, 1)

		assert.ElementsMatch(t, once.SubscribersOf(c1), twice.SubscribersOf(c1))
		assert.False(t, twice.IsSubscribed(c1, 1))
		assert.True(t, twice.IsSubscribed(c1, 2))
	})

	t.Run("unsubscribe from unknown chat is a no-op", func(t *testing.T) {
		table := NewSubscriptionTable()

		table.Unsubscribe(c1, 1)

		assert.Empty(t, table.SubscribersOf(c1))
	})
}
