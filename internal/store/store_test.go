package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"uk.co.dudmesh.courier/internal/boot"
	"uk.co.dudmesh.courier/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	config := &boot.Config{}
	config.DataDirectory = t.TempDir()

	store, err := Open(config)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createTestUser(t *testing.T, store *Store, id model.UserID, name string) {
	t.Helper()
	err := store.CreateUser(&model.User{
		ID:          id,
		CreatedAt:   time.Now().UTC(),
		DisplayName: name,
	})
	require.NoError(t, err)
}

func TestUsers(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	createTestUser(t, store, "alice", "Alice")
	createTestUser(t, store, "bob", "Bob")

	t.Run("Find", func(t *testing.T) {
		user, err := store.FindUser("alice")
		assert.Nil(err)
		assert.Equal("Alice", user.DisplayName)
	})

	t.Run("Find unknown", func(t *testing.T) {
		_, err := store.FindUser("mallory")
		assert.ErrorIs(err, model.ErrorUserNotFound)
	})

	t.Run("List is ordered by display name", func(t *testing.T) {
		users, err := store.ListUsers()
		assert.Nil(err)
		if assert.Len(users, 2) {
			assert.Equal(model.UserID("alice"), users[0].ID)
			assert.Equal(model.UserID("bob"), users[1].ID)
		}
	})

	t.Run("Touch last active", func(t *testing.T) {
		at := time.Now().UTC().Truncate(time.Second)
		err := store.TouchLastActive("alice", at)
		assert.Nil(err)

		user, err := store.FindUser("alice")
		assert.Nil(err)
		if assert.NotNil(user.LastActive) {
			assert.WithinDuration(at, *user.LastActive, time.Second)
		}
	})
}

func TestCreateMessage(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	t.Run("Create starts at sent", func(t *testing.T) {
		message, err := store.CreateMessage("alice", "bob", "payload", "iv")
		assert.Nil(err)
		assert.NotEmpty(message.ID)
		assert.Equal(model.MessageStatusSent, message.Status)
		assert.Equal("payload", message.Content)
		assert.Equal("iv", message.AuxData)
	})

	t.Run("Empty content is rejected", func(t *testing.T) {
		_, err := store.CreateMessage("alice", "bob", "", "")
		assert.ErrorIs(err, model.ErrorEmptyContent)
	})
}

func TestUpdateMessageStatus(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	message, err := store.CreateMessage("alice", "bob", "payload", "")
	assert.Nil(err)

	t.Run("Advance", func(t *testing.T) {
		err := store.UpdateMessageStatus(message.ID, model.MessageStatusDelivered)
		assert.Nil(err)
	})

	t.Run("Regression is rejected", func(t *testing.T) {
		err := store.UpdateMessageStatus(message.ID, model.MessageStatusSent)
		assert.ErrorIs(err, model.ErrorStatusRegression)
	})

	t.Run("Same status is rejected", func(t *testing.T) {
		err := store.UpdateMessageStatus(message.ID, model.MessageStatusDelivered)
		assert.ErrorIs(err, model.ErrorStatusRegression)
	})

	t.Run("Advance again", func(t *testing.T) {
		err := store.UpdateMessageStatus(message.ID, model.MessageStatusRead)
		assert.Nil(err)
	})

	t.Run("Unknown message", func(t *testing.T) {
		err := store.UpdateMessageStatus("missing", model.MessageStatusDelivered)
		assert.ErrorIs(err, model.ErrorMessageNotFound)
	})
}

func TestMessagesForParticipant(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		sender, recipient := model.UserID("alice"), model.UserID("bob")
		if i%2 == 1 {
			sender, recipient = recipient, sender
		}
		_, err := store.CreateMessage(sender, recipient, "payload", "")
		assert.Nil(err)
		time.Sleep(5 * time.Millisecond)
	}
	_, err := store.CreateMessage("carol", "dave", "unrelated", "")
	assert.Nil(err)

	t.Run("Only the participant's messages, ascending", func(t *testing.T) {
		messages, err := store.MessagesForParticipant("alice", 100)
		assert.Nil(err)
		if assert.Len(messages, 5) {
			for i := 1; i < len(messages); i++ {
				assert.False(messages[i].CreatedAt.Before(messages[i-1].CreatedAt))
			}
		}
	})

	t.Run("Cap keeps the most recent", func(t *testing.T) {
		messages, err := store.MessagesForParticipant("alice", 2)
		assert.Nil(err)
		if assert.Len(messages, 2) {
			all, err := store.MessagesForParticipant("alice", 100)
			assert.Nil(err)
			assert.Equal(all[len(all)-1].ID, messages[1].ID)
			assert.Equal(all[len(all)-2].ID, messages[0].ID)
		}
	})

	t.Run("No participation yields empty", func(t *testing.T) {
		messages, err := store.MessagesForParticipant("mallory", 100)
		assert.Nil(err)
		assert.Empty(messages)
	})
}
