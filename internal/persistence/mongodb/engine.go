package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/ierr"
	"github.com/goevery/chat/internal/persistence"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type User struct {
	Id         int64     `bson:"_id"`
	Name       string    `bson:"name"`
	CreateTime time.Time `bson:"createTime"`
}

type Chat struct {
	Id         string    `bson:"_id"`
	Name       string    `bson:"name"`
	Users      []int64   `bson:"users"`
	ChatType   string    `bson:"chatType"`
	CreateTime time.Time `bson:"createTime"`
}

type Message struct {
	ChatId   string `bson:"chatId"`
	SenderId int64  `bson:"senderId"`
	Date     int64  `bson:"date"`
	Text     string `bson:"text"`
}

type PersistenceEngine struct {
	users    *mongo.Collection
	chats    *mongo.Collection
	messages *mongo.Collection
}

func NewPersistenceEngine(client *mongo.Client, databaseName string) *PersistenceEngine {
	database := client.Database(databaseName)

	return &PersistenceEngine{
		database.Collection("users"),
		database.Collection("chats"),
		database.Collection("messages"),
	}
}

func (e *PersistenceEngine) Setup(ctx context.Context) error {
	membersIndexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "users", Value: 1}},
	}

	_, err := e.chats.Indexes().CreateOne(ctx, membersIndexModel)
	if err != nil {
		return err
	}

	historyIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "chatId", Value: 1},
			{Key: "date", Value: -1},
		},
	}

	_, err = e.messages.Indexes().CreateOne(ctx, historyIndexModel)

	return err
}

func (e *PersistenceEngine) GetUserChats(ctx context.Context, userId chat.UserId) ([]chat.ChatId, error) {
	opts := options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}})

	cursor, err := e.chats.Find(ctx, bson.M{"users": int64(userId)}, opts)
	if err != nil {
		return nil, persistence.Unavailable(err)
	}

	var mongoChats []Chat
	err = cursor.All(ctx, &mongoChats)
	if err != nil {
		return nil, persistence.Unavailable(err)
	}

	chatIds := make([]chat.ChatId, 0, len(mongoChats))
	for _, c := range mongoChats {
		chatId, err := uuid.Parse(c.Id)
		if err != nil {
			return nil, ierr.New(ierr.ErrorCodeInternal, fmt.Errorf("stored chat id %q: %w", c.Id, err))
		}

		chatIds = append(chatIds, chatId)
	}

	return chatIds, nil
}

func (e *PersistenceEngine) SaveMessage(ctx context.Context, message chat.Message) error {
	err := e.requireMember(ctx, message.SenderId, message.ChatId)
	if err != nil {
		return err
	}

	_, err = e.messages.InsertOne(ctx, Message{
		ChatId:   message.ChatId.String(),
		SenderId: int64(message.SenderId),
		Date:     message.Date,
		Text:     message.Text,
	})
	if err != nil {
		return persistence.Unavailable(err)
	}

	return nil
}

func (e *PersistenceEngine) ListMessages(ctx context.Context, userId chat.UserId, chatId chat.ChatId, limit int) ([]chat.Message, error) {
	err := e.requireMember(ctx, userId, chatId)
	if err != nil {
		return nil, err
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: -1}}).
		SetLimit(int64(persistence.HistoryLimit(limit)))

	cursor, err := e.messages.Find(ctx, bson.M{"chatId": chatId.String()}, opts)
	if err != nil {
		return nil, persistence.Unavailable(err)
	}

	var mongoMessages []Message
	err = cursor.All(ctx, &mongoMessages)
	if err != nil {
		return nil, persistence.Unavailable(err)
	}

	messages := make([]chat.Message, len(mongoMessages))
	for i, m := range mongoMessages {
		messages[i] = chat.Message{
			ChatId:   chatId,
			SenderId: chat.UserId(m.SenderId),
			Date:     m.Date,
			Text:     m.Text,
		}
	}

	return messages, nil
}

func (e *PersistenceEngine) CreateUser(ctx context.Context, userId chat.UserId, name string) (chat.UserInfo, error) {
	user := User{
		Id:         int64(userId),
		Name:       name,
		CreateTime: time.Now().UTC(),
	}

	_, err := e.users.InsertOne(ctx, user)
	if mongo.IsDuplicateKeyError(err) {
		return chat.UserInfo{}, ierr.New(ierr.ErrorCodeAlreadyExists, fmt.Errorf("user %s already exists", userId))
	}
	if err != nil {
		return chat.UserInfo{}, persistence.Unavailable(err)
	}

	return chat.UserInfo{
		Id:         userId,
		Name:       name,
		Chats:      []chat.ChatId{},
		CreateTime: user.CreateTime,
	}, nil
}

func (e *PersistenceEngine) GetUserInfo(ctx context.Context, userId chat.UserId) (chat.UserInfo, error) {
	var user User
	err := e.users.FindOne(ctx, bson.M{"_id": int64(userId)}).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.UserInfo{}, ierr.New(ierr.ErrorCodeNotFound, fmt.Errorf("user %s not found", userId))
	}
	if err != nil {
		return chat.UserInfo{}, persistence.Unavailable(err)
	}

	chatIds, err := e.GetUserChats(ctx, userId)
	if err != nil {
		return chat.UserInfo{}, err
	}

	return chat.UserInfo{
		Id:         userId,
		Name:       user.Name,
		Chats:      chatIds,
		CreateTime: user.CreateTime,
	}, nil
}

func (e *PersistenceEngine) CreateChat(ctx context.Context, request persistence.CreateChatRequest) (chat.ChatInfo, error) {
	err := request.Validate()
	if err != nil {
		return chat.ChatInfo{}, err
	}

	members := request.Members()
	users := make([]int64, len(members))
	for i, userId := range members {
		users[i] = int64(userId)
	}

	registered, err := e.users.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": users}})
	if err != nil {
		return chat.ChatInfo{}, persistence.Unavailable(err)
	}
	if registered != int64(len(users)) {
		return chat.ChatInfo{}, ierr.New(ierr.ErrorCodeFailedPrecondition, errors.New("every member must be a registered user"))
	}

	mongoChat := Chat{
		Id:         uuid.NewString(),
		Name:       request.Name,
		Users:      users,
		ChatType:   string(request.ChatType),
		CreateTime: time.Now().UTC(),
	}

	_, err = e.chats.InsertOne(ctx, mongoChat)
	if err != nil {
		return chat.ChatInfo{}, persistence.Unavailable(err)
	}

	return toChatInfo(mongoChat)
}

func (e *PersistenceEngine) GetChatInfo(ctx context.Context, userId chat.UserId, chatId chat.ChatId) (chat.ChatInfo, error) {
	mongoChat, err := e.findChat(ctx, chatId)
	if err != nil {
		return chat.ChatInfo{}, err
	}

	chatInfo, err := toChatInfo(mongoChat)
	if err != nil {
		return chat.ChatInfo{}, err
	}

	if !chatInfo.HasMember(userId) {
		return chat.ChatInfo{}, notMember(userId, chatId)
	}

	return chatInfo, nil
}

func (e *PersistenceEngine) AddUserToChat(ctx context.Context, userId chat.UserId, guestId chat.UserId, chatId chat.ChatId) error {
	chatInfo, err := e.GetChatInfo(ctx, userId, chatId)
	if err != nil {
		return err
	}

	if chatInfo.ChatType == chat.ChatTypePrivate {
		return ierr.New(ierr.ErrorCodeFailedPrecondition, errors.New("private chats cannot take new members"))
	}

	if chatInfo.HasMember(guestId) {
		return ierr.New(ierr.ErrorCodeAlreadyExists, fmt.Errorf("user %s is already a member", guestId))
	}

	registered, err := e.users.CountDocuments(ctx, bson.M{"_id": int64(guestId)})
	if err != nil {
		return persistence.Unavailable(err)
	}
	if registered == 0 {
		return ierr.New(ierr.ErrorCodeFailedPrecondition, fmt.Errorf("user %s is not registered", guestId))
	}

	_, err = e.chats.UpdateOne(ctx,
		bson.M{"_id": chatId.String()},
		bson.M{"$addToSet": bson.M{"users": int64(guestId)}})
	if err != nil {
		return persistence.Unavailable(err)
	}

	return nil
}

// ExitChat removes the chat and its history once the last member leaves.
func (e *PersistenceEngine) ExitChat(ctx context.Context, userId chat.UserId, chatId chat.ChatId) error {
	result, err := e.chats.UpdateOne(ctx,
		bson.M{"_id": chatId.String(), "users": int64(userId)},
		bson.M{"$pull": bson.M{"users": int64(userId)}})
	if err != nil {
		return persistence.Unavailable(err)
	}
	if result.MatchedCount == 0 {
		return ierr.New(ierr.ErrorCodeFailedPrecondition, fmt.Errorf("user %s is not a member of chat %s", userId, chatId))
	}

	deleted, err := e.chats.DeleteOne(ctx, bson.M{
		"_id":   chatId.String(),
		"users": bson.M{"$size": 0},
	})
	if err != nil {
		return persistence.Unavailable(err)
	}

	if deleted.DeletedCount > 0 {
		_, err = e.messages.DeleteMany(ctx, bson.M{"chatId": chatId.String()})
		if err != nil {
			return persistence.Unavailable(err)
		}
	}

	return nil
}

func (e *PersistenceEngine) findChat(ctx context.Context, chatId chat.ChatId) (Chat, error) {
	var mongoChat Chat
	err := e.chats.FindOne(ctx, bson.M{"_id": chatId.String()}).Decode(&mongoChat)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Chat{}, ierr.New(ierr.ErrorCodeNotFound, fmt.Errorf("chat %s not found", chatId))
	}
	if err != nil {
		return Chat{}, persistence.Unavailable(err)
	}

	return mongoChat, nil
}

func (e *PersistenceEngine) requireMember(ctx context.Context, userId chat.UserId, chatId chat.ChatId) error {
	count, err := e.chats.CountDocuments(ctx, bson.M{
		"_id":   chatId.String(),
		"users": int64(userId),
	})
	if err != nil {
		return persistence.Unavailable(err)
	}
	if count == 0 {
		return notMember(userId, chatId)
	}

	return nil
}

func notMember(userId chat.UserId, chatId chat.ChatId) error {
	return ierr.New(ierr.ErrorCodePermissionDenied, fmt.Errorf("user %s is not a member of chat %s", userId, chatId))
}

func toChatInfo(c Chat) (chat.ChatInfo, error) {
	chatId, err := uuid.Parse(c.Id)
	if err != nil {
		return chat.ChatInfo{}, ierr.New(ierr.ErrorCodeInternal, fmt.Errorf("stored chat id %q: %w", c.Id, err))
	}

	users := make([]chat.UserId, len(c.Users))
	for i, u := range c.Users {
		users[i] = chat.UserId(u)
	}

	return chat.ChatInfo{
		Id:         chatId,
		Name:       c.Name,
		Users:      users,
		ChatType:   chat.ChatType(c.ChatType),
		CreateTime: c.CreateTime,
	}, nil
}
