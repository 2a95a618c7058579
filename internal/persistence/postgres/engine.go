package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/ierr"
	"github.com/goevery/chat/internal/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		create_time TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id UUID PRIMARY KEY,
		name TEXT NOT NULL,
		chat_type TEXT NOT NULL,
		create_time TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_members (
		chat_id UUID NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users (id),
		PRIMARY KEY (chat_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS chat_members_user_id_idx ON chat_members (user_id)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id BIGSERIAL PRIMARY KEY,
		chat_id UUID NOT NULL REFERENCES chats (id) ON DELETE CASCADE,
		sender_id BIGINT NOT NULL,
		date BIGINT NOT NULL,
		text TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS messages_chat_id_date_idx ON messages (chat_id, date DESC)`,
}

// Connect creates a connection pool and verifies the database answers.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

type PersistenceEngine struct {
	pool *pgxpool.Pool
}

func NewPersistenceEngine(pool *pgxpool.Pool) *PersistenceEngine {
	return &PersistenceEngine{
		pool,
	}
}

func (e *PersistenceEngine) Setup(ctx context.Context) error {
	for _, statement := range schema {
		if _, err := e.pool.Exec(ctx, statement); err != nil {
			return err
		}
	}

	return nil
}

func (e *PersistenceEngine) GetUserChats(ctx context.Context, userId chat.UserId) ([]chat.ChatId, error) {
	rows, err := e.pool.Query(ctx,
		`SELECT chat_id FROM chat_members WHERE user_id = $1`, int64(userId))
	if err != nil {
		return nil, persistence.Unavailable(err)
	}

	chatIds, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, persistence.Unavailable(err)
	}

	return chatIds, nil
}

func (e *PersistenceEngine) SaveMessage(ctx context.Context, message chat.Message) error {
	tag, err := e.pool.Exec(ctx,
		`INSERT INTO messages (chat_id, sender_id, date, text)
		SELECT chat_id, user_id, $3, $4 FROM chat_members
		WHERE chat_id = $1 AND user_id = $2`,
		message.ChatId, int64(message.SenderId), message.Date, message.Text)
	if err != nil {
		return persistence.Unavailable(err)
	}

	if tag.RowsAffected() == 0 {
		return notMember(message.SenderId, message.ChatId)
	}

	return nil
}

func (e *PersistenceEngine) ListMessages(ctx context.Context, userId chat.UserId, chatId chat.ChatId, limit int) ([]chat.Message, error) {
	err := e.requireMember(ctx, e.pool, userId, chatId)
	if err != nil {
		return nil, err
	}

	rows, err := e.pool.Query(ctx,
		`SELECT chat_id, sender_id, date, text FROM messages
		WHERE chat_id = $1
		ORDER BY date DESC, id DESC
		LIMIT $2`,
		chatId, persistence.HistoryLimit(limit))
	if err != nil {
		return nil, persistence.Unavailable(err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		var message chat.Message
		var senderId int64

		err := row.Scan(&message.ChatId, &senderId, &message.Date, &message.Text)
		message.SenderId = chat.UserId(senderId)

		return message, err
	})
	if err != nil {
		return nil, persistence.Unavailable(err)
	}

	return messages, nil
}

func (e *PersistenceEngine) CreateUser(ctx context.Context, userId chat.UserId, name string) (chat.UserInfo, error) {
	createTime := time.Now().UTC()

	_, err := e.pool.Exec(ctx,
		`INSERT INTO users (id, name, create_time) VALUES ($1, $2, $3)`,
		int64(userId), name, createTime)
	if isUniqueViolation(err) {
		return chat.UserInfo{}, ierr.New(ierr.ErrorCodeAlreadyExists, fmt.Errorf("user %s already exists", userId))
	}
	if err != nil {
		return chat.UserInfo{}, persistence.Unavailable(err)
	}

	return chat.UserInfo{
		Id:         userId,
		Name:       name,
		Chats:      []chat.ChatId{},
		CreateTime: createTime,
	}, nil
}

func (e *PersistenceEngine) GetUserInfo(ctx context.Context, userId chat.UserId) (chat.UserInfo, error) {
	userInfo := chat.UserInfo{Id: userId}

	err := e.pool.QueryRow(ctx,
		`SELECT name, create_time FROM users WHERE id = $1`, int64(userId)).
		Scan(&userInfo.Name, &userInfo.CreateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.UserInfo{}, ierr.New(ierr.ErrorCodeNotFound, fmt.Errorf("user %s not found", userId))
	}
	if err != nil {
		return chat.UserInfo{}, persistence.Unavailable(err)
	}

	userInfo.Chats, err = e.GetUserChats(ctx, userId)
	if err != nil {
		return chat.UserInfo{}, err
	}

	return userInfo, nil
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

	chatInfo := chat.ChatInfo{
		Id:         uuid.New(),
		Name:       request.Name,
		Users:      members,
		ChatType:   request.ChatType,
		CreateTime: time.Now().UTC(),
	}

	err = pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
		var registered int
		err := tx.QueryRow(ctx,
			`SELECT count(*) FROM users WHERE id = ANY($1)`, users).
			Scan(&registered)
		if err != nil {
			return persistence.Unavailable(err)
		}
		if registered != len(users) {
			return ierr.New(ierr.ErrorCodeFailedPrecondition, errors.New("every member must be a registered user"))
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO chats (id, name, chat_type, create_time) VALUES ($1, $2, $3, $4)`,
			chatInfo.Id, chatInfo.Name, string(chatInfo.ChatType), chatInfo.CreateTime)
		if err != nil {
			return persistence.Unavailable(err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO chat_members (chat_id, user_id) SELECT $1, unnest($2::BIGINT[])`,
			chatInfo.Id, users)
		if err != nil {
			return persistence.Unavailable(err)
		}

		return nil
	})
	if err != nil {
		return chat.ChatInfo{}, asCoded(err)
	}

	return chatInfo, nil
}

func (e *PersistenceEngine) GetChatInfo(ctx context.Context, userId chat.UserId, chatId chat.ChatId) (chat.ChatInfo, error) {
	return e.getChatInfo(ctx, e.pool, userId, chatId)
}

func (e *PersistenceEngine) AddUserToChat(ctx context.Context, userId chat.UserId, guestId chat.UserId, chatId chat.ChatId) error {
	err := pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
		chatInfo, err := e.getChatInfo(ctx, tx, userId, chatId)
		if err != nil {
			return err
		}

		if chatInfo.ChatType == chat.ChatTypePrivate {
			return ierr.New(ierr.ErrorCodeFailedPrecondition, errors.New("private chats cannot take new members"))
		}

		if chatInfo.HasMember(guestId) {
			return ierr.New(ierr.ErrorCodeAlreadyExists, fmt.Errorf("user %s is already a member", guestId))
		}

		var registered bool
		err = tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, int64(guestId)).
			Scan(&registered)
		if err != nil {
			return persistence.Unavailable(err)
		}
		if !registered {
			return ierr.New(ierr.ErrorCodeFailedPrecondition, fmt.Errorf("user %s is not registered", guestId))
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO chat_members (chat_id, user_id) VALUES ($1, $2)`,
			chatId, int64(guestId))
		if err != nil {
			return persistence.Unavailable(err)
		}

		return nil
	})

	return asCoded(err)
}

// ExitChat removes the chat and its history once the last member leaves.
func (e *PersistenceEngine) ExitChat(ctx context.Context, userId chat.UserId, chatId chat.ChatId) error {
	err := pgx.BeginFunc(ctx, e.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`DELETE FROM chat_members WHERE chat_id = $1 AND user_id = $2`,
			chatId, int64(userId))
		if err != nil {
			return persistence.Unavailable(err)
		}
		if tag.RowsAffected() == 0 {
			return ierr.New(ierr.ErrorCodeFailedPrecondition, fmt.Errorf("user %s is not a member of chat %s", userId, chatId))
		}

		_, err = tx.Exec(ctx,
			`DELETE FROM chats WHERE id = $1
			AND NOT EXISTS (SELECT 1 FROM chat_members WHERE chat_id = $1)`,
			chatId)
		if err != nil {
			return persistence.Unavailable(err)
		}

		return nil
	})

	return asCoded(err)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (e *PersistenceEngine) getChatInfo(ctx context.Context, q querier, userId chat.UserId, chatId chat.ChatId) (chat.ChatInfo, error) {
	chatInfo := chat.ChatInfo{Id: chatId}
	var chatType string

	err := q.QueryRow(ctx,
		`SELECT name, chat_type, create_time FROM chats WHERE id = $1`, chatId).
		Scan(&chatInfo.Name, &chatType, &chatInfo.CreateTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.ChatInfo{}, ierr.New(ierr.ErrorCodeNotFound, fmt.Errorf("chat %s not found", chatId))
	}
	if err != nil {
		return chat.ChatInfo{}, persistence.Unavailable(err)
	}
	chatInfo.ChatType = chat.ChatType(chatType)

	rows, err := q.Query(ctx,
		`SELECT user_id FROM chat_members WHERE chat_id = $1 ORDER BY user_id`, chatId)
	if err != nil {
		return chat.ChatInfo{}, persistence.Unavailable(err)
	}

	users, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return chat.ChatInfo{}, persistence.Unavailable(err)
	}

	chatInfo.Users = make([]chat.UserId, len(users))
	for i, u := range users {
		chatInfo.Users[i] = chat.UserId(u)
	}

	if !chatInfo.HasMember(userId) {
		return chat.ChatInfo{}, notMember(userId, chatId)
	}

	return chatInfo, nil
}

func (e *PersistenceEngine) requireMember(ctx context.Context, q querier, userId chat.UserId, chatId chat.ChatId) error {
	var member bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`,
		chatId, int64(userId)).
		Scan(&member)
	if err != nil {
		return persistence.Unavailable(err)
	}
	if !member {
		return notMember(userId, chatId)
	}

	return nil
}

func notMember(userId chat.UserId, chatId chat.ChatId) error {
	return ierr.New(ierr.ErrorCodePermissionDenied, fmt.Errorf("user %s is not a member of chat %s", userId, chatId))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// asCoded keeps coded errors raised inside a transaction and reports
// begin or commit failures as unavailable.
func asCoded(err error) error {
	if err == nil {
		return nil
	}

	var coded ierr.Error
	if errors.As(err, &coded) {
		return err
	}

	return persistence.Unavailable(err)
}
