package chat

import "time"

type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

func (t ChatType) Valid() bool {
	return t == ChatTypePrivate || t == ChatTypeGroup
}

type UserInfo struct {
	Id         UserId    `json:"id"`
	Name       string    `json:"name"`
	Chats      []ChatId  `json:"chats"`
	CreateTime time.Time `json:"createTime"`
}

type ChatInfo struct {
	Id         ChatId    `json:"id"`
	Name       string    `json:"name"`
	Users      []UserId  `json:"users"`
	ChatType   ChatType  `json:"chat_type"`
	CreateTime time.Time `json:"createTime"`
}

func (c ChatInfo) HasMember(userId UserId) bool {
	for _, u := range c.Users {
		if u == userId {
			return true
		}
	}

	return false
}
