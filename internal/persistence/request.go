package persistence

import (
	"errors"
	"slices"

	"github.com/goevery/chat/internal/chat"
	"github.com/goevery/chat/internal/ierr"
)

// Members returns the creator followed by every distinct invitee.
func (r CreateChatRequest) Members() []chat.UserId {
	members := []chat.UserId{r.Creator}
	for _, userId := range r.Invited {
		if !slices.Contains(members, userId) {
			members = append(members, userId)
		}
	}

	return members
}

func (r CreateChatRequest) Validate() error {
	if !r.ChatType.Valid() {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("unknown chat type"))
	}

	if r.Name == "" {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("chat name is required"))
	}

	members := r.Members()
	if r.ChatType == chat.ChatTypePrivate && len(members) != 2 {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("private chat needs exactly one other user"))
	}

	if r.ChatType == chat.ChatTypeGroup && len(members) < 2 {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("group chat needs at least one other user"))
	}

	return nil
}

// HistoryLimit clamps a requested history page size.
func HistoryLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}

	return min(limit, MaxHistoryLimit)
}

func Unavailable(err error) error {
	return ierr.New(ierr.ErrorCodeUnavailable, err)
}
