package handler

import (
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/goevery/chat/internal/ierr"
)

const (
	maxMessageLength = 4096
	maxNameLength    = 64
)

type Validator struct {
	nameRegex *regexp.Regexp
}

func NewValidator() *Validator {
	return &Validator{
		nameRegex: regexp.MustCompile(`^\S(.*\S)?$`),
	}
}

// ValidateName checks user and chat names: printable, trimmed and short.
func (v *Validator) ValidateName(name string) error {
	if utf8.RuneCountInString(name) > maxNameLength || !v.nameRegex.MatchString(name) {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid name"))
	}

	return nil
}

func (v *Validator) ValidateText(text string) error {
	if text == "" {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("message text cannot be empty"))
	}

	if !utf8.ValidString(text) || utf8.RuneCountInString(text) > maxMessageLength {
		return ierr.New(ierr.ErrorCodeInvalidArgument, errors.New("invalid message text"))
	}

	return nil
}
