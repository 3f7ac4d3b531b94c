package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/capitalize-ai/localchat/internal/model"
)

const (
	maxContentBytes = 100000
	maxFileBytes    = 1 << 20
	maxFiles        = 16
)

// ValidateMessageContent validates message content.
func ValidateMessageContent(content string) error {
	if len(content) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(content) > maxContentBytes {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(content) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}

// ValidateFiles validates attached files.
func ValidateFiles(files []model.File) error {
	if len(files) > maxFiles {
		return errors.New("too many attached files")
	}
	for _, f := range files {
		if f.Name == "" {
			return errors.New("attached file name cannot be empty")
		}
		if len(f.Content) > maxFileBytes {
			return errors.New("attached file exceeds maximum size")
		}
		if !utf8.ValidString(f.Content) || !utf8.ValidString(f.Name) {
			return errors.New("attached files must be valid UTF-8")
		}
	}
	return nil
}

// ValidateSendRequest validates a message submission.
func ValidateSendRequest(req *model.SendMessageRequest) error {
	if err := ValidateMessageContent(req.Content); err != nil {
		return err
	}
	return ValidateFiles(req.Files)
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid conversation ID format")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid message ID format")
	}
	return nil
}

// ValidateTitle validates a conversation title.
func ValidateTitle(title string) error {
	if len(title) == 0 {
		return errors.New("title cannot be empty")
	}
	if len(title) > 256 {
		return errors.New("title exceeds maximum length")
	}
	if !utf8.ValidString(title) {
		return errors.New("title must be valid UTF-8")
	}
	return nil
}
