package brainstorm

import (
	"errors"
	"strings"
)

var (
	ErrSessionNotFound  = errors.New("brainstorm session not found")
	ErrBranchNotFound   = errors.New("branch not found")
	ErrQuestionNotFound = errors.New("branch question not found")
	ErrAlreadyAnswered  = errors.New("branch question already answered")
	ErrInvalidSessionID = errors.New("invalid session id")
)

const maxSessionIDLen = 128

// ValidateSessionID rejects ids that could escape the storage namespace.
// Every store runs this before deriving a filesystem path or key from the
// id, so a hostile id never reaches the filesystem at all.
func ValidateSessionID(id string) error {
	if id == "" || len(id) > maxSessionIDLen {
		return ErrInvalidSessionID
	}
	if strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return ErrInvalidSessionID
	}
	return nil
}
