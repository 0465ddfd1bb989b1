package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	accountIDPrefix = "au"
	accountIDBytes  = 10
)

// NewFileID returns a random file identifier.
func NewFileID() string {
	return uuid.NewString()
}

// NewPublicLink returns an unguessable public link token.
// It is a version 4 UUID rendered as 32 hex characters.
func NewPublicLink() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// ValidPublicLink reports whether token has the shape produced by NewPublicLink.
func ValidPublicLink(token string) bool {
	if len(token) != 32 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil && strings.ToLower(token) == token
}

// ValidFileID reports whether id parses as a UUID.
func ValidFileID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil && len(id) == 36
}

func generateAccountID() (string, error) {
	id, err := randomHex(accountIDBytes)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s", accountIDPrefix, id), nil
}

func randomHex(numBytes int) (string, error) {
	if numBytes <= 0 {
		return "", fmt.Errorf("numBytes must be > 0")
	}
	buf := make([]byte, numBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
