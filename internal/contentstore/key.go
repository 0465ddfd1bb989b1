package contentstore

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	keyTokenBytes   = 16
	maxExtLength    = 16
	maxOwnerSegment = 64
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// NewKey returns a fresh storage key of the form <owner>_<token><ext>, where
// token is 128 random bits. The original name only contributes its extension.
func NewKey(ownerID, originalName string) (string, error) {
	owner := strings.TrimLeft(sanitizeSegment(ownerID, maxOwnerSegment), "-")
	if owner == "" {
		return "", fmt.Errorf("owner id is required")
	}
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	return owner + "_" + token + keyExtension(originalName), nil
}

// ValidateKey rejects keys that are empty, contain path elements, or use
// characters outside the key alphabet.
func ValidateKey(key string) error {
	if key == "" || len(key) > 255 {
		return ErrInvalidKey
	}
	if strings.Contains(key, "..") || !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

// shardPath maps a key to its relative location: <aa>/<bb>/<key>.
func shardPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	digest := hex.EncodeToString(sum[:])
	return filepath.Join(digest[0:2], digest[2:4], key)
}

func keyExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
	if ext == "" || ext == "." {
		return ""
	}
	clean := "." + sanitizeSegment(strings.TrimPrefix(ext, "."), maxExtLength)
	if clean == "." {
		return ""
	}
	return clean
}

func sanitizeSegment(value string, max int) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(value) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
		if b.Len() >= max {
			break
		}
	}
	return b.String()
}

func randomToken() (string, error) {
	buf := make([]byte, keyTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
