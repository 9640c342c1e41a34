package types

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Compiled once at package initialization; validation runs on every inbound
// gateway event.
var (
	userIDRegex   = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomCodeRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// IsValidUserID checks if a user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomCode checks if a room code meets format requirements. Room codes
// are opaque to the coordinator; the format exists only to keep them safe in
// URLs and log lines.
func IsValidRoomCode(code string) bool {
	if len(code) < 1 || len(code) > 64 {
		return false
	}
	return roomCodeRegex.MatchString(code)
}

// IsValidViolationKind checks a violation kind label. Kinds are client-defined
// (tab_switch, window_blur, ...); the coordinator only constrains the format.
func IsValidViolationKind(kind string) bool {
	if len(kind) < 1 || len(kind) > 50 {
		return false
	}
	return userIDRegex.MatchString(kind)
}

// NewRoomCode derives a human-readable room code from a class name plus a
// random suffix, e.g. "math-101-a7x9c2f1". Uniqueness among live rooms is
// enforced by the registry, not here.
func NewRoomCode(className string) string {
	slug := slugify(className)
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	if slug == "" {
		return suffix
	}
	code := slug + "-" + suffix
	if len(code) > 64 {
		code = code[:64]
	}
	return code
}

// slugify reduces a class name to the room-code charset.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphens
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
