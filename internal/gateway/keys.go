package gateway

import (
	"regexp"
	"strings"
	"sync"
	"time"
)

// KeyRoot is the top-level folder holding every user's files.
const KeyRoot = "users/"

const (
	maxUsernameLen = 64
	maxFileNameLen = 255
)

// usernameRe enforces a conservative username pattern.
var usernameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// UserPrefix normalises a username into the folder token used in object
// keys: lowercased, with every character outside [a-z0-9_-] replaced by
// '-'. The mapping is deterministic but not injective; "A.B", "a-b" and
// "a.b" all map to "a-b".
func UserPrefix(username string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(username) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// UserFolder returns users/<prefix>/ for username.
func UserFolder(username string) string {
	return KeyRoot + UserPrefix(username) + "/"
}

// prefixHoldKey is the record key that reserves prefix for one account.
// '#' is outside the username alphabet so it never names a real account.
func prefixHoldKey(prefix string) string { return "prefix#" + prefix }

// ValidateUsername checks length and allowed characters.
func ValidateUsername(username string) error {
	if username == "" {
		return invalid("username is required")
	}
	if len(username) > maxUsernameLen || !usernameRe.MatchString(username) {
		return invalid("username must be 1-64 letters, digits, '.', '_' or '-'")
	}
	return nil
}

// ValidateFileName rejects names that could escape the user's folder or
// confuse key parsing.
func ValidateFileName(name string) error {
	if strings.TrimSpace(name) == "" {
		return invalid("file name is required")
	}
	if len(name) > maxFileNameLen {
		return invalid("file name is too long")
	}
	if name == "." || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return invalid("file name must not contain path separators or '..'")
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return invalid("file name must not contain control characters")
		}
	}
	return nil
}

// ParseFileKey splits users/<prefix>/<object> and reports whether the key
// is well formed.
func ParseFileKey(key string) (prefix, object string, ok bool) {
	if !strings.HasPrefix(key, KeyRoot) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(key, KeyRoot), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	if UserPrefix(parts[0]) != parts[0] || strings.Contains(parts[1], "..") {
		return "", "", false
	}
	if strings.Trim(parts[0], "-") == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// stamper hands out strictly increasing epoch-millisecond values so two
// uploads in the same millisecond still get distinct keys.
type stamper struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func (s *stamper) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := s.now().UnixMilli()
	if ms <= s.last {
		ms = s.last + 1
	}
	s.last = ms
	return ms
}
