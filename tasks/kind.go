package tasks

import (
	"strings"

	perrors "github.com/vinayprograms/inkpanel/errors"
)

// Kind identifies a panel task.
type Kind int

const (
	KindDashboard Kind = iota + 1
	KindWeather
	KindMusic
	KindMessage
	KindClean
)

var kindKeys = map[Kind]string{
	KindDashboard: "dashboard",
	KindWeather:   "weather",
	KindMusic:     "music",
	KindMessage:   "message",
	KindClean:     "clean",
}

// Kinds returns every task kind in menu order.
func Kinds() []Kind {
	return []Kind{KindDashboard, KindWeather, KindMusic, KindMessage, KindClean}
}

// ParseKind resolves a wire key, ignoring case and surrounding space.
// Keys outside the registry yield an UNKNOWN_TASK error.
func ParseKind(key string) (Kind, error) {
	norm := strings.ToLower(strings.TrimSpace(key))
	for k, v := range kindKeys {
		if v == norm {
			return k, nil
		}
	}
	return 0, perrors.UnknownTask(key)
}

// Key returns the lowercase wire key.
func (k Kind) Key() string {
	if v, ok := kindKeys[k]; ok {
		return v
	}
	return "unknown"
}

// String returns the wire key.
func (k Kind) String() string {
	return k.Key()
}

// DisplayName returns the status shown to users, e.g. "Music".
func (k Kind) DisplayName() string {
	return DisplayName(k.Key())
}

// Persistent reports whether the task keeps running after its first frame.
func (k Kind) Persistent() bool {
	return k == KindMusic
}

// Valid reports whether k is a registered kind.
func (k Kind) Valid() bool {
	_, ok := kindKeys[k]
	return ok
}

// DisplayName capitalizes a stored key: first letter upper, rest lower.
// Used for records written by other tools as well as known kinds.
func DisplayName(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	r := []rune(strings.ToLower(key))
	return strings.ToUpper(string(r[0])) + string(r[1:])
}
