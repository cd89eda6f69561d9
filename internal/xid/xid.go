package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a prefixed random identifier, e.g. "sale-1b4e28ba2fa1...".
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
