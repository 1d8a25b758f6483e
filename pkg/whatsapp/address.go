package whatsapp

import "strings"

const (
	// UserSuffix marks an individual chat address.
	UserSuffix = "@c.us"
	// GroupSuffix marks a group chat address.
	GroupSuffix = "@g.us"
)

// NormalizeAddress turns a recipient identifier (usually a bare phone
// number) into a chat address. Identifiers that already carry a chat
// suffix are returned unchanged, so NormalizeAddress(NormalizeAddress(x))
// == NormalizeAddress(x).
func NormalizeAddress(recipient string) string {
	if strings.HasSuffix(recipient, UserSuffix) || strings.HasSuffix(recipient, GroupSuffix) {
		return recipient
	}
	return recipient + UserSuffix
}
