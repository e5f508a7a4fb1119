package domain

import "strings"

// Player is a resolved entry from the third-party player directory.
// UUID is the dashed canonical form the directory serves.
type Player struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
}

// FeedID returns the player's uuid in the compact form the upstream
// feed uses for seller and bidder identities.
func (p Player) FeedID() string {
	return strings.ReplaceAll(p.UUID, "-", "")
}
