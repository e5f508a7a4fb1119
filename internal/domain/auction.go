// Package domain contains core domain types for the auction service.
package domain

import (
	"time"
)

// Bid is a single bid placed on an auction. Bids are immutable once
// observed; ordering only matters for the derived highest-bid and
// last-updated values, not for storage.
type Bid struct {
	Auction   string    `json:"auction_id"`
	Bidder    string    `json:"bidder"`
	ProfileID string    `json:"profile_id"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Timestamps holds the absolute start and end instants of an auction.
type Timestamps struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ItemMeta is the display and search metadata carried by the upstream feed
// alongside the raw item bytes.
type ItemMeta struct {
	Name     string `json:"name"`
	Lore     string `json:"lore"`
	Category string `json:"category"`
	Rarity   string `json:"rarity"`
}

// ItemData is the decoded projection of an auction's raw item bytes.
// It is produced lazily by a Decoder and cached on the auction record.
type ItemData struct {
	Count      int            `json:"count"`
	ItemID     string         `json:"item_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Decoder turns opaque item bytes into a structured item descriptor.
// The concrete codec lives outside this package.
type Decoder interface {
	Decode(raw []byte) (*ItemData, error)
}

// Auction is the reconciled view of one upstream auction record. Every
// re-observation replaces all fields wholesale rather than merging.
type Auction struct {
	ID             string     `json:"id"`
	Seller         string     `json:"seller"`
	ProfileID      string     `json:"profile_id"`
	CoopMembers    []string   `json:"coop_members"`
	Timestamps     Timestamps `json:"timestamps"`
	ClaimedBidders []string   `json:"claimed_bidders"`
	Bids           []Bid      `json:"bids"`
	BIN            bool       `json:"bin"`
	StartingBid    int64      `json:"starting_bid"`
	Meta           ItemMeta   `json:"data"`
	ItemBytes      []byte     `json:"item_bytes"`

	item *ItemData
}

// Claimed reports whether at least one bidder has reclaimed proceeds.
func (a *Auction) Claimed() bool {
	return len(a.ClaimedBidders) > 0
}

// Expired reports whether the auction's end instant has passed.
func (a *Auction) Expired(now time.Time) bool {
	return now.After(a.Timestamps.End)
}

// Ended reports whether the auction is over, either by expiry or by claim.
func (a *Auction) Ended(now time.Time) bool {
	return a.Expired(now) || a.Claimed()
}

// HighestBid returns the bid with the maximum amount, or nil when the
// auction has no bids. When several bids share the maximum amount the
// first one wins; a later equal bid never displaces an earlier one.
func (a *Auction) HighestBid() *Bid {
	var highest *Bid
	for i := range a.Bids {
		if highest == nil || a.Bids[i].Amount > highest.Amount {
			highest = &a.Bids[i]
		}
	}
	return highest
}

// LastUpdated derives the instant this auction last changed. An expired
// auction is pinned to its end instant: claims arriving after expiry do
// not advance it.
func (a *Auction) LastUpdated(now time.Time) time.Time {
	if a.Expired(now) {
		return a.Timestamps.End
	}
	if len(a.Bids) > 0 {
		max := a.Bids[0].Timestamp
		for _, b := range a.Bids[1:] {
			if b.Timestamp.After(max) {
				max = b.Timestamp
			}
		}
		return max
	}
	return a.Timestamps.Start
}

// Item returns the decoded item data, decoding and caching it on first
// use. The cache is only invalidated by RefreshItem.
func (a *Auction) Item(dec Decoder) (*ItemData, error) {
	if a.item != nil {
		return a.item, nil
	}
	return a.RefreshItem(dec)
}

// RefreshItem decodes the raw item bytes unconditionally and replaces the
// cached projection.
func (a *Auction) RefreshItem(dec Decoder) (*ItemData, error) {
	item, err := dec.Decode(a.ItemBytes)
	if err != nil {
		return nil, err
	}
	a.item = item
	return item, nil
}

// SetItem seeds the decoded-item cache, used when loading a persisted
// record that already carries its decoded projection.
func (a *Auction) SetItem(item *ItemData) {
	a.item = item
}

// CachedItem returns the decoded projection if one has been cached, else nil.
func (a *Auction) CachedItem() *ItemData {
	return a.item
}
