package upstream

import (
	"encoding/base64"
	"time"

	"github.com/skyblockd/skyblockd/internal/domain"
)

// RawBid is the wire form of a bid in the upstream feed.
type RawBid struct {
	AuctionID string `json:"auction_id"`
	Bidder    string `json:"bidder"`
	ProfileID string `json:"profile_id"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// RawAuction is one record of the upstream paged auction feed.
type RawAuction struct {
	UUID           string   `json:"uuid"`
	Auctioneer     string   `json:"auctioneer"`
	ProfileID      string   `json:"profile_id"`
	Coop           []string `json:"coop"`
	Start          int64    `json:"start"`
	End            int64    `json:"end"`
	ItemName       string   `json:"item_name"`
	ItemLore       string   `json:"item_lore"`
	Category       string   `json:"category"`
	Tier           string   `json:"tier"`
	StartingBid    int64    `json:"starting_bid"`
	ItemBytes      string   `json:"item_bytes"`
	ClaimedBidders []string `json:"claimed_bidders"`
	Bids           []RawBid `json:"bids"`
	BIN            bool     `json:"bin"`
}

// Page is one page of the upstream auction collection.
type Page struct {
	Page          int          `json:"page"`
	TotalPages    int          `json:"totalPages"`
	TotalAuctions int          `json:"totalAuctions"`
	Auctions      []RawAuction `json:"auctions"`
}

// EndedAuction is one record of the recently-ended feed.
type EndedAuction struct {
	AuctionID string `json:"auction_id"`
	Seller    string `json:"seller"`
	Buyer     string `json:"buyer"`
	Timestamp int64  `json:"timestamp"`
	Price     int64  `json:"price"`
	BIN       bool   `json:"bin"`
}

// EndedPage is the recently-ended feed response.
type EndedPage struct {
	LastUpdated int64          `json:"lastUpdated"`
	Auctions    []EndedAuction `json:"auctions"`
}

// KeyInfo is the credential-validation response.
type KeyInfo struct {
	Success bool   `json:"success"`
	Cause   string `json:"cause,omitempty"`
}

// ToDomain converts a raw feed record into the reconciled domain form.
// Field replacement is wholesale: a re-observed auction replaces every
// field of its previous observation.
func (r *RawAuction) ToDomain() *domain.Auction {
	bids := make([]domain.Bid, 0, len(r.Bids))
	for _, b := range r.Bids {
		bids = append(bids, domain.Bid{
			Auction:   b.AuctionID,
			Bidder:    b.Bidder,
			ProfileID: b.ProfileID,
			Amount:    b.Amount,
			Timestamp: time.UnixMilli(b.Timestamp),
		})
	}

	// Item bytes arrive base64-encoded; a blob that fails to decode is
	// kept verbatim so the record is never dropped over its payload.
	itemBytes, err := base64.StdEncoding.DecodeString(r.ItemBytes)
	if err != nil {
		itemBytes = []byte(r.ItemBytes)
	}

	return &domain.Auction{
		ID:             r.UUID,
		Seller:         r.Auctioneer,
		ProfileID:      r.ProfileID,
		CoopMembers:    r.Coop,
		Timestamps: domain.Timestamps{
			Start: time.UnixMilli(r.Start),
			End:   time.UnixMilli(r.End),
		},
		ClaimedBidders: r.ClaimedBidders,
		Bids:           bids,
		BIN:            r.BIN,
		StartingBid:    r.StartingBid,
		Meta: domain.ItemMeta{
			Name:     r.ItemName,
			Lore:     r.ItemLore,
			Category: r.Category,
			Rarity:   r.Tier,
		},
		ItemBytes: itemBytes,
	}
}
