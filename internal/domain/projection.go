package domain

import (
	"encoding/base64"
	"time"
)

// APIBid is the externally served form of a bid. Timestamps are unix
// milliseconds on the wire.
type APIBid struct {
	Bidder    string `json:"bidder"`
	ProfileID string `json:"profile_id"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// APIAuction is the externally served auction projection, identical on the
// request/response surface and on the session protocol.
type APIAuction struct {
	ID           string    `json:"id"`
	Seller       string    `json:"seller"`
	ProfileID    string    `json:"profile_id"`
	ItemBytes    string    `json:"item_bytes"`
	Item         *ItemData `json:"item_data,omitempty"`
	Start        int64     `json:"start"`
	End          int64     `json:"end"`
	StartingBid  int64     `json:"starting_bid"`
	HighestBid   int64     `json:"highest_bid"`
	LastUpdated  int64     `json:"last_updated"`
	Bids         []APIBid  `json:"bids"`
	BIN          bool      `json:"bin"`
	Claimed      bool      `json:"claimed"`
	Expired      bool      `json:"expired"`
	Ended        bool      `json:"ended"`
}

// API builds the external projection of the auction as observed at now.
// The highest bid amount is 0 when the auction has no bids.
func (a *Auction) API(now time.Time) APIAuction {
	bids := make([]APIBid, 0, len(a.Bids))
	for _, b := range a.Bids {
		bids = append(bids, APIBid{
			Bidder:    b.Bidder,
			ProfileID: b.ProfileID,
			Amount:    b.Amount,
			Timestamp: b.Timestamp.UnixMilli(),
		})
	}

	var highest int64
	if hb := a.HighestBid(); hb != nil {
		highest = hb.Amount
	}

	return APIAuction{
		ID:          a.ID,
		Seller:      a.Seller,
		ProfileID:   a.ProfileID,
		ItemBytes:   base64.StdEncoding.EncodeToString(a.ItemBytes),
		Item:        a.item,
		Start:       a.Timestamps.Start.UnixMilli(),
		End:         a.Timestamps.End.UnixMilli(),
		StartingBid: a.StartingBid,
		HighestBid:  highest,
		LastUpdated: a.LastUpdated(now).UnixMilli(),
		Bids:        bids,
		BIN:         a.BIN,
		Claimed:     a.Claimed(),
		Expired:     a.Expired(now),
		Ended:       a.Ended(now),
	}
}
