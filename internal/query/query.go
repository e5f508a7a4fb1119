// Package query evaluates structured auction queries: conjunctive
// filtering, ordering, and pagination over the reconciled collection.
// Filters are always explicit descriptors evaluated in application code,
// never predicates shipped into the storage layer.
package query

import (
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/skyblockd/skyblockd/internal/domain"
)

// Categories are the recognized auction categories.
var Categories = []string{"weapon", "armor", "accessories", "consumables", "blocks", "misc"}

// Rarities are the recognized item rarities.
var Rarities = []string{"COMMON", "UNCOMMON", "RARE", "EPIC", "LEGENDARY", "MYTHIC", "DIVINE", "SPECIAL", "VERY_SPECIAL"}

// Order is a sort order tag.
type Order string

const (
	OrderHighPrice Order = "high_price"
	OrderLowPrice  Order = "low_price"
	OrderEndNear   Order = "end_near"
	OrderEndFar    Order = "end_far"
	OrderRandom    Order = "random"
)

// ParseOrder normalizes a sort order tag; unrecognized input falls back to
// random, the default order.
func ParseOrder(raw string) Order {
	switch Order(strings.ToLower(strings.TrimSpace(raw))) {
	case OrderHighPrice:
		return OrderHighPrice
	case OrderLowPrice:
		return OrderLowPrice
	case OrderEndNear:
		return OrderEndNear
	case OrderEndFar:
		return OrderEndFar
	default:
		return OrderRandom
	}
}

// Type restricts results to one auction variant.
type Type string

const (
	TypeAny     Type = ""
	TypeBIN     Type = "bin"
	TypeAuction Type = "auction"
)

// ParseType normalizes a type filter; unrecognized input means no
// restriction.
func ParseType(raw string) Type {
	switch Type(strings.ToLower(strings.TrimSpace(raw))) {
	case TypeBIN:
		return TypeBIN
	case TypeAuction:
		return TypeAuction
	default:
		return TypeAny
	}
}

// Filter is a conjunctive auction predicate: every supplied field must
// hold for an auction to match.
type Filter struct {
	// Text is a case-insensitive substring match over the item name.
	Text string
	// Category restricts to one auction category.
	Category string
	// Rarity restricts to one item rarity.
	Rarity string
	// Type restricts to buy-it-now or ascending auctions.
	Type Type
}

// NormalizedFilter builds a Filter from raw query input, applying the
// same normalization the upstream metadata uses (lowercase categories,
// upper snake-case rarities).
func NormalizedFilter(text, category, rarity, typ string) Filter {
	return Filter{
		Text:     strings.ToLower(strings.TrimSpace(text)),
		Category: strings.ToLower(strings.TrimSpace(category)),
		Rarity:   strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(rarity)), " ", "_"),
		Type:     ParseType(typ),
	}
}

// Matches reports whether the auction satisfies every supplied predicate.
func (f Filter) Matches(a *domain.Auction) bool {
	if f.Text != "" && !strings.Contains(strings.ToLower(strings.TrimSpace(a.Meta.Name)), f.Text) {
		return false
	}
	if f.Category != "" && a.Meta.Category != f.Category {
		return false
	}
	if f.Rarity != "" && a.Meta.Rarity != f.Rarity {
		return false
	}
	switch f.Type {
	case TypeBIN:
		if !a.BIN {
			return false
		}
	case TypeAuction:
		if a.BIN {
			return false
		}
	}
	return true
}

// Page is a (start, amount) result window applied after sorting.
type Page struct {
	Start  int
	Amount int
}

// DefaultPage is applied when the caller supplies no window.
var DefaultPage = Page{Start: 0, Amount: 100}

// Run filters, orders, and paginates the collection.
func Run(auctions []*domain.Auction, f Filter, order Order, page Page) []*domain.Auction {
	matched := make([]*domain.Auction, 0, len(auctions))
	for _, a := range auctions {
		if f.Matches(a) {
			matched = append(matched, a)
		}
	}

	Sort(matched, order)

	if page.Amount <= 0 {
		page = Page{Start: page.Start, Amount: DefaultPage.Amount}
	}
	if page.Start < 0 {
		page.Start = 0
	}
	if page.Start >= len(matched) {
		return []*domain.Auction{}
	}
	end := page.Start + page.Amount
	if end > len(matched) {
		end = len(matched)
	}
	return matched[page.Start:end]
}

// Sort orders the slice in place. Price orders rank by highest bid
// amount; an auction with no bids sorts below any bid for high_price and
// above any bid for low_price. Random is a uniform shuffle.
func Sort(auctions []*domain.Auction, order Order) {
	switch order {
	case OrderHighPrice:
		sort.SliceStable(auctions, func(i, j int) bool {
			return compareHighest(auctions[i], auctions[j]) > 0
		})
	case OrderLowPrice:
		sort.SliceStable(auctions, func(i, j int) bool {
			return compareHighest(auctions[i], auctions[j]) < 0
		})
	case OrderEndNear:
		sort.SliceStable(auctions, func(i, j int) bool {
			return auctions[i].Timestamps.End.Before(auctions[j].Timestamps.End)
		})
	case OrderEndFar:
		sort.SliceStable(auctions, func(i, j int) bool {
			return auctions[j].Timestamps.End.Before(auctions[i].Timestamps.End)
		})
	case OrderRandom:
		rand.Shuffle(len(auctions), func(i, j int) {
			auctions[i], auctions[j] = auctions[j], auctions[i]
		})
	}
}

// compareHighest orders auctions by their highest bid amount, treating
// "no bids" as lower than any bid.
func compareHighest(a, b *domain.Auction) int {
	ha, hb := a.HighestBid(), b.HighestBid()
	switch {
	case ha == nil && hb == nil:
		return 0
	case ha == nil:
		return -1
	case hb == nil:
		return 1
	case ha.Amount < hb.Amount:
		return -1
	case ha.Amount > hb.Amount:
		return 1
	default:
		return 0
	}
}

// Projected maps a result window to its external projections.
func Projected(auctions []*domain.Auction, now time.Time) []domain.APIAuction {
	out := make([]domain.APIAuction, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, a.API(now))
	}
	return out
}
