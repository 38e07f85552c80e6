package market

import "time"

// Quote provenance. Settlement logic reads this to know whether a price
// came from the exchange or the random-walk simulator.
const (
	SourceLive      = "live"
	SourceSimulated = "simulated"
)

// Asset classes recognized by the feed.
const (
	ClassCrypto    = "crypto"
	ClassForex     = "forex"
	ClassStock     = "stock"
	ClassCommodity = "commodity"
)

// Quote is the latest known price record for a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	PrevPrice float64   `json:"prev_price"`
	Change24h float64   `json:"change_24h"`
	UpdatedAt time.Time `json:"updated_at"`
	Source    string    `json:"source"`
}
