package events

// Event identifies a topic on the bus.
type Event string

// Domain topics and their payload types.
const (
	// EventPriceTick carries a market.Quote.
	EventPriceTick Event = "price.tick"
	// EventTradeOpened and EventTradeSettled carry a db.Trade.
	EventTradeOpened  Event = "trade.opened"
	EventTradeSettled Event = "trade.settled"
	// EventTransactionUpdated carries a db.Transaction.
	EventTransactionUpdated Event = "transaction.updated"
)
