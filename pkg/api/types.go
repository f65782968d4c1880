package api

// API response types for the replica's read-only REST and WebSocket
// surface. All decimal fields are rendered as their canonical string
// form (see num.UD64/UD128/D256.String) rather than as floats, so
// clients never round-trip through binary floating point.

// PerpetualInfo is a tracked perpetual's current configuration and
// last observed market state.
type PerpetualInfo struct {
	Id                 uint32 `json:"id"`
	Symbol             string `json:"symbol"`
	Paused             bool   `json:"paused"`
	MakerFee           string `json:"makerFee"`
	TakerFee           string `json:"takerFee"`
	InitialMargin      string `json:"initialMargin"`
	MaintenanceMargin  string `json:"maintenanceMargin"`
	LastPrice          string `json:"lastPrice"`
	MarkPrice          string `json:"markPrice"`
	OraclePrice        string `json:"oraclePrice"`
	OpenInterest       string `json:"openInterest"`
}

// OrderbookSnapshot is a perpetual's current L2 book, aggregated by
// price level.
type OrderbookSnapshot struct {
	PerpetualId uint32       `json:"perpetualId"`
	Bids        []PriceLevel `json:"bids"` // sorted high to low
	Asks        []PriceLevel `json:"asks"` // sorted low to high
	BlockNumber uint64       `json:"blockNumber"`
}

// PriceLevel is one aggregated price/size pair.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// TradeInfo is one correlated maker/taker match (§4.6).
type TradeInfo struct {
	PerpetualId    uint32 `json:"perpetualId"`
	TakerAccountId uint32 `json:"takerAccountId"`
	TakerSide      string `json:"takerSide"`
	BlockNumber    uint64 `json:"blockNumber"`
	Fills          int    `json:"fills"`
}

// AccountInfo is an account's balance snapshot.
type AccountInfo struct {
	Id            uint32 `json:"id"`
	Address       string `json:"address"`
	Balance       string `json:"balance"`
	LockedBalance string `json:"lockedBalance"`
	Frozen        bool   `json:"frozen"`
}

// PositionInfo is one open position.
type PositionInfo struct {
	PerpetualId                 uint32 `json:"perpetualId"`
	Type                         string `json:"type"` // "Long" or "Short"
	EntryPrice                   string `json:"entryPrice"`
	Size                         string `json:"size"`
	Deposit                      string `json:"deposit"`
	Pnl                          string `json:"pnl"`
	MaintenanceMarginRequirement string `json:"maintenanceMarginRequirement"`
}

// ReplicaStatus reports the replica's own progress against the chain.
type ReplicaStatus struct {
	BlockNumber    uint64 `json:"blockNumber"`
	BlockTimestamp uint64 `json:"blockTimestamp"`
	Perpetuals     int    `json:"perpetuals"`
	Accounts       int    `json:"accounts"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket message types
// ==============================

// WSSubscribeRequest is sent by a client to subscribe to channels.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// TradeUpdate is broadcast on the "trades:<perpetual_id>" channel
// whenever the correlator matches a new trade.
type TradeUpdate struct {
	Type string    `json:"type"` // "trade"
	Data TradeInfo `json:"data"`
}

// OrderbookUpdate is broadcast on the "orderbook:<perpetual_id>"
// channel after every applied block.
type OrderbookUpdate struct {
	Type string            `json:"type"` // "orderbook"
	Data OrderbookSnapshot `json:"data"`
}
