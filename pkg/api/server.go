package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/perpl-dex/state-replica/pkg/fill"
	"github.com/perpl-dex/state-replica/pkg/state"
	"github.com/perpl-dex/state-replica/pkg/storage"
)

// Server exposes the replica's current Exchange over a read-only REST
// and WebSocket API. It never submits, cancels, or otherwise mutates
// on-chain state: the replica only observes it.
type Server struct {
	mu       sync.RWMutex
	exchange *state.Exchange

	checkpoints *storage.CheckpointStore

	router *mux.Router
	hub    *Hub
}

// NewServer builds a Server over exchange. exchange is read under a
// lock on every request, so the caller may keep advancing it from a
// concurrent poll loop (see cmd/node).
func NewServer(exchange *state.Exchange, checkpoints *storage.CheckpointStore) *Server {
	s := &Server{
		exchange:    exchange,
		checkpoints: checkpoints,
		router:      mux.NewRouter(),
		hub:         NewHub(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the server's http.Handler, wrapped with CORS.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})
	return c.Handler(s.router)
}

// Run starts the WebSocket hub. Call before serving traffic.
func (s *Server) Run() { go s.hub.Run() }

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	v1.HandleFunc("/perpetuals", s.handleListPerpetuals).Methods(http.MethodGet)
	v1.HandleFunc("/perpetuals/{id}", s.handleGetPerpetual).Methods(http.MethodGet)
	v1.HandleFunc("/perpetuals/{id}/orderbook", s.handleGetOrderbook).Methods(http.MethodGet)
	v1.HandleFunc("/perpetuals/{id}/trades", s.handleGetTrades).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{address}/positions", s.handleGetPositions).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Update swaps in a newer Exchange snapshot and broadcasts orderbook
// updates for every tracked perpetual. Called by the poll loop after
// each applied block.
func (s *Server) Update(exchange *state.Exchange) {
	s.mu.Lock()
	s.exchange = exchange
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for id := range exchange.Perpetuals {
		snap := s.orderbookSnapshot(id)
		s.hub.BroadcastToChannel(fmt.Sprintf("orderbook:%d", id), OrderbookUpdate{Type: "orderbook", Data: snap})
	}
}

// BroadcastTrade publishes a correlated trade on its perpetual's
// trades channel. Called by the poll loop alongside Update.
func (s *Server) BroadcastTrade(trade fill.TakerTrade) {
	info := TradeInfo{
		PerpetualId:    uint32(trade.PerpetualId),
		TakerAccountId: uint32(trade.TakerAccountId),
		TakerSide:      trade.TakerSide.String(),
		Fills:          len(trade.MakerFills),
	}
	s.hub.BroadcastToChannel(fmt.Sprintf("trades:%d", trade.PerpetualId), TradeUpdate{Type: "trade", Data: info})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	respondJSON(w, http.StatusOK, ReplicaStatus{
		BlockNumber:    s.exchange.Instant.BlockNumber,
		BlockTimestamp: s.exchange.Instant.BlockTimestamp,
		Perpetuals:     len(s.exchange.Perpetuals),
		Accounts:       len(s.exchange.Accounts),
	})
}

func (s *Server) handleListPerpetuals(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PerpetualInfo, 0, len(s.exchange.Perpetuals))
	for _, perp := range s.exchange.Perpetuals {
		out = append(out, perpetualInfo(perp))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPerpetual(w http.ResponseWriter, r *http.Request) {
	id, ok := s.perpetualIdParam(w, r)
	if !ok {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	perp, ok := s.exchange.Perpetuals[id]
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no such perpetual")
		return
	}
	respondJSON(w, http.StatusOK, perpetualInfo(perp))
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	id, ok := s.perpetualIdParam(w, r)
	if !ok {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.exchange.Perpetuals[id]; !ok {
		respondError(w, http.StatusNotFound, "not_found", "no such perpetual")
		return
	}
	respondJSON(w, http.StatusOK, s.orderbookSnapshot(id))
}

// orderbookSnapshot assumes the caller already holds s.mu.
func (s *Server) orderbookSnapshot(id state.PerpetualId) OrderbookSnapshot {
	perp := s.exchange.Perpetuals[id]

	bids := perp.Book.Levels(state.Bid)
	asks := perp.Book.Levels(state.Ask)

	snap := OrderbookSnapshot{
		PerpetualId: uint32(id),
		Bids:        make([]PriceLevel, len(bids)),
		Asks:        make([]PriceLevel, len(asks)),
		BlockNumber: s.exchange.Instant.BlockNumber,
	}
	for i, lvl := range bids {
		snap.Bids[i] = PriceLevel{Price: lvl.Price.String(), Size: lvl.Size.String()}
	}
	for i, lvl := range asks {
		snap.Asks[i] = PriceLevel{Price: lvl.Price.String(), Size: lvl.Size.String()}
	}
	return snap
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	id, ok := s.perpetualIdParam(w, r)
	if !ok {
		return
	}
	if s.checkpoints == nil {
		respondJSON(w, http.StatusOK, []TradeInfo{})
		return
	}

	batches, err := s.checkpoints.LoadRecentTrades(id, 50)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	out := make([]TradeInfo, 0)
	for _, batch := range batches {
		for _, trade := range batch {
			out = append(out, TradeInfo{
				PerpetualId:    uint32(trade.PerpetualId),
				TakerAccountId: uint32(trade.TakerAccountId),
				TakerSide:      trade.TakerSide.String(),
				Fills:          len(trade.MakerFills),
			})
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, AccountInfo{
		Id:            uint32(account.Id),
		Address:       account.Address.Hex(),
		Balance:       account.Balance.String(),
		LockedBalance: account.LockedBalance.String(),
		Frozen:        account.Frozen,
	})
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	account, ok := s.accountParam(w, r)
	if !ok {
		return
	}

	out := make([]PositionInfo, 0, len(account.Positions))
	for _, pos := range account.Positions {
		out = append(out, PositionInfo{
			PerpetualId:                  uint32(pos.PerpetualId),
			Type:                         pos.Type.String(),
			EntryPrice:                   pos.EntryPrice.String(),
			Size:                         pos.Size.String(),
			Deposit:                      pos.Deposit.String(),
			Pnl:                          pos.DeltaPnl.Add(pos.PremiumPnl).String(),
			MaintenanceMarginRequirement: pos.MaintenanceMarginRequirement.String(),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// perpetualIdParam parses the {id} path variable, responding with an
// error and returning ok=false on failure.
func (s *Server) perpetualIdParam(w http.ResponseWriter, r *http.Request) (state.PerpetualId, bool) {
	idStr := mux.Vars(r)["id"]
	var n uint32
	if _, err := fmt.Sscanf(idStr, "%d", &n); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid perpetual id")
		return 0, false
	}
	return state.PerpetualId(n), true
}

// accountParam resolves the {address} path variable to its current
// Account, responding with an error and returning ok=false on failure.
func (s *Server) accountParam(w http.ResponseWriter, r *http.Request) (*state.Account, bool) {
	addrStr := mux.Vars(r)["address"]

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.exchange.Accounts {
		if acc.Address.Hex() == addrStr {
			return acc, true
		}
	}
	respondError(w, http.StatusNotFound, "not_found", "no such account")
	return nil, false
}

func perpetualInfo(perp *state.Perpetual) PerpetualInfo {
	return PerpetualInfo{
		Id:                uint32(perp.Id),
		Symbol:            perp.Symbol,
		Paused:            perp.IsPaused,
		MakerFee:          perp.MakerFee.String(),
		TakerFee:          perp.TakerFee.String(),
		InitialMargin:     perp.InitialMargin.String(),
		MaintenanceMargin: perp.MaintenanceMargin.String(),
		LastPrice:         perp.LastPrice.String(),
		MarkPrice:         perp.MarkPrice.String(),
		OraclePrice:       perp.OraclePrice.String(),
		OpenInterest:      perp.OpenInterest.String(),
	}
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encode error: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: code, Message: message})
}
