package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpl-dex/state-replica/params"
	"github.com/perpl-dex/state-replica/pkg/api"
	"github.com/perpl-dex/state-replica/pkg/chain"
	"github.com/perpl-dex/state-replica/pkg/fill"
	"github.com/perpl-dex/state-replica/pkg/metrics"
	"github.com/perpl-dex/state-replica/pkg/snapshot"
	"github.com/perpl-dex/state-replica/pkg/state"
	"github.com/perpl-dex/state-replica/pkg/storage"
	"github.com/perpl-dex/state-replica/pkg/stream"
	"github.com/perpl-dex/state-replica/pkg/util"
)

// main runs the replica as a standalone process: build (or resume) a
// starting Exchange, poll the chain for new blocks, apply each
// block's events, and correlate trades alongside it.
//
// Two integration seams are contract-ABI specific and are left to a
// deployment's generated contract bindings rather than faked here:
// decoderFromEnv (decode a log into a RawEvent) and dataSourceFromEnv
// (serve SnapshotBuilder's chain reads).
func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checkpoints, err := storage.NewCheckpointStore(cfg.Replica.CheckpointPath)
	if err != nil {
		sugar.Fatalw("checkpoint_store_open_failed", "err", err, "path", cfg.Replica.CheckpointPath)
	}
	defer checkpoints.Close()

	start := stream.Instant{BlockNumber: cfg.Chain.StartBlockNumber}
	if cursor, ok, err := checkpoints.LoadCursor(); err != nil {
		sugar.Fatalw("checkpoint_load_failed", "err", err)
	} else if ok {
		start = stream.Instant{BlockNumber: cursor.BlockNumber, BlockTimestamp: cursor.BlockTimestamp}
		sugar.Infow("resuming_from_checkpoint", "block_number", start.BlockNumber)
	} else {
		sugar.Infow("starting_from_configured_block", "block_number", start.BlockNumber)
	}

	perpetualIds := make([]state.PerpetualId, len(cfg.Replica.PerpetualIds))
	for i, id := range cfg.Replica.PerpetualIds {
		perpetualIds[i] = state.PerpetualId(id)
	}

	builder := snapshot.New(dataSourceFromEnv()).
		AtInstant(start.BlockNumber).
		WithPerpetuals(perpetualIds...).
		WithBatchSize(cfg.Replica.SnapshotBatchSize)
	if cfg.Replica.TrackAllAccounts {
		builder = builder.WithAllPositions()
	}
	buildStart := time.Now()
	exchange, err := builder.Build(ctx)
	metrics.SnapshotBuildSeconds.Observe(time.Since(buildStart).Seconds())
	if err != nil {
		sugar.Fatalw("snapshot_build_failed", "err", err, "block_number", start.BlockNumber)
	}
	exchange.TrackAllAccounts = cfg.Replica.TrackAllAccounts

	perpConverters := make(map[state.PerpetualId]fill.PerpetualConverters, len(exchange.Perpetuals))
	for id, perp := range exchange.Perpetuals {
		perpConverters[id] = fill.PerpetualConverters{Price: perp.PriceConverter, Size: perp.SizeConverter}
	}
	correlator := fill.NewCorrelator(exchange.CollateralConverter, perpConverters)

	decoder := decoderFromEnv()
	client, err := chain.Dial(ctx, cfg.Chain.RPCEndpoint, common.HexToAddress(cfg.Chain.ExchangeAddress), decoder)
	if err != nil {
		sugar.Fatalw("chain_dial_failed", "err", err)
	}
	defer client.Close()

	adapter := stream.NewAdapter(client, util.RealClock{}, cfg.Chain.PollInterval)
	results := adapter.Stream(ctx, stream.Instant{BlockNumber: start.BlockNumber + 1})

	server := api.NewServer(exchange, checkpoints)
	server.Run()
	httpServer := &http.Server{Addr: cfg.Server.ListenAddr, Handler: server.Handler()}
	go func() {
		sugar.Infow("api_listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Errorw("api_server_failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		httpServer.Close()
	}()

	sugar.Infow("replica_started", "start_block", start.BlockNumber, "track_all_accounts", cfg.Replica.TrackAllAccounts)

	for {
		select {
		case <-ctx.Done():
			sugar.Info("replica_stopping")
			return
		case res, open := <-results:
			if !open {
				return
			}
			if res.Err != nil {
				sugar.Warnw("poll_error", "err", res.Err)
				continue
			}

			trades := correlator.ProcessBlock(res.Batch)
			if _, err := exchange.ApplyEvents(res.Batch); err != nil {
				sugar.Errorw("apply_events_failed", "err", err, "block_number", res.Batch.Instant.BlockNumber)
				metrics.BatchesRejected.WithLabelValues(rejectReason(err)).Inc()
				continue
			}
			metrics.BlocksApplied.Inc()
			tradesByPerp := make(map[state.PerpetualId][]fill.TakerTrade)
			for _, trade := range trades.Trades {
				tradesByPerp[trade.PerpetualId] = append(tradesByPerp[trade.PerpetualId], trade)
				metrics.TradesCorrelated.WithLabelValues(strconv.FormatUint(uint64(trade.PerpetualId), 10)).Inc()
				server.BroadcastTrade(trade)
			}
			for id, perpTrades := range tradesByPerp {
				if err := checkpoints.SaveTrades(id, res.Batch.Instant.BlockNumber, perpTrades); err != nil {
					sugar.Warnw("save_trades_failed", "err", err)
				}
			}
			for id, perp := range exchange.Perpetuals {
				count := 0
				for _, acc := range exchange.Accounts {
					if _, ok := acc.Positions[id]; ok {
						count++
					}
				}
				metrics.PositionsTracked.WithLabelValues(strconv.FormatUint(uint64(perp.Id), 10)).Set(float64(count))
			}
			if err := checkpoints.SaveCursor(exchange.Instant); err != nil {
				sugar.Warnw("save_cursor_failed", "err", err)
			}
			server.Update(exchange)
		}
	}
}

// decoderFromEnv resolves the log decoder for the exchange contract.
// A real deployment supplies one built from abigen-generated bindings
// for the exchange contract's ABI; none are vendored in this module.
func decoderFromEnv() chain.Decoder {
	panic("decoderFromEnv: wire a chain.Decoder built from the exchange contract's generated bindings")
}

// dataSourceFromEnv resolves SnapshotBuilder's chain reads, likewise
// backed by generated contract bindings in a real deployment.
func dataSourceFromEnv() snapshot.DataSource {
	panic("dataSourceFromEnv: wire a snapshot.DataSource built from the exchange contract's generated bindings")
}

// rejectReason buckets an ApplyEvents error into a low-cardinality
// label for the batches_rejected_total counter.
func rejectReason(err error) string {
	switch err.(type) {
	case *state.BlockOutOfOrderError:
		return "block_out_of_order"
	case *state.OrderContextExpectedError:
		return "order_context_expected"
	case *state.PositionNotFoundError:
		return "position_not_found"
	default:
		return "other"
	}
}
