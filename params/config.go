package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Chain holds the connection details for the source chain the replica
// reads from.
type Chain struct {
	RPCEndpoint      string
	ExchangeAddress  string
	StartBlockNumber uint64
	PollInterval     time.Duration
}

// Replica holds the replica process's own behavior knobs.
type Replica struct {
	PerpetualIds    []uint32
	TrackAllAccounts bool
	SnapshotBatchSize int
	CheckpointPath  string
}

// Server holds the debug/read API surface.
type Server struct {
	ListenAddr string
}

type Config struct {
	Chain   Chain
	Replica Replica
	Server  Server
}

func Default() Config {
	return Config{
		Chain: Chain{
			RPCEndpoint:      "http://localhost:8545",
			StartBlockNumber: 0,
			PollInterval:     500 * time.Millisecond,
		},
		Replica: Replica{
			TrackAllAccounts:  true,
			SnapshotBatchSize: 3000,
			CheckpointPath:    "./data/checkpoint",
		},
		Server: Server{
			ListenAddr: ":8090",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("CHAIN_RPC_ENDPOINT"); v != "" {
		cfg.Chain.RPCEndpoint = v
	}
	if v := os.Getenv("EXCHANGE_ADDRESS"); v != "" {
		cfg.Chain.ExchangeAddress = v
	}
	if v := os.Getenv("CHAIN_START_BLOCK"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Chain.StartBlockNumber = n
		}
	}
	if v := os.Getenv("CHAIN_POLL_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Chain.PollInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("REPLICA_PERPETUAL_IDS"); v != "" {
		cfg.Replica.PerpetualIds = parseUint32List(v)
	}
	if v := os.Getenv("REPLICA_TRACK_ALL_ACCOUNTS"); v != "" {
		cfg.Replica.TrackAllAccounts = v == "true"
	}
	if v := os.Getenv("REPLICA_SNAPSHOT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Replica.SnapshotBatchSize = n
		}
	}
	if v := os.Getenv("REPLICA_CHECKPOINT_PATH"); v != "" {
		cfg.Replica.CheckpointPath = v
	}
	if v := os.Getenv("SERVER_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}

	return cfg
}

func parseUint32List(s string) []uint32 {
	var ids []uint32
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				if n, err := strconv.ParseUint(s[start:i], 10, 32); err == nil {
					ids = append(ids, uint32(n))
				}
			}
			start = i + 1
		}
	}
	return ids
}
