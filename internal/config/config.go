package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default Jito tip accounts (mainnet). One is picked at random per bundle.
var DefaultTipCollectors = []string{
	"96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5",
	"HFqU5x63VTqvQss8hp11i4wVV8bD44PvwucfZ2bU7gRe",
	"Cw8CFyM9FkoMi7K7Crf6HNQqf4uEMzpKw6QNghXLvLkY",
	"ADaUMid9yfUytqMBgopwjb2DTLSokTSzL1zt6iGPaS49",
	"DfXygSm4jCyNCybVYYK6DwvWqjKee8pbDmJGcLWNDXjh",
	"ADuUkR4vqLUMWXxW9gh6D6L8pMSawimctcNZ5pGwDcEt",
	"DttWaMuVvTiduZRnguLF7jNxTgiMBZ1hyAumKUiL2KRL",
	"3AVi9Tg9Uo68tJfuvoKvqKNWKkC5wPdSSdeBnizKZ6jT",
}

type Config struct {
	// RPC settings
	RPCUrl       string
	RelayUrl     string
	HTTPTimeout  time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	RPCRateLimit float64 // requests per second, 0 = unlimited

	// Wallet
	WalletPrivateKey string

	// Packing limits
	MaxWireSize      int
	BatchSize        int
	HeavyBatchSize   int
	MaxLookupTables  int
	MinTableMatch    int
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64 // micro-lamports per compute unit

	// Tip / incentive
	TipLamports   uint64
	TipCollectors []string

	// Allocation
	DustThreshold uint64
	FeeReserve    uint64
	MinAllocation uint64

	// Quote
	SlippagePercent uint64

	// Submission
	SettleDelay   time.Duration
	SearchHistory bool

	// Lookup table cache
	TableMaxAge time.Duration // 0 = cache for process lifetime

	// Redis settings
	RedisAddr string

	// ClickHouse settings
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string

	// API server
	APIAddr string
	APIKey  string
	DevMode bool
}

func Load() *Config {
	return &Config{
		// RPC
		RPCUrl:       getEnv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		RelayUrl:     getEnv("RELAY_URL", "https://mainnet.block-engine.jito.wtf/api/v1/bundles"),
		HTTPTimeout:  getDurationEnv("HTTP_TIMEOUT", 30*time.Second),
		MaxRetries:   getIntEnv("MAX_RETRIES", 5),
		RetryBackoff: getDurationEnv("RETRY_BACKOFF", 2*time.Second),
		RPCRateLimit: getFloatEnv("RPC_RATE_LIMIT", 10),

		// Wallet
		WalletPrivateKey: getEnv("WALLET_PRIVATE_KEY", ""),

		// Packing
		MaxWireSize:      getIntEnv("MAX_WIRE_SIZE", 1232),
		BatchSize:        getIntEnv("BATCH_SIZE", 5),
		HeavyBatchSize:   getIntEnv("HEAVY_BATCH_SIZE", 3),
		MaxLookupTables:  getIntEnv("MAX_LOOKUP_TABLES", 3),
		MinTableMatch:    getIntEnv("MIN_TABLE_MATCH", 2),
		ComputeUnitLimit: uint32(getUint64Env("COMPUTE_UNIT_LIMIT", 400_000)),
		ComputeUnitPrice: getUint64Env("COMPUTE_UNIT_PRICE", 10_000),

		// Tip
		TipLamports:   getUint64Env("TIP_LAMPORTS", 100_000),
		TipCollectors: getListEnv("TIP_COLLECTORS", DefaultTipCollectors),

		// Allocation
		DustThreshold: getUint64Env("DUST_THRESHOLD", 1_000_000),      // 0.001 SOL
		FeeReserve:    getUint64Env("FEE_RESERVE", 5_000_000),         // 0.005 SOL per actor
		MinAllocation: getUint64Env("MIN_ALLOCATION", 10_000_000),     // 0.01 SOL

		// Quote
		SlippagePercent: getUint64Env("SLIPPAGE_PERCENT", 10),

		// Submission
		SettleDelay:   getDurationEnv("SETTLE_DELAY", 10*time.Second),
		SearchHistory: getBoolEnv("SEARCH_TX_HISTORY", true),

		// Lookup tables
		TableMaxAge: getDurationEnv("TABLE_MAX_AGE", 0),

		// Redis
		RedisAddr: getEnv("REDIS_ADDR", ""),

		// ClickHouse
		ClickHouseAddr:     getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "solana"),
		ClickHouseUsername: getEnv("CLICKHOUSE_USERNAME", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),

		// API
		APIAddr: getEnv("API_ADDR", ":8090"),
		APIKey:  getEnv("API_KEY", ""),
		DevMode: getBoolEnv("DEV_MODE", false),
	}
}

func (c *Config) Validate() error {
	if c.RPCUrl == "" {
		return fmt.Errorf("SOLANA_RPC_URL is required")
	}
	if c.MaxWireSize <= 0 {
		return fmt.Errorf("MAX_WIRE_SIZE must be > 0")
	}
	if c.BatchSize <= 0 || c.HeavyBatchSize <= 0 {
		return fmt.Errorf("batch sizes must be > 0")
	}
	if c.MaxLookupTables <= 0 {
		return fmt.Errorf("MAX_LOOKUP_TABLES must be > 0")
	}
	if c.SlippagePercent > 100 {
		return fmt.Errorf("SLIPPAGE_PERCENT must be <= 100")
	}
	if len(c.TipCollectors) == 0 {
		return fmt.Errorf("at least one tip collector is required")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getUint64Env(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getListEnv(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultVal
}
