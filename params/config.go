package params

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/uhyunpark/sparkswap-broker/pkg/interchain"
	"github.com/uhyunpark/sparkswap-broker/pkg/order"
)

type Node struct {
	DataDir  string
	LogFile  string // empty logs to stdout only
	LogLevel string
}

type API struct {
	Addr           string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

type Relayer struct {
	HTTPURL string
	WSURL   string
	// IdentityKey is the hex secp256k1 key orders and fills are authorized
	// with. Generate one with `brokerd keygen`.
	IdentityKey string
}

// Engine is one payment channel engine daemon.
type Engine struct {
	Symbol          string
	URL             string
	SecondsPerBlock int64
}

type Settlement struct {
	RetryDelay        time.Duration
	TimeLockMargin    time.Duration
	ExecuteTimeout    time.Duration
	FillRetryAttempts int
}

type Config struct {
	Node       Node
	API        API
	Relayer    Relayer
	Engines    []Engine
	Settlement Settlement
}

// Block times of the chains the broker supports out of the box.
var defaultSecondsPerBlock = map[string]int64{
	"BTC": 600,
	"LTC": 150,
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:  "data",
			LogLevel: "info",
		},
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			RequestTimeout: 30 * time.Second,
		},
		Relayer: Relayer{
			HTTPURL: "http://localhost:28492",
			WSURL:   "ws://localhost:28492",
		},
		Settlement: Settlement{
			RetryDelay:        interchain.DefaultRetryDelay,
			TimeLockMargin:    interchain.DefaultTimeLockMargin,
			ExecuteTimeout:    order.DefaultExecuteTimeout,
			FillRetryAttempts: 3,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if origins := os.Getenv("API_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitList(origins)
	}

	cfg.Relayer.HTTPURL = getEnv("RELAYER_HTTP_URL", cfg.Relayer.HTTPURL)
	cfg.Relayer.WSURL = getEnv("RELAYER_WS_URL", cfg.Relayer.WSURL)
	cfg.Relayer.IdentityKey = getEnv("RELAYER_IDENTITY_KEY", cfg.Relayer.IdentityKey)

	var err error
	if cfg.API.RequestTimeout, err = getDuration("API_REQUEST_TIMEOUT", cfg.API.RequestTimeout); err != nil {
		return cfg, err
	}
	if cfg.Settlement.RetryDelay, err = getDuration("RETRY_DELAY", cfg.Settlement.RetryDelay); err != nil {
		return cfg, err
	}
	if cfg.Settlement.TimeLockMargin, err = getDuration("TIME_LOCK_MARGIN", cfg.Settlement.TimeLockMargin); err != nil {
		return cfg, err
	}
	if cfg.Settlement.ExecuteTimeout, err = getDuration("EXECUTE_TIMEOUT", cfg.Settlement.ExecuteTimeout); err != nil {
		return cfg, err
	}
	if v := os.Getenv("FILL_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("invalid FILL_RETRY_ATTEMPTS %q", v)
		}
		cfg.Settlement.FillRetryAttempts = n
	}

	// Engines from a comma-separated list
	// Example: "BTC=http://localhost:10009,LTC=http://localhost:10010"
	if list := os.Getenv("ENGINES"); list != "" {
		engines, err := parseEngines(list)
		if err != nil {
			return cfg, err
		}
		cfg.Engines = engines
	}

	return cfg, nil
}

func parseEngines(list string) ([]Engine, error) {
	seen := make(map[string]bool)
	var engines []Engine
	for _, entry := range splitList(list) {
		symbol, url, ok := strings.Cut(entry, "=")
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if !ok || symbol == "" || url == "" {
			return nil, fmt.Errorf("invalid ENGINES entry %q, expected SYMBOL=url", entry)
		}
		if seen[symbol] {
			return nil, fmt.Errorf("duplicate engine %s", symbol)
		}
		seen[symbol] = true

		spb := defaultSecondsPerBlock[symbol]
		key := "ENGINE_" + symbol + "_SECONDS_PER_BLOCK"
		if v := os.Getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("invalid %s %q", key, v)
			}
			spb = n
		}
		if spb == 0 {
			return nil, fmt.Errorf("%s is required for engine %s", key, symbol)
		}
		engines = append(engines, Engine{Symbol: symbol, URL: strings.TrimSpace(url), SecondsPerBlock: spb})
	}
	sort.Slice(engines, func(i, j int) bool { return engines[i].Symbol < engines[j].Symbol })
	return engines, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration accepts Go durations ("30s") or a bare number of seconds.
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
