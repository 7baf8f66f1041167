package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// ExplorerEndpointKey is the endpoint where the Esplora REST API is listening
	ExplorerEndpointKey = "EXPLORER_ENDPOINT"
	// ExplorerRequestTimeoutKey are the milliseconds to wait for HTTP responses before timeouts
	ExplorerRequestTimeoutKey = "EXPLORER_REQUEST_TIMEOUT"
	// ExplorerMaxRetryAttemptsKey is the overall number of attempts for requests failing transiently
	ExplorerMaxRetryAttemptsKey = "EXPLORER_MAX_RETRY_ATTEMPTS"
	// ExplorerIndexingLagRetriesKey is the number of extra attempts reserved to blocks not yet indexed
	ExplorerIndexingLagRetriesKey = "EXPLORER_INDEXING_LAG_RETRIES"
	// ExplorerMaxConcurrentRequestsKey caps the number of requests in flight against the explorer
	ExplorerMaxConcurrentRequestsKey = "EXPLORER_MAX_CONCURRENT_REQUESTS"
	// ExplorerRequestRateKey is the number of requests per second allowed against the explorer
	ExplorerRequestRateKey = "EXPLORER_REQUEST_RATE"
	// ExplorerRequestBurstKey is the number of burst tokens permitted against the explorer
	ExplorerRequestBurstKey = "EXPLORER_REQUEST_BURST"
	// PollIntervalKey is the interval in milliseconds used when watching the chain tip
	PollIntervalKey = "POLL_INTERVAL"
	// EnableGapLimitKey selects gap-limit discovery for restores; when false the legacy brute-force window is used
	EnableGapLimitKey = "ENABLE_GAP_LIMIT"
	// GapLimitKey is the number of consecutive unused addresses after which a branch is considered fully discovered
	GapLimitKey = "GAP_LIMIT"
	// AddressBatchSizeKey is the number of addresses queried concurrently per batch during discovery
	AddressBatchSizeKey = "ADDRESS_BATCH_SIZE"
	// BlockScanThresholdKey is the number of addresses in play above which raw block scanning is preferred
	BlockScanThresholdKey = "BLOCK_SCAN_THRESHOLD"
	// MaxConcurrentBlockFetchesKey caps simultaneous in-flight block fetches during a block scan
	MaxConcurrentBlockFetchesKey = "MAX_CONCURRENT_BLOCK_FETCHES"
	// BruteForceWindowKey is the fixed per-branch address window of the legacy brute-force strategy
	BruteForceWindowKey = "BRUTE_FORCE_WINDOW"
	// RescanKey selects Rescan mode over Restore
	RescanKey = "RESCAN"
	// BirthdayHeightKey is the height before which the wallet is known to have no activity
	BirthdayHeightKey = "BIRTHDAY_HEIGHT"
	// NetworkKey is the network to use. Either "mainnet", "testnet" or "regtest"
	NetworkKey = "NETWORK"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// DatadirKey is the local data directory to store the scan state
	DatadirKey = "DATA_DIR_PATH"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("chainscan", false)

func init() {
	vip = viper.New()
	vip.SetEnvPrefix("CHAINSCAN")
	vip.AutomaticEnv()

	vip.SetDefault(ExplorerEndpointKey, "https://blockstream.info/api")
	vip.SetDefault(ExplorerRequestTimeoutKey, 15000)
	vip.SetDefault(ExplorerMaxRetryAttemptsKey, 3)
	vip.SetDefault(ExplorerIndexingLagRetriesKey, 5)
	vip.SetDefault(ExplorerMaxConcurrentRequestsKey, 8)
	vip.SetDefault(ExplorerRequestRateKey, 10)
	vip.SetDefault(ExplorerRequestBurstKey, 1)
	vip.SetDefault(PollIntervalKey, 5000)
	vip.SetDefault(EnableGapLimitKey, true)
	vip.SetDefault(GapLimitKey, 20)
	vip.SetDefault(AddressBatchSizeKey, 10)
	vip.SetDefault(BlockScanThresholdKey, 200)
	vip.SetDefault(MaxConcurrentBlockFetchesKey, 4)
	vip.SetDefault(BruteForceWindowKey, 100)
	vip.SetDefault(RescanKey, false)
	vip.SetDefault(BirthdayHeightKey, 0)
	vip.SetDefault(NetworkKey, "mainnet")
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(DatadirKey, defaultDatadir)

	if err := validate(); err != nil {
		log.WithError(err).Panic("error while validating config")
	}
}

// GetString ...
func GetString(key string) string {
	return vip.GetString(key)
}

// GetInt ...
func GetInt(key string) int {
	return vip.GetInt(key)
}

// GetBool ...
func GetBool(key string) bool {
	return vip.GetBool(key)
}

// GetDuration returns the value of a milliseconds key as a duration.
func GetDuration(key string) time.Duration {
	return time.Duration(vip.GetInt(key)) * time.Millisecond
}

// GetNetwork returns the chain parameters selected by the NETWORK key.
func GetNetwork() (*chaincfg.Params, error) {
	switch net := vip.GetString(NetworkKey); net {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %s", net)
	}
}

// Set ...
func Set(key string, value interface{}) {
	vip.Set(key, value)
}

func validate() error {
	if _, err := url.Parse(vip.GetString(ExplorerEndpointKey)); err != nil {
		return fmt.Errorf("explorer endpoint is not a valid url: %w", err)
	}
	for _, key := range []string{
		ExplorerRequestTimeoutKey,
		ExplorerMaxRetryAttemptsKey,
		ExplorerMaxConcurrentRequestsKey,
		ExplorerRequestRateKey,
		PollIntervalKey,
		GapLimitKey,
		AddressBatchSizeKey,
		BlockScanThresholdKey,
		MaxConcurrentBlockFetchesKey,
		BruteForceWindowKey,
	} {
		if vip.GetInt(key) <= 0 {
			return fmt.Errorf("%s must be a positive number", key)
		}
	}
	if vip.GetInt(ExplorerIndexingLagRetriesKey) < 0 {
		return fmt.Errorf("%s must not be a negative number", ExplorerIndexingLagRetriesKey)
	}
	if vip.GetInt(BirthdayHeightKey) < 0 {
		return fmt.Errorf("%s must not be a negative number", BirthdayHeightKey)
	}
	if _, err := GetNetwork(); err != nil {
		return err
	}
	return nil
}
