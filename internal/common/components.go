package common

const (
	ComponentScanner        = "scanner"
	ComponentLogFetcher     = "log-fetcher"
	ComponentRecentWindow   = "recent-window"
	ComponentWatermarkStore = "watermark-store"
	ComponentLedger         = "ledger"
	ComponentRPC            = "rpc"
	ComponentMetrics        = "metrics"
)

var AllComponents = map[string]struct{}{
	ComponentScanner:        {},
	ComponentLogFetcher:     {},
	ComponentRecentWindow:   {},
	ComponentWatermarkStore: {},
	ComponentLedger:         {},
	ComponentRPC:            {},
	ComponentMetrics:        {},
}
