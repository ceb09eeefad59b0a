package core

import "github.com/ethereum/go-ethereum/metrics"

var (
	finalizeTimer        = metrics.NewRegisteredTimer("evm/finalize/duration", nil)
	finalizedBlockMeter  = metrics.NewRegisteredMeter("evm/finalize/blocks", nil)
	finalizedTxMeter     = metrics.NewRegisteredMeter("evm/finalize/txs", nil)
	failedTxMeter        = metrics.NewRegisteredMeter("evm/finalize/failed", nil)
	dryRunCounter        = metrics.NewRegisteredCounter("evm/finalize/dryrun", nil)
	rejectedBlockMeter   = metrics.NewRegisteredMeter("evm/finalize/rejected", nil)
	admissionRejectMeter = metrics.NewRegisteredMeter("evm/admission/rejected", nil)
)
