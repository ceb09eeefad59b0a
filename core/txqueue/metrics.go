package txqueue

import "github.com/ethereum/go-ethereum/metrics"

var queueAdmitMeter = metrics.NewRegisteredMeter("evm/txqueue/admit", nil)
