package params

import (
	"math/big"

	gethparams "github.com/ethereum/go-ethereum/params"
)

// ForkName reports the most recent fork active at the given block number and
// timestamp. It only serves diagnostics; execution rules come from
// ChainConfig.Rules.
func ForkName(cfg *gethparams.ChainConfig, num uint64, ts uint64) string {
	bn := new(big.Int).SetUint64(num)
	switch {
	case cfg.IsPrague(bn, ts):
		return "prague"
	case cfg.IsCancun(bn, ts):
		return "cancun"
	case cfg.IsShanghai(bn, ts):
		return "shanghai"
	case cfg.IsLondon(bn):
		if cfg.IsGrayGlacier(bn) {
			return "grayGlacier"
		}
		if cfg.IsArrowGlacier(bn) {
			return "arrowGlacier"
		}
		return "london"
	case cfg.IsBerlin(bn):
		return "berlin"
	case cfg.IsIstanbul(bn):
		return "istanbul"
	case cfg.IsPetersburg(bn):
		return "petersburg"
	case cfg.IsConstantinople(bn):
		return "constantinople"
	case cfg.IsByzantium(bn):
		return "byzantium"
	case cfg.IsEIP158(bn):
		return "spuriousDragon"
	case cfg.IsEIP150(bn):
		return "tangerineWhistle"
	case cfg.IsHomestead(bn):
		return "homestead"
	default:
		return "frontier"
	}
}
