package config

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"carbon-gocli/internal/chain"
)

type Contracts struct {
	Controller common.Address
	Voucher    common.Address
	Multicall  common.Address

	// Governance targets are deployment specific and ship unset; they must be
	// provided through the config file or environment before use.
	Governor common.Address
	Timelock common.Address
}

type Network struct {
	Name      string
	ChainID   int64
	RPCURL    string
	Contracts Contracts
	Tokens    map[string]common.Address
}

var networks = map[string]Network{
	"ethereum": {
		Name:    "ethereum",
		ChainID: 1,
		RPCURL:  "https://eth.llamarpc.com",
		Contracts: Contracts{
			Controller: common.HexToAddress("0xC537e898CD774e2dCBa3B14Ea6f34C93d5eA45e1"),
			Voucher:    common.HexToAddress("0x3660F04B79751e31128f6378eAC70807e38f554E"),
			Multicall:  common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11"),
		},
		Tokens: map[string]common.Address{
			"ETH":  chain.NativeToken,
			"WETH": common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
			"USDC": common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
			"USDT": common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"),
			"DAI":  common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
			"BNT":  common.HexToAddress("0x1F573D6Fb3F13d689FF844B4cE37794d79a7FF1C"),
			"WBTC": common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"),
		},
	},
}

// LookupNetwork returns a copy of the named network entry.
func LookupNetwork(name string) (Network, bool) {
	n, ok := networks[name]
	if !ok {
		return Network{}, false
	}
	tokens := make(map[string]common.Address, len(n.Tokens))
	for k, v := range n.Tokens {
		tokens[k] = v
	}
	n.Tokens = tokens
	return n, true
}

func NetworkNames() []string {
	out := make([]string, 0, len(networks))
	for name := range networks {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
