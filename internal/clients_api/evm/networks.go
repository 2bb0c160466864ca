package evm

// Network is one supported chain and its ordered public endpoints.
type Network struct {
	ID        string
	Name      string
	ChainID   int64
	Endpoints []string
}

// DefaultNetworks is the built-in catalogue. Endpoint order is failover order.
func DefaultNetworks() []Network {
	return []Network{
		{
			ID:      "ethereum",
			Name:    "Ethereum Mainnet",
			ChainID: 1,
			Endpoints: []string{
				"https://ethereum.publicnode.com",
				"https://eth.llamarpc.com",
				"https://eth.rpc.blxrbdn.com",
			},
		},
		{
			ID:      "bsc",
			Name:    "Binance Smart Chain",
			ChainID: 56,
			Endpoints: []string{
				"https://bsc-dataseed.binance.org",
				"https://bsc-dataseed1.defibit.io",
				"https://bsc-dataseed1.ninicoin.io",
			},
		},
		{
			ID:      "polygon",
			Name:    "Polygon Mainnet",
			ChainID: 137,
			Endpoints: []string{
				"https://polygon-rpc.com",
				"https://rpc-mainnet.matic.network",
				"https://matic-mainnet.chainstacklabs.com",
			},
		},
		{
			ID:      "arbitrum",
			Name:    "Arbitrum One",
			ChainID: 42161,
			Endpoints: []string{
				"https://arb1.arbitrum.io/rpc",
				"https://arbitrum.llamarpc.com",
				"https://arbitrum-one.public.blastapi.io",
			},
		},
	}
}

// WithOverrides replaces endpoint lists for the networks present in overrides.
// Unknown ids are ignored; config validation rejects them earlier.
func WithOverrides(networks []Network, overrides map[string][]string) []Network {
	out := make([]Network, len(networks))
	for i, n := range networks {
		if urls, ok := overrides[n.ID]; ok && len(urls) > 0 {
			n.Endpoints = append([]string(nil), urls...)
		}
		out[i] = n
	}
	return out
}
