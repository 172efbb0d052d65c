package chains

// ChainList contains the list of supported destination chain IDs
var ChainList = []int{
	1,     // Ethereum
	137,   // Polygon
	42161, // Arbitrum
	43114, // Avalanche
	10,    // Optimism
	8453,  // Base
}

// chainNames maps chain IDs to their names
var chainNames = map[int]string{
	1:     "ETHEREUM",
	137:   "POLYGON",
	42161: "ARBITRUM",
	43114: "AVALANCHE",
	10:    "OPTIMISM",
	8453:  "BASE",
}

// endpointIDs maps chain IDs to their messaging endpoint IDs
var endpointIDs = map[int]uint32{
	1:     30101, // Ethereum
	137:   30109, // Polygon
	42161: 30110, // Arbitrum
	43114: 30106, // Avalanche
	10:    30111, // Optimism
	8453:  30184, // Base
}

// chainByEndpoint is the reverse of endpointIDs
var chainByEndpoint = func() map[uint32]int {
	m := make(map[uint32]int, len(endpointIDs))
	for chainID, eid := range endpointIDs {
		m[eid] = chainID
	}
	return m
}()

// GetChainName returns the name of the chain for a given chain ID
func GetChainName(chainID int) string {
	name, exists := chainNames[chainID]
	if !exists {
		return ""
	}
	return name
}

// EndpointID returns the messaging endpoint ID for a chain, or zero for
// unsupported chains
func EndpointID(chainID int) uint32 {
	return endpointIDs[chainID]
}

// ChainForEndpoint returns the chain ID behind a messaging endpoint, or
// zero for unknown endpoints
func ChainForEndpoint(endpointID uint32) int {
	return chainByEndpoint[endpointID]
}

// IsSupportedEndpoint reports whether messages can be dispatched to the
// given endpoint ID
func IsSupportedEndpoint(endpointID uint32) bool {
	_, exists := chainByEndpoint[endpointID]
	return exists
}
