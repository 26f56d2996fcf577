package types

// ListenerInfo holds the runtime listening info of the acceptor.
type ListenerInfo struct {
	Address string
	Port    int
}

// TrafficStats 用于报告流量统计信息
type TrafficStats struct {
	Uplink   uint64
	Downlink uint64
}

// Metrics holds the runtime counters of the acceptor.
type Metrics struct {
	Accepted uint64 `json:"accepted"`
	Served   uint64 `json:"served"`
	Rejected uint64 `json:"rejected"`
	Failed   uint64 `json:"failed"`
	Traffic  TrafficStats
}
