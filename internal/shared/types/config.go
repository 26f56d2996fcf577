package types

// RejectPolicy 决定了当一个不在允许列表中的客户端连接时 acceptor 的行为。
type RejectPolicy string

const (
	// PolicyStop ends the accept loop entirely.
	PolicyStop RejectPolicy = "stop"
	// PolicyDrop closes the offending connection and keeps accepting.
	PolicyDrop RejectPolicy = "drop"
	// PolicyReply sends a fixed denial body, closes, and keeps accepting.
	PolicyReply RejectPolicy = "reply"
)

// Valid reports whether p names a known policy.
func (p RejectPolicy) Valid() bool {
	switch p {
	case PolicyStop, PolicyDrop, PolicyReply:
		return true
	}
	return false
}

// ServerConf 包含 acceptor 的行为配置
type ServerConf struct {
	RejectPolicy string `ini:"reject_policy"`
	ReadBudget   int    `ini:"read_budget"`
	ReadTimeout  int    `ini:"read_timeout"` // seconds, 0 = none
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level string `ini:"level"`
}

// Config 是统一的配置结构体 (webserver.ini)
type Config struct {
	ServerConf `ini:"server"`
	LogConf    `ini:"log"`
}

// DefaultConfig returns the configuration used when no ini file is present.
func DefaultConfig() *Config {
	return &Config{
		ServerConf: ServerConf{
			RejectPolicy: string(PolicyStop),
			ReadBudget:   4096,
			ReadTimeout:  0,
		},
		LogConf: LogConf{Level: "info"},
	}
}
