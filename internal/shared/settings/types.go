package settings

// FirewallAction 定义了允许列表规则的动作
type FirewallAction string

const (
	ActionAllow FirewallAction = "allow"
	ActionDeny  FirewallAction = "deny"
)

// FirewallRule 描述一条按源地址匹配的规则。
type FirewallRule struct {
	Priority   int            `json:"priority"`
	Protocol   string         `json:"protocol,omitempty"` // "tcp", "udp", or empty for both
	SourceCIDR []string       `json:"source_cidr,omitempty"`
	LocalPort  string         `json:"local_port,omitempty"` // listening port(s) the client connected to, e.g. "8888,9000-9100"
	Action     FirewallAction `json:"action"`              // "allow" or "deny"
}

// FirewallSettings 对应 settings.json 中的 "firewall" 模块。
type FirewallSettings struct {
	Enabled bool            `json:"enabled"`
	Rules   []*FirewallRule `json:"rules"`
}

// ConfigurableModule 是所有希望其配置能被在线管理的模块必须实现的接口。
// 当相关配置发生变更时，SettingsManager 会调用 OnSettingsUpdate。
type ConfigurableModule interface {
	// moduleKey: 发生变化的模块 (e.g., "firewall")。
	// newSettings: 对应模块已经解析好的新配置结构体指针 (e.g., *FirewallSettings)。
	OnSettingsUpdate(moduleKey string, newSettings interface{}) error
}

// RuntimeSettings 是 settings.json 文件的顶层结构。
type RuntimeSettings struct {
	Firewall *FirewallSettings `json:"firewall"`
}

// DefaultAllowList reproduces the built-in allow-list: 192.168.* and 127.0.0.1,
// everything else denied.
func DefaultAllowList() *FirewallSettings {
	return &FirewallSettings{
		Enabled: true,
		Rules: []*FirewallRule{
			{Priority: 10, Protocol: "tcp", SourceCIDR: []string{"192.168.0.0/16"}, Action: ActionAllow},
			{Priority: 20, Protocol: "tcp", SourceCIDR: []string{"127.0.0.1"}, Action: ActionAllow},
		},
	}
}

func createDefaultSettings() *RuntimeSettings {
	return &RuntimeSettings{
		Firewall: DefaultAllowList(),
	}
}

func ensureDefaultModules(s *RuntimeSettings) {
	if s.Firewall == nil {
		s.Firewall = DefaultAllowList()
	}
}
