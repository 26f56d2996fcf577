// FILE: internal/firewall/engine.go
package firewall

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"hello_gateway/internal/shared/logger"
	"hello_gateway/internal/shared/settings"
)

// Firewall 接口定义了允许列表引擎的行为
type Firewall interface {
	Check(metadata *ConnectionMetadata) settings.FirewallAction
	Allowed(source net.Addr) bool
	settings.ConfigurableModule
}

// ConnectionMetadata 包含了防火墙决策所需的信息
type ConnectionMetadata struct {
	Protocol string // "tcp" or "udp"
	Source   net.Addr
	Local    net.Addr // 本地监听地址，用于端口匹配
}

type portRange struct {
	start, end uint16
}

type parsedFirewallRule struct {
	original   *settings.FirewallRule
	sourceNets []*net.IPNet
	portRanges []portRange
}

// Engine 实现了 Firewall 接口
type Engine struct {
	mu      sync.RWMutex
	rules   []*parsedFirewallRule
	enabled bool
}

// NewEngine 创建一个新的防火墙引擎实例 (默认禁用，全部放行)
func NewEngine() *Engine {
	return &Engine{}
}

// NewDefaultEngine returns an engine loaded with settings.DefaultAllowList.
func NewDefaultEngine() *Engine {
	e := NewEngine()
	// the built-in rules always parse
	_ = e.OnSettingsUpdate("firewall", settings.DefaultAllowList())
	return e
}

// OnSettingsUpdate 实现了 settings.ConfigurableModule 接口，用于热重载规则
func (e *Engine) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	if moduleKey != "firewall" {
		return nil
	}
	cfg, ok := newSettings.(*settings.FirewallSettings)
	if !ok {
		return fmt.Errorf("firewall: received incorrect settings type")
	}

	validRules := make([]*parsedFirewallRule, 0, len(cfg.Rules))
	if cfg.Enabled {
		for _, rule := range cfg.Rules {
			pr, err := parseRule(rule)
			if err != nil {
				logger.Error().Err(err).Interface("rule", rule).Msg("Failed to parse firewall rule, skipping.")
				continue
			}
			validRules = append(validRules, pr)
		}
		sort.SliceStable(validRules, func(i, j int) bool {
			return validRules[i].original.Priority < validRules[j].original.Priority
		})
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.enabled = cfg.Enabled
	if !e.enabled {
		logger.Warn().Msg("Firewall is disabled by configuration. All clients will be allowed.")
		e.rules = nil
		return nil
	}
	e.rules = validRules
	logger.Info().Int("count", len(e.rules)).Msg("Firewall rules updated successfully.")
	return nil
}

// Allowed 是 Check 的便捷形式，只依据源地址做判断。
func (e *Engine) Allowed(source net.Addr) bool {
	return e.Check(&ConnectionMetadata{Protocol: "tcp", Source: source}) == settings.ActionAllow
}

// Check 根据已加载的规则对连接进行检查
func (e *Engine) Check(meta *ConnectionMetadata) settings.FirewallAction {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.enabled {
		return settings.ActionAllow
	}

	srcIP := addrIP(meta.Source)
	if srcIP == nil {
		// 无法解析源地址，无法证明其在允许列表中
		return settings.ActionDeny
	}
	localPort := addrPort(meta.Local)

	for _, rule := range e.rules {
		if rule.matches(meta.Protocol, srcIP, localPort) {
			logger.Debug().
				Str("action", string(rule.original.Action)).
				Int("priority", rule.original.Priority).
				Str("src", srcIP.String()).
				Msg("Firewall rule matched.")
			return rule.original.Action
		}
	}

	logger.Debug().
		Str("action", string(settings.ActionDeny)).
		Str("reason", "No rule matched, default deny").
		Str("src", srcIP.String()).
		Msg("Firewall check finished.")
	return settings.ActionDeny
}

func addrIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case nil:
		return nil
	case *net.TCPAddr:
		if a == nil {
			return nil
		}
		return a.IP
	case *net.UDPAddr:
		if a == nil {
			return nil
		}
		return a.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	return net.ParseIP(host)
}

func addrPort(addr net.Addr) uint16 {
	switch a := addr.(type) {
	case *net.TCPAddr:
		if a != nil {
			return uint16(a.Port)
		}
	case *net.UDPAddr:
		if a != nil {
			return uint16(a.Port)
		}
	}
	return 0
}

func (pr *parsedFirewallRule) matches(proto string, srcIP net.IP, localPort uint16) bool {
	if pr.original.Protocol != "" && !strings.EqualFold(pr.original.Protocol, proto) {
		return false
	}
	if len(pr.sourceNets) > 0 {
		match := false
		for _, network := range pr.sourceNets {
			if network.Contains(srcIP) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if len(pr.portRanges) > 0 {
		match := false
		for _, prange := range pr.portRanges {
			if localPort >= prange.start && localPort <= prange.end {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

func parseRule(rule *settings.FirewallRule) (*parsedFirewallRule, error) {
	if rule == nil {
		return nil, fmt.Errorf("nil rule")
	}
	if rule.Action != settings.ActionAllow && rule.Action != settings.ActionDeny {
		return nil, fmt.Errorf("invalid action: '%s'", rule.Action)
	}
	pr := &parsedFirewallRule{original: rule}
	var err error

	pr.sourceNets, err = parseCIDRs(rule.SourceCIDR)
	if err != nil {
		return nil, err
	}

	pr.portRanges, err = parsePortRanges(rule.LocalPort)
	if err != nil {
		return nil, err
	}

	return pr, nil
}

func parseCIDRs(cidrs []string) ([]*net.IPNet, error) {
	if len(cidrs) == 0 {
		return nil, nil
	}
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidrStr := range cidrs {
		trimmedCidr := strings.TrimSpace(cidrStr)
		if trimmedCidr == "" {
			continue
		}

		// 单个 IP 地址，补上主机掩码
		if !strings.Contains(trimmedCidr, "/") {
			ip := net.ParseIP(trimmedCidr)
			if ip == nil {
				return nil, fmt.Errorf("invalid IP address format: '%s'", trimmedCidr)
			}
			if ip.To4() != nil {
				trimmedCidr += "/32"
			} else {
				trimmedCidr += "/128"
			}
		}

		_, network, err := net.ParseCIDR(trimmedCidr)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR '%s': %w", trimmedCidr, err)
		}
		nets = append(nets, network)
	}
	return nets, nil
}

func parsePortRanges(portStr string) ([]portRange, error) {
	if portStr == "" {
		return nil, nil
	}
	var ranges []portRange
	parts := strings.Split(portStr, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if strings.Contains(part, "-") {
			rangeParts := strings.Split(part, "-")
			if len(rangeParts) != 2 {
				return nil, fmt.Errorf("invalid port range: %s", part)
			}
			start, err1 := strconv.ParseUint(rangeParts[0], 10, 16)
			end, err2 := strconv.ParseUint(rangeParts[1], 10, 16)
			if err1 != nil || err2 != nil || start > end || start == 0 {
				return nil, fmt.Errorf("invalid port range values: %s", part)
			}
			ranges = append(ranges, portRange{uint16(start), uint16(end)})
		} else {
			port, err := strconv.ParseUint(part, 10, 16)
			if err != nil || port == 0 {
				return nil, fmt.Errorf("invalid port: %s", part)
			}
			ranges = append(ranges, portRange{uint16(port), uint16(port)})
		}
	}
	return ranges, nil
}
