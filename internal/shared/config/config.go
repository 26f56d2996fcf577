package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"hello_gateway/internal/shared/types"
)

// LoadIni 加载 webserver.ini 行为配置文件。
// 文件不存在时保留 cfg 中已有的默认值。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.LooseLoad(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	overrideFromEnvString(&cfg.ServerConf.RejectPolicy, "WEBSERVER_REJECT_POLICY")
	overrideFromEnvString(&cfg.LogConf.Level, "WEBSERVER_LOG_LEVEL")
	overrideFromEnvInt(&cfg.ServerConf.ReadBudget, "WEBSERVER_READ_BUDGET")
	return Validate(cfg)
}

// Validate normalizes cfg and rejects values the acceptor cannot run with.
func Validate(cfg *types.Config) error {
	cfg.ServerConf.RejectPolicy = strings.ToLower(strings.TrimSpace(cfg.ServerConf.RejectPolicy))
	if cfg.ServerConf.RejectPolicy == "" {
		cfg.ServerConf.RejectPolicy = string(types.PolicyStop)
	}
	if !types.RejectPolicy(cfg.ServerConf.RejectPolicy).Valid() {
		return fmt.Errorf("invalid reject_policy '%s' (want stop, drop or reply)", cfg.ServerConf.RejectPolicy)
	}
	if cfg.ServerConf.ReadBudget <= 0 {
		return fmt.Errorf("read_budget must be positive, got %d", cfg.ServerConf.ReadBudget)
	}
	if cfg.ServerConf.ReadTimeout < 0 {
		return fmt.Errorf("read_timeout must not be negative, got %d", cfg.ServerConf.ReadTimeout)
	}
	return nil
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
