package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"hello_gateway/internal/app"
	"hello_gateway/internal/core/acceptor"
	"hello_gateway/internal/shared/config"
	"hello_gateway/internal/shared/logger"
	"hello_gateway/internal/shared/types"
)

// NOTE: for privileged ports, sudo setcap 'cap_net_bind_service=+ep' /path/to/program
const listenAddr = "0.0.0.0:8888"

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-configdir DIR] <root_folder>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	rootFolder := flag.Arg(0)

	iniPath := filepath.Join(*configDir, "webserver.ini")

	// 1. 加载 .ini 行为配置 (文件缺失时使用默认值)
	cfg := types.DefaultConfig()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 2. 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*configDir, 0755); err != nil {
		logger.Fatal().Err(err).Msgf("Failed to create config directory '%s'", *configDir)
	}

	// 3. 创建并运行服务器
	server, err := app.New(cfg, *configDir, rootFolder, listenAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create server")
	}
	if err := server.Run(); err != nil && !errors.Is(err, acceptor.ErrRejected) {
		logger.Fatal().Err(err).Msg("Server stopped")
	}
}
