package main

import (
	"flag"
	"fmt"
	"os"

	"hello_gateway/internal/keygen"
	"hello_gateway/internal/shared/logger"
	"hello_gateway/internal/shared/types"
)

func main() {
	outDir := flag.String("out", ".", "Directory to write secret.key and public.key into")
	logLevel := flag.String("loglevel", "info", "Log level")
	flag.Parse()

	if err := logger.Init(types.LogConf{Level: *logLevel}); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	kp, err := keygen.Generate(nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("Key generation failed")
	}
	if err := kp.WriteFiles(*outDir); err != nil {
		logger.Fatal().Err(err).Msg("Failed to store keys")
	}
	logger.Info().Str("dir", *outDir).Msg("Key pair written.")
}
