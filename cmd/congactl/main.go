package main

import (
	"fmt"
	"os"

	"github.com/danmuck/conga/internal/logging"
	"github.com/danmuck/conga/internal/relay"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.String("config", "", "path to congactl config.toml")
	addr := pflag.String("addr", "", "listen address override")
	pflag.Parse()

	logging.ConfigureRuntime()

	cfg := relay.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "congactl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}

	svc, err := relay.NewServiceWithConfig(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "congactl: %v\n", err)
		os.Exit(1)
	}
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "congactl: %v\n", err)
		os.Exit(1)
	}
}
