package main

import (
	"log"

	"github.com/danmuck/conga/internal/config"
	"github.com/spf13/pflag"
)

const defaultPath = "cmd/congactl/config.toml"

func main() {
	output := pflag.StringP("output", "o", defaultPath, "output path for config template")
	validate := pflag.Bool("validate", false, "validate an existing config file")
	input := pflag.StringP("input", "i", defaultPath, "config path for validation")
	force := pflag.Bool("force", false, "overwrite existing config file")
	pflag.Parse()

	if *validate {
		if _, err := config.LoadRelayConfig(*input); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated relay config at %s", *input)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote relay config template to %s", *output)
}
