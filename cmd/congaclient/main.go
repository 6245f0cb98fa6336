package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/conga/internal/client"
	"github.com/danmuck/conga/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	cfg := client.DefaultConfig()
	pflag.StringVarP(&cfg.Address, "addr", "a", cfg.Address, "relay address")
	messages := pflag.StringArrayP("message", "m", nil, "message body to send after HELLO (repeatable)")
	listen := pflag.BoolP("listen", "l", false, "print frames received from the ring")
	relayOn := pflag.Bool("relay", false, "send every received MSG back into the ring")
	bye := pflag.Bool("bye", false, "send BYE after the messages and exit")
	pflag.Parse()

	logging.ConfigureRuntime()
	if err := run(cfg, *messages, *listen, *relayOn, *bye); err != nil {
		fmt.Fprintf(os.Stderr, "congaclient: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg client.Config, messages []string, listen, relayOn, bye bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	context.AfterFunc(ctx, func() { _ = c.Close() })

	if err := c.Hello(); err != nil {
		return err
	}
	log.Info().Str("addr", cfg.Address).Str("local", c.LocalAddr()).Msg("joined ring")

	for _, m := range messages {
		if err := c.Send(nil, []byte(m)); err != nil {
			return err
		}
	}
	if bye {
		return c.Bye()
	}
	if !listen && !relayOn {
		return nil
	}

	for {
		f, err := c.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if listen {
			fmt.Printf("%s %d bytes: %s\n", f.Verb, f.BodyLen, f.Body)
		}
		if relayOn {
			if err := c.WriteRaw(f.Wire()); err != nil {
				return err
			}
		}
	}
}
