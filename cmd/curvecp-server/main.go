// Command curvecp-server accepts CurveCP connections, one after another
// until it is killed, and on each one echoes back every message it
// receives.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/Rudd-O/curvecp"
	"github.com/Rudd-O/curvecp/vault"
)

func main() {
	listen := flag.String("listen", "127.0.0.1:4343", "address to listen on")
	keyFlag := flag.String("key", "", "server long-term private key, as printed by curvecp-genkeypair (generated if omitted)")
	flag.Parse()

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	var v *vault.Local
	if *keyFlag != "" {
		priv, err := vault.PrivateKeyFromString(*keyFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, "curvecp-server:", err)
			os.Exit(1)
		}
		v = vault.NewLocalFromPrivate(priv)
	} else {
		var err error
		v, err = vault.GenerateLocal()
		if err != nil {
			fmt.Fprintln(os.Stderr, "curvecp-server:", err)
			os.Exit(1)
		}
	}
	log.Info().Str("public-key", v.PublicKey().String()).Msg("server identity")

	ln, err := curvecp.Listen("tcp", *listen, curvecp.WithVault(v), curvecp.WithLogger(log))
	if err != nil {
		fmt.Fprintln(os.Stderr, "curvecp-server:", err)
		os.Exit(1)
	}
	defer ln.Close()
	log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	for {
		c, err := ln.Accept(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("accept failed")
			continue
		}
		go serve(c, log)
	}
}

func serve(c *curvecp.Connection, log zerolog.Logger) {
	defer c.Close()
	for {
		msg, err := c.Recv(context.Background())
		if err != nil {
			log.Info().Err(err).Uint64("conn", c.ID()).Msg("connection ended")
			return
		}
		if err := c.Send(msg); err != nil {
			log.Error().Err(err).Msg("send failed")
			return
		}
	}
}
