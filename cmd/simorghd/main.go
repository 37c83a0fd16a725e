// Command simorghd is the simorgh proxy engine's process entrypoint: load
// config, wire the rule engine, outbound connector and optional MitM
// interceptor, and run the dispatcher-backed listener loop until
// interrupted.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/arashdev/simorgh/internal/config"
	"github.com/arashdev/simorgh/internal/engine"
	"github.com/arashdev/simorgh/internal/flags"
	"github.com/arashdev/simorgh/internal/logger"
	"github.com/arashdev/simorgh/internal/mitm"
	"github.com/arashdev/simorgh/internal/outbound"
	"github.com/arashdev/simorgh/internal/ruleengine"
	"github.com/arashdev/simorgh/pkg/httpconnect"
	"github.com/arashdev/simorgh/pkg/socks5"
)

func main() {
	cfg := config.Get(flags.CfgPathFlag)

	rules, proxies, def := cfg.Policy()
	ruleEngine := ruleengine.New(rules, proxies, def, 0)

	var interceptor *mitm.Interceptor
	if cfg.Mitm.Enabled {
		pool, err := httpconnect.NewCertPool(cfg.Mitm.Base64P12, cfg.Mitm.Passphrase, cfg.Mitm.Hostnames, 0)
		if err != nil {
			logger.Fatal(errors.Join(errMitmSetupFailed, err))
		}
		interceptor = mitm.New(pool)
	}

	e := engine.New(engine.Config{
		Socks5Addr: cfg.Listen.Socks5,
		HTTPAddr:   cfg.Listen.HTTP,
		Rules:      ruleEngine,
		Outbound:   outbound.New(0),
		Mitm:       interceptor,
	}, socks5.NewServer(socks5.ServerConfig{}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := e.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal(errors.Join(errEngineStopped, err))
	}
}

var (
	errMitmSetupFailed = errors.New("simorghd: mitm certificate pool setup failed")
	errEngineStopped   = errors.New("simorghd: engine stopped")
)
