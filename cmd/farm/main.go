package main

import (
	"context"
	"os"
	"time"

	"github.com/pyropy/renderfarm/core/config"
	"github.com/pyropy/renderfarm/core/hardware"
	"github.com/pyropy/renderfarm/core/network"
	"github.com/pyropy/renderfarm/core/store"
	"github.com/pyropy/renderfarm/lib/logger"
	"github.com/urfave/cli/v2"
)

var log = logger.Must("farm")

const flushTimeout = 2 * time.Second

func main() {
	app := &cli.App{
		Name:  "farm",
		Usage: "render scenes across the machines of a local network",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "store",
				Usage: "Directory of the leveldb store, in-memory stores are used when empty",
			},
		},
		Commands: []*cli.Command{
			managerCmd,
			nodeCmd,
			jobsCmd,
			rendersCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalln("startup", "ERROR", err)
	}
}

// loadConfig reads the environment and applies the global flags.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.GetConfig()
	if err != nil {
		return nil, err
	}

	if s := ctx.String("store"); s != "" {
		cfg.Store.Path = s
	}

	return cfg, nil
}

// instance is the runtime shared by both roles.
type instance struct {
	cfg    *config.Config
	stores *store.Stores
	net    *network.Controller
}

func startInstance(ctx context.Context, cfg *config.Config, announce bool) (*instance, error) {
	stores, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Infow("startup", "error", "open store failed", "path", cfg.Store.Path)
		return nil, err
	}

	spec := hardware.Capture(cfg.Worker.GPUName)
	net, err := network.New(ctx, network.OptionsFromConfig(cfg, announce), spec, log.Named("network"))
	if err != nil {
		stores.Close()
		log.Infow("startup", "error", "network start failed")
		return nil, err
	}

	go func() {
		if err := net.Run(ctx); err != nil {
			log.Errorw("network", "status", "controller stopped", "error", err)
		}
	}()

	info := net.AddrInfo()
	log.Infow("startup", "status", "peer started", "id", info.ID, "addrs", info.Addrs, "host", spec.Host, "cores", spec.Cores)

	return &instance{cfg: cfg, stores: stores, net: net}, nil
}

// Close hands queued messages, such as the Remove of an interrupted job, to
// the overlay before the host goes away.
func (p *instance) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	if err := p.net.Flush(ctx); err != nil {
		log.Warnw("shutdown", "status", "pending messages dropped", "error", err)
	}
	cancel()

	if err := p.net.Close(); err != nil {
		log.Warnw("shutdown", "status", "network close failed", "error", err)
	}

	if err := p.stores.Close(); err != nil {
		log.Warnw("shutdown", "status", "store close failed", "error", err)
	}

	log.Infow("shutdown", "status", "peer stopped")
}
