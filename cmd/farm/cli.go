package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/renderfarm/core/dispatcher"
	"github.com/pyropy/renderfarm/core/model"
	"github.com/pyropy/renderfarm/core/render"
	"github.com/pyropy/renderfarm/core/store"
	"github.com/pyropy/renderfarm/core/worker"
	"github.com/urfave/cli/v2"
)

var errMissingStore = errors.New("--store or FARM_STORE_PATH is required")

var managerCmd = &cli.Command{
	Name:  "manager",
	Usage: "Distribute a render job to the nodes of the farm",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "file",
			Required: true,
			Usage:    "Path to the scene you want to render",
		},
		&cli.IntFlag{
			Name:  "start",
			Value: 1,
			Usage: "First frame to render",
		},
		&cli.IntFlag{
			Name:  "end",
			Usage: "Frame after the last one to render, a single frame is rendered when omitted",
		},
		&cli.StringFlag{
			Name:  "output",
			Value: "out",
			Usage: "Directory rendered frames are copied to",
		},
		&cli.StringFlag{
			Name:  "version",
			Value: "4.1",
			Usage: "Blender version the scene requires",
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Frames per task, overrides FARM_CHUNK_SIZE",
		},
	},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if ctx.IsSet("chunk-size") {
			cfg.Dispatch.ChunkSize = ctx.Int("chunk-size")
		}

		scene, err := filepath.Abs(ctx.String("file"))
		if err != nil {
			return err
		}

		mode := model.Frame(ctx.Int("start"))
		if ctx.IsSet("end") {
			mode = model.Animation(ctx.Int("start"), ctx.Int("end"))
		}
		if err := mode.Validate(); err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		p, err := startInstance(runCtx, cfg, false)
		if err != nil {
			return err
		}
		defer p.Close()

		d, err := dispatcher.New(p.net, p.stores, cfg.Dispatch.ChunkSize, log.Named("dispatcher"))
		if err != nil {
			return err
		}
		go d.Run(runCtx)

		job := model.NewJob(scene, ctx.String("output"), mode, ctx.String("version"))
		if err := d.StartJob(runCtx, job); err != nil {
			return err
		}
		log.Infow("manager", "status", "job started", "job", job.ID, "file", scene, "mode", mode.String())

		shutdown, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return watchJob(shutdown, d, job.ID)
	},
}

// watchJob prints notifications until the job ends. An interrupted job is
// removed so nodes stop rendering it.
func watchJob(ctx context.Context, d *dispatcher.Dispatcher, id uuid.UUID) error {
	for {
		select {
		case n := <-d.Notifications():
			fmt.Println(n)

			if n.JobID != id {
				continue
			}
			switch n.Kind {
			case dispatcher.JobComplete:
				log.Infow("manager", "status", "job complete", "job", id)
				return nil
			case dispatcher.JobFailed:
				return fmt.Errorf("job %s failed: %s", id, n.Message)
			}
		case <-ctx.Done():
			log.Infow("shutdown", "status", "removing interrupted job", "job", id)

			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return d.RemoveJob(rctx, id)
		}
	}
}

var nodeCmd = &cli.Command{
	Name:  "node",
	Usage: "Render tasks handed out by managers on the network",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "blender",
			Usage: "Blender executable, overrides FARM_BLENDER_PATH",
		},
		&cli.StringFlag{
			Name:  "cache",
			Usage: "Directory fetched scenes are kept in, overrides FARM_CACHE_DIR",
		},
	},
	Action: func(ctx *cli.Context) error {
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		if s := ctx.String("blender"); s != "" {
			cfg.Worker.BlenderPath = s
		}
		if s := ctx.String("cache"); s != "" {
			cfg.Worker.CacheDir = s
		}

		runCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p, err := startInstance(runCtx, cfg, true)
		if err != nil {
			return err
		}
		defer p.Close()

		blender := render.NewBlender(cfg.Worker.BlenderPath, log.Named("render"))
		w := worker.New(p.net, p.stores.Tasks, blender, worker.OptionsFromConfig(cfg), log.Named("worker"))

		log.Infow("startup", "status", "node ready", "blender", cfg.Worker.BlenderPath, "cache", cfg.Worker.CacheDir)
		return w.Run(runCtx)
	},
}

var jobsCmd = &cli.Command{
	Name:  "jobs",
	Usage: "List jobs recorded in the store",
	Action: func(ctx *cli.Context) error {
		stores, err := openStores(ctx)
		if err != nil {
			return err
		}
		defer stores.Close()

		jobs, err := stores.Jobs.ListAll(ctx.Context)
		if err != nil {
			return err
		}

		for _, job := range jobs {
			fmt.Println(job.ID, job.Mode, job.Path, job.OutputDir)
		}

		return nil
	},
}

var rendersCmd = &cli.Command{
	Name:  "renders",
	Usage: "List rendered frames recorded in the store",
	Action: func(ctx *cli.Context) error {
		stores, err := openStores(ctx)
		if err != nil {
			return err
		}
		defer stores.Close()

		renders, err := stores.Renders.List(ctx.Context)
		if err != nil {
			return err
		}

		for _, r := range renders {
			fmt.Println(r.CreatedAt.Format(time.RFC3339), r.JobID, r.Frame, r.Path)
		}

		return nil
	},
}

func openStores(ctx *cli.Context) (*store.Stores, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.Store.Path == "" {
		return nil, errMissingStore
	}

	return store.Open(cfg.Store.Path)
}
