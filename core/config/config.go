package config

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

var (
	ErrInvalidChunkSize = errors.New("FARM_CHUNK_SIZE must be positive")
)

type Config struct {
	Network struct {
		ListenAddrs       []string      `envconfig:"FARM_LISTEN_ADDRS" default:"/ip4/0.0.0.0/tcp/0,/ip4/0.0.0.0/udp/0/quic-v1"`
		DiscoveryTag      string        `envconfig:"FARM_DISCOVERY_TAG" default:"renderfarm"`
		MDNS              bool          `envconfig:"FARM_MDNS" default:"true"`
		RequestTimeout    time.Duration `envconfig:"FARM_REQUEST_TIMEOUT" default:"30s"`
		IdentityInterval  time.Duration `envconfig:"FARM_IDENTITY_INTERVAL" default:"30s"`
		ReprovideInterval time.Duration `envconfig:"FARM_REPROVIDE_INTERVAL" default:"1m"`
		MaxFileSize       int64         `envconfig:"FARM_MAX_FILE_SIZE" default:"4294967296"`
	}
	Store struct {
		Path string `envconfig:"FARM_STORE_PATH"`
	}
	Dispatch struct {
		ChunkSize int `envconfig:"FARM_CHUNK_SIZE" default:"10"`
	}
	Worker struct {
		CacheDir       string        `envconfig:"FARM_CACHE_DIR" default:"cache"`
		RenderDir      string        `envconfig:"FARM_RENDER_DIR" default:"renders"`
		BlenderPath    string        `envconfig:"FARM_BLENDER_PATH" default:"blender"`
		GPUName        string        `envconfig:"FARM_GPU_NAME"`
		StatusInterval time.Duration `envconfig:"FARM_STATUS_INTERVAL" default:"10s"`
	}
}

func GetConfig() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Dispatch.ChunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}

	return &cfg, nil
}
