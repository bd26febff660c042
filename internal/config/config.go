// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package config is a singleton and provides global access to the
// configuration values.
package config

import (
	"flag"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

const (
	// Default config path. It does not need to exist, default values for all parameters will be
	// used instead.
	defaultConfig = "/etc/braid/config.toml"
)

var Cfg Config

// Configuration structure for the program. We use toml format for file-based
// configuration and also all configuration options can be overriden by
// environment variable specified in this structure.
type Config struct {
	ConfigPath string

	Major      int  `toml:"major" env:"BRAID_MAJOR" env-default:"0" env-description:"Device major. Decimal part of /dev/buse%d."`
	Threads    int  `toml:"threads" env:"BRAID_THREADS" env-default:"0" env-description:"Number of user-space threads for serving queues."`
	BlockSize  int  `toml:"block_size" env:"BRAID_BLOCKSIZE" env-default:"4096" env-description:"Block size. Unit of all offsets, lengths and the stripe size."`
	Scheduler  bool `toml:"scheduler" env:"BRAID_SCHEDULER" env-default:"false" env-description:"Use block layer scheduler."`
	QueueDepth int  `toml:"queue_depth" env:"BRAID_QUEUEDEPTH" env-default:"128" env-description:"Device IO queue depth."`

	Raid struct {
		Level      string   `toml:"level" env:"BRAID_RAID_LEVEL" env-default:"striped" env-description:"Scheme of the virtual device. striped (raid0) or mirrored (raid1)."`
		StripeSize int64    `toml:"stripe_size" env:"BRAID_RAID_STRIPESIZE" env-default:"256" env-description:"Stripe size in blocks. Divided evenly among devices, hence has to be divisible by their count."`
		Devices    []string `toml:"devices" env:"BRAID_RAID_DEVICES" env-separator:"," env-description:"Ordered list of underlying device URIs. The first one is the primary for mirroring."`
		Readers    int      `toml:"readers" env:"BRAID_RAID_READERS" env-default:"4" env-description:"Reader threads per underlying device."`
		Writers    int      `toml:"writers" env:"BRAID_RAID_WRITERS" env-default:"4" env-description:"Writer threads per underlying device."`
	} `toml:"raid"`

	S3 struct {
		Remote      string `toml:"remote" env:"BRAID_S3_REMOTE" env-description:"S3 Remote address. Empty string for AWS S3 endpoint." env-default:""`
		Region      string `toml:"region" env:"BRAID_S3_REGION" env-description:"S3 Region." env-default:"us-east-1"`
		AccessKey   string `toml:"access_key" env:"BRAID_S3_ACCESSKEY" env-description:"S3 Access Key." env-default:""`
		SecretKey   string `toml:"secret_key" env:"BRAID_S3_SECRETKEY" env-description:"S3 Secret Key." env-default:""`
		Uploaders   int    `toml:"uploaders" env:"BRAID_S3_UPLOADERS" env-description:"S3 Max number of uploader threads per device." env-default:"16"`
		Downloaders int    `toml:"downloaders" env:"BRAID_S3_DOWNLOADERS" env-description:"S3 Max number of downloader threads per device." env-default:"16"`
	} `toml:"s3"`

	Write struct {
		Durable       bool `toml:"durable" env:"BRAID_WRITE_DURABLE" env-description:"Flush semantics. True means durable, false means barrier only." env-default:"false"`
		BufSize       int  `toml:"shared_buffer_size" env:"BRAID_WRITE_BUFSIZE" env-description:"Write shared memory size in MB." env-default:"32"`
		ChunkSize     int  `toml:"chunk_size" env:"BRAID_WRITE_CHUNKSIZE" env-description:"Chunk size in MB." env-default:"4"`
		CollisionSize int  `toml:"collision_chunk_size" env:"BRAID_WRITE_COLSIZE" env-description:"Collision size in MB." env-default:"1"`
	} `toml:"write"`

	Read struct {
		BufSize int `toml:"shared_buffer_size" env:"BRAID_READ_BUFSIZE" env-description:"Read shared memory size in MB." env-default:"32"`
	} `toml:"read"`

	Log struct {
		Level  int  `toml:"level" env:"BRAID_LOG_LEVEL" env-description:"Log level." env-default:"-1"`
		Pretty bool `toml:"pretty" env:"BRAID_LOG_PRETTY" env-description:"Pretty logging." env-default:"true"`
	} `toml:"log"`

	Profiler     bool `toml:"profiler" env:"BRAID_PROFILER" env-description:"Enable golang web profiler." env-default:"false"`
	ProfilerPort int  `toml:"profiler_port" env:"BRAID_PROFILER_PORT" env-description:"Port to listen on." env-default:"6060"`
	Metrics      bool `toml:"metrics" env:"BRAID_METRICS" env-description:"Export prometheus metrics on /metrics of the profiler port." env-default:"false"`
}

// Configure reads commandline flags and handles the configuration. The
// configuration file has the lower priotiry and the environment variables have
// the highest priority. It is perfetcly to fine to use just one of these or to
// combine them.
func Configure() error {
	flagSetup(os.Args[1:])
	err := parse(&Cfg)

	return err
}

// Parse the configuration file and reads the environment variable. After that
// it does some values postprocessing and fills the cfg structure.
func parse(cfg *Config) error {
	if err := cleanenv.ReadConfig(cfg.ConfigPath, cfg); err != nil {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return err
		}
	}

	cfg.Write.BufSize *= 1024 * 1024
	cfg.Write.ChunkSize *= 1024 * 1024
	cfg.Write.CollisionSize *= 1024 * 1024
	cfg.Read.BufSize *= 1024 * 1024

	if cfg.BlockSize != 512 {
		cfg.BlockSize = 4096
	}

	return nil
}

// Handle program flags.
func flagSetup(args []string) {
	f := flag.NewFlagSet("braid", flag.ExitOnError)
	f.StringVar(&Cfg.ConfigPath, "c", defaultConfig, "Path to configuration file")
	f.Usage = cleanenv.FUsage(f.Output(), &Cfg, nil, f.Usage)
	f.Parse(args)
}
