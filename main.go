// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// braid is a userspace daemon using BUSE for creating a block device which
// is backed by several underlying devices combined by striping or mirroring.
// Underlying devices can be local files and block devices, network block
// devices, s3 buckets or embedded key-value stores.
//
// Project structure is following:
//
// - internal/raid contains the virtual device. It translates every request to
// the underlying devices, splits it, dispatches the parts and joins their
// completions.
//
// - internal/device contains the asynchronous device interface consumed by
// raid and the proxy making any synchronous backend asynchronous. Backends are
// in its subpackages and internal/backends opens them from URIs.
//
// - internal/config contains configuration package.
//
// - internal/metrics contains prometheus metrics of the request path.
package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/asch/braid/internal/backends"
	"github.com/asch/braid/internal/config"
	"github.com/asch/braid/internal/metrics"
	"github.com/asch/braid/internal/raid"
	"github.com/asch/buse/lib/go/buse"
)

// Parse configuration from file and environment variables, opens underlying
// devices, creates the virtual device and creates new buse device with it.
// The device is ran until it is signaled by SIGINT or SIGTERM to gracefully
// finish.
func main() {
	err := config.Configure()
	if err != nil {
		log.Panic().Err(err).Send()
	}

	loggerSetup(config.Cfg.Log.Pretty, config.Cfg.Log.Level)

	var m raid.Metrics
	if config.Cfg.Metrics {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		http.Handle("/metrics", metrics.Handler(reg))
	}

	if config.Cfg.Profiler || config.Cfg.Metrics {
		runProfiler(config.Cfg.ProfilerPort)
	}

	virtual, err := openVirtualDevice(m)
	if err != nil {
		log.Panic().Err(err).Send()
	}

	buse, err := buse.New(virtual, buse.Options{
		Durable:        config.Cfg.Write.Durable,
		WriteChunkSize: int64(config.Cfg.Write.ChunkSize),
		BlockSize:      int64(config.Cfg.BlockSize),
		Threads:        int(config.Cfg.Threads),
		Major:          int64(config.Cfg.Major),
		WriteShmSize:   int64(config.Cfg.Write.BufSize),
		ReadShmSize:    int64(config.Cfg.Read.BufSize),
		Size:           virtual.Size(),
		CollisionArea:  int64(config.Cfg.Write.CollisionSize),
		QueueDepth:     int64(config.Cfg.QueueDepth),
		Scheduler:      config.Cfg.Scheduler,
	})

	if err != nil {
		virtual.Close()
		log.Panic().Msg(err.Error())
	}

	log.Info().Msgf("BUSE device %d registered!", config.Cfg.Major)

	registerSigHandlers(buse)

	buse.Run()

	log.Info().Msgf("Removing buse%d", config.Cfg.Major)
	buse.RemoveDevice()
}

// Opens all configured underlying devices and combines them into the virtual
// device. Nothing stays opened on failure.
func openVirtualDevice(m raid.Metrics) (*raid.VirtualDevice, error) {
	var o backends.Options
	o.Readers = config.Cfg.Raid.Readers
	o.Writers = config.Cfg.Raid.Writers
	o.QueueDepth = config.Cfg.QueueDepth
	o.S3.Remote = config.Cfg.S3.Remote
	o.S3.Region = config.Cfg.S3.Region
	o.S3.AccessKey = config.Cfg.S3.AccessKey
	o.S3.SecretKey = config.Cfg.S3.SecretKey
	o.S3.Uploaders = config.Cfg.S3.Uploaders
	o.S3.Downloaders = config.Cfg.S3.Downloaders

	return raid.Open(context.Background(), config.Cfg.Raid.Devices, backends.Opener(o), raid.Options{
		Level:          config.Cfg.Raid.Level,
		StripeSize:     config.Cfg.Raid.StripeSize,
		BlockSize:      int64(config.Cfg.BlockSize),
		WriteChunkSize: int64(config.Cfg.Write.ChunkSize),
		Metrics:        m,
	})
}

// Register handler for graceful stop when SIGINT or SIGTERM came in.
func registerSigHandlers(buse buse.Buse) {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	signal.Notify(stopChan, syscall.SIGTERM)
	go func() {
		<-stopChan
		log.Info().Msgf("Received interrupt, stopping buse%d device!", config.Cfg.Major)
		buse.StopDevice()
	}()
}

func loggerSetup(pretty bool, level int) {
	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// Enables remote profiling and metrics. Useful for perfomance debugging.
func runProfiler(port int) {
	go func() {
		log.Info().Err(http.ListenAndServe(fmt.Sprintf("localhost:%d", port), nil)).Send()
	}()
}
