package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/camingest/internal/config"
	"github.com/lanikai/camingest/internal/ingest"
	"github.com/lanikai/camingest/internal/logging"
)

var log = logging.DefaultLogger.WithTag("camingestd")

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}

	if flagVersion {
		version()
		os.Exit(0)
	}

	if len(flagCameras) == 0 {
		fmt.Fprintln(os.Stderr, "camingestd: at least one --camera is required")
		os.Exit(1)
	}

	pipeline := ingest.NewPipeline()

	for _, spec := range flagCameras {
		cfg, err := config.ParseCameraConfig(spec)
		if err != nil {
			log.Error("%v", err)
			os.Exit(1)
		}
		if err := pipeline.AddCamera(cfg); err != nil {
			log.Error("%v", err)
			os.Exit(1)
		}
	}

	if flagStatsInterval > 0 {
		go logStats(pipeline, time.Duration(flagStatsInterval)*time.Second)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	pipeline.Terminate()
}

func logStats(pipeline *ingest.Pipeline, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		for _, id := range pipeline.CameraIDs() {
			counters, ok := pipeline.Counters(id)
			if !ok {
				continue
			}
			log.Info("camera %s: received=%d dropped=%d lost=%d invalid=%d overflow=%d nodes_emitted=%d nodes_dropped=%d frames_late=%d",
				id, counters.Received, counters.Dropped, counters.Lost, counters.Invalid,
				counters.Overflow, counters.NodesEmitted, counters.NodesDropped, counters.FramesLate)
		}
	}
}

func version() {
	fmt.Println("camingestd (development build)")
}
