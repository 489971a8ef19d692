package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagCameras       []string
	flagStatsInterval int
	flagHelp          bool
	flagVersion       bool
)

func init() {
	flag.StringArrayVarP(&flagCameras, "camera", "c", nil,
		"Add a camera: camera_id=bind_host:bind_port:payload_type:fps:clock_rate:max_delay_slots:sink_path (repeatable)")
	flag.IntVarP(&flagStatsInterval, "stats-interval", "s", 0,
		"Log per-camera counters every N seconds (default: disabled)")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Camera RTP/H.264 ingest daemon

Usage: camingestd [OPTION]...

Cameras:
  -c, --camera=SPEC         Add a camera (repeatable); see below

  SPEC format:
    camera_id=bind_host:bind_port:payload_type:fps:clock_rate:max_delay_slots:sink_path

Sinks:
  sink_path, the last field of a --camera SPEC, chooses the sink a camera's
  access units are written to:
    *.mp4    muxed into an MP4 container (github.com/nareix/joy4), dropping
             leading access units until the first IDR frame
    other    appended as a raw Annex-B elementary stream

Diagnostics:
  -s, --stats-interval=SEC  Log per-camera counters every SEC seconds
                            (default: disabled)
  LOGLEVEL=TAG=LEVEL,...    Environment variable; per-tag log level overrides
                            (e.g. LOGLEVEL=playout=D,receiver=I)

Miscellaneous:
  -h, --help                Prints this help message and exits
  -v, --version              Prints version information and exits

Please report bugs to: aloha@lanikailabs.com`

// help prints the usage text; the caller exits.
func help() {
	r := color.New(color.FgRed)
	b := color.New(color.FgCyan)

	r.Printf("cam")
	b.Println("ingestd")

	fmt.Println(helpString)
}
