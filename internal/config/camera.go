// Package config parses the camingestd command line into per-camera
// ingest pipeline configuration.
package config

import (
	"net"
	"strconv"
	"strings"

	errors "golang.org/x/xerrors"
)

// CameraConfig describes one camera's RTP ingest pipeline, parsed from a
// single --camera flag value of the form:
//
//	camera_id=bind_host:bind_port:payload_type:fps:clock_rate:max_delay_slots:sink_path
//
// e.g. "porch=0.0.0.0:5004:96:30:90000:8:/var/lib/camingest/porch.mp4"
//
// sink_path ending in ".mp4" selects the MP4 sink; anything else selects the
// raw Annex-B file sink (spec.md §4.7).
type CameraConfig struct {
	ID          string
	BindAddr    *net.UDPAddr
	PayloadType byte
	FPS         int
	ClockRate   uint32
	MaxDelay    int
	SinkPath    string
}

// ParseCameraConfig parses one --camera flag value.
func ParseCameraConfig(s string) (*CameraConfig, error) {
	idAndRest := strings.SplitN(s, "=", 2)
	if len(idAndRest) != 2 {
		return nil, errors.Errorf("camera config %q: missing camera_id=... prefix", s)
	}
	id := idAndRest[0]
	if id == "" {
		return nil, errors.New("camera config: camera_id must not be empty")
	}

	fields := strings.SplitN(idAndRest[1], ":", 7)
	if len(fields) != 7 {
		return nil, errors.Errorf("camera config %q: expected bind_host:bind_port:payload_type:fps:clock_rate:max_delay_slots:sink_path, got %d fields", s, len(fields))
	}
	host, port, payloadTypeStr, fpsStr, clockRateStr, maxDelayStr, sinkPath := fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6]

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, errors.Errorf("camera config %q: bad bind address: %w", s, err)
	}

	payloadType, err := strconv.ParseUint(payloadTypeStr, 10, 8)
	if err != nil {
		return nil, errors.Errorf("camera config %q: bad payload type: %w", s, err)
	}

	fps, err := strconv.Atoi(fpsStr)
	if err != nil || fps <= 0 {
		return nil, errors.Errorf("camera config %q: bad fps", s)
	}

	clockRate, err := strconv.ParseUint(clockRateStr, 10, 32)
	if err != nil || clockRate == 0 {
		return nil, errors.Errorf("camera config %q: bad clock rate", s)
	}

	maxDelay, err := strconv.Atoi(maxDelayStr)
	if err != nil || maxDelay <= 0 {
		return nil, errors.Errorf("camera config %q: bad max delay slots", s)
	}

	if sinkPath == "" {
		return nil, errors.Errorf("camera config %q: sink_path must not be empty", s)
	}

	return &CameraConfig{
		ID:          id,
		BindAddr:    addr,
		PayloadType: byte(payloadType),
		FPS:         fps,
		ClockRate:   uint32(clockRate),
		MaxDelay:    maxDelay,
		SinkPath:    sinkPath,
	}, nil
}
