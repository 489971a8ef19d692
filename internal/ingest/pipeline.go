package ingest

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/lanikai/camingest/internal/config"
)

// defaultInputQueueCapacity bounds one camera's Input Queue (spec.md §4.3).
const defaultInputQueueCapacity = 256

// defaultPoolCapacity bounds the Frame Pool shared by every receiver
// (spec.md §4.1).
const defaultPoolCapacity = 512

var pipelineLog = log.WithTag("pipeline")

// camera bundles one camera's running components so Pipeline can terminate
// them in reverse dependency order.
type camera struct {
	cfg      *config.CameraConfig
	counters *Counters
	queue    *InputQueue
	playout  *PlayoutBuffer
	sink     Sink
	cancel   context.CancelFunc
}

// Pipeline is the multi-camera aggregate of spec.md §2: one Frame Pool and
// Receiver Pool shared across cameras, and one Input Queue / Playout Buffer
// / Sink per camera.
type Pipeline struct {
	pool          *Pool
	receiverPool  *ReceiverPool

	mu      sync.Mutex
	cameras map[string]*camera
}

// NewPipeline creates an empty pipeline with a Frame Pool shared by all
// cameras added via AddCamera.
func NewPipeline() *Pipeline {
	pool := NewPool(defaultPoolCapacity, &Counters{})
	return &Pipeline{
		pool:         pool,
		receiverPool: NewReceiverPool(pool),
		cameras:      make(map[string]*camera),
	}
}

// AddCamera wires one camera's Receiver, Input Queue, Playout Buffer, and
// Sink, and starts them running. It is an error to add the same camera_id
// twice.
func (p *Pipeline) AddCamera(cfg *config.CameraConfig) error {
	p.mu.Lock()
	if _, exists := p.cameras[cfg.ID]; exists {
		p.mu.Unlock()
		return errors.Errorf("pipeline: camera %q already added", cfg.ID)
	}
	p.mu.Unlock()

	counters := &Counters{}
	cache := &H264ParamCache{}

	sink, err := newSinkForPath(cfg.SinkPath, cache, cfg.ClockRate, counters)
	if err != nil {
		return errors.Wrapf(err, "pipeline: camera %q", cfg.ID)
	}

	queue := NewInputQueue(defaultInputQueueCapacity, counters)

	factory := NewH264NodeFactory(cache, counters)
	playout := NewPlayoutBuffer(queue, factory, sink, cfg.FPS, cfg.ClockRate, cfg.MaxDelay, counters)

	if _, err := p.receiverPool.InsertChannel(cfg.BindAddr, cfg.PayloadType, queue, counters); err != nil {
		sink.Close()
		return errors.Wrapf(err, "pipeline: camera %q", cfg.ID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go playout.Run(ctx)

	cam := &camera{
		cfg:      cfg,
		counters: counters,
		queue:    queue,
		playout:  playout,
		sink:     sink,
		cancel:   cancel,
	}

	p.mu.Lock()
	p.cameras[cfg.ID] = cam
	p.mu.Unlock()

	pipelineLog.Info("camera %q: listening on %s for payload type %d", cfg.ID, cfg.BindAddr, cfg.PayloadType)
	return nil
}

// RemoveCamera tears down one camera's pipeline.
func (p *Pipeline) RemoveCamera(id string) error {
	p.mu.Lock()
	cam, ok := p.cameras[id]
	if ok {
		delete(p.cameras, id)
	}
	p.mu.Unlock()
	if !ok {
		return errors.Errorf("pipeline: camera %q not found", id)
	}

	if err := p.receiverPool.RemoveChannel(cam.cfg.BindAddr, cam.cfg.PayloadType); err != nil {
		pipelineLog.Warn("camera %q: remove channel: %v", id, err)
	}
	cam.cancel()
	cam.queue.Wake()
	return cam.sink.Close()
}

// Counters returns a snapshot of one camera's operational counters.
func (p *Pipeline) Counters(id string) (Counters, bool) {
	p.mu.Lock()
	cam, ok := p.cameras[id]
	p.mu.Unlock()
	if !ok {
		return Counters{}, false
	}
	return cam.counters.Snapshot(), true
}

// CameraIDs returns the IDs of every currently running camera.
func (p *Pipeline) CameraIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.cameras))
	for id := range p.cameras {
		ids = append(ids, id)
	}
	return ids
}

// Terminate tears down every camera and the shared Receiver Pool
// (spec.md §4.8).
func (p *Pipeline) Terminate() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.cameras))
	for id := range p.cameras {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		if err := p.RemoveCamera(id); err != nil {
			pipelineLog.Warn("terminate: %v", err)
		}
	}

	p.receiverPool.Terminate()
	p.pool.clear()
}

func newSinkForPath(path string, cache *H264ParamCache, clockRate uint32, counters *Counters) (Sink, error) {
	if strings.HasSuffix(strings.ToLower(path), ".mp4") {
		return NewMP4Sink(path, cache, clockRate, counters)
	}
	return NewFileSink(path)
}
