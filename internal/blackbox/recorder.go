package blackbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

var bundleNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// frameInterval is the cadence at which buffered frames are flushed to disk.
const frameInterval = 200 * time.Millisecond

// StateFrame is the binary flight-data record persisted at the frame cadence.
type StateFrame struct {
	DroneID     string  `msgpack:"drone_id"`
	PositionX   float64 `msgpack:"px"`
	PositionY   float64 `msgpack:"py"`
	PositionZ   float64 `msgpack:"pz"`
	VelocityX   float64 `msgpack:"vx"`
	VelocityY   float64 `msgpack:"vy"`
	VelocityZ   float64 `msgpack:"vz"`
	Battery     float64 `msgpack:"battery"`
	FlightState string  `msgpack:"flight_state"`
}

// EncodeFrames packs a batch of state frames with msgpack.
func EncodeFrames(frames []StateFrame) ([]byte, error) {
	return msgpack.Marshal(frames)
}

// DecodeFrames unpacks a msgpack frame batch.
func DecodeFrames(payload []byte) ([]StateFrame, error) {
	var frames []StateFrame
	if err := msgpack.Unmarshal(payload, &frames); err != nil {
		return nil, err
	}
	return frames, nil
}

// Manifest describes the bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version         int    `json:"version"`
	FlightID        string `json:"flight_id"`
	CreatedAt       string `json:"created_at"`
	FrameIntervalMs int    `json:"frame_interval_ms"`
	EventsPath      string `json:"events_path"`
	FramesPath      string `json:"frames_path"`
}

// Stats summarises the recorder's in-memory buffers for the metrics endpoint.
type Stats struct {
	BufferedFrames int
	BufferedBytes  int64
	Events         uint64
	Dumps          uint64
}

// Uploader ships a finished bundle directory to remote storage and returns
// its location.
type Uploader interface {
	Upload(ctx context.Context, dir string) (string, error)
}

type frameBlob struct {
	Tick        uint64
	SimulatedMs int64
	CapturedAt  time.Time
	Payload     []byte
}

// Recorder streams flight artefacts to disk: a snappy-compressed JSONL event
// log and a zstd stream of length-prefixed msgpack frame batches, plus a JSON
// manifest per bundle.
type Recorder struct {
	mu          sync.Mutex
	root        string
	flightID    string
	now         func() time.Time
	uploader    Uploader
	dir         string
	eventFile   *os.File
	eventStream *snappy.Writer
	frameFile   *os.File
	frameStream *zstd.Encoder
	pending     []frameBlob
	pendingSize int64
	lastFlush   time.Time
	events      uint64
	dumps       uint64
}

// NewRecorder opens a fresh bundle under root. The clock may be overridden
// for tests; the uploader may be nil when no remote archive is configured.
func NewRecorder(root, flightID string, clock func() time.Time, uploader Uploader) (*Recorder, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("blackbox root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	r := &Recorder{root: root, flightID: flightID, now: clock, uploader: uploader}
	manifest, err := r.openBundleLocked()
	if err != nil {
		return nil, Manifest{}, err
	}
	return r, manifest, nil
}

// openBundleLocked creates the bundle directory and compressed sinks. The
// caller must hold the mutex (or own the recorder exclusively).
func (r *Recorder) openBundleLocked() (Manifest, error) {
	cleaned := bundleNameCleaner.ReplaceAllString(r.flightID, "")
	if cleaned == "" {
		cleaned = "flight"
	}
	created := r.now().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(r.root, folder)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return Manifest{}, err
	}

	eventFile, err := os.Create(filepath.Join(path, "events.jsonl.sz"))
	if err != nil {
		return Manifest{}, err
	}
	frameFile, err := os.Create(filepath.Join(path, "frames.bin.zst"))
	if err != nil {
		eventFile.Close()
		return Manifest{}, err
	}
	frameStream, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return Manifest{}, err
	}

	manifest := Manifest{
		Version:         1,
		FlightID:        r.flightID,
		CreatedAt:       created.Format(time.RFC3339Nano),
		FrameIntervalMs: int(frameInterval / time.Millisecond),
		EventsPath:      "events.jsonl.sz",
		FramesPath:      "frames.bin.zst",
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, "manifest.json"), data, 0o644)
	}
	if err != nil {
		frameStream.Close()
		frameFile.Close()
		eventFile.Close()
		return Manifest{}, err
	}

	r.dir = path
	r.eventFile = eventFile
	r.eventStream = snappy.NewBufferedWriter(eventFile)
	r.frameFile = frameFile
	r.frameStream = frameStream
	r.pending = nil
	r.pendingSize = 0
	r.lastFlush = time.Time{}
	return manifest, nil
}

// Directory exposes the directory backing the current bundle.
func (r *Recorder) Directory() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dir
}

// AppendEvent writes a single JSON event line to the compressed event log.
func (r *Recorder) AppendEvent(tick uint64, simulatedMs int64, eventType string, payload json.RawMessage) error {
	if r == nil {
		return fmt.Errorf("recorder not initialised")
	}
	captured := r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eventStream == nil {
		return fmt.Errorf("recorder closed")
	}

	//1.- Keep the payload as raw JSON so downstream JSONL parsers can stream it.
	record := struct {
		Tick        uint64          `json:"tick"`
		SimulatedMs int64           `json:"simulated_ms"`
		CapturedAt  string          `json:"captured_at"`
		Type        string          `json:"type"`
		Payload     json.RawMessage `json:"payload,omitempty"`
	}{
		Tick:        tick,
		SimulatedMs: simulatedMs,
		CapturedAt:  captured.Format(time.RFC3339Nano),
		Type:        eventType,
		Payload:     payload,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := r.eventStream.Write(line); err != nil {
		return err
	}
	if _, err := r.eventStream.Write([]byte("\n")); err != nil {
		return err
	}
	r.events++
	return r.eventStream.Flush()
}

// AppendFrame buffers a binary frame batch until the flush cadence elapses.
func (r *Recorder) AppendFrame(tick uint64, simulatedMs int64, payload []byte) error {
	if r == nil {
		return fmt.Errorf("recorder not initialised")
	}
	captured := r.now().UTC()
	clone := append([]byte(nil), payload...)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frameStream == nil {
		return fmt.Errorf("recorder closed")
	}

	r.pending = append(r.pending, frameBlob{Tick: tick, SimulatedMs: simulatedMs, CapturedAt: captured, Payload: clone})
	r.pendingSize += int64(len(clone))
	if r.lastFlush.IsZero() {
		r.lastFlush = captured
		return nil
	}
	if captured.Sub(r.lastFlush) >= frameInterval {
		if err := r.flushLocked(); err != nil {
			return err
		}
		r.lastFlush = captured
	}
	return nil
}

// Flush forces pending frames to be written regardless of cadence.
func (r *Recorder) Flush() error {
	if r == nil {
		return fmt.Errorf("recorder not initialised")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.flushLocked(); err != nil {
		return err
	}
	r.lastFlush = r.now().UTC()
	return nil
}

// Stats reports buffer occupancy and lifetime counters.
func (r *Recorder) Stats() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		BufferedFrames: len(r.pending),
		BufferedBytes:  r.pendingSize,
		Events:         r.events,
		Dumps:          r.dumps,
	}
}

// Dump finalises the current bundle, optionally uploads it, and starts a new
// one. It returns the finished bundle's location (the upload URL when an
// uploader is configured, the local directory otherwise).
func (r *Recorder) Dump(ctx context.Context) (string, error) {
	if r == nil {
		return "", fmt.Errorf("recorder not initialised")
	}
	r.mu.Lock()
	finished := r.dir
	if err := r.closeLocked(); err != nil {
		r.mu.Unlock()
		return "", err
	}
	if _, err := r.openBundleLocked(); err != nil {
		r.mu.Unlock()
		return "", err
	}
	r.dumps++
	uploader := r.uploader
	r.mu.Unlock()

	location := finished
	if uploader != nil {
		uploaded, err := uploader.Upload(ctx, finished)
		if err != nil {
			return finished, fmt.Errorf("bundle upload: %w", err)
		}
		location = uploaded
	}
	return location, nil
}

// Close flushes all buffers and releases file handles.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recorder) closeLocked() error {
	if r.eventStream == nil {
		return nil
	}
	var firstErr error
	//1.- Attempt every flush/close and surface the first failure.
	if err := r.flushLocked(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventStream.Flush(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.eventFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.frameStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.frameFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	r.eventStream = nil
	r.eventFile = nil
	r.frameStream = nil
	r.frameFile = nil
	return firstErr
}

// flushLocked writes buffered frames to the zstd stream; callers must hold
// the mutex.
func (r *Recorder) flushLocked() error {
	if len(r.pending) == 0 {
		return nil
	}
	//1.- Write length-prefixed frames so readers can step without decoding all.
	for _, frame := range r.pending {
		header := make([]byte, 8+8+8+4)
		binary.LittleEndian.PutUint64(header[0:8], frame.Tick)
		binary.LittleEndian.PutUint64(header[8:16], uint64(frame.SimulatedMs))
		binary.LittleEndian.PutUint64(header[16:24], uint64(frame.CapturedAt.UnixNano()))
		binary.LittleEndian.PutUint32(header[24:28], uint32(len(frame.Payload)))
		if _, err := r.frameStream.Write(header); err != nil {
			return err
		}
		if _, err := r.frameStream.Write(frame.Payload); err != nil {
			return err
		}
	}
	r.pending = r.pending[:0]
	r.pendingSize = 0
	return nil
}
