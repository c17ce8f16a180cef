package blackbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestRecorderWritesManifest(t *testing.T) {
	dir := t.TempDir()
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	recorder, manifest, err := NewRecorder(dir, "flight/alpha 1", fixedClock(created), nil)
	if err != nil {
		t.Fatalf("NewRecorder returned error: %v", err)
	}
	defer recorder.Close()

	if manifest.FlightID != "flight/alpha 1" {
		t.Fatalf("unexpected flight id %q", manifest.FlightID)
	}
	if manifest.FrameIntervalMs != 200 {
		t.Fatalf("unexpected frame interval %d", manifest.FrameIntervalMs)
	}
	loaded, err := ReadManifest(recorder.Directory())
	if err != nil {
		t.Fatalf("ReadManifest returned error: %v", err)
	}
	if loaded != manifest {
		t.Fatalf("manifest mismatch: %+v vs %+v", loaded, manifest)
	}
	if filepath.Base(recorder.Directory()) != "flightalpha1-20240301T120000Z" {
		t.Fatalf("unexpected bundle folder %q", recorder.Directory())
	}
}

func TestRecorderEventRoundTrip(t *testing.T) {
	recorder, _, err := NewRecorder(t.TempDir(), "alpha", fixedClock(time.Unix(1700000000, 0)), nil)
	if err != nil {
		t.Fatalf("NewRecorder returned error: %v", err)
	}
	payload := json.RawMessage(`{"drone_id":"alpha","from":"idle","to":"takeoff"}`)
	if err := recorder.AppendEvent(42, 420, "state_change", payload); err != nil {
		t.Fatalf("AppendEvent returned error: %v", err)
	}
	if err := recorder.AppendEvent(43, 430, "collision", nil); err != nil {
		t.Fatalf("AppendEvent returned error: %v", err)
	}
	dir := recorder.Directory()
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	events, err := ReadEvents(dir)
	if err != nil {
		t.Fatalf("ReadEvents returned error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Tick != 42 || events[0].Type != "state_change" {
		t.Fatalf("unexpected first event %+v", events[0])
	}
	if string(events[0].Payload) != string(payload) {
		t.Fatalf("payload mismatch: %s", events[0].Payload)
	}
	if events[1].SimulatedMs != 430 {
		t.Fatalf("unexpected simulated ms %d", events[1].SimulatedMs)
	}
}

func TestRecorderFrameRoundTrip(t *testing.T) {
	recorder, _, err := NewRecorder(t.TempDir(), "alpha", fixedClock(time.Unix(1700000000, 0)), nil)
	if err != nil {
		t.Fatalf("NewRecorder returned error: %v", err)
	}
	frames := []StateFrame{{
		DroneID:     "alpha",
		PositionZ:   1.5,
		VelocityX:   0.25,
		Battery:     97.5,
		FlightState: "flying",
	}}
	encoded, err := EncodeFrames(frames)
	if err != nil {
		t.Fatalf("EncodeFrames returned error: %v", err)
	}
	if err := recorder.AppendFrame(7, 70, encoded); err != nil {
		t.Fatalf("AppendFrame returned error: %v", err)
	}
	if stats := recorder.Stats(); stats.BufferedFrames != 1 || stats.BufferedBytes != int64(len(encoded)) {
		t.Fatalf("unexpected stats %+v", stats)
	}
	dir := recorder.Directory()
	if err := recorder.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	records, err := ReadFrames(dir)
	if err != nil {
		t.Fatalf("ReadFrames returned error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 frame record, got %d", len(records))
	}
	if records[0].Tick != 7 || records[0].SimulatedMs != 70 {
		t.Fatalf("unexpected frame header %+v", records[0])
	}
	decoded, err := DecodeFrames(records[0].Payload)
	if err != nil {
		t.Fatalf("DecodeFrames returned error: %v", err)
	}
	if len(decoded) != 1 || decoded[0] != frames[0] {
		t.Fatalf("frame mismatch: %+v", decoded)
	}
}

type recordingUploader struct {
	dirs []string
}

func (u *recordingUploader) Upload(_ context.Context, dir string) (string, error) {
	u.dirs = append(u.dirs, dir)
	return "s3://bucket/" + filepath.Base(dir), nil
}

func TestRecorderDumpRotatesBundle(t *testing.T) {
	clockAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		clockAt = clockAt.Add(time.Second)
		return clockAt
	}
	uploader := &recordingUploader{}
	recorder, _, err := NewRecorder(t.TempDir(), "alpha", clock, uploader)
	if err != nil {
		t.Fatalf("NewRecorder returned error: %v", err)
	}
	defer recorder.Close()

	first := recorder.Directory()
	if err := recorder.AppendEvent(1, 10, "lifecycle", nil); err != nil {
		t.Fatalf("AppendEvent returned error: %v", err)
	}
	location, err := recorder.Dump(context.Background())
	if err != nil {
		t.Fatalf("Dump returned error: %v", err)
	}
	if location != "s3://bucket/"+filepath.Base(first) {
		t.Fatalf("unexpected dump location %q", location)
	}
	if len(uploader.dirs) != 1 || uploader.dirs[0] != first {
		t.Fatalf("uploader saw %v, want [%s]", uploader.dirs, first)
	}
	if recorder.Directory() == first {
		t.Fatalf("expected a fresh bundle after dump")
	}
	if stats := recorder.Stats(); stats.Dumps != 1 {
		t.Fatalf("expected one dump recorded, got %+v", stats)
	}
	//1.- The finished bundle must remain readable after rotation.
	if _, err := ReadEvents(first); err != nil {
		t.Fatalf("finished bundle unreadable: %v", err)
	}
}

func TestCleanerEnforcesBundleCount(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"old", "mid", "new"} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(path, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(path, "manifest.json"), []byte("{}"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		stamp := time.Now().Add(time.Duration(i-3) * time.Hour)
		if err := os.Chtimes(path, stamp, stamp); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	cleaner := NewCleaner(dir, RetentionPolicy{MaxBundles: 2}, nil, nil)
	cleaner.RunOnce()

	if _, err := os.Stat(filepath.Join(dir, "old")); !os.IsNotExist(err) {
		t.Fatalf("expected oldest bundle removed, stat err=%v", err)
	}
	for _, name := range []string{"mid", "new"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected bundle %s retained: %v", name, err)
		}
	}
	if stats := cleaner.Stats(); stats.Bundles != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCleanerSkipsActiveBundle(t *testing.T) {
	dir := t.TempDir()
	active := filepath.Join(dir, "active")
	if err := os.MkdirAll(active, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(active, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	cleaner := NewCleaner(dir, RetentionPolicy{MaxAge: time.Hour}, nil, func() string { return active })
	cleaner.RunOnce()

	if _, err := os.Stat(active); err != nil {
		t.Fatalf("active bundle must survive sweeps: %v", err)
	}
}

type fakePutter struct {
	keys []string
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.keys = append(f.keys, *params.Key)
	return &s3.PutObjectOutput{}, nil
}

func TestS3UploaderUploadsEveryFile(t *testing.T) {
	dir := t.TempDir()
	bundleDir := filepath.Join(dir, "alpha-20240301T120000Z")
	if err := os.MkdirAll(bundleDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"manifest.json", "events.jsonl.sz", "frames.bin.zst"} {
		if err := os.WriteFile(filepath.Join(bundleDir, name), []byte("data"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	putter := &fakePutter{}
	uploader := newS3UploaderWithClient(putter, "bucket", "flights")

	location, err := uploader.Upload(context.Background(), bundleDir)
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if location != "s3://bucket/flights/alpha-20240301T120000Z" {
		t.Fatalf("unexpected location %q", location)
	}
	if len(putter.keys) != 3 {
		t.Fatalf("expected 3 objects, got %v", putter.keys)
	}
	for _, key := range putter.keys {
		if filepath.Dir(key) != "flights/alpha-20240301T120000Z" {
			t.Fatalf("unexpected key %q", key)
		}
	}
}
