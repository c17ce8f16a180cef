package blackboxcatalog

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"skyfleet/simulator/internal/blackbox"
)

// Entry captures a bundle manifest alongside its resolved artefact paths.
type Entry struct {
	BundleDir  string            `json:"bundle_dir"`
	EventsPath string            `json:"events_path"`
	FramesPath string            `json:"frames_path"`
	Manifest   blackbox.Manifest `json:"manifest"`
}

// List walks the directory tree and returns every parsed bundle manifest.
func List(root string) ([]Entry, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root must be a directory")
	}

	var entries []Entry
	//1.- Walk the directory tree searching for bundle manifests.
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name() != "manifest.json" {
			return nil
		}
		dir := filepath.Dir(path)
		manifest, err := blackbox.ReadManifest(dir)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{
			BundleDir:  dir,
			EventsPath: filepath.Join(dir, manifest.EventsPath),
			FramesPath: filepath.Join(dir, manifest.FramesPath),
			Manifest:   manifest,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Manifest.CreatedAt == entries[j].Manifest.CreatedAt {
			return entries[i].BundleDir < entries[j].BundleDir
		}
		return entries[i].Manifest.CreatedAt < entries[j].Manifest.CreatedAt
	})
	return entries, nil
}

// Summary tallies a bundle's recorded artefacts.
type Summary struct {
	Events       int `json:"events"`
	FrameBatches int `json:"frame_batches"`
	Frames       int `json:"frames"`
}

// Summarize decodes a bundle's event log and frame stream and counts the
// records each holds.
func Summarize(entry Entry) (Summary, error) {
	events, err := blackbox.ReadEvents(entry.BundleDir)
	if err != nil {
		return Summary{}, fmt.Errorf("read events: %w", err)
	}
	batches, err := blackbox.ReadFrames(entry.BundleDir)
	if err != nil {
		return Summary{}, fmt.Errorf("read frames: %w", err)
	}
	summary := Summary{Events: len(events), FrameBatches: len(batches)}
	//1.- Each batch packs one frame per drone; unpack to get the true count.
	for _, batch := range batches {
		frames, err := blackbox.DecodeFrames(batch.Payload)
		if err != nil {
			return Summary{}, fmt.Errorf("decode frame batch at tick %d: %w", batch.Tick, err)
		}
		summary.Frames += len(frames)
	}
	return summary, nil
}

// MarshalEntries produces a stable JSON representation of the entries for CLI output.
func MarshalEntries(entries []Entry) ([]byte, error) {
	//1.- Marshal with indentation to keep CLI output legible for operators.
	return json.MarshalIndent(entries, "", "  ")
}
