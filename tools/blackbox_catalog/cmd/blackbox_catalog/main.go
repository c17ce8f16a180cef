package main

import (
	"flag"
	"fmt"
	"os"

	blackboxcatalog "skyfleet/simulator/tools/blackbox_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing flight recorder bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	counts := flag.Bool("counts", false, "decode each bundle and print record counts")
	flag.Parse()

	entries, err := blackboxcatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := blackboxcatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s (flight %s)\n", entry.BundleDir, entry.Manifest.FlightID)
		fmt.Printf("  created: %s\n", entry.Manifest.CreatedAt)
		fmt.Printf("  events:  %s\n", entry.EventsPath)
		fmt.Printf("  frames:  %s (interval %dms)\n", entry.FramesPath, entry.Manifest.FrameIntervalMs)
		if *counts {
			summary, err := blackboxcatalog.Summarize(entry)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Printf("  records: %d events, %d frames in %d batches\n", summary.Events, summary.Frames, summary.FrameBatches)
		}
	}
}
