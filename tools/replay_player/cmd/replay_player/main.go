package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"flappysync/tools/replay_player"
)

func main() {
	path := flag.String("path", "", "Path to a bundle directory or its manifest.json")
	dump := flag.Bool("json", false, "Emit the summary as JSON")
	timeline := flag.Bool("timeline", false, "Emit the full event and frame timeline as JSON")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	bundle, err := replayplayer.Open(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	if !*dump && !*timeline {
		replayplayer.Render(os.Stdout, replayplayer.Summarise(bundle))
		return
	}

	var payload any = replayplayer.Summarise(bundle)
	if *timeline {
		payload = bundle.Timeline()
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
