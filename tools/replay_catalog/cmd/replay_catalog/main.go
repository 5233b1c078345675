package main

import (
	"flag"
	"fmt"
	"os"

	"flappysync/tools/replay_catalog"
)

func main() {
	root := flag.String("dir", ".", "directory containing recorded match bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	entries, err := replaycatalog.List(*root)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *jsonFlag {
		payload, err := replaycatalog.MarshalEntries(entries)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(string(payload))
		return
	}

	for _, entry := range entries {
		h := entry.Header
		fmt.Printf("%s (schema %d)\n", entry.ManifestPath, h.SchemaVersion)
		fmt.Printf("  topic: %s  peer: %s  role: %s  codec: %s\n", h.Topic, h.PeerID, h.Role, h.Codec)
		for i, seed := range h.Seeds {
			fmt.Printf("  round %d seed: %d\n", i+1, seed)
		}
	}
}
