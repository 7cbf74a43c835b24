package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"main/internal/ledger"
	"main/internal/schema"
)

func main() {
	dir := flag.String("dir", "data", "Snapshot directory")
	list := flag.Bool("list", false, "List stored profiles")
	inspect := flag.String("inspect", "", "Print a profile's snapshot")
	export := flag.String("export", "", "Export a profile's snapshot to -out")
	out := flag.String("out", "", "Output path for -export (default: stdout)")
	importPath := flag.String("import", "", "Import a snapshot JSON file")
	reset := flag.String("reset", "", "Delete a profile's snapshot")
	flag.Parse()

	ctx := context.Background()
	store, err := ledger.NewFile(*dir)
	if err != nil {
		log.Fatalf("open snapshot directory: %v", err)
	}
	defer store.Close()

	switch {
	case *list:
		profiles, err := store.Profiles(ctx)
		if err != nil {
			log.Fatalf("list profiles: %v", err)
		}
		for _, p := range profiles {
			fmt.Println(p)
		}
	case *inspect != "":
		printSnapshot(ctx, store, *inspect, os.Stdout)
	case *export != "":
		w := os.Stdout
		if *out != "" {
			f, err := os.Create(*out)
			if err != nil {
				log.Fatalf("create output: %v", err)
			}
			defer f.Close()
			w = f
		}
		printSnapshot(ctx, store, *export, w)
	case *importPath != "":
		data, err := os.ReadFile(*importPath)
		if err != nil {
			log.Fatalf("read import file: %v", err)
		}
		var snap schema.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			log.Fatalf("unmarshal snapshot: %v", err)
		}
		if err := snap.Validate(); err != nil {
			log.Fatalf("invalid snapshot: %v", err)
		}
		if err := store.Save(ctx, &snap); err != nil {
			log.Fatalf("save snapshot: %v", err)
		}
		fmt.Printf("imported profile %s\n", snap.Profile)
	case *reset != "":
		if err := store.Delete(ctx, *reset); err != nil {
			log.Fatalf("delete snapshot: %v", err)
		}
		fmt.Printf("reset profile %s\n", *reset)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func printSnapshot(ctx context.Context, store ledger.Store, profile string, w *os.File) {
	snap, err := store.Load(ctx, profile)
	if err != nil {
		log.Fatalf("load profile %s: %v", profile, err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		log.Fatalf("encode snapshot: %v", err)
	}
}
