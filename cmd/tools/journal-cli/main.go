package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/annel0/mmo-overlay/internal/journal"
)

var errLimit = errors.New("limit reached")

func main() {
	var (
		path        = flag.String("path", "data/journal", "Journal directory")
		compression = flag.String("compression", "zstd", "Record compression: none, gzip, zstd")
		command     = flag.String("cmd", "dump", "Command: dump, stats")
		types       = flag.String("types", "", "Packet types filter (comma-separated)")
		from        = flag.Uint64("from", 0, "First sequence number")
		limit       = flag.Int("limit", 100, "Maximum number of records, 0 for all")
	)
	flag.Parse()

	j, err := journal.Open(journal.Options{Path: *path, Compression: *compression}, nil)
	if err != nil {
		log.Fatalf("❌ Failed to open journal: %v", err)
	}
	defer j.Close()

	filter := parseStringList(*types)

	switch *command {
	case "dump":
		if err := dump(j, *from, *limit, filter); err != nil {
			log.Fatalf("❌ Dump failed: %v", err)
		}
	case "stats":
		if err := stats(j, *from, filter); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}
	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: dump, stats")
		os.Exit(1)
	}
}

// dump выводит записи по одной JSON-строке
func dump(j *journal.Journal, from uint64, limit int, filter map[string]bool) error {
	enc := json.NewEncoder(os.Stdout)
	n := 0
	err := j.Scan(from, func(r journal.Record) error {
		if len(filter) > 0 && !filter[r.Type] {
			return nil
		}
		if err := enc.Encode(r); err != nil {
			return err
		}
		n++
		if limit > 0 && n >= limit {
			return errLimit
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return err
	}
	fmt.Fprintf(os.Stderr, "\n📊 Total records: %d (last seq %d)\n", n, j.Last())
	return nil
}

// stats считает записи по типам пакетов
func stats(j *journal.Journal, from uint64, filter map[string]bool) error {
	counts := make(map[string]int)
	objects := make(map[uint64]struct{})
	err := j.Scan(from, func(r journal.Record) error {
		if len(filter) > 0 && !filter[r.Type] {
			return nil
		}
		counts[r.Type]++
		objects[uint64(r.ID)] = struct{}{}
		return nil
	})
	if err != nil {
		return err
	}

	fmt.Println("📊 Journal statistics")
	for t, n := range counts {
		fmt.Printf("  %-18s %d\n", t, n)
	}
	fmt.Printf("  objects: %d\n", len(objects))
	return nil
}

func parseStringList(s string) map[string]bool {
	if s == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out[item] = true
		}
	}
	return out
}
