//go:build ignore

// Command inspect_records dumps the aggregation records stored in a
// node's database. The node must be stopped; pebble holds an
// exclusive lock on the directory.
//
//	go run scripts/inspect_records.go <db_path>            list all records
//	go run scripts/inspect_records.go <db_path> <address>  dump one record's entries
package main

import (
	"fmt"
	"os"

	"SigLedger/internal/ledger"
	"SigLedger/internal/storage"
)

func main() {
	if len(os.Args) != 2 && len(os.Args) != 3 {
		fmt.Fprintf(os.Stderr, "Usage: %s <db_path> [record_address]\n", os.Args[0])
		os.Exit(1)
	}

	db, err := storage.New(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	if len(os.Args) == 3 {
		if err := dumpRecord(db, os.Args[2]); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := listRecords(db); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// listRecords prints a one-line summary per stored record.
func listRecords(db *storage.Storage) error {
	records := 0

	err := db.IteratePrefix([]byte("r:"), func(key, value []byte) error {
		if len(key) != 2+32 {
			return nil
		}

		records++

		r, err := ledger.DecodeRecord(value)
		if err != nil {
			fmt.Printf("%x  <undecodable: %v>\n", key[2:], err)
			return nil
		}

		fmt.Printf("%x  %-9s  %4d/%-4d  authority %x\n",
			key[2:], r.State, r.Count, r.Capacity, r.Authority[:8])

		return nil
	})
	if err != nil {
		return fmt.Errorf("scan records: %w", err)
	}

	fmt.Printf("\n%d record(s)\n", records)

	return nil
}

// dumpRecord prints one record's header and every sealed entry.
func dumpRecord(db *storage.Storage, address string) error {
	addr, err := ledger.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("invalid record address: %w", err)
	}

	key := append([]byte("r:"), addr[:]...)

	value, err := db.Get(key)
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}

	if value == nil {
		return fmt.Errorf("no record at %s", addr)
	}

	r, err := ledger.DecodeRecord(value)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}

	fmt.Printf("record    %s\n", addr)
	fmt.Printf("authority %x\n", r.Authority)
	fmt.Printf("state     %s\n", r.State)
	fmt.Printf("entries   %d/%d\n\n", r.Count, r.Capacity)

	for i := uint32(0); i < r.Count; i++ {
		entry, err := r.EntryAt(i)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}

		mark := "pass"
		if !entry.Passed {
			mark = "FAIL"
		}

		fmt.Printf("%4d  %s  key %x  digest %x\n", i, mark, entry.PublicKey[:8], entry.MessageDigest[:8])
	}

	return nil
}
