// Command clean runs the track dataset cleaning pipeline over a CSV file:
// stray index column dropped, missing text filled with "Unknown", numeric
// columns coerced with median fill, rows deduplicated. With -check it only
// validates and reports, leaving the file untouched.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"tracketl/internal/cleaner"
	"tracketl/internal/dataset"
)

func main() {
	var (
		inPath  string
		outPath string
		check   bool
	)

	flag.StringVar(&inPath, "in", "", "input CSV file (required)")
	flag.StringVar(&outPath, "out", "", "output CSV file (required unless -check)")
	flag.BoolVar(&check, "check", false, "validate only; write nothing")
	flag.Parse()

	if inPath == "" {
		fatalf("-in is required")
	}
	if !check && outPath == "" {
		fatalf("-out is required (or pass -check)")
	}

	ds, stats, err := dataset.ReadCSV(inPath, dataset.CSVOptions{})
	if err != nil {
		log.Fatalf("clean: read %s: %v", inPath, err)
	}
	if stats.Skipped > 0 {
		fmt.Printf("skipped %d malformed CSV record(s)\n", stats.Skipped)
	}

	if check {
		fmt.Print(cleaner.Validate(ds).Render())
		return
	}

	cleaned, rep := cleaner.Clean(ds)
	printReport(ds, cleaned, rep)

	if err := dataset.WriteCSV(outPath, cleaned); err != nil {
		log.Fatalf("clean: write %s: %v", outPath, err)
	}
	fmt.Printf("wrote %s (%d rows)\n", outPath, cleaned.Len())
}

func printReport(before, after *dataset.Dataset, rep cleaner.Report) {
	if rep.DroppedIndexColumn {
		fmt.Println("dropped index column")
	}
	for _, col := range sortedKeys(rep.FilledText) {
		fmt.Printf("filled %d missing %s value(s) with \"Unknown\"\n", rep.FilledText[col], col)
	}
	for _, col := range sortedKeys(rep.MedianFilled) {
		fmt.Printf("filled %d missing %s value(s) with the column median\n", rep.MedianFilled[col], col)
	}
	if rep.DuplicatesRemoved > 0 {
		fmt.Printf("removed %d duplicate row(s) (key: %s)\n", rep.DuplicatesRemoved, rep.DedupeKey)
	}
	fmt.Printf("rows: %d in, %d out\n", before.Len(), after.Len())
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
