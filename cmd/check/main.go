// Command check runs hub event envelopes through the real extraction,
// validation, and normalization stages without touching the network. It reads
// newline-delimited JSON envelopes (as captured from the hub's WebSocket
// event frames) and reports what the pipeline would accept, reject, or drop.
//
// Usage:
//
//	go run ./cmd/check -in captured_events.ndjson
//	cat captured_events.ndjson | go run ./cmd/check -v
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fernledge/homestream/internal/domain"
)

func main() {
	inPath := flag.String("in", "", "input file of newline-delimited event envelopes (default stdin)")
	verbose := flag.Bool("v", false, "print each normalized event as JSON")
	flag.Parse()

	in := os.Stdin
	if *inPath != "" {
		f, err := os.Open(*inPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	if code := run(in, os.Stdout, *verbose); code != 0 {
		os.Exit(code)
	}
}

type tally struct {
	total, malformed, dropped, rejected, warned, accepted int
}

func run(in io.Reader, out io.Writer, verbose bool) int {
	var t tally

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		t.total++

		var raw domain.RawEvent
		if err := json.Unmarshal(line, &raw); err != nil {
			t.malformed++
			fmt.Fprintf(os.Stderr, "line %d: malformed envelope: %v\n", t.total, err)
			continue
		}

		flat, err := domain.Extract(raw)
		if err != nil {
			t.dropped++
			fmt.Fprintf(os.Stderr, "line %d: dropped: %v\n", t.total, err)
			continue
		}

		result := domain.Validate(flat)
		if len(result.Warnings) > 0 {
			t.warned++
			for _, w := range result.Warnings {
				fmt.Fprintf(os.Stderr, "line %d (%s): warning: %s\n", t.total, flat.EntityID, w)
			}
		}
		if !result.IsValid {
			t.rejected++
			for _, e := range result.Errors {
				fmt.Fprintf(os.Stderr, "line %d (%s): rejected: %s\n", t.total, flat.EntityID, e)
			}
			continue
		}

		t.accepted++
		if verbose {
			normalized := domain.Normalize(flat)
			data, err := json.Marshal(normalized)
			if err != nil {
				fmt.Fprintf(os.Stderr, "line %d: marshal: %v\n", t.total, err)
				continue
			}
			fmt.Fprintf(out, "%s\n", data)
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read input: %v\n", err)
		return 1
	}

	fmt.Fprintf(os.Stderr,
		"\n%d envelopes: %d accepted, %d rejected, %d dropped, %d malformed, %d with warnings\n",
		t.total, t.accepted, t.rejected, t.dropped, t.malformed, t.warned)

	if t.malformed > 0 || t.rejected > 0 {
		return 1
	}
	return 0
}
