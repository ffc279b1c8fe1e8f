// Command sensor-replay synthesizes or decodes sensor frames without
// hardware. With --generate it prints hex frames; otherwise it reads hex
// frames from stdin (or --in) and prints decoded samples as JSONL.
//
// Usage:
//
//	go run ./cmd/sensor-replay --rev b --sensors 2 --generate 200 > frames.hex
//	go run ./cmd/sensor-replay --rev b < frames.hex
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/chaz8081/jumpsense/internal/replay"
	"github.com/chaz8081/jumpsense/internal/sensor"
	"github.com/chaz8081/jumpsense/internal/sink"
)

func main() {
	revFlag := flag.String("rev", "a", "frame revision: a or b")
	sensors := flag.Int("sensors", 2, "number of revision b units to interleave")
	generate := flag.Int("generate", 0, "print this many synthetic frames as hex and exit")
	in := flag.String("in", "-", "hex frame file to decode, - for stdin")
	flag.Parse()

	rev, err := sensor.ParseRevision(*revFlag)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if *generate > 0 {
		g := replay.NewGenerator(rev, *sensors)
		if err := replay.WriteHex(os.Stdout, g, *generate); err != nil {
			log.Fatalf("generate: %v", err)
		}
		return
	}

	var r io.Reader = os.Stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			log.Fatalf("open: %v", err)
		}
		defer f.Close()
		r = f
	}

	// Frames carry no host time, so all samples share the start time.
	start := time.Now()
	w := sink.NewJSONLWriter(os.Stdout)
	out := sensor.SinkFunc(func(s sensor.Sample) {
		if err := w.Write(sink.Packet{Received: start, Sample: s}); err != nil {
			log.Printf("ERROR: %v", err)
		}
	})

	st, err := replay.Decode(r, rev, out, func(line int, err error) {
		log.Printf("line %d: %v", line, err)
	})
	if err != nil {
		log.Fatalf("decode: %v", err)
	}
	fmt.Fprintf(os.Stderr, "%d frames, %d decoded, %d malformed\n", st.Lines, st.Decoded, st.Malformed)
}
