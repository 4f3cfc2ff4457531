// log-spewer writes steady output on both streams, for --follow-logs and
// log rotation.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

func main() {
	var interval time.Duration
	var lines int
	var width int
	flag.DurationVar(&interval, "interval", 50*time.Millisecond, "Delay between lines")
	flag.IntVar(&lines, "lines", 0, "Stop writing after this many lines (0 writes forever)")
	flag.IntVar(&width, "width", 0, "Pad each line to this many bytes")
	flag.Parse()

	for i := 0; lines == 0 || i < lines; i++ {
		line := fmt.Sprintf("line %d at %s", i, time.Now().Format(time.RFC3339Nano))
		if pad := width - len(line); pad > 0 {
			line += " " + strings.Repeat(".", pad-1)
		}
		if i%5 == 4 {
			_, _ = fmt.Fprintln(os.Stderr, "warn: "+line)
		} else {
			_, _ = fmt.Fprintln(os.Stdout, line)
		}
		time.Sleep(interval)
	}
	select {}
}
