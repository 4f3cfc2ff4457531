// crash-after starts like a service and dies before it becomes healthy.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"
)

func main() {
	var after time.Duration
	var code int
	var port int
	flag.DurationVar(&after, "after", 500*time.Millisecond, "Time until the process exits")
	flag.IntVar(&code, "code", 1, "Exit code")
	flag.IntVar(&port, "port", 0, "Open this port for the lifetime of the process (0 to skip)")
	flag.Parse()

	if port > 0 {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "listen: %v\n", err)
			os.Exit(2)
		}
		defer func() { _ = ln.Close() }()
	}

	_, _ = fmt.Fprintf(os.Stdout, "booting, will exit with %d in %s\n", code, after)
	time.Sleep(after)
	_, _ = fmt.Fprintln(os.Stderr, "fatal: could not connect to upstream")
	os.Exit(code)
}
