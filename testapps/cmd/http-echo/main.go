// http-echo is a small HTTP service for trying out health-gated sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	var port int
	var readyAfter time.Duration
	var healthStatus int
	var ignoreTerm bool
	flag.IntVar(&port, "port", 0, "Port to listen on (defaults to $PORT)")
	flag.DurationVar(&readyAfter, "ready-after", 0, "Delay before the port is opened")
	flag.IntVar(&healthStatus, "health-status", http.StatusOK, "Status code returned by /health")
	flag.BoolVar(&ignoreTerm, "ignore-term", false, "Ignore SIGTERM so the launcher has to escalate to SIGKILL")
	flag.Parse()

	if port == 0 {
		if v := os.Getenv("PORT"); v != "" {
			_, _ = fmt.Sscanf(v, "%d", &port)
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, os.Interrupt)

	if readyAfter > 0 {
		_, _ = fmt.Fprintf(os.Stderr, "warming up for %s\n", readyAfter)
		time.Sleep(readyAfter)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(2)
	}
	_, _ = fmt.Fprintf(os.Stdout, "listening on %s\n", ln.Addr())

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(healthStatus)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprintf(os.Stdout, "%s %s\n", r.Method, r.URL.Path)
		_, _ = w.Write([]byte(r.URL.Path))
	})
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 2 * time.Second}

	go func() {
		for sig := range sigs {
			if ignoreTerm && sig == syscall.SIGTERM {
				_, _ = fmt.Fprintln(os.Stderr, "ignoring SIGTERM")
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = srv.Shutdown(ctx)
			cancel()
			return
		}
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		_, _ = fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		os.Exit(3)
	}
	_, _ = fmt.Fprintln(os.Stderr, "shut down")
}
