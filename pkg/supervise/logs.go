package supervise

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultLogMaxSizeMB  = 10
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 7

	maxPendingLine = 64 << 10
)

func newRotatingLog(path string, maxSizeMB, maxBackups int) io.WriteCloser {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(maxSizeMB, DefaultLogMaxSizeMB),
		MaxBackups: valOr(maxBackups, DefaultLogMaxBackups),
		MaxAge:     DefaultLogMaxAgeDays,
	}
}

func valOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// lineLogger re-emits process output as one log event per line.
type lineLogger struct {
	service string
	stream  string

	mu  sync.Mutex
	buf []byte
}

func newLineLogger(service, stream string) *lineLogger {
	return &lineLogger{service: service, stream: stream}
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.emit(string(l.buf[:i]))
		l.buf = l.buf[i+1:]
	}
	if len(l.buf) > maxPendingLine {
		l.emit(string(l.buf))
		l.buf = nil
	}
	return len(p), nil
}

func (l *lineLogger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) > 0 {
		l.emit(string(l.buf))
		l.buf = nil
	}
}

func (l *lineLogger) emit(line string) {
	log.Info().Str("service", l.service).Str("stream", l.stream).Msg(strings.TrimRight(line, "\r"))
}
