// Package proc reads process-group statistics from /proc.
package proc

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// USER_HZ on every mainstream Linux build.
const clockTicks = 100

var ErrNoProcesses = errors.New("no processes in group")

// Stats aggregates every process of one process group.
type Stats struct {
	PGID        int           `json:"pgid"`
	Processes   int           `json:"processes"`
	Threads     int           `json:"threads"`
	RSSBytes    int64         `json:"rss_bytes"`
	CPUTime     time.Duration `json:"cpu_time"`
	CPUPercent  float64       `json:"cpu_percent"`
	LeaderState string        `json:"leader_state,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitempty"`
}

func (s Stats) RSSMB() float64 { return float64(s.RSSBytes) / (1024 * 1024) }

type procStat struct {
	pid        int
	pgrp       int
	state      byte
	utime      uint64
	stime      uint64
	threads    int
	startTicks uint64
	rssPages   int64
}

type Reader struct {
	// Root is the procfs mount point.
	Root     string
	PageSize int64
}

func NewReader() *Reader {
	return &Reader{Root: "/proc", PageSize: int64(os.Getpagesize())}
}

// Group sums the statistics of all processes whose process group is pgid.
func (r *Reader) Group(pgid int) (Stats, error) {
	if pgid <= 0 {
		return Stats{}, errors.Errorf("invalid pgid %d", pgid)
	}
	entries, err := os.ReadDir(r.Root)
	if err != nil {
		return Stats{}, errors.Wrap(err, "read proc root")
	}

	st := Stats{PGID: pgid}
	var leader *procStat
	for _, e := range entries {
		pid, err := strconv.Atoi(e.Name())
		if err != nil || !e.IsDir() {
			continue
		}
		ps, err := r.readStat(pid)
		if err != nil || ps.pgrp != pgid {
			// Processes can vanish between ReadDir and the read.
			continue
		}
		st.Processes++
		st.Threads += ps.threads
		st.RSSBytes += ps.rssPages * r.PageSize
		st.CPUTime += ticksToDuration(ps.utime + ps.stime)
		if ps.pid == pgid {
			leader = &ps
		}
	}
	if st.Processes == 0 {
		return Stats{}, errors.Wrapf(ErrNoProcesses, "pgid %d", pgid)
	}

	if leader != nil {
		st.LeaderState = string(leader.state)
		if boot, err := r.bootTime(); err == nil {
			st.StartedAt = boot.Add(ticksToDuration(leader.startTicks))
		}
	}
	return st, nil
}

// Sample reads the group twice, window apart, and fills in CPUPercent.
func (r *Reader) Sample(ctx context.Context, pgid int, window time.Duration) (Stats, error) {
	before, err := r.Group(pgid)
	if err != nil {
		return Stats{}, err
	}
	t := time.NewTimer(window)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return before, ctx.Err()
	case <-t.C:
	}
	after, err := r.Group(pgid)
	if err != nil {
		return before, nil
	}
	if delta := after.CPUTime - before.CPUTime; delta > 0 && window > 0 {
		after.CPUPercent = float64(delta) / float64(window) * 100
	}
	return after, nil
}

func ticksToDuration(ticks uint64) time.Duration {
	return time.Duration(ticks) * time.Second / clockTicks
}

func (r *Reader) readStat(pid int) (procStat, error) {
	b, err := os.ReadFile(filepath.Join(r.Root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return procStat{}, errors.Wrap(err, "read stat")
	}
	ps, err := parseStat(string(b))
	if err != nil {
		return procStat{}, errors.Wrapf(err, "pid %d", pid)
	}
	return ps, nil
}

// parseStat reads /proc/<pid>/stat. comm may contain spaces and parentheses,
// so the fixed fields start after the last ')'.
func parseStat(content string) (procStat, error) {
	open := strings.IndexByte(content, '(')
	closeParen := strings.LastIndexByte(content, ')')
	if open < 0 || closeParen < open {
		return procStat{}, errors.New("malformed stat: no comm field")
	}
	pid, err := strconv.Atoi(strings.TrimSpace(content[:open]))
	if err != nil {
		return procStat{}, errors.Wrap(err, "parse pid")
	}

	// Indices below are relative to the state field (field 3 in proc(5)).
	fields := strings.Fields(content[closeParen+1:])
	if len(fields) < 22 {
		return procStat{}, errors.Errorf("malformed stat: %d fields after comm", len(fields))
	}

	ps := procStat{pid: pid, state: fields[0][0]}
	ints := []struct {
		idx  int
		name string
		dst  func(v int64)
	}{
		{2, "pgrp", func(v int64) { ps.pgrp = int(v) }},
		{11, "utime", func(v int64) { ps.utime = uint64(v) }},
		{12, "stime", func(v int64) { ps.stime = uint64(v) }},
		{17, "num_threads", func(v int64) { ps.threads = int(v) }},
		{19, "starttime", func(v int64) { ps.startTicks = uint64(v) }},
		{21, "rss", func(v int64) { ps.rssPages = v }},
	}
	for _, f := range ints {
		v, err := strconv.ParseInt(fields[f.idx], 10, 64)
		if err != nil {
			return procStat{}, errors.Wrapf(err, "parse %s", f.name)
		}
		f.dst(v)
	}
	return ps, nil
}

func (r *Reader) bootTime() (time.Time, error) {
	f, err := os.Open(filepath.Join(r.Root, "stat"))
	if err != nil {
		return time.Time{}, errors.Wrap(err, "open stat")
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Fields(scanner.Text())
		if len(parts) == 2 && parts[0] == "btime" {
			btime, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return time.Time{}, errors.Wrap(err, "parse btime")
			}
			return time.Unix(btime, 0), nil
		}
	}
	return time.Time{}, errors.New("btime not found")
}
