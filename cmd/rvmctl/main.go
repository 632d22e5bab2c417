package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/PavanKulkarni/lightweight-recoverable-virtual-memory/core"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n")
	fmt.Fprintf(os.Stderr, "  rvmctl -dir <data-dir> -segment <name> -size <bytes> [-write <offset>:<text>] [-abort] [-truncate]\n")
	os.Exit(1)
}

func main() {
	var (
		dirPath   = flag.String("dir", "", "path to backing directory")
		segment   = flag.String("segment", "", "segment name to map")
		size      = flag.Int64("size", 4096, "size in bytes to map the segment at")
		write     = flag.String("write", "", "offset:text to write inside a transaction, e.g. 0:hello")
		abort     = flag.Bool("abort", false, "abort the transaction instead of committing it")
		truncate  = flag.Bool("truncate", false, "force a log truncation after the transaction ends")
		dumpAfter = flag.Bool("dump", true, "print the segment's bytes after the run")
	)
	flag.Parse()

	if *dirPath == "" || *segment == "" {
		usage()
	}

	logger := log.NewLogfmtLogger(os.Stderr)
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	h, err := core.Init(*dirPath, core.WithLogger(logger))
	if err != nil {
		level.Error(logger).Log("msg", "init failed", "err", err)
		os.Exit(1)
	}

	seg, err := h.Map(*segment, *size)
	if err != nil {
		level.Error(logger).Log("msg", "map failed", "segment", *segment, "err", err)
		os.Exit(1)
	}

	if *write != "" {
		offset, text, err := parseWrite(*write)
		if err != nil {
			level.Error(logger).Log("msg", "bad -write argument", "err", err)
			os.Exit(1)
		}

		tid := h.BeginTrans(seg)
		if tid < 0 {
			level.Error(logger).Log("msg", "begin_trans refused, segment already locked", "segment", *segment)
			os.Exit(1)
		}

		if err := h.AboutToModify(tid, seg, offset, len(text)); err != nil {
			level.Error(logger).Log("msg", "about_to_modify failed", "err", err)
			h.AbortTrans(tid)
			os.Exit(1)
		}
		copy(seg.Bytes()[offset:offset+len(text)], text)

		if *abort {
			h.AbortTrans(tid)
			level.Info(logger).Log("msg", "transaction aborted", "tid", tid)
		} else {
			h.CommitTrans(tid)
			level.Info(logger).Log("msg", "transaction committed", "tid", tid)
		}
	}

	if *truncate {
		if err := h.TruncateLog(); err != nil {
			level.Error(logger).Log("msg", "truncate_log failed", "err", err)
			os.Exit(1)
		}
		level.Info(logger).Log("msg", "log truncated")
	}

	if *dumpAfter {
		fmt.Printf("%s\n", formatBytes(seg.Bytes()))
	}
}

func parseWrite(spec string) (offset int, text []byte, err error) {
	for i := 0; i < len(spec); i++ {
		if spec[i] != ':' {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(spec[:i], "%d", &n); err != nil {
			return 0, nil, fmt.Errorf("parse offset in %q: %w", spec, err)
		}
		return n, []byte(spec[i+1:]), nil
	}
	return 0, nil, fmt.Errorf("expected offset:text, got %q", spec)
}

func formatBytes(b []byte) string {
	trimmed := b
	for len(trimmed) > 0 && trimmed[len(trimmed)-1] == 0 {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return fmt.Sprintf("%q (%d bytes total, %d trailing zero bytes trimmed)", trimmed, len(b), len(b)-len(trimmed))
}
