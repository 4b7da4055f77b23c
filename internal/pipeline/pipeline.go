// Package pipeline implements C8, the result pipeline: a single
// writer goroutine draining the scheduler's harvested ScanReports,
// serializing them in one or more configured formats, optionally
// echoing to the console and an AMQP exchange, and driving the
// checkpoint manager every checkpoint_interval reports (spec.md §4.8).
package pipeline

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/scanline/fingerprinter/internal/checkpoint"
	"github.com/scanline/fingerprinter/internal/model"
)

// Mode selects whether reports are flushed incrementally or buffered
// until the scan completes (spec.md §4.8).
type Mode int

const (
	ModeStream Mode = iota
	ModeFinal
)

// ParseMode maps the configured write_mode string, defaulting to
// ModeStream for anything unrecognized (spec.md §6.2: "else fallback
// to stream").
func ParseMode(s string) Mode {
	if s == "final" {
		return ModeFinal
	}
	return ModeStream
}

// Options configures a Writer.
type Options struct {
	Formats            []string
	Directory          string
	Mode               Mode
	OnlySuccess        bool
	ToConsole          bool
	FlushInterval      time.Duration
	CheckpointInterval int
	AMQPURL            string
	AMQPExchange       string
	ResultsBasename    string // base name for scan_results.<ext>, default "scan_results"
}

type sink struct {
	format string
	ext    string

	file *os.File
	buf  *bufio.Writer
	csvW *csv.Writer

	// ModeFinal accumulation; unused in ModeStream.
	finalText    []string
	finalCSVRows [][]string
	finalJSON    []jsonTargetObject
	jsonWritten  int // stream-mode json: how many array elements written so far
}

// Writer owns the open output sinks, the optional AMQP sink, and the
// checkpoint manager.
type Writer struct {
	opts   Options
	logger *zap.SugaredLogger
	ckpt   *checkpoint.Manager
	sink   *amqpSink

	sinks []*sink

	seqMu   sync.Mutex
	seqOf   map[string]int
	nextSeq int

	processed  atomic.Int64
	successful atomic.Int64
	lastIP     string
}

// Processed returns the number of reports written so far.
func (w *Writer) Processed() int64 { return w.processed.Load() }

// Successful returns the number of reports containing at least one
// accessible protocol result.
func (w *Writer) Successful() int64 { return w.successful.Load() }

// New opens the configured output sinks (stream mode only; final mode
// defers file creation until Run sees the reports channel close) and
// connects the AMQP sink if configured.
func New(opts Options, ckpt *checkpoint.Manager, logger *zap.SugaredLogger) (*Writer, error) {
	if opts.ResultsBasename == "" {
		opts.ResultsBasename = "scan_results"
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = 1000
	}

	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("pipeline: create output directory: %w", err)
	}

	w := &Writer{opts: opts, logger: logger, ckpt: ckpt, seqOf: make(map[string]int)}

	for _, format := range opts.Formats {
		s := &sink{format: format, ext: extensionFor(format)}
		if opts.Mode == ModeStream {
			path := filepath.Join(opts.Directory, opts.ResultsBasename+"."+s.ext)
			f, err := os.Create(path)
			if err != nil {
				return nil, fmt.Errorf("pipeline: create %s: %w", path, err)
			}
			s.file = f
			s.buf = bufio.NewWriter(f)
			if format == "csv" {
				s.csvW = csv.NewWriter(s.buf)
				if err := s.csvW.Write(csvHeader); err != nil {
					return nil, fmt.Errorf("pipeline: write csv header: %w", err)
				}
			}
			if format == "json" {
				fmt.Fprint(s.buf, "[\n")
			}
		}
		w.sinks = append(w.sinks, s)
	}

	if opts.AMQPURL != "" {
		amqpSink, err := newAMQPSink(opts.AMQPURL, opts.AMQPExchange, logger)
		if err != nil {
			logger.Warnw("amqp sink unavailable, continuing without it", "error", err)
		} else {
			w.sink = amqpSink
		}
	}

	return w, nil
}

// Run drains reports until the channel closes or ctx is cancelled,
// writing to every sink, flushing stream-mode sinks every
// FlushInterval, and persisting a checkpoint every CheckpointInterval
// reports. On clean completion (channel closed, ctx not cancelled) it
// finalizes final-mode sinks and deletes the checkpoint file.
func (w *Writer) Run(ctx context.Context, reports <-chan model.ScanReport) error {
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	cleanCompletion := true

	for {
		select {
		case <-ctx.Done():
			cleanCompletion = false
			w.flushAll()
			w.closeAll()
			return ctx.Err()

		case r, ok := <-reports:
			if !ok {
				w.finalizeFinalSinks()
				w.flushAll()
				w.closeAll()
				if w.sink != nil {
					w.sink.Close()
				}
				if cleanCompletion {
					if err := w.ckpt.Delete(); err != nil {
						w.logger.Warnw("checkpoint delete failed", "error", err)
					}
				}
				return nil
			}
			w.writeReport(r)

		case <-ticker.C:
			w.flushAll()
		}
	}
}

func (w *Writer) writeReport(r model.ScanReport) {
	processed := w.processed.Add(1)
	anyOK := false
	for _, p := range r.Protocols {
		if p.Accessible {
			anyOK = true
			break
		}
	}
	var successful int64
	if anyOK {
		successful = w.successful.Add(1)
	} else {
		successful = w.successful.Load()
	}
	w.lastIP = r.Target.ResolvedIP

	for _, s := range w.sinks {
		if err := w.writeToSink(s, r); err != nil {
			w.logger.Warnw("output write failed, continuing", "format", s.format, "error", err)
			continue
		}
	}

	if w.opts.ToConsole {
		fmt.Print(formatText(r, w.opts.OnlySuccess))
	}

	if w.sink != nil {
		w.sink.publish(r)
	}

	if w.opts.CheckpointInterval > 0 && processed%int64(w.opts.CheckpointInterval) == 0 {
		if err := w.ckpt.Save(w.lastIP, processed, successful); err != nil {
			w.logger.Warnw("checkpoint save failed", "error", err)
		}
	}
}

func (w *Writer) writeToSink(s *sink, r model.ScanReport) error {
	switch s.format {
	case "csv":
		if w.opts.Mode == ModeFinal {
			s.finalCSVRows = append(s.finalCSVRows, csvRows(r, w.opts.OnlySuccess)...)
			return nil
		}
		return writeCSVRows(s.csvW, csvRows(r, w.opts.OnlySuccess))

	case "json":
		obj := toJSONObject(r, w.opts.OnlySuccess)
		if w.opts.Mode == ModeFinal {
			s.finalJSON = append(s.finalJSON, obj)
			return nil
		}
		if s.jsonWritten > 0 {
			fmt.Fprint(s.buf, ",\n")
		}
		s.jsonWritten++
		data, err := json.MarshalIndent(obj, "  ", "  ")
		if err != nil {
			return err
		}
		_, err = s.buf.Write(data)
		return err

	case "required":
		lines := requiredLines(r, w.opts.OnlySuccess, w.seqNumber)
		if w.opts.Mode == ModeFinal {
			s.finalText = append(s.finalText, lines...)
			return nil
		}
		for _, line := range lines {
			if _, err := fmt.Fprintln(s.buf, line); err != nil {
				return err
			}
		}
		return nil

	default: // text, report
		text := formatText(r, w.opts.OnlySuccess)
		if w.opts.Mode == ModeFinal {
			s.finalText = append(s.finalText, text)
			return nil
		}
		_, err := s.buf.WriteString(text)
		return err
	}
}

// seqNumber assigns each IP an increasing 1-based sequence number the
// first time it is seen (spec.md §6.4 "required" format).
func (w *Writer) seqNumber(ip string) int {
	w.seqMu.Lock()
	defer w.seqMu.Unlock()
	if n, ok := w.seqOf[ip]; ok {
		return n
	}
	w.nextSeq++
	w.seqOf[ip] = w.nextSeq
	return w.nextSeq
}

func (w *Writer) flushAll() {
	for _, s := range w.sinks {
		if s.buf == nil {
			continue
		}
		if s.csvW != nil {
			s.csvW.Flush()
		}
		if err := s.buf.Flush(); err != nil {
			w.logger.Warnw("flush failed", "format", s.format, "error", err)
		}
		if s.file != nil {
			_ = s.file.Sync()
		}
	}
}

func (w *Writer) closeAll() {
	for _, s := range w.sinks {
		if s.buf != nil {
			_ = s.buf.Flush()
		}
		if s.file != nil {
			_ = s.file.Close()
		}
	}
}

// finalizeFinalSinks writes buffered content for ModeFinal sinks (and
// closes the json array bracket for stream-mode json sinks).
func (w *Writer) finalizeFinalSinks() {
	for _, s := range w.sinks {
		switch {
		case w.opts.Mode == ModeFinal:
			w.writeFinalSink(s)
		case s.format == "json":
			fmt.Fprint(s.buf, "\n]\n")
		}
	}
}

func (w *Writer) writeFinalSink(s *sink) {
	path := filepath.Join(w.opts.Directory, w.opts.ResultsBasename+"."+s.ext)
	f, err := os.Create(path)
	if err != nil {
		w.logger.Warnw("final write failed", "format", s.format, "error", err)
		return
	}
	defer f.Close()

	switch s.format {
	case "json":
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		_ = enc.Encode(s.finalJSON)
	case "csv":
		cw := csv.NewWriter(f)
		_ = cw.Write(csvHeader)
		_ = writeCSVRows(cw, s.finalCSVRows)
		cw.Flush()
	default:
		for _, chunk := range s.finalText {
			fmt.Fprint(f, chunk)
		}
	}
}
