package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	defaults "github.com/xtxerr/catwatch/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/types"
)

// Format is the framing of a byte stream source.
type Format string

const (
	// FormatJSON is one JSON object per line.
	FormatJSON Format = "json"

	// FormatProtoDelim is a stream of varint length-prefixed
	// google.protobuf.Struct messages.
	FormatProtoDelim Format = "protodelim"
)

// Lines reads framed records from a byte stream.
//
// A reader goroutine owns the stream so that Next can honour ctx while a
// read is blocked. Close closes the stream, which unblocks the reader.
type Lines struct {
	name   string
	format Format
	r      io.ReadCloser

	frames chan types.RawSample
	done   chan struct{}

	// err is the terminal error. It is written before frames is closed.
	err error

	closeOnce sync.Once
	closeErr  error

	log *slog.Logger
}

// NewLines starts reading r with the given framing.
// An empty format means JSON.
func NewLines(name string, r io.ReadCloser, format Format) *Lines {
	if format == "" {
		format = FormatJSON
	}
	l := &Lines{
		name:   name,
		format: format,
		r:      r,
		frames: make(chan types.RawSample),
		done:   make(chan struct{}),
		log:    logging.Component("source").With("source", name),
	}
	go l.run()
	return l
}

// Next returns the next record.
func (l *Lines) Next(ctx context.Context) (types.RawSample, error) {
	select {
	case <-ctx.Done():
		return types.RawSample{}, ctx.Err()
	case s, ok := <-l.frames:
		if !ok {
			return types.RawSample{}, l.err
		}
		return s, nil
	}
}

// Close closes the underlying stream.
func (l *Lines) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.r.Close()
	})
	return l.closeErr
}

func (l *Lines) run() {
	var err error
	switch l.format {
	case FormatProtoDelim:
		err = l.readProtoDelim()
	default:
		err = l.readJSON()
	}

	select {
	case <-l.done:
		err = io.EOF
	default:
	}

	if err != io.EOF {
		l.log.Error("source stream failed", "error", err)
		err = errors.Source(fmt.Errorf("%s: %w", l.name, err))
	} else {
		l.log.Info("source stream ended")
	}

	l.err = err
	close(l.frames)
}

// emit hands a sample to Next. It returns false once the source is closed.
func (l *Lines) emit(s types.RawSample) bool {
	select {
	case l.frames <- s:
		return true
	case <-l.done:
		return false
	}
}

func (l *Lines) readJSON() error {
	sc := bufio.NewScanner(l.r)
	sc.Buffer(make([]byte, 0, 4096), defaults.DefaultMaxLineSize)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		// The scanner reuses its buffer.
		payload := make([]byte, len(line))
		copy(payload, line)

		if !l.emit(types.RawSample{Payload: payload, ReceivedAt: time.Now()}) {
			return io.EOF
		}
	}

	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}

func (l *Lines) readProtoDelim() error {
	br := bufio.NewReader(l.r)
	opts := protodelim.UnmarshalOptions{MaxSize: defaults.DefaultMaxLineSize}

	for {
		msg := &structpb.Struct{}
		err := opts.UnmarshalFrom(br, msg)

		var s types.RawSample
		switch {
		case err == nil:
			s = types.RawSample{Fields: msg.AsMap(), ReceivedAt: time.Now()}
		case err == io.EOF:
			return io.EOF
		case errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("truncated frame: %w", err)
		case errors.Is(err, proto.Error):
			// The frame was consumed; report it and keep reading.
			s = types.RawSample{Err: err, ReceivedAt: time.Now()}
		default:
			return err
		}

		if !l.emit(s) {
			return io.EOF
		}
	}
}
