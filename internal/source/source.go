// Package source provides the transports that feed raw samples into the
// ingestion loop.
//
// Available sources:
//   - synthetic: demo generator per profile (generic, bike, car)
//   - serial: line-framed device on a serial port
//   - stdin: line-framed records on standard input
//   - mqtt: JSON payloads from an MQTT topic
//   - snmp: periodic SNMP GET of one OID per field
//
// Next blocks until a sample is available. io.EOF marks the end of the
// stream; any other error is a transport failure that stops ingestion.
package source

import (
	"context"
	"fmt"
	"os"

	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/types"
)

// Source kinds.
const (
	KindSynthetic = "synthetic"
	KindSerial    = "serial"
	KindStdin     = "stdin"
	KindMQTT      = "mqtt"
	KindSNMP      = "snmp"
)

// Source supplies raw samples.
type Source interface {
	Next(ctx context.Context) (types.RawSample, error)
	Close() error
}

// New opens the source described by cfg. profile selects the synthetic
// generator.
func New(cfg config.SourceConfig, profile string) (Source, error) {
	switch cfg.Kind {
	case KindSynthetic:
		return NewSynthetic(profile, cfg.Synthetic), nil

	case KindSerial:
		return OpenSerial(cfg.Serial, Format(cfg.Format))

	case KindStdin:
		return NewLines("stdin", noClose{os.Stdin}, Format(cfg.Format)), nil

	case KindMQTT:
		return DialMQTT(cfg.MQTT)

	case KindSNMP:
		return NewSNMP(cfg.SNMP)

	default:
		return nil, fmt.Errorf("source kind %q: %w", cfg.Kind, errors.ErrInvalidConfig)
	}
}

// noClose keeps Close from closing a shared stream such as os.Stdin.
type noClose struct {
	*os.File
}

func (noClose) Close() error { return nil }
