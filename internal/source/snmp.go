package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	defaults "github.com/xtxerr/catwatch/config"
	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/types"
)

// SNMP polls one OID per reading field on a fixed interval.
// A failed poll becomes a sample carrying the error, so ingestion counts it
// and keeps polling.
type SNMP struct {
	client   *gosnmp.GoSNMP
	interval time.Duration

	// fields maps a normalized OID to its field name.
	fields map[string]string
	oids   []string

	ticker *time.Ticker
	first  bool

	done      chan struct{}
	closeOnce sync.Once

	log *slog.Logger
}

// NewSNMP creates an SNMP v2c poller and opens its UDP socket.
func NewSNMP(cfg config.SNMPConfig) (*SNMP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("snmp host is required: %w", errors.ErrInvalidConfig)
	}
	if cfg.Community == "" {
		return nil, fmt.Errorf("snmp v2c requires a community string: %w", errors.ErrInvalidConfig)
	}
	if len(cfg.OIDs) == 0 {
		return nil, fmt.Errorf("snmp oids are required: %w", errors.ErrInvalidConfig)
	}

	s := &SNMP{
		client:   newSNMPClient(cfg),
		interval: cfg.Interval,
		first:    true,
		done:     make(chan struct{}),
		log:      logging.Component("source").With("source", "snmp:"+cfg.Host),
	}
	if s.interval <= 0 {
		s.interval = defaults.DefaultSNMPInterval
	}
	s.fields, s.oids = indexOIDs(cfg.OIDs)

	if err := s.client.Connect(); err != nil {
		return nil, errors.Source(fmt.Errorf("connect %s: %w", cfg.Host, err))
	}
	s.ticker = time.NewTicker(s.interval)

	s.log.Info("snmp source ready", "oids", len(s.oids), "interval", s.interval)
	return s, nil
}

func newSNMPClient(cfg config.SNMPConfig) *gosnmp.GoSNMP {
	port := cfg.Port
	if port == 0 {
		port = 161
	}

	timeout := cfg.TimeoutMs
	if timeout == 0 {
		timeout = defaults.DefaultSNMPTimeoutMs
	}

	retries := cfg.Retries
	if retries == 0 {
		retries = defaults.DefaultSNMPRetries
	}

	return &gosnmp.GoSNMP{
		Target:    cfg.Host,
		Port:      port,
		Community: cfg.Community,
		Version:   gosnmp.Version2c,
		Timeout:   time.Duration(timeout) * time.Millisecond,
		Retries:   int(retries),
	}
}

// indexOIDs inverts the field -> OID map and returns the OIDs sorted.
func indexOIDs(byField map[string]string) (map[string]string, []string) {
	fields := make(map[string]string, len(byField))
	oids := make([]string, 0, len(byField))
	for field, oid := range byField {
		oid = normalizeOID(oid)
		fields[oid] = field
		oids = append(oids, oid)
	}
	sort.Strings(oids)
	return fields, oids
}

// normalizeOID strips the leading dot gosnmp puts on returned names.
func normalizeOID(oid string) string {
	return strings.TrimPrefix(strings.TrimSpace(oid), ".")
}

// Next polls immediately on the first call, then once per interval.
func (s *SNMP) Next(ctx context.Context) (types.RawSample, error) {
	if s.first {
		s.first = false
	} else {
		select {
		case <-ctx.Done():
			return types.RawSample{}, ctx.Err()
		case <-s.done:
			return types.RawSample{}, io.EOF
		case <-s.ticker.C:
		}
	}

	now := time.Now()
	pdu, err := s.client.Get(s.oids)
	if err != nil {
		s.log.Warn("snmp poll failed", "error", err, "timeout", isTimeoutError(err))
		return types.RawSample{Err: fmt.Errorf("get: %w", err), ReceivedAt: now}, nil
	}

	fields, err := fieldsFromPDU(pdu.Variables, s.fields)
	if err != nil {
		return types.RawSample{Err: err, ReceivedAt: now}, nil
	}
	return types.RawSample{Fields: fields, ReceivedAt: now}, nil
}

// fieldsFromPDU converts polled variables into a field map.
func fieldsFromPDU(vars []gosnmp.SnmpPDU, fieldByOID map[string]string) (map[string]any, error) {
	if len(vars) == 0 {
		return nil, fmt.Errorf("no variables returned")
	}

	out := make(map[string]any, len(vars))
	for _, v := range vars {
		field, ok := fieldByOID[normalizeOID(v.Name)]
		if !ok {
			continue
		}

		switch v.Type {
		case gosnmp.Counter32, gosnmp.Counter64, gosnmp.Uinteger32, gosnmp.Gauge32, gosnmp.TimeTicks:
			out[field] = float64(gosnmp.ToBigInt(v.Value).Uint64())

		case gosnmp.Integer:
			out[field] = float64(gosnmp.ToBigInt(v.Value).Int64())

		case gosnmp.OpaqueFloat:
			out[field] = float64(v.Value.(float32))

		case gosnmp.OpaqueDouble:
			out[field] = v.Value.(float64)

		case gosnmp.OctetString:
			// Devices often report decimals as strings; the parser accepts
			// numeric strings.
			out[field] = string(v.Value.([]byte))

		case gosnmp.NoSuchObject, gosnmp.NoSuchInstance:
			return nil, fmt.Errorf("%s (%s): OID not found", field, v.Name)

		default:
			return nil, fmt.Errorf("%s (%s): unsupported type %v", field, v.Name, v.Type)
		}
	}
	return out, nil
}

// Close stops polling and closes the socket.
func (s *SNMP) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.ticker.Stop()
		if s.client.Conn != nil {
			err = s.client.Conn.Close()
		}
	})
	return err
}

func isTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	// gosnmp returns "request timeout" on timeout
	return strings.Contains(err.Error(), "request timeout") ||
		errors.Is(err, context.DeadlineExceeded)
}
