package source

import (
	"fmt"

	"go.bug.st/serial"

	defaults "github.com/xtxerr/catwatch/config"
	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/logging"
)

// OpenSerial opens a serial port and reads framed records from it.
func OpenSerial(cfg config.SerialConfig, format Format) (*Lines, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = defaults.DefaultSerialBaudRate
	}

	port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Source(fmt.Errorf("open serial port %s: %w", cfg.Port, err))
	}

	logging.Component("source").Info("serial port opened", "port", cfg.Port, "baud_rate", baud, "format", format)
	return NewLines("serial:"+cfg.Port, port, format), nil
}

// SerialPorts lists the serial ports present on this machine.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
