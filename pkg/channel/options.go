package channel

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/samsamfire/cansource/pkg/can/socketcan"
	"github.com/samsamfire/cansource/pkg/datasource"
	"github.com/samsamfire/cansource/pkg/timestamp"
)

// Transport properties understood by the channel
const (
	PropertyInterfaceName = "interfaceName"
	PropertyInterfaceType = "interfaceType"
	PropertyProtocolName  = "protocolName"
	PropertyIdleTime      = "threadIdleTimeMs"
	PropertyTimestampType = "timestampType"
)

const (
	ProtocolCAN   = "CAN"
	ProtocolCANFD = "CAN-FD"

	DefaultInterfaceType = "socketcan"
	DefaultIdleTime      = 1000 * time.Millisecond
)

var ErrInvalidConfig = errors.New("invalid channel configuration")

// Typed channel configuration, immutable once the channel is initialized.
type Options struct {
	InterfaceName string
	InterfaceType string
	FD            bool
	IdleTime      time.Duration
	MaxMessages   int
	Timestamp     timestamp.Strategy
}

// ParseOptions validates cfg. strategy is used unless the
// "timestampType" property overrides it.
func ParseOptions(cfg datasource.Config, strategy timestamp.Strategy) (Options, error) {
	props := cfg.TransportProperties
	opts := Options{
		InterfaceName: props[PropertyInterfaceName],
		InterfaceType: DefaultInterfaceType,
		IdleTime:      DefaultIdleTime,
		MaxMessages:   cfg.MaxMessages,
		Timestamp:     strategy,
	}
	if err := socketcan.ValidateInterfaceName(opts.InterfaceName); err != nil {
		return opts, fmt.Errorf("%w : %w", ErrInvalidConfig, err)
	}
	if interfaceType, ok := props[PropertyInterfaceType]; ok && interfaceType != "" {
		opts.InterfaceType = interfaceType
	}

	switch protocol := props[PropertyProtocolName]; protocol {
	case "", ProtocolCAN:
	case ProtocolCANFD:
		opts.FD = true
	default:
		return opts, fmt.Errorf("%w : unknown protocol %q", ErrInvalidConfig, protocol)
	}

	if raw, ok := props[PropertyIdleTime]; ok {
		idleMs, err := strconv.ParseUint(raw, 10, 32)
		if err != nil || idleMs == 0 {
			return opts, fmt.Errorf("%w : %v must be a positive integer, got %q", ErrInvalidConfig, PropertyIdleTime, raw)
		}
		opts.IdleTime = time.Duration(idleMs) * time.Millisecond
	}

	if opts.MaxMessages <= 0 {
		return opts, fmt.Errorf("%w : max messages must be strictly positive, got %v", ErrInvalidConfig, opts.MaxMessages)
	}

	if raw, ok := props[PropertyTimestampType]; ok {
		parsed, err := timestamp.ParseStrategy(raw)
		if err != nil {
			return opts, fmt.Errorf("%w : %w", ErrInvalidConfig, err)
		}
		opts.Timestamp = parsed
	}
	return opts, nil
}
