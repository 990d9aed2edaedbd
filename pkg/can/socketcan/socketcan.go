//go:build linux

package socketcan

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/samsamfire/cansource/pkg/can"
	"github.com/samsamfire/cansource/pkg/timestamp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func init() {
	can.RegisterInterface("socketcan", NewSource)
}

const (
	// Maximum number of frames fetched from the kernel in one receive call
	MaxBatchSize = 10

	timestampingFlags = unix.SOF_TIMESTAMPING_SOFTWARE |
		unix.SOF_TIMESTAMPING_RX_SOFTWARE |
		unix.SOF_TIMESTAMPING_RX_HARDWARE |
		unix.SOF_TIMESTAMPING_RAW_HARDWARE
)

var timespecSize = int(unsafe.Sizeof(unix.Timespec{}))

// Linux raw socket CAN source. Each received frame comes with the
// kernel software & hardware receive timestamps when available.
type Source struct {
	mu     sync.Mutex
	fd     int
	name   string
	closed bool
	logger *log.Entry
	mmsgs  []Mmsghdr
	iovecs []unix.Iovec
	oob    [][]byte
}

// Create a new SocketCAN source bound to opts.Interface. The interface is expected to be up.
// Any partially acquired resource is released on failure.
func NewSource(opts can.Options) (can.Source, error) {
	return Open(opts)
}

// Same as [NewSource] but returns the concrete type.
func Open(opts can.Options) (*Source, error) {
	if err := ValidateInterfaceName(opts.Interface); err != nil {
		return nil, err
	}
	logger := log.WithField("interface", opts.Interface)

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("failed to create CAN socket : %w", err)
	}

	ifreq, err := unix.NewIfreq(opts.Interface)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w : %v", ErrInterfaceName, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("unknown interface %v : %w", opts.Interface, err)
	}

	if opts.FD {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to enable CAN-FD frames : %w", err)
		}
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMPING, timestampingFlags); err != nil {
		// Not fatal, timestamps will fallback to polling time
		logger.Warnf("[CAN] failed to enable kernel timestamps : %v", err)
	}

	if opts.IdleTime > 0 {
		tv := unix.NsecToTimeval(opts.IdleTime.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set read timeout : %w", err)
		}
	}

	addr := &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind to %v : %w", opts.Interface, err)
	}

	s := &Source{
		fd:     fd,
		name:   opts.Interface,
		logger: logger,
		mmsgs:  make([]Mmsghdr, MaxBatchSize),
		iovecs: make([]unix.Iovec, MaxBatchSize),
		oob:    make([][]byte, MaxBatchSize),
	}
	for i := range MaxBatchSize {
		s.oob[i] = make([]byte, unix.CmsgSpace(3*timespecSize))
	}
	logger.Debugf("[CAN] socket bound (fd : %v, can-fd : %v)", fd, opts.FD)
	return s, nil
}

// "Receive" implementation of can.Source interface.
// Up to [MaxBatchSize] frames are fetched with a single recvmmsg call.
func (s *Source) Receive(batch []can.Received) (int, error) {
	if s.isClosed() {
		return 0, can.ErrClosed
	}
	nbMax := min(len(batch), MaxBatchSize)
	if nbMax == 0 {
		return 0, nil
	}
	for i := range nbMax {
		s.iovecs[i].Base = &batch[i].Raw[0]
		s.iovecs[i].SetLen(can.CanFdMtu)
		hdr := &s.mmsgs[i].Hdr
		hdr.Iov = &s.iovecs[i]
		hdr.SetIovlen(1)
		hdr.Control = &s.oob[i][0]
		hdr.SetControllen(len(s.oob[i]))
		hdr.Flags = 0
		s.mmsgs[i].Len = 0
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_RECVMMSG,
		uintptr(s.fd),
		uintptr(unsafe.Pointer(&s.mmsgs[0])),
		uintptr(nbMax),
		unix.MSG_WAITFORONE,
		0, // No timeout, SO_RCVTIMEO bounds the first frame
		0,
	)
	if errno != 0 {
		switch errno {
		case unix.EAGAIN, unix.EINTR:
			return 0, nil
		case unix.EBADF:
			return 0, can.ErrClosed
		}
		return 0, fmt.Errorf("recvmmsg on %v : %w", s.name, errno)
	}

	nbMsg := int(n)
	for i := range nbMsg {
		batch[i].N = int(s.mmsgs[i].Len)
		controlLen := int(s.mmsgs[i].Hdr.Controllen)
		batch[i].Timestamps = parseTimestamps(s.oob[i][:controlLen])
	}
	return nbMsg, nil
}

// parseTimestamps extracts the receive timestamps of a
// SCM_TIMESTAMPING control message. The payload is 3 timespecs :
// software, legacy (unused), raw hardware.
func parseTimestamps(oob []byte) timestamp.Kernel {
	var kernel timestamp.Kernel
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return kernel
	}
	for _, msg := range msgs {
		if msg.Header.Level != unix.SOL_SOCKET {
			continue
		}
		switch msg.Header.Type {
		case unix.SCM_TIMESTAMPING:
			if len(msg.Data) < 3*timespecSize {
				continue
			}
			specs := (*[3]unix.Timespec)(unsafe.Pointer(&msg.Data[0]))
			kernel.Software = timestamp.FromUnix(int64(specs[0].Sec), int64(specs[0].Nsec))
			kernel.Hardware = timestamp.FromUnix(int64(specs[2].Sec), int64(specs[2].Nsec))
		case unix.SCM_TIMESTAMPNS:
			if len(msg.Data) < timespecSize {
				continue
			}
			spec := (*unix.Timespec)(unsafe.Pointer(&msg.Data[0]))
			kernel.Software = timestamp.FromUnix(int64(spec.Sec), int64(spec.Nsec))
		}
	}
	return kernel
}

func (s *Source) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// "Close" implementation of can.Source interface.
// Closing twice is a no-op.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debugf("[CAN] closing socket (fd : %v)", s.fd)
	if err := unix.Close(s.fd); err != nil && !errors.Is(err, unix.EBADF) {
		return err
	}
	return nil
}

// Add some filtering to the socket, frames not matching are dropped by the kernel.
func (s *Source) SetFilters(filters []unix.CanFilter) error {
	s.logger.Infof("[CAN] setting option 'CAN_RAW_FILTER' : %v", filters)
	return unix.SetsockoptCanRawFilter(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters)
}
