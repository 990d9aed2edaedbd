//go:build linux

// Package socketcanring receives CAN frames through an AF_PACKET
// memory mapped ring. Frames are copied out of the ring without a system
// call per frame, which significantly reduces CPU usage under heavy
// traffic. Only software timestamps are available with this source.
package socketcanring

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
	"unsafe"

	"github.com/samsamfire/cansource/pkg/can"
	"github.com/samsamfire/cansource/pkg/can/socketcan"
	"github.com/samsamfire/cansource/pkg/timestamp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const (
	tpacketV1     = 1
	packetReserve = 4 // like tcpdump, fixes alignment issues on ARM

	// Ring geometry
	blockSize = 4096
	frameSize = 256
	blockNr   = 64

	defaultIdleTime = 100 * time.Millisecond
)

func init() {
	can.RegisterInterface("socketcanring", NewSource)
}

type Source struct {
	mu       sync.Mutex
	fd       int
	name     string
	canFD    bool
	idleTime time.Duration
	ring     []byte
	req      unix.TpacketReq
	frameIdx int
	closed   bool
	logger   *log.Entry
}

// "NewSource" implementation
func NewSource(opts can.Options) (can.Source, error) {
	return Open(opts)
}

func Open(opts can.Options) (*Source, error) {
	if err := socketcan.ValidateInterfaceName(opts.Interface); err != nil {
		return nil, err
	}
	iface, err := net.InterfaceByName(opts.Interface)
	if err != nil {
		return nil, err
	}
	// Classic frames only, unless FD is requested
	protocol := uint16(unix.ETH_P_CAN)
	if opts.FD {
		protocol = unix.ETH_P_ALL
	}
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(protocol)))
	if err != nil {
		return nil, fmt.Errorf("failed to create packet socket : %w", err)
	}
	s := &Source{
		fd:       fd,
		name:     opts.Interface,
		canFD:    opts.FD,
		idleTime: opts.IdleTime,
		logger:   log.WithFields(log.Fields{"interface": opts.Interface, "driver": "socketcanring"}),
	}
	if s.idleTime <= 0 {
		s.idleTime = defaultIdleTime
	}
	if err := s.setup(iface.Index, protocol); err != nil {
		if s.ring != nil {
			unix.Munmap(s.ring)
		}
		unix.Close(fd)
		return nil, err
	}
	s.logger.Infof("[CAN] ring opened (%v frames)", s.req.Frame_nr)
	return s, nil
}

func (s *Source) setup(ifindex int, protocol uint16) error {
	if err := unix.SetsockoptInt(s.fd, unix.SOL_PACKET, unix.PACKET_VERSION, tpacketV1); err != nil {
		return fmt.Errorf("failed to set TPACKET_V1 : %w", err)
	}
	if err := unix.SetsockoptInt(s.fd, unix.SOL_PACKET, unix.PACKET_RESERVE, packetReserve); err != nil {
		return fmt.Errorf("failed to set PACKET_RESERVE : %w", err)
	}
	s.req = unix.TpacketReq{
		Block_size: blockSize,
		Block_nr:   blockNr,
		Frame_size: frameSize,
		Frame_nr:   (blockSize / frameSize) * blockNr,
	}
	if err := unix.SetsockoptTpacketReq(s.fd, unix.SOL_PACKET, unix.PACKET_RX_RING, &s.req); err != nil {
		return fmt.Errorf("failed to set PACKET_RX_RING (req=%+v) : %w", s.req, err)
	}
	ring, err := unix.Mmap(s.fd, 0, int(s.req.Block_size*s.req.Block_nr), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("failed to mmap ring : %w", err)
	}
	s.ring = ring
	if err := unix.Bind(s.fd, &unix.SockaddrLinklayer{Protocol: htons(protocol), Ifindex: ifindex}); err != nil {
		return fmt.Errorf("failed to bind %v : %w", s.name, err)
	}
	return nil
}

// "Receive" implementation of can.Source interface.
// It sweeps the ring and waits up to the idle time if it is empty.
func (s *Source) Receive(batch []can.Received) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, can.ErrClosed
	}
	if n := s.sweep(batch); n > 0 {
		return n, nil
	}
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
	_, err := unix.Poll(fds, int(s.idleTime.Milliseconds()))
	switch err {
	case nil:
	case unix.EINTR:
		return 0, nil
	default:
		return 0, fmt.Errorf("poll failed on %v : %w", s.name, err)
	}
	return s.sweep(batch), nil
}

// sweep copies up to len(batch) user owned frames and hands them back to the kernel.
func (s *Source) sweep(batch []can.Received) int {
	n := 0
	for n < len(batch) {
		offset := s.frameIdx * int(s.req.Frame_size)
		hdr := (*unix.TpacketHdr)(unsafe.Pointer(&s.ring[offset]))
		// Owned by the kernel, caught up
		if uint64(hdr.Status)&unix.TP_STATUS_USER == 0 {
			break
		}
		start := offset + int(hdr.Mac)
		size := int(hdr.Snaplen)
		if size > can.CanFdMtu || start+size > offset+int(s.req.Frame_size) {
			size = 0
		}
		// Non FD sockets never see FD frames
		if s.canFD || size != can.CanFdMtu {
			received := &batch[n]
			received.N = copy(received.Raw[:], s.ring[start:start+size])
			received.Timestamps = timestamp.Kernel{
				Software: timestamp.FromUnix(int64(hdr.Sec), int64(hdr.Usec)*1000),
			}
			n++
		}
		hdr.Status = unix.TP_STATUS_KERNEL
		s.frameIdx = (s.frameIdx + 1) % int(s.req.Frame_nr)
	}
	return n
}

// "Close" implementation of can.Source interface.
// It must not be called while Receive is running.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	errMunmap := unix.Munmap(s.ring)
	errClose := unix.Close(s.fd)
	s.logger.Info("[CAN] ring closed")
	if errMunmap != nil {
		return errMunmap
	}
	return errClose
}

func htons(v uint16) uint16 {
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, v)
	return binary.NativeEndian.Uint16(data)
}
