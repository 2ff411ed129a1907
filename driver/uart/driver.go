// Package uart drives a DW1000 attached to a radio coprocessor over a serial
// link. The coprocessor executes register-level commands and forwards radio
// interrupts as messages; this package maps them onto ranging.RadioDriver.
package uart

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	proto "github.com/ystepanoff/polypoint/protocol"
	"github.com/ystepanoff/polypoint/ranging"
)

const (
	defaultTimeout = 50 * time.Millisecond
	// tsSize is the length of a raw 40-bit device timestamp.
	tsSize = 5
)

// Driver implements ranging.RadioDriver over a serial port.
type Driver struct {
	port    io.ReadWriteCloser
	log     *slog.Logger
	timeout time.Duration

	// reqMu serialises requests; the coprocessor answers one at a time.
	reqMu   sync.Mutex
	replies chan *packet

	mu      sync.Mutex
	handler ranging.EventHandler
	err     error

	done chan struct{}
}

// Option customises a Driver.
type Option func(*Driver)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// WithTimeout sets how long a command waits for its acknowledgement.
func WithTimeout(t time.Duration) Option {
	return func(d *Driver) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// Open opens the serial port at path and starts the driver on it.
func Open(path string, opts PortOptions, options ...Option) (*Driver, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return New(port, options...), nil
}

// New starts a driver on an already open link.
func New(port io.ReadWriteCloser, options ...Option) *Driver {
	d := &Driver{
		port:    port,
		timeout: defaultTimeout,
		replies: make(chan *packet, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(d)
	}
	if d.log == nil {
		d.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d.log = d.log.With("component", "uart")
	go d.readLoop()
	return d
}

// Close closes the port and waits for the reader to exit.
func (d *Driver) Close() error {
	err := d.port.Close()
	<-d.done
	return err
}

// Error returns the first error of a command with no error result.
func (d *Driver) Error() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func (d *Driver) setError(err error) {
	if err == nil {
		return
	}
	d.log.Warn("radio command failed", "err", err)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err == nil {
		d.err = err
	}
}

func (d *Driver) readLoop() {
	defer close(d.done)
	var dec decoder
	buf := make([]byte, 256)
	for {
		n, err := d.port.Read(buf)
		for _, b := range buf[:n] {
			p, ferr := dec.feed(b)
			if ferr != nil {
				d.log.Debug("dropping link frame", "err", ferr)
				continue
			}
			if p != nil {
				d.dispatch(p)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				d.log.Debug("serial read stopped", "err", err)
			}
			return
		}
	}
}

func (d *Driver) dispatch(p *packet) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()

	switch p.typ {
	case msgAck, msgSysTime:
		select {
		case d.replies <- p:
		default:
			d.log.Warn("unsolicited reply", "type", p.typ)
		}
	case msgRx:
		if len(p.payload) < tsSize {
			d.log.Warn("short rx message", "len", len(p.payload))
			return
		}
		if h != nil {
			h.OnReceive(ranging.RxFrame{
				Timestamp: proto.TimestampFromBytes(p.payload[:tsSize]),
				Data:      p.payload[tsSize:],
			})
		}
	case msgTxDone:
		if h != nil && len(p.payload) >= tsSize {
			h.OnTransmitComplete(proto.TimestampFromBytes(p.payload))
		}
	case msgRxError:
		if h != nil {
			var status byte
			if len(p.payload) > 0 {
				status = p.payload[0]
			}
			h.OnReceiveError(statusError(status))
		}
	default:
		d.log.Debug("unknown coprocessor message", "type", p.typ)
	}
}

func statusError(status byte) error {
	switch status {
	case statusOK:
		return nil
	case statusTxLate:
		return proto.ErrTxLate
	case statusInvalidChannel:
		return proto.ErrInvalidChannel
	case statusRxTimeout:
		return proto.ErrTimeout
	case statusRxCRC:
		return errCRC
	}
	return fmt.Errorf("coprocessor status 0x%02X", status)
}

// request sends a command and waits for its reply.
func (d *Driver) request(cmd byte, payload []byte) (*packet, error) {
	frame, err := encodeFrame(cmd, payload)
	if err != nil {
		return nil, err
	}

	d.reqMu.Lock()
	defer d.reqMu.Unlock()
	// Discard a late reply to an earlier timed-out command.
	select {
	case <-d.replies:
	default:
	}
	if _, err := d.port.Write(frame); err != nil {
		return nil, fmt.Errorf("write command 0x%02X: %w", cmd, err)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case p := <-d.replies:
		return p, nil
	case <-d.done:
		return nil, io.ErrClosedPipe
	case <-timer.C:
		return nil, fmt.Errorf("command 0x%02X: %w", cmd, proto.ErrTimeout)
	}
}

// command sends cmd and checks its acknowledgement.
func (d *Driver) command(cmd byte, payload []byte) error {
	p, err := d.request(cmd, payload)
	if err != nil {
		return err
	}
	if p.typ != msgAck || len(p.payload) < 2 || p.payload[0] != cmd {
		return fmt.Errorf("command 0x%02X: unexpected reply 0x%02X % X", cmd, p.typ, p.payload)
	}
	if err := statusError(p.payload[1]); err != nil {
		return fmt.Errorf("command 0x%02X: %w", cmd, err)
	}
	return nil
}

func (d *Driver) SetEventHandler(h ranging.EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = h
}

func (d *Driver) SetChannel(channel uint8) error {
	return d.command(cmdSetChannel, []byte{channel})
}

func (d *Driver) WriteTxData(data []byte) error {
	if len(data) > proto.MaxFrameSize {
		return proto.ErrFrameTooLarge
	}
	return d.command(cmdWriteTx, data)
}

func (d *Driver) SetDelayedTxTime(hi32 uint32) {
	d.setError(d.command(cmdSetDelayedTx, binary.LittleEndian.AppendUint32(nil, hi32)))
}

func (d *Driver) SetRxAfterTxDelay(us uint32) {
	d.setError(d.command(cmdSetRxAfterTx, binary.LittleEndian.AppendUint32(nil, us)))
}

func (d *Driver) StartDelayedTx(expectResponse bool) error {
	var flag byte
	if expectResponse {
		flag = 1
	}
	return d.command(cmdStartDelayedTx, []byte{flag})
}

func (d *Driver) SetAntennaDelay(ticks uint16) {
	d.setError(d.command(cmdSetAntennaDelay, binary.LittleEndian.AppendUint16(nil, ticks)))
}

func (d *Driver) ForceIdle() {
	d.setError(d.command(cmdForceIdle, nil))
}

func (d *Driver) EnableRx() error {
	return d.command(cmdEnableRx, nil)
}

func (d *Driver) SysTimeHi32() uint32 {
	p, err := d.request(cmdReadSysTime, nil)
	if err != nil {
		d.setError(err)
		return 0
	}
	if p.typ != msgSysTime || len(p.payload) < 4 {
		d.setError(fmt.Errorf("read system time: unexpected reply 0x%02X", p.typ))
		return 0
	}
	return binary.LittleEndian.Uint32(p.payload)
}
