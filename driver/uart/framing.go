package uart

import (
	"errors"
	"fmt"
)

// Link framing: START len type payload crc16 END, with START, END and ESC
// inside the frame escaped as ESC, b^escXor. The CRC covers len, type and
// payload and is sent big-endian.
const (
	startByte = 0x7E
	endByte   = 0x7F
	escByte   = 0x7D
	escXor    = 0x20

	maxPayload = 200
)

// Host to coprocessor commands.
const (
	cmdSetChannel      byte = 0x01
	cmdWriteTx         byte = 0x02
	cmdSetDelayedTx    byte = 0x03
	cmdSetRxAfterTx    byte = 0x04
	cmdStartDelayedTx  byte = 0x05
	cmdSetAntennaDelay byte = 0x06
	cmdForceIdle       byte = 0x07
	cmdEnableRx        byte = 0x08
	cmdReadSysTime     byte = 0x09
)

// Coprocessor to host messages.
const (
	msgAck     byte = 0x80 // cmd, status
	msgSysTime byte = 0x81 // hi32 LE
	msgRx      byte = 0x90 // 5-byte rx timestamp, frame
	msgTxDone  byte = 0x91 // 5-byte tx timestamp
	msgRxError byte = 0x92 // status
)

// Status codes carried by msgAck and msgRxError.
const (
	statusOK             byte = 0x00
	statusTxLate         byte = 0x01
	statusInvalidChannel byte = 0x02
	statusRxTimeout      byte = 0x10
	statusRxCRC          byte = 0x11
)

var errCRC = errors.New("crc mismatch")

type packet struct {
	typ     byte
	payload []byte
}

func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func encodeFrame(typ byte, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", len(payload), maxPayload)
	}
	body := make([]byte, 0, len(payload)+4)
	body = append(body, byte(len(payload)), typ)
	body = append(body, payload...)
	crc := crc16(body)
	body = append(body, byte(crc>>8), byte(crc))

	out := make([]byte, 0, len(body)*2+2)
	out = append(out, startByte)
	for _, b := range body {
		switch b {
		case startByte, endByte, escByte:
			out = append(out, escByte, b^escXor)
		default:
			out = append(out, b)
		}
	}
	return append(out, endByte), nil
}

// decoder reassembles frames from the byte stream. Bytes outside a frame are
// discarded; a START always begins a new frame.
type decoder struct {
	inFrame bool
	escaped bool
	buf     []byte
}

// feed consumes one byte and returns a packet when b completes a valid frame.
func (d *decoder) feed(b byte) (*packet, error) {
	switch {
	case b == startByte:
		d.inFrame, d.escaped = true, false
		d.buf = d.buf[:0]
		return nil, nil
	case !d.inFrame:
		return nil, nil
	case b == endByte:
		d.inFrame = false
		return d.finish()
	case b == escByte:
		d.escaped = true
		return nil, nil
	}
	if d.escaped {
		b ^= escXor
		d.escaped = false
	}
	if len(d.buf) >= maxPayload+4 {
		d.inFrame = false
		return nil, fmt.Errorf("frame overflow")
	}
	d.buf = append(d.buf, b)
	return nil, nil
}

func (d *decoder) finish() (*packet, error) {
	if len(d.buf) < 4 {
		return nil, fmt.Errorf("frame of %d bytes too short", len(d.buf))
	}
	n := int(d.buf[0])
	if n != len(d.buf)-4 {
		return nil, fmt.Errorf("length byte %d, got %d payload bytes", n, len(d.buf)-4)
	}
	body := d.buf[:n+2]
	got := uint16(d.buf[n+2])<<8 | uint16(d.buf[n+3])
	if want := crc16(body); got != want {
		return nil, fmt.Errorf("%w: expected 0x%04X, got 0x%04X", errCRC, want, got)
	}
	p := &packet{typ: body[1], payload: make([]byte, n)}
	copy(p.payload, body[2:])
	return p, nil
}
