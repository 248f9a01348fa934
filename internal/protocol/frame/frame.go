package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire layout of the fixed header. All integers are little-endian.
//
//	  0..32   virtual_host
//	 32..64   channel
//	 64..68   version
//	 68..72   routing_mod
//	 72..96   command
//	 96..224  route0..route3 (route3 = queue name)
//	224..228  slice_count
//	228..232  slice_size
//	232..236  count
//	236..238  errcode
//	238..240  ack
//	240..256  reserved
const (
	HeaderLen   = 256
	SliceUnit   = 256
	NameLen     = 32
	CommandLen  = 24
	ReservedLen = 16
	RouteSlots  = 4

	// ErrcodeNoItem is the broker status for a fetch against an empty queue.
	ErrcodeNoItem uint16 = 0xF
)

// Version is the only protocol version this client speaks.
var Version = [4]byte{1, 0, 0, 0}

var (
	ErrShortHeader     = errors.New("frame: short fixed header")
	ErrShortPayload    = errors.New("frame: short payload")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Header is the fixed 256-byte wire header.
type Header struct {
	VirtualHost [NameLen]byte
	Channel     [NameLen]byte
	Version     [4]byte
	RoutingMod  [4]byte
	Command     [CommandLen]byte
	Route       [RouteSlots][NameLen]byte
	SliceCount  uint32
	SliceSize   uint32
	Count       uint32
	Errcode     uint16
	Ack         uint16
	Reserved    [ReservedLen]byte
}

// Frame is one header plus its concatenated payload slices.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains how much payload a reader will allocate for one frame.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 8 * 1024 * 1024,
	}
}

// PayloadLen is slice_count * slice_size as announced by the header.
func (h Header) PayloadLen() uint64 {
	return uint64(h.SliceCount) * uint64(h.SliceSize)
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderLen)
	PutHeader(buf, h)
	return buf
}

// PutHeader writes h into buf, which must hold at least HeaderLen bytes.
func PutHeader(buf []byte, h Header) {
	copy(buf[0:32], h.VirtualHost[:])
	copy(buf[32:64], h.Channel[:])
	copy(buf[64:68], h.Version[:])
	copy(buf[68:72], h.RoutingMod[:])
	copy(buf[72:96], h.Command[:])
	for i := 0; i < RouteSlots; i++ {
		off := 96 + i*NameLen
		copy(buf[off:off+NameLen], h.Route[i][:])
	}
	binary.LittleEndian.PutUint32(buf[224:228], h.SliceCount)
	binary.LittleEndian.PutUint32(buf[228:232], h.SliceSize)
	binary.LittleEndian.PutUint32(buf[232:236], h.Count)
	binary.LittleEndian.PutUint16(buf[236:238], h.Errcode)
	binary.LittleEndian.PutUint16(buf[238:240], h.Ack)
	copy(buf[240:256], h.Reserved[:])
}

// DecodeHeader slices the fixed offsets of b. String fields are kept as raw
// bytes; interpretation happens in the text accessors.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != HeaderLen {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	var h Header
	copy(h.VirtualHost[:], b[0:32])
	copy(h.Channel[:], b[32:64])
	copy(h.Version[:], b[64:68])
	copy(h.RoutingMod[:], b[68:72])
	copy(h.Command[:], b[72:96])
	for i := 0; i < RouteSlots; i++ {
		off := 96 + i*NameLen
		copy(h.Route[i][:], b[off:off+NameLen])
	}
	h.SliceCount = binary.LittleEndian.Uint32(b[224:228])
	h.SliceSize = binary.LittleEndian.Uint32(b[228:232])
	h.Count = binary.LittleEndian.Uint32(b[232:236])
	h.Errcode = binary.LittleEndian.Uint16(b[236:238])
	h.Ack = binary.LittleEndian.Uint16(b[238:240])
	copy(h.Reserved[:], b[240:256])
	return h, nil
}

// ReadHeader reads exactly one header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var fixed [HeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, ErrShortHeader
		}
		return Header{}, err
	}
	return DecodeHeader(fixed[:])
}

// ReadPayload reads the slice_count slices of slice_size bytes that follow h.
// The slices are contiguous on the wire, so they are read in one pass.
func ReadPayload(r io.Reader, h Header, limits Limits) ([]byte, error) {
	total := h.PayloadLen()
	if limits.MaxPayloadBytes > 0 && total > limits.MaxPayloadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, total)
	}
	if total == 0 {
		return []byte{}, nil
	}
	payload := make([]byte, total)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, ErrShortPayload
		}
		return nil, err
	}
	return payload, nil
}

func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Frame{}, err
	}
	payload, err := ReadPayload(r, h, limits)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Header: h, Payload: payload}, nil
}

// Encode returns header bytes followed by the payload. The header's slice
// fields are written as given; use Seal to derive them from the payload.
func (f Frame) Encode() []byte {
	out := make([]byte, HeaderLen+len(f.Payload))
	PutHeader(out, f.Header)
	copy(out[HeaderLen:], f.Payload)
	return out
}

// Seal pads the payload and sets slice_count/slice_size for a single slice.
func (f Frame) Seal() Frame {
	f.Payload = Pad(f.Payload)
	if len(f.Payload) == 0 {
		f.Header.SliceCount = 0
		f.Header.SliceSize = 0
		return f
	}
	f.Header.SliceCount = 1
	f.Header.SliceSize = uint32(len(f.Payload))
	return f
}

func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(f.Encode())
	return err
}
