package frame

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrNotText     = errors.New("frame: field is not valid text")
	ErrTextTooLong = errors.New("frame: text exceeds field width")
	ErrNotASCII    = errors.New("frame: text is not ascii")
)

// PutText copies s into dst and zero-fills the rest.
func PutText(dst []byte, s string) error {
	if len(s) > len(dst) {
		return fmt.Errorf("%w: %q (%d > %d)", ErrTextTooLong, s, len(s), len(dst))
	}
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return fmt.Errorf("%w: %q", ErrNotASCII, s)
		}
	}
	n := copy(dst, s)
	clear(dst[n:])
	return nil
}

// Text interprets a zero-padded field.
func Text(field []byte) (string, error) {
	trimmed := bytes.TrimRight(field, "\x00")
	if !utf8.Valid(trimmed) {
		return "", ErrNotText
	}
	return string(trimmed), nil
}

func (h Header) VirtualHostName() (string, error) { return Text(h.VirtualHost[:]) }

func (h Header) ChannelName() (string, error) { return Text(h.Channel[:]) }

func (h Header) QueueName() (string, error) { return Text(h.Route[RouteSlots-1][:]) }

func (h Header) CommandToken() (string, error) { return Text(h.Command[:]) }

// RouteSlot returns the raw text of routing slot i (0..2).
func (h Header) RouteSlot(i int) (string, error) {
	if i < 0 || i >= RouteSlots-1 {
		return "", fmt.Errorf("frame: route slot %d out of range", i)
	}
	return Text(h.Route[i][:])
}

// NoItem reports whether the broker answered with the empty-queue sentinel.
func (h Header) NoItem() bool {
	return h.Errcode == ErrcodeNoItem
}

// PaddedLen is the smallest multiple of SliceUnit that holds n bytes.
func PaddedLen(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + SliceUnit - 1) / SliceUnit * SliceUnit
}

// Pad returns p zero-extended to PaddedLen(len(p)). p is returned as-is when
// it is already aligned.
func Pad(p []byte) []byte {
	want := PaddedLen(len(p))
	if want == len(p) {
		return p
	}
	out := make([]byte, want)
	copy(out, p)
	return out
}

// TrimPayload strips trailing zero padding.
func TrimPayload(p []byte) []byte {
	return bytes.TrimRight(p, "\x00")
}
