// Package ogw implements the order gateway execution protocol: the exchange
// sends a fixed 25 byte notification, the client answers with a fixed 17
// byte acknowledgment. Integers are big-endian.
package ogw

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	NotificationSize = 25
	AckSize          = 17

	StatusExecuted     byte = 'E'
	StatusAcknowledged byte = 'A'
)

var (
	ErrShortMessage = errors.New("short order gateway message")
	ErrBadStatus    = errors.New("unexpected order gateway status")
	ErrAckMismatch  = errors.New("acknowledgment for a different order")
)

type Notification struct {
	OrderID    uint64
	TsPlaced   uint64
	TsExecuted uint64
	Status     byte
}

type Ack struct {
	OrderID uint64
	TsAck   uint64
	Status  byte
}

func (n Notification) MarshalBinary() ([]byte, error) {
	buf := make([]byte, NotificationSize)
	binary.BigEndian.PutUint64(buf[0:8], n.OrderID)
	binary.BigEndian.PutUint64(buf[8:16], n.TsPlaced)
	binary.BigEndian.PutUint64(buf[16:24], n.TsExecuted)
	buf[24] = n.Status
	return buf, nil
}

func (n *Notification) UnmarshalBinary(buf []byte) error {
	if len(buf) != NotificationSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrShortMessage, len(buf), NotificationSize)
	}
	n.OrderID = binary.BigEndian.Uint64(buf[0:8])
	n.TsPlaced = binary.BigEndian.Uint64(buf[8:16])
	n.TsExecuted = binary.BigEndian.Uint64(buf[16:24])
	n.Status = buf[24]
	if n.Status != StatusExecuted {
		return fmt.Errorf("%w: %q", ErrBadStatus, n.Status)
	}
	return nil
}

func (a Ack) MarshalBinary() ([]byte, error) {
	buf := make([]byte, AckSize)
	binary.BigEndian.PutUint64(buf[0:8], a.OrderID)
	binary.BigEndian.PutUint64(buf[8:16], a.TsAck)
	buf[16] = a.Status
	return buf, nil
}

func (a *Ack) UnmarshalBinary(buf []byte) error {
	if len(buf) != AckSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrShortMessage, len(buf), AckSize)
	}
	a.OrderID = binary.BigEndian.Uint64(buf[0:8])
	a.TsAck = binary.BigEndian.Uint64(buf[8:16])
	a.Status = buf[16]
	if a.Status != StatusAcknowledged {
		return fmt.Errorf("%w: %q", ErrBadStatus, a.Status)
	}
	return nil
}

// ReadNotification reads exactly one notification from r.
func ReadNotification(r io.Reader) (Notification, error) {
	var buf [NotificationSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Notification{}, wrapRead(err)
	}
	var n Notification
	err := n.UnmarshalBinary(buf[:])
	return n, err
}

// ReadAck reads exactly one acknowledgment from r.
func ReadAck(r io.Reader) (Ack, error) {
	var buf [AckSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Ack{}, wrapRead(err)
	}
	var a Ack
	err := a.UnmarshalBinary(buf[:])
	return a, err
}

func WriteNotification(w io.Writer, n Notification) error {
	buf, _ := n.MarshalBinary()
	_, err := w.Write(buf)
	return err
}

func WriteAck(w io.Writer, a Ack) error {
	buf, _ := a.MarshalBinary()
	_, err := w.Write(buf)
	return err
}

// Validate checks that a answers n.
func (a Ack) Validate(n Notification) error {
	if a.Status != StatusAcknowledged {
		return fmt.Errorf("%w: %q", ErrBadStatus, a.Status)
	}
	if a.OrderID != n.OrderID {
		return fmt.Errorf("%w: got %d, want %d", ErrAckMismatch, a.OrderID, n.OrderID)
	}
	return nil
}

// io.EOF before the first byte stays io.EOF so callers can tell a clean close.
func wrapRead(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrShortMessage, err)
	}
	return err
}
