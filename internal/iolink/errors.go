package iolink

import "errors"

var (
	// ErrReservedLength: PD_IN/PD_OUT Byte kodiert eine reservierte Länge
	ErrReservedLength = errors.New("reserved process data length")
	// ErrLengthOutOfRange: Längencode außerhalb der Tabelle B.6
	ErrLengthOutOfRange = errors.New("process data length out of range")
	// ErrNoMatchingMSequence: keine Zeile der Tabelle A.10 passt
	ErrNoMatchingMSequence = errors.New("no matching M-Sequence type")
)
