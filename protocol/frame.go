// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame encoding/decoding and masking logic (RFC 6455 §5).
//
// The relay negotiates no extensions, so RSV bits must be zero. Control
// frames are limited to 125 bytes and may not be fragmented.

package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/momentics/hioload-relay/api"
)

// Frame header bits and opcodes.
const (
	FinBit  = 0x80
	RsvBits = 0x70
	MaskBit = 0x80

	OpcodeContinuation byte = 0x0
	OpcodeText         byte = 0x1
	OpcodeBinary       byte = 0x2
	OpcodeClose        byte = 0x8
	OpcodePing         byte = 0x9
	OpcodePong         byte = 0xA

	MaxControlPayload = 125
)

// ErrProtocolViolation marks frames that break RFC 6455 framing rules.
var ErrProtocolViolation = errors.New("websocket protocol violation")

// ErrInvalidUTF8 marks a text message whose payload is not valid UTF-8.
var ErrInvalidUTF8 = errors.New("websocket text message is not valid UTF-8")

// WSFrame represents a decoded WebSocket frame.
type WSFrame struct {
	IsFinal    bool  // FIN bit
	Opcode     byte  // Operation code
	Masked     bool  // Whether the frame was masked
	PayloadLen int64 // Actual payload length
	MaskKey    [4]byte
	Payload    []byte // Unmasked payload
}

// IsControl reports whether the frame is a close, ping or pong frame.
func (f *WSFrame) IsControl() bool {
	return f.Opcode&0x08 != 0
}

// DecodeFrame parses one frame from r. Payloads longer than maxPayload fail
// with api.ErrMessageTooLarge before any payload byte is read; maxPayload <= 0
// disables the check.
func DecodeFrame(r io.Reader, maxPayload int64) (*WSFrame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	if hdr[0]&RsvBits != 0 {
		return nil, fmt.Errorf("%w: reserved bits set", ErrProtocolViolation)
	}
	isFin := hdr[0]&FinBit != 0
	opcode := hdr[0] & 0x0F
	isMasked := hdr[1]&MaskBit != 0
	payloadLen := int64(hdr[1] & 0x7F)

	switch opcode {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
	default:
		return nil, fmt.Errorf("%w: unknown opcode %#x", ErrProtocolViolation, opcode)
	}

	switch payloadLen {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		payloadLen = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return nil, err
		}
		n := binary.BigEndian.Uint64(ext[:])
		if n>>63 != 0 {
			return nil, fmt.Errorf("%w: payload length overflow", ErrProtocolViolation)
		}
		payloadLen = int64(n)
	}

	if opcode&0x08 != 0 {
		if !isFin {
			return nil, fmt.Errorf("%w: fragmented control frame", ErrProtocolViolation)
		}
		if payloadLen > MaxControlPayload {
			return nil, fmt.Errorf("%w: control frame too long", ErrProtocolViolation)
		}
	}
	if maxPayload > 0 && payloadLen > maxPayload {
		return nil, api.ErrMessageTooLarge
	}

	var maskKey [4]byte
	if isMasked {
		if _, err := io.ReadFull(r, maskKey[:]); err != nil {
			return nil, err
		}
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	if isMasked {
		maskInPlace(payload, maskKey)
	}

	return &WSFrame{
		IsFinal:    isFin,
		Opcode:     opcode,
		Masked:     isMasked,
		PayloadLen: payloadLen,
		MaskKey:    maskKey,
		Payload:    payload,
	}, nil
}

// AppendFrame serializes f onto dst and returns the extended slice. When
// f.Masked is set the payload is masked with f.MaskKey; f.Payload itself is
// left untouched.
func AppendFrame(dst []byte, f *WSFrame) []byte {
	b0 := f.Opcode & 0x0F
	if f.IsFinal {
		b0 |= FinBit
	}
	var maskBit byte
	if f.Masked {
		maskBit = MaskBit
	}

	plen := len(f.Payload)
	switch {
	case plen <= 125:
		dst = append(dst, b0, byte(plen)|maskBit)
	case plen <= 0xFFFF:
		dst = append(dst, b0, 126|maskBit)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, b0, 127|maskBit)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}

	if !f.Masked {
		return append(dst, f.Payload...)
	}
	dst = append(dst, f.MaskKey[:]...)
	start := len(dst)
	dst = append(dst, f.Payload...)
	maskInPlace(dst[start:], f.MaskKey)
	return dst
}

// maskInPlace applies XOR on payload using key. Masking and unmasking are the
// same operation.
func maskInPlace(buf []byte, key [4]byte) {
	for i := range buf {
		buf[i] ^= key[i%4]
	}
}
