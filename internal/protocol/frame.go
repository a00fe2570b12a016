// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Encode renders msg as a length-delimited frame: {tag(u8), source(u32),
// payload-length(u32), payload-bytes}.
func Encode(msg Message, source uint32) []byte {
	payload := msg.encodePayload()

	var buf bytes.Buffer
	buf.WriteByte(byte(msg.Tag()))
	_ = binary.Write(&buf, binary.LittleEndian, source)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes()
}

// WriteTo writes msg's frame to w.
func WriteTo(w io.Writer, msg Message, source uint32) error {
	_, err := w.Write(Encode(msg, source))
	return err
}

// maxFrameLength bounds a single frame's payload: comfortably above any
// IOData chunk this coordinator actually forwards, but small enough
// that a corrupt or adversarial length field can't force a multi-GiB
// allocation before a single payload byte is read.
const maxFrameLength = 64 << 20 // 64 MiB

// Decode parses a single frame from r, returning the message and its
// source. Any short read, inconsistent length, or unknown tag is a
// fatal protocol violation (ErrProtocolViolation).
func Decode(r io.Reader) (Message, uint32, error) {
	var header [9]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, 0, fmt.Errorf("%w: short read on frame header: %v", ErrProtocolViolation, err)
	}
	tag := Tag(header[0])
	source := binary.LittleEndian.Uint32(header[1:5])
	length := binary.LittleEndian.Uint32(header[5:9])
	if length > maxFrameLength {
		return nil, 0, fmt.Errorf("%w: frame length %d exceeds maximum of %d bytes", ErrProtocolViolation, length, maxFrameLength)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, fmt.Errorf("%w: short read on payload (wanted %d bytes): %v", ErrProtocolViolation, length, err)
	}

	reader := bytes.NewReader(payload)
	msg, err := decodeBody(tag, reader)
	if err != nil {
		return nil, 0, err
	}
	if reader.Len() != 0 {
		return nil, 0, fmt.Errorf("%w: %d trailing bytes after %s payload", ErrProtocolViolation, reader.Len(), tag)
	}
	return msg, source, nil
}

func decodeBody(tag Tag, r *bytes.Reader) (Message, error) {
	switch tag {
	case TagRegistration:
		return decodeRegistration(r)
	case TagHostRank:
		return decodeHostRank(r)
	case TagCommand:
		return decodeCommand(r)
	case TagResult:
		return decodeResult(r)
	case TagIOData:
		return decodeIOData(r)
	case TagShutdown:
		return Shutdown{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message tag %d", ErrProtocolViolation, tag)
	}
}
