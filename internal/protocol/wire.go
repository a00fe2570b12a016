// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// writeString writes a length-prefixed (u32 LE) string without a
// trailing nul.
func writeString(buf *bytes.Buffer, s string) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", fmt.Errorf("%w: reading string length: %v", ErrProtocolViolation, err)
	}
	if uint64(n) > uint64(r.Len()) {
		return "", fmt.Errorf("%w: string length %d exceeds remaining payload", ErrProtocolViolation, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("%w: short read on string body: %v", ErrProtocolViolation, err)
	}
	return string(b), nil
}

func writeStringList(buf *bytes.Buffer, items []string) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(items)))
	for _, s := range items {
		writeString(buf, s)
	}
}

func readStringList(r *bytes.Reader) ([]string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: reading list length: %v", ErrProtocolViolation, err)
	}
	// Every element costs at least 4 bytes (its own length prefix), so a
	// count claiming more elements than remaining bytes could possibly
	// hold is malformed; reject it before sizing an allocation off it.
	if uint64(n) > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: list length %d exceeds remaining payload", ErrProtocolViolation, n)
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := readString(r)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func writeU16List(buf *bytes.Buffer, items []uint16) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(items)))
	for _, v := range items {
		_ = binary.Write(buf, binary.LittleEndian, v)
	}
}

func readU16List(r *bytes.Reader) ([]uint16, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: reading binding list length: %v", ErrProtocolViolation, err)
	}
	if uint64(n)*2 > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: binding list length %d exceeds remaining payload", ErrProtocolViolation, n)
	}
	out := make([]uint16, 0, n)
	for i := uint32(0); i < n; i++ {
		var v uint16
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return nil, fmt.Errorf("%w: short read on binding entry: %v", ErrProtocolViolation, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// writeStringMap writes count followed by key/value string pairs, in
// the order of keys. Callers pass sortedKeys(m) so repeated encodes of
// the same map are byte-identical; the wire format itself does not
// mandate an order.
func writeStringMap(buf *bytes.Buffer, m map[string]string, keys []string) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(len(keys)))
	for _, k := range keys {
		writeString(buf, k)
		writeString(buf, m[k])
	}
}

func readStringMap(r *bytes.Reader) (map[string]string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("%w: reading map count: %v", ErrProtocolViolation, err)
	}
	// Every entry costs at least two length prefixes (key + value), so
	// bound the map's initial capacity the same way the list readers do.
	if uint64(n) > uint64(r.Len()) {
		return nil, fmt.Errorf("%w: map count %d exceeds remaining payload", ErrProtocolViolation, n)
	}
	m := make(map[string]string, n)
	for i := uint32(0); i < n; i++ {
		k, err := readString(r)
		if err != nil {
			return nil, err
		}
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// sortedKeys returns m's keys in a deterministic order so repeated
// encodes of the same map are byte-identical.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
