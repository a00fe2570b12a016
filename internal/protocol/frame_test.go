// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, msg Message, source uint32) Message {
	t.Helper()
	encoded := Encode(msg, source)
	decoded, src, err := Decode(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Equal(t, source, src)
	require.Equal(t, encoded, Encode(decoded, src))
	return decoded
}

func TestRoundTrip_Registration(t *testing.T) {
	msg := Registration{Hostname: "node-01", Memory: 65536, Threads: 32, Cores: 16, Sockets: 2}
	got := roundTrip(t, msg, 7)
	require.Equal(t, msg, got)
}

func TestRoundTrip_HostRank(t *testing.T) {
	msg := HostRank{Rank: 3}
	got := roundTrip(t, msg, 1)
	require.Equal(t, msg, got)
}

func TestRoundTrip_Command(t *testing.T) {
	msg := Command{
		Name:         "task1",
		Args:         []string{"/bin/echo", "hello world"},
		ID:           "ID001",
		Memory:       1024,
		CPUs:         2,
		Bindings:     []uint16{0, 1},
		PipeForwards: map[string]string{"stdout": "/tmp/out"},
		FileForwards: map[string]string{"result.txt": "/tmp/result.txt"},
	}
	got := roundTrip(t, msg, 42)
	require.Equal(t, msg, got)
}

func TestRoundTrip_Command_EmptyForwards(t *testing.T) {
	msg := Command{Name: "t", Args: nil, ID: "x", Memory: 0, CPUs: 1}
	got := roundTrip(t, msg, 0)
	require.Equal(t, msg.Name, got.(Command).Name)
	require.Empty(t, got.(Command).Args)
}

func TestRoundTrip_Result(t *testing.T) {
	msg := Result{Name: "task1", Exit: -1, Runtime: 3.14159}
	got := roundTrip(t, msg, 5)
	require.Equal(t, msg, got)
}

func TestRoundTrip_IOData(t *testing.T) {
	msg := IOData{Task: "task1", Filename: "stdout.log", Data: []byte("hello\nworld\n")}
	got := roundTrip(t, msg, 2)
	require.Equal(t, msg, got)
}

func TestRoundTrip_Shutdown(t *testing.T) {
	got := roundTrip(t, Shutdown{}, 0)
	require.Equal(t, Shutdown{}, got)
}

func TestDecode_ShortReadIsProtocolViolation(t *testing.T) {
	encoded := Encode(Result{Name: "t", Exit: 0, Runtime: 1}, 1)
	truncated := encoded[:len(encoded)-2]
	_, _, err := Decode(bytes.NewReader(truncated))
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestDecode_UnknownTagIsProtocolViolation(t *testing.T) {
	encoded := Encode(Shutdown{}, 0)
	encoded[0] = 0xFF
	_, _, err := Decode(bytes.NewReader(encoded))
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestDecode_OversizedListLengthIsProtocolViolation(t *testing.T) {
	encoded := Encode(Command{Name: "t", Args: []string{"a"}, ID: "x", CPUs: 1}, 0)

	// Args is the first string list in Command's payload; locate it right
	// after Name's length-prefixed bytes and inflate its declared count
	// far beyond what the remaining payload could possibly hold.
	nameLen := len("t")
	argsCountOffset := 9 + 4 + nameLen // frame header + Name's u32 length + Name bytes
	binary.LittleEndian.PutUint32(encoded[argsCountOffset:], 0xFFFFFFFF)

	_, _, err := Decode(bytes.NewReader(encoded))
	require.ErrorIs(t, err, ErrProtocolViolation)
}

func TestDecode_TrailingBytesIsProtocolViolation(t *testing.T) {
	encoded := Encode(HostRank{Rank: 1}, 0)
	encoded = append(encoded, 0x00)
	// bump the declared payload length to make the frame self-consistent
	// but leave an extra byte inside the payload itself
	encoded[5] = encoded[5] + 1
	_, _, err := Decode(bytes.NewReader(encoded))
	require.ErrorIs(t, err, ErrProtocolViolation)
}
