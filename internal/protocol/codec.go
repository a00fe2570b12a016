// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

func (m Registration) encodePayload() []byte {
	var buf bytes.Buffer
	writeString(&buf, m.Hostname)
	_ = binary.Write(&buf, binary.LittleEndian, m.Memory)
	_ = binary.Write(&buf, binary.LittleEndian, m.Threads)
	_ = binary.Write(&buf, binary.LittleEndian, m.Cores)
	_ = binary.Write(&buf, binary.LittleEndian, m.Sockets)
	return buf.Bytes()
}

func decodeRegistration(r *bytes.Reader) (Registration, error) {
	var m Registration
	var err error
	if m.Hostname, err = readString(r); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Memory); err != nil {
		return m, fmt.Errorf("%w: registration memory: %v", ErrProtocolViolation, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Threads); err != nil {
		return m, fmt.Errorf("%w: registration threads: %v", ErrProtocolViolation, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Cores); err != nil {
		return m, fmt.Errorf("%w: registration cores: %v", ErrProtocolViolation, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Sockets); err != nil {
		return m, fmt.Errorf("%w: registration sockets: %v", ErrProtocolViolation, err)
	}
	return m, nil
}

func (m HostRank) encodePayload() []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, m.Rank)
	return buf.Bytes()
}

func decodeHostRank(r *bytes.Reader) (HostRank, error) {
	var m HostRank
	if err := binary.Read(r, binary.LittleEndian, &m.Rank); err != nil {
		return m, fmt.Errorf("%w: hostrank: %v", ErrProtocolViolation, err)
	}
	return m, nil
}

func (m Command) encodePayload() []byte {
	var buf bytes.Buffer
	writeString(&buf, m.Name)
	writeStringList(&buf, m.Args)
	writeString(&buf, m.ID)
	_ = binary.Write(&buf, binary.LittleEndian, m.Memory)
	_ = binary.Write(&buf, binary.LittleEndian, m.CPUs)
	writeU16List(&buf, m.Bindings)
	writeStringMap(&buf, m.PipeForwards, sortedKeys(m.PipeForwards))
	writeStringMap(&buf, m.FileForwards, sortedKeys(m.FileForwards))
	return buf.Bytes()
}

func decodeCommand(r *bytes.Reader) (Command, error) {
	var m Command
	var err error
	if m.Name, err = readString(r); err != nil {
		return m, err
	}
	if m.Args, err = readStringList(r); err != nil {
		return m, err
	}
	if m.ID, err = readString(r); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Memory); err != nil {
		return m, fmt.Errorf("%w: command memory: %v", ErrProtocolViolation, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.CPUs); err != nil {
		return m, fmt.Errorf("%w: command cpus: %v", ErrProtocolViolation, err)
	}
	bindings, err := readU16List(r)
	if err != nil {
		return m, err
	}
	m.Bindings = bindings
	if m.PipeForwards, err = readStringMap(r); err != nil {
		return m, err
	}
	if m.FileForwards, err = readStringMap(r); err != nil {
		return m, err
	}
	return m, nil
}

func (m Result) encodePayload() []byte {
	var buf bytes.Buffer
	writeString(&buf, m.Name)
	_ = binary.Write(&buf, binary.LittleEndian, m.Exit)
	_ = binary.Write(&buf, binary.LittleEndian, m.Runtime)
	return buf.Bytes()
}

func decodeResult(r *bytes.Reader) (Result, error) {
	var m Result
	var err error
	if m.Name, err = readString(r); err != nil {
		return m, err
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Exit); err != nil {
		return m, fmt.Errorf("%w: result exit code: %v", ErrProtocolViolation, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.Runtime); err != nil {
		return m, fmt.Errorf("%w: result runtime: %v", ErrProtocolViolation, err)
	}
	return m, nil
}

func (m IOData) encodePayload() []byte {
	var buf bytes.Buffer
	writeString(&buf, m.Task)
	writeString(&buf, m.Filename)
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(m.Data)))
	buf.Write(m.Data)
	return buf.Bytes()
}

func decodeIOData(r *bytes.Reader) (IOData, error) {
	var m IOData
	var err error
	if m.Task, err = readString(r); err != nil {
		return m, err
	}
	if m.Filename, err = readString(r); err != nil {
		return m, err
	}
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return m, fmt.Errorf("%w: iodata size: %v", ErrProtocolViolation, err)
	}
	if uint64(size) > uint64(r.Len()) {
		return m, fmt.Errorf("%w: iodata size %d exceeds remaining payload", ErrProtocolViolation, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return m, fmt.Errorf("%w: short read on iodata body: %v", ErrProtocolViolation, err)
	}
	m.Data = data
	return m, nil
}

func (Shutdown) encodePayload() []byte { return nil }
