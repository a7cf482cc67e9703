// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package vkr

import (
	"bytes"
	"errors"
	"testing"
	"unsafe"
)

func hostBackedBuffer(backing []byte) Buffer {
	return Buffer{
		size: uint(len(backing)),
		memory: Memory{
			mapped:      unsafe.Pointer(&backing[0]),
			hostVisible: true,
			len:         uint(len(backing)),
		},
	}
}

func TestWriteRejectsDeviceLocal(t *testing.T) {
	var buffer Buffer
	if err := buffer.Write(0, []byte{1, 2, 3}); !errors.Is(err, ErrNotHostVisible) {
		t.Errorf("got %v, want ErrNotHostVisible", err)
	}
}

func TestWriteBounds(t *testing.T) {
	backing := make([]byte, 8)
	buffer := hostBackedBuffer(backing)

	if err := buffer.Write(4, []byte{1, 2, 3, 4, 5}); err == nil {
		t.Error("out of bounds write accepted")
	}
	if err := buffer.Write(4, []byte{1, 2, 3, 4}); err != nil {
		t.Errorf("in bounds write rejected: %v", err)
	}
}

func TestWriteCopiesAtOffset(t *testing.T) {
	backing := make([]byte, 16)
	buffer := hostBackedBuffer(backing)

	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := buffer.Write(8, payload); err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(backing[8:12], payload) {
		t.Errorf("backing = %x, payload not written at offset", backing)
	}
	for _, b := range backing[:8] {
		if b != 0 {
			t.Error("write touched bytes before the offset")
			break
		}
	}
}

func TestMapRejectsDeviceLocal(t *testing.T) {
	var memory Memory
	if _, err := memory.Map(); !errors.Is(err, ErrNotHostVisible) {
		t.Errorf("got %v, want ErrNotHostVisible", err)
	}
}

func TestMapReturnsCachedMapping(t *testing.T) {
	backing := make([]byte, 4)
	memory := Memory{
		mapped:      unsafe.Pointer(&backing[0]),
		hostVisible: true,
		len:         4,
	}

	ptr, err := memory.Map()
	if err != nil {
		t.Fatal(err)
	}
	if ptr != unsafe.Pointer(&backing[0]) {
		t.Error("cached mapping not returned")
	}
}
