// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Frame transport: the codec operates on abstract frame slices; this
// file carries them over a byte stream as
// [u32 frame count][u32 len, bytes]... in big-endian.

// maxFrameSize bounds a single frame read to keep a malformed peer from
// forcing huge allocations.
const maxFrameSize = 16 << 20

// maxFrameCount bounds frames per message.
const maxFrameCount = 1024

// WriteFrames writes one framed message to w.
func WriteFrames(w io.Writer, frames [][]byte) error {
	if len(frames) > maxFrameCount {
		return fmt.Errorf("too many frames: %d", len(frames))
	}
	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(frames)))
	if _, err := w.Write(count[:]); err != nil {
		return err
	}
	var size [4]byte
	for _, frame := range frames {
		binary.BigEndian.PutUint32(size[:], uint32(len(frame)))
		if _, err := w.Write(size[:]); err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrames reads one framed message from r.
func ReadFrames(r io.Reader) ([][]byte, error) {
	var count [4]byte
	if _, err := io.ReadFull(r, count[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(count[:])
	if n > maxFrameCount {
		return nil, fmt.Errorf("frame count %d exceeds limit", n)
	}

	frames := make([][]byte, 0, n)
	var size [4]byte
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, size[:]); err != nil {
			return nil, err
		}
		length := binary.BigEndian.Uint32(size[:])
		if length > maxFrameSize {
			return nil, fmt.Errorf("frame size %d exceeds limit", length)
		}
		frame := make([]byte, length)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
	return frames, nil
}
