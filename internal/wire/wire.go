/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package wire implements the command surface: the framed request/response
loop a coordinator drives an engine through.

Request framing is [u32 msg_size][u32 command_code][payload], where
msg_size counts every byte that follows it (command_code plus payload).
This is the same "length-prefixed, read exactly N more bytes" shape
flydb/internal/protocol uses for its own header, narrowed from FlyDB's
8-byte magic/version/type/flags/length header down to the two fields
this command surface needs. Reply framing is [i8 status] followed by a
status-dependent body.

The accept-loop and per-connection read/dispatch/write shape follows
flydb/internal/server.Server, stripped of auth, TLS, and pub-sub, and
restricted to driving exactly one engine per connection, matching the
single-threaded-per-partition model.
*/
package wire

import (
	"encoding/binary"
	"io"

	"flyengine/internal/errors"
)

// CommandCode identifies one opcode of the command surface's opcode table.
type CommandCode uint32

const (
	CmdInitialize                 CommandCode = 0
	CmdTerminate                  CommandCode = 1 // not in the host-facing table; ends the command loop
	CmdLoadCatalog                CommandCode = 2
	CmdToggleProfiler             CommandCode = 3
	CmdTick                       CommandCode = 4
	CmdGetStats                   CommandCode = 5
	CmdExecuteQueryPlanFragments  CommandCode = 6
	CmdExecutePlanFragment        CommandCode = 7
	CmdLoadTable                  CommandCode = 9
	CmdReleaseUndoToken           CommandCode = 10
	CmdUndoUndoToken              CommandCode = 11
	CmdExecuteCustomPlanFragment  CommandCode = 12
	CmdSetLogLevels               CommandCode = 13
	CmdQuiesce                    CommandCode = 16
	CmdActivateCopyOnWrite        CommandCode = 17
	CmdCowSerializeMore           CommandCode = 18
	CmdUpdateCatalog              CommandCode = 19
)

// Status is the first byte of every reply, and also the tag the engine
// uses to open an out-of-band host callback mid-command.
type Status byte

const (
	StatusNone                    Status = 0
	StatusError                   Status = 1
	StatusSuccess                 Status = 2
	StatusDependencyNotFound      Status = 3
	StatusDependencyFound         Status = 4
	StatusRetrieveDependency      Status = 5
	StatusHandoffReadyExportBuffer Status = 6
)

// MaxMessageSize bounds a single request's payload, guarding against a
// corrupt msg_size field forcing an unbounded allocation.
const MaxMessageSize = 64 * 1024 * 1024

// ReadRequest reads one framed request: msg_size, then command_code,
// then msg_size-4 bytes of payload. io.ReadFull accumulates partial
// reads so a short TCP read never truncates a frame.
func ReadRequest(r io.Reader) (CommandCode, []byte, error) {
	var sizeBuf [4]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return 0, nil, err
	}
	msgSize := binary.BigEndian.Uint32(sizeBuf[:])
	if msgSize < 4 {
		return 0, nil, errors.Serialization("wire: msg_size %d too small to hold a command code", msgSize)
	}
	if msgSize > MaxMessageSize {
		return 0, nil, errors.Serialization("wire: msg_size %d exceeds maximum message size", msgSize)
	}

	rest := make([]byte, msgSize)
	if _, err := io.ReadFull(r, rest); err != nil {
		return 0, nil, err
	}

	code := CommandCode(binary.BigEndian.Uint32(rest[:4]))
	return code, rest[4:], nil
}

// WriteRequest frames and writes a request, for use by the debug shell
// and by tests that drive the loop end to end over a pipe.
func WriteRequest(w io.Writer, code CommandCode, payload []byte) error {
	msgSize := uint32(4 + len(payload))
	buf := make([]byte, 4+msgSize)
	binary.BigEndian.PutUint32(buf[0:4], msgSize)
	binary.BigEndian.PutUint32(buf[4:8], uint32(code))
	copy(buf[8:], payload)
	_, err := w.Write(buf)
	return err
}

// WriteReply writes a status byte followed by body as one buffer;
// writeFull keeps calling Write on the remainder after a short write
// until the whole buffer is written or Write returns an error.
func WriteReply(w io.Writer, status Status, body []byte) error {
	buf := make([]byte, 1+len(body))
	buf[0] = byte(status)
	copy(buf[1:], body)
	_, err := writeFull(w, buf)
	return err
}

func writeFull(w io.Writer, buf []byte) (int, error) {
	written := 0
	for written < len(buf) {
		n, err := w.Write(buf[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Handler dispatches one command to the engine and returns the reply
// status and body.
type Handler interface {
	Dispatch(code CommandCode, payload []byte) (Status, []byte)
}

// Serve runs the command loop over rw until it reads CmdTerminate, hits
// EOF, or a framing error occurs. EOF is not reported as an error.
func Serve(rw io.ReadWriter, h Handler) error {
	for {
		code, payload, err := ReadRequest(rw)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if code == CmdTerminate {
			return nil
		}

		status, body := h.Dispatch(code, payload)
		if err := WriteReply(rw, status, body); err != nil {
			return err
		}
	}
}
