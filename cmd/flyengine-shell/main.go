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
Package main is the entry point for flyengine-shell, an interactive
debug client that speaks the engine's binary command surface directly.

Unlike flydb-shell, this client has no SQL layer to front for: the
engine only understands catalog loads, plan-fragment batches, undo
tokens, and the other opcodes internal/wire defines. Each shell command
below builds one such request, JSON-encodes the payload the user
supplies, and prints the status and reply body it gets back.

Commands:

	\load-catalog <file.json>   send the contents of file as a CmdLoadCatalog payload
	\exec <file.json>           send the contents of file as a CmdExecuteQueryPlanFragments payload
	\stats                      CmdGetStats
	\tick <time>                CmdTick
	\quiesce                    CmdQuiesce
	\undo release <token>       CmdReleaseUndoToken
	\undo rewind <token>        CmdUndoUndoToken
	\raw <code> <json>          send an arbitrary opcode with a raw JSON payload
	\q, \quit                   exit

The readline configuration (history file, tab completion, interrupt and
EOF prompts) follows flydb-shell's createReadlineInstance shape.
*/
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"flyengine/internal/wire"
)

var (
	flagAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "flyengine-shell",
		Short: "Interactive debug client for the flyengine command surface",
		RunE:  run,
	}
	root.Flags().StringVar(&flagAddr, "addr", "127.0.0.1:21212", "engine command-surface address")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	conn, err := net.Dial("tcp", flagAddr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", flagAddr, err)
	}
	defer conn.Close()

	rl, err := createReadlineInstance()
	if err != nil {
		return fmt.Errorf("starting readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("connected to %s\n", flagAddr)

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "\\q" || line == "\\quit" {
			return nil
		}

		if err := dispatchLine(conn, line); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func dispatchLine(conn net.Conn, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "\\load-catalog":
		return sendFile(conn, wire.CmdLoadCatalog, fields)
	case "\\exec":
		return sendFile(conn, wire.CmdExecuteQueryPlanFragments, fields)
	case "\\stats":
		return send(conn, wire.CmdGetStats, nil)
	case "\\tick":
		if len(fields) < 2 {
			return fmt.Errorf("usage: \\tick <time>")
		}
		t, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return err
		}
		return send(conn, wire.CmdTick, mustMarshal(map[string]int64{"time": t}))
	case "\\quiesce":
		return send(conn, wire.CmdQuiesce, nil)
	case "\\undo":
		return dispatchUndo(conn, fields)
	case "\\raw":
		return dispatchRaw(conn, fields)
	default:
		return fmt.Errorf("unknown command %q (try \\q, \\stats, \\load-catalog, \\exec, \\undo, \\raw)", fields[0])
	}
}

func dispatchUndo(conn net.Conn, fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("usage: \\undo release|rewind <token>")
	}
	token, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return err
	}
	payload := mustMarshal(map[string]int64{"token": token})
	switch fields[1] {
	case "release":
		return send(conn, wire.CmdReleaseUndoToken, payload)
	case "rewind":
		return send(conn, wire.CmdUndoUndoToken, payload)
	default:
		return fmt.Errorf("usage: \\undo release|rewind <token>")
	}
}

func dispatchRaw(conn net.Conn, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("usage: \\raw <code> [json]")
	}
	code, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return err
	}
	var payload []byte
	if len(fields) > 2 {
		payload = []byte(strings.Join(fields[2:], " "))
	}
	return send(conn, wire.CommandCode(code), payload)
}

func sendFile(conn net.Conn, code wire.CommandCode, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("usage: %s <file.json>", fields[0])
	}
	payload, err := os.ReadFile(fields[1])
	if err != nil {
		return err
	}
	return send(conn, code, payload)
}

func send(conn net.Conn, code wire.CommandCode, payload []byte) error {
	if err := wire.WriteRequest(conn, code, payload); err != nil {
		return err
	}
	status, body, err := readReply(conn)
	if err != nil {
		return err
	}
	fmt.Printf("status=%d\n%s\n", status, prettyBody(body))
	return nil
}

// readReply reads the [i8 status][body...] reply this engine's Serve
// loop writes after every dispatched request. WriteReply sends the
// status byte and body in a single Write, and this shell never pipelines
// a second request ahead of the first reply, so one Read call after the
// status byte is enough to collect the whole body.
func readReply(conn net.Conn) (wire.Status, []byte, error) {
	var statusBuf [1]byte
	if _, err := io.ReadFull(conn, statusBuf[:]); err != nil {
		return 0, nil, err
	}

	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		return 0, nil, err
	}
	return wire.Status(statusBuf[0]), buf[:n], nil
}

func prettyBody(body []byte) string {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(body)
	}
	return string(pretty)
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

var shellCompletions = []string{
	"\\load-catalog", "\\exec", "\\stats", "\\tick", "\\quiesce",
	"\\undo release", "\\undo rewind", "\\raw", "\\q", "\\quit",
}

func createCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(shellCompletions))
	for _, c := range shellCompletions {
		items = append(items, readline.PcItem(c))
	}
	return readline.NewPrefixCompleter(items...)
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".flyengine_shell_history")
}

func createReadlineInstance() (*readline.Instance, error) {
	return readline.NewEx(&readline.Config{
		Prompt:              "flyengine> ",
		HistoryFile:         historyFilePath(),
		AutoComplete:        createCompleter(),
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
}

func filterInput(r rune) (rune, bool) {
	if r == readline.CharCtrlZ {
		return r, false
	}
	return r, true
}
