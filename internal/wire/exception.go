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

package wire

import (
	"encoding/json"
	"fmt"

	"flyengine/internal/errors"
)

// ExceptionFrame is the body of a StatusError reply: a type code, a
// SQL-state-style numeric code, a message, and the stack frames
// github.com/pkg/errors attached at the point the error was raised.
type ExceptionFrame struct {
	TypeCode int32    `json:"type_code"`
	SQLState int32    `json:"sql_state"`
	Message  string   `json:"message"`
	Frames   []string `json:"frames,omitempty"`
}

// EncodeException builds the StatusError reply body for err. Errors
// outside the taxonomy (err is not an *errors.EngineError) still
// serialize, with TypeCode/SQLState left at zero, so an unexpected
// error never breaks framing.
func EncodeException(err error) []byte {
	frame := ExceptionFrame{Message: err.Error()}

	if ee, ok := err.(*errors.EngineError); ok {
		frame.TypeCode = ee.Kind().TypeCode()
		frame.SQLState = ee.SQLState()
		if st := ee.StackTrace(); st != nil {
			for _, f := range st {
				frame.Frames = append(frame.Frames, fmt.Sprintf("%+s:%d", f, f))
			}
		}
	}

	body, err2 := json.Marshal(frame)
	if err2 != nil {
		return []byte(frame.Message)
	}
	return body
}
