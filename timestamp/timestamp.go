// Copyright 2023 Kami
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

// Package timestamp provides an opaque, monotonic-ish point value used to
// stamp event-loop poll returns and message arrivals.
package timestamp

import (
	"fmt"
	"time"
)

// Timestamp is microseconds since the Unix epoch.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMicro())
}

// Time converts the Timestamp back to a time.Time for callers that need it.
func (t Timestamp) Time() time.Time {
	return time.UnixMicro(int64(t))
}

// String formats the timestamp as "YYYY/MM/DD HH:MM:SS" in local time.
func (t Timestamp) String() string {
	return t.Time().Format("2006/01/02 15:04:05")
}

// Valid reports whether the timestamp carries a non-zero value.
func (t Timestamp) Valid() bool {
	return t != 0
}

// Sub returns t - u as a time.Duration.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(int64(t)-int64(u)) * time.Microsecond
}

// GoString supports %#v for debugging.
func (t Timestamp) GoString() string {
	return fmt.Sprintf("timestamp.Timestamp(%d /* %s */)", int64(t), t.String())
}
