// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package txn

import "strings"

// IsolationLevel is a transaction isolation level. The zero value leaves
// the server default in place.
type IsolationLevel struct{ clause string }

// Isolation levels.
var (
	Serializable    = IsolationLevel{"SERIALIZABLE"}
	RepeatableRead  = IsolationLevel{"REPEATABLE READ"}
	ReadCommitted   = IsolationLevel{"READ COMMITTED"}
	ReadUncommitted = IsolationLevel{"READ UNCOMMITTED"}
)

// IsSet reports whether a level was chosen.
func (l IsolationLevel) IsSet() bool { return l.clause != "" }

func (l IsolationLevel) String() string { return orUnset(l.clause) }

// Mode is the transaction access mode. The zero value is unset.
type Mode struct{ clause string }

// Access modes.
var (
	ReadWrite = Mode{"READ WRITE"}
	ReadOnly  = Mode{"READ ONLY"}
)

// IsSet reports whether a mode was chosen.
func (m Mode) IsSet() bool { return m.clause != "" }

func (m Mode) String() string { return orUnset(m.clause) }

// Deferrability applies to serializable read-only transactions. The zero
// value is unset.
type Deferrability struct{ clause string }

// Deferrability values.
var (
	Deferrable    = Deferrability{"DEFERRABLE"}
	NotDeferrable = Deferrability{"NOT DEFERRABLE"}
)

// IsSet reports whether deferrability was chosen.
func (d Deferrability) IsSet() bool { return d.clause != "" }

func (d Deferrability) String() string { return orUnset(d.clause) }

func orUnset(s string) string {
	if s == "" {
		return "unset"
	}
	return s
}

// Options are the characteristics a transaction starts with. Unset fields
// are left out of the BEGIN statement.
type Options struct {
	Isolation     IsolationLevel
	Mode          Mode
	Deferrability Deferrability
}

// beginStatement builds BEGIN[ ISOLATION LEVEL x][ mode][ deferrability].
func (o Options) beginStatement() string {
	var b strings.Builder
	b.WriteString("BEGIN")
	if o.Isolation.IsSet() {
		b.WriteString(" ISOLATION LEVEL ")
		b.WriteString(o.Isolation.clause)
	}
	if o.Mode.IsSet() {
		b.WriteString(" ")
		b.WriteString(o.Mode.clause)
	}
	if o.Deferrability.IsSet() {
		b.WriteString(" ")
		b.WriteString(o.Deferrability.clause)
	}
	return b.String()
}
