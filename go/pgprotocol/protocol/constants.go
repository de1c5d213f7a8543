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

// Package protocol defines PostgreSQL wire protocol constants shared by the
// client and the test backend.
package protocol

// Frontend message types.
const (
	MsgBind        = 'B'
	MsgDescribe    = 'D'
	MsgExecute     = 'E'
	MsgParse       = 'P'
	MsgQuery       = 'Q'
	MsgSync        = 'S'
	MsgTerminate   = 'X'
	MsgPasswordMsg = 'p' // also carries SASL responses
)

// Backend message types.
const (
	MsgParseComplete         = '1'
	MsgBindComplete          = '2'
	MsgNotificationResponse  = 'A'
	MsgCommandComplete       = 'C'
	MsgDataRow               = 'D'
	MsgErrorResponse         = 'E'
	MsgEmptyQueryResponse    = 'I'
	MsgBackendKeyData        = 'K'
	MsgNoticeResponse        = 'N'
	MsgAuthenticationRequest = 'R'
	MsgParameterStatus       = 'S'
	MsgRowDescription        = 'T'
	MsgReadyForQuery         = 'Z'
	MsgNoData                = 'n'
	MsgParameterDescription  = 't'
)

// Authentication request codes.
const (
	AuthOk                = 0
	AuthCleartextPassword = 3
	AuthMD5Password       = 5
	AuthSASL              = 10
	AuthSASLContinue      = 11
	AuthSASLFinal         = 12
)

// Error and notice field codes.
const (
	FieldSeverity         = 'S'
	FieldSeverityV        = 'V'
	FieldCode             = 'C'
	FieldMessage          = 'M'
	FieldDetail           = 'D'
	FieldHint             = 'H'
	FieldPosition         = 'P'
	FieldInternalPosition = 'p'
	FieldInternalQuery    = 'q'
	FieldWhere            = 'W'
	FieldSchema           = 's'
	FieldTable            = 't'
	FieldColumn           = 'c'
	FieldDataType         = 'd'
	FieldConstraint       = 'n'
)

// Transaction status bytes carried by ReadyForQuery.
const (
	TxnStatusIdle    = 'I'
	TxnStatusInBlock = 'T'
	TxnStatusFailed  = 'E'
)

// Format codes.
const (
	FormatText   = 0
	FormatBinary = 1
)

// Protocol version 3.0.
const ProtocolVersionNumber = 3<<16 | 0

// Special request codes sent in place of a protocol version.
const (
	CancelRequestCode = 1234<<16 | 5678
	SSLRequestCode    = 1234<<16 | 5679
)

// SCRAMSHA256 is the only SASL mechanism supported.
const SCRAMSHA256 = "SCRAM-SHA-256"
