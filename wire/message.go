// Package wire defines the byte-level constants of the PostgreSQL
// frontend/backend protocol (version 3.0): message type tags in both
// directions, authentication sub-codes, and the handful of untagged
// startup-phase messages, from the client's point of view.
package wire

// FrontendTag identifies a message the client sends to the server.
type FrontendTag byte

// BackendTag identifies a message the server sends to the client.
type BackendTag byte

// http://www.postgresql.org/docs/current/static/protocol-message-formats.html
const (
	FrontendBind            FrontendTag = 'B'
	FrontendClose           FrontendTag = 'C'
	FrontendCopyData        FrontendTag = 'd'
	FrontendCopyDone        FrontendTag = 'c'
	FrontendCopyFail        FrontendTag = 'f'
	FrontendDescribe        FrontendTag = 'D'
	FrontendExecute         FrontendTag = 'E'
	FrontendFlush           FrontendTag = 'H'
	FrontendParse           FrontendTag = 'P'
	FrontendPasswordMessage FrontendTag = 'p'
	FrontendQuery           FrontendTag = 'Q'
	FrontendSync            FrontendTag = 'S'
	FrontendTerminate       FrontendTag = 'X'
	FrontendGSSResponse     FrontendTag = 'p'
	FrontendSASLInitial     FrontendTag = 'p'
	FrontendSASLResponse    FrontendTag = 'p'
)

const (
	BackendAuth                 BackendTag = 'R'
	BackendBackendKeyData       BackendTag = 'K'
	BackendBindComplete         BackendTag = '2'
	BackendCloseComplete        BackendTag = '3'
	BackendCommandComplete      BackendTag = 'C'
	BackendCopyBothResponse     BackendTag = 'W'
	BackendCopyData             BackendTag = 'd'
	BackendCopyDone             BackendTag = 'c'
	BackendCopyInResponse       BackendTag = 'G'
	BackendCopyOutResponse      BackendTag = 'H'
	BackendDataRow              BackendTag = 'D'
	BackendEmptyQueryResponse   BackendTag = 'I'
	BackendErrorResponse        BackendTag = 'E'
	BackendFunctionCallResponse BackendTag = 'V'
	BackendNegotiateProtocol    BackendTag = 'v'
	BackendNoData               BackendTag = 'n'
	BackendNoticeResponse       BackendTag = 'N'
	BackendNotificationResponse BackendTag = 'A'
	BackendParameterDescription BackendTag = 't'
	BackendParameterStatus      BackendTag = 'S'
	BackendParseComplete        BackendTag = '1'
	BackendPortalSuspended      BackendTag = 's'
	BackendReadyForQuery        BackendTag = 'Z'
	BackendRowDescription       BackendTag = 'T'
)

func (t FrontendTag) String() string {
	switch t {
	case FrontendBind:
		return "Bind"
	case FrontendClose:
		return "Close"
	case FrontendCopyData:
		return "CopyData"
	case FrontendCopyDone:
		return "CopyDone"
	case FrontendCopyFail:
		return "CopyFail"
	case FrontendDescribe:
		return "Describe"
	case FrontendExecute:
		return "Execute"
	case FrontendFlush:
		return "Flush"
	case FrontendParse:
		return "Parse"
	case FrontendPasswordMessage:
		return "PasswordMessage"
	case FrontendQuery:
		return "Query"
	case FrontendSync:
		return "Sync"
	case FrontendTerminate:
		return "Terminate"
	default:
		return "Unknown"
	}
}

func (t BackendTag) String() string {
	switch t {
	case BackendAuth:
		return "Authentication"
	case BackendBackendKeyData:
		return "BackendKeyData"
	case BackendBindComplete:
		return "BindComplete"
	case BackendCloseComplete:
		return "CloseComplete"
	case BackendCommandComplete:
		return "CommandComplete"
	case BackendCopyBothResponse:
		return "CopyBothResponse"
	case BackendCopyData:
		return "CopyData"
	case BackendCopyDone:
		return "CopyDone"
	case BackendCopyInResponse:
		return "CopyInResponse"
	case BackendCopyOutResponse:
		return "CopyOutResponse"
	case BackendDataRow:
		return "DataRow"
	case BackendEmptyQueryResponse:
		return "EmptyQueryResponse"
	case BackendErrorResponse:
		return "ErrorResponse"
	case BackendNegotiateProtocol:
		return "NegotiateProtocolVersion"
	case BackendNoData:
		return "NoData"
	case BackendNoticeResponse:
		return "NoticeResponse"
	case BackendNotificationResponse:
		return "NotificationResponse"
	case BackendParameterDescription:
		return "ParameterDescription"
	case BackendParameterStatus:
		return "ParameterStatus"
	case BackendParseComplete:
		return "ParseComplete"
	case BackendPortalSuspended:
		return "PortalSuspended"
	case BackendReadyForQuery:
		return "ReadyForQuery"
	case BackendRowDescription:
		return "RowDescription"
	default:
		return "Unknown"
	}
}

// DescribeTarget selects between describing a prepared statement or a portal.
type DescribeTarget byte

const (
	DescribeStatement DescribeTarget = 'S'
	DescribePortal    DescribeTarget = 'P'
)

// CloseTarget selects between closing a prepared statement or a portal.
type CloseTarget byte

const (
	CloseStatement CloseTarget = 'S'
	ClosePortal    CloseTarget = 'P'
)

// TransactionStatus mirrors the single status byte carried by every
// ReadyForQuery message.
type TransactionStatus byte

const (
	TxIdle             TransactionStatus = 'I'
	TxInTransaction    TransactionStatus = 'T'
	TxInFailedTransact TransactionStatus = 'E'
	TxUnknown          TransactionStatus = 0
)

func (s TransactionStatus) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxInTransaction:
		return "in-transaction"
	case TxInFailedTransact:
		return "in-failed-transaction"
	default:
		return "unknown"
	}
}

// AuthCode is the int32 subtype carried by an Authentication message.
type AuthCode int32

const (
	AuthOK                AuthCode = 0
	AuthCleartextPassword AuthCode = 3
	AuthMD5Password       AuthCode = 5
	AuthSASL              AuthCode = 10
	AuthSASLContinue      AuthCode = 11
	AuthSASLFinal         AuthCode = 12
)

// ProtocolVersion3 is the only frontend/backend protocol version this
// engine speaks.
const ProtocolVersion3 uint32 = 196608 // 3 << 16

// SSLRequestCode and CancelRequestCode are the untagged "pseudo-version"
// codes sent in place of a real protocol version during the startup
// handshake, per the protocol's documented magic constants.
const (
	SSLRequestCode    uint32 = 80877103
	CancelRequestCode uint32 = 80877102
)

// CopySignature is the canonical 11-byte header of a binary COPY stream.
// http://www.postgresql.org/docs/current/sql-copy.html#id-1.9.3.55.9.4
var CopySignature = [11]byte{'P', 'G', 'C', 'O', 'P', 'Y', '\n', 0xff, '\r', '\n', 0}
