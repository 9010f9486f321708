// Package protocol implements the client-side protocol engine (Core) and
// dispatcher (Dispatcher): a byte-level state machine over the extended
// query protocol, COPY IN/OUT, and cancellation, coupled to at most one
// pending caller at a time.
package protocol

import "github.com/corvidlabs/pgproto/wire"

// State is the engine's current phase.
type State int

const (
	StateNotConnected State = iota
	StateAuth
	StatePrepare
	StateBindExecute
	StateBindExecuteMany
	StateExecute
	StateBind
	StateCloseStmtPortal
	StateSimpleQuery
	StateCopyOutData
	StateCopyOutDone
	StateCopyInData
	StateCancelled
	StateTerminating
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "NOT_CONNECTED"
	case StateAuth:
		return "AUTH"
	case StatePrepare:
		return "PREPARE"
	case StateBindExecute:
		return "BIND_EXECUTE"
	case StateBindExecuteMany:
		return "BIND_EXECUTE_MANY"
	case StateExecute:
		return "EXECUTE"
	case StateBind:
		return "BIND"
	case StateCloseStmtPortal:
		return "CLOSE_STMT_PORTAL"
	case StateSimpleQuery:
		return "SIMPLE_QUERY"
	case StateCopyOutData:
		return "COPY_OUT_DATA"
	case StateCopyOutDone:
		return "COPY_OUT_DONE"
	case StateCopyInData:
		return "COPY_IN_DATA"
	case StateCancelled:
		return "CANCELLED"
	case StateTerminating:
		return "TERMINATING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Idle reports whether the engine is not in the middle of an operation and
// may accept a new one.
func (s State) Idle() bool {
	return s == StateNotConnected
}

// ConnStatus is the connection lifecycle status. Core sets STARTED when
// Connect is issued and AUTH_OK on AuthenticationOk; no other value is
// assigned, and Dispatcher does not consult the status before starting an
// operation.
type ConnStatus int

const (
	ConnBad ConnStatus = iota
	ConnStarted
	ConnMade
	ConnAwaitingResponse
	ConnAuthOK
	ConnSetenv
	ConnSSLStartup
	ConnSetenvPoll
	ConnCheckWritable
	ConnConsume
	ConnNeeded
	ConnOK
)

func (c ConnStatus) String() string {
	switch c {
	case ConnBad:
		return "BAD"
	case ConnStarted:
		return "STARTED"
	case ConnMade:
		return "MADE"
	case ConnAwaitingResponse:
		return "AWAITING_RESPONSE"
	case ConnAuthOK:
		return "AUTH_OK"
	case ConnSetenv:
		return "SETENV"
	case ConnSSLStartup:
		return "SSL_STARTUP"
	case ConnSetenvPoll:
		return "SETENV_POLL"
	case ConnCheckWritable:
		return "CHECK_WRITABLE"
	case ConnConsume:
		return "CONSUME"
	case ConnNeeded:
		return "NEEDED"
	case ConnOK:
		return "OK"
	default:
		return "UNKNOWN"
	}
}

// idleState is NOT_CONNECTED, the state a new Core starts in and the one
// every ReadyForQuery restores. Dispatcher's precheck does not check the
// engine state; each Core operation overwrites it unconditionally.
const idleState = StateNotConnected

// opKind returns the OpKind this engine state corresponds to, used
// to label the result a Hooks.Terminal call carries once ReadyForQuery
// restores idle.
func (s State) opKind() OpKind {
	switch s {
	case StateAuth:
		return OpConnect
	case StatePrepare:
		return OpPrepare
	case StateBindExecute:
		return OpBindExecute
	case StateBindExecuteMany:
		return OpBindExecuteMany
	case StateExecute:
		return OpExecute
	case StateBind:
		return OpBind
	case StateCloseStmtPortal:
		return OpClose
	case StateSimpleQuery:
		return OpSimpleQuery
	case StateCopyOutData, StateCopyOutDone:
		return OpCopyOut
	case StateCopyInData:
		return OpCopyIn
	default:
		return OpNone
	}
}

// OpKind identifies which outbound operation a terminal event completes.
type OpKind int

const (
	OpNone OpKind = iota
	OpConnect
	OpPrepare
	OpBindExecute
	OpBindExecuteMany
	OpBind
	OpExecute
	OpSimpleQuery
	OpClose
	OpCopyOut
	OpCopyIn
)

// defaultTxStatus is reported before any ReadyForQuery has ever arrived.
const defaultTxStatus = wire.TxUnknown
