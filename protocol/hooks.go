package protocol

import (
	"github.com/corvidlabs/pgproto/stmt"
	"github.com/corvidlabs/pgproto/wire"
)

// Hooks is how Core reports back to its owner (normally a Dispatcher).
// Terminal fires exactly once per operation, at the ReadyForQuery that
// closes it out; CopyOutChunk, Notify, and Notice may fire any number of
// times before that.
type Hooks interface {
	Terminal(op OpKind, result *OpResult, err error)
	CopyOutChunk(data []byte)
	CopyInReady()
	Notify(pid int32, channel, payload string)
	Notice(err error)
}

// OpResult is the accumulated outcome of one operation, valid only at the
// moment Terminal is called.
type OpResult struct {
	Rows       []*stmt.Row
	CommandTag string
	Suspended  bool
	TxStatus   wire.TransactionStatus
}
