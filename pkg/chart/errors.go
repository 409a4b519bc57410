package chart

// ErrorKind enumerates the recoverable error reasons an event delivery can
// report. Only DefinitionError (above, in types.go) is fatal; every
// ErrorKind here is observable through an EventResult or listener stream
// and never aborts the process.
type ErrorKind string

const (
	NoErrorKind     ErrorKind = ""
	NoSuchMachine   ErrorKind = "NoSuchMachine"
	NotStarted      ErrorKind = "NotStarted"
	BufferFull      ErrorKind = "BufferFull"
	GuardMissing    ErrorKind = "GuardMissing"
	ActionMissing   ErrorKind = "ActionMissing"
	ActionFailed    ErrorKind = "ActionFailed"
	ServiceFailed   ErrorKind = "ServiceFailed"
	AlwaysLoopLimit ErrorKind = "AlwaysLoopLimit"
	RateLimited     ErrorKind = "RateLimited"
)
