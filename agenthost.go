// Package agenthost hosts many independently addressable, long-lived
// agent instances inside one process and exposes them to remote callers
// as if they were local objects. Callers create agents, invoke named
// functions on them, clone them, inspect their memory, and delete them;
// slow functions resolve later through a placeholder store polled by
// task id.
//
// The package is transport-agnostic: a binding layer (gRPC, HTTP, an
// embedding bridge) calls the Runtime methods and serializes the
// (ok, message-or-payload) pair back to the caller.
package agenthost

// Version is the module version (set via ldflags at build time).
var Version = "dev"

// Reply converts a core operation outcome into the (success flag,
// message-or-payload) pair the transport layer puts on the wire. A
// failed call carries the human-readable message; transport failures
// travel on a separate channel and never go through here.
func Reply(value []byte, err error) (bool, string) {
	if err != nil {
		return false, err.Error()
	}
	return true, string(value)
}
