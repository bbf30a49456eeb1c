// Package flow defines the contract between the gateway and the
// conversational flow engine.
//
// The engine itself is an external collaborator: the gateway hands it
// each inbound message that is not claimed by live mode and the engine
// decides what to send back. EchoEngine is a reference implementation
// so the gateway runs end-to-end without one.
package flow
