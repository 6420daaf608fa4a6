// Package fabric provides in-process stand-ins for the engine's external
// collaborators: the downstream agents behind the aggregated ready line
// and the packet bus consuming acknowledgment beats.
//
// They implement engine.DispatchPort and engine.AckPort and are used by
// the scenario harness and the CLI.
package fabric
