// Package session maintains the RPC connection to one vehicle.
//
// Connect starts two loops that live as long as the session:
//
//   - the poll loop calls get_info every PollInterval (500 ms by default) and
//     delivers the result, sorted by key, as TelemetryReceived
//   - the send loop ticks InputRate times per second and, when a control
//     packet is pending, sends it as one batch of move, set_depth_locked,
//     set_direction_locked and catch
//
// Submit is last-writer-wins: the pending slot holds one packet and a packet
// replaced before its tick is never sent. The slot is cleared only when the
// batch succeeds.
//
// BlockOn gives a long operation such as a firmware upload the channel to
// itself. Both loops skip their ticks while it runs, and a second BlockOn is
// rejected with ErrBusy.
//
// Any RPC failure in a loop is fatal. The owner receives ConnectionLost once,
// then ConnectionChanged{Connected: false}. There is no automatic reconnect.
//
// Events go to the owner's channel only; the session holds no reference to
// its owner.
package session
