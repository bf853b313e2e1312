// Package control holds the vehicle's control state and turns it into wire
// commands.
//
// A StatusMap keeps one int16 per StatusClass. Input events reach it through
// a Mapper, UI toggles write it directly, and Encode turns a Snapshot into a
// ControlPacket for the session's send loop:
//
//	status := control.NewStatusMap()
//	mapper, _ := control.NewMapper(control.DefaultMapping(), status)
//	mapper.Apply(control.InputEvent{Kind: control.InputAxis, Index: 0, Value: 16384})
//	sess.Submit(control.Encode(status.Snapshot()))
//
// Normalization is symmetric: 0 maps to 0 exactly, MaxInt16 to 1 and
// MinInt16 to -1, and each channel is monotonic.
package control
