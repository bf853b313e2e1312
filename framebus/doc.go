// Package framebus fans decoded frames out from the streaming thread to
// display and tooling consumers.
//
// Publishing never blocks the streaming thread. Two subscription kinds:
//   - Subscribe: a caller-owned channel; a full channel drops the incoming
//     frame and counts it.
//   - SubscribeLatest: a single-slot receiver that always holds the newest
//     frame, for displays that only care about what is current.
//
// Usage:
//
//	bus := framebus.New()
//	defer bus.Close()
//
//	display, _ := bus.SubscribeLatest("display")
//	go func() {
//		for {
//			f, ok := display.Receive()
//			if !ok {
//				return
//			}
//			render(f)
//		}
//	}()
//
//	controller, _ := video.NewController(video.Options{OnFrame: bus.Publish, ...})
package framebus
