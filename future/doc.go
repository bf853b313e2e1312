// Package future hands results computed off the UI goroutine back onto it.
//
// A Loop is the UI event loop: one goroutine running posted functions in
// order. A Promise is completed from any goroutine; its Future dispatches
// the result onto the Loop, so callbacks never mutate UI-adjacent state
// from a worker or streaming thread.
//
//	loop := future.NewLoop()
//	go loop.Run(ctx)
//
//	f := future.Spawn(loop, func() (Report, error) { return upload(ctx) })
//	future.Map(f, summarize).ForEach(func(s string) { toast(s) })
//
// Promises are single assignment: the second Success or Failure returns
// ErrAlreadyResolved and changes nothing.
package future
