// Package video receives the vehicle's RTP stream, decodes it to RGB frames
// and optionally records it to Matroska while playing.
//
// A Controller owns one GStreamer pipeline:
//
//	udpsrc/rtspsrc → depay → tee ─┬→ queue → [parse] → decoder → tee ─┬→ queue → convert → appsink
//	                              └→ copy record branch               └→ encode record branch
//
// Frames reach Options.OnFrame on the streaming thread once the caps
// geometry is known, after the configured transform has run. Record branches
// are attached and detached while the pipeline keeps playing; detaching
// drains the branch to EOS so the file is finalized.
package video
