// Package vizlog is the client SDK for the vizlog recording engine: it
// records streams of multimodal, timestamped data (spatial primitives,
// scalars, images, application state) as columnar chunks and ships them
// to a viewer, a daemon, a file or standard output.
//
// The central handle is the RecordingStream. Data is logged row by row
// against the handle's TimeContext, or in bulk with SendColumns. Batches
// are built from the component catalog in pkg/components:
//
//	rec, _ := vizlog.NewRecording("my_app")
//	rec.Spawn(vizlog.SpawnOptions{})
//	rec.SetTimeSequence("frame", 0)
//	rec.Log("world/points",
//		components.Points3D([][3]float32{{0, 0, 0}, {1, 1, 1}}),
//		components.Colors([]uint32{0xff0000ff, 0x00ff00ff}),
//	)
//	rec.Close()
//
// Logging is fire and forget: calls enqueue into a per-stream pipeline
// and return without touching the network. FlushBlocking waits for the
// backlog; Close flushes with a bounded timeout.
package vizlog
