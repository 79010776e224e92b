// Package runtime wires storage, config and log streams into a single-node
// logstreams instance: one Pebble DB, one LogStream per partition and an
// optional Kafka exporter.
//
//	cfg := config.Default()
//	cfg.DataDir = "./data"
//	rt, _ := runtime.Open(runtime.Options{Config: cfg})
//	defer rt.Close()
//	s, _ := rt.Stream(0)
//	w, _ := s.NewSequencedWriter()
//	_, _ = w.TryWrite([]entry.Entry{entry.New([]byte("m"), []byte("hello"))}, entry.NoPosition)
package runtime
