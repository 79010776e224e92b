// Package logstorage defines the durable storage contract consumed by the
// appender and readers, and a Pebble-backed implementation.
//
// # Overview
//
// The appender hands storage one block at a time: a contiguous run of framed
// entries covering positions [lowest, highest]. Blocks are persisted under
// keys ordered by their lowest position:
//
//	log/{partition_be4}/b/{lowest_be8}
//
// and stored as: varint headerLen | header(highest_be8) | frames | crc32c.
//
// Appends are consumed synchronously (the caller's buffer can be reused as
// soon as Append returns) and committed in order by a single writer goroutine
// using the configured fsync policy. Readers only observe blocks at or below
// the commit position.
//
//	s, _ := logstorage.Open(db, logstorage.Options{Partition: 1})
//	s.Append(10, 12, frames, listener)  // listener.OnWrite, later OnCommit
//	r := s.NewReader()
//	r.Seek(11)                          // block containing 11
//	for r.HasNext() {
//	    b := r.Next()
//	    _ = b.Data
//	}
package logstorage
