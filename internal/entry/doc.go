// Package entry defines the binary framing of log entries.
//
// # Layout
//
// Every entry is stored as one frame. Frames are written back to back and each
// frame is padded to an 8-byte boundary:
//
//	 0      4      6   7   8          16                   24     32          40       42
//	 +------+------+---+---+----------+--------------------+------+-----------+--------+----------+-------+
//	 | len  | kind |flg|rsv| position | sourceEventPosition| key  | timestamp | metaLen| metadata | value |
//	 +------+------+---+---+----------+--------------------+------+-----------+--------+----------+-------+
//
// len is the unaligned frame length (header + metadata + value); the value is
// whatever remains of the frame after the metadata. All integers are
// little-endian. The layout is shared by writers, storage, and readers and must
// not change without a new frame kind.
//
// Usage:
//
//	buf := make([]byte, entry.BatchLength(entries))
//	_, err := entry.WriteBatch(buf, 0, first, source, nowMs, entries)
//
//	sc := entry.NewScanner(buf)
//	for sc.Scan() {
//	    e := sc.Entry()
//	    _ = e.Position()
//	}
//	if err := sc.Err(); err != nil { /* corrupt frame */ }
package entry
