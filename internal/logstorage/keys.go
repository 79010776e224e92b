package logstorage

import "encoding/binary"

// Layout (byte-wise, lexicographically sortable):
//   - log/{part_be4}/b/{lowest_be8}

var (
	logPrefix = []byte("log/")
	blockSeg  = []byte("/b/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// KeyBlockPrefix is the prefix shared by all blocks of a partition.
func KeyBlockPrefix(partition uint32) []byte {
	k := make([]byte, 0, len(logPrefix)+4+len(blockSeg))
	k = append(k, logPrefix...)
	k = appendBE4(k, partition)
	k = append(k, blockSeg...)
	return k
}

// KeyBlock builds the key of the block starting at lowest.
func KeyBlock(partition uint32, lowest int64) []byte {
	k := KeyBlockPrefix(partition)
	return appendBE8(k, uint64(lowest))
}

// keyBlockUpper bounds iteration over a partition's blocks.
func keyBlockUpper(partition uint32) []byte {
	k := KeyBlockPrefix(partition)
	k[len(k)-1]++
	return k
}

func lowestFromKey(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]))
}
