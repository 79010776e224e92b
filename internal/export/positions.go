package export

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	pebblestore "github.com/rzbill/logstreams/internal/storage/pebble"
)

var exportPrefix = []byte("export/")

// KeyPosition is export/{id}/{part_be4}.
func KeyPosition(id string, partition uint32) []byte {
	k := make([]byte, 0, len(exportPrefix)+len(id)+1+4)
	k = append(k, exportPrefix...)
	k = append(k, id...)
	k = append(k, '/')
	return binary.BigEndian.AppendUint32(k, partition)
}

// Positions stores the last exported position per exporter and partition.
type Positions struct {
	db *pebblestore.DB
}

func NewPositions(db *pebblestore.DB) *Positions { return &Positions{db: db} }

// Load returns the last exported position, or -1 when nothing was exported.
func (p *Positions) Load(id string, partition uint32) (int64, error) {
	v, err := p.db.Get(KeyPosition(id, partition))
	if errors.Is(err, pebble.ErrNotFound) {
		return -1, nil
	}
	if err != nil {
		return -1, fmt.Errorf("export: load position %s/%d: %w", id, partition, err)
	}
	if len(v) < 8 {
		return -1, fmt.Errorf("export: position %s/%d has %d bytes", id, partition, len(v))
	}
	return int64(binary.BigEndian.Uint64(v[:8])), nil
}

// Commit stores position unless a higher or equal one is already stored.
func (p *Positions) Commit(id string, partition uint32, position int64) error {
	prev, err := p.Load(id, partition)
	if err != nil {
		return err
	}
	if position <= prev {
		return nil
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(position))
	return p.db.Set(KeyPosition(id, partition), b[:])
}
