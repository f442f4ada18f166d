package index

import (
	"encoding/binary"
	"strings"
)

// Table is a read-only view of one hash table section. It never copies the
// underlying bytes; every accessor reads straight from them and treats
// out-of-range offsets as missing data.
type Table struct {
	data     []byte
	nBuckets uint32
	nItems   uint32
}

type rawItem struct {
	hash    uint32
	parent  uint32
	keyOff  uint32
	keyLen  uint16
	kind    itemKind
	dataOff uint32
	dataLen uint32
}

func openTable(file []byte, off, size uint32) (Table, error) {
	end := uint64(off) + uint64(size)
	if end > uint64(len(file)) || size < tableHeaderSize {
		return Table{}, dataErrf(file, int(off), "table of %d bytes does not fit", size)
	}
	data := file[off:end]
	t := Table{
		data:     data,
		nBuckets: binary.LittleEndian.Uint32(data[0:]),
		nItems:   binary.LittleEndian.Uint32(data[4:]),
	}
	if t.nBuckets == 0 {
		return Table{}, dataErrf(file, int(off), "table has no buckets")
	}
	need := uint64(tableHeaderSize) + 4*uint64(t.nBuckets) + itemSize*uint64(t.nItems)
	if need > uint64(len(data)) {
		return Table{}, dataErrf(file, int(off), "table directory of %d bytes does not fit into %d bytes", need, len(data))
	}
	return t, nil
}

func (t Table) Len() int {
	return int(t.nItems)
}

func (t Table) itemsOff() uint32 {
	return tableHeaderSize + 4*t.nBuckets
}

func (t Table) item(i uint32) rawItem {
	p := t.data[t.itemsOff()+itemSize*i:]
	return rawItem{
		hash:    binary.LittleEndian.Uint32(p[0:]),
		parent:  binary.LittleEndian.Uint32(p[4:]),
		keyOff:  binary.LittleEndian.Uint32(p[8:]),
		keyLen:  binary.LittleEndian.Uint16(p[12:]),
		kind:    itemKind(p[14]),
		dataOff: binary.LittleEndian.Uint32(p[16:]),
		dataLen: binary.LittleEndian.Uint32(p[20:]),
	}
}

func (t Table) slice(off, n uint32) ([]byte, bool) {
	end := uint64(off) + uint64(n)
	if end > uint64(len(t.data)) {
		return nil, false
	}
	return t.data[off:end], true
}

func (t Table) key(it rawItem) []byte {
	b, _ := t.slice(it.keyOff, uint32(it.keyLen))
	return b
}

func (t Table) itemData(it rawItem) ([]byte, bool) {
	return t.slice(it.dataOff, it.dataLen)
}

func (t Table) bucketRange(h uint32) (uint32, uint32) {
	b := h % t.nBuckets
	start := binary.LittleEndian.Uint32(t.data[tableHeaderSize+4*b:])
	end := t.nItems
	if b+1 < t.nBuckets {
		end = binary.LittleEndian.Uint32(t.data[tableHeaderSize+4*(b+1):])
	}
	return min(start, t.nItems), min(end, t.nItems)
}

func (t Table) find(path string) (rawItem, uint32, bool) {
	h := hashPath(path)
	start, end := t.bucketRange(h)
	for i := start; i < end; i++ {
		it := t.item(i)
		if it.hash == h && t.matches(it, path) {
			return it, i, true
		}
	}
	return rawItem{}, 0, false
}

// matches verifies that the chain of names from it up to the root spells
// path. The chain length is bounded by the item count, so a corrupt parent
// cycle cannot loop forever.
func (t Table) matches(it rawItem, path string) bool {
	for depth := uint32(0); depth <= t.nItems; depth++ {
		name := t.key(it)
		if len(name) == 0 || !strings.HasSuffix(path, string(name)) {
			return false
		}
		path = path[:len(path)-len(name)]
		if it.parent == noParent {
			return path == ""
		}
		if it.parent >= t.nItems {
			return false
		}
		it = t.item(it.parent)
	}
	return false
}

func (t Table) fullPath(it rawItem) string {
	var parts []string
	for depth := uint32(0); depth <= t.nItems; depth++ {
		parts = append(parts, string(t.key(it)))
		if it.parent == noParent || it.parent >= t.nItems {
			break
		}
		it = t.item(it.parent)
	}
	var buf strings.Builder
	for i := len(parts) - 1; i >= 0; i-- {
		buf.WriteString(parts[i])
	}
	return buf.String()
}

func (t Table) children(it rawItem) []uint32 {
	if it.kind != kindDir {
		return nil
	}
	data, ok := t.itemData(it)
	if !ok {
		return nil
	}
	result := make([]uint32, 0, len(data)/4)
	for off := 0; off+4 <= len(data); off += 4 {
		i := binary.LittleEndian.Uint32(data[off:])
		if i < t.nItems {
			result = append(result, i)
		}
	}
	return result
}
