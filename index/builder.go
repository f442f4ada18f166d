package index

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"github.com/andreyvit/confdb/keypath"
	"github.com/andreyvit/confdb/value"
)

// Builder accumulates entries and lock prefixes and serializes them into the
// index format. Output depends only on the set of entries and locks, never
// on insertion order, so equal contents always produce identical bytes.
type Builder struct {
	values map[string]value.Value
	locks  map[string]struct{}
}

func NewBuilder() *Builder {
	return &Builder{
		values: make(map[string]value.Value),
		locks:  make(map[string]struct{}),
	}
}

// Set stores v under key, replacing any previous value.
func (b *Builder) Set(key string, v value.Value) error {
	if err := keypath.CheckKey(key); err != nil {
		return err
	}
	if !v.IsValid() {
		return fmt.Errorf("%w: cannot store an invalid value at %s", value.ErrInvalidValue, key)
	}
	b.values[key] = v
	return nil
}

func (b *Builder) Has(key string) bool {
	_, found := b.values[key]
	return found
}

func (b *Builder) Get(key string) (value.Value, bool) {
	v, found := b.values[key]
	return v, found
}

func (b *Builder) Delete(key string) {
	delete(b.values, key)
}

// DeleteDir removes every key under dir and returns how many were removed.
func (b *Builder) DeleteDir(dir string) int {
	var n int
	for key := range b.values {
		if strings.HasPrefix(key, dir) {
			delete(b.values, key)
			n++
		}
	}
	return n
}

func (b *Builder) Len() int {
	return len(b.values)
}

// Lock adds a lock prefix. Prefixes may name a key or a directory.
func (b *Builder) Lock(prefix string) error {
	if err := keypath.CheckPath(prefix); err != nil {
		return err
	}
	b.locks[prefix] = struct{}{}
	return nil
}

func (b *Builder) Locks() []string {
	locks := make([]string, 0, len(b.locks))
	for l := range b.locks {
		locks = append(locks, l)
	}
	slices.Sort(locks)
	return locks
}

// Keys returns all keys in sorted order.
func (b *Builder) Keys() []string {
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Bytes serializes the builder contents into a complete index file.
func (b *Builder) Bytes() []byte {
	main := b.buildMain()
	var locks []byte
	if len(b.locks) > 0 {
		locks = b.buildLocks()
	}

	buf := make([]byte, HeaderSize, HeaderSize+len(main)+len(locks))
	h := header{
		Magic:   magic,
		Version: version1,
		MainOff: uint32(len(buf)),
		MainLen: uint32(len(main)),
	}
	buf = append(buf, main...)
	if locks != nil {
		h.LocksOff = uint32(len(buf))
		h.LocksLen = uint32(len(locks))
		buf = append(buf, locks...)
	}
	putHeader(buf, h)
	return buf
}

type buildItem struct {
	path     string
	name     string
	hash     uint32
	parent   string
	kind     itemKind
	data     []byte
	children []string
}

func (b *Builder) buildMain() []byte {
	items := map[string]*buildItem{
		keypath.Root: {path: keypath.Root, name: keypath.Root, kind: kindDir},
	}
	var ensureDir func(dir string)
	ensureDir = func(dir string) {
		if _, found := items[dir]; found {
			return
		}
		parent := keypath.Parent(dir)
		ensureDir(parent)
		items[dir] = &buildItem{path: dir, name: keypath.Name(dir), parent: parent, kind: kindDir}
		items[parent].children = append(items[parent].children, dir)
	}
	for key, v := range b.values {
		parent := keypath.Parent(key)
		ensureDir(parent)
		items[key] = &buildItem{path: key, name: keypath.Name(key), parent: parent, kind: kindValue, data: v.AppendBinary(nil)}
		items[parent].children = append(items[parent].children, key)
	}

	list := make([]*buildItem, 0, len(items))
	for _, it := range items {
		list = append(list, it)
	}
	return buildTable(list, func(it *buildItem, ordinal map[string]uint32) []byte {
		if it.kind != kindDir {
			return it.data
		}
		slices.Sort(it.children)
		data := make([]byte, 0, 4*len(it.children))
		for _, child := range it.children {
			data = binary.LittleEndian.AppendUint32(data, ordinal[child])
		}
		return data
	})
}

func (b *Builder) buildLocks() []byte {
	list := make([]*buildItem, 0, len(b.locks))
	for l := range b.locks {
		list = append(list, &buildItem{path: l, name: l, kind: kindLock})
	}
	return buildTable(list, func(it *buildItem, _ map[string]uint32) []byte { return nil })
}

func buildTable(list []*buildItem, dataFunc func(it *buildItem, ordinal map[string]uint32) []byte) []byte {
	nBuckets := uint32(max(len(list), 1))
	for _, it := range list {
		it.hash = hashPath(it.path)
	}
	slices.SortFunc(list, func(a, b *buildItem) int {
		ba, bb := a.hash%nBuckets, b.hash%nBuckets
		if ba != bb {
			if ba < bb {
				return -1
			}
			return 1
		}
		return strings.Compare(a.path, b.path)
	})
	ordinal := make(map[string]uint32, len(list))
	for i, it := range list {
		ordinal[it.path] = uint32(i)
	}

	nItems := uint32(len(list))
	itemsOff := tableHeaderSize + 4*int(nBuckets)
	blobOff := itemsOff + itemSize*int(nItems)
	buf := make([]byte, blobOff)
	binary.LittleEndian.PutUint32(buf[0:], nBuckets)
	binary.LittleEndian.PutUint32(buf[4:], nItems)

	var bucket uint32
	for i, it := range list {
		for bucket <= it.hash%nBuckets {
			binary.LittleEndian.PutUint32(buf[tableHeaderSize+4*int(bucket):], uint32(i))
			bucket++
		}
	}
	for ; bucket < nBuckets; bucket++ {
		binary.LittleEndian.PutUint32(buf[tableHeaderSize+4*int(bucket):], nItems)
	}

	for i, it := range list {
		parent := uint32(noParent)
		if it.parent != "" {
			parent = ordinal[it.parent]
		}
		if len(it.name) > 0xFFFF {
			panic(fmt.Errorf("index: path segment too long (%d bytes)", len(it.name)))
		}
		keyOff := len(buf)
		buf = pad4(append(buf, it.name...))

		data := dataFunc(it, ordinal)
		dataOff := len(buf)
		buf = pad4(append(buf, data...))

		p := buf[itemsOff+itemSize*i:]
		binary.LittleEndian.PutUint32(p[0:], it.hash)
		binary.LittleEndian.PutUint32(p[4:], parent)
		binary.LittleEndian.PutUint32(p[8:], uint32(keyOff))
		binary.LittleEndian.PutUint16(p[12:], uint16(len(it.name)))
		p[14] = byte(it.kind)
		p[15] = 0
		binary.LittleEndian.PutUint32(p[16:], uint32(dataOff))
		binary.LittleEndian.PutUint32(p[20:], uint32(len(data)))
	}
	return buf
}

func pad4(buf []byte) []byte {
	for n := align4(len(buf)) - len(buf); n > 0; n-- {
		buf = append(buf, 0)
	}
	return buf
}
