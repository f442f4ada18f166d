// Package index implements the on-disk database index: an immutable hash
// table of path segments that is read straight out of a memory-mapped file.
//
// # File format
//
// All integers are little-endian.
//
//	file   = header table(main) table(locks)?
//	header = magic:64 version:32 flags:32 mainOff:32 mainLen:32 locksOff:32 locksLen:32
//	table  = nBuckets:32 nItems:32 bucket:32*nBuckets item*nItems blob
//	item   = hash:32 parent:32 keyOff:32 keyLen:16 kind:8 _:8 dataOff:32 dataLen:32
//
// Offsets inside a table are relative to the start of the table. Items are
// sorted by bucket; bucket[i] is the index of the first item of bucket i.
//
// Main table items are keys and directories. The key of an item is its name
// relative to its parent ("b" or "b/"); the root item "/" has no parent. The
// full path of an item is the concatenation of its parents' names, which is
// how hash matches are verified. Directory items carry a sorted list of
// child item indices, so listing a directory never scans unrelated items.
//
// Lock table items have no parent, their key is the full lock prefix.
//
// # Invalidation
//
// A header of all zeroes is never produced by the builder. Writers zero the
// header of the file they are about to replace; every process that still has
// that file mapped then sees an invalid header on its next check and must
// reopen the canonical path.
package index

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

const (
	magic    uint64 = 0x3158444942464e43 // "CNFBIDX1" as little-endian uint64
	version1 uint32 = 1

	// HeaderSize is the size of the header that Invalidate zeroes.
	HeaderSize = 32

	tableHeaderSize = 8
	itemSize        = 24
	noParent        = 0xFFFFFFFF
)

type itemKind uint8

const (
	kindValue itemKind = 'v'
	kindDir   itemKind = 'L'
	kindLock  itemKind = 'l'
)

type header struct {
	Magic    uint64
	Version  uint32
	Flags    uint32
	MainOff  uint32
	MainLen  uint32
	LocksOff uint32
	LocksLen uint32
}

func readHeader(data []byte) (header, bool) {
	if len(data) < HeaderSize {
		return header{}, false
	}
	h := header{
		Magic:    binary.LittleEndian.Uint64(data[0:]),
		Version:  binary.LittleEndian.Uint32(data[8:]),
		Flags:    binary.LittleEndian.Uint32(data[12:]),
		MainOff:  binary.LittleEndian.Uint32(data[16:]),
		MainLen:  binary.LittleEndian.Uint32(data[20:]),
		LocksOff: binary.LittleEndian.Uint32(data[24:]),
		LocksLen: binary.LittleEndian.Uint32(data[28:]),
	}
	return h, h.Magic == magic
}

func putHeader(buf []byte, h header) {
	binary.LittleEndian.PutUint64(buf[0:], h.Magic)
	binary.LittleEndian.PutUint32(buf[8:], h.Version)
	binary.LittleEndian.PutUint32(buf[12:], h.Flags)
	binary.LittleEndian.PutUint32(buf[16:], h.MainOff)
	binary.LittleEndian.PutUint32(buf[20:], h.MainLen)
	binary.LittleEndian.PutUint32(buf[24:], h.LocksOff)
	binary.LittleEndian.PutUint32(buf[28:], h.LocksLen)
}

func hashPath(path string) uint32 {
	return uint32(xxhash.Sum64String(path))
}

func align4(n int) int {
	return (n + 3) &^ 3
}
