package gitbridge

import (
	"bytes"
	"compress/zlib"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
)

const packMagic = "PACK"
const packVersion = 2

// buildPack assembles a version-2 Git pack containing objs, each stored
// undeltified (type + zlib-compressed content), trailed by the SHA-1 of
// everything written so far. No delta compression: correctness over
// density for a read-only bridge with no local object store to diff
// against.
func buildPack(objs []object) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(packMagic)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], packVersion)
	buf.Write(hdr[:])
	binary.BigEndian.PutUint32(hdr[:], uint32(len(objs)))
	buf.Write(hdr[:])

	for _, o := range objs {
		if err := writePackObject(&buf, o); err != nil {
			return nil, err
		}
	}

	sum := sha1.Sum(buf.Bytes())
	buf.Write(sum[:])
	return buf.Bytes(), nil
}

// writePackObject writes one object's pack-format header (type in the
// top 3 bits of the first byte, size packed in little-endian 7-bit
// groups with the continuation bit) followed by its zlib-deflated
// content. o.bytes is "header\0content" (the SHA-1 input); the pack
// entry stores only the content, since the pack header already encodes
// type and size.
func writePackObject(w *bytes.Buffer, o object) error {
	content := stripObjectHeader(o.bytes)
	size := len(content)

	first := byte(o.typ) << 4
	first |= byte(size & 0x0f)
	size >>= 4
	if size > 0 {
		first |= 0x80
	}
	w.WriteByte(first)
	for size > 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		w.WriteByte(b)
	}

	zw := zlib.NewWriter(w)
	if _, err := zw.Write(content); err != nil {
		return fmt.Errorf("gitbridge: deflate object: %w", err)
	}
	return zw.Close()
}

// stripObjectHeader drops the "{type} {size}\0" prefix every synthesized
// object carries, since the pack entry's own varint header supplies size
// and type out of band.
func stripObjectHeader(full []byte) []byte {
	for i, b := range full {
		if b == 0 {
			return full[i+1:]
		}
	}
	return full
}
