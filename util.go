package docdb

import "encoding/binary"

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func keyToBytes(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func bytesToKey(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
