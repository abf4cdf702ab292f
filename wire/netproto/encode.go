package netproto

import "encoding/binary"

func be16(dst []byte, v uint16) { binary.BigEndian.PutUint16(dst, v) }
func be32(dst []byte, v uint32) { binary.BigEndian.PutUint32(dst, v) }
func be64(dst []byte, v uint64) { binary.BigEndian.PutUint64(dst, v) }
