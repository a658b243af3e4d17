// Package walfmt defines the on-disk record format of the transactional
// write-ahead log: a fixed, little-endian, checksummed, self-delimiting
// record layout shared by every writer and reader of the log.
package walfmt

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Magic identifies a v2 WAL record header ("WAL2").
const Magic uint32 = 0x57414C32

// FormatVersion is the only version byte this package will decode.
const FormatVersion uint8 = 0x02

// RecordType enumerates the four record kinds a transaction is built from.
type RecordType uint8

const (
	TypeBegin  RecordType = 0x10
	TypePut    RecordType = 0x11
	TypeDelete RecordType = 0x12
	TypeCommit RecordType = 0x13
)

func (t RecordType) String() string {
	switch t {
	case TypeBegin:
		return "BEGIN"
	case TypePut:
		return "PUT"
	case TypeDelete:
		return "DELETE"
	case TypeCommit:
		return "COMMIT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

// Size bounds from spec: key_len <= 1MiB, value_len <= 16MiB.
const (
	MaxKeyLen   uint32 = 1 << 20
	MaxValueLen uint32 = 1 << 24

	// HeaderSize is the packed, padding-free size of Header on the wire.
	HeaderSize = 4 + 1 + 1 + 8 + 4 + 4
	// TrailerSize is the CRC32 trailer size.
	TrailerSize = 4
)

// Header is the fixed 22-byte record header, decoded field-by-field.
type Header struct {
	Magic    uint32
	Version  uint8
	Type     RecordType
	Txid     uint64
	KeyLen   uint32
	ValueLen uint32
}

// Record is a single fully-decoded WAL record: header plus payload.
type Record struct {
	Header Header
	Key    []byte
	Value  []byte
	CRC    uint32
}

func (r Record) String() string {
	return fmt.Sprintf("%s(txid=%d, key=%dB, value=%dB)", r.Header.Type, r.Header.Txid, len(r.Key), len(r.Value))
}

// EncodeBegin returns the bytes of a BEGIN(txid) record.
func EncodeBegin(txid uint64) []byte {
	return encode(TypeBegin, txid, nil, nil)
}

// EncodePut returns the bytes of a PUT(txid,k,v) record.
func EncodePut(txid uint64, key, value []byte) []byte {
	return encode(TypePut, txid, key, value)
}

// EncodeDelete returns the bytes of a DELETE(txid,k) record.
func EncodeDelete(txid uint64, key []byte) []byte {
	return encode(TypeDelete, txid, key, nil)
}

// EncodeCommit returns the bytes of a COMMIT(txid) record.
func EncodeCommit(txid uint64) []byte {
	return encode(TypeCommit, txid, nil, nil)
}

func encode(typ RecordType, txid uint64, key, value []byte) []byte {
	total := HeaderSize + len(key) + len(value) + TrailerSize
	buf := make([]byte, total)

	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	buf[4] = FormatVersion
	buf[5] = byte(typ)
	binary.LittleEndian.PutUint64(buf[6:14], txid)
	binary.LittleEndian.PutUint32(buf[14:18], uint32(len(key)))
	binary.LittleEndian.PutUint32(buf[18:22], uint32(len(value)))

	off := HeaderSize
	off += copy(buf[off:], key)
	off += copy(buf[off:], value)

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.LittleEndian.PutUint32(buf[off:off+4], crc)

	return buf
}

// CorruptionError is returned by DecodeNext when a record fails any
// format, bound, or checksum validation. Replay treats it as the end of
// the valid prefix — it is never an IoError.
type CorruptionError struct {
	Reason string
}

func (e *CorruptionError) Error() string { return "wal: corrupt record: " + e.Reason }

// DecodeNext reads exactly one record from r. It returns io.EOF (unwrapped)
// on a clean end-of-stream at a record boundary, or a *CorruptionError for
// any short read, malformed header, out-of-bound length, or CRC mismatch.
func DecodeNext(r io.Reader) (Record, error) {
	var hdrBuf [HeaderSize]byte
	if _, err := io.ReadFull(r, hdrBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, &CorruptionError{Reason: "truncated header"}
		}
		return Record{}, err // clean io.EOF propagates as-is
	}

	hdr := Header{
		Magic:    binary.LittleEndian.Uint32(hdrBuf[0:4]),
		Version:  hdrBuf[4],
		Type:     RecordType(hdrBuf[5]),
		Txid:     binary.LittleEndian.Uint64(hdrBuf[6:14]),
		KeyLen:   binary.LittleEndian.Uint32(hdrBuf[14:18]),
		ValueLen: binary.LittleEndian.Uint32(hdrBuf[18:22]),
	}

	if hdr.Magic != Magic {
		return Record{}, &CorruptionError{Reason: "bad magic"}
	}
	if hdr.Version != FormatVersion {
		return Record{}, &CorruptionError{Reason: fmt.Sprintf("unsupported version 0x%02x", hdr.Version)}
	}
	switch hdr.Type {
	case TypeBegin, TypeCommit:
		if hdr.KeyLen != 0 || hdr.ValueLen != 0 {
			return Record{}, &CorruptionError{Reason: "BEGIN/COMMIT must carry no payload"}
		}
	case TypePut:
		// key and value both allowed
	case TypeDelete:
		if hdr.ValueLen != 0 {
			return Record{}, &CorruptionError{Reason: "DELETE must carry no value"}
		}
	default:
		return Record{}, &CorruptionError{Reason: fmt.Sprintf("unknown record type 0x%02x", uint8(hdr.Type))}
	}
	if hdr.KeyLen > MaxKeyLen {
		return Record{}, &CorruptionError{Reason: "key_len exceeds bound"}
	}
	if hdr.ValueLen > MaxValueLen {
		return Record{}, &CorruptionError{Reason: "value_len exceeds bound"}
	}

	payloadLen := int(hdr.KeyLen) + int(hdr.ValueLen)
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, &CorruptionError{Reason: "truncated payload"}
	}

	var crcBuf [TrailerSize]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return Record{}, &CorruptionError{Reason: "truncated checksum"}
	}
	storedCRC := binary.LittleEndian.Uint32(crcBuf[:])

	full := make([]byte, 0, HeaderSize+payloadLen)
	full = append(full, hdrBuf[:]...)
	full = append(full, payload...)
	computedCRC := crc32.ChecksumIEEE(full)
	if computedCRC != storedCRC {
		return Record{}, &CorruptionError{Reason: "crc mismatch"}
	}

	rec := Record{
		Header: hdr,
		CRC:    storedCRC,
	}
	if hdr.KeyLen > 0 {
		rec.Key = payload[:hdr.KeyLen]
	}
	if hdr.ValueLen > 0 {
		rec.Value = payload[hdr.KeyLen : hdr.KeyLen+hdr.ValueLen]
	}
	return rec, nil
}
