package lakeparquet

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// EqualityDeletePair is one {table, rowId} tuple marking a logical delete
// for downstream compaction readers.
type EqualityDeletePair struct {
	Table string
	RowID string
}

// EncodeEqualityDeletes serializes pairs in order, length-prefixed per
// field. An empty slice encodes to an empty byte slice.
func EncodeEqualityDeletes(pairs []EqualityDeletePair) []byte {
	if len(pairs) == 0 {
		return []byte{}
	}

	var buf bytes.Buffer

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(pairs)))
	buf.Write(countBuf[:])

	for _, p := range pairs {
		writeLengthPrefixed(&buf, p.Table)
		writeLengthPrefixed(&buf, p.RowID)
	}

	return buf.Bytes()
}

// DecodeEqualityDeletes parses bytes produced by EncodeEqualityDeletes.
// An empty input decodes to an empty, non-nil slice.
func DecodeEqualityDeletes(data []byte) ([]EqualityDeletePair, error) {
	if len(data) == 0 {
		return []EqualityDeletePair{}, nil
	}

	r := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("lakeparquet: read equality-delete count: %w", err)
	}

	out := make([]EqualityDeletePair, 0, count)

	for i := uint32(0); i < count; i++ {
		table, err := readLengthPrefixed(r)
		if err != nil {
			return nil, fmt.Errorf("lakeparquet: read equality-delete table: %w", err)
		}

		rowID, err := readLengthPrefixed(r)
		if err != nil {
			return nil, fmt.Errorf("lakeparquet: read equality-delete rowId: %w", err)
		}

		out = append(out, EqualityDeletePair{Table: table, RowID: rowID})
	}

	return out, nil
}

func writeLengthPrefixed(buf *bytes.Buffer, s string) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readLengthPrefixed(r *bytes.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", err
	}

	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}

	return string(out), nil
}
