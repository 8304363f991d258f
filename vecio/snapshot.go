// Package vecio snapshots vec0 virtual tables to a portable binary stream
// and restores them. A snapshot carries the table declaration, so Restore can
// recreate the table on a handle where it does not exist yet, or append into
// an existing table with the same declaration. Rows travel through the
// validating vec0 DML path on the way back in.
//
// Stream layout: an uncompressed header (magic "VEC0SNAP", a version byte, a
// codec byte, the table name, the declaration argument list), then the codec
// stream holding one marked record per row
// [rowid:8][per column: vector payload or tagged scalar] and a trailer with
// the row count and an IEEE CRC32 of the record bytes.
package vecio

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/viant/vec0/vec0"
)

// Codec selects the compression applied to the snapshot body.
type Codec byte

const (
	CodecNone Codec = 0
	CodecZstd Codec = 1
	CodecLZ4  Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	}
	return "unknown"
}

const (
	snapMagic   = "VEC0SNAP"
	snapVersion = 1

	recordMarker  = 'r'
	trailerMarker = 'e'
)

// Scalar value tags used inside row records.
const (
	tagNull  = 0
	tagInt   = 1
	tagFloat = 2
	tagText  = 3
	tagBlob  = 4
)

type options struct {
	codec Codec
}

// Option configures Snapshot.
type Option func(*options)

// WithCodec overrides the default zstd body compression.
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// Snapshot streams the named vec0 table to w.
func Snapshot(ctx context.Context, db *sql.DB, table string, w io.Writer, opts ...Option) error {
	t, err := vec0.OpenTable(ctx, db, table)
	if err != nil {
		return err
	}
	return SnapshotTable(ctx, t, w, opts...)
}

// SnapshotTable streams the rows behind an open table handle to w. The scan
// is not isolated from concurrent writers; snapshot a quiesced table.
func SnapshotTable(ctx context.Context, t *vec0.Table, w io.Writer, opts ...Option) error {
	o := options{codec: CodecZstd}
	for _, opt := range opts {
		opt(&o)
	}
	s := t.Schema()
	if err := writeHeader(w, o.codec, s); err != nil {
		return err
	}
	cw, closeCodec, err := newCodecWriter(o.codec, w)
	if err != nil {
		return err
	}
	crc := crc32.NewIEEE()
	var count uint64
	var buf bytes.Buffer
	err = t.Scan(ctx, func(row *vec0.Row) error {
		buf.Reset()
		if err := encodeRow(&buf, s, row); err != nil {
			return err
		}
		if _, err := cw.Write([]byte{recordMarker}); err != nil {
			return err
		}
		if _, err := cw.Write(buf.Bytes()); err != nil {
			return err
		}
		crc.Write(buf.Bytes())
		count++
		return nil
	})
	if err != nil {
		return err
	}
	if _, err := cw.Write([]byte{trailerMarker}); err != nil {
		return err
	}
	if err := binary.Write(cw, binary.LittleEndian, count); err != nil {
		return err
	}
	if err := binary.Write(cw, binary.LittleEndian, crc.Sum32()); err != nil {
		return err
	}
	return closeCodec()
}

func writeHeader(w io.Writer, codec Codec, s *vec0.Schema) error {
	if _, err := io.WriteString(w, snapMagic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{snapVersion, byte(codec)}); err != nil {
		return err
	}
	if err := writeString16(w, s.Name); err != nil {
		return err
	}
	return writeString16(w, strings.Join(s.DeclarationArgs(), ", "))
}

// encodeRow appends one record: the rowid, then each declared column in
// schema order. Vector columns carry a length-prefixed raw payload, scalar
// columns a tag byte and the value.
func encodeRow(buf *bytes.Buffer, s *vec0.Schema, row *vec0.Row) error {
	if err := binary.Write(buf, binary.LittleEndian, row.Rowid); err != nil {
		return err
	}
	for _, c := range s.Columns {
		if c.Kind == vec0.KindVector {
			vec, ok := row.Vectors[c.Name]
			if !ok {
				return fmt.Errorf("vecio: row %d has no %q vector", row.Rowid, c.Name)
			}
			payload := vec.Bytes()
			if err := binary.Write(buf, binary.LittleEndian, uint32(len(payload))); err != nil {
				return err
			}
			buf.Write(payload)
			continue
		}
		if err := encodeScalar(buf, row.Values[c.Name]); err != nil {
			return fmt.Errorf("vecio: row %d column %q: %w", row.Rowid, c.Name, err)
		}
	}
	return nil
}

func encodeScalar(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteByte(tagNull)
	case int64:
		buf.WriteByte(tagInt)
		return binary.Write(buf, binary.LittleEndian, x)
	case float64:
		buf.WriteByte(tagFloat)
		return binary.Write(buf, binary.LittleEndian, x)
	case string:
		buf.WriteByte(tagText)
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(x))); err != nil {
			return err
		}
		buf.WriteString(x)
	case []byte:
		buf.WriteByte(tagBlob)
		if err := binary.Write(buf, binary.LittleEndian, uint32(len(x))); err != nil {
			return err
		}
		buf.Write(x)
	default:
		return fmt.Errorf("unsupported scalar type %T", v)
	}
	return nil
}

func writeString16(w io.Writer, s string) error {
	if len(s) > math.MaxUint16 {
		return fmt.Errorf("vecio: string of %d bytes does not fit the header", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// newCodecWriter wraps w in the selected compressor. The returned close
// function flushes and terminates the codec stream without closing w.
func newCodecWriter(codec Codec, w io.Writer) (io.Writer, func() error, error) {
	switch codec {
	case CodecNone:
		return w, func() error { return nil }, nil
	case CodecZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		return zw, zw.Close, nil
	case CodecLZ4:
		lw := lz4.NewWriter(w)
		return lw, lw.Close, nil
	}
	return nil, nil, fmt.Errorf("vecio: unknown codec %d", codec)
}
