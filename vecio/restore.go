package vecio

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/viant/vec0/vec0"
	"github.com/viant/vec0/vector"
)

type snapshotHeader struct {
	codec Codec
	name  string
	decl  string
}

// Restore reads a snapshot from r and loads it into db. When the table named
// in the snapshot does not exist it is recreated from the embedded
// declaration, which requires a handle with the vec0 module registered; when
// it exists its declaration must match the snapshot's. All rows are inserted
// in one transaction, so rowid collisions roll the whole restore back.
func Restore(ctx context.Context, db *sql.DB, r io.Reader) error {
	hdr, err := readHeader(r)
	if err != nil {
		return err
	}
	schema, err := hdr.schema()
	if err != nil {
		return err
	}
	table, err := ensureTarget(ctx, db, schema)
	if err != nil {
		return err
	}
	return restoreRows(ctx, table, hdr.codec, r)
}

// RestoreTable reads a snapshot from r into an already open table handle.
// The handle's declaration must match the snapshot's.
func RestoreTable(ctx context.Context, t *vec0.Table, r io.Reader) error {
	hdr, err := readHeader(r)
	if err != nil {
		return err
	}
	schema, err := hdr.schema()
	if err != nil {
		return err
	}
	if !compatible(t.Schema(), schema) {
		return fmt.Errorf("vecio: snapshot of %s does not match the target declaration", schema.Name)
	}
	return restoreRows(ctx, t, hdr.codec, r)
}

func readHeader(r io.Reader) (*snapshotHeader, error) {
	magic := make([]byte, len(snapMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("vecio: reading snapshot header: %w", err)
	}
	if string(magic) != snapMagic {
		return nil, errors.New("vecio: not a vec0 snapshot")
	}
	var meta [2]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return nil, fmt.Errorf("vecio: reading snapshot header: %w", err)
	}
	if meta[0] != snapVersion {
		return nil, fmt.Errorf("vecio: unsupported snapshot version %d", meta[0])
	}
	codec := Codec(meta[1])
	switch codec {
	case CodecNone, CodecZstd, CodecLZ4:
	default:
		return nil, fmt.Errorf("vecio: unknown codec byte %d", meta[1])
	}
	name, err := readString16(r)
	if err != nil {
		return nil, fmt.Errorf("vecio: reading snapshot header: %w", err)
	}
	decl, err := readString16(r)
	if err != nil {
		return nil, fmt.Errorf("vecio: reading snapshot header: %w", err)
	}
	return &snapshotHeader{codec: codec, name: name, decl: decl}, nil
}

func (h *snapshotHeader) schema() (*vec0.Schema, error) {
	args := strings.Split(h.decl, ",")
	for i := range args {
		args[i] = strings.TrimSpace(args[i])
	}
	schema, err := vec0.ParseSchema("", h.name, args)
	if err != nil {
		return nil, fmt.Errorf("vecio: snapshot declaration: %w", err)
	}
	return schema, nil
}

// ensureTarget resolves the restore destination: an existing compatible vec0
// table, or a freshly declared one.
func ensureTarget(ctx context.Context, db *sql.DB, schema *vec0.Schema) (*vec0.Table, error) {
	var exists int
	err := db.QueryRowContext(ctx,
		`SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?`, schema.Name).Scan(&exists)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		ddl := fmt.Sprintf("CREATE VIRTUAL TABLE %s USING vec0(%s)",
			quoteIdent(schema.Name), strings.Join(schema.DeclarationArgs(), ", "))
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("vecio: recreating %s: %w", schema.Name, err)
		}
	case err != nil:
		return nil, err
	default:
		existing, err := vec0.LoadSchema(ctx, db, schema.Name)
		if err != nil {
			return nil, err
		}
		if !compatible(existing, schema) {
			return nil, fmt.Errorf("vecio: table %s exists with an incompatible declaration", schema.Name)
		}
	}
	return vec0.NewTable(db, schema), nil
}

func compatible(a, b *vec0.Schema) bool {
	return strings.Join(a.DeclarationArgs(), ", ") == strings.Join(b.DeclarationArgs(), ", ")
}

// restoreRows decodes the record stream, verifies the trailer, and writes all
// rows in one transaction.
func restoreRows(ctx context.Context, t *vec0.Table, codec Codec, r io.Reader) error {
	cr, closeCodec, err := newCodecReader(codec, r)
	if err != nil {
		return err
	}
	defer closeCodec()
	s := t.Schema()
	crc := crc32.NewIEEE()
	tee := io.TeeReader(cr, crc)
	var rows []vec0.Row
	for {
		var marker [1]byte
		if _, err := io.ReadFull(cr, marker[:]); err != nil {
			return fmt.Errorf("vecio: reading snapshot body: %w", err)
		}
		if marker[0] == trailerMarker {
			break
		}
		if marker[0] != recordMarker {
			return fmt.Errorf("vecio: corrupt snapshot: unexpected marker %#x", marker[0])
		}
		row, err := decodeRow(tee, s)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	var count uint64
	if err := binary.Read(cr, binary.LittleEndian, &count); err != nil {
		return fmt.Errorf("vecio: reading snapshot trailer: %w", err)
	}
	var sum uint32
	if err := binary.Read(cr, binary.LittleEndian, &sum); err != nil {
		return fmt.Errorf("vecio: reading snapshot trailer: %w", err)
	}
	if count != uint64(len(rows)) {
		return fmt.Errorf("vecio: snapshot row count mismatch: stream has %d rows, trailer says %d",
			len(rows), count)
	}
	if sum != crc.Sum32() {
		return errors.New("vecio: snapshot checksum mismatch")
	}
	return t.InsertBatch(ctx, rows)
}

func decodeRow(r io.Reader, s *vec0.Schema) (vec0.Row, error) {
	var rowid int64
	if err := binary.Read(r, binary.LittleEndian, &rowid); err != nil {
		return vec0.Row{}, fmt.Errorf("vecio: reading snapshot row: %w", err)
	}
	row := vec0.Row{
		Rowid:   rowid,
		Vectors: make(map[string]vector.Vector),
		Values:  make(map[string]any),
	}
	for _, c := range s.Columns {
		if c.Kind == vec0.KindVector {
			var n uint32
			if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
				return vec0.Row{}, fmt.Errorf("vecio: row %d column %q: %w", rowid, c.Name, err)
			}
			want := vector.PayloadSize(c.Type, c.Dims)
			if int(n) != want {
				return vec0.Row{}, fmt.Errorf("vecio: row %d column %q payload is %d bytes, want %d",
					rowid, c.Name, n, want)
			}
			payload := make([]byte, n)
			if _, err := io.ReadFull(r, payload); err != nil {
				return vec0.Row{}, fmt.Errorf("vecio: row %d column %q: %w", rowid, c.Name, err)
			}
			vec, err := vector.FromBlob(payload, c.Type, c.Dims)
			if err != nil {
				return vec0.Row{}, fmt.Errorf("vecio: row %d column %q: %w", rowid, c.Name, err)
			}
			row.Vectors[c.Name] = vec
			continue
		}
		v, err := decodeScalar(r)
		if err != nil {
			return vec0.Row{}, fmt.Errorf("vecio: row %d column %q: %w", rowid, c.Name, err)
		}
		row.Values[c.Name] = v
	}
	return row, nil
}

func decodeScalar(r io.Reader) (any, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, err
	}
	switch tag[0] {
	case tagNull:
		return nil, nil
	case tagInt:
		var v int64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case tagFloat:
		var v float64
		err := binary.Read(r, binary.LittleEndian, &v)
		return v, err
	case tagText:
		b, err := readBytes32(r)
		return string(b), err
	case tagBlob:
		return readBytes32(r)
	}
	return nil, fmt.Errorf("unknown scalar tag %d", tag[0])
}

func readBytes32(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readString16(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// newCodecReader unwraps the compression selected by the snapshot header.
func newCodecReader(codec Codec, r io.Reader) (io.Reader, func(), error) {
	switch codec {
	case CodecNone:
		return r, func() {}, nil
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case CodecLZ4:
		return lz4.NewReader(r), func() {}, nil
	}
	return nil, nil, fmt.Errorf("vecio: unknown codec byte %d", codec)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
