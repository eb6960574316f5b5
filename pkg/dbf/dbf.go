// Package dbf reads dBASE III style tables sequentially, a bounded batch of rows at a time.
package dbf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
)

const (
	headerSize      = 32
	fieldSize       = 32
	fieldTerminator = 0x0D
	deletedFlag     = '*'
)

type Field struct {
	Name     string
	Type     byte
	Length   int
	Decimals int
}

// Record maps upper-cased field names to their trimmed, decoded values.
type Record map[string]string

type Reader struct {
	Fields      []Field
	RecordCount int

	reader       *bufio.Reader
	recordLength int
	read         int
	decoder      *encoding.Decoder
}

// NewReader parses the table header. Text fields are decoded as windows-1252, the
// code page Dutch reference tables ship in.
func NewReader(r io.Reader) (*Reader, error) {
	reader := &Reader{reader: bufio.NewReader(r)}

	if enc, _ := charset.Lookup("windows-1252"); enc != nil {
		reader.decoder = enc.NewDecoder()
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(reader.reader, header); err != nil {
		return nil, fmt.Errorf("dbf header: %w", err)
	}

	reader.RecordCount = int(binary.LittleEndian.Uint32(header[4:8]))
	headerLength := int(binary.LittleEndian.Uint16(header[8:10]))
	reader.recordLength = int(binary.LittleEndian.Uint16(header[10:12]))

	consumed := headerSize
	for {
		peek, err := reader.reader.Peek(1)
		if err != nil {
			return nil, fmt.Errorf("dbf field descriptors: %w", err)
		}

		if peek[0] == fieldTerminator {
			reader.reader.Discard(1)
			consumed++
			break
		}

		descriptor := make([]byte, fieldSize)
		if _, err := io.ReadFull(reader.reader, descriptor); err != nil {
			return nil, fmt.Errorf("dbf field descriptors: %w", err)
		}
		consumed += fieldSize

		name := string(descriptor[0:11])
		if i := strings.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}

		reader.Fields = append(reader.Fields, Field{
			Name:     strings.ToUpper(strings.TrimSpace(name)),
			Type:     descriptor[11],
			Length:   int(descriptor[16]),
			Decimals: int(descriptor[17]),
		})
	}

	if len(reader.Fields) == 0 {
		return nil, errors.New("dbf: table has no fields")
	}

	if headerLength > consumed {
		if _, err := reader.reader.Discard(headerLength - consumed); err != nil {
			return nil, fmt.Errorf("dbf header padding: %w", err)
		}
	}

	width := 1
	for _, field := range reader.Fields {
		width += field.Length
	}
	if reader.recordLength < width {
		reader.recordLength = width
	}

	return reader, nil
}

// ReadRecords returns up to max live records. Deleted rows are skipped. It returns
// io.EOF once every record has been consumed.
func (r *Reader) ReadRecords(max int) ([]Record, error) {
	if r.read >= r.RecordCount {
		return nil, io.EOF
	}

	records := make([]Record, 0, max)
	raw := make([]byte, r.recordLength)

	for len(records) < max && r.read < r.RecordCount {
		if _, err := io.ReadFull(r.reader, raw); err != nil {
			return records, fmt.Errorf("dbf record %d: %w", r.read, err)
		}
		r.read++

		if raw[0] == deletedFlag {
			continue
		}

		record := make(Record, len(r.Fields))
		offset := 1
		for _, field := range r.Fields {
			record[field.Name] = r.decode(raw[offset : offset+field.Length])
			offset += field.Length
		}

		records = append(records, record)
	}

	return records, nil
}

func (r *Reader) decode(value []byte) string {
	text := string(value)
	if r.decoder != nil {
		if decoded, err := r.decoder.String(text); err == nil {
			text = decoded
		}
	}

	return strings.TrimSpace(strings.TrimRight(text, "\x00"))
}
