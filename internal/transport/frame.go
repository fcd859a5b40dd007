package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/mmo-overlay/internal/model"
)

// Поля кадра в protobuf-совместимой разметке
const (
	fieldSeq         protowire.Number = 1
	fieldType        protowire.Number = 2
	fieldID          protowire.Number = 3
	fieldReliability protowire.Number = 4
	fieldCompression protowire.Number = 5
	fieldPayload     protowire.Number = 6
)

// maxFrameSize ограничение длины кадра при чтении
const maxFrameSize = 1 << 20

// Frame кадр пакета на проводе
type Frame struct {
	Seq         uint32
	Type        PacketType
	ID          model.NetworkID
	Reliability Reliability
	Compression string
	Payload     []byte
}

// MarshalFrame кодирует кадр без заголовка длины
func MarshalFrame(f Frame) []byte {
	b := make([]byte, 0, 32+len(f.Payload))
	b = protowire.AppendTag(b, fieldSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Seq))
	b = protowire.AppendTag(b, fieldType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.ID))
	b = protowire.AppendTag(b, fieldReliability, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Reliability))
	if f.Compression != "" {
		b = protowire.AppendTag(b, fieldCompression, protowire.BytesType)
		b = protowire.AppendString(b, f.Compression)
	}
	if len(f.Payload) > 0 {
		b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Payload)
	}
	return b
}

// UnmarshalFrame декодирует кадр; неизвестные поля пропускаются
func UnmarshalFrame(b []byte) (Frame, error) {
	var f Frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Frame{}, fmt.Errorf("frame tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType && num <= fieldReliability:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("frame field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldSeq:
				f.Seq = uint32(v)
			case fieldType:
				f.Type = PacketType(v)
			case fieldID:
				f.ID = model.NetworkID(v)
			case fieldReliability:
				f.Reliability = Reliability(v)
			}
		case typ == protowire.BytesType && (num == fieldCompression || num == fieldPayload):
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Frame{}, fmt.Errorf("frame field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
			if num == fieldCompression {
				f.Compression = string(v)
			} else {
				f.Payload = append([]byte(nil), v...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Frame{}, fmt.Errorf("frame field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return f, nil
}

// WriteFrame пишет кадр с 4-байтным заголовком длины
func WriteFrame(w io.Writer, f Frame) error {
	body := MarshalFrame(f)
	buf := make([]byte, 4, 4+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(len(body)))
	buf = append(buf, body...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame читает один кадр из потока
func ReadFrame(r io.Reader) (Frame, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length > maxFrameSize {
		return Frame{}, fmt.Errorf("frame too large: %d", length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("frame body: %w", err)
	}
	return UnmarshalFrame(body)
}
