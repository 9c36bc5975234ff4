package dataset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

const crcMaskDelta = 0xa282ead8

func maskedCRC(data []byte) uint32 {
	crc := crc32.Checksum(data, castagnoli)
	return ((crc >> 15) | (crc << 17)) + crcMaskDelta
}

// writeFrame writes one TFRecord frame: the payload length, a masked crc of
// the length, the payload, and a masked crc of the payload.
func writeFrame(w io.Writer, payload []byte) error {
	header := make([]byte, 12)
	binary.LittleEndian.PutUint64(header[:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))

	footer := make([]byte, 4)
	binary.LittleEndian.PutUint32(footer, maskedCRC(payload))

	for _, chunk := range [][]byte{header, payload, footer} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

// readFrame returns io.EOF when r is exhausted at a frame boundary.
func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: truncated header: %v", ErrInvalidRecord, err)
	}
	if maskedCRC(header[:8]) != binary.LittleEndian.Uint32(header[8:]) {
		return nil, fmt.Errorf("%w: length crc mismatch", ErrInvalidRecord)
	}

	length := binary.LittleEndian.Uint64(header[:8])
	if length > math.MaxInt32 {
		return nil, fmt.Errorf("%w: record length %d too large", ErrInvalidRecord, length)
	}

	body := make([]byte, length+4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: truncated payload: %v", ErrInvalidRecord, err)
	}
	payload := body[:length]
	if maskedCRC(payload) != binary.LittleEndian.Uint32(body[length:]) {
		return nil, fmt.Errorf("%w: payload crc mismatch", ErrInvalidRecord)
	}
	return payload, nil
}

// tf.train.Example field numbers.
const (
	exampleFeatures = 1
	featuresFeature = 1
	entryKey        = 1
	entryValue      = 2
	featureBytes    = 1
	featureFloats   = 2
	featureInt64s   = 3
	listValue       = 1
)

// feature holds exactly one of floats or ints.
type feature struct {
	floats []float32
	ints   []int64
}

func appendFeature(b []byte, f feature) []byte {
	var list []byte
	kind := protowire.Number(featureInt64s)
	if f.floats != nil {
		kind = featureFloats
		packed := make([]byte, 0, 4*len(f.floats))
		for _, v := range f.floats {
			packed = protowire.AppendFixed32(packed, math.Float32bits(v))
		}
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	} else {
		var packed []byte
		for _, v := range f.ints {
			packed = protowire.AppendVarint(packed, uint64(v))
		}
		list = protowire.AppendTag(list, listValue, protowire.BytesType)
		list = protowire.AppendBytes(list, packed)
	}

	b = protowire.AppendTag(b, kind, protowire.BytesType)
	return protowire.AppendBytes(b, list)
}

// encodeExample serializes features as a tf.train.Example. Keys are emitted
// in sorted order so the same features always give the same bytes.
func encodeExample(features map[string]feature) []byte {
	keys := make([]string, 0, len(features))
	for key := range features {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var featureMap []byte
	for _, key := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, entryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, key)
		entry = protowire.AppendTag(entry, entryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, appendFeature(nil, features[key]))

		featureMap = protowire.AppendTag(featureMap, featuresFeature, protowire.BytesType)
		featureMap = protowire.AppendBytes(featureMap, entry)
	}

	var example []byte
	example = protowire.AppendTag(example, exampleFeatures, protowire.BytesType)
	return protowire.AppendBytes(example, featureMap)
}

// walkFields calls fn for every field of the message in b.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		m := protowire.ConsumeFieldValue(num, typ, b)
		if m < 0 {
			return protowire.ParseError(m)
		}
		if err := fn(num, typ, b[:m]); err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func consumeBytesField(typ protowire.Type, value []byte) ([]byte, error) {
	if typ != protowire.BytesType {
		return nil, fmt.Errorf("unexpected wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(value)
	if n < 0 {
		return nil, protowire.ParseError(n)
	}
	return v, nil
}

func decodeList(kind protowire.Number, b []byte) (feature, error) {
	var f feature
	if kind == featureFloats {
		f.floats = []float32{}
	} else {
		f.ints = []int64{}
	}

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num != listValue {
			return nil
		}
		switch {
		case kind == featureFloats && typ == protowire.Fixed32Type:
			v, _ := protowire.ConsumeFixed32(value)
			f.floats = append(f.floats, math.Float32frombits(v))
		case kind == featureFloats && typ == protowire.BytesType:
			packed, _ := protowire.ConsumeBytes(value)
			for len(packed) > 0 {
				v, n := protowire.ConsumeFixed32(packed)
				if n < 0 {
					return protowire.ParseError(n)
				}
				f.floats = append(f.floats, math.Float32frombits(v))
				packed = packed[n:]
			}
		case kind == featureInt64s && typ == protowire.VarintType:
			v, _ := protowire.ConsumeVarint(value)
			f.ints = append(f.ints, int64(v))
		case kind == featureInt64s && typ == protowire.BytesType:
			packed, _ := protowire.ConsumeBytes(value)
			for len(packed) > 0 {
				v, n := protowire.ConsumeVarint(packed)
				if n < 0 {
					return protowire.ParseError(n)
				}
				f.ints = append(f.ints, int64(v))
				packed = packed[n:]
			}
		default:
			return fmt.Errorf("unexpected wire type %d in list", typ)
		}
		return nil
	})
	return f, err
}

func decodeFeature(b []byte) (feature, error) {
	var f feature
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num != featureFloats && num != featureInt64s {
			// bytes lists are not produced by this pipeline
			return nil
		}
		list, err := consumeBytesField(typ, value)
		if err != nil {
			return err
		}
		f, err = decodeList(num, list)
		return err
	})
	return f, err
}

func decodeExample(b []byte) (map[string]feature, error) {
	features := make(map[string]feature)

	err := walkFields(b, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num != exampleFeatures {
			return nil
		}
		featureMap, err := consumeBytesField(typ, value)
		if err != nil {
			return err
		}
		return walkFields(featureMap, func(num protowire.Number, typ protowire.Type, value []byte) error {
			if num != featuresFeature {
				return nil
			}
			entry, err := consumeBytesField(typ, value)
			if err != nil {
				return err
			}

			var key string
			var f feature
			err = walkFields(entry, func(num protowire.Number, typ protowire.Type, value []byte) error {
				field, err := consumeBytesField(typ, value)
				if err != nil {
					return err
				}
				switch num {
				case entryKey:
					key = string(field)
				case entryValue:
					f, err = decodeFeature(field)
				}
				return err
			})
			if err != nil {
				return err
			}
			features[key] = f
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: malformed example: %v", ErrInvalidRecord, err)
	}
	return features, nil
}
