package safetensors

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sort"

	"github.com/goccy/go-json"
	"github.com/x448/float16"
)

// Tensor is a named float32 tensor. DType selects the stored encoding: "F32"
// (the default when empty) or "F16".
type Tensor struct {
	Name  string
	Shape []int
	Data  []float32
	DType string
}

func (t Tensor) dtype() (string, int64, error) {
	switch t.DType {
	case "", "F32":
		return "F32", 4, nil
	case "F16":
		return "F16", 2, nil
	default:
		return "", 0, fmt.Errorf("tensor %s: cannot write dtype %s", t.Name, t.DType)
	}
}

// Write stores tensors (sorted by name) and optional string metadata at path.
// The header is padded with spaces so tensor data starts 8-byte aligned.
func Write(path string, tensors []Tensor, metadata map[string]string) error {
	sorted := append([]Tensor(nil), tensors...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	header := make(map[string]any, len(sorted)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var off int64
	for _, t := range sorted {
		n, err := numElements(t.Shape)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", t.Name, err)
		}
		if n != len(t.Data) {
			return fmt.Errorf("tensor %s: shape %v holds %d values, got %d", t.Name, t.Shape, n, len(t.Data))
		}
		if _, dup := header[t.Name]; dup {
			return fmt.Errorf("tensor %s: duplicate name", t.Name)
		}
		dtype, width, err := t.dtype()
		if err != nil {
			return err
		}
		size := int64(n) * width
		header[t.Name] = tensorHeader{
			DType:       dtype,
			Shape:       t.Shape,
			DataOffsets: []int64{off, off + size},
		}
		off += size
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("safetensors: encode header: %w", err)
	}
	for (8+len(headerBytes))%8 != 0 {
		headerBytes = append(headerBytes, ' ')
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	writeErr := func() error {
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(headerBytes); err != nil {
			return err
		}
		var buf [4]byte
		for _, t := range sorted {
			half := t.DType == "F16"
			for _, v := range t.Data {
				b := buf[:4]
				if half {
					b = buf[:2]
					binary.LittleEndian.PutUint16(b, float16.Fromfloat32(v).Bits())
				} else {
					binary.LittleEndian.PutUint32(b, math.Float32bits(v))
				}
				if _, err := w.Write(b); err != nil {
					return err
				}
			}
		}
		return w.Flush()
	}()
	if closeErr := f.Close(); writeErr == nil {
		writeErr = closeErr
	}
	return writeErr
}
