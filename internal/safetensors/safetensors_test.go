package safetensors

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
)

// writeRaw writes a safetensors file from an arbitrary header and payload.
func writeRaw(t *testing.T, path string, header map[string]any, data []byte) {
	t.Helper()
	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	buf := append(lenBuf[:], headerBytes...)
	buf = append(buf, data...)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func entry(dtype string, shape []int, start, end int64) map[string]any {
	return map[string]any{"dtype": dtype, "shape": shape, "data_offsets": []int64{start, end}}
}

func openT(t *testing.T, path string) *File {
	t.Helper()
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestWriteThenOpen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "model.safetensors")

	err := Write(path, []Tensor{
		{Name: "out_proj.weight", Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}},
		{Name: "embed.weight", Shape: []int{1, 2}, Data: []float32{-0.5, 0.25}},
	}, map[string]string{"format": "rnncap"})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	f := openT(t, path)
	if f.Path != path {
		t.Fatalf("expected path %q, got %q", path, f.Path)
	}
	if f.Metadata["format"] != "rnncap" {
		t.Fatalf("metadata = %v", f.Metadata)
	}
	if f.DataStart%8 != 0 {
		t.Fatalf("data start %d is not 8-byte aligned", f.DataStart)
	}
	names := f.Names()
	if len(names) != 2 || names[0] != "embed.weight" || names[1] != "out_proj.weight" {
		t.Fatalf("names = %v", names)
	}

	got, info, err := f.ReadTensorF32("out_proj.weight")
	if err != nil {
		t.Fatalf("ReadTensorF32: %v", err)
	}
	if info.DType != "F32" || len(info.Shape) != 2 || info.Shape[0] != 2 || info.Shape[1] != 3 {
		t.Fatalf("info = %+v", info)
	}
	for i, want := range []float32{1, 2, 3, 4, 5, 6} {
		if got[i] != want {
			t.Fatalf("element %d: expected %f, got %f", i, want, got[i])
		}
	}
}

func TestWriteRejectsShapeMismatch(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	err := Write(path, []Tensor{{Name: "w", Shape: []int{2, 2}, Data: []float32{1, 2, 3}}}, nil)
	if err == nil {
		t.Fatal("expected error for shape mismatch")
	}
	err = Write(path, []Tensor{
		{Name: "w", Shape: []int{1}, Data: []float32{1}},
		{Name: "w", Shape: []int{1}, Data: []float32{2}},
	}, nil)
	if err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestOpenNonexistentFile(t *testing.T) {
	t.Parallel()
	if _, err := Open("/nonexistent/path/model.safetensors"); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestOpenTruncatedFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "truncated.safetensors")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("expected ErrCorruptFile, got %v", err)
	}
}

func TestOpenHeaderLongerThanFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "short.safetensors")
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], 1000)
	if err := os.WriteFile(path, append(lenBuf[:], '{', '}'), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("expected ErrCorruptFile, got %v", err)
	}
}

func TestOpenInvalidJSON(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "badjson.safetensors")
	header := []byte("{not json")
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(header)))
	if err := os.WriteFile(path, append(lenBuf[:], header...), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestOffsetsOutsideData(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		start int64
		end   int64
	}{
		{"past end", 0, 64},
		{"inverted", 8, 4},
		{"negative", -4, 4},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "offsets.safetensors")
			writeRaw(t, path, map[string]any{"w": entry("F32", []int{1}, tc.start, tc.end)}, make([]byte, 8))
			if _, err := Open(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTensorNotFound(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "one.safetensors")
	if err := Write(path, []Tensor{{Name: "a", Shape: []int{1}, Data: []float32{1}}}, nil); err != nil {
		t.Fatal(err)
	}
	f := openT(t, path)
	if _, ok := f.Tensor("missing"); ok {
		t.Fatal("expected missing tensor")
	}
	if _, _, err := f.ReadTensorF32("missing"); !errors.Is(err, ErrTensorNotFound) {
		t.Fatalf("expected ErrTensorNotFound, got %v", err)
	}
}

func TestReadAfterClose(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "closed.safetensors")
	if err := Write(path, []Tensor{{Name: "a", Shape: []int{1}, Data: []float32{1}}}, nil); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, _, err := f.ReadTensor("a"); err == nil {
		t.Fatal("expected error reading a closed file")
	}
}

func TestReadTensorHalfPrecision(t *testing.T) {
	t.Parallel()
	data := make([]byte, 8)
	binary.LittleEndian.PutUint16(data[0:], 0x3F80) // bf16 1.0
	binary.LittleEndian.PutUint16(data[2:], 0x4000) // bf16 2.0
	binary.LittleEndian.PutUint16(data[4:], 0x3C00) // f16 1.0
	binary.LittleEndian.PutUint16(data[6:], 0xBC00) // f16 -1.0

	path := filepath.Join(t.TempDir(), "half.safetensors")
	writeRaw(t, path, map[string]any{
		"b": entry("BF16", []int{2}, 0, 4),
		"h": entry("F16", []int{2}, 4, 8),
	}, data)
	f := openT(t, path)

	b, _, err := f.ReadTensorF32("b")
	if err != nil {
		t.Fatalf("bf16: %v", err)
	}
	if b[0] != 1 || b[1] != 2 {
		t.Fatalf("bf16 = %v", b)
	}
	h, _, err := f.ReadTensorF32("h")
	if err != nil {
		t.Fatalf("f16: %v", err)
	}
	if h[0] != 1 || h[1] != -1 {
		t.Fatalf("f16 = %v", h)
	}
}

func TestReadTensorRejectsBadData(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	writeRaw(t, path, map[string]any{
		"i8":    entry("I8", []int{4}, 0, 4),
		"short": entry("F32", []int{4}, 0, 8),
	}, make([]byte, 8))
	f := openT(t, path)

	if _, _, err := f.ReadTensorF32("i8"); err == nil {
		t.Fatal("expected unsupported dtype error")
	}
	if _, _, err := f.ReadTensorF32("short"); err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestNumElements(t *testing.T) {
	t.Parallel()

	tests := []struct {
		shape    []int
		expected int
		wantErr  bool
	}{
		{[]int{2, 3}, 6, false},
		{[]int{1}, 1, false},
		{[]int{4, 5, 6}, 120, false},
		{[]int{}, 0, true},
		{[]int{0}, 0, true},
		{[]int{2, -1}, 0, true},
	}

	for _, tc := range tests {
		n, err := numElements(tc.shape)
		if tc.wantErr {
			if err == nil {
				t.Errorf("numElements(%v): expected error", tc.shape)
			}
			continue
		}
		if err != nil {
			t.Errorf("numElements(%v): unexpected error: %v", tc.shape, err)
			continue
		}
		if n != tc.expected {
			t.Errorf("numElements(%v): expected %d, got %d", tc.shape, tc.expected, n)
		}
	}
}

func TestFp16ToFloat32(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    uint16
		expected float32
	}{
		{0x3C00, 1.0},
		{0x4000, 2.0},
		{0x0000, 0.0},
		{0x0001, float32(math.Ldexp(1, -24))}, // smallest subnormal
		{0x7C00, float32(math.Inf(1))},
	}

	for _, tc := range tests {
		result := fp16ToFloat32(tc.input)
		if result != tc.expected {
			t.Errorf("fp16ToFloat32(0x%04X): expected %g, got %g", tc.input, tc.expected, result)
		}
	}
}

func TestWriteHalfPrecision(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "half.safetensors")
	values := []float32{0.5, -2, 1024, 0}
	if err := Write(path, []Tensor{{Name: "h", Shape: []int{2, 2}, Data: values, DType: "F16"}}, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f := openT(t, path)
	info, _ := f.Tensor("h")
	if info.DType != "F16" || info.Size() != 8 {
		t.Fatalf("info = %+v", info)
	}
	got, _, err := f.ReadTensorF32("h")
	if err != nil {
		t.Fatalf("ReadTensorF32: %v", err)
	}
	for i, want := range values {
		if got[i] != want {
			t.Fatalf("element %d: expected %g, got %g", i, want, got[i])
		}
	}

	if err := Write(path, []Tensor{{Name: "q", Shape: []int{1}, Data: []float32{1}, DType: "Q4"}}, nil); err == nil {
		t.Fatal("expected error for unsupported dtype")
	}
}
