package lm

import (
	"errors"
	"fmt"

	"github.com/samcharles93/rnncap/internal/safetensors"
	"github.com/samcharles93/rnncap/internal/tensor"
)

// Tensor names inside model.safetensors.
const (
	nameImageProj = "image_proj.weight"
	nameImageBias = "image_proj.bias"
	nameEmbed     = "embed.weight"
	nameOutProj   = "out_proj.weight"
	nameOutBias   = "out_proj.bias"
)

func lstmName(layer int, part string) string {
	return fmt.Sprintf("lstm.%d.%s", layer, part)
}

// Load reads weights for cfg from a safetensors file and validates them.
func Load(cfg Config, path string) (m *Model, err error) {
	m, err = New(cfg)
	if err != nil {
		return nil, err
	}
	f, err := safetensors.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open weights: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	loadMat := func(name string, dst *tensor.Mat) error {
		data, info, err := f.ReadTensorF32(name)
		if err != nil {
			return err
		}
		if len(info.Shape) != 2 || info.Shape[0] != dst.R || info.Shape[1] != dst.C {
			return fmt.Errorf("%w: %s has shape %v, want [%d %d]", ErrShapeMismatch, name, info.Shape, dst.R, dst.C)
		}
		*dst = tensor.NewMatFromData(dst.R, dst.C, data)
		return nil
	}
	loadVec := func(name string, dst []float32) error {
		data, _, err := f.ReadTensorF32(name)
		if err != nil {
			return err
		}
		if len(data) != len(dst) {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrShapeMismatch, name, len(data), len(dst))
		}
		copy(dst, data)
		return nil
	}

	if err := loadMat(nameImageProj, &m.ImageProj); err != nil {
		return nil, err
	}
	if err := loadVec(nameImageBias, m.ImageBias); err != nil {
		return nil, err
	}
	if err := loadMat(nameEmbed, &m.Embed); err != nil {
		return nil, err
	}
	for i, l := range m.RNN.Layers {
		if err := loadMat(lstmName(i, "wx"), &l.Wx); err != nil {
			return nil, err
		}
		if err := loadMat(lstmName(i, "wh"), &l.Wh); err != nil {
			return nil, err
		}
		if err := loadVec(lstmName(i, "bias"), l.Bias); err != nil {
			return nil, err
		}
	}
	if err := loadMat(nameOutProj, &m.OutProj); err != nil {
		return nil, err
	}
	if err := loadVec(nameOutBias, m.OutBias); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes every weight as F32 to a safetensors file.
func (m *Model) Save(path string) error {
	return m.SaveAs(path, "F32")
}

// SaveAs writes every weight with the given safetensors dtype (F32 or F16).
func (m *Model) SaveAs(path, dtype string) error {
	if err := m.Validate(); err != nil {
		return err
	}
	mat := func(name string, x tensor.Mat) safetensors.Tensor {
		c := x.Clone()
		return safetensors.Tensor{Name: name, Shape: []int{c.R, c.C}, Data: c.Data, DType: dtype}
	}
	vec := func(name string, x []float32) safetensors.Tensor {
		return safetensors.Tensor{Name: name, Shape: []int{len(x)}, Data: x, DType: dtype}
	}
	tensors := []safetensors.Tensor{
		mat(nameImageProj, m.ImageProj),
		vec(nameImageBias, m.ImageBias),
		mat(nameEmbed, m.Embed),
		mat(nameOutProj, m.OutProj),
		vec(nameOutBias, m.OutBias),
	}
	for i, l := range m.RNN.Layers {
		tensors = append(tensors,
			mat(lstmName(i, "wx"), l.Wx),
			mat(lstmName(i, "wh"), l.Wh),
			vec(lstmName(i, "bias"), l.Bias),
		)
	}
	return safetensors.Write(path, tensors, map[string]string{
		"format":     "rnncap",
		"num_layers": fmt.Sprint(len(m.RNN.Layers)),
	})
}

// ParamCount returns the number of scalar weights in the model.
func (m *Model) ParamCount() int {
	n := len(m.ImageProj.Data) + len(m.ImageBias) + len(m.Embed.Data) +
		len(m.OutProj.Data) + len(m.OutBias)
	for _, l := range m.RNN.Layers {
		n += len(l.Wx.Data) + len(l.Wh.Data) + len(l.Bias)
	}
	return n
}
