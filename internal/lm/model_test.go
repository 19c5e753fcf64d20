package lm

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/rnncap/internal/tensor"
)

func testConfig() Config {
	return Config{
		VocabSize:  5,
		InputSize:  6,
		EmbedSize:  4,
		HiddenSize: 3,
		NumLayers:  2,
		SeqLength:  5,
	}
}

func randomModel(t *testing.T) *Model {
	t.Helper()
	m, err := New(testConfig())
	require.NoError(t, err)
	m.RandomInit(7)
	// Scale weights up so hidden states and logits differ visibly.
	for _, mat := range []*tensor.Mat{&m.ImageProj, &m.Embed, &m.OutProj} {
		for i := range mat.Data {
			mat.Data[i] *= 50
		}
	}
	for _, l := range m.RNN.Layers {
		for i := range l.Wx.Data {
			l.Wx.Data[i] *= 50
		}
		for i := range l.Wh.Data {
			l.Wh.Data[i] *= 50
		}
	}
	require.NoError(t, m.Validate())
	return m
}

func testFeatures(rows int) tensor.Mat {
	f := tensor.NewMat(rows, testConfig().InputSize)
	tensor.FillRandScale(&f, 99, 4)
	return f
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing vocab", func(c *Config) { c.VocabSize = 0 }, false},
		{"zero hidden", func(c *Config) { c.HiddenSize = 0 }, false},
		{"negative layers", func(c *Config) { c.NumLayers = -1 }, false},
		{"zero horizon", func(c *Config) { c.SeqLength = 0 }, false},
		{"negative beam", func(c *Config) { c.BeamSize = -2 }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestEmbedTokensRange(t *testing.T) {
	t.Parallel()
	m := randomModel(t)
	v := m.VocabSize()

	e := m.EmbedTokens([]int{1, v + 1, v + 2})
	require.Equal(t, 3, e.R)
	assert.Equal(t, m.Embed.Row(v+2), e.Row(2))

	assert.Panics(t, func() { m.EmbedTokens([]int{0}) })
	assert.Panics(t, func() { m.EmbedTokens([]int{v + 3}) })
}

func TestEncodeConditioningIsRectified(t *testing.T) {
	t.Parallel()
	m := randomModel(t)
	f := testFeatures(3)
	e := m.EncodeConditioning(&f)
	require.Equal(t, 3, e.R)
	require.Equal(t, m.Config.EmbedSize, e.C)
	for _, v := range e.Data {
		assert.GreaterOrEqual(t, v, float32(0))
	}
}

func TestProjectLogitsWidth(t *testing.T) {
	t.Parallel()
	m := randomModel(t)
	h := tensor.NewMat(2, m.HiddenSize())
	logits := m.ProjectLogits(&h)
	assert.Equal(t, m.VocabSize()+1, logits.C)
	// Zero hidden rows project to the bias.
	assert.Equal(t, m.OutBias, logits.Row(1))
}

func TestStepWithoutPersistIgnoresState(t *testing.T) {
	t.Parallel()
	m := randomModel(t)
	f := testFeatures(2)
	cond := m.EncodeConditioning(&f)
	_, warm := m.Step(m.NewState(2), cond, true)

	in := m.EmbedTokens([]int{1, 2})
	fromZero, zeroNext := m.Step(m.NewState(2), in, true)
	ignored, ignoredNext := m.Step(warm, in, false)
	assert.Equal(t, fromZero.Data, ignored.Data)
	assert.Equal(t, zeroNext.Top().Hidden.Data, ignoredNext.Top().Hidden.Data)

	persisted, _ := m.Step(warm, in, true)
	assert.NotEqual(t, fromZero.Data, persisted.Data)
}

func TestStepDoesNotMutateState(t *testing.T) {
	t.Parallel()
	m := randomModel(t)
	f := testFeatures(1)
	_, st := m.Step(m.NewState(1), m.EncodeConditioning(&f), true)
	before := st.Clone()
	_, _ = m.Step(st, m.EmbedTokens([]int{3}), true)
	for i := range st.Layers {
		assert.Equal(t, before.Layers[i].Hidden.Data, st.Layers[i].Hidden.Data)
		assert.Equal(t, before.Layers[i].Cell.Data, st.Layers[i].Cell.Data)
	}
}

func TestStepBatchGrowsAfterDuplicate(t *testing.T) {
	t.Parallel()
	m := randomModel(t)
	f := testFeatures(1)
	_, st := m.Step(m.NewState(1), m.EncodeConditioning(&f), true)

	single, _ := m.Step(st, m.EmbedTokens([]int{2}), true)
	wide, next := m.Step(st.Duplicate([]int{0, 0, 0}), m.EmbedTokens([]int{2, 2, 2}), true)
	require.Equal(t, 3, next.Rows())
	for r := 0; r < 3; r++ {
		assert.Equal(t, single.Row(0), wide.Row(r))
	}
}

func TestForward(t *testing.T) {
	t.Parallel()
	m := randomModel(t)
	f := testFeatures(2)
	gt := [][]int{{1, 2, 0, 0}, {3, 3, 3, 4}}

	out, err := m.Forward(&f, gt)
	require.NoError(t, err)
	require.Len(t, out, len(gt[0])+2)

	cond, _ := m.Step(m.NewState(2), m.EncodeConditioning(&f), true)
	assert.Equal(t, cond.Data, out[0].Data)
	for _, l := range out {
		assert.Equal(t, 2, l.R)
		assert.Equal(t, m.VocabSize()+1, l.C)
	}
}

func TestForwardBatchMismatch(t *testing.T) {
	t.Parallel()
	m := randomModel(t)
	f := testFeatures(3)
	_, err := m.Forward(&f, [][]int{{1, 2}})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = m.Forward(&f, [][]int{{1}, {1, 2}, {1}})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	wrong := tensor.NewMat(1, m.Config.InputSize+1)
	_, err = m.Forward(&wrong, [][]int{{1}})
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}

func TestTarget(t *testing.T) {
	t.Parallel()
	const v = 5
	got := Target([][]int{{1, 2, 0, 0}, {3, 3, 3, 4}}, v)
	assert.Equal(t, [][]int{
		{0, 1, 2, v + 1, 0, 0},
		{0, 3, 3, 3, 4, v + 1},
	}, got)
}

func TestSequenceLossUniformLogits(t *testing.T) {
	t.Parallel()
	m, err := New(testConfig())
	require.NoError(t, err)
	f := testFeatures(2)
	gt := [][]int{{1, 2, 0}, {4, 4, 4}}

	out, err := m.Forward(&f, gt)
	require.NoError(t, err)
	loss, err := SequenceLoss(out, Target(gt, m.VocabSize()))
	require.NoError(t, err)
	// All-zero weights give uniform predictions over V+1 outputs.
	assert.InDelta(t, math.Log(float64(m.VocabSize()+1)), loss, 1e-6)
}

func TestSequenceLossShapeErrors(t *testing.T) {
	t.Parallel()
	logits := []tensor.Mat{tensor.NewMat(1, 3), tensor.NewMat(1, 3)}
	_, err := SequenceLoss(logits, [][]int{{0, 1, 2}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = SequenceLoss(logits, [][]int{{0, 4}})
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	m := randomModel(t)
	dir := t.TempDir()
	weights := filepath.Join(dir, "model.safetensors")
	cfgPath := filepath.Join(dir, "config.yaml")

	require.NoError(t, m.Save(weights))
	require.NoError(t, SaveConfig(cfgPath, m.Config))

	cfg, err := LoadConfig(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, m.Config, cfg)

	loaded, err := Load(cfg, weights)
	require.NoError(t, err)
	assert.Equal(t, m.ImageProj.Data, loaded.ImageProj.Data)
	assert.Equal(t, m.Embed.Data, loaded.Embed.Data)
	assert.Equal(t, m.OutBias, loaded.OutBias)
	for i := range m.RNN.Layers {
		assert.Equal(t, m.RNN.Layers[i].Wh.Data, loaded.RNN.Layers[i].Wh.Data)
	}
	assert.Equal(t, m.ParamCount(), loaded.ParamCount())
}

func TestLoadRejectsWrongShape(t *testing.T) {
	t.Parallel()
	m := randomModel(t)
	weights := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, m.Save(weights))

	cfg := m.Config
	cfg.HiddenSize++
	_, err := Load(cfg, weights)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestSaveAsHalfPrecision(t *testing.T) {
	t.Parallel()
	m := randomModel(t)
	weights := filepath.Join(t.TempDir(), "model.safetensors")
	require.NoError(t, m.SaveAs(weights, "F16"))

	loaded, err := Load(m.Config, weights)
	require.NoError(t, err)
	for i, want := range m.Embed.Data {
		assert.InDelta(t, want, loaded.Embed.Data[i], 2e-3)
	}
	assert.Error(t, m.SaveAs(weights, "Q8"))
}
