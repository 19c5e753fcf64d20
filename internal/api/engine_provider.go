package api

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/samcharles93/rnncap/internal/captioner"
)

type EngineProvider interface {
	WithEngine(ctx context.Context, modelID string, fn func(engine captioner.Engine) error) error
}

type EngineProviderConfig struct {
	DefaultModelPath string
	ModelsPath       string
	Loader           captioner.Loader
}

// CachedEngineProvider loads each model directory once and shares the
// engine between requests.
type CachedEngineProvider struct {
	cfg   EngineProviderConfig
	mu    sync.Mutex
	cache map[string]captioner.Engine
	load  func(dir string) (captioner.Engine, error)
}

const envModelsDir = "RNNCAP_MODELS_DIR"

func NewCachedEngineProvider(cfg EngineProviderConfig) *CachedEngineProvider {
	p := &CachedEngineProvider{
		cfg:   cfg,
		cache: make(map[string]captioner.Engine),
	}
	p.load = func(dir string) (captioner.Engine, error) {
		return p.cfg.Loader.Load(dir)
	}
	return p
}

func (p *CachedEngineProvider) WithEngine(ctx context.Context, modelID string, fn func(engine captioner.Engine) error) error {
	path, err := p.resolveModelPath(modelID)
	if err != nil {
		return err
	}
	engine, err := p.getOrLoad(path)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(engine)
}

// Loaded returns the info of every engine loaded so far, keyed by name.
func (p *CachedEngineProvider) Loaded() map[string]captioner.ModelInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]captioner.ModelInfo, len(p.cache))
	for _, e := range p.cache {
		info := e.Info()
		out[info.Name] = info
	}
	return out
}

// Close closes every cached engine.
func (p *CachedEngineProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for path, e := range p.cache {
		if err := e.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.cache, path)
	}
	return first
}

func (p *CachedEngineProvider) getOrLoad(path string) (captioner.Engine, error) {
	p.mu.Lock()
	engine, ok := p.cache[path]
	p.mu.Unlock()
	if ok {
		return engine, nil
	}

	loaded, err := p.load(path)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.cache[path]; ok {
		_ = loaded.Close()
		return existing, nil
	}
	p.cache[path] = loaded
	return loaded, nil
}

// ListModels returns the names of the model directories the provider can
// serve, sorted.
func (p *CachedEngineProvider) ListModels() ([]string, error) {
	var names []string
	if p.cfg.DefaultModelPath != "" {
		names = append(names, filepath.Base(filepath.Clean(p.cfg.DefaultModelPath)))
	}
	if dir := p.modelsDir(); dir != "" {
		found, err := discoverModels(dir)
		if err != nil {
			return nil, err
		}
		for _, m := range found {
			names = append(names, filepath.Base(m))
		}
	}
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (p *CachedEngineProvider) resolveModelPath(modelID string) (string, error) {
	modelID = strings.TrimSpace(modelID)
	if modelID != "" {
		if strings.ContainsRune(modelID, filepath.Separator) {
			return filepath.Clean(modelID), nil
		}
		if p.cfg.DefaultModelPath != "" && filepath.Base(filepath.Clean(p.cfg.DefaultModelPath)) == modelID {
			return filepath.Clean(p.cfg.DefaultModelPath), nil
		}
		modelsDir := p.modelsDir()
		if modelsDir == "" {
			return "", newInvalidRequest("model", fmt.Sprintf("model %q not found", modelID))
		}
		cand := filepath.Join(modelsDir, modelID)
		if isModelDir(cand) {
			return cand, nil
		}
		return "", newInvalidRequest("model", fmt.Sprintf("model %q not found in %s", modelID, modelsDir))
	}

	if p.cfg.DefaultModelPath != "" {
		return filepath.Clean(p.cfg.DefaultModelPath), nil
	}
	modelsDir := p.modelsDir()
	if modelsDir == "" {
		return "", newInvalidRequest("model", "model is required")
	}
	models, err := discoverModels(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 1:
		return models[0], nil
	case 0:
		return "", fmt.Errorf("no models found in %s", modelsDir)
	default:
		return "", newInvalidRequest("model", fmt.Sprintf("multiple models found in %s; specify model", modelsDir))
	}
}

func (p *CachedEngineProvider) modelsDir() string {
	if strings.TrimSpace(p.cfg.ModelsPath) != "" {
		return strings.TrimSpace(p.cfg.ModelsPath)
	}
	return strings.TrimSpace(os.Getenv(envModelsDir))
}

// discoverModels returns the subdirectories of dir that hold a config.yaml.
func discoverModels(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		cand := filepath.Join(dir, e.Name())
		if isModelDir(cand) {
			models = append(models, cand)
		}
	}
	return models, nil
}

func isModelDir(path string) bool {
	_, err := os.Stat(filepath.Join(path, captioner.ConfigFile))
	return err == nil
}
