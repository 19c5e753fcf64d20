package api

import (
	"context"
	"strings"
	"time"

	"github.com/samcharles93/rnncap/internal/captioner"
)

type CaptionService struct {
	provider EngineProvider
}

func NewCaptionService(provider EngineProvider) *CaptionService {
	return &CaptionService{provider: provider}
}

func (s *CaptionService) CreateCaptions(ctx context.Context, req *CaptionRequest) (*CaptionResponse, error) {
	if len(req.Features) == 0 {
		return nil, newInvalidRequest("features", "features must contain at least one row")
	}
	var byLikelihood bool
	switch strings.ToLower(strings.TrimSpace(req.RankBy)) {
	case "", "normalized":
	case "likelihood":
		byLikelihood = true
	default:
		return nil, newInvalidRequest("rank_by", "rank_by must be normalized or likelihood")
	}

	resp := &CaptionResponse{
		ID:      newCaptionID(),
		Object:  "caption.list",
		Created: timeNow().Unix(),
	}
	err := s.provider.WithEngine(ctx, req.Model, func(engine captioner.Engine) error {
		result, err := engine.Caption(ctx, &captioner.Request{
			Features:         req.Features,
			Mode:             req.Mode,
			BeamSize:         req.BeamSize,
			Seed:             req.Seed,
			Temperature:      req.Temperature,
			TopK:             req.TopK,
			TopP:             req.TopP,
			RankByLikelihood: byLikelihood,
			NBest:            req.NBest,
		})
		if err != nil {
			return err
		}
		resp.Model = engine.Info().Name
		resp.Data = make([]CaptionData, len(result.Captions))
		for i, c := range result.Captions {
			resp.Data[i] = CaptionData{
				Index:  c.Index,
				Text:   c.Text,
				Tokens: c.Tokens,
				Beams:  beamData(c.Beams),
			}
		}
		resp.Usage = usage(result.Stats)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *CaptionService) ExtractHidden(ctx context.Context, req *HiddenRequest) (*HiddenResponse, error) {
	if len(req.Features) == 0 {
		return nil, newInvalidRequest("features", "features must contain at least one row")
	}
	resp := &HiddenResponse{
		ID:      newHiddenID(),
		Object:  "hidden.list",
		Created: timeNow().Unix(),
	}
	err := s.provider.WithEngine(ctx, req.Model, func(engine captioner.Engine) error {
		result, err := engine.Hidden(ctx, &captioner.HiddenRequest{
			Features:  req.Features,
			Sequences: req.Sequences,
		})
		if err != nil {
			return err
		}
		resp.Model = engine.Info().Name
		resp.Data = make([]HiddenData, len(result.Items))
		for i, it := range result.Items {
			resp.Data[i] = HiddenData{
				Index:  it.Index,
				Text:   it.Text,
				Tokens: it.Tokens,
				Hidden: it.Hidden,
			}
		}
		resp.Usage = usage(result.Stats)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func beamData(beams []captioner.BeamText) []BeamData {
	if len(beams) == 0 {
		return nil
	}
	out := make([]BeamData, len(beams))
	for i, b := range beams {
		out[i] = BeamData{
			Text:           b.Text,
			Tokens:         b.Tokens,
			LogProb:        b.LogProb,
			NormNegLogProb: b.NormNegLogProb,
			Completed:      b.Completed,
		}
	}
	return out
}

func usage(s captioner.Stats) Usage {
	return Usage{
		Items:      s.Items,
		Steps:      s.Steps,
		DurationMS: float64(s.Duration) / float64(time.Millisecond),
	}
}

var timeNow = func() time.Time {
	return time.Now()
}
