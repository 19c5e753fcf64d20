package api

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}

// CaptionRequest is the body of POST /v1/captions. Omitted fields fall back
// to the model's defaults.
type CaptionRequest struct {
	Model       string      `json:"model,omitempty"`
	Features    [][]float32 `json:"features"`
	Mode        string      `json:"mode,omitempty"`
	BeamSize    int         `json:"beam_size,omitempty"`
	Seed        int64       `json:"seed,omitempty"`
	Temperature float32     `json:"temperature,omitempty"`
	TopK        int         `json:"top_k,omitempty"`
	TopP        float32     `json:"top_p,omitempty"`
	NBest       bool        `json:"nbest,omitempty"`
	// RankBy is "normalized" (default) or "likelihood".
	RankBy string `json:"rank_by,omitempty"`
}

type CaptionResponse struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Data    []CaptionData `json:"data"`
	Usage   Usage         `json:"usage"`
}

type CaptionData struct {
	Index  int        `json:"index"`
	Text   string     `json:"text"`
	Tokens []int      `json:"tokens"`
	Beams  []BeamData `json:"beams,omitempty"`
}

type BeamData struct {
	Text           string  `json:"text"`
	Tokens         []int   `json:"tokens"`
	LogProb        float64 `json:"logprob"`
	NormNegLogProb float64 `json:"norm_neg_logprob"`
	Completed      bool    `json:"completed"`
}

type Usage struct {
	Items      int     `json:"items"`
	Steps      int64   `json:"steps"`
	DurationMS float64 `json:"duration_ms"`
}

// HiddenRequest is the body of POST /v1/hidden. When Sequences is set the
// given captions are fed instead of decoding greedily.
type HiddenRequest struct {
	Model     string      `json:"model,omitempty"`
	Features  [][]float32 `json:"features"`
	Sequences [][]int     `json:"sequences,omitempty"`
}

type HiddenResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Data    []HiddenData `json:"data"`
	Usage   Usage        `json:"usage"`
}

type HiddenData struct {
	Index  int       `json:"index"`
	Text   string    `json:"text"`
	Tokens []int     `json:"tokens"`
	Hidden []float32 `json:"hidden"`
}

type ModelData struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
	// Details is only present for models that are already loaded.
	Details any `json:"details,omitempty"`
}

type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelData `json:"data"`
}
