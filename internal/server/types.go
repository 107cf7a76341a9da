package server

type ApplyRequest struct {
	Positions   []int     `json:"positions"`
	Query       []float32 `json:"query"`
	Key         []float32 `json:"key"`
	PromptLens  []int     `json:"prompt_lens,omitempty"`
	ContextLens []int     `json:"context_lens,omitempty"`
}

type ApplyResponse struct {
	ID    string    `json:"id"`
	Layer string    `json:"layer"`
	Query []float32 `json:"query"`
	Key   []float32 `json:"key"`
	Cache CacheInfo `json:"cache"`
}

type CacheInfo struct {
	CachedLength int     `json:"cached_length"`
	TableRows    int     `json:"table_rows"`
	CachedBase   float64 `json:"cached_base"`
	Alpha        float64 `json:"alpha"`
}

type LayerInfo struct {
	Name            string    `json:"name"`
	Kind            string    `json:"kind"`
	Style           string    `json:"style"`
	HeadSize        int       `json:"head_size"`
	RotaryDim       int       `json:"rotary_dim"`
	MaxPositions    int       `json:"max_position_embeddings"`
	Base            float64   `json:"base"`
	ScalingFactor   float64   `json:"scaling_factor,omitempty"`
	ReferenceLength int       `json:"reference_length,omitempty"`
	Rebuilds        int64     `json:"rebuilds"`
	Cache           CacheInfo `json:"cache"`
}

type LayerList struct {
	Layers []LayerInfo `json:"layers"`
}

type AlphaResponse struct {
	TrueLen         int     `json:"true_len"`
	ReferenceLength int     `json:"reference_length"`
	Alpha           float64 `json:"alpha"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
