package classifier

import (
	"context"
	"errors"

	"github.com/example/skinsight/internal/acquisition"
	"github.com/example/skinsight/internal/prediction"
)

// DefaultEndpoint is the hosted classification API.
const DefaultEndpoint = "https://zrn2003-skinsight-ai.hf.space/predict"

// ErrAnalysisFailed covers every way a classification call can fail. Callers
// get no finer cause.
var ErrAnalysisFailed = errors.New("failed to analyze image")

// Status is the remote service's self-reported readiness.
type Status struct {
	Status       string `json:"status"`
	FilterLoaded bool   `json:"filter_loaded"`
	FusionLoaded bool   `json:"fusion_loaded"`
	Device       string `json:"device"`
}

// Ready reports whether the remote can diagnose, not just filter.
func (s *Status) Ready() bool {
	return s != nil && s.Status == "alive" && s.FilterLoaded && s.FusionLoaded
}

// Client exposes the subset of the remote service used by the analysis flow.
type Client interface {
	Classify(ctx context.Context, img acquisition.Image) (prediction.RawResponse, error)
	Ping(ctx context.Context) (*Status, error)
}
