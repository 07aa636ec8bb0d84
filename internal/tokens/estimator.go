// Package tokens implements the three-layer token budget control:
// per-tool output truncation (L1), cross-message pruning (L2), and
// history compaction (L3). A shared Estimator is the single source of
// truth for all budget arithmetic.
package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/openfork/openfork/pkg/models"
)

// charsPerToken is the approximate character-to-token ratio used by the
// default estimator.
const charsPerToken = 4

// Estimator converts text to an estimated token count. Implementations
// must be deterministic and O(n) in input length.
type Estimator interface {
	Estimate(text string) int
}

// CharEstimator is the default estimator: a ceiling division by four
// characters per token. It allocates nothing and is the baseline all
// thresholds in this package are tuned against.
type CharEstimator struct{}

func (CharEstimator) Estimate(text string) int {
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// TiktokenEstimator counts tokens with a real BPE encoding. It is
// noticeably slower than CharEstimator and is only used when precise
// counting is configured.
type TiktokenEstimator struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenEstimator loads the named encoding (e.g. "cl100k_base").
func NewTiktokenEstimator(encoding string) (*TiktokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
	}
	return &TiktokenEstimator{enc: enc}, nil
}

func (e *TiktokenEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return len(e.enc.Encode(text, nil, nil))
}

// EstimatePart estimates the token weight a part contributes to the
// provider request.
func EstimatePart(est Estimator, p *models.Part) int {
	if p == nil || p.Body == nil {
		return 0
	}
	switch body := p.Body.(type) {
	case *models.TextPart:
		return est.Estimate(body.Content)
	case *models.ReasoningPart:
		return est.Estimate(body.Content)
	case *models.ToolPart:
		return est.Estimate(body.Output) + est.Estimate(string(body.Input))
	case *models.FilePart:
		return est.Estimate(body.Content)
	case *models.PatchPart:
		return est.Estimate(body.Diff)
	case *models.CompactionPart:
		return est.Estimate(body.Summary)
	default:
		return 0
	}
}

// EstimateMessage sums the part estimates of one message.
func EstimateMessage(est Estimator, m *models.Message) int {
	if m == nil {
		return 0
	}
	total := 0
	for _, p := range m.Parts {
		total += EstimatePart(est, p)
	}
	return total
}

// EstimateHistory sums the estimates of every non-compacted message.
// Compacted messages are excluded because context builds replace them
// with their compaction part.
func EstimateHistory(est Estimator, history []*models.Message) int {
	total := 0
	for _, m := range history {
		if m.Compacted {
			continue
		}
		total += EstimateMessage(est, m)
	}
	return total
}
