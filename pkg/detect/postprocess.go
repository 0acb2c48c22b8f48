package detect

import (
	"github.com/emergingrobotics/go-vpipe/pkg/meta"
	"github.com/emergingrobotics/go-vpipe/pkg/transform"
)

// Postprocessor decodes heads, suppresses overlaps and labels the result
type Postprocessor struct {
	cfg     Config
	decoder Decoder
}

// NewPostprocessor validates cfg and builds a postprocessor
func NewPostprocessor(cfg Config) (*Postprocessor, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Postprocessor{cfg: cfg, decoder: NewDecoder(cfg)}, nil
}

// Config returns the effective configuration
func (p *Postprocessor) Config() Config { return p.cfg }

// Candidates runs decode and suppression and returns the surviving boxes
func (p *Postprocessor) Candidates(heads []HeadTensor, origW, origH int) []transform.Candidate {
	cands := p.decoder.Decode(heads, origW, origH)
	if len(cands) == 0 {
		return nil
	}

	var kept []transform.Candidate
	if p.cfg.ClassAgnostic {
		kept = transform.NMSAllClasses(cands, p.cfg.NMSThreshold)
	} else {
		kept = transform.NMSPerClass(cands, p.cfg.NMSThreshold)
	}
	if p.cfg.MaxPerClass > 0 {
		kept = transform.LimitPerClass(kept, p.cfg.MaxPerClass)
	}
	return transform.TopK(kept, p.cfg.MaxDetections)
}

// Run returns labelled targets for one frame
func (p *Postprocessor) Run(heads []HeadTensor, origW, origH int, frameIndex uint64, channel int) []meta.DetectionTarget {
	kept := p.Candidates(heads, origW, origH)
	if len(kept) == 0 {
		return nil
	}

	targets := make([]meta.DetectionTarget, 0, len(kept))
	for _, c := range kept {
		targets = append(targets, ToTarget(c, p.cfg.Label(c.ClassID), frameIndex, channel))
	}
	return targets
}

// ToTarget converts a candidate to integer pixel corners. Width and height
// are the differences of the truncated corners.
func ToTarget(c transform.Candidate, label string, frameIndex uint64, channel int) meta.DetectionTarget {
	left, top := int(c.Box.X1), int(c.Box.Y1)
	right, bottom := int(c.Box.X2), int(c.Box.Y2)
	return meta.DetectionTarget{
		Left:       left,
		Top:        top,
		Width:      right - left,
		Height:     bottom - top,
		ClassID:    c.ClassID,
		Label:      label,
		Score:      c.Score,
		FrameIndex: frameIndex,
		Channel:    channel,
	}
}
