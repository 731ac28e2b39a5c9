package session

import (
	"fmt"

	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/dunamismax/avatarcrop/internal/pipeline"
)

type Stage int

const (
	StageIdle Stage = iota
	StageSourceLoaded
	StageProcessed
	StageUploading
	StageComplete
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageSourceLoaded:
		return "source_loaded"
	case StageProcessed:
		return "processed"
	case StageUploading:
		return "uploading"
	case StageComplete:
		return "complete"
	default:
		return "unknown"
	}
}

func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Stage) UnmarshalText(text []byte) error {
	for st := StageIdle; st <= StageComplete; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session stage %q", text)
}

// state is one variant of the session. Each variant carries only the
// artifacts valid for its stage.
type state interface {
	stage() Stage
}

type idleState struct{}

func (idleState) stage() Stage { return StageIdle }

// sourceLoadedState is also the cropping stage: the UI shows the cropper
// whenever a source is held without a processed image.
type sourceLoadedState struct {
	source pipeline.Source
	crop   *domain.CropRect
}

func (sourceLoadedState) stage() Stage { return StageSourceLoaded }

// processedState keeps the source so the user can go back and recrop.
type processedState struct {
	source    pipeline.Source
	crop      *domain.CropRect
	processed domain.ProcessedImage
}

func (processedState) stage() Stage { return StageProcessed }

type uploadingState struct {
	processedState
}

func (uploadingState) stage() Stage { return StageUploading }

type completeState struct {
	result domain.UploadResult
}

func (completeState) stage() Stage { return StageComplete }

// heldSource returns the source owned by st, if any.
func heldSource(st state) pipeline.Source {
	switch v := st.(type) {
	case sourceLoadedState:
		return v.source
	case processedState:
		return v.source
	case uploadingState:
		return v.source
	default:
		return nil
	}
}

// Snapshot is a read-only view of the session for the UI.
type Snapshot struct {
	Stage      Stage            `json:"stage"`
	Cropping   bool             `json:"cropping"`
	Busy       bool             `json:"busy"`
	Source     string           `json:"source,omitempty"`
	Crop       *domain.CropRect `json:"crop,omitempty"`
	Processed  *ProcessedInfo   `json:"processed,omitempty"`
	URL        string           `json:"url,omitempty"`
	Error      string           `json:"error,omitempty"`
	Generation uint64           `json:"generation"`
}

type ProcessedInfo struct {
	Bytes  int    `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	MIME   string `json:"mime"`
}

func processedInfo(p domain.ProcessedImage) *ProcessedInfo {
	return &ProcessedInfo{
		Bytes:  p.Size(),
		Width:  p.Width,
		Height: p.Height,
		MIME:   p.MIME,
	}
}

func copyCrop(c *domain.CropRect) *domain.CropRect {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
