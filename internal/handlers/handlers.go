package handlers

import (
	"sync"
	"time"

	"photo-rater/internal/pipeline"
	"photo-rater/internal/scanner"
	"photo-rater/internal/startup"
	"photo-rater/internal/transcode"
)

type Handlers struct {
	library    *scanner.Library
	pipeline   *pipeline.Pipeline
	transcodes *transcode.Cache
	config     *startup.Config
	startTime  time.Time

	mu             sync.Mutex
	lastScan       time.Time
	lastPhotoCount int
	scanning       bool
}

func New(library *scanner.Library, p *pipeline.Pipeline, tc *transcode.Cache, config *startup.Config) *Handlers {
	return &Handlers{
		library:    library,
		pipeline:   p,
		transcodes: tc,
		config:     config,
		startTime:  time.Now(),
	}
}
