package pdf

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var disableConfigDir sync.Once

// Info is what the pipeline records about a rendered artifact.
type Info struct {
	PageCount int
	ByteSize  int
}

// Inspect validates a rendered PDF and counts its pages.
func Inspect(data []byte) (Info, error) {
	disableConfigDir.Do(api.DisableConfigDir)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return Info{}, fmt.Errorf("validate pdf: %w", err)
	}
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return Info{}, fmt.Errorf("count pdf pages: %w", err)
	}
	return Info{PageCount: pages, ByteSize: len(data)}, nil
}

// Inspector adapts Inspect to the document pipeline.
type Inspector struct{}

func (Inspector) PageCount(data []byte) (int, error) {
	info, err := Inspect(data)
	if err != nil {
		return 0, err
	}
	return info.PageCount, nil
}
