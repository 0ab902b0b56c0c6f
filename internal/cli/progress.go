package cli

import (
	"fmt"
	"io"

	"github.com/cheggaaa/pb/v3"
)

const uploadBarTemplate = `Uploading {{counters . }} {{bar . }} {{percent . }} {{string . "file"}} {{string . "failed"}}`

// uploadProgress draws the upload stage as a terminal progress bar
type uploadProgress struct {
	w      io.Writer
	bar    *pb.ProgressBar
	failed int
}

func newUploadProgress(w io.Writer) *uploadProgress {
	return &uploadProgress{w: w}
}

func (p *uploadProgress) Start(total int) {
	p.failed = 0
	p.bar = pb.New(total)
	p.bar.SetWriter(p.w)
	p.bar.SetTemplate(uploadBarTemplate)
	p.bar.Start()
}

func (p *uploadProgress) Increment(name string, ok bool) {
	if p.bar == nil {
		return
	}
	if !ok {
		p.failed++
		p.bar.Set("failed", fmt.Sprintf("(%d failed)", p.failed))
	}
	p.bar.Set("file", name)
	p.bar.Increment()
}

func (p *uploadProgress) Finish() {
	if p.bar == nil {
		return
	}
	p.bar.Finish()
	p.bar = nil
}
