package screenshot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Carmen-Shannon/oxy-chain/engine/chain/readback"
)

// Recorder writes continuous capture frames as a numbered image sequence.
type Recorder struct {
	dir    string
	format Format
	count  int
}

// NewRecorder creates dir if needed and returns a recorder writing into it.
//
// Parameters:
//   - dir: the output directory
//   - format: the image encoding of every frame
//
// Returns:
//   - *Recorder: the recorder
//   - error: an error if the directory could not be created
func NewRecorder(dir string, format Format) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return &Recorder{dir: dir, format: format}, nil
}

// Write stores r as the next frame of the sequence and returns its path.
func (r *Recorder) Write(out readback.Readout) (string, error) {
	path := filepath.Join(r.dir, fmt.Sprintf("frame_%06d.%s", r.count, r.format))
	if err := Save(path, out); err != nil {
		return "", err
	}
	r.count++
	return path, nil
}

// Count returns the number of frames written.
func (r *Recorder) Count() int {
	return r.count
}
