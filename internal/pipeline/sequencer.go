package pipeline

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar"

	"github.com/couchcryptid/gridstream/internal/domain"
)

// Discover expands a glob pattern ("**" matches across directories) into the
// matching file paths.
func Discover(pattern string) ([]string, error) {
	paths, err := doublestar.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid input pattern %q: %v", domain.ErrFormat, pattern, err)
	}
	return paths, nil
}

// Sequencer orders snapshot files by forecast hour and cuts them into
// overlapping windows of chunkHours+1 files.
type Sequencer struct {
	chunkHours int
}

// NewSequencer creates a Sequencer. chunkHours must be positive.
func NewSequencer(chunkHours int) (*Sequencer, error) {
	if chunkHours <= 0 {
		return nil, fmt.Errorf("chunk hours must be positive, got %d", chunkHours)
	}
	return &Sequencer{chunkHours: chunkHours}, nil
}

// Sequence parses the forecast hour of every path, sorts ascending and returns
// an iterator over windows. All name checks happen here, before any file is
// opened.
func (s *Sequencer) Sequence(paths []string) (*WindowIterator, error) {
	files := make([]domain.SourceFile, 0, len(paths))
	for _, p := range paths {
		hour, err := domain.ParseForecastHour(p)
		if err != nil {
			return nil, err
		}
		files = append(files, domain.SourceFile{Path: p, ForecastHour: hour})
	}

	sort.SliceStable(files, func(i, j int) bool { return files[i].ForecastHour < files[j].ForecastHour })
	for i := 1; i < len(files); i++ {
		if files[i].ForecastHour == files[i-1].ForecastHour {
			return nil, fmt.Errorf("%w: forecast hour %d appears in both %s and %s",
				domain.ErrFormat, files[i].ForecastHour, files[i-1].Path, files[i].Path)
		}
	}

	if len(files) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 snapshot files, found %d", domain.ErrInsufficientInput, len(files))
	}

	return &WindowIterator{files: files, chunkHours: s.chunkHours}, nil
}

// WindowIterator yields windows lazily. Consecutive windows share one file: the
// last file of window n is the baseline of window n+1.
type WindowIterator struct {
	files      []domain.SourceFile
	chunkHours int
	next       int
}

// Next returns the next window, or false when the sequence is exhausted.
func (it *WindowIterator) Next() (domain.Window, bool) {
	start := it.next * it.chunkHours
	if start >= len(it.files)-1 {
		return domain.Window{}, false
	}
	end := min(start+it.chunkHours, len(it.files)-1)

	w := domain.Window{
		Index: it.next,
		Files: it.files[start : end+1 : end+1],
	}
	it.next++
	return w, true
}

// Reset rewinds the iterator to the first window.
func (it *WindowIterator) Reset() {
	it.next = 0
}

// Files returns the ordered source files.
func (it *WindowIterator) Files() []domain.SourceFile {
	return it.files
}

// Windows returns the total number of windows.
func (it *WindowIterator) Windows() int {
	return (len(it.files) - 2 + it.chunkHours) / it.chunkHours
}

// Timesteps returns the number of output timesteps the sequence produces.
func (it *WindowIterator) Timesteps() int {
	return len(it.files) - 1
}

// ChunkHours returns the window size in output timesteps.
func (it *WindowIterator) ChunkHours() int {
	return it.chunkHours
}
