package capture

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joseph-ayodele/connect-cards/constants"
	"github.com/joseph-ayodele/connect-cards/internal/queue"
)

// BackSuffix marks the back side of a card: "card-01_back.jpg" pairs with "card-01.jpg".
const BackSuffix = "_back"

type File struct {
	Path        string
	ContentType string
}

// Card is the atomic unit a capture produces: a front and an optional back.
type Card struct {
	Front File
	Back  *File
}

// Name is the front file's base name without extension.
func (c Card) Name() string {
	base := filepath.Base(c.Front.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

type Options struct {
	IncludeExts []string
	SkipHidden  bool
	Recursive   bool
}

type Skipped struct {
	Path   string
	Reason string
}

type DirStats struct {
	Scanned uint32
	Matched uint32
	Cards   uint32
	Skipped uint32
}

// ScanDirectory walks root and groups matching images into cards sorted by
// path. Back images with no front are reported as skipped.
func ScanDirectory(root string, opts Options) ([]Card, []Skipped, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, nil, DirStats{}, errors.New("root path is required")
	}

	exts := extensionSet(opts.IncludeExts)

	var (
		stats   DirStats
		skipped []Skipped
		fronts  = map[string]File{}
		backs   = map[string]File{}
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		stats.Scanned++
		if walkErr != nil {
			skipped = append(skipped, Skipped{Path: path, Reason: walkErr.Error()})
			stats.Skipped++
			return nil
		}
		if d.IsDir() {
			if path == root {
				return nil
			}
			if (opts.SkipHidden && isHidden(path)) || !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if opts.SkipHidden && isHidden(path) {
			return nil
		}
		key, f, isBack, ok := classify(path, exts)
		if !ok {
			return nil
		}
		stats.Matched++
		if isBack {
			backs[key] = f
			return nil
		}
		if prev, dup := fronts[key]; dup {
			skipped = append(skipped, Skipped{Path: path, Reason: "another image already fronts " + filepath.Base(prev.Path)})
			stats.Skipped++
			return nil
		}
		fronts[key] = f
		return nil
	})
	if err != nil {
		return nil, skipped, stats, fmt.Errorf("walk: %w", err)
	}

	cards := make([]Card, 0, len(fronts))
	for key, front := range fronts {
		c := Card{Front: front}
		if back, ok := backs[key]; ok {
			b := back
			c.Back = &b
			delete(backs, key)
		}
		cards = append(cards, c)
	}
	for _, back := range backs {
		skipped = append(skipped, Skipped{Path: back.Path, Reason: "back image has no front"})
		stats.Skipped++
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Front.Path < cards[j].Front.Path })
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Path < skipped[j].Path })
	stats.Cards = uint32(len(cards))
	return cards, skipped, stats, nil
}

// Load reads both sides of a card into captured images.
func Load(c Card) (queue.CapturedImage, *queue.CapturedImage, error) {
	front, err := readImage(c.Front)
	if err != nil {
		return queue.CapturedImage{}, nil, err
	}
	if c.Back == nil {
		return front, nil, nil
	}
	back, err := readImage(*c.Back)
	if err != nil {
		return queue.CapturedImage{}, nil, err
	}
	return front, &back, nil
}

func readImage(f File) (queue.CapturedImage, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return queue.CapturedImage{}, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return queue.CapturedImage{
		Data:        data,
		ContentType: f.ContentType,
		FileName:    filepath.Base(f.Path),
	}, nil
}

// extensionSet maps allowed extensions to content types. An empty include list
// allows every supported image type.
func extensionSet(include []string) map[string]string {
	exts := map[string]string{}
	if len(include) == 0 {
		for ext, ct := range constants.AllowedImageExtensions {
			exts[ext] = ct
		}
		return exts
	}
	for _, e := range include {
		e = constants.NormalizeExt(strings.TrimSpace(e))
		if ct := constants.ContentTypeForExt(e); ct != "" {
			exts[e] = ct
		}
	}
	return exts
}

// classify returns the pairing key of an image path: the path without its
// extension, and for a back image also without BackSuffix.
func classify(path string, exts map[string]string) (key string, f File, isBack bool, ok bool) {
	ext := filepath.Ext(path)
	ct, ok := exts[constants.NormalizeExt(ext)]
	if !ok {
		return "", File{}, false, false
	}
	key = strings.TrimSuffix(path, ext)
	f = File{Path: path, ContentType: ct}
	if strings.HasSuffix(strings.ToLower(key), BackSuffix) {
		return key[:len(key)-len(BackSuffix)], f, true, true
	}
	return key, f, false, true
}

func isHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}
