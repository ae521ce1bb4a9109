package capture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultSettle = 750 * time.Millisecond

type WatchOptions struct {
	Options
	// Settle is how long an image must go without writes before it is used.
	// A settled front also waits this long for its back.
	Settle time.Duration
}

// Watcher turns images written under a directory into cards as they arrive.
type Watcher struct {
	root   string
	opts   WatchOptions
	fw     *fsnotify.Watcher
	pair   *pairer
	logger *slog.Logger
}

// NewWatcher registers root (and its subdirectories when Recursive) right
// away, so files written before Run is called are not missed.
func NewWatcher(root string, opts WatchOptions, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		return nil, errors.New("root path is required")
	}
	if opts.Settle <= 0 {
		opts.Settle = defaultSettle
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("capture.watch.create_failed", "error", err)
		return nil, err
	}
	w := &Watcher{
		root:   root,
		opts:   opts,
		fw:     fw,
		pair:   newPairer(extensionSet(opts.IncludeExts), opts.Settle),
		logger: logger,
	}
	if err := w.addTree(root); err != nil {
		_ = fw.Close()
		logger.Error("capture.watch.add_failed", "root", root, "error", err)
		return nil, err
	}
	return w, nil
}

// MarkQueued records cards already taken from a directory scan so later events
// for the same files are ignored. Call it before Run.
func (w *Watcher) MarkQueued(cards []Card) {
	for _, c := range cards {
		key, _, _, ok := classify(c.Front.Path, w.pair.exts)
		if ok {
			w.pair.emitted[key] = true
		}
	}
}

// Run sends settled cards to out until ctx is done. Sends block, so a slow
// reader delays the watcher rather than losing cards.
func (w *Watcher) Run(ctx context.Context, out chan<- Card) error {
	tick := time.NewTicker(max(w.opts.Settle/3, 50*time.Millisecond))
	defer tick.Stop()

	w.logger.Info("capture.watch.started", "root", w.root, "recursive", w.opts.Recursive, "settle", w.opts.Settle)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events were dropped by the kernel; a rescan would be needed to recover them
				w.logger.Error("capture.watch.overflow", "root", w.root)
				continue
			}
			w.logger.Warn("capture.watch.error", "error", err)
		case now := <-tick.C:
			cards, skipped := w.pair.ready(now)
			for _, s := range skipped {
				w.logger.Warn("capture.skipped", "path", s.Path, "reason", s.Reason)
			}
			for _, c := range cards {
				select {
				case out <- c:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (w *Watcher) Close() error {
	return w.fw.Close()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	path := ev.Name
	if w.opts.SkipHidden && isHidden(path) {
		return
	}
	switch {
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.pair.forget(path)
	case ev.Has(fsnotify.Create):
		if w.opts.Recursive {
			// a new directory only needs registering; a file fails Add harmlessly
			if err := w.addTree(path); err == nil {
				return
			}
		}
		w.pair.observe(path, time.Now())
	case ev.Has(fsnotify.Write):
		w.pair.observe(path, time.Now())
	}
}

// addTree watches dir and, when Recursive, every non-hidden subdirectory.
func (w *Watcher) addTree(dir string) error {
	if !w.opts.Recursive {
		return w.fw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			if path == dir {
				return fmt.Errorf("%s is not a directory", path)
			}
			return nil
		}
		if path != w.root && w.opts.SkipHidden && isHidden(path) {
			return filepath.SkipDir
		}
		return w.fw.Add(path)
	})
}

type pendingFile struct {
	file   File
	key    string
	isBack bool
	last   time.Time
}

// pairer holds written images until they settle and matches backs to fronts.
type pairer struct {
	exts    map[string]string
	settle  time.Duration
	pending map[string]*pendingFile
	emitted map[string]bool
}

func newPairer(exts map[string]string, settle time.Duration) *pairer {
	return &pairer{
		exts:    exts,
		settle:  settle,
		pending: map[string]*pendingFile{},
		emitted: map[string]bool{},
	}
}

func (p *pairer) observe(path string, at time.Time) {
	key, f, isBack, ok := classify(path, p.exts)
	if !ok {
		return
	}
	if pf, seen := p.pending[path]; seen {
		pf.last = at
		return
	}
	p.pending[path] = &pendingFile{file: f, key: key, isBack: isBack, last: at}
}

func (p *pairer) forget(path string) {
	delete(p.pending, path)
}

// ready returns the cards whose front has settled, paired with a settled back
// when one exists. A back that is still being written holds its front. Backs
// wait for their front indefinitely; a back for an already queued card is skipped.
func (p *pairer) ready(now time.Time) ([]Card, []Skipped) {
	settled := func(pf *pendingFile) bool { return now.Sub(pf.last) >= p.settle }

	fronts := map[string]*pendingFile{}
	backs := map[string]*pendingFile{}
	for _, pf := range p.pending {
		if pf.isBack {
			backs[pf.key] = pf
		} else if prev, dup := fronts[pf.key]; !dup || pf.file.Path < prev.file.Path {
			fronts[pf.key] = pf
		}
	}

	var (
		cards   []Card
		skipped []Skipped
	)
	for key, back := range backs {
		if p.emitted[key] && fronts[key] == nil {
			skipped = append(skipped, Skipped{Path: back.file.Path, Reason: "back arrived after its front was queued"})
			delete(p.pending, back.file.Path)
		}
	}
	for key, front := range fronts {
		if p.emitted[key] {
			skipped = append(skipped, Skipped{Path: front.file.Path, Reason: "card already queued"})
			delete(p.pending, front.file.Path)
			continue
		}
		if !settled(front) {
			continue
		}
		c := Card{Front: front.file}
		if back, ok := backs[key]; ok {
			if !settled(back) {
				continue
			}
			b := back.file
			c.Back = &b
			delete(p.pending, back.file.Path)
		} else if now.Sub(front.last) < 2*p.settle {
			// give a back written right after its front a chance to show up
			continue
		}
		delete(p.pending, front.file.Path)
		p.emitted[key] = true
		cards = append(cards, c)
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].Front.Path < cards[j].Front.Path })
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Path < skipped[j].Path })
	return cards, skipped
}
