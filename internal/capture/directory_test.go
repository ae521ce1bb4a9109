package capture

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(name), 0o644))
	}
}

func fronts(cards []Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = filepath.Base(c.Front.Path)
	}
	return out
}

func TestScanDirectory_PairsBacks(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"card-02.jpg",
		"card-01.jpg", "card-01_back.jpg",
		"card-03.PNG",
		"orphan_back.jpg",
		"notes.txt",
	)

	cards, skipped, stats, err := ScanDirectory(root, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"card-01.jpg", "card-02.jpg", "card-03.PNG"}, fronts(cards))
	require.NotNil(t, cards[0].Back)
	assert.Equal(t, "card-01_back.jpg", filepath.Base(cards[0].Back.Path))
	assert.Nil(t, cards[1].Back)
	assert.Equal(t, "image/png", cards[2].Front.ContentType)
	assert.Equal(t, "card-01", cards[0].Name())

	require.Len(t, skipped, 1)
	assert.Equal(t, "orphan_back.jpg", filepath.Base(skipped[0].Path))
	assert.Equal(t, "back image has no front", skipped[0].Reason)

	assert.EqualValues(t, 5, stats.Matched)
	assert.EqualValues(t, 3, stats.Cards)
	assert.EqualValues(t, 1, stats.Skipped)
}

func TestScanDirectory_SameNameDifferentExtension(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "card.jpg", "card.png")

	cards, skipped, _, err := ScanDirectory(root, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"card.jpg"}, fronts(cards))
	require.Len(t, skipped, 1)
	assert.Equal(t, "card.png", filepath.Base(skipped[0].Path))
}

func TestScanDirectory_HiddenAndRecursive(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"a.jpg",
		".hidden.jpg",
		"sub/b.jpg",
		".cache/c.jpg",
	)

	cards, _, _, err := ScanDirectory(root, Options{SkipHidden: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg"}, fronts(cards))

	cards, _, _, err = ScanDirectory(root, Options{SkipHidden: true, Recursive: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg"}, fronts(cards))

	cards, _, _, err = ScanDirectory(root, Options{Recursive: true})
	require.NoError(t, err)
	assert.Len(t, cards, 4)
}

func TestScanDirectory_IncludeExts(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.jpg", "b.png", "c.webp")

	cards, _, _, err := ScanDirectory(root, Options{IncludeExts: []string{".PNG", "webp", "pdf"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.png", "c.webp"}, fronts(cards))
}

func TestScanDirectory_RequiresRoot(t *testing.T) {
	_, _, _, err := ScanDirectory(" ", Options{})
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "card.jpg", "card_back.jpg")
	cards, _, _, err := ScanDirectory(root, Options{})
	require.NoError(t, err)
	require.Len(t, cards, 1)

	front, back, err := Load(cards[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("card.jpg"), front.Data)
	assert.Equal(t, "image/jpeg", front.ContentType)
	assert.Equal(t, "card.jpg", front.FileName)
	require.NotNil(t, back)
	assert.Equal(t, []byte("card_back.jpg"), back.Data)

	_, _, err = Load(Card{Front: File{Path: filepath.Join(root, "missing.jpg")}})
	assert.Error(t, err)
}
