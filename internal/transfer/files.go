package transfer

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// HashFile returns the SHA-256 digest of the file at path.
func HashFile(path string) ([sha256.Size]byte, error) {
	var sum [sha256.Size]byte
	f, err := os.Open(path)
	if err != nil {
		return sum, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return sum, err
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// ExpandPaths replaces every directory in paths with the regular files found
// beneath it. Paths that do not exist are an error.
func ExpandPaths(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.Mode().IsRegular() {
			files = append(files, p)
			continue
		}
		if !info.IsDir() {
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// CommonFolder returns the deepest directory containing every file.
func CommonFolder(files []string) (string, error) {
	if len(files) == 0 {
		return "", nil
	}
	first, err := filepath.Abs(files[0])
	if err != nil {
		return "", err
	}
	common := filepath.Dir(first)
	for _, f := range files[1:] {
		abs, err := filepath.Abs(f)
		if err != nil {
			return "", err
		}
		for !within(common, abs) {
			parent := filepath.Dir(common)
			if parent == common {
				break
			}
			common = parent
		}
	}
	return common, nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// RelativeName is the name sent on the wire for file: its path below base,
// always with forward slashes.
func RelativeName(base, file string) (string, error) {
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// SafeJoin maps a received wire name into dir, refusing names that would
// land outside it.
func SafeJoin(dir, name string) (string, error) {
	local := filepath.FromSlash(name)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("refusing file name %q outside the destination folder", name)
	}
	return filepath.Join(dir, local), nil
}

// UniquePath returns path if nothing exists there, otherwise the first free
// "(N) name" in the same directory.
func UniquePath(path string) string {
	dir, base := filepath.Split(path)
	candidate := path
	for i := 1; exists(candidate); i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("(%d) %s", i, base))
	}
	return candidate
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// MakeSizeReadable formats a byte count with decimal units.
func MakeSizeReadable(size uint64) string {
	const (
		kb = 1000.0
		mb = kb * 1000
		gb = mb * 1000
	)
	s := float64(size)
	switch {
	case s < kb:
		return fmt.Sprintf("%d bytes", size)
	case s < mb:
		return fmt.Sprintf("%.2fKB", s/kb)
	case s < gb:
		return fmt.Sprintf("%.2fMB", s/mb)
	default:
		return fmt.Sprintf("%.2fGB", s/gb)
	}
}

// FormatTime formats a duration given in seconds for transfer stats.
func FormatTime(seconds float64) string {
	if seconds > 60 {
		minutes := int(seconds) / 60
		rest := seconds - float64(minutes*60)
		return fmt.Sprintf("%d minutes %.2f seconds", minutes, rest)
	}
	return fmt.Sprintf("%.2f seconds", seconds)
}
