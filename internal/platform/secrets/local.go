package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// localFile holds developer secrets read from a dotenv style file where each
// line is `secret://name=value` (or `sm://name=value`). Local values are not
// versioned.
type localFile struct {
	values map[string]string
}

func loadLocalFile(path string) (localFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return localFile{values: map[string]string{}}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return localFile{values: map[string]string{}}, nil
		}
		return localFile{}, fmt.Errorf("secrets: open %s: %w", path, err)
	}
	defer f.Close()
	lf, err := parseLocalFile(f)
	if err != nil {
		return localFile{}, fmt.Errorf("secrets: read %s: %w", path, err)
	}
	return lf, nil
}

func parseLocalFile(r io.Reader) (localFile, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		ref, err := ParseReference(key)
		if err != nil {
			continue
		}
		values[ref.Key()] = strings.TrimSpace(value)
	}
	return localFile{values: values}, scanner.Err()
}

func (l localFile) lookup(ref Reference) (string, bool) {
	v, ok := l.values[ref.Key()]
	return v, ok
}
