package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeycumines/behaviord/internal/storage"
)

// SetKeyInFile sets a global option in the file at path, keeping comments
// and sections. An existing global line for key is replaced in place;
// otherwise the line goes before the first section header.
func SetKeyInFile(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config file: %w", err)
	}
	var lines []string
	if len(data) > 0 {
		lines = strings.Split(string(data), "\n")
	}

	entry := strings.TrimSpace(key + " " + value)
	insert := len(lines)
	if insert > 0 && lines[insert-1] == "" {
		insert--
	}
	replaced := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			insert = i
			break
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if name, _, _ := strings.Cut(trimmed, " "); name == key {
			lines[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		lines = append(lines[:insert], append([]string{entry}, lines[insert:]...)...)
	}
	out := strings.Join(lines, "\n")
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return storage.AtomicWriteFile(path, []byte(out), 0644)
}
