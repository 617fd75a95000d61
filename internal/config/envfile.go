package config

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFile looks for a .env file in the working directory and up to five
// parents and sets every variable not already present in the environment.
// It returns the path it loaded, or "" when there was none.
func LoadEnvFile() (string, error) {
	path, err := findEnvFile()
	if err != nil || path == "" {
		return "", err
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = file.Close()
	}()

	if err := parseEnvFile(file, setIfUnset); err != nil {
		return "", err
	}
	return path, nil
}

func setIfUnset(key, value string) error {
	if _, exists := os.LookupEnv(key); exists {
		return nil
	}
	return os.Setenv(key, value)
}

func findEnvFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for i := 0; i < 6; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", nil
}

func parseEnvFile(r io.Reader, set func(key, value string) error) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if lineNum == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if err := set(key, trimQuotes(strings.TrimSpace(value))); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func trimQuotes(value string) string {
	if len(value) < 2 {
		return value
	}
	if (value[0] == '"' && value[len(value)-1] == '"') ||
		(value[0] == '\'' && value[len(value)-1] == '\'') {
		return value[1 : len(value)-1]
	}
	return value
}
