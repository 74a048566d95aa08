package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/keel/pkg/object"
	"github.com/odvcencio/keel/pkg/repo"
)

// openRepo opens the repository containing the working directory with a
// logger built from flags and config. The returned func closes both.
func openRepo(cmd *cobra.Command, opts ...repo.Option) (*repo.Repo, func(), error) {
	dir, err := repo.Find(".")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := repo.LoadConfig(repo.ConfigPath(dir))
	if err != nil {
		return nil, nil, err
	}
	logger, closeLog, err := newLogger(cmd, dir, cfg)
	if err != nil {
		return nil, nil, err
	}
	r, err := repo.Open(filepath.Dir(dir), append([]repo.Option{repo.WithLogger(logger)}, opts...)...)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return r, func() {
		_ = r.Close()
		closeLog()
	}, nil
}

// parsePut reads a "path=file" spec. A bare path reads the file at that
// path relative to the working directory.
func parsePut(spec string) (repo.File, error) {
	path, src, ok := strings.Cut(spec, "=")
	if !ok {
		src = path
	}
	path = strings.TrimSpace(filepath.ToSlash(path))
	if path == "" || src == "" {
		return repo.File{}, fmt.Errorf("invalid --put %q: want path=file", spec)
	}
	info, err := os.Stat(src)
	if err != nil {
		return repo.File{}, fmt.Errorf("--put %s: %w", path, err)
	}
	if info.IsDir() {
		return repo.File{}, fmt.Errorf("--put %s: %s is a directory", path, src)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return repo.File{}, fmt.Errorf("--put %s: %w", path, err)
	}
	mode := object.TreeModeFile
	if info.Mode().Perm()&0o111 != 0 {
		mode = object.TreeModeExecutable
	}
	return repo.File{Path: path, Mode: mode, Data: data}, nil
}

func parsePuts(specs []string) ([]repo.File, error) {
	files := make([]repo.File, 0, len(specs))
	for _, spec := range specs {
		f, err := parsePut(spec)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, nil
}

func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(filepath.ToSlash(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstLine(msg string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(msg), "\n")
	return line
}
