package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// WatchLogLevel watches the config file at path and calls onChange with the new
// logging.level whenever an edit changes it. Only that key is read; nothing else
// in the file and no environment variable is applied after startup. Edits that
// do not parse or validate are logged and skipped.
// It returns once the watch is established; watching stops when ctx is done.
func WatchLogLevel(ctx context.Context, path string, logger *slog.Logger, onChange func(level string)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path %s: %w", path, err)
	}
	current, err := loadLogLevel(abs)
	if err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}

	// Editors often replace the file by rename, so the directory is watched
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs || event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}

				level, err := loadLogLevel(abs)
				if err != nil {
					logger.Warn("Ignoring invalid configuration change",
						slog.String("path", abs),
						slog.String("error", err.Error()))
					continue
				}
				if level == current {
					continue
				}
				current = level
				onChange(level)

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				logger.Error("Config watcher error", slog.String("error", err.Error()))
			}
		}
	}()

	return nil
}

// loadLogLevel reads the logging section of the file over the defaults
func loadLogLevel(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	// A truncated file mid-write would otherwise reset the level to the default
	if len(bytes.TrimSpace(data)) == 0 {
		return "", fmt.Errorf("config file %s is empty", path)
	}

	file := struct {
		Logging LoggingConfig `yaml:"logging"`
	}{Logging: Default().Logging}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return "", fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := file.Logging.Validate(); err != nil {
		return "", fmt.Errorf("logging: %w", err)
	}
	return file.Logging.Level, nil
}
