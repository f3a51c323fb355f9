package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileChannel reads commands from a JSON file such as
// {"command":"CLOSE_ALL"}. Ack deletes the file.
type FileChannel struct {
	path string
}

// NewFileChannel creates a channel over path
func NewFileChannel(path string) *FileChannel {
	return &FileChannel{path: path}
}

func (f *FileChannel) Pending(ctx context.Context) (Command, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Command{}, false, nil
	}
	if err != nil {
		return Command{}, false, fmt.Errorf("read command file: %w", err)
	}

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return Command{}, false, fmt.Errorf("parse command file %s: %w", f.path, err)
	}
	if !cmd.Valid() {
		return Command{}, false, nil
	}
	if cmd.Issuer == "" {
		cmd.Issuer = "file"
	}
	return cmd, true, nil
}

func (f *FileChannel) Ack(ctx context.Context, cmd Command) error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear command file: %w", err)
	}
	return nil
}

// Submit writes cmd through a temp file and rename
func (f *FileChannel) Submit(ctx context.Context, cmd Command) error {
	if !cmd.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
