package subscribers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type fileDocument struct {
	Subscribers []Subscriber `yaml:"subscribers"`
}

// FileDirectory reads assignments from a YAML file and reloads it when it changes.
type FileDirectory struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	cached  []Subscriber
}

// NewFileDirectory constructs a directory and loads the file once.
func NewFileDirectory(path string) (*FileDirectory, error) {
	if path == "" {
		return nil, errors.New("subscribers: empty file path")
	}
	dir := &FileDirectory{path: path}
	if _, err := dir.ListSubscribers(context.Background()); err != nil {
		return nil, err
	}
	return dir, nil
}

// ListSubscribers returns the current assignments. A file that cannot be re-read
// keeps the last good list.
func (d *FileDirectory) ListSubscribers(context.Context) ([]Subscriber, error) {
	if d == nil {
		return nil, errNilDirectory
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := os.Stat(d.path)
	if err != nil {
		if d.cached != nil {
			return append([]Subscriber(nil), d.cached...), nil
		}
		return nil, err
	}
	if d.cached != nil && info.ModTime().Equal(d.modTime) {
		return append([]Subscriber(nil), d.cached...), nil
	}

	data, err := os.ReadFile(d.path)
	if err != nil {
		return nil, err
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		if d.cached != nil {
			return append([]Subscriber(nil), d.cached...), nil
		}
		return nil, fmt.Errorf("subscribers: parse %s: %w", d.path, err)
	}
	list := make([]Subscriber, 0, len(doc.Subscribers))
	for _, sub := range doc.Subscribers {
		if sub.ID == "" {
			continue
		}
		list = append(list, sub)
	}
	d.cached = list
	d.modTime = info.ModTime()
	return append([]Subscriber(nil), list...), nil
}
