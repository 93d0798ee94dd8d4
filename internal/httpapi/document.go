package httpapi

import (
	"fmt"
	"sync"

	"chatbridge/internal/widget"
)

// Document is the set of widget containers served over HTTP. It implements
// widget.Document.
type Document struct {
	mu         sync.RWMutex
	containers map[string]*widget.Container
}

func NewDocument() *Document {
	return &Document{containers: make(map[string]*widget.Container)}
}

func (d *Document) Mount(c *widget.Container) error {
	if c == nil {
		return fmt.Errorf("httpapi: mount: container must not be nil")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.containers[c.ID]; exists {
		return fmt.Errorf("httpapi: container %q already mounted", c.ID)
	}
	d.containers[c.ID] = c
	return nil
}

func (d *Document) Unmount(containerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.containers[containerID]; !exists {
		return fmt.Errorf("httpapi: container %q not mounted", containerID)
	}
	delete(d.containers, containerID)
	return nil
}

func (d *Document) container(id string) (*widget.Container, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.containers[id]
	return c, ok
}
