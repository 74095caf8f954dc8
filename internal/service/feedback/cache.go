package feedback

import (
	"context"
	"sync"

	model "github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

// MemoryCache keeps feedback in process memory.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]model.Feedback
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]model.Feedback)}
}

func (c *MemoryCache) Get(_ context.Context, interviewID string) (model.Feedback, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fb, ok := c.items[interviewID]
	return fb, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, fb model.Feedback) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[fb.InterviewID] = fb
	return nil
}
