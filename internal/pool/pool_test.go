package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestAdmitAcceptsWithinSize(t *testing.T) {
	p := New("default", 2, 0)
	rel1, err := p.Admit(context.Background())
	assert.NilError(t, err)
	rel2, err := p.Admit(context.Background())
	assert.NilError(t, err)
	_, err = p.Admit(context.Background())
	assert.Equal(t, err, ErrSlotUnavailable)
	rel1()
	rel2()
}

func TestAdmitQueuesThenRejects(t *testing.T) {
	p := New("default", 1, 1)
	rel, err := p.Admit(context.Background())
	assert.NilError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var queuedErr error
	go func() {
		defer wg.Done()
		r, err := p.Admit(context.Background())
		queuedErr = err
		if err == nil {
			r()
		}
	}()
	time.Sleep(20 * time.Millisecond) // let the goroutine enqueue

	_, err = p.Admit(context.Background())
	assert.Equal(t, err, ErrSlotUnavailable)

	rel()
	wg.Wait()
	assert.NilError(t, queuedErr)
}

func TestCanAdmit(t *testing.T) {
	p := New("default", 1, 1)
	assert.Equal(t, p.CanAdmit(), true)

	rel, err := p.Admit(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, p.CanAdmit(), true) // queue still has room

	p.incWaiting(1) // simulate a request already queued
	assert.Equal(t, p.CanAdmit(), false)
	p.incWaiting(-1)

	rel()
}

func TestRegistryDefaultFallback(t *testing.T) {
	r, err := NewRegistry([]PoolSpec{{Name: "default", Size: 1, Queue: 0}})
	assert.NilError(t, err)
	assert.Equal(t, r.Get("").Name(), "default")
	assert.Equal(t, r.Get("nonexistent").Name(), "default")
}

func TestRegistryRequiresDefault(t *testing.T) {
	_, err := NewRegistry([]PoolSpec{{Name: "batch", Size: 1, Queue: 0}})
	assert.ErrorContains(t, err, "default")
}
