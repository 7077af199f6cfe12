// Package media enforces that at most one registered player is audible.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mbeoliero/kit/log"
)

var (
	ErrNotRegistered    = errors.New("media: handle not registered")
	ErrPlaybackRejected = errors.New("media: playback rejected")
	// ErrActivationCancelled is returned when the handle was deactivated or
	// unregistered while its Play was pending
	ErrActivationCancelled = errors.New("media: activation cancelled")
)

// Handle controls one player. Play may block until playback has started and
// fails when the player refuses to start.
type Handle interface {
	Play(ctx context.Context) error
	Pause()
	SetMuted(muted bool)
	// Reset rewinds to the start
	Reset()
}

type entry struct {
	handle   Handle
	muted    bool
	playing  bool
	starting bool
}

// Coordinator is a registry of handles plus the id currently playing.
//
// playMu serialises activations and is held across Play, so two activations
// never interleave. mu guards the registry and is released while Play is
// pending, so registry changes are not held up by a slow Play.
// Lock order is playMu then mu.
type Coordinator struct {
	playMu  sync.Mutex
	mu      sync.Mutex
	entries map[string]*entry
	active  string
}

// NewCoordinator creates an empty Coordinator
func NewCoordinator() *Coordinator {
	return &Coordinator{entries: make(map[string]*entry)}
}

// Register adds a handle. It is a no-op when id is already registered and
// reports whether the handle was added.
func (c *Coordinator) Register(id string, h Handle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; ok {
		return false
	}
	c.entries[id] = &entry{handle: h, muted: true}
	return true
}

// Unregister pauses and mutes the handle, then removes it. Unknown ids are ignored.
func (c *Coordinator) Unregister(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return
	}
	silence(e)
	delete(c.entries, id)
	if c.active == id {
		c.active = ""
	}
}

// Activate silences every other handle and then starts id with the given mute state
func (c *Coordinator) Activate(ctx context.Context, id string, muted bool) error {
	c.playMu.Lock()
	defer c.playMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	c.silenceOthers(id)
	e.handle.SetMuted(muted)
	e.muted = muted
	return c.start(ctx, id, e)
}

// Deactivate pauses and mutes id, clearing the playing marker if it was set to id
func (c *Coordinator) Deactivate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return
	}
	silence(e)
	if c.active == id {
		c.active = ""
	}
}

// ToggleMute changes only the mute state of id
func (c *Coordinator) ToggleMute(id string, muted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	e.handle.SetMuted(muted)
	e.muted = muted
	return nil
}

// TogglePlay pauses id when playing, otherwise silences the others and
// resumes it. It returns the resulting play state.
func (c *Coordinator) TogglePlay(ctx context.Context, id string) (bool, error) {
	c.playMu.Lock()
	defer c.playMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}

	if e.playing {
		e.handle.Pause()
		e.playing = false
		if c.active == id {
			c.active = ""
		}
		return false, nil
	}

	c.silenceOthers(id)
	if err := c.start(ctx, id, e); err != nil {
		return false, err
	}
	return true, nil
}

// IsActive reports whether id holds the playing marker
func (c *Coordinator) IsActive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active == id
}

// Active returns the id holding the playing marker, empty when none
func (c *Coordinator) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Len returns the number of registered handles
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close unregisters every handle
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, e := range c.entries {
		silence(e)
		delete(c.entries, id)
	}
	c.active = ""
}

// start plays e. On rejection the handle is paused and the marker cleared.
// Must be called with c.playMu and c.mu held; c.mu is released while Play
// runs and held again on return.
func (c *Coordinator) start(ctx context.Context, id string, e *entry) error {
	c.active = ""
	e.starting = true

	c.mu.Unlock()
	err := e.handle.Play(ctx)
	c.mu.Lock()

	cancelled := !e.starting || c.entries[id] != e
	e.starting = false
	if err != nil {
		e.handle.Pause()
		e.playing = false
		log.CtxWarn(ctx, "media playback rejected: media_id=%s, error=%v", id, err)
		return fmt.Errorf("%w: %s: %w", ErrPlaybackRejected, id, err)
	}
	if cancelled {
		silence(e)
		return fmt.Errorf("%w: %s", ErrActivationCancelled, id)
	}
	e.playing = true
	c.active = id
	return nil
}

// silenceOthers pauses, mutes and rewinds every handle except id. Must be
// called with c.mu held.
func (c *Coordinator) silenceOthers(id string) {
	for otherId, other := range c.entries {
		if otherId == id {
			continue
		}
		silence(other)
		other.handle.Reset()
	}
}

func silence(e *entry) {
	e.handle.Pause()
	e.handle.SetMuted(true)
	e.playing = false
	e.muted = true
	e.starting = false
}
