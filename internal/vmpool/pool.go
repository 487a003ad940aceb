// Package vmpool manages a worker's bounded set of pre-warmed VMs: each
// slot cycles Ready -> InUse -> Resetting -> Ready as jobs acquire and
// release it, so the executor never pays VM boot latency per job.
package vmpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alloybuild/orchestrator/internal/events"
	"github.com/alloybuild/orchestrator/internal/sshrun"
)

// SlotState is one of a pool slot's three lifecycle states.
type SlotState string

const (
	SlotReady     SlotState = "ready"
	SlotInUse     SlotState = "in_use"
	SlotResetting SlotState = "resetting"
)

// Config controls pool sizing and how each slot is prepared.
type Config struct {
	BaseImage    string
	Size         int
	SSHUser      string
	SSHPassword  string
	SetupCommand string
	BootWait     time.Duration
}

func (c Config) withDefaults() Config {
	if c.BootWait == 0 {
		c.BootWait = 30 * time.Second
	}
	return c
}

// Handle is an acquired slot, returned by Acquire and required by Release.
type Handle struct {
	SlotIndex int
	Name      string
	IP        string
}

type slot struct {
	index int
	name  string
	state SlotState
	ip    string
	// guard serialises all transitions touching this slot; Acquire and
	// Release are the only operations that change state under it, and
	// Shutdown holds it while stopping and deleting the slot's VM.
	guard sync.Mutex
}

func newSlot(index int, name string) *slot {
	return &slot{index: index, name: name, state: SlotReady}
}

func (s *slot) tryLock() bool { return s.guard.TryLock() }
func (s *slot) lock()         { s.guard.Lock() }
func (s *slot) unlock()       { s.guard.Unlock() }

// Pool is the bounded set of slots owned by a single worker.
type Pool struct {
	hv    Hypervisor
	cfg   Config
	bus   *events.Bus
	slots []*slot
}

// NewPool constructs a Pool of cfg.Size slots named pool-vm-0..N-1,
// cloned from cfg.BaseImage. Call Init to bring every slot up.
func NewPool(hv Hypervisor, cfg Config, bus *events.Bus) *Pool {
	cfg = cfg.withDefaults()
	slots := make([]*slot, cfg.Size)
	for i := range slots {
		slots[i] = newSlot(i, fmt.Sprintf("pool-vm-%d", i))
	}
	return &Pool{hv: hv, cfg: cfg, bus: bus, slots: slots}
}

// Init runs the per-slot initialisation sequence: clone, start, wait for
// boot, resolve an IP, and optionally run the configured setup command
// once. Setup failures are logged but do not fail Init; the slot remains
// usable for jobs that don't depend on the setup step.
func (p *Pool) Init(ctx context.Context) error {
	for _, s := range p.slots {
		if err := p.hv.Clone(ctx, p.cfg.BaseImage, s.name); err != nil && err != ErrAlreadyExists {
			return fmt.Errorf("clone slot %s: %w", s.name, err)
		}
		if err := p.hv.Run(ctx, s.name); err != nil {
			return fmt.Errorf("start slot %s: %w", s.name, err)
		}

		select {
		case <-time.After(p.cfg.BootWait):
		case <-ctx.Done():
			return ctx.Err()
		}

		ip, err := p.hv.IP(ctx, s.name)
		if err != nil {
			return fmt.Errorf("resolve ip for slot %s: %w", s.name, err)
		}
		s.ip = ip

		if p.cfg.SetupCommand != "" {
			p.runSetup(ctx, s)
		}

		p.emit(events.PoolSlotInitialized, s)
	}
	return nil
}

func (p *Pool) runSetup(ctx context.Context, s *slot) {
	client, err := sshrun.Dial(ctx, s.ip, sshrun.Config{User: p.cfg.SSHUser, Password: p.cfg.SSHPassword})
	if err != nil {
		p.emitErr(events.PoolSlotSetupFailed, s, err)
		return
	}
	defer client.Close()

	if _, err := sshrun.Run(ctx, client, p.cfg.SetupCommand); err != nil {
		p.emitErr(events.PoolSlotSetupFailed, s, err)
	}
}

// Acquire returns the first Ready slot, transitioned to InUse, scanning
// in index order. Non-blocking: returns ok=false if every slot is InUse
// or Resetting.
func (p *Pool) Acquire(ctx context.Context) (Handle, bool) {
	for _, s := range p.slots {
		if !s.tryLock() {
			continue
		}
		if s.state != SlotReady {
			s.unlock()
			continue
		}

		if s.ip == "" {
			if ip, err := p.hv.IP(ctx, s.name); err == nil {
				s.ip = ip
			}
		}

		s.state = SlotInUse
		handle := Handle{SlotIndex: s.index, Name: s.name, IP: s.ip}
		s.unlock()

		p.emit(events.PoolSlotAcquired, s)
		return handle, true
	}
	return Handle{}, false
}

// Release returns an acquired slot to the pool: it transitions to
// Resetting, best-effort cleans the guest's workspace over SSH, then
// transitions back to Ready. Cleanup failures never block the return to
// Ready — a dirty slot is still usable, just not guaranteed clean.
func (p *Pool) Release(ctx context.Context, h Handle) error {
	if h.SlotIndex < 0 || h.SlotIndex >= len(p.slots) {
		return fmt.Errorf("release: slot index %d out of range", h.SlotIndex)
	}
	s := p.slots[h.SlotIndex]

	s.lock()
	s.state = SlotResetting
	s.unlock()
	p.emit(events.PoolSlotReleased, s)

	p.reset(ctx, s)

	s.lock()
	s.state = SlotReady
	s.unlock()
	return nil
}

func (p *Pool) reset(ctx context.Context, s *slot) {
	if s.ip == "" {
		return
	}
	client, err := sshrun.Dial(ctx, s.ip, sshrun.Config{User: p.cfg.SSHUser, Password: p.cfg.SSHPassword})
	if err != nil {
		p.emitErr(events.PoolSlotResetFailed, s, err)
		return
	}
	defer client.Close()

	if _, err := sshrun.Run(ctx, client, "rm -rf ~/workspace ~/source.zip"); err != nil {
		p.emitErr(events.PoolSlotResetFailed, s, err)
	}
}

// Shutdown stops and deletes every slot's VM. Errors from individual
// slots are collected but do not stop the sweep over the rest.
func (p *Pool) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, s := range p.slots {
		s.lock()
		if err := p.hv.Stop(ctx, s.name); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := p.hv.Delete(ctx, s.name); err != nil && firstErr == nil {
			firstErr = err
		}
		s.unlock()
	}
	return firstErr
}

// Size returns the number of slots in the pool.
func (p *Pool) Size() int { return len(p.slots) }

func (p *Pool) emit(t events.EventType, s *slot) {
	if p.bus == nil {
		return
	}
	p.bus.Emit(events.Event{Type: t, Payload: map[string]any{"slot": s.index, "vm": s.name}})
}

func (p *Pool) emitErr(t events.EventType, s *slot, err error) {
	if p.bus == nil {
		return
	}
	p.bus.Emit(events.Event{Type: t, Payload: map[string]any{"slot": s.index, "vm": s.name}}.WithError(err))
}
