package vmpool

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrAlreadyExists is returned by Clone when the target VM name is
// already present; callers treat it as success rather than failure.
var ErrAlreadyExists = errors.New("vm already exists")

// Hypervisor manages the lifecycle of named macOS VMs. Implementations
// must be safe for concurrent use across distinct VM names.
type Hypervisor interface {
	// Clone creates name from base. Idempotent: if name already exists
	// this returns ErrAlreadyExists, which callers treat as success.
	Clone(ctx context.Context, base, name string) error
	// Run starts name in headless mode. Non-blocking.
	Run(ctx context.Context, name string) error
	// IP returns the guest's IPv4 address, or an error if not yet assigned.
	IP(ctx context.Context, name string) (string, error)
	// Stop powers the VM off.
	Stop(ctx context.Context, name string) error
	// Delete removes the VM's disk image. The VM must be stopped first.
	Delete(ctx context.Context, name string) error
}

// TartHypervisor implements Hypervisor using the `tart` CLI, the
// command-line virtualization tool for Apple Silicon macOS/Linux guests.
type TartHypervisor struct {
	bin string
}

// NewTartHypervisor builds a Hypervisor using the `tart` binary on PATH.
// Pass an empty bin to use "tart" as found via exec.LookPath.
func NewTartHypervisor(bin string) *TartHypervisor {
	if bin == "" {
		bin = "tart"
	}
	return &TartHypervisor{bin: bin}
}

func (h *TartHypervisor) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, h.bin, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("tart %s: %s", strings.Join(args, " "), strings.TrimSpace(string(out)))
		}
		return "", fmt.Errorf("tart %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (h *TartHypervisor) Clone(ctx context.Context, base, name string) error {
	_, err := h.run(ctx, "clone", base, name)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return ErrAlreadyExists
	}
	return err
}

func (h *TartHypervisor) Run(ctx context.Context, name string) error {
	// tart run blocks for the VM's lifetime, so it's launched detached;
	// the caller waits for boot before asking IP() for the DHCP-assigned
	// address.
	cmd := exec.Command(h.bin, "run", "--no-graphics", name)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("tart run %s: %w", name, err)
	}
	go cmd.Wait()
	return nil
}

func (h *TartHypervisor) IP(ctx context.Context, name string) (string, error) {
	out, err := h.run(ctx, "ip", name)
	if err != nil {
		return "", err
	}
	if out == "" {
		return "", fmt.Errorf("vm %s has no IP assigned yet", name)
	}
	return out, nil
}

func (h *TartHypervisor) Stop(ctx context.Context, name string) error {
	_, err := h.run(ctx, "stop", name)
	return err
}

func (h *TartHypervisor) Delete(ctx context.Context, name string) error {
	_, err := h.run(ctx, "delete", name)
	return err
}

var _ Hypervisor = (*TartHypervisor)(nil)
