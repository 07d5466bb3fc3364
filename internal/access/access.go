package access

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNotAuthorized occurs when a non-admin account attempts an admin-gated
// operation.
var ErrNotAuthorized = errors.New("access: not authorized")

// Controller answers role membership questions for the custody service. There
// is a single admin role; grant and revoke are themselves admin-gated.
type Controller interface {
	IsAdmin(ctx context.Context, account string) (bool, error)
	Grant(ctx context.Context, actor, account string) error
	Revoke(ctx context.Context, actor, account string) error
}

type memoryController struct {
	mu     sync.RWMutex
	admins map[string]struct{}
}

// NewMemoryController creates an in-memory controller seeded with the
// bootstrap admin account.
func NewMemoryController(bootstrap string) (Controller, error) {
	admin := strings.TrimSpace(bootstrap)
	if admin == "" {
		return nil, fmt.Errorf("access: bootstrap admin account required")
	}
	return &memoryController{admins: map[string]struct{}{admin: {}}}, nil
}

func (c *memoryController) IsAdmin(_ context.Context, account string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.admins[strings.TrimSpace(account)]
	return ok, nil
}

func (c *memoryController) Grant(ctx context.Context, actor, account string) error {
	target := strings.TrimSpace(account)
	if target == "" {
		return fmt.Errorf("access: account required")
	}
	if err := c.requireAdmin(ctx, actor); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.admins[target] = struct{}{}
	return nil
}

func (c *memoryController) Revoke(ctx context.Context, actor, account string) error {
	target := strings.TrimSpace(account)
	if target == "" {
		return fmt.Errorf("access: account required")
	}
	if err := c.requireAdmin(ctx, actor); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.admins, target)
	return nil
}

func (c *memoryController) requireAdmin(ctx context.Context, actor string) error {
	ok, err := c.IsAdmin(ctx, actor)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAuthorized, strings.TrimSpace(actor))
	}
	return nil
}
