// internal/ledger/registry.go
// Identity and role registry: bootstrap, registration, and role lookups.
// Every mutating ledger operation consults this registry first.
package ledger

import (
	"context"
	"errors"
	"time"

	inerr "github.com/insurechain/insurechain-ledger-go/internal/errors"
	"github.com/insurechain/insurechain-ledger-go/internal/model"
	"github.com/insurechain/insurechain-ledger-go/internal/storage"
)

// Initialize runs the one-time ledger bootstrap. The caller becomes the
// bootstrap admin and is registered as an admin account. Counters and the
// treasury start at zero by construction of the store.
// Fails with INS_ALREADY_INITIALIZED on any subsequent call.
func (e *Engine) Initialize(ctx context.Context, caller string) (err error) {
	defer e.observe("initialize", time.Now(), &err)

	now := e.now().UTC()
	err = e.store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.SetBootstrapAdmin(ctx, caller); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return failf(inerr.INS_ALREADY_INITIALIZED, "ledger is already initialized")
			}
			return err
		}
		if err := tx.AddAdmin(ctx, caller); err != nil {
			return err
		}
		// The bootstrap admin may already hold an account if a redeploy
		// reuses storage; keep the existing one in that case.
		if _, err := tx.GetAccount(ctx, caller); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			return tx.CreateAccount(ctx, model.Account{
				Address:      caller,
				Role:         model.RoleAdmin,
				RegisteredAt: now,
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	e.log.Info("ledger initialized", "admin", caller)
	return nil
}

// RegisterUser creates an account for the caller with the requested role.
// Admin registrations also join the admin set; re-adding an existing admin
// address never duplicates set membership.
func (e *Engine) RegisterUser(ctx context.Context, caller string, role model.Role) (account *model.Account, err error) {
	defer e.observe("register_user", time.Now(), &err)

	if !role.Valid() {
		return nil, failf(inerr.INS_INVALID_ROLE, "role must be %q or %q", model.RolePolicyholder, model.RoleAdmin)
	}

	acct := model.Account{
		Address:      caller,
		Role:         role,
		RegisteredAt: e.now().UTC(),
	}
	err = e.store.Atomic(ctx, func(tx storage.Tx) error {
		if err := tx.CreateAccount(ctx, acct); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return failf(inerr.INS_ALREADY_REGISTERED, "address %s is already registered", caller)
			}
			return err
		}
		if role == model.RoleAdmin {
			return tx.AddAdmin(ctx, caller)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emit("user_registered", e.events.PublishUserRegistered(ctx, acct))
	e.log.Info("user registered", "address", caller, "role", role)
	return &acct, nil
}

// RoleOf returns the role recorded for an address, or RoleUnregistered when
// no account exists. It never fails on an unknown address.
func (e *Engine) RoleOf(ctx context.Context, address string) (model.Role, error) {
	account, err := e.store.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.RoleUnregistered, nil
		}
		return model.RoleUnregistered, err
	}
	return account.Role, nil
}

// IsAdmin reports whether the address is the bootstrap admin or holds an
// account with the admin role.
func (e *Engine) IsAdmin(ctx context.Context, address string) (bool, error) {
	bootstrap, err := e.store.GetBootstrapAdmin(ctx)
	if err == nil && bootstrap == address {
		return true, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}

	account, err := e.store.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return account.Role == model.RoleAdmin, nil
}

// GetUser returns the account for an address.
func (e *Engine) GetUser(ctx context.Context, address string) (*model.Account, error) {
	account, err := e.store.GetAccount(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, failf(inerr.INS_NOT_REGISTERED, "address %s is not registered", address)
		}
		return nil, err
	}
	return account, nil
}

// requireAdmin fails with INS_NOT_ADMIN unless the caller is an admin.
func (e *Engine) requireAdmin(ctx context.Context, caller string) error {
	admin, err := e.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !admin {
		return failf(inerr.INS_NOT_ADMIN, "caller %s is not an admin", caller)
	}
	return nil
}

// requirePolicyholder resolves the caller's account and fails unless the role
// is policyholder. Unknown addresses fail with INS_NOT_REGISTERED.
func (e *Engine) requirePolicyholder(ctx context.Context, caller string) (*model.Account, error) {
	account, err := e.store.GetAccount(ctx, caller)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, failf(inerr.INS_NOT_REGISTERED, "address %s is not registered", caller)
		}
		return nil, err
	}
	if account.Role != model.RolePolicyholder {
		return nil, failf(inerr.INS_NOT_POLICYHOLDER, "caller %s is not a policyholder", caller)
	}
	return account, nil
}

// requireRegistered fails with INS_NOT_REGISTERED unless an account exists.
// Used by the per-user read surface.
func (e *Engine) requireRegistered(ctx context.Context, address string) error {
	if _, err := e.store.GetAccount(ctx, address); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return failf(inerr.INS_NOT_REGISTERED, "address %s is not registered", address)
		}
		return err
	}
	return nil
}
