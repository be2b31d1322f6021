// Package directory coordinates multi-entity identity flows: globally unique
// user emails, unique tenant and organization identifiers, and the email
// login path. Each flow is a saga over single-key entities, with the lock and
// registry entities providing the uniqueness guarantees the runtime does not
// give across keys.
package directory

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tessera-id/tessera/internal/identity/membership"
	"github.com/tessera-id/tessera/internal/identity/org"
	"github.com/tessera-id/tessera/internal/identity/tenant"
	"github.com/tessera-id/tessera/internal/identity/user"
	"github.com/tessera-id/tessera/internal/lock"
	apperrors "github.com/tessera-id/tessera/internal/platform/errors"
	"github.com/tessera-id/tessera/internal/platform/id"
	"github.com/tessera-id/tessera/internal/registry"
	"github.com/tessera-id/tessera/internal/runtime"
)

// OrgIdentifierLockKey returns the lock key guarding an organization
// identifier within a tenant.
func OrgIdentifierLockKey(tenantID, identifier string) string {
	return tenantID + "/org-ident-" + identifier
}

// Directory wires the entity facades into cross-entity flows.
type Directory struct {
	users       *user.Users
	tenants     *tenant.Tenants
	orgs        *org.Orgs
	memberships *membership.Memberships
	locks       *lock.Lock[string]
	userReg     *registry.Registry
	tenantReg   *registry.Registry
	idGen       func() (string, error)

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a directory over a shared runtime. idGen defaults to the
// platform ID generator.
func New(rt *runtime.Runtime, now func() time.Time, idGen func() (string, error)) *Directory {
	if idGen == nil {
		idGen = id.NewID
	}
	return &Directory{
		users:       user.New(rt, now),
		tenants:     tenant.New(rt, now),
		orgs:        org.New(rt, now),
		memberships: membership.New(rt, now),
		locks:       lock.New[string](rt, now),
		userReg:     registry.NewUserRegistry(rt),
		tenantReg:   registry.NewTenantRegistry(rt),
		idGen:       idGen,
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Users exposes the underlying user facade for single-entity operations.
func (d *Directory) Users() *user.Users { return d.users }

// Tenants exposes the underlying tenant facade.
func (d *Directory) Tenants() *tenant.Tenants { return d.tenants }

// Orgs exposes the underlying organization facade.
func (d *Directory) Orgs() *org.Orgs { return d.orgs }

// Memberships exposes the underlying membership facade.
func (d *Directory) Memberships() *membership.Memberships { return d.memberships }

// CreateUser registers a new user with a globally unique email.
//
// The flow acquires the email lock with the candidate user ID as owner,
// creates the user entity, then records email to ID in the user registry.
// The lock stays held for the lifetime of the registration; it is released
// only when a step after acquisition fails, so a concurrent registration for
// the same email can win instead.
func (d *Directory) CreateUser(ctx context.Context, email, password string) (user.User, error) {
	if err := user.ValidateEmail(email); err != nil {
		return user.User{}, err
	}
	hash, err := d.users.HashPassword(password)
	if err != nil {
		return user.User{}, err
	}
	userID, err := d.idGen()
	if err != nil {
		return user.User{}, apperrors.Wrap(apperrors.CodeUnavailable, "allocate user id", err)
	}

	lockKey := user.NormalizeEmail(email)
	grant, err := d.locks.TryAcquire(ctx, lockKey, userID)
	if err != nil {
		return user.User{}, err
	}
	if !grant.Granted {
		return user.User{}, apperrors.WithMetadata(apperrors.CodeConflict,
			"email already registered",
			map[string]string{"email": lockKey, "owner": grant.CurrentOwner})
	}

	created, err := d.users.Create(ctx, userID, email, hash)
	if err != nil {
		d.locks.Release(ctx, lockKey, userID)
		return user.User{}, err
	}
	if err := d.userReg.Register(ctx, lockKey, userID); err != nil {
		d.locks.Release(ctx, lockKey, userID)
		return user.User{}, err
	}
	return created, nil
}

// UserIDByEmail resolves an email to its user ID via the user registry.
func (d *Directory) UserIDByEmail(ctx context.Context, email string) (string, error) {
	return d.userReg.Lookup(ctx, user.NormalizeEmail(email))
}

// Login authenticates a user by email within a tenant. Attempts are rate
// limited per tenant according to the tenant's configuration; throttled
// attempts fail with CodeUserRateLimited before any credential check runs.
func (d *Directory) Login(ctx context.Context, tenantID, email, password string) (user.User, error) {
	t, err := d.tenants.Get(ctx, tenantID)
	if err != nil {
		return user.User{}, err
	}
	if !d.limiter(tenantID, t.Config).Allow() {
		return user.User{}, apperrors.WithMetadata(apperrors.CodeUserRateLimited,
			"too many login attempts", map[string]string{"tenant_id": tenantID})
	}
	userID, err := d.userReg.Lookup(ctx, user.NormalizeEmail(email))
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeNotFound {
			return user.User{}, apperrors.New(apperrors.CodeInvalidCredential, "invalid email or password")
		}
		return user.User{}, err
	}
	return d.users.Authenticate(ctx, userID, password)
}

// CreateTenant allocates a tenant with a unique identifier. The registry
// write is the uniqueness gate; the tenant entity is created after it, and a
// failed creation tombstones the registry entry so the identifier can be
// claimed again.
func (d *Directory) CreateTenant(ctx context.Context, identifier, name string) (tenant.Tenant, error) {
	if err := tenant.ValidateIdentifier(identifier); err != nil {
		return tenant.Tenant{}, err
	}
	tenantID, err := d.idGen()
	if err != nil {
		return tenant.Tenant{}, apperrors.Wrap(apperrors.CodeUnavailable, "allocate tenant id", err)
	}
	if err := d.tenantReg.Register(ctx, identifier, tenantID); err != nil {
		return tenant.Tenant{}, err
	}
	created, err := d.tenants.Create(ctx, tenantID, identifier, name)
	if err != nil {
		d.tenantReg.Remove(ctx, identifier)
		return tenant.Tenant{}, err
	}
	return created, nil
}

// TenantIDByIdentifier resolves a tenant identifier to its ID.
func (d *Directory) TenantIDByIdentifier(ctx context.Context, identifier string) (string, error) {
	return d.tenantReg.Lookup(ctx, identifier)
}

// CreateOrganization allocates an organization with an identifier unique
// within the tenant, guarded by an identifier lock owned by the new org ID.
// The lock stays held while the organization exists.
func (d *Directory) CreateOrganization(ctx context.Context, tenantID, identifier, name string) (org.Organization, error) {
	if _, err := d.tenants.Get(ctx, tenantID); err != nil {
		return org.Organization{}, err
	}
	orgID, err := d.idGen()
	if err != nil {
		return org.Organization{}, apperrors.Wrap(apperrors.CodeUnavailable, "allocate organization id", err)
	}
	lockKey := OrgIdentifierLockKey(tenantID, identifier)
	grant, err := d.locks.TryAcquire(ctx, lockKey, orgID)
	if err != nil {
		return org.Organization{}, err
	}
	if !grant.Granted {
		return org.Organization{}, apperrors.WithMetadata(apperrors.CodeConflict,
			"organization identifier already in use",
			map[string]string{"identifier": identifier, "owner": grant.CurrentOwner})
	}
	created, err := d.orgs.Create(ctx, tenantID, orgID, identifier, name)
	if err != nil {
		d.locks.Release(ctx, lockKey, orgID)
		return org.Organization{}, err
	}
	return created, nil
}

// JoinTenant adds a user to a tenant: the tenant's member list, the user's
// tenant list, and a membership entity carrying the initial roles. Each leg
// is idempotent, so a partially applied join can be retried.
func (d *Directory) JoinTenant(ctx context.Context, tenantID, userID string, roles []string) (membership.Membership, error) {
	if _, err := d.users.Get(ctx, userID); err != nil {
		return membership.Membership{}, err
	}
	if err := d.tenants.AddMember(ctx, tenantID, userID); err != nil {
		return membership.Membership{}, err
	}
	if err := d.users.AddTenantMembership(ctx, userID, tenantID); err != nil {
		return membership.Membership{}, err
	}
	return d.memberships.Join(ctx, membership.TenantKey(tenantID, userID), userID, tenantID, roles)
}

// JoinOrganization adds a tenant member to an organization.
func (d *Directory) JoinOrganization(ctx context.Context, tenantID, orgID, userID string, roles []string) (membership.Membership, error) {
	if _, err := d.memberships.Get(ctx, membership.TenantKey(tenantID, userID)); err != nil {
		return membership.Membership{}, err
	}
	if err := d.orgs.AddMember(ctx, tenantID, orgID, userID); err != nil {
		return membership.Membership{}, err
	}
	if err := d.users.AddOrganizationMembership(ctx, userID, tenantID, orgID); err != nil {
		return membership.Membership{}, err
	}
	return d.memberships.Join(ctx, membership.OrgKey(tenantID, orgID, userID), userID, orgID, roles)
}

func (d *Directory) limiter(tenantID string, config tenant.Config) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[tenantID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(config.LoginRatePerSecond), config.LoginBurst)
		d.limiters[tenantID] = lim
	}
	return lim
}
