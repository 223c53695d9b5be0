// Package memory is a mutex-guarded in-process implementation of the
// store contracts, used by the engine tests and for local development.
// WithinTx serializes callers but does not roll back partial writes; a
// deployment needs the postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coverdesk/authcore/internal/ids"
	"github.com/coverdesk/authcore/internal/model"
	"github.com/coverdesk/authcore/internal/store"
)

// Store holds everything in maps keyed the way the repositories query.
type Store struct {
	mu sync.RWMutex

	users         map[string]*model.User
	usersByEmail  map[string]string
	orgs          map[string]*model.Organization
	orgsBySlug    map[string]string
	profiles      map[string]*model.Profile
	roles         map[string]*model.Role
	rolesByName   map[string]string
	userRoles     map[string]string
	refreshTokens map[string]*model.RefreshToken
	refreshByHash map[string]string
	loginSec      map[string]*model.LoginSecurity
	passSec       map[string]*model.PasswordSecurity
	otpAttempts   map[string]*model.OtpAttempt
	verifTokens   map[string]*model.VerificationToken
	audit         []*model.AuditEntry

	// AuditErr, when set, makes every audit append fail with it. Test
	// hook for the best-effort audit paths.
	AuditErr error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]*model.User),
		usersByEmail:  make(map[string]string),
		orgs:          make(map[string]*model.Organization),
		orgsBySlug:    make(map[string]string),
		profiles:      make(map[string]*model.Profile),
		roles:         make(map[string]*model.Role),
		rolesByName:   make(map[string]string),
		userRoles:     make(map[string]string),
		refreshTokens: make(map[string]*model.RefreshToken),
		refreshByHash: make(map[string]string),
		loginSec:      make(map[string]*model.LoginSecurity),
		passSec:       make(map[string]*model.PasswordSecurity),
		otpAttempts:   make(map[string]*model.OtpAttempt),
		verifTokens:   make(map[string]*model.VerificationToken),
	}
}

// SeedRole inserts a system role and returns its id. Registration
// requires the owner role to pre-exist.
func (s *Store) SeedRole(name, description string, perms []model.Permission) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := ids.New()
	s.roles[id] = &model.Role{ID: id, Name: name, Description: description, Permissions: perms}
	s.rolesByName[name] = id
	return id
}

// SetUserActive flips a user's active flag. The engine never does this
// itself; tests and dev tooling do.
func (s *Store) SetUserActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.IsActive = active
	}
}

// SetOrganizationActive flips a tenant's active flag.
func (s *Store) SetOrganizationActive(id string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.orgs[id]; ok {
		o.IsActive = active
	}
}

// DeleteUser removes a user row outright, simulating an account purged
// after a token was issued.
func (s *Store) DeleteUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		delete(s.usersByEmail, u.Email)
		delete(s.users, id)
	}
}

// AuditEntries returns a snapshot of the appended audit rows.
func (s *Store) AuditEntries() []*model.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *Store) Users() store.UserRepo                           { return userRepo{s} }
func (s *Store) Organizations() store.OrganizationRepo           { return orgRepo{s} }
func (s *Store) Profiles() store.ProfileRepo                     { return profileRepo{s} }
func (s *Store) Roles() store.RoleRepo                           { return roleRepo{s} }
func (s *Store) RefreshTokens() store.RefreshTokenRepo           { return refreshRepo{s} }
func (s *Store) LoginSecurity() store.LoginSecurityRepo          { return loginSecRepo{s} }
func (s *Store) PasswordSecurity() store.PasswordSecurityRepo    { return passSecRepo{s} }
func (s *Store) OtpAttempts() store.OtpAttemptRepo               { return otpRepo{s} }
func (s *Store) VerificationTokens() store.VerificationTokenRepo { return verifRepo{s} }
func (s *Store) Audit() store.AuditRepo                          { return auditRepo{s} }

// WithinTx serializes the callback against all other writers. Partial
// writes are not rolled back on error; engine tests accept that.
func (s *Store) WithinTx(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.usersByEmail[u.Email]; taken {
		return store.ErrDuplicate
	}
	cp := *u
	r.s.users[u.ID] = &cp
	r.s.usersByEmail[u.Email] = u.ID
	return nil
}

func (r userRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return copyUser(r.s.users[id])
}

func (r userRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return copyUser(r.s.users[r.s.usersByEmail[email]])
}

func (r userRepo) DetailByID(_ context.Context, id string) (*model.UserDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.detail(r.s.users[id])
}

func (r userRepo) DetailByEmail(_ context.Context, email string) (*model.UserDetail, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.detail(r.s.users[r.s.usersByEmail[email]])
}

func (r userRepo) MarkEmailVerified(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.EmailVerified = true
	u.EmailVerifiedAt = &at
	u.UpdatedAt = at
	return nil
}

func (r userRepo) UpdatePasswordHash(_ context.Context, id, hash string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = hash
	return nil
}

// detail joins user, organization, profile, and the assigned role.
// Callers hold at least the read lock.
func (s *Store) detail(u *model.User) (*model.UserDetail, error) {
	if u == nil {
		return nil, store.ErrNotFound
	}
	org := s.orgs[u.OrganizationID]
	if org == nil {
		return nil, store.ErrNotFound
	}

	d := &model.UserDetail{User: *u, Organization: *org}
	if p := s.profiles[u.ID]; p != nil {
		d.Profile = *p
	}
	if roleID, ok := s.userRoles[u.ID]; ok {
		if role := s.roles[roleID]; role != nil {
			d.Role = *role
			d.Role.Permissions = append([]model.Permission(nil), role.Permissions...)
		}
	}
	return d, nil
}

func copyUser(u *model.User) (*model.User, error) {
	if u == nil {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type orgRepo struct{ s *Store }

func (r orgRepo) Create(_ context.Context, org *model.Organization) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.orgsBySlug[org.Slug]; taken {
		return store.ErrDuplicate
	}
	cp := *org
	r.s.orgs[org.ID] = &cp
	r.s.orgsBySlug[org.Slug] = org.ID
	return nil
}

func (r orgRepo) FindByID(_ context.Context, id string) (*model.Organization, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	org, ok := r.s.orgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (r orgRepo) SlugExists(_ context.Context, slug string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.orgsBySlug[slug]
	return ok, nil
}

type profileRepo struct{ s *Store }

func (r profileRepo) Create(_ context.Context, p *model.Profile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *p
	r.s.profiles[p.UserID] = &cp
	return nil
}

func (r profileRepo) FindByUserID(_ context.Context, userID string) (*model.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.profiles[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

type roleRepo struct{ s *Store }

func (r roleRepo) FindByName(_ context.Context, name string) (*model.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	role, ok := r.s.roles[r.s.rolesByName[name]]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *role
	cp.Permissions = append([]model.Permission(nil), role.Permissions...)
	return &cp, nil
}

func (r roleRepo) Assign(_ context.Context, userID, roleID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.userRoles[userID] = roleID
	return nil
}

func (r roleRepo) RoleForUser(_ context.Context, userID string) (*model.Role, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	role, ok := r.s.roles[r.s.userRoles[userID]]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *role
	cp.Permissions = append([]model.Permission(nil), role.Permissions...)
	return &cp, nil
}

type refreshRepo struct{ s *Store }

func (r refreshRepo) Create(_ context.Context, t *model.RefreshToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.refreshByHash[t.TokenHash]; taken {
		return store.ErrDuplicate
	}
	cp := *t
	r.s.refreshTokens[t.ID] = &cp
	r.s.refreshByHash[t.TokenHash] = t.ID
	return nil
}

func (r refreshRepo) FindByHash(_ context.Context, hash string) (*model.RefreshToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.refreshTokens[r.s.refreshByHash[hash]]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r refreshRepo) FindUsableByHash(ctx context.Context, hash string, now time.Time) (*model.RefreshToken, error) {
	t, err := r.FindByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if !t.Usable(now) {
		return nil, store.ErrNotFound
	}
	return t, nil
}

func (r refreshRepo) MarkUsed(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.refreshTokens[id]
	if !ok {
		return store.ErrNotFound
	}
	t.UsedAt = &at
	return nil
}

func (r refreshRepo) RevokeFamily(_ context.Context, familyID, reason string, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, t := range r.s.refreshTokens {
		if t.FamilyID == familyID && t.RevokedAt == nil {
			t.RevokedAt = &at
			t.RevokedReason = reason
			n++
		}
	}
	return n, nil
}

func (r refreshRepo) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for _, t := range r.s.refreshTokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &at
			t.RevokedReason = reason
			n++
		}
	}
	return n, nil
}

type loginSecRepo struct{ s *Store }

func (r loginSecRepo) Get(_ context.Context, userID string) (*model.LoginSecurity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sec, ok := r.s.loginSec[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sec
	return &cp, nil
}

func (r loginSecRepo) Create(_ context.Context, sec *model.LoginSecurity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.loginSec[sec.UserID]; taken {
		return store.ErrDuplicate
	}
	cp := *sec
	r.s.loginSec[sec.UserID] = &cp
	return nil
}

func (r loginSecRepo) Save(_ context.Context, sec *model.LoginSecurity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.loginSec[sec.UserID]; !ok {
		return store.ErrNotFound
	}
	cp := *sec
	r.s.loginSec[sec.UserID] = &cp
	return nil
}

type passSecRepo struct{ s *Store }

func (r passSecRepo) Get(_ context.Context, userID string) (*model.PasswordSecurity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sec, ok := r.s.passSec[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sec
	return &cp, nil
}

func (r passSecRepo) Upsert(_ context.Context, sec *model.PasswordSecurity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *sec
	r.s.passSec[sec.UserID] = &cp
	return nil
}

type otpRepo struct{ s *Store }

func (r otpRepo) Get(_ context.Context, userID string) (*model.OtpAttempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.otpAttempts[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r otpRepo) Create(_ context.Context, a *model.OtpAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, taken := r.s.otpAttempts[a.UserID]; taken {
		return store.ErrDuplicate
	}
	cp := *a
	r.s.otpAttempts[a.UserID] = &cp
	return nil
}

func (r otpRepo) Increment(_ context.Context, userID string, at time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.otpAttempts[userID]
	if !ok {
		a = &model.OtpAttempt{UserID: userID}
		r.s.otpAttempts[userID] = a
	}
	a.AttemptCount++
	a.UpdatedAt = at
	return a.AttemptCount, nil
}

func (r otpRepo) Reset(_ context.Context, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.otpAttempts[userID]
	if !ok {
		return store.ErrNotFound
	}
	a.AttemptCount = 0
	a.UpdatedAt = at
	return nil
}

type verifRepo struct{ s *Store }

func (r verifRepo) Create(_ context.Context, t *model.VerificationToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *t
	r.s.verifTokens[t.ID] = &cp
	return nil
}

func (r verifRepo) FindActiveByUser(_ context.Context, userID string) (*model.VerificationToken, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var active []*model.VerificationToken
	for _, t := range r.s.verifTokens {
		if t.UserID == userID && t.IsActive && t.UsedAt == nil && t.RevokedAt == nil {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return nil, store.ErrNotFound
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	cp := *active[0]
	return &cp, nil
}

func (r verifRepo) MarkUsed(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.verifTokens[id]
	if !ok {
		return store.ErrNotFound
	}
	t.UsedAt = &at
	t.IsActive = false
	return nil
}

func (r verifRepo) RevokeAllForUser(_ context.Context, userID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, t := range r.s.verifTokens {
		if t.UserID == userID && t.RevokedAt == nil {
			t.RevokedAt = &at
			t.IsActive = false
		}
	}
	return nil
}

type auditRepo struct{ s *Store }

func (r auditRepo) Append(_ context.Context, e *model.AuditEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.AuditErr != nil {
		return r.s.AuditErr
	}
	cp := *e
	r.s.audit = append(r.s.audit, &cp)
	return nil
}
