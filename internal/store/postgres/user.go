package postgres

import (
	"context"
	"time"

	"github.com/coverdesk/authcore/internal/model"
)

type userRepo struct{ q dbtx }

const userColumns = `id, organization_id, email, password_hash,
	email_verified, email_verified_at, is_active, created_at, updated_at`

func (r userRepo) Create(ctx context.Context, u *model.User) error {
	_, err := r.q.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, u.ID, u.OrganizationID, u.Email, u.PasswordHash,
		u.EmailVerified, u.EmailVerifiedAt, u.IsActive, u.CreatedAt, u.UpdatedAt)
	return mapErr(err)
}

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.PasswordHash,
		&u.EmailVerified, &u.EmailVerifiedAt, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r userRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return scanUser(r.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id))
}

func (r userRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(r.q.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = $1`, email))
}

func (r userRepo) DetailByID(ctx context.Context, id string) (*model.UserDetail, error) {
	return r.detail(ctx, `u.id = $1`, id)
}

func (r userRepo) DetailByEmail(ctx context.Context, email string) (*model.UserDetail, error) {
	return r.detail(ctx, `u.email = $1`, email)
}

// detail joins the user with its organization, profile, and single
// assigned role, then loads the role's permissions in a second query.
func (r userRepo) detail(ctx context.Context, where string, arg any) (*model.UserDetail, error) {
	var d model.UserDetail
	err := r.q.QueryRowContext(ctx, `
		select u.id, u.organization_id, u.email, u.password_hash,
		       u.email_verified, u.email_verified_at, u.is_active, u.created_at, u.updated_at,
		       o.id, o.name, o.slug, o.is_active, o.created_at,
		       coalesce(p.first_name, ''), coalesce(p.last_name, ''), coalesce(p.timezone, ''),
		       coalesce(r.id, ''), coalesce(r.name, ''), coalesce(r.description, '')
		from users u
		join organizations o on o.id = u.organization_id
		left join profiles p on p.user_id = u.id
		left join user_roles ur on ur.user_id = u.id
		left join roles r on r.id = ur.role_id
		where `+where+`
	`, arg).Scan(
		&d.User.ID, &d.User.OrganizationID, &d.User.Email, &d.User.PasswordHash,
		&d.User.EmailVerified, &d.User.EmailVerifiedAt, &d.User.IsActive, &d.User.CreatedAt, &d.User.UpdatedAt,
		&d.Organization.ID, &d.Organization.Name, &d.Organization.Slug, &d.Organization.IsActive, &d.Organization.CreatedAt,
		&d.Profile.FirstName, &d.Profile.LastName, &d.Profile.Timezone,
		&d.Role.ID, &d.Role.Name, &d.Role.Description,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	d.Profile.UserID = d.User.ID

	if d.Role.ID != "" {
		perms, err := loadPermissions(ctx, r.q, d.Role.ID)
		if err != nil {
			return nil, err
		}
		d.Role.Permissions = perms
	}
	return &d, nil
}

func (r userRepo) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.ExecContext(ctx, `
		update users
		set email_verified = true, email_verified_at = $2, updated_at = $2
		where id = $1
	`, id, at)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

func (r userRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	res, err := r.q.ExecContext(ctx,
		`update users set password_hash = $2, updated_at = now() where id = $1`, id, hash)
	if err != nil {
		return mapErr(err)
	}
	return requireRow(res)
}

type orgRepo struct{ q dbtx }

func (r orgRepo) Create(ctx context.Context, org *model.Organization) error {
	_, err := r.q.ExecContext(ctx, `
		insert into organizations (id, name, slug, is_active, created_at)
		values ($1,$2,$3,$4,$5)
	`, org.ID, org.Name, org.Slug, org.IsActive, org.CreatedAt)
	return mapErr(err)
}

func (r orgRepo) FindByID(ctx context.Context, id string) (*model.Organization, error) {
	var o model.Organization
	err := r.q.QueryRowContext(ctx, `
		select id, name, slug, is_active, created_at
		from organizations where id = $1
	`, id).Scan(&o.ID, &o.Name, &o.Slug, &o.IsActive, &o.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (r orgRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx,
		`select exists(select 1 from organizations where slug = $1)`, slug).Scan(&exists)
	return exists, mapErr(err)
}

type profileRepo struct{ q dbtx }

func (r profileRepo) Create(ctx context.Context, p *model.Profile) error {
	_, err := r.q.ExecContext(ctx, `
		insert into profiles (user_id, first_name, last_name, timezone)
		values ($1,$2,$3,$4)
	`, p.UserID, p.FirstName, p.LastName, p.Timezone)
	return mapErr(err)
}

func (r profileRepo) FindByUserID(ctx context.Context, userID string) (*model.Profile, error) {
	var p model.Profile
	err := r.q.QueryRowContext(ctx, `
		select user_id, first_name, last_name, timezone
		from profiles where user_id = $1
	`, userID).Scan(&p.UserID, &p.FirstName, &p.LastName, &p.Timezone)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

type roleRepo struct{ q dbtx }

func (r roleRepo) FindByName(ctx context.Context, name string) (*model.Role, error) {
	var role model.Role
	err := r.q.QueryRowContext(ctx, `
		select id, name, description from roles where name = $1
	`, name).Scan(&role.ID, &role.Name, &role.Description)
	if err != nil {
		return nil, mapErr(err)
	}

	perms, err := loadPermissions(ctx, r.q, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

func (r roleRepo) Assign(ctx context.Context, userID, roleID string) error {
	_, err := r.q.ExecContext(ctx, `
		insert into user_roles (user_id, role_id) values ($1,$2)
		on conflict (user_id) do update set role_id = excluded.role_id
	`, userID, roleID)
	return mapErr(err)
}

func (r roleRepo) RoleForUser(ctx context.Context, userID string) (*model.Role, error) {
	var role model.Role
	err := r.q.QueryRowContext(ctx, `
		select r.id, r.name, r.description
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
	`, userID).Scan(&role.ID, &role.Name, &role.Description)
	if err != nil {
		return nil, mapErr(err)
	}

	perms, err := loadPermissions(ctx, r.q, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

func loadPermissions(ctx context.Context, q dbtx, roleID string) ([]model.Permission, error) {
	rows, err := q.QueryContext(ctx, `
		select p.resource, p.action, p.scope
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.resource, p.action, p.scope
	`, roleID)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var perms []model.Permission
	for rows.Next() {
		var p model.Permission
		if err := rows.Scan(&p.Resource, &p.Action, &p.Scope); err != nil {
			return nil, mapErr(err)
		}
		perms = append(perms, p)
	}
	return perms, mapErr(rows.Err())
}
