package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/coverdesk/authcore/internal/queue"
)

func TestRegisterDuplicateIsIdempotentDecoy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	real, err := env.engine.Register(ctx, RegisterInput{
		Email:            "dup@x.com",
		Password:         "Abcdef1!",
		FirstName:        "D",
		LastName:         "U",
		OrganizationName: "Dup Co",
	})
	if err != nil {
		t.Fatalf("first Register: %v", err)
	}

	first, err := env.engine.Register(ctx, RegisterInput{
		Email:            "Dup@X.com",
		Password:         "Other2@!",
		FirstName:        "E",
		LastName:         "V",
		OrganizationName: "Other Co",
	})
	if err != nil {
		t.Fatalf("duplicate Register: %v", err)
	}
	second, err := env.engine.Register(ctx, RegisterInput{
		Email:            "dup@x.com",
		Password:         "Third3#!",
		FirstName:        "F",
		LastName:         "W",
		OrganizationName: "Third Co",
	})
	if err != nil {
		t.Fatalf("duplicate Register again: %v", err)
	}

	// Decoy ids are stable across retries and never the real ids.
	if first.UserID != second.UserID || first.OrganizationID != second.OrganizationID {
		t.Fatalf("decoy ids not deterministic: %+v vs %+v", first, second)
	}
	if first.UserID == real.UserID || first.OrganizationID == real.OrganizationID {
		t.Fatal("decoy ids must differ from the real ids")
	}

	// No second org row was created for the duplicate attempts.
	if exists, _ := env.store.Organizations().SlugExists(ctx, "other-co"); exists {
		t.Fatal("duplicate registration created an organization")
	}

	// The mailbox owner is notified out of band.
	var notices int
	for _, j := range env.queue.all() {
		if j.Template == queue.TemplateDuplicateSignup {
			notices++
		}
	}
	if notices != 2 {
		t.Fatalf("duplicate notices = %d, want 2", notices)
	}
}

func TestRegisterSlugCollisionSuffix(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, email := range []string{"s1@x.com", "s2@x.com", "s3@x.com"} {
		res, err := env.engine.Register(ctx, RegisterInput{
			Email:            email,
			Password:         "Abcdef1!",
			FirstName:        "S",
			LastName:         "L",
			OrganizationName: "Same Name Inc",
		})
		if err != nil {
			t.Fatalf("Register %d: %v", i, err)
		}
		org, err := env.store.Organizations().FindByID(ctx, res.OrganizationID)
		if err != nil {
			t.Fatalf("org %d: %v", i, err)
		}
		want := []string{"same-name-inc", "same-name-inc-1", "same-name-inc-2"}[i]
		if org.Slug != want {
			t.Fatalf("slug %d = %q, want %q", i, org.Slug, want)
		}
	}
}

func TestRegisterSlugExhaustion(t *testing.T) {
	env := newTestEnv(t)
	env.engine.cfg.Registration.SlugMaxAttempts = 2
	ctx := context.Background()

	emails := []string{"e1@x.com", "e2@x.com", "e3@x.com"}
	for _, email := range emails[:2] {
		if _, err := env.engine.Register(ctx, RegisterInput{
			Email: email, Password: "Abcdef1!", FirstName: "a", LastName: "b",
			OrganizationName: "Clash Ltd",
		}); err != nil {
			t.Fatalf("Register %s: %v", email, err)
		}
	}

	_, err := env.engine.Register(ctx, RegisterInput{
		Email: emails[2], Password: "Abcdef1!", FirstName: "a", LastName: "b",
		OrganizationName: "Clash Ltd",
	})
	if !errors.Is(err, ErrSlugExhausted) {
		t.Fatalf("err = %v, want ErrSlugExhausted", err)
	}
}

func TestRegisterReservedSlugGetsRandomBase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.engine.Register(ctx, RegisterInput{
		Email: "r@x.com", Password: "Abcdef1!", FirstName: "a", LastName: "b",
		OrganizationName: "Admin",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	org, err := env.store.Organizations().FindByID(ctx, res.OrganizationID)
	if err != nil {
		t.Fatalf("org: %v", err)
	}
	if org.Slug == "admin" || org.Slug == "" {
		t.Fatalf("reserved name must not become its own slug, got %q", org.Slug)
	}
}

func TestRegisterMissingOwnerRole(t *testing.T) {
	env := newTestEnv(t)
	env.engine.cfg.Registration.OwnerRoleName = "nonexistent"

	_, err := env.engine.Register(context.Background(), RegisterInput{
		Email: "o@x.com", Password: "Abcdef1!", FirstName: "a", LastName: "b",
		OrganizationName: "Org",
	})
	if !errors.Is(err, ErrOwnerRoleMissing) {
		t.Fatalf("err = %v, want ErrOwnerRoleMissing", err)
	}
}

func TestRegisterSurvivesQueueFailure(t *testing.T) {
	env := newTestEnv(t)
	env.queue.err = errors.New("broker down")

	res, err := env.engine.Register(context.Background(), RegisterInput{
		Email: "q@x.com", Password: "Abcdef1!", FirstName: "a", LastName: "b",
		OrganizationName: "Queue Co",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.UserID == "" {
		t.Fatal("expected a real user id despite queue failure")
	}
}
