package auth

import (
	"context"
	"errors"
	"testing"
)

func TestMeReturnsFreshPayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	login := loginFor(t, env, "me@x.com")

	claims, err := env.engine.VerifyAccessToken(login.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}

	payload, err := env.engine.Me(ctx, claims)
	if err != nil {
		t.Fatalf("Me: %v", err)
	}
	if payload.Email != "me@x.com" || payload.Role.Name != "owner" {
		t.Fatalf("payload = %+v", payload)
	}
	if len(payload.Permissions) == 0 {
		t.Fatal("payload carries no permissions")
	}
}

func TestMeDeletedUser(t *testing.T) {
	env := newTestEnv(t)
	login := loginFor(t, env, "del@x.com")

	claims, err := env.engine.VerifyAccessToken(login.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}

	env.store.DeleteUser(claims.Subject)

	if _, err := env.engine.Me(context.Background(), claims); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestMeInactiveOrganization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reg := env.registerAndVerify(t, "org@x.com", "Abcdef1!")
	login := env.login(t, "org@x.com", "Abcdef1!")

	claims, err := env.engine.VerifyAccessToken(login.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccessToken: %v", err)
	}

	env.store.SetOrganizationActive(reg.OrganizationID, false)

	if _, err := env.engine.Me(ctx, claims); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("err = %v, want ErrAccountInactive", err)
	}
}

func TestSamePermissionSet(t *testing.T) {
	cases := []struct {
		a, b []string
		want bool
	}{
		{nil, nil, true},
		{[]string{"a:b:c"}, []string{"a:b:c"}, true},
		{[]string{"a:b:c", "d:e:f"}, []string{"d:e:f", "a:b:c"}, true},
		{[]string{"a:b:c"}, []string{"d:e:f"}, false},
		{[]string{"a:b:c"}, nil, false},
	}
	for _, c := range cases {
		if got := samePermissionSet(c.a, c.b); got != c.want {
			t.Errorf("samePermissionSet(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
