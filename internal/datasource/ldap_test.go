package datasource

import (
	"context"
	"testing"
)

func TestNewLDAP_DefaultsBaseUserGroupDN(t *testing.T) {
	l := NewLDAP(Config{Name: "test-ldap", Host: "localhost"})

	if l.baseDN != "dc=example,dc=com" {
		t.Errorf("expected default base_dn, got %q", l.baseDN)
	}
	if l.userDN != "ou=users,dc=example,dc=com" {
		t.Errorf("expected userDN appended to base_dn, got %q", l.userDN)
	}
	if l.groupDN != "ou=groups,dc=example,dc=com" {
		t.Errorf("expected groupDN appended to base_dn, got %q", l.groupDN)
	}
	if l.config.Port != 389 {
		t.Errorf("expected default LDAP port 389, got %d", l.config.Port)
	}
}

func TestNewLDAP_OptionsOverrideDefaults(t *testing.T) {
	l := NewLDAP(Config{
		Host: "localhost",
		Port: 636,
		Options: map[string]interface{}{
			"base_dn":  "dc=corp,dc=test",
			"user_dn":  "ou=people,dc=corp,dc=test",
			"group_dn": "ou=roles,dc=corp,dc=test",
		},
	})

	if l.baseDN != "dc=corp,dc=test" {
		t.Errorf("expected overridden base_dn, got %q", l.baseDN)
	}
	if l.userDN != "ou=people,dc=corp,dc=test" {
		t.Errorf("expected userDN unchanged when already under base_dn, got %q", l.userDN)
	}
	if l.groupDN != "ou=roles,dc=corp,dc=test" {
		t.Errorf("expected groupDN unchanged when already under base_dn, got %q", l.groupDN)
	}
	if l.config.Port != 636 {
		t.Errorf("expected explicit port to be kept, got %d", l.config.Port)
	}
}

func TestLDAP_GetUser_NotConnected_Errors(t *testing.T) {
	l := NewLDAP(Config{Name: "test-ldap", Host: "localhost"})

	_, err := l.GetUser(context.Background(), "someone")
	if err != ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestLDAP_NameAndType(t *testing.T) {
	l := NewLDAP(Config{Name: "corp-directory"})

	if got := l.Name(); got != "corp-directory" {
		t.Errorf("expected Name() to return configured name, got %q", got)
	}
	if got := l.Type(); got != "ldap" {
		t.Errorf("expected Type() to return \"ldap\", got %q", got)
	}
	if l.IsConnected() {
		t.Error("expected IsConnected() to be false before Connect()")
	}
}

// TestLDAP_ConnectGetUserClose exercises the %user% resolution lifecycle
// against a real LDAP directory. Skipped by default since it requires
// network access to one.
func TestLDAP_ConnectGetUserClose(t *testing.T) {
	t.Skip("requires a live LDAP server")

	l := NewLDAP(Config{
		Name:     "test-ldap",
		Host:     "localhost",
		Port:     389,
		Username: "cn=admin,dc=example,dc=com",
		Password: "admin",
		Options: map[string]interface{}{
			"base_dn":  "dc=example,dc=com",
			"user_dn":  "ou=users",
			"group_dn": "ou=groups",
		},
	})

	if err := l.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer l.Close()

	if !l.IsConnected() {
		t.Fatal("expected IsConnected() to return true after Connect()")
	}

	user, err := l.GetUser(context.Background(), "testuser")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.Username != "testuser" {
		t.Errorf("expected username %q, got %q", "testuser", user.Username)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.IsConnected() {
		t.Fatal("expected IsConnected() to return false after Close()")
	}
}
