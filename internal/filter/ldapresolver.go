package filter

import (
	"context"
	"strings"

	"github.com/busybox42/decency/internal/datasource"
)

// LDAPResolver implements UserResolver by looking up the local mailbox
// name for a recipient address in a directory. The directory is asked
// first; the configured default user and then the envelope recipient
// are used only when the lookup fails or no directory is configured.
type LDAPResolver struct {
	ds          *datasource.LDAP
	defaultUser string
}

// NewLDAPResolver wraps an already-connected LDAP datasource.
func NewLDAPResolver(ds *datasource.LDAP, defaultUser string) *LDAPResolver {
	return &LDAPResolver{ds: ds, defaultUser: defaultUser}
}

// ResolveUser extracts the local part of recipient and looks it up in
// LDAP; on any failure it falls back to DefaultUser, then the envelope
// recipient itself.
func (r *LDAPResolver) ResolveUser(ctx context.Context, recipient string) (string, error) {
	local := recipient
	if i := strings.Index(recipient, "@"); i >= 0 {
		local = recipient[:i]
	}

	if r.ds != nil {
		if user, err := r.ds.GetUser(ctx, local); err == nil && user.Username != "" {
			return user.Username, nil
		}
	}

	if r.defaultUser != "" {
		return r.defaultUser, nil
	}
	return recipient, nil
}
