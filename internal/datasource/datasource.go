// Package datasource provides the directory lookup Decency's %user%
// resolution falls back to when the MTA's queue-id header doesn't
// already carry a resolved mailbox owner (spec.md §4.6).
package datasource

import "errors"

// Errors returned by LDAP.GetUser.
var (
	ErrNotFound     = errors.New("record not found")
	ErrNotConnected = errors.New("not connected to datasource")
)

// User is a directory entry as returned by LDAP.GetUser.
type User struct {
	Username    string
	Password    string
	Email       string
	FullName    string
	IsActive    bool
	IsAdmin     bool
	Groups      []string
	Attributes  map[string]interface{}
	CreatedAt   int64
	UpdatedAt   int64
	LastLoginAt int64
}

// Config configures an LDAP connection.
type Config struct {
	Name     string
	Host     string
	Port     int
	Username string
	Password string
	Options  map[string]interface{}
}
