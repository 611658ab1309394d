package datasource

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// LDAP is the %user% directory lookup client.
type LDAP struct {
	config    Config
	conn      *ldap.Conn
	connected bool
	baseDN    string
	userDN    string
	groupDN   string
}

// NewLDAP creates a new LDAP datasource
func NewLDAP(config Config) *LDAP {
	// Set default values if not provided
	if config.Port == 0 {
		config.Port = 389 // Default LDAP port (use 636 for LDAPS)
	}

	// Get base DNs from options or use defaults
	baseDN := "dc=example,dc=com"
	userDN := "ou=users"
	groupDN := "ou=groups"

	if config.Options != nil {
		if base, ok := config.Options["base_dn"].(string); ok && base != "" {
			baseDN = base
		}
		if user, ok := config.Options["user_dn"].(string); ok && user != "" {
			userDN = user
		}
		if group, ok := config.Options["group_dn"].(string); ok && group != "" {
			groupDN = group
		}
	}

	// Ensure userDN and groupDN are relative to baseDN if they don't contain the baseDN
	// Special case: if userDN is the same as baseDN, don't append it
	if !strings.HasSuffix(userDN, baseDN) && !strings.Contains(userDN, ",") && userDN != baseDN {
		userDN = userDN + "," + baseDN
	}
	if !strings.HasSuffix(groupDN, baseDN) && !strings.Contains(groupDN, ",") && groupDN != baseDN {
		groupDN = groupDN + "," + baseDN
	}

	return &LDAP{
		config:    config,
		connected: false,
		baseDN:    baseDN,
		userDN:    userDN,
		groupDN:   groupDN,
	}
}

// Connect establishes a connection to the LDAP server
func (l *LDAP) Connect() error {
	if l.connected {
		return nil
	}

	// Connect to LDAP server using DialURL (replaces deprecated Dial)
	ldapURL := fmt.Sprintf("ldap://%s:%d", l.config.Host, l.config.Port)
	conn, err := ldap.DialURL(ldapURL)
	if err != nil {
		return fmt.Errorf("failed to connect to LDAP server: %w", err)
	}

	// Set timeout - increase to 30 seconds for better reliability
	conn.SetTimeout(30 * time.Second)

	// Bind with service account if credentials are provided
	if l.config.Username != "" && l.config.Password != "" {
		if err := conn.Bind(l.config.Username, l.config.Password); err != nil {
			_ = conn.Close() // Ignore error on cleanup in error path
			return fmt.Errorf("failed to bind to LDAP server: %w", err)
		}
	}

	l.conn = conn
	l.connected = true
	return nil
}

// Close closes the connection to the LDAP server
func (l *LDAP) Close() error {
	if !l.connected {
		return nil
	}

	l.connected = false
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("failed to close LDAP connection: %w", err)
	}
	return nil
}

// IsConnected returns true if the datasource is connected
func (l *LDAP) IsConnected() bool {
	return l.connected
}

// Name returns the name of the datasource
func (l *LDAP) Name() string {
	return l.config.Name
}

// Type returns the type of the datasource
func (l *LDAP) Type() string {
	return "ldap"
}

// ensureConnection checks if the LDAP connection is still alive and reconnects if needed
func (l *LDAP) ensureConnection() error {
	// Try a simple search to check if connection is alive
	if l.conn != nil {
		testSearch := ldap.NewSearchRequest(
			l.baseDN,
			ldap.ScopeBaseObject,
			ldap.NeverDerefAliases,
			1, 5, false,
			"(objectClass=*)",
			[]string{"dn"},
			nil,
		)
		_, err := l.conn.Search(testSearch)
		if err == nil {
			// Connection is alive
			return nil
		}
		// Connection is dead, close it
		_ = l.conn.Close() // Ignore error on cleanup
		l.connected = false
	}

	// Reconnect
	return l.Connect()
}

// GetUser retrieves user information from the LDAP server
func (l *LDAP) GetUser(ctx context.Context, username string) (User, error) {
	if !l.connected {
		return User{}, ErrNotConnected
	}

	// Ensure connection is alive
	if err := l.ensureConnection(); err != nil {
		return User{}, fmt.Errorf("failed to ensure LDAP connection: %w", err)
	}

	// Search for the user
	searchRequest := ldap.NewSearchRequest(
		l.userDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(uid=%s)", ldap.EscapeFilter(username)),
		[]string{"uid", "cn", "mail", "objectClass", "createTimestamp", "modifyTimestamp", "shadowLastChange"},
		nil,
	)

	searchResult, err := l.conn.Search(searchRequest)
	if err != nil {
		return User{}, fmt.Errorf("failed to search for user: %w", err)
	}

	if len(searchResult.Entries) == 0 {
		return User{}, ErrNotFound
	}

	if len(searchResult.Entries) > 1 {
		return User{}, fmt.Errorf("multiple users found with username '%s'", username)
	}

	entry := searchResult.Entries[0]

	// Create user object
	user := User{
		Username:   entry.GetAttributeValue("uid"),
		FullName:   entry.GetAttributeValue("cn"),
		Email:      entry.GetAttributeValue("mail"),
		IsActive:   true, // Assume active unless specified otherwise
		Attributes: make(map[string]interface{}),
	}

	// Parse timestamps
	if createTime := entry.GetAttributeValue("createTimestamp"); createTime != "" {
		if t, err := time.Parse("20060102150405Z", createTime); err == nil {
			user.CreatedAt = t.Unix()
		}
	}

	if modifyTime := entry.GetAttributeValue("modifyTimestamp"); modifyTime != "" {
		if t, err := time.Parse("20060102150405Z", modifyTime); err == nil {
			user.UpdatedAt = t.Unix()
		}
	}

	if lastChange := entry.GetAttributeValue("shadowLastChange"); lastChange != "" {
		if days, err := strconv.ParseInt(lastChange, 10, 64); err == nil {
			// shadowLastChange is in days since Jan 1, 1970
			user.LastLoginAt = days * 86400 // Convert days to seconds
		}
	}

	// Get user groups
	groupSearchRequest := ldap.NewSearchRequest(
		l.groupDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(member=%s)", ldap.EscapeFilter(entry.DN)),
		[]string{"cn"},
		nil,
	)

	groupResult, err := l.conn.Search(groupSearchRequest)
	if err != nil {
		return user, fmt.Errorf("failed to search for user groups: %w", err)
	}

	for _, groupEntry := range groupResult.Entries {
		groupName := groupEntry.GetAttributeValue("cn")
		user.Groups = append(user.Groups, groupName)

		// Check if user is admin based on group membership
		if strings.ToLower(groupName) == "admins" {
			user.IsAdmin = true
		}
	}

	// Add all attributes to the attributes map
	for _, attr := range entry.Attributes {
		if len(attr.Values) == 1 {
			user.Attributes[attr.Name] = attr.Values[0]
		} else if len(attr.Values) > 1 {
			user.Attributes[attr.Name] = attr.Values
		}
	}

	return user, nil
}
