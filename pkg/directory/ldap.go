// Package directory adapts the corporate LDAP directory.
//
// The directory is decision-authoritative for membership verification: the
// orchestrator always asks it directly instead of trusting the local
// catalogue, which is only a synced cache.
package directory

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/lliwi/sar-v3-sub000/internal/logger"
	"github.com/lliwi/sar-v3-sub000/internal/telemetry"
	"github.com/lliwi/sar-v3-sub000/pkg/models"
)

// accountDisabledBit is the ACCOUNTDISABLE flag of userAccountControl.
const accountDisabledBit = 0x0002

// defaultPageSize is the page size of the simple paged results control
// (OID 1.2.840.113556.1.4.319). Directories cap result sets server-side,
// so every subtree search pages.
const defaultPageSize = 1000

// Attributes maps logical fields to directory attribute names. The defaults
// follow Active Directory schemas.
type Attributes struct {
	Username           string `mapstructure:"username" yaml:"username"`
	Mail               string `mapstructure:"mail" yaml:"mail"`
	DisplayName        string `mapstructure:"display_name" yaml:"display_name"`
	Department         string `mapstructure:"department" yaml:"department"`
	Matricula          string `mapstructure:"matricula" yaml:"matricula"`
	MemberOf           string `mapstructure:"member_of" yaml:"member_of"`
	Member             string `mapstructure:"member" yaml:"member"`
	GroupName          string `mapstructure:"group_name" yaml:"group_name"`
	UserAccountControl string `mapstructure:"user_account_control" yaml:"user_account_control"`
}

var defaultAttributes = Attributes{
	Username:           "sAMAccountName",
	Mail:               "mail",
	DisplayName:        "displayName",
	Department:         "department",
	Matricula:          "employeeID",
	MemberOf:           "memberOf",
	Member:             "member",
	GroupName:          "cn",
	UserAccountControl: "userAccountControl",
}

// Config contains directory adapter configuration.
type Config struct {
	// Hostname and Port locate the directory server.
	Hostname string `mapstructure:"hostname" yaml:"hostname" validate:"required"`
	Port     int    `mapstructure:"port" yaml:"port"`

	// UseTLS selects LDAPS. Insecure skips certificate verification;
	// CACert adds a trusted certificate on top of the system pool.
	UseTLS   bool   `mapstructure:"use_tls" yaml:"use_tls"`
	Insecure bool   `mapstructure:"insecure" yaml:"insecure"`
	CACert   string `mapstructure:"cacert" yaml:"cacert"`

	// BindDN and BindPassword authenticate the service account.
	BindDN       string `mapstructure:"bind_dn" yaml:"bind_dn"`
	BindPassword string `mapstructure:"bind_password" yaml:"bind_password"`

	// BaseDN is the default search base. GroupBaseDN, when set, narrows
	// group lookups.
	BaseDN      string `mapstructure:"base_dn" yaml:"base_dn" validate:"required"`
	GroupBaseDN string `mapstructure:"group_base_dn" yaml:"group_base_dn"`

	// SearchOUs, when non-empty, replaces BaseDN for user searches; each
	// entry is tried in order until one matches.
	SearchOUs []string `mapstructure:"search_ous" yaml:"search_ous"`

	// AdminGroups are directory group names whose members get the admin
	// role in the catalogue.
	AdminGroups []string `mapstructure:"admin_groups" yaml:"admin_groups"`

	// Schema maps logical fields to attribute names.
	Schema Attributes `mapstructure:"schema" yaml:"schema"`

	// PageSize for paged searches. Default: 1000.
	PageSize uint32 `mapstructure:"page_size" yaml:"page_size"`

	// Timeout bounds each directory operation. Default: 30s.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		if c.UseTLS {
			c.Port = 636
		} else {
			c.Port = 389
		}
	}
	if c.PageSize == 0 {
		c.PageSize = defaultPageSize
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	d := defaultAttributes
	if c.Schema.Username == "" {
		c.Schema.Username = d.Username
	}
	if c.Schema.Mail == "" {
		c.Schema.Mail = d.Mail
	}
	if c.Schema.DisplayName == "" {
		c.Schema.DisplayName = d.DisplayName
	}
	if c.Schema.Department == "" {
		c.Schema.Department = d.Department
	}
	if c.Schema.Matricula == "" {
		c.Schema.Matricula = d.Matricula
	}
	if c.Schema.MemberOf == "" {
		c.Schema.MemberOf = d.MemberOf
	}
	if c.Schema.Member == "" {
		c.Schema.Member = d.Member
	}
	if c.Schema.GroupName == "" {
		c.Schema.GroupName = d.GroupName
	}
	if c.Schema.UserAccountControl == "" {
		c.Schema.UserAccountControl = d.UserAccountControl
	}
}

// IsAdminGroup reports whether the named group grants the admin role.
func (c *Config) IsAdminGroup(name string) bool {
	for _, g := range c.AdminGroups {
		if strings.EqualFold(g, name) {
			return true
		}
	}
	return false
}

// UserRecord is the directory view of a user.
type UserRecord struct {
	Username    string
	Email       string
	DisplayName string
	Department  string
	Matricula   string
	DN          string
	Disabled    bool
}

// Adapter is the directory surface the rest of the engine consumes.
// Verification and catalogue sync both go through it so tests can inject a
// fake directory.
type Adapter interface {
	GroupExists(ctx context.Context, name string) (bool, error)
	GroupMembers(ctx context.Context, groupDN string) ([]string, error)
	UserDetails(ctx context.Context, username string) (*UserRecord, error)
	UserGroups(ctx context.Context, username string) ([]string, error)
}

// LDAPAdapter implements Adapter against a live LDAP v3 server. Connections
// are per-operation; the go-ldap connection is not safe for interleaved use.
type LDAPAdapter struct {
	cfg Config
}

var _ Adapter = (*LDAPAdapter)(nil)

// New creates a directory adapter. No connection is made until first use.
func New(cfg Config) (*LDAPAdapter, error) {
	cfg.ApplyDefaults()
	if cfg.Hostname == "" {
		return nil, fmt.Errorf("directory hostname is required")
	}
	if cfg.BaseDN == "" {
		return nil, fmt.Errorf("directory base DN is required")
	}
	return &LDAPAdapter{cfg: cfg}, nil
}

// GroupExists reports whether a group with the given name exists.
func (a *LDAPAdapter) GroupExists(ctx context.Context, name string) (bool, error) {
	ctx, span := telemetry.StartDirectorySpan(ctx, "group_exists", telemetry.GroupName(name))
	defer span.End()

	conn, err := a.connect()
	if err != nil {
		telemetry.RecordError(ctx, err)
		return false, err
	}
	defer conn.Close()

	filter := fmt.Sprintf("(&(objectClass=group)(%s=%s))",
		a.cfg.Schema.GroupName, ldap.EscapeFilter(name))
	entries, err := a.pagedSearch(ctx, conn, a.groupBase(), filter, []string{a.cfg.Schema.GroupName})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return false, err
	}
	return len(entries) > 0, nil
}

// GroupMembers returns the member DNs of the group at the given DN.
func (a *LDAPAdapter) GroupMembers(ctx context.Context, groupDN string) ([]string, error) {
	ctx, span := telemetry.StartDirectorySpan(ctx, "group_members", telemetry.GroupName(groupDN))
	defer span.End()

	conn, err := a.connect()
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	defer conn.Close()

	req := ldap.NewSearchRequest(
		groupDN,
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)",
		[]string{a.cfg.Schema.Member},
		nil,
	)
	sr, err := conn.SearchWithPaging(req, a.cfg.PageSize)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return nil, models.NewFault(models.FaultNotFound, "group not found: "+groupDN, models.ErrGroupNotFound)
		}
		err = models.Transient("directory search failed", err)
		telemetry.RecordError(ctx, err)
		return nil, err
	}
	if len(sr.Entries) == 0 {
		return nil, models.NewFault(models.FaultNotFound, "group not found: "+groupDN, models.ErrGroupNotFound)
	}
	return sr.Entries[0].GetAttributeValues(a.cfg.Schema.Member), nil
}

// UserDetails looks the user up across the configured search scopes.
// Returns models.ErrUserNotFound when no scope matches.
func (a *LDAPAdapter) UserDetails(ctx context.Context, username string) (*UserRecord, error) {
	ctx, span := telemetry.StartDirectorySpan(ctx, "user_details", telemetry.Username(username))
	defer span.End()

	entry, err := a.findUser(ctx, username, []string{
		"dn",
		a.cfg.Schema.Username,
		a.cfg.Schema.Mail,
		a.cfg.Schema.DisplayName,
		a.cfg.Schema.Department,
		a.cfg.Schema.Matricula,
		a.cfg.Schema.UserAccountControl,
	})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	rec := &UserRecord{
		Username:    entry.GetEqualFoldAttributeValue(a.cfg.Schema.Username),
		Email:       entry.GetEqualFoldAttributeValue(a.cfg.Schema.Mail),
		DisplayName: entry.GetEqualFoldAttributeValue(a.cfg.Schema.DisplayName),
		Department:  entry.GetEqualFoldAttributeValue(a.cfg.Schema.Department),
		Matricula:   entry.GetEqualFoldAttributeValue(a.cfg.Schema.Matricula),
		DN:          entry.DN,
	}
	if uac := entry.GetEqualFoldAttributeValue(a.cfg.Schema.UserAccountControl); uac != "" {
		rec.Disabled = AccountDisabled(uac)
	}
	return rec, nil
}

// UserGroups returns the names of the groups the user is a direct member
// of, derived from the memberOf attribute.
func (a *LDAPAdapter) UserGroups(ctx context.Context, username string) ([]string, error) {
	ctx, span := telemetry.StartDirectorySpan(ctx, "user_groups", telemetry.Username(username))
	defer span.End()

	entry, err := a.findUser(ctx, username, []string{"dn", a.cfg.Schema.MemberOf})
	if err != nil {
		telemetry.RecordError(ctx, err)
		return nil, err
	}

	dns := entry.GetAttributeValues(a.cfg.Schema.MemberOf)
	groups := make([]string, 0, len(dns))
	for _, dn := range dns {
		if name := GroupNameFromDN(dn); name != "" {
			groups = append(groups, name)
		}
	}
	return groups, nil
}

// findUser iterates the configured search scopes and returns the first
// matching entry.
func (a *LDAPAdapter) findUser(ctx context.Context, username string, attrs []string) (*ldap.Entry, error) {
	conn, err := a.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	filter := fmt.Sprintf("(&(objectClass=user)(%s=%s))",
		a.cfg.Schema.Username, ldap.EscapeFilter(models.BarePrincipal(username)))

	for _, base := range a.userScopes() {
		entries, err := a.pagedSearch(ctx, conn, base, filter, attrs)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			return entries[0], nil
		}
		logger.Debug("User not in scope, trying next", logger.KeyUsername, username, logger.KeyLDAPBase, base)
	}
	return nil, models.NewFault(models.FaultNotFound, "user not found: "+username, models.ErrUserNotFound)
}

// pagedSearch runs a subtree search with the simple paged results control.
func (a *LDAPAdapter) pagedSearch(ctx context.Context, conn *ldap.Conn, base, filter string, attrs []string) ([]*ldap.Entry, error) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetTimeout(time.Until(deadline))
	}

	req := ldap.NewSearchRequest(
		base,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		attrs,
		nil,
	)
	sr, err := conn.SearchWithPaging(req, a.cfg.PageSize)
	if err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			// A missing OU yields an empty scope, not a hard failure.
			logger.Warn("Search base does not exist", logger.KeyLDAPBase, base)
			return nil, nil
		}
		return nil, models.Transient("directory search failed", err)
	}
	logger.Debug("Directory search",
		logger.KeyLDAPBase, base,
		logger.KeyFilter, filter,
		logger.KeyCount, len(sr.Entries))
	return sr.Entries, nil
}

// connect dials and binds a fresh connection.
func (a *LDAPAdapter) connect() (*ldap.Conn, error) {
	addr := fmt.Sprintf("%s:%d", a.cfg.Hostname, a.cfg.Port)

	var conn *ldap.Conn
	var err error
	if a.cfg.UseTLS {
		tlsConfig := &tls.Config{InsecureSkipVerify: a.cfg.Insecure}
		if !a.cfg.Insecure && a.cfg.CACert != "" {
			pem, rerr := os.ReadFile(a.cfg.CACert)
			if rerr != nil {
				return nil, fmt.Errorf("failed to read directory CA certificate: %w", rerr)
			}
			pool, _ := x509.SystemCertPool()
			if pool == nil {
				pool = x509.NewCertPool()
			}
			pool.AppendCertsFromPEM(pem)
			tlsConfig.RootCAs = pool
		}
		conn, err = ldap.DialTLS("tcp", addr, tlsConfig)
	} else {
		conn, err = ldap.Dial("tcp", addr)
	}
	if err != nil {
		return nil, models.Transient("directory unreachable", err)
	}
	conn.SetTimeout(a.cfg.Timeout)

	if a.cfg.BindDN != "" {
		if err := conn.Bind(a.cfg.BindDN, a.cfg.BindPassword); err != nil {
			conn.Close()
			return nil, models.Transient("directory bind failed", err)
		}
	}
	return conn, nil
}

// userScopes returns the bases to search for users, in order.
func (a *LDAPAdapter) userScopes() []string {
	if len(a.cfg.SearchOUs) > 0 {
		return a.cfg.SearchOUs
	}
	return []string{a.cfg.BaseDN}
}

func (a *LDAPAdapter) groupBase() string {
	if a.cfg.GroupBaseDN != "" {
		return a.cfg.GroupBaseDN
	}
	return a.cfg.BaseDN
}

// AccountDisabled interprets a userAccountControl value. Unparseable values
// count as enabled.
func AccountDisabled(uac string) bool {
	v, err := strconv.ParseInt(uac, 10, 64)
	if err != nil {
		return false
	}
	return v&accountDisabledBit != 0
}

// GroupNameFromDN extracts the leading RDN value of a group DN, e.g.
// "CN=GRP_X,OU=Groups,DC=corp" yields "GRP_X".
func GroupNameFromDN(dn string) string {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 || len(parsed.RDNs[0].Attributes) == 0 {
		// Fall back to a textual split for values go-ldap refuses.
		head, _, _ := strings.Cut(dn, ",")
		_, value, found := strings.Cut(head, "=")
		if !found {
			return ""
		}
		return strings.TrimSpace(value)
	}
	return parsed.RDNs[0].Attributes[0].Value
}

// MemberOf reports whether groups contains name, compared case-insensitively
// as directories treat group names.
func MemberOf(groups []string, name string) bool {
	for _, g := range groups {
		if strings.EqualFold(g, name) {
			return true
		}
	}
	return false
}
