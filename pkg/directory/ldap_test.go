package directory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Hostname: "ldap.corp.example", BaseDN: "DC=corp,DC=example"}
	cfg.ApplyDefaults()

	assert.Equal(t, 389, cfg.Port)
	assert.Equal(t, uint32(1000), cfg.PageSize)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, "sAMAccountName", cfg.Schema.Username)
	assert.Equal(t, "userAccountControl", cfg.Schema.UserAccountControl)
}

func TestApplyDefaultsTLSPort(t *testing.T) {
	cfg := Config{Hostname: "ldap.corp.example", BaseDN: "DC=corp", UseTLS: true}
	cfg.ApplyDefaults()
	assert.Equal(t, 636, cfg.Port)
}

func TestApplyDefaultsKeepsOverrides(t *testing.T) {
	cfg := Config{
		Hostname: "ldap.corp.example",
		BaseDN:   "DC=corp",
		Port:     10389,
		PageSize: 250,
		Schema:   Attributes{Username: "uid"},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, 10389, cfg.Port)
	assert.Equal(t, uint32(250), cfg.PageSize)
	assert.Equal(t, "uid", cfg.Schema.Username)
	assert.Equal(t, "mail", cfg.Schema.Mail, "unset fields still get defaults")
}

func TestNewRequiresHostAndBase(t *testing.T) {
	_, err := New(Config{BaseDN: "DC=corp"})
	require.Error(t, err)

	_, err = New(Config{Hostname: "ldap.corp.example"})
	require.Error(t, err)

	a, err := New(Config{Hostname: "ldap.corp.example", BaseDN: "DC=corp"})
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestAccountDisabled(t *testing.T) {
	// 512 = NORMAL_ACCOUNT, 514 = NORMAL_ACCOUNT | ACCOUNTDISABLE
	assert.False(t, AccountDisabled("512"))
	assert.True(t, AccountDisabled("514"))
	assert.True(t, AccountDisabled("66050"))
	assert.False(t, AccountDisabled("66048"))
	assert.False(t, AccountDisabled(""), "unparseable values count as enabled")
	assert.False(t, AccountDisabled("bogus"))
}

func TestGroupNameFromDN(t *testing.T) {
	tests := []struct {
		dn   string
		want string
	}{
		{"CN=GRP_APOLLO_W,OU=Groups,DC=corp,DC=example", "GRP_APOLLO_W"},
		{"cn=lowercase,ou=groups,dc=corp", "lowercase"},
		{`CN=Name\, With Comma,OU=Groups,DC=corp`, "Name, With Comma"},
		{"CN=OnlyRDN", "OnlyRDN"},
		{"garbage", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GroupNameFromDN(tt.dn), "dn=%s", tt.dn)
	}
}

func TestMemberOf(t *testing.T) {
	groups := []string{"GRP_APOLLO_R", "GRP_APOLLO_W", "Domain Users"}

	assert.True(t, MemberOf(groups, "GRP_APOLLO_W"))
	assert.True(t, MemberOf(groups, "grp_apollo_w"), "comparison is case-insensitive")
	assert.False(t, MemberOf(groups, "GRP_ARTEMIS_W"))
	assert.False(t, MemberOf(nil, "GRP_APOLLO_W"))
}

func TestIsAdminGroup(t *testing.T) {
	cfg := Config{AdminGroups: []string{"SAR_Admins", "IT_Ops"}}

	assert.True(t, cfg.IsAdminGroup("SAR_Admins"))
	assert.True(t, cfg.IsAdminGroup("sar_admins"))
	assert.False(t, cfg.IsAdminGroup("Domain Users"))
}

func TestUserGroupsEmitsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	// Nothing listens on port 1, so the operation fails fast; the span must
	// still be emitted and carry the error.
	a, err := New(Config{Hostname: "127.0.0.1", Port: 1, BaseDN: "DC=corp,DC=local"})
	require.NoError(t, err)

	_, err = a.UserGroups(context.Background(), `CORP\jdoe`)
	require.Error(t, err)

	spans := recorder.Ended()
	require.NotEmpty(t, spans, "directory operations must emit spans")

	var found bool
	for _, span := range spans {
		if span.Name() == "directory.user_groups" {
			found = true
			assert.Equal(t, codes.Error, span.Status().Code)
		}
	}
	assert.True(t, found, "expected a directory.user_groups span")
}
