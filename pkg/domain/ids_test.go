package domain

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagepass/pkg/platform/faults"
)

func TestParsePrincipalID(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParsePrincipalID("")
		require.Error(t, err)
		assert.True(t, faults.HasCategory(err, faults.CategoryValidation))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParsePrincipalID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, faults.HasCategory(err, faults.CategoryValidation))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		raw := uuid.New()
		got, err := ParsePrincipalID(raw.String())
		require.NoError(t, err)
		assert.Equal(t, PrincipalID(raw), got)
		assert.Equal(t, raw.String(), got.String())
	})
}

func TestParseID_RejectsHostileInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE api_credentials;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},
		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errPrincipal := ParsePrincipalID(tt.input)
			_, errCredential := ParseCredentialID(tt.input)
			_, errTicket := ParseTicketID(tt.input)
			if tt.wantErr {
				require.Error(t, errPrincipal)
				require.Error(t, errCredential)
				require.Error(t, errTicket)
				return
			}
			require.NoError(t, errPrincipal)
			require.NoError(t, errCredential)
			require.NoError(t, errTicket)
		})
	}
}

func TestRole_IsValid(t *testing.T) {
	for _, r := range []Role{RoleFan, RoleBandMember, RoleModerator, RoleAdmin} {
		assert.True(t, r.IsValid(), r)
	}
	assert.False(t, Role("ROOT").IsValid())
}
