package guards

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellEscapeArg(t *testing.T) {
	type scenario struct {
		name  string
		input string
		want  string
	}

	scenarios := []scenario{
		{"empty", "", "''"},
		{"simple", "hello", "'hello'"},
		{"apostrophe", "it's", `'it'\''s'`},
		{"multiple quotes", "a'b'c", `'a'\''b'\''c'`},
	}

	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			assert.Equal(t, s.want, ShellEscapeArg(s.input))
		})
	}
}

func TestValidateCommand(t *testing.T) {
	t.Run("trims whitespace", func(t *testing.T) {
		out, err := ValidateCommand("  echo hi  ")
		require.NoError(t, err)
		assert.Equal(t, "echo hi", out)
	})

	t.Run("rejects empty", func(t *testing.T) {
		_, err := ValidateCommand("   ")
		require.Error(t, err)
	})

	t.Run("rejects null byte", func(t *testing.T) {
		_, err := ValidateCommand("ls\x00rm")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "null byte")
	})

	metacharScenarios := []string{";", "&", "|", "`", "$", "<", ">", "\\"}
	for _, mc := range metacharScenarios {
		mc := mc
		t.Run("rejects metachar "+mc, func(t *testing.T) {
			_, err := ValidateCommand("ls " + mc + " grep foo")
			require.Error(t, err)
			assert.Contains(t, err.Error(), mc)
		})
	}

	t.Run("pipe example from spec", func(t *testing.T) {
		_, err := ValidateCommand("ls | grep foo")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "'|'")
	})
}

func TestValidateEnvKey(t *testing.T) {
	valid := []string{"FOO", "_FOO", "FOO_BAR_1", "a"}
	for _, k := range valid {
		assert.NoError(t, ValidateEnvKey(k), k)
	}

	invalid := []string{"", "1FOO", "FOO-BAR", "FOO BAR", "foo.bar"}
	for _, k := range invalid {
		assert.Error(t, ValidateEnvKey(k), k)
	}
}
