package messages

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocales(t *testing.T) {
	assert.Equal(t, []string{"pl", "ru"}, Locales())
}

func TestLoadDefaultLocale(t *testing.T) {
	c, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, "pl", c.Locale())
	assert.Equal(t, "Polski", c.Name())
	assert.Equal(t, "Niepoprawny format numeru telefonu", c.Text("phone_format"))
	assert.Equal(t, "✅ Kod weryfikacyjny wysłany!", c.Text("otp_sent"))
}

func TestLoadUnknownLocale(t *testing.T) {
	_, err := Load("de", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pl, ru")
}

func TestCatalogsDefineSameKeys(t *testing.T) {
	pl, err := Load("pl", "")
	require.NoError(t, err)
	ru, err := Load("ru", "")
	require.NoError(t, err)

	assert.Equal(t, pl.Keys(), ru.Keys())
}

func TestFlowKeysAreTranslated(t *testing.T) {
	keys := []string{
		"phone_format", "phone_invalid", "code_incomplete", "name_required",
		"link_required", "request_failed", "server_unavailable", "otp_sent",
		"otp_confirmed", "files_submitted", "link_submitted",
		"clients_unavailable", "busy", KeyRequestError,
	}
	for _, locale := range Locales() {
		c, err := Load(locale, "")
		require.NoError(t, err)
		for _, k := range keys {
			assert.True(t, c.Has(k), "%s: missing %s", locale, k)
		}
	}
}

func TestText(t *testing.T) {
	c, err := Load("ru", "")
	require.NoError(t, err)

	assert.Equal(t, "Не удалось загрузить клиентов", c.Text("clients_unavailable"))
	assert.Equal(t, "Можно добавить не более 10 файлов.", c.Text("files_limit", 10))
	assert.Equal(t, "no_such_key", c.Text("no_such_key"))
}

func TestFailure(t *testing.T) {
	c, err := Load("pl", "")
	require.NoError(t, err)

	assert.Equal(t, "❌ Błąd: Nieprawidłowy kod", c.Failure("Nieprawidłowy kod", "request_failed"))
	assert.Equal(t, c.Text("server_unavailable"), c.Failure("", "server_unavailable"))
	assert.Empty(t, c.Failure("", ""))
}

func TestOverrideFile(t *testing.T) {
	override := filepath.Join(t.TempDir(), "override.yaml")
	content := "messages:\n  phone_submit: \"Dalej\"\n  extra: \"Nowy\"\n"
	require.NoError(t, os.WriteFile(override, []byte(content), 0644))

	c, err := Load("pl", override)
	require.NoError(t, err)
	assert.Equal(t, "Dalej", c.Text("phone_submit"))
	assert.Equal(t, "Nowy", c.Text("extra"))
	assert.Equal(t, "Pliki", c.Text("files_label"))
}

func TestOverrideFileErrors(t *testing.T) {
	_, err := Load("pl", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("messages: [unclosed"), 0644))
	_, err = Load("pl", bad)
	assert.Error(t, err)
}

func TestParseEmptyDocument(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, c.Keys())
	assert.Equal(t, "x", c.Text("x"))
}
