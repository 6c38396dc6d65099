package i18n

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Embedded(t *testing.T) {
	catalog, err := Load("en")
	require.NoError(t, err)

	assert.Equal(t, []string{"en", "ru", "zh"}, catalog.Languages())

	tr := catalog.Translator("ru-RU")
	assert.Equal(t, "ru", tr.Lang())
	assert.Equal(t, "Занятия завтра", tr.T("notification.title.evening"))
}

func TestTranslator_FallbackAndFormat(t *testing.T) {
	fsys := fstest.MapFS{
		"loc/en.yaml":   {Data: []byte("en:\n  greet: \"Hi {name}\"\n  only_en: \"fallback\"\n")},
		"loc/de.yml":    {Data: []byte("de:\n  greet: \"Hallo {name}\"\n")},
		"loc/notes.txt": {Data: []byte("ignored")},
	}

	catalog, err := LoadFS(fsys, "loc", "en")
	require.NoError(t, err)

	de := catalog.Translator("de")
	assert.Equal(t, "Hallo Ana", de.Format("greet", map[string]string{"name": "Ana"}))
	assert.Equal(t, "fallback", de.T("only_en"))
	assert.Equal(t, "missing.key", de.T("missing.key"))

	assert.Equal(t, "en", catalog.Translator("fr").Lang())
}

func TestLoadFS_MissingDefault(t *testing.T) {
	fsys := fstest.MapFS{"loc/ru.yaml": {Data: []byte("ru:\n  a: b\n")}}

	_, err := LoadFS(fsys, "loc", "en")
	assert.Error(t, err)

	_, err = LoadFS(fstest.MapFS{"loc/readme.md": {Data: []byte("x")}}, "loc", "en")
	assert.Error(t, err)
}
