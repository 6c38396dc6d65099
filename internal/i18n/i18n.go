// Package i18n renders localised notification texts from embedded YAML catalogs.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var embedded embed.FS

// Translator resolves localized strings using dot-separated keys.
type Translator interface {
	T(key string) string
	// Format resolves key and substitutes {name} placeholders from args.
	Format(key string, args map[string]string) string
	Lang() string
}

// Catalog stores all available translations.
type Catalog struct {
	translations map[string]map[string]string
	defaultLang  string
}

// Load parses the embedded locale files.
func Load(defaultLang string) (*Catalog, error) {
	return LoadFS(embedded, "locales", defaultLang)
}

// LoadFS parses every YAML file under dir in fsys. Each file maps a language code to a
// nested tree of keys.
func LoadFS(fsys fs.FS, dir, defaultLang string) (*Catalog, error) {
	catalog, err := parseDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	if defaultLang == "" {
		defaultLang = "en"
	}
	defaultLang = normalizeLang(defaultLang)

	if _, ok := catalog[defaultLang]; !ok {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}

	return &Catalog{translations: catalog, defaultLang: defaultLang}, nil
}

// Translator returns a translator for the requested language, falling back to the default.
// Regional tags such as "ru-RU" resolve to their base language.
func (c *Catalog) Translator(lang string) Translator {
	if c == nil {
		return translator{}
	}

	norm := normalizeLang(lang)
	if c.translations[norm] == nil {
		norm = c.defaultLang
	}

	return translator{
		lang:         norm,
		fallback:     c.defaultLang,
		translations: c.translations,
	}
}

// Languages returns all loaded languages in lexical order.
func (c *Catalog) Languages() []string {
	if c == nil {
		return nil
	}

	languages := make([]string, 0, len(c.translations))
	for lang := range c.translations {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	return languages
}

func normalizeLang(lang string) string {
	norm := strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(norm, "-_"); i > 0 {
		norm = norm[:i]
	}
	return norm
}

type translator struct {
	lang         string
	fallback     string
	translations map[string]map[string]string
}

func (t translator) Lang() string {
	return t.lang
}

func (t translator) T(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}

	if value, ok := t.translations[t.lang][key]; ok {
		return value
	}
	if value, ok := t.translations[t.fallback][key]; ok {
		return value
	}

	return key
}

func (t translator) Format(key string, args map[string]string) string {
	text := t.T(key)
	if len(args) == 0 {
		return text
	}

	pairs := make([]string, 0, len(args)*2)
	for name, value := range args {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func parseDir(fsys fs.FS, dir string) (map[string]map[string]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read dir %s: %w", dir, err)
	}

	catalog := make(map[string]map[string]string)
	var processed bool

	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		processed = true

		name := path.Join(dir, entry.Name())
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("i18n: read file %s: %w", name, err)
		}

		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("i18n: parse file %s: %w", name, err)
		}

		for lang, value := range raw {
			tree, ok := value.(map[string]any)
			lang = normalizeLang(lang)
			if !ok || lang == "" {
				continue
			}
			if catalog[lang] == nil {
				catalog[lang] = make(map[string]string)
			}
			flatten("", tree, catalog[lang])
		}
	}

	if !processed {
		return nil, fmt.Errorf("i18n: no yaml files found in %s", dir)
	}

	return catalog, nil
}

func isYAML(name string) bool {
	name = strings.ToLower(name)
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for key, value := range in {
		if key == "" {
			continue
		}

		nextKey := key
		if prefix != "" {
			nextKey = prefix + "." + key
		}

		switch v := value.(type) {
		case string:
			out[nextKey] = v
		case map[string]any:
			flatten(nextKey, v, out)
		}
	}
}
