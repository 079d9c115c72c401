// Package config reads the INI configuration consumed by queryz.
//
// A file is a list of sections, each holding key = value pairs:
//
//	; comment
//	[run]
//	Process     = cache toupper decorate
//	PostProcess = cache
//
//	[log]
//	Level = D
//
//	[module::cache]
//	Timeout     = 5
//	BucketCount = 4
//
// Keys must be alphanumeric and must follow a section header. Values are
// looked up by section, key and kind; lookups fail with ErrNotFound or
// ErrTypeMismatch so callers can fall back to defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/ini.v1"

	"github.com/zoobzio/queryz"
)

// Load and lookup errors.
var (
	ErrUnreadable   = errors.New("config file cannot be opened")
	ErrMalformed    = errors.New("config file is corrupted")
	ErrNotFound     = errors.New("config value not found")
	ErrTypeMismatch = errors.New("config value has wrong type")
)

// Kind is the type a value is read as.
type Kind int

// Value kinds.
const (
	String Kind = iota
	Integer
	Bool
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Integer:
		return "integer"
	case Bool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

var (
	validKey     = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	validSection = regexp.MustCompile(`^[A-Za-z0-9_:\- \t]+$`)
)

// File is a parsed configuration.
type File struct {
	ini  *ini.File
	path string
}

// Load reads and parses the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.path = path
	return f, nil
}

// Parse parses configuration text.
func Parse(data []byte) (*File, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters: "=",
	}, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return &File{ini: cfg}, nil
}

// Empty returns a configuration with no sections.
func Empty() *File {
	return &File{ini: ini.Empty()}
}

func validate(cfg *ini.File) error {
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			if len(sec.Keys()) > 0 {
				return fmt.Errorf("%w: key %q outside any section", ErrMalformed, sec.Keys()[0].Name())
			}
			continue
		}
		if !validSection.MatchString(sec.Name()) {
			return fmt.Errorf("%w: invalid section name %q", ErrMalformed, sec.Name())
		}
		for _, key := range sec.Keys() {
			if !validKey.MatchString(key.Name()) {
				return fmt.Errorf("%w: invalid key %q in section %q", ErrMalformed, key.Name(), sec.Name())
			}
		}
	}
	return nil
}

// Path returns the file path, or "" for parsed or empty configurations.
func (f *File) Path() string {
	return f.path
}

// HasSection reports whether the section exists.
func (f *File) HasSection(name string) bool {
	_, err := f.ini.GetSection(name)
	return err == nil
}

// Sections returns the section names in file order.
func (f *File) Sections() []string {
	var names []string
	for _, sec := range f.ini.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		names = append(names, sec.Name())
	}
	return names
}

// Value reads key from section as kind. The result is a string, int or bool.
func (f *File) Value(section, key string, kind Kind) (any, error) {
	sec, err := f.ini.GetSection(section)
	if err != nil {
		return nil, fmt.Errorf("%w: [%s] %s", ErrNotFound, section, key)
	}
	k, err := sec.GetKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: [%s] %s", ErrNotFound, section, key)
	}
	switch kind {
	case String:
		return k.String(), nil
	case Integer:
		v, err := k.Int()
		if err != nil {
			return nil, fmt.Errorf("%w: [%s] %s = %q is not an integer", ErrTypeMismatch, section, key, k.String())
		}
		return v, nil
	case Bool:
		v, err := k.Bool()
		if err != nil {
			return nil, fmt.Errorf("%w: [%s] %s = %q is not a bool", ErrTypeMismatch, section, key, k.String())
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unsupported kind %s", ErrTypeMismatch, kind)
	}
}

// String reads a string value.
func (f *File) String(section, key string) (string, error) {
	v, err := f.Value(section, key, String)
	if err != nil {
		return "", err
	}
	return v.(string), nil //nolint:errcheck // Value guarantees the type
}

// Int reads an integer value.
func (f *File) Int(section, key string) (int, error) {
	v, err := f.Value(section, key, Integer)
	if err != nil {
		return 0, err
	}
	return v.(int), nil //nolint:errcheck // Value guarantees the type
}

// Bool reads a boolean value.
func (f *File) Bool(section, key string) (bool, error) {
	v, err := f.Value(section, key, Bool)
	if err != nil {
		return false, err
	}
	return v.(bool), nil //nolint:errcheck // Value guarantees the type
}

// Section returns a typed view of one section. The section need not exist;
// lookups on a missing section fail with ErrNotFound.
func (f *File) Section(name string) queryz.Settings {
	return Section{file: f, name: name}
}

// Section is a typed view of one section of a File.
type Section struct {
	file *File
	name string
}

// Name returns the section name.
func (s Section) Name() string {
	return s.name
}

// String reads a string value from the section.
func (s Section) String(key string) (string, error) {
	return s.file.String(s.name, key)
}

// Int reads an integer value from the section.
func (s Section) Int(key string) (int, error) {
	return s.file.Int(s.name, key)
}

// Bool reads a boolean value from the section.
func (s Section) Bool(key string) (bool, error) {
	return s.file.Bool(s.name, key)
}
