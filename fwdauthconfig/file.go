package fwdauthconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/keksclan/goFwdAuth/fwdauth"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes environment overrides: jwks.url is read from
// FWDAUTH_JWKS_URL.
const DefaultEnvPrefix = "FWDAUTH"

type fileOptions struct {
	envFile   string
	envPrefix string
}

type FileOption func(*fileOptions)

// WithEnvFile loads a .env file into the process environment before
// overrides are applied. A missing file is ignored.
func WithEnvFile(path string) FileOption {
	return func(o *fileOptions) { o.envFile = path }
}

// WithEnvPrefix replaces DefaultEnvPrefix.
func WithEnvPrefix(prefix string) FileOption {
	return func(o *fileOptions) { o.envPrefix = prefix }
}

type fileLoader struct {
	path string
	opts []FileOption
}

// FromFile creates a Loader reading a YAML, TOML or JSON file, chosen by
// extension, with environment overrides. An empty path reads the
// environment only.
func FromFile(path string, opts ...FileOption) Loader {
	return &fileLoader{path: path, opts: opts}
}

func (l *fileLoader) Load(_ context.Context) (*fwdauth.Config, error) {
	var fc FileConfig
	if err := Decode(l.path, &fc, l.opts...); err != nil {
		return nil, err
	}
	return fc.Config()
}

// Decode reads path into out, a pointer to a struct with mapstructure tags,
// and applies environment overrides for every leaf field. Nested keys join
// with underscores: auth.jwks.url is PREFIX_AUTH_JWKS_URL. Map keys from the
// file are folded to lower case.
func Decode(path string, out any, opts ...FileOption) error {
	o := fileOptions{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(&o)
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load env file: %w", err)
		}
	}

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range leafKeys(reflect.TypeOf(out), "") {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// leafKeys lists the dotted mapstructure keys of every scalar and slice
// field. Maps are file-only.
func leafKeys(t reflect.Type, prefix string) []string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	var keys []string
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		switch f.Type.Kind() {
		case reflect.Struct:
			keys = append(keys, leafKeys(f.Type, key)...)
		case reflect.Map:
		default:
			keys = append(keys, key)
		}
	}
	return keys
}
