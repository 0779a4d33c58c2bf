// Copyright (C) 2024 the fred-sub004 authors.
// See LICENSE for copying information.

// Package cfgstruct binds a struct's fields to pflag flags by reflection,
// reading each leaf field's `default:"..."` tag for its default value and
// deriving the flag name from the field's name and struct nesting path.
package cfgstruct

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/pflag"
)

var durationType = reflect.TypeOf(time.Duration(0))

// BindOpt configures Bind's confdir substitution.
type BindOpt func(*bindOpts)

type bindOpts struct {
	confDir string
	nested  bool
}

// ConfDir makes Bind substitute "$CONFDIR"/"${CONFDIR}" in every default tag
// with path, uniformly regardless of struct nesting depth.
func ConfDir(path string) BindOpt {
	return func(o *bindOpts) { o.confDir = path }
}

// ConfDirNested is like ConfDir, but each level of struct nesting appends
// that struct field's own flag name onto the substituted path, so fields
// inside a nested struct get their own subdirectory of path.
func ConfDirNested(path string) BindOpt {
	return func(o *bindOpts) { o.confDir = path; o.nested = true }
}

// Bind registers a pflag for every leaf field of config (a pointer to a
// struct) carrying a `default` tag, naming each flag after its field's
// kebab-cased name, joined with "." across nested structs and ".NN" across
// fixed-size array elements.
func Bind(flags *pflag.FlagSet, config interface{}, opts ...BindOpt) {
	var o bindOpts
	for _, opt := range opts {
		opt(&o)
	}
	bindStruct(flags, "", reflect.ValueOf(config).Elem(), o.confDir, o.nested)
}

func bindStruct(flags *pflag.FlagSet, prefix string, val reflect.Value, confDir string, nested bool) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		name := joinName(prefix, kebabCase(field.Name))

		switch fieldVal.Kind() {
		case reflect.Struct:
			subConfDir := confDir
			if nested {
				subConfDir = filepath.Join(confDir, kebabCase(field.Name))
			}
			bindStruct(flags, name, fieldVal, subConfDir, nested)

		case reflect.Array:
			for j := 0; j < fieldVal.Len(); j++ {
				elemName := fmt.Sprintf("%s.%02d", name, j)
				bindStruct(flags, elemName, fieldVal.Index(j), confDir, nested)
			}

		default:
			bindLeaf(flags, name, field, fieldVal, confDir)
		}
	}
}

func bindLeaf(flags *pflag.FlagSet, name string, field reflect.StructField, fieldVal reflect.Value, confDir string) {
	def, ok := field.Tag.Lookup("default")
	if !ok {
		return
	}
	def = expandConfDir(def, confDir)

	switch {
	case fieldVal.Type() == durationType:
		d, _ := time.ParseDuration(def)
		flags.DurationVar(fieldVal.Addr().Interface().(*time.Duration), name, d, "")
	case fieldVal.Kind() == reflect.String:
		flags.StringVar(fieldVal.Addr().Interface().(*string), name, def, "")
	case fieldVal.Kind() == reflect.Bool:
		b, _ := strconv.ParseBool(def)
		flags.BoolVar(fieldVal.Addr().Interface().(*bool), name, b, "")
	case fieldVal.Kind() == reflect.Int64:
		n, _ := strconv.ParseInt(def, 10, 64)
		flags.Int64Var(fieldVal.Addr().Interface().(*int64), name, n, "")
	case fieldVal.Kind() == reflect.Int:
		n, _ := strconv.Atoi(def)
		flags.IntVar(fieldVal.Addr().Interface().(*int), name, n, "")
	case fieldVal.Kind() == reflect.Uint64:
		n, _ := strconv.ParseUint(def, 10, 64)
		flags.Uint64Var(fieldVal.Addr().Interface().(*uint64), name, n, "")
	case fieldVal.Kind() == reflect.Uint:
		n, _ := strconv.ParseUint(def, 10, 64)
		flags.UintVar(fieldVal.Addr().Interface().(*uint), name, uint(n), "")
	case fieldVal.Kind() == reflect.Float64:
		f, _ := strconv.ParseFloat(def, 64)
		flags.Float64Var(fieldVal.Addr().Interface().(*float64), name, f, "")
	}
}

func expandConfDir(s, confDir string) string {
	s = strings.ReplaceAll(s, "${CONFDIR}", confDir)
	s = strings.ReplaceAll(s, "$CONFDIR", confDir)
	return s
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func kebabCase(s string) string {
	var sb strings.Builder
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			sb.WriteByte('-')
		}
		sb.WriteRune(unicode.ToLower(r))
	}
	return sb.String()
}
