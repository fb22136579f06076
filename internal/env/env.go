package env

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Var maps variable names to values.
type Var map[string]string

// Env composes the environment handed to the supervised server. Layers are
// applied in order: OS environment (optional), env files, explicit pairs.
// Later layers override earlier ones.
type Env struct {
	vars Var
}

// New returns an empty Env, seeded with the current process environment when
// useOS is true.
func New(useOS bool) *Env {
	e := &Env{vars: make(Var)}
	if useOS {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
				e.vars[k] = v
			}
		}
	}
	return e
}

// Set sets K=V, overriding any previous layer.
func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	e.vars[k] = v
}

// SetPairs applies "KEY=VALUE" entries. Entries without '=' or with an empty
// key are rejected.
func (e *Env) SetPairs(kvs []string) error {
	for i, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return fmt.Errorf("env[%d] %q is invalid, must be in KEY=VALUE format", i, kv)
		}
		e.vars[k] = v
	}
	return nil
}

// LoadFile applies a .env file: KEY=VALUE lines, '#' comments, an optional
// leading "export " and one pair of surrounding quotes on the value.
func (e *Env) LoadFile(path string) error {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	for n, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return fmt.Errorf("%s:%d: expected KEY=VALUE", path, n+1)
		}
		e.vars[k] = unquote(strings.TrimSpace(v))
	}
	return nil
}

// Lookup returns the raw (unexpanded) value of k.
func (e *Env) Lookup(k string) (string, bool) {
	v, ok := e.vars[k]
	return v, ok
}

var refPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Environ returns the composed environment as sorted "K=V" entries with
// ${VAR} references expanded one level against the composed map. Unknown
// references are left as written.
func (e *Env) Environ() []string {
	out := make([]string, 0, len(e.vars))
	for k, v := range e.vars {
		out = append(out, k+"="+expand(v, e.vars))
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	return refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := ref[2 : len(ref)-1]
		if v, ok := m[name]; ok {
			return v
		}
		return ref
	})
}

func unquote(v string) string {
	if n := len(v); n >= 2 {
		if (v[0] == '"' && v[n-1] == '"') || (v[0] == '\'' && v[n-1] == '\'') {
			return v[1 : n-1]
		}
	}
	return v
}
