package config

import "testing"

func TestExpandEnv(t *testing.T) {
	t.Setenv("CATALOG_HOST", "api.local")
	t.Setenv("CATALOG_PORT", "8000")
	t.Setenv("EMPTY_VAR", "")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"set var", "base_url: http://${CATALOG_HOST}", "base_url: http://api.local"},
		{"unset var", "secret: ${UNSET_VAR_12345}", "secret: "},
		{"default when unset", "key: ${UNSET_VAR_12345:-catalogsync:token}", "key: catalogsync:token"},
		{"default ignored when set", "host: ${CATALOG_HOST:-localhost}", "host: api.local"},
		{"default when empty", "v: ${EMPTY_VAR:-fallback}", "v: fallback"},
		{"multiple vars", "${CATALOG_HOST}:${CATALOG_PORT}", "api.local:8000"},
		{"no vars", "no variables here", "no variables here"},
		{"bare dollar untouched", "price: $5", "price: $5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandEnv(tt.input); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExpandEnv_NestedInYAML(t *testing.T) {
	t.Setenv("HOOK_TOKEN", "abc")

	input := `adapter:
  headers:
    Authorization: Bearer ${HOOK_TOKEN}`
	want := `adapter:
  headers:
    Authorization: Bearer abc`

	if got := ExpandEnv(input); got != want {
		t.Errorf("got:\n%s\nwant:\n%s", got, want)
	}
}
