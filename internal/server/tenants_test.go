package server

import "testing"

func TestParseTenantsYAML(t *testing.T) {
	ts, err := ParseTenantsYAML([]byte("version: 1\ntenants:\n  - id: ' ACME '\n    name: Acme\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := ts.Lookup("acme"); !ok || got.Name != "Acme" {
		t.Fatalf("lookup=%+v ok=%v", got, ok)
	}
	if _, ok := ts.Lookup("Acme "); !ok {
		t.Fatal("lookup should ignore case and spaces")
	}

	for name, raw := range map[string]string{
		"bad yaml":  "version: [",
		"version":   "version: 2\ntenants:\n  - id: a\n",
		"empty":     "version: 1\ntenants: []\n",
		"blank id":  "version: 1\ntenants:\n  - id: ' '\n",
		"duplicate": "version: 1\ntenants:\n  - id: a\n  - id: A\n",
	} {
		if _, err := ParseTenantsYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadTenants_Default(t *testing.T) {
	ts, err := LoadTenants("")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ts.Lookup("acme"); !ok {
		t.Fatal("expected acme in config/tenants.yaml")
	}
}
