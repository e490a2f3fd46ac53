package routing

import "testing"

func testAllowlist() Allowlist {
	return Allowlist{
		Version: 1,
		Entrypoints: map[string]Entrypoint{
			"metadatad": {Routes: []Route{
				{Path: "/health", Methods: []string{"GET"}, RouteClass: "ops"},
				{Path: "/api/v1/concepts", Methods: []string{"GET"}, RouteClass: "public_api", Object: "metadata.concepts", Action: "read"},
				{Path: "/api/v1/concepts", Methods: []string{"post"}, RouteClass: "public_api", Object: "metadata.concepts", Action: "write"},
			}},
		},
	}
}

func TestClassifier_SegmentBoundary(t *testing.T) {
	t.Parallel()

	c, err := NewClassifier(testAllowlist(), "metadatad")
	if err != nil {
		t.Fatal(err)
	}

	if got := c.Classify("/api/v1"); got != RouteClassPublicAPI {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/apix"); got != RouteClassOps {
		t.Fatalf("got=%q", got)
	}
	if got := c.Classify("/health"); got != RouteClassOps {
		t.Fatalf("got=%q", got)
	}
}

func TestClassifier_Lookup(t *testing.T) {
	t.Parallel()

	c, err := NewClassifier(testAllowlist(), "metadatad")
	if err != nil {
		t.Fatal(err)
	}
	r, ok := c.Lookup("POST", "/api/v1/concepts")
	if !ok || r.Action != "write" {
		t.Fatalf("route=%+v ok=%v", r, ok)
	}
	if _, ok := c.Lookup("HEAD", "/health"); !ok {
		t.Fatal("HEAD follows GET")
	}
	if _, ok := c.Lookup("DELETE", "/api/v1/concepts"); ok {
		t.Fatal("unexpected DELETE")
	}
	if _, ok := c.Lookup("GET", "/api/v1/nope"); ok {
		t.Fatal("unexpected route")
	}
}

func TestNewClassifier_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]Allowlist{
		"missing entrypoint": {Version: 1, Entrypoints: map[string]Entrypoint{}},
		"empty routes":       {Version: 1, Entrypoints: map[string]Entrypoint{"metadatad": {}}},
		"invalid route":      {Version: 1, Entrypoints: map[string]Entrypoint{"metadatad": {Routes: []Route{{}}}}},
		"unknown class": {Version: 1, Entrypoints: map[string]Entrypoint{"metadatad": {Routes: []Route{
			{Path: "/x", Methods: []string{"GET"}, RouteClass: "ui"},
		}}}},
		"duplicate": {Version: 1, Entrypoints: map[string]Entrypoint{"metadatad": {Routes: []Route{
			{Path: "/x", Methods: []string{"GET"}, RouteClass: "ops"},
			{Path: "/x", Methods: []string{"get"}, RouteClass: "ops"},
		}}}},
	}
	for name, a := range cases {
		if _, err := NewClassifier(a, "metadatad"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
