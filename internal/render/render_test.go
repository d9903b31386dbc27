package render

import (
	"strings"
	"testing"
)

func TestRender_LiquidVariables(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("Hi {{ first_name }} {{ last_name }}", Bindings{
		FirstName: "Ada",
		LastName:  "Lovelace",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Hi Ada Lovelace" {
		t.Errorf("out = %q", out)
	}
}

func TestRender_LegacyTokens(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("Hi {first_name}, bye: {unsubscribe_link}", Bindings{
		FirstName:      "Ada",
		UnsubscribeURL: "https://x.example.com/unsubscribe/tok",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Hi Ada, bye: https://x.example.com/unsubscribe/tok" {
		t.Errorf("out = %q", out)
	}
}

func TestRender_DefaultFilter(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render(`Hi {{ first_name | default: "there" }}`, Bindings{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Hi there" {
		t.Errorf("out = %q", out)
	}

	out, err = r.Render(`Hi {{ first_name | default: "there" }}`, Bindings{FirstName: "Ada"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Hi Ada" {
		t.Errorf("out = %q", out)
	}
}

func TestRender_UnknownVariableIsEmpty(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("A{{ nope }}B", Bindings{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "AB" {
		t.Errorf("out = %q", out)
	}
}

func TestRender_MalformedTemplateDegrades(t *testing.T) {
	r := NewRenderer()

	out, err := r.Render("Hi {first_name} {% bogus %}", Bindings{FirstName: "Ada"})
	if err == nil {
		t.Fatal("expected a parse error")
	}
	// Delivery still gets usable content with the legacy token expanded.
	if !strings.Contains(out, "Hi Ada") {
		t.Errorf("fallback out = %q", out)
	}
}

func TestRender_UnterminatedTagIsLiteral(t *testing.T) {
	r := NewRenderer()

	// An unterminated tag opener is not a parse error; the text passes
	// through as-is with variables still expanded.
	out, err := r.Render("Hi {first_name} {% broken", Bindings{FirstName: "Ada"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "Hi Ada {% broken" {
		t.Errorf("out = %q", out)
	}
}

func TestRender_Empty(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render("", Bindings{FirstName: "Ada"})
	if err != nil || out != "" {
		t.Errorf("got (%q, %v), want empty", out, err)
	}
}

func TestUnsubscribeURL(t *testing.T) {
	if got := UnsubscribeURL("https://x.example.com/", "tok 1"); got != "https://x.example.com/unsubscribe/tok%201" {
		t.Errorf("got %q", got)
	}
	if got := UnsubscribeURL("", "tok"); got != "" {
		t.Errorf("no base URL should yield empty, got %q", got)
	}
	if got := UnsubscribeURL("https://x.example.com", ""); got != "" {
		t.Errorf("no token should yield empty, got %q", got)
	}
}
