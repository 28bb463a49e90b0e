package render

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/semgen/ontology"
	"github.com/c360studio/semgen/query"
	"github.com/c360studio/semgen/semerr"
)

func TestRenderBasic(t *testing.T) {
	r := NewRenderer(Limits{})
	data := Map(map[string]Value{
		"name": String("UserAccount"),
	})
	got, err := r.Render(context.Background(), "basic", "type {{pascal .name}} struct{}", data)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "type UserAccount struct{}" {
		t.Errorf("got %q", got)
	}
}

func TestRenderDeterministic(t *testing.T) {
	r := NewRenderer(Limits{})
	data := Map(map[string]Value{
		"items": List(String("b"), String("a"), String("c")),
		"meta":  Map(map[string]Value{"z": Number(1), "a": Number(2)}),
	})
	text := "{{range .items}}{{.}},{{end}}|{{range $k, $v := .meta}}{{$k}}={{$v}};{{end}}"
	first, err := r.Render(context.Background(), "det", text, data)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for i := 0; i < 20; i++ {
		got, err := r.Render(context.Background(), "det", text, data)
		if err != nil {
			t.Fatalf("Render: %v", err)
		}
		if got != first {
			t.Fatalf("render %d diverged: %q vs %q", i, got, first)
		}
	}
	if first != "b,a,c,|a=2;z=1;" {
		t.Errorf("unexpected output %q", first)
	}
}

func TestRenderMissingKey(t *testing.T) {
	r := NewRenderer(Limits{})
	_, err := r.Render(context.Background(), "missing", "{{.absent}}", Map(map[string]Value{}))
	if err == nil {
		t.Fatal("expected error for missing key")
	}
	if semerr.KindOf(err) != semerr.KindInput {
		t.Errorf("kind = %v, want input", semerr.KindOf(err))
	}
	if semerr.CodeOf(err) != "RENDER_FAILED" {
		t.Errorf("code = %q", semerr.CodeOf(err))
	}
}

func TestRenderSyntaxError(t *testing.T) {
	r := NewRenderer(Limits{})
	_, err := r.Render(context.Background(), "bad", "{{if}}", Map(nil))
	if err == nil {
		t.Fatal("expected syntax error")
	}
	if semerr.CodeOf(err) != "TEMPLATE_SYNTAX" {
		t.Errorf("code = %q", semerr.CodeOf(err))
	}
}

func TestRenderOutputLimit(t *testing.T) {
	r := NewRenderer(Limits{MaxOutput: 64})
	data := Map(map[string]Value{"s": String(strings.Repeat("x", 16))})
	_, err := r.Render(context.Background(), "huge", "{{repeat .s 100}}", data)
	if err == nil {
		t.Fatal("expected output limit error")
	}
	if semerr.KindOf(err) != semerr.KindSecurity {
		t.Errorf("kind = %v, want security", semerr.KindOf(err))
	}
	if semerr.CodeOf(err) != "RENDER_OUTPUT_LIMIT" {
		t.Errorf("code = %q", semerr.CodeOf(err))
	}
}

func TestRenderTimeout(t *testing.T) {
	r := NewRenderer(Limits{Timeout: 10 * time.Millisecond})
	// A deeply nested range over a large list takes long enough to trip
	// a 10ms budget on any machine; if it does not, skip rather than flake.
	big := make([]Value, 2000)
	for i := range big {
		big[i] = String(strings.Repeat("y", 256))
	}
	data := Map(map[string]Value{"items": List(big...)})
	text := "{{range .items}}{{range $.items}}{{.}}{{end}}{{end}}"
	_, err := r.Render(context.Background(), "slow", text, data)
	if err == nil {
		t.Skip("render finished inside the timeout on this machine")
	}
	code := semerr.CodeOf(err)
	if code != "RENDER_TIMEOUT" && code != "RENDER_OUTPUT_LIMIT" {
		t.Errorf("code = %q, want RENDER_TIMEOUT or RENDER_OUTPUT_LIMIT", code)
	}
}

func TestFromAnyRejectsUnsupported(t *testing.T) {
	_, err := FromAny(map[string]any{"ok": "yes", "bad": make(chan int)})
	if err == nil {
		t.Fatal("expected rejection of channel value")
	}
	if semerr.KindOf(err) != semerr.KindSecurity {
		t.Errorf("kind = %v, want security", semerr.KindOf(err))
	}
}

func TestFromBindings(t *testing.T) {
	bs := &query.BindingSet{
		Vars: []string{"name", "age"},
		Solutions: []query.Solution{
			{"name": ontology.Literal("alice"), "age": ontology.TypedLiteral("30", ontology.XSDNamespace+"integer")},
			{"name": ontology.Literal("bob"), "age": ontology.TypedLiteral("25", ontology.XSDNamespace+"integer")},
		},
	}
	data := FromBindings(bs, map[string]Value{"pkg": String("model")})

	r := NewRenderer(Limits{})
	got, err := r.Render(context.Background(), "rows",
		"pkg {{.pkg}} n={{.count}}:{{range .rows}} {{.name}}/{{.age}}{{end}}", data)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "pkg model n=2: alice/30 bob/25"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFromBindingsShadowing(t *testing.T) {
	bs := &query.BindingSet{}
	data := FromBindings(bs, map[string]Value{"count": String("shadow")})
	if data.Fields["count"].Kind != KindNumber {
		t.Error("extra context must not shadow the count key")
	}
}
