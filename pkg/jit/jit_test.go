package jit

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"jitgen/internal/llm"
)

type scriptedClient struct {
	mu       sync.Mutex
	response string
	calls    int
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

func (c *scriptedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.response, nil
}

func (c *scriptedClient) Model() string { return "scripted" }

func (c *scriptedClient) Provider() string { return "scripted" }

var _ llm.Client = (*scriptedClient)(nil)

const factorsResponse = "```json\n{\"imports\": [], \"code\": \"func PrimeFactors(n int) []int {\\n\\tvar out []int\\n\\tfor d := 2; d*d <= n; d++ {\\n\\t\\tfor n%d == 0 {\\n\\t\\t\\tout = append(out, d)\\n\\t\\t\\tn /= d\\n\\t\\t}\\n\\t}\\n\\tif n > 1 {\\n\\t\\tout = append(out, n)\\n\\t}\\n\\treturn out\\n}\", \"chain_of_thought\": [\"Trial division.\"]}\n```"

func factorCases() []Case {
	expect := func(n int, want []int) Case {
		return Case{
			Label: fmt.Sprintf("factors of %d", n),
			Fn: func(impl interface{}) (bool, string) {
				got := impl.(func(int) []int)(n)
				return reflect.DeepEqual(got, want), fmt.Sprintf("got %v, want %v", got, want)
			},
		}
	}
	return []Case{
		expect(100, []int{2, 2, 5, 5}),
		expect(69420, []int{2, 2, 3, 5, 13, 89}),
	}
}

func TestBind(t *testing.T) {
	var primeFactors func(int) []int
	client := &scriptedClient{response: factorsResponse}

	err := Bind(context.Background(), &primeFactors,
		Name("PrimeFactors"),
		Doc("PrimeFactors returns the prime factors of n in ascending order."),
		WithTests(factorCases()...),
		WithClient(client),
		Workspace(t.TempDir()),
	)
	if err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if primeFactors == nil {
		t.Fatal("Function variable still nil")
	}
	if got := primeFactors(100); !reflect.DeepEqual(got, []int{2, 2, 5, 5}) {
		t.Errorf("PrimeFactors(100) = %v", got)
	}
	if client.calls != 1 {
		t.Errorf("Expected 1 generation call, got %d", client.calls)
	}
}

func TestBind_SecondCallUsesCache(t *testing.T) {
	ws := t.TempDir()
	client := &scriptedClient{response: factorsResponse}
	opts := func() []Option {
		return []Option{
			Name("PrimeFactors"),
			Doc("PrimeFactors returns the prime factors of n in ascending order."),
			WithTests(factorCases()...),
			WithClient(client),
			Workspace(ws),
		}
	}

	var first func(int) []int
	if err := Bind(context.Background(), &first, opts()...); err != nil {
		t.Fatal(err)
	}
	var second func(int) []int
	if err := Bind(context.Background(), &second, opts()...); err != nil {
		t.Fatal(err)
	}
	if client.calls != 1 {
		t.Errorf("Second bind must hit the cache, got %d calls", client.calls)
	}
	if got := second(69420); !reflect.DeepEqual(got, []int{2, 2, 3, 5, 13, 89}) {
		t.Errorf("second(69420) = %v", got)
	}
}

func TestBind_RequiresName(t *testing.T) {
	var fn func()
	err := Bind(context.Background(), &fn, WithClient(&scriptedClient{}))
	if err == nil || !strings.Contains(err.Error(), "Name option") {
		t.Errorf("Expected name requirement error, got %v", err)
	}
}

func TestBind_RejectsBadTarget(t *testing.T) {
	var notAFunc int
	if err := Bind(context.Background(), &notAFunc, Name("X")); err == nil {
		t.Error("Expected error for non-func target")
	}
	var fn func()
	if err := Bind(context.Background(), fn, Name("X")); err == nil {
		t.Error("Expected error for non-pointer target")
	}
}

func TestBind_InPlaceNeedsSourceDeclaration(t *testing.T) {
	var fn func(int) []int
	err := Bind(context.Background(), &fn,
		Name("PrimeFactors"),
		InPlace(),
		WithClient(&scriptedClient{response: factorsResponse}),
		Workspace(t.TempDir()),
	)
	if err == nil || !strings.Contains(err.Error(), "in-place") {
		t.Errorf("Expected in-place requirement error, got %v", err)
	}
}

func TestFuncSignature(t *testing.T) {
	tests := []struct {
		name string
		fn   interface{}
		want string
	}{
		{"F", func(int) []int { return nil }, "func F(arg0 int) []int"},
		{"G", func(string, float64) (int, error) { return 0, nil }, "func G(arg0 string, arg1 float64) (int, error)"},
		{"H", func() {}, "func H()"},
		{"V", func(...string) int { return 0 }, "func V(args ...string) int"},
	}
	for _, tt := range tests {
		got := funcSignature(tt.name, reflect.TypeOf(tt.fn))
		if got != tt.want {
			t.Errorf("funcSignature(%s) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
