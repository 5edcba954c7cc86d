package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"jitgen/internal/cache"
	"jitgen/internal/declare"
	"jitgen/internal/validate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const declFile = `package mathx

// PrimeFactors returns the prime factors of n in ascending order.
// Duplicates are repeated, so PrimeFactors(12) is [2 2 3].
//jitgen:implement
func PrimeFactors(n int) []int {
	panic("not implemented")
}
`

const goodImpl = `func PrimeFactors(n int) []int {\n\tvar out []int\n\tfor d := 2; d*d <= n; d++ {\n\t\tfor n%d == 0 {\n\t\t\tout = append(out, d)\n\t\t\tn /= d\n\t\t}\n\t}\n\tif n > 1 {\n\t\tout = append(out, n)\n\t}\n\treturn out\n}`

const wrongImpl = `func PrimeFactors(n int) []int {\n\treturn []int{n}\n}`

func goodResponse() string {
	return jsonResponse(`{"imports": [], "code": "` + goodImpl + `", "chain_of_thought": ["Trial division."]}`)
}

func wrongResponse() string {
	return jsonResponse(`{"imports": [], "code": "` + wrongImpl + `", "chain_of_thought": ["Guess."]}`)
}

func writeDecl(t *testing.T) declare.Declaration {
	t.Helper()
	path := filepath.Join(t.TempDir(), "factors.go")
	if err := os.WriteFile(path, []byte(declFile), 0644); err != nil {
		t.Fatal(err)
	}
	decl, err := declare.FindByName(path, "PrimeFactors")
	if err != nil {
		t.Fatal(err)
	}
	return decl
}

func newTestStore(t *testing.T) *cache.Store {
	t.Helper()
	dir := t.TempDir()
	s := cache.NewStore(filepath.Join(dir, "impl"), filepath.Join(dir, "cache.db"))
	t.Cleanup(s.Close)
	return s
}

func factorCases() []validate.Case {
	expect := func(n int, want []int) validate.Case {
		return validate.Case{
			Label: fmt.Sprintf("factors of %d", n),
			Fn: func(impl interface{}) (bool, string) {
				got := impl.(func(int) []int)(n)
				return reflect.DeepEqual(got, want), fmt.Sprintf("got %v, want %v", got, want)
			},
		}
	}
	return []validate.Case{
		expect(100, []int{2, 2, 5, 5}),
		expect(69420, []int{2, 2, 3, 5, 13, 89}),
	}
}

func TestImplement_FirstCandidatePasses(t *testing.T) {
	decl := writeDecl(t)
	store := newTestStore(t)
	client := &MockLLMClient{Responses: []string{goodResponse()}}
	coder := New(client, store)

	outcome, err := coder.Implement(context.Background(), decl, Options{Cases: factorCases()})
	if err != nil {
		t.Fatalf("Implement failed: %v", err)
	}
	if outcome.FromCache {
		t.Error("First resolution must not be a cache hit")
	}
	if outcome.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", outcome.Attempts)
	}
	if !outcome.Entry.TestsPassed {
		t.Error("Entry must record passing tests")
	}
	if client.Calls != 1 {
		t.Errorf("Expected 1 API call, got %d", client.Calls)
	}

	// The prompt must carry the declaration and its documentation.
	if !strings.Contains(client.Prompts[0], "func PrimeFactors(n int) []int") {
		t.Error("Prompt missing declaration signature")
	}
	if !strings.Contains(client.Prompts[0], "ascending order") {
		t.Error("Prompt missing doc comment")
	}
	if client.Systems[0] == "" {
		t.Error("System prompt not sent")
	}

	// The entry file must be on disk and parse back.
	content, err := os.ReadFile(store.EntryPath(decl))
	if err != nil {
		t.Fatalf("Entry file not written: %v", err)
	}
	parsed, err := cache.ParseEntry(string(content))
	if err != nil {
		t.Fatalf("Entry file unparseable: %v", err)
	}
	if parsed.Checksum != outcome.Entry.Checksum {
		t.Error("Entry file checksum mismatch")
	}
}

func TestImplement_SecondCallHitsCache(t *testing.T) {
	decl := writeDecl(t)
	store := newTestStore(t)
	client := &MockLLMClient{Responses: []string{goodResponse()}}
	coder := New(client, store)
	ctx := context.Background()
	cases := factorCases()

	if _, err := coder.Implement(ctx, decl, Options{Cases: cases}); err != nil {
		t.Fatal(err)
	}

	outcome, err := coder.Implement(ctx, decl, Options{Cases: cases})
	if err != nil {
		t.Fatalf("Second Implement failed: %v", err)
	}
	if !outcome.FromCache {
		t.Error("Expected cache hit on identical inputs")
	}
	if client.Calls != 1 {
		t.Errorf("Cache hit must not call the API: %d calls", client.Calls)
	}
}

func TestImplement_ChangedDocRegenerates(t *testing.T) {
	decl := writeDecl(t)
	store := newTestStore(t)
	client := &MockLLMClient{Responses: []string{goodResponse()}}
	coder := New(client, store)
	ctx := context.Background()

	if _, err := coder.Implement(ctx, decl, Options{Cases: factorCases()}); err != nil {
		t.Fatal(err)
	}

	// Touch the doc comment: the checksum changes, so the cache must miss.
	changed := strings.Replace(declFile, "ascending order", "descending order", 1)
	if err := os.WriteFile(decl.File, []byte(changed), 0644); err != nil {
		t.Fatal(err)
	}
	recl, err := declare.FindByName(decl.File, "PrimeFactors")
	if err != nil {
		t.Fatal(err)
	}

	client.Responses = []string{goodResponse()}
	outcome, err := coder.Implement(ctx, recl, Options{Cases: factorCases()})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.FromCache {
		t.Error("Changed declaration must regenerate")
	}
	if client.Calls != 2 {
		t.Errorf("Expected 2 API calls, got %d", client.Calls)
	}
}

func TestImplement_RetryAfterValidationFailure(t *testing.T) {
	decl := writeDecl(t)
	store := newTestStore(t)
	client := &MockLLMClient{Responses: []string{wrongResponse(), goodResponse()}}
	coder := New(client, store)

	outcome, err := coder.Implement(context.Background(), decl, Options{Cases: factorCases()})
	if err != nil {
		t.Fatalf("Implement failed: %v", err)
	}
	if outcome.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", outcome.Attempts)
	}

	// The retry prompt must feed back the failure and the prior code.
	retry := client.Prompts[1]
	if !strings.Contains(retry, "FAILURES") {
		t.Error("Retry prompt missing failure section")
	}
	if !strings.Contains(retry, "factors of 100") {
		t.Error("Retry prompt missing failing case label")
	}
	if !strings.Contains(retry, "return []int{n}") {
		t.Error("Retry prompt missing previous code")
	}

	// The rejected candidate is kept for post-mortems.
	failed := strings.TrimSuffix(store.EntryPath(decl), ".go") + ".v01_failed.go"
	if _, err := os.Stat(failed); err != nil {
		t.Errorf("Failed candidate not kept at %s: %v", failed, err)
	}
}

func TestImplement_ValidationExhausted(t *testing.T) {
	decl := writeDecl(t)
	store := newTestStore(t)
	client := &MockLLMClient{Responses: []string{wrongResponse()}}
	coder := New(client, store)

	_, err := coder.Implement(context.Background(), decl, Options{
		MaxTries: 3,
		Cases:    factorCases(),
	})
	if !errors.Is(err, ErrValidationExhausted) {
		t.Fatalf("Expected ErrValidationExhausted, got %v", err)
	}
	if client.Calls != 3 {
		t.Errorf("Expected exactly MaxTries calls, got %d", client.Calls)
	}

	// Nothing may be served from cache after exhaustion.
	if _, ok := store.Lookup(decl, outcomeChecksum(t, decl, factorCases()), nil); ok {
		t.Error("Failed run must not produce a cache hit")
	}
}

func TestImplement_RetryDeclined(t *testing.T) {
	decl := writeDecl(t)
	store := newTestStore(t)
	client := &MockLLMClient{Responses: []string{wrongResponse()}}
	coder := New(client, store)

	var asked []int
	var detail string
	_, err := coder.Implement(context.Background(), decl, Options{
		MaxTries: 3,
		Cases:    factorCases(),
		Confirm: func(try int, failureDetail string) bool {
			asked = append(asked, try)
			detail = failureDetail
			return false
		},
	})
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Expected ErrCancelled, got %v", err)
	}
	if client.Calls != 1 {
		t.Errorf("Declined retry must not burn another attempt, got %d calls", client.Calls)
	}
	if len(asked) != 1 || asked[0] != 2 {
		t.Errorf("Confirm should be asked once before attempt 2, got %v", asked)
	}
	if !strings.Contains(detail, "factors of 100") {
		t.Errorf("Confirm prompt missing failure detail: %q", detail)
	}
}

func TestImplement_ConfirmApprovedRetriesContinue(t *testing.T) {
	decl := writeDecl(t)
	store := newTestStore(t)
	client := &MockLLMClient{Responses: []string{wrongResponse(), goodResponse()}}
	coder := New(client, store)

	outcome, err := coder.Implement(context.Background(), decl, Options{
		MaxTries: 3,
		Cases:    factorCases(),
		Confirm:  func(int, string) bool { return true },
	})
	if err != nil {
		t.Fatalf("Implement failed: %v", err)
	}
	if outcome.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", outcome.Attempts)
	}
}

func TestImplement_ForceBypassesCache(t *testing.T) {
	decl := writeDecl(t)
	store := newTestStore(t)
	client := &MockLLMClient{Responses: []string{goodResponse()}}
	coder := New(client, store)
	ctx := context.Background()

	if _, err := coder.Implement(ctx, decl, Options{Cases: factorCases()}); err != nil {
		t.Fatal(err)
	}

	client.Responses = []string{goodResponse()}
	outcome, err := coder.Implement(ctx, decl, Options{Cases: factorCases(), Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.FromCache {
		t.Error("Force must bypass the cache")
	}
	if client.Calls != 2 {
		t.Errorf("Expected 2 API calls with Force, got %d", client.Calls)
	}
}

func TestImplement_ClientErrorPropagates(t *testing.T) {
	decl := writeDecl(t)
	client := &MockLLMClient{Err: errors.New("endpoint unreachable")}
	coder := New(client, newTestStore(t))

	_, err := coder.Implement(context.Background(), decl, Options{})
	if err == nil || !strings.Contains(err.Error(), "endpoint unreachable") {
		t.Errorf("Expected client error to propagate, got %v", err)
	}
	if errors.Is(err, ErrValidationExhausted) {
		t.Error("Client errors are not validation exhaustion")
	}
}

func TestImplement_ConcurrentCallsCollapse(t *testing.T) {
	decl := writeDecl(t)
	store := newTestStore(t)
	client := &MockLLMClient{Responses: []string{goodResponse()}}
	coder := New(client, store)
	cases := factorCases()

	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 8)
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = coder.Implement(context.Background(), decl, Options{Cases: cases})
		}(i)
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		if errs[i] != nil {
			t.Fatalf("Call %d failed: %v", i, errs[i])
		}
		if outcomes[i].Entry.Checksum != outcomes[0].Entry.Checksum {
			t.Error("Concurrent calls resolved to different entries")
		}
	}
	if client.Calls != 1 {
		t.Errorf("Concurrent identical calls must collapse to 1 generation, got %d", client.Calls)
	}
}

func TestImplement_NoCasesStillGenerates(t *testing.T) {
	decl := writeDecl(t)
	client := &MockLLMClient{Responses: []string{goodResponse()}}
	coder := New(client, newTestStore(t))

	outcome, err := coder.Implement(context.Background(), decl, Options{})
	if err != nil {
		t.Fatalf("Implement without cases failed: %v", err)
	}
	if !outcome.Entry.TestsPassed {
		t.Error("Vacuously passing validation must mark the entry passed")
	}
}

func outcomeChecksum(t *testing.T, decl declare.Declaration, cases []validate.Case) string {
	t.Helper()
	bundle, err := declare.CollectContext(decl)
	if err != nil {
		t.Fatal(err)
	}
	var srcs []string
	for _, c := range cases {
		srcs = append(srcs, c.Label)
	}
	return cache.Checksum(decl, bundle, srcs)
}
