//go:build !psicash_release

package request

import "testing"

func TestHeaderMutators_FIFO(t *testing.T) {
	m := NewHeaderMutators([]string{"Response:code=500", "", "Response:code=409"})
	p := baseParams()
	p.Mutator = m
	b := NewBuilder(p)

	want := []string{"Response:code=500", "", "Response:code=409", ""}
	for i, w := range want {
		b.SetAttempt(i + 1)
		r, err := b.Request()
		if err != nil {
			t.Fatal(err)
		}
		if got := r.Header.Get("X-PsiCash-Test"); got != w {
			t.Errorf("request %d test header = %q, want %q", i+1, got, w)
		}
	}
	if m.Pending() != 0 {
		t.Errorf("Pending = %d", m.Pending())
	}

	m.Set([]string{"CheckEnabled"})
	if m.Pending() != 1 {
		t.Errorf("Pending after Set = %d", m.Pending())
	}
}
