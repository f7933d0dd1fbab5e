//go:build !psicash_release

package main

import (
	"strings"
	"testing"

	"github.com/loykin/psicash/internal/testserver"
)

func TestCLI_Reward(t *testing.T) {
	c := newCLI(t)
	if _, err := c.run("refresh"); err != nil {
		t.Fatal(err)
	}
	out, err := c.run("reward", "2")
	if err != nil {
		t.Fatalf("reward: %v", err)
	}
	if !strings.Contains(out, "balance: 2000000000000") {
		t.Errorf("reward output:\n%s", out)
	}
	if _, err := c.run("reward", "zero"); err == nil {
		t.Error("expected invalid count error")
	}
}

func TestCLI_RewardWithoutTokens(t *testing.T) {
	c := newCLI(t, testserver.WithoutMutators())
	if _, err := c.run("reward"); err == nil || !strings.Contains(err.Error(), "InvalidTokens") {
		t.Fatalf("expected InvalidTokens, got %v", err)
	}
}
