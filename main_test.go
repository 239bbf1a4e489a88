package main

import (
	"strings"
	"testing"
)

func TestExamples(t *testing.T) {
	for _, ex := range examples {
		if s := ex.Get(); s == "" {
			t.Fatalf("empty example %q", ex.Name)
		}
	}
}

func TestUsage(t *testing.T) {
	for _, c := range cmds {
		c.gather()
		s := c.makeUsage()
		exp := "usage: dabo " + strings.Join(c.words, " ")
		if !strings.Contains(s, exp) {
			t.Fatalf("usage for %v: got %q, expected it to contain %q", c.words, s, exp)
		}
		if c.help == "" {
			t.Fatalf("missing help for %v", c.words)
		}
	}
}
