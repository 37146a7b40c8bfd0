package flagutil

import (
	"testing"
)

func TestIntValue(t *testing.T) {
	var iv IntValue
	if l := iv.NArg(); l != 0 {
		t.Error("Expected length=0 at initial state, not", l)
	}
	if s := iv.String(); s != "" {
		t.Error("String() at initial state should be empty, not", s)
	}

	if err := iv.Set("68"); err != nil {
		t.Error("Unexpected error return from Set", err)
	}
	if err := iv.Set("123"); err != nil {
		t.Error("Unexpected error return from Set", err)
	}

	if l := iv.NArg(); l != 2 {
		t.Error("Expected length=2 after two sets, not", l)
	}
	if s := iv.String(); s != "68 123" {
		t.Error("String should be '68 123', not", s)
	}

	args := iv.Args()
	if len(args) != 2 || args[0] != 68 || args[1] != 123 {
		t.Error("Returned array should be [68, 123], not", args)
	}

	args[0] = 999
	args = iv.Args()
	if args[0] != 68 {
		t.Error("Args() should return a copy, not share backing storage")
	}

	if err := iv.Set("not-a-number"); err == nil {
		t.Error("Expected error from Set on non-numeric input")
	}
}
