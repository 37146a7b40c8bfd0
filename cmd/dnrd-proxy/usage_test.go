package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

type usageTestCase struct {
	args   []string // ARGV - not counting command
	stdout []string // Expected stdout strings
	stderr string   // Expected stderr string
}

var usageTestCases = []usageTestCase{
	{[]string{"-version"}, []string{"dnrd-proxy", "Version:"}, ""},
	{[]string{"-help"}, []string{"NAME", "SYNOPSIS", "OPTIONS", "Version: v"}, ""},
	{[]string{}, []string{}, "Must have at least one -server"},
	{[]string{"-badopt"}, []string{}, "flag provided but not defined"},
	{[]string{"-server", "nota.pair"}, []string{}, "flagutil.PairValue"},
	{[]string{"-server", "256.0.0.1:eth0"}, []string{}, "not a valid IP address"},
	{[]string{"-server", "8.8.8.8:eth0", "-bind-address", "255.254.253.252:0"}, []string{}, "assign requested address"},
}

func TestUsage(t *testing.T) {
	for tx, tc := range usageTestCases {
		t.Run(fmt.Sprintf("%d", tx), func(t *testing.T) {
			args := append([]string{"dnrd-proxy"}, tc.args...)
			out := &bytes.Buffer{}
			err := &bytes.Buffer{}
			mainInit(out, err)
			ec := mainExecute(args)
			outStr := out.String()
			errStr := err.String()

			if ec == 0 && len(tc.stderr) > 0 {
				t.Error("Expected error exit from Execute() with stderr", tc.stderr)
			}
			if len(errStr) > 0 && len(tc.stderr) == 0 {
				t.Error("Did not expect a fatal error:", errStr)
			}
			if !strings.Contains(errStr, tc.stderr) {
				t.Error("Stderr expected:", tc.stderr, "Got:", errStr)
			}

			for _, o := range tc.stdout {
				if !strings.Contains(outStr, o) {
					t.Error("Stdout expected:", o, "Got:", outStr)
				}
			}
		})
	}
}
