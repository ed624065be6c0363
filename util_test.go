// Copyright 2025 Gareth Watts
// Licensed under an MIT license
// See the LICENSE file for details

package main

import (
	"reflect"
	"testing"
)

var parseTablesTests = []struct {
	raw      string
	expected []string
	ok       bool
}{
	{"", nil, true},
	{"users", []string{"users"}, true},
	{"users,sessions, totp", []string{"users", "sessions", "totp"}, true},
	{`["users","sessions"]`, []string{"users", "sessions"}, true},
	{`[]`, []string{}, true},
	{`["users",`, nil, false},
}

func TestParseTables(t *testing.T) {
	for _, test := range parseTablesTests {
		actual, err := parseTables(test.raw)
		if test.ok && err != nil {
			t.Errorf("%q: unexpected error %v", test.raw, err)
			continue
		}
		if !test.ok {
			if err == nil {
				t.Errorf("%q: expected error", test.raw)
			}
			continue
		}
		if !reflect.DeepEqual(actual, test.expected) {
			t.Errorf("%q: expected=%v actual=%v", test.raw, test.expected, actual)
		}
	}
}

func TestExitCodeFor(t *testing.T) {
	tests := map[int]int{200: 0, 207: 2, 500: 1, 404: 1}
	for status, expected := range tests {
		if actual := exitCodeFor(status); actual != expected {
			t.Errorf("status=%d expected=%d actual=%d", status, expected, actual)
		}
	}
}

func TestFmtBytes(t *testing.T) {
	tests := map[int64]string{
		512:        "512 bytes",
		2048:       "2.0 KB",
		1572864:    "1.5 MB",
		3221225472: "3.0 GB",
	}
	for in, expected := range tests {
		if actual := fmtBytes(in); actual != expected {
			t.Errorf("in=%d expected=%q actual=%q", in, expected, actual)
		}
	}
}
