package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_Args(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"eco_sensitive_zones_2015", "visitors"}, strings.NewReader(""), &out, &errOut)

	assert.Equal(t, 0, code)
	assert.Equal(t, "eco_sensitive_zones_2015_bfd2221e\nvisitors_f24d2cc0\n", out.String())
}

func TestRun_StdinPairs(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"-pairs"}, strings.NewReader("visitors\n\nEco-Sensitive Zones 2015\n"), &out, &errOut)

	assert.Equal(t, 0, code)
	assert.Equal(t, "visitors_f24d2cc0\tvisitors\neco_sensitive_zones_2015_bfd2221e\tEco-Sensitive Zones 2015\n", out.String())
}

func TestRun_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 0, run([]string{"-version"}, strings.NewReader(""), &out, &errOut))
	assert.Equal(t, "1\n", out.String())
}

func TestRun_BadFlag(t *testing.T) {
	var out, errOut bytes.Buffer
	assert.Equal(t, 2, run([]string{"-nope"}, strings.NewReader(""), &out, &errOut))
}
