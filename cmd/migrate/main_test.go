package main

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunValidatesArguments(t *testing.T) {
	cases := map[string]struct {
		args []string
		want string
	}{
		"no dsn":       {args: []string{"-database", "", "up"}, want: "-database flag is required"},
		"no command":   {args: []string{"-database", "postgresql://invalid"}, want: "command required"},
		"bad command":  {args: []string{"-database", "postgresql://invalid", "sideways"}, want: "unknown command"},
		"bad steps":    {args: []string{"-database", "postgresql://invalid", "-path", ".", "down", "two"}, want: "invalid down steps"},
		"down no path": {args: []string{"-database", "postgresql://invalid", "down"}, want: "-path flag is required"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := run(tc.args, io.Discard)
			require.ErrorContains(t, err, tc.want)
		})
	}
}
