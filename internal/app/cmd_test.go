package app

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want Command
	}{
		{"no args defaults to serve", nil, CommandServe},
		{"explicit serve", []string{"serve"}, CommandServe},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"unknown falls back to serve", []string{"unknown"}, CommandServe},
		{"extra args ignored", []string{"healthcheck", "extra"}, CommandHealthcheck},
	}

	for _, tc := range cases {
		if got := ParseCommand(tc.args); got != tc.want {
			t.Errorf("%s: ParseCommand(%v) = %q, want %q", tc.name, tc.args, got, tc.want)
		}
	}
}
