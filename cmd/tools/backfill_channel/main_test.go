package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelFromName(t *testing.T) {
	cases := []struct {
		name    string
		channel string
		clean   string
		ok      bool
	}{
		{"Budi Santoso (S)", "online", "Budi Santoso", true},
		{"Budi Santoso (K)", "store", "Budi Santoso", true},
		{"Budi Santoso (s)", "online", "Budi Santoso", true},
		{"Budi Santoso (k)  ", "store", "Budi Santoso", true},
		{"Budi Santoso(S)", "online", "Budi Santoso", true},
		{"Budi Santoso", "", "Budi Santoso", false},
		{"Sinta (SK)", "", "Sinta (SK)", false},
		{"(S) Budi", "", "(S) Budi", false},
	}
	for _, tc := range cases {
		channel, clean, ok := channelFromName(tc.name)
		require.Equal(t, tc.ok, ok, tc.name)
		require.Equal(t, tc.channel, channel, tc.name)
		require.Equal(t, tc.clean, clean, tc.name)
	}
}
