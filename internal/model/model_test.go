package model

import "testing"

func TestPropertyKey(t *testing.T) {
	cases := []struct {
		p    Property
		want string
	}{
		{Property{ID: "L-1", Address: "1 Queen St"}, "L-1"},
		{Property{ID: "  ", Address: " 1 Queen St "}, "1 Queen St"},
		{Property{Address: "2 King St"}, "2 King St"},
		{Property{}, ""},
	}
	for _, tc := range cases {
		if got := tc.p.Key(); got != tc.want {
			t.Fatalf("Key(%+v) = %q want %q", tc.p, got, tc.want)
		}
	}
}
