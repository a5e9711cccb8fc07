package main

import "testing"

func TestRemoteMember(t *testing.T) {
	testCases := []struct {
		name    string
		local   int
		members []int
		want    int
		ok      bool
	}{
		{"alone", 0, []int{0}, 0, false},
		{"pair", 0, []int{0, 1}, 1, true},
		{"second", 3, []int{1, 3}, 1, true},
		{"crowded", 2, []int{2, 4, 5}, 4, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := remoteMember(tc.local, tc.members)
			if ok != tc.ok || (ok && got != tc.want) {
				t.Errorf("remoteMember = %d/%v, want %d/%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
