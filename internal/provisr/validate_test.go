package provisr

import (
	"reflect"
	"testing"
)

func TestValidateSpaceName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{name: "valid", in: "Engineering Wiki", want: nil},
		{name: "empty", in: "", want: []string{"Name is required"}},
		{name: "leading digit", in: "1st Team", want: []string{"Name can't start with a number"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidateSpaceName(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ValidateSpaceName(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestValidateSpaceKey(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{name: "valid", in: "ENG", want: nil},
		{name: "valid max length", in: "ABCDE", want: nil},
		{name: "empty", in: "", want: []string{"Key is required"}},
		{name: "too long", in: "ABCDEF", want: []string{"Key max 5 chars"}},
		{name: "lowercase", in: "eng", want: []string{"Key must be uppercase letters only"}},
		{name: "digit", in: "DO1", want: []string{"Key must be uppercase letters only"}},
		{name: "too long and lowercase", in: "abcdef", want: []string{"Key max 5 chars", "Key must be uppercase letters only"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ValidateSpaceKey(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ValidateSpaceKey(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}
