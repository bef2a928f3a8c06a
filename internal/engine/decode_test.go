package engine

import (
	"errors"
	"testing"
)

type decodeTarget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestDecodeObject(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    decodeTarget
		wantErr bool
	}{
		{"plain", `{"name":"a","count":2}`, decodeTarget{"a", 2}, false},
		{"fenced", "Here you go:\n```json\n{\"name\":\"b\",\"count\":1}\n```", decodeTarget{"b", 1}, false},
		{"nested braces", `{"name":"{x}","count":3} trailing`, decodeTarget{"{x}", 3}, false},
		{"unknown field", `{"name":"a","extra":true}`, decodeTarget{}, true},
		{"no object", `sorry, I cannot help`, decodeTarget{}, true},
		{"truncated", `{"name":"a","count":`, decodeTarget{}, true},
		{"wrong type", `{"name":1}`, decodeTarget{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got decodeTarget
			err := DecodeObject(tt.raw, &got)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedOutput) {
					t.Fatalf("err = %v, want ErrMalformedOutput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeObject: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
