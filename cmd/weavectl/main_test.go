package main

import (
	"reflect"
	"testing"

	"github.com/antigravity-dev/weave/internal/model"
)

func TestParseBeadList(t *testing.T) {
	cases := []struct {
		in   string
		want []model.BeadId
	}{
		{"", nil},
		{"a", []model.BeadId{"a"}},
		{"a,b,c", []model.BeadId{"a", "b", "c"}},
		{"a, b ,c", []model.BeadId{"a", "b", "c"}},
		{" ", nil},
	}
	for _, tc := range cases {
		got := parseBeadList(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("parseBeadList(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseRelation(t *testing.T) {
	if r, err := parseRelation("depends_on"); err != nil || r != model.DependsOn {
		t.Errorf("parseRelation(depends_on) = (%v, %v), want (%v, nil)", r, err, model.DependsOn)
	}
	if r, err := parseRelation("blocks"); err != nil || r != model.Blocks {
		t.Errorf("parseRelation(blocks) = (%v, %v), want (%v, nil)", r, err, model.Blocks)
	}
	if _, err := parseRelation("nonsense"); err == nil {
		t.Error("parseRelation(nonsense) = nil error, want error")
	}
}
