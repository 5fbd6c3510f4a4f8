package inventory

import (
	"reflect"
	"testing"
)

func TestMergeIdempotent(t *testing.T) {
	a := map[string]interface{}{"x": 1, "nested": map[string]interface{}{"y": 2}}
	clone := map[string]interface{}{"x": 1, "nested": map[string]interface{}{"y": 2}}

	got := Merge(a, clone)
	want := map[string]interface{}{"x": 1, "nested": map[string]interface{}{"y": 2}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("merge(A,A) != A: got %+v", got)
	}
}

func TestMergeEmptyIsIdentity(t *testing.T) {
	a := map[string]interface{}{"x": 1}
	got := Merge(a, map[string]interface{}{})
	if !reflect.DeepEqual(got, a) {
		t.Errorf("merge(A,empty) != A: got %+v", got)
	}
}

func TestMergePrimaryWinsOnConflict(t *testing.T) {
	a := map[string]interface{}{"x": "primary"}
	b := map[string]interface{}{"x": "secondary", "y": "only-in-b"}

	got := Merge(a, b)
	if got["x"] != "primary" {
		t.Errorf("primary should win on scalar conflict, got %v", got["x"])
	}
	if got["y"] != "only-in-b" {
		t.Errorf("keys unique to b should be kept, got %v", got["y"])
	}
}

func TestMergeRecursesSharedMapKeys(t *testing.T) {
	a := map[string]interface{}{"shared": map[string]interface{}{"a1": 1}}
	b := map[string]interface{}{"shared": map[string]interface{}{"b1": 2}}

	got := Merge(a, b)
	shared := got["shared"].(map[string]interface{})
	if shared["a1"] != 1 || shared["b1"] != 2 {
		t.Errorf("expected recursive merge of shared map key, got %+v", shared)
	}
}

func TestMergeTypeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on type mismatch")
		}
	}()
	a := map[string]interface{}{"x": map[string]interface{}{}}
	b := map[string]interface{}{"x": "not a map"}
	Merge(a, b)
}
