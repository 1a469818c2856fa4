package models

import (
	"encoding/json"
	"testing"
)

func TestStatusSet_AddIsIdempotent(t *testing.T) {
	s := NewStatusSet(StatusNew)
	s = s.Add(StatusUpdated)
	s = s.Add(StatusUpdated)

	if len(s) != 2 {
		t.Fatalf("expected 2 labels, got %d (%v)", len(s), s)
	}
	if !s.Has(StatusUpdated) {
		t.Error("expected set to contain updated")
	}
}

func TestStatusSet_UpdatedAndImportedCoexist(t *testing.T) {
	s := NewStatusSet(StatusNew, StatusUpdated, StatusImported)

	if !s.Has(StatusUpdated) || !s.Has(StatusImported) {
		t.Fatalf("expected updated and imported together, got %v", s)
	}
}

func TestStatusSet_AddDoesNotAliasReceiver(t *testing.T) {
	base := make(StatusSet, 1, 4)
	base[0] = StatusNew

	a := base.Add(StatusUpdated)
	b := base.Add(StatusInactive)

	if a.Has(StatusInactive) {
		t.Errorf("adding to one copy leaked into another: %v", a)
	}
	if !b.Has(StatusInactive) || b.Has(StatusUpdated) {
		t.Errorf("unexpected set contents: %v", b)
	}
}

func TestStatusSet_Equal(t *testing.T) {
	tests := []struct {
		name string
		a, b StatusSet
		want bool
	}{
		{"same order", NewStatusSet(StatusNew, StatusUpdated), NewStatusSet(StatusNew, StatusUpdated), true},
		{"different order", NewStatusSet(StatusUpdated, StatusNew), NewStatusSet(StatusNew, StatusUpdated), true},
		{"different length", NewStatusSet(StatusNew), NewStatusSet(StatusNew, StatusUpdated), false},
		{"different members", NewStatusSet(StatusNew, StatusInactive), NewStatusSet(StatusNew, StatusUpdated), false},
		{"both empty", nil, StatusSet{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusSet_UnmarshalDropsDuplicates(t *testing.T) {
	var s StatusSet
	if err := json.Unmarshal([]byte(`["new","updated","new"]`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(s) != 2 {
		t.Errorf("expected duplicates dropped, got %v", s)
	}
}

func TestStatusSet_MarshalIsOrderIndependent(t *testing.T) {
	a, err := json.Marshal(NewStatusSet(StatusUpdated, StatusNew, StatusImported))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, _ := json.Marshal(NewStatusSet(StatusImported, StatusNew, StatusUpdated))
	if string(a) != `["imported","new","updated"]` || string(a) != string(b) {
		t.Errorf("marshal = %s and %s", a, b)
	}

	var empty StatusSet
	if out, _ := json.Marshal(empty); string(out) != "[]" {
		t.Errorf("empty set = %s, want []", out)
	}
}

func TestStatusSet_ScanPostgresArray(t *testing.T) {
	var s StatusSet
	if err := s.Scan([]byte(`{new,updated,updated}`)); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !s.Equal(NewStatusSet(StatusNew, StatusUpdated)) {
		t.Errorf("unexpected scanned set: %v", s)
	}

	v, err := s.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	if v != `{"new","updated"}` {
		t.Errorf("unexpected driver value: %v", v)
	}
}

func TestStatusLabel_IsValid(t *testing.T) {
	for _, l := range []StatusLabel{StatusNew, StatusUpdated, StatusInactive, StatusImported} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if StatusLabel("archived").IsValid() {
		t.Error("archived should not be valid")
	}
}
