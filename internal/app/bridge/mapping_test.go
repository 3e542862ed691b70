package bridge

import (
	"reflect"
	"testing"

	"github.com/Overland-East-Bay/bookkeeping-relay/internal/domain"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/frontend"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

func TestMapEvent(t *testing.T) {
	t.Parallel()

	value := domain.Record{"name": "Ann", "amount": 4.0}
	cases := []struct {
		coll     domain.Collection
		kind     realtime.EventKind
		wantType string
		wantOK   bool
	}{
		{domain.CollectionMembers, realtime.ChildAdded, frontend.EventMemberAdded, true},
		{domain.CollectionMembers, realtime.ChildChanged, frontend.EventMemberUpdated, true},
		{domain.CollectionMembers, realtime.ChildRemoved, "", false},
		{domain.CollectionLineItems, realtime.ChildAdded, frontend.EventLineItemAdded, true},
		{domain.CollectionLineItems, realtime.ChildChanged, frontend.EventLineItemUpdated, true},
		{domain.CollectionLineItems, realtime.ChildRemoved, frontend.EventLineItemDeleted, true},
		{domain.Collection("trips"), realtime.ChildAdded, "", false},
	}
	for _, tc := range cases {
		t.Run(string(tc.coll)+"/"+string(tc.kind), func(t *testing.T) {
			t.Parallel()

			got, ok := MapEvent(realtime.Event{Collection: tc.coll, Kind: tc.kind, Key: "k9", Value: value})
			if ok != tc.wantOK {
				t.Fatalf("ok=%v, want %v", ok, tc.wantOK)
			}
			if !ok {
				return
			}
			if got.Type != tc.wantType {
				t.Fatalf("type=%q, want %q", got.Type, tc.wantType)
			}
			want := domain.Record{"id": "k9", "name": "Ann", "amount": 4.0}
			if !reflect.DeepEqual(got.Payload, want) {
				t.Fatalf("payload=%v, want %v", got.Payload, want)
			}
		})
	}
}

func TestMergeID(t *testing.T) {
	t.Parallel()

	in := domain.Record{"id": "stale", "note": "x"}
	got := MergeID(in, "fresh")
	if got["id"] != "fresh" || got["note"] != "x" || len(got) != 2 {
		t.Fatalf("MergeID()=%v", got)
	}
	if in["id"] != "stale" {
		t.Fatalf("MergeID mutated its input: %v", in)
	}

	if got := MergeID(nil, "k"); !reflect.DeepEqual(got, domain.Record{"id": "k"}) {
		t.Fatalf("MergeID(nil)=%v", got)
	}
}
