package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestLinks(t *testing.T) {
	if got := DocumentLink("People", "Person", "J1"); got != "dbs/People/colls/Person/docs/J1" {
		t.Fatalf("unexpected document link %q", got)
	}

	link, err := ParseLink("dbs/People/colls/Person/docs/J1")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if link.Database != "People" || link.Collection != "Person" || link.Document != "J1" {
		t.Errorf("unexpected parsed link %+v", link)
	}

	link, err = ParseLink("/dbs/People/")
	if err != nil || link.Database != "People" || link.Collection != "" {
		t.Errorf("expected database link, got %+v %v", link, err)
	}

	for _, bad := range []string{"", "dbs", "colls/x", "dbs/a/docs/b", "dbs//colls/x", "dbs/a/colls/b/docs/c/x/y"} {
		if _, err := ParseLink(bad); StatusOf(err) != StatusBadRequest {
			t.Errorf("ParseLink(%q) expected bad request, got %v", bad, err)
		}
	}
}

func TestValidateName(t *testing.T) {
	if err := ValidateName("collection", "Person"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, bad := range []string{"", "a/b", `a\b`, "a?b", "a#b"} {
		if err := ValidateName("collection", bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestDocumentAccessors(t *testing.T) {
	doc := Document{"id": "J1", "_self": "dbs/x", "_etag": `"1"`, "nested": map[string]any{"a": []any{1.0}}}
	if doc.ID() != "J1" || doc.SelfLink() != "dbs/x" || doc.ETag() != `"1"` {
		t.Errorf("unexpected accessors %q %q %q", doc.ID(), doc.SelfLink(), doc.ETag())
	}

	clone := doc.Clone()
	clone["nested"].(map[string]any)["a"].([]any)[0] = 2.0
	if doc["nested"].(map[string]any)["a"].([]any)[0] != 1.0 {
		t.Error("expected clone to be deep")
	}

	user := doc.WithoutSystemAttributes()
	if _, ok := user["_self"]; ok {
		t.Error("expected system attributes to be stripped")
	}
	if user.ID() != "J1" {
		t.Error("expected id to survive stripping")
	}
}

func TestEncodeDecode(t *testing.T) {
	type phone struct {
		Number string `json:"number"`
	}
	type person struct {
		ID     string  `json:"id"`
		Phones []phone `json:"phones"`
	}

	doc, err := EncodeDocument(person{ID: "J1", Phones: []phone{{Number: "555"}}})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if doc.ID() != "J1" {
		t.Errorf("expected id J1, got %q", doc.ID())
	}

	doc["_etag"] = `"x"`
	var out person
	if err := doc.Decode(&out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Phones[0].Number != "555" {
		t.Errorf("unexpected decoded value %+v", out)
	}

	if _, err := EncodeDocument([]int{1}); err == nil {
		t.Error("expected non-object encoding to fail")
	}
}

func TestComputeETag(t *testing.T) {
	a := ComputeETag(Document{"id": "J1", "name": "Jack", "_ts": 1.0})
	b := ComputeETag(Document{"id": "J1", "name": "Jack", "_ts": 2.0})
	c := ComputeETag(Document{"id": "J1", "name": "Jill"})
	if a != b {
		t.Error("expected system attributes to be ignored")
	}
	if a == c {
		t.Error("expected content change to change the etag")
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewError(StatusTooManyRequests, "slow down"))
	if !IsTransient(wrapped) {
		t.Error("expected 429 to be transient")
	}
	if IsTransient(NewError(StatusConflict, "exists")) {
		t.Error("expected 409 not to be transient")
	}
	if !IsConflict(NewError(StatusConflict, "exists")) {
		t.Error("expected conflict")
	}
	if !IsNotFound(NewError(StatusNotFound, "gone")) {
		t.Error("expected not found")
	}
	if !IsPreconditionFailed(NewError(StatusPreconditionFailed, "etag")) {
		t.Error("expected precondition failed")
	}
	if IsTransient(context.Canceled) || IsTransient(errors.New("plain")) {
		t.Error("expected non store errors not to be transient")
	}

	ctxErr := &StoreError{StatusCode: StatusServiceUnavailable, Err: context.DeadlineExceeded}
	if IsTransient(ctxErr) {
		t.Error("expected deadline wrapped in a store error not to be retried")
	}
	if NewError(StatusNotFound, "x").Code != "NotFound" {
		t.Errorf("unexpected code %q", NewError(StatusNotFound, "x").Code)
	}
}

func TestFeedIterator(t *testing.T) {
	pages := [][]Document{{{"id": "a"}, {"id": "b"}}, {{"id": "c"}}}
	calls := 0
	it := NewFeedIterator(func(_ context.Context, continuation string) (*FeedResponse, error) {
		calls++
		idx := 0
		if continuation == "1" {
			idx = 1
		}
		next := ""
		if idx == 0 {
			next = "1"
		}
		return &FeedResponse{Documents: pages[idx], Continuation: next}, nil
	}, "")

	docs, err := ReadAll(context.Background(), it)
	if err != nil {
		t.Fatalf("read all failed: %v", err)
	}
	if len(docs) != 3 || calls != 2 {
		t.Errorf("expected 3 docs in 2 calls, got %d in %d", len(docs), calls)
	}
	if it.HasMoreResults() {
		t.Error("expected iterator to be exhausted")
	}
}
