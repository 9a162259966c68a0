package docrepo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/goliatone/go-docrepo/pkg/testsupport"
	"github.com/goliatone/go-docrepo/query"
	"github.com/goliatone/go-docrepo/store/memstore"
)

func seededPeople(t *testing.T) (*DocumentRepository[Person], *recordingClient) {
	t.Helper()
	client := &recordingClient{Client: memstore.New()}
	repo := newPeople(t, client, WithPageSize(2))
	for _, p := range loadPeople(t) {
		if _, err := repo.AddOrUpdate(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	return repo, client
}

func TestQueryable_Composition(t *testing.T) {
	ctx := context.Background()
	repo, _ := seededPeople(t)

	base := repo.Query().Where(query.IsTrue("active"))
	narrowed := base.Where(query.Gt("age", 40))

	active, err := base.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := firstNames(active); !slices.Equal(got, []string{"Jack", "Ana", "Lee"}) {
		t.Errorf("active = %v", got)
	}

	older, err := narrowed.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := firstNames(older); !slices.Equal(got, []string{"Jack", "Lee"}) {
		t.Errorf("active and older than 40 = %v", got)
	}

	n, err := base.Limit(2).Count(ctx)
	if err != nil || n != 2 {
		t.Errorf("limited count = %d %v", n, err)
	}
	limited, _ := base.Limit(1).List(ctx)
	if len(limited) != 1 || limited[0].FirstName != "Jack" {
		t.Errorf("limited list = %+v", limited)
	}

	first, ok, err := repo.Query().Where(query.Contains("phoneNumbers", query.Eq("type", "work"))).First(ctx)
	if err != nil || !ok || first.FirstName != "Ana" {
		t.Errorf("First = %+v %v %v", first, ok, err)
	}

	if n, _ := repo.Query().Count(ctx); n != 5 {
		t.Errorf("unfiltered count = %d", n)
	}
}

func TestQueryable_InvalidCompositionFailsBeforeStore(t *testing.T) {
	ctx := context.Background()
	repo, client := seededPeople(t)
	before := len(client.Calls())

	q := repo.Query().Where(query.Eq("lastName", "Smith")).Where(query.Eq("missing", 1))
	if !errors.Is(q.Err(), query.ErrUnsupportedPredicate) {
		t.Fatalf("expected composition error, got %v", q.Err())
	}
	if _, err := q.List(ctx); !errors.Is(err, query.ErrUnsupportedPredicate) {
		t.Errorf("List error = %v", err)
	}
	if _, err := q.Count(ctx); !errors.Is(err, query.ErrUnsupportedPredicate) {
		t.Errorf("Count error = %v", err)
	}
	if _, err := q.Select("lastName").List(ctx); !errors.Is(err, query.ErrUnsupportedPredicate) {
		t.Errorf("projection error = %v", err)
	}
	if _, err := repo.Query().Limit(-1).List(ctx); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative limit error = %v", err)
	}

	for _, p := range []*Projection{
		repo.Query().Select("nickname"),
		repo.Query().SelectMany("lastName"),
		repo.Query().SelectMany("phoneNumbers").Select("digits"),
		repo.Query().Select(""),
	} {
		if !errors.Is(p.Err(), query.ErrUnsupportedPredicate) {
			t.Errorf("expected projection to be rejected, got %v", p.Err())
		}
	}

	if after := len(client.Calls()); after != before {
		t.Errorf("expected no store calls, got %v", client.Calls()[before:])
	}
}

func TestQueryable_Projections(t *testing.T) {
	ctx := context.Background()
	repo, _ := seededPeople(t)

	numbers, err := repo.Query().
		Where(query.Eq("firstName", "m4tt")).
		SelectMany("phoneNumbers").
		Select("number").
		List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(numbers, []any{"555", "777"}) {
		t.Errorf("numbers = %v", numbers)
	}

	types, err := repo.Query().SelectMany("phoneNumbers").Select("type").List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(types, []any{"home", "work", "mobile"}) {
		t.Errorf("types = %v", types)
	}

	var lastNames []any
	for v, err := range repo.Query().Where(query.Eq("lastName", "Smith")).Select("lastName").Values(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		lastNames = append(lastNames, v)
	}
	if !slices.Equal(lastNames, []any{"Smith", "Smith"}) {
		t.Errorf("last names = %v", lastNames)
	}
}

func TestQueryable_NativeText(t *testing.T) {
	repo, err := New[Person](memstore.New(), "People")
	if err != nil {
		t.Fatal(err)
	}
	q := repo.Query().
		Where(query.Eq("lastName", "Smith")).
		Where(query.Contains("phoneNumbers", query.Eq("number", "555")))

	text, params := q.Text()
	var b strings.Builder
	b.WriteString(text + "\n")
	for _, p := range params {
		fmt.Fprintf(&b, "%s=%v\n", p.Name, p.Value)
	}
	testsupport.CompareWithGolden(t, testsupport.GoldenPath("smith_with_phone.sql"), []byte(b.String()))
}
