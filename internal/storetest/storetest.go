// Package storetest holds the behaviour every fluid store must show through a
// repository. Adapter packages run Suite against their own Store.
package storetest

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/lemmego/fluid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// Record is the entity the suite stores. Its tags cover every bundled adapter.
type Record struct {
	ID        int64  `gorm:"primaryKey;autoIncrement" bun:"id,pk,autoincrement" bson:"_id" json:"id"`
	Name      string `gorm:"size:100" bun:"name" bson:"name" json:"name"`
	Category  string `gorm:"size:50" bun:"category" bson:"category" json:"category"`
	Rank      int    `bun:"rank" bson:"rank" json:"rank"`
	IsDeleted bool   `bun:"is_deleted,notnull" bson:"is_deleted" json:"is_deleted"`
}

// Token is keyed by a generated uuid.UUID
type Token struct {
	ID    uuid.UUID `bson:"_id" json:"id"`
	Owner string    `bson:"owner" json:"owner"`
}

// TokenOptions declares tokens with the id fallback order
func TokenOptions() fluid.CollectionOptions {
	return fluid.CollectionOptions{
		Alias:   "tokens",
		IDField: "ID",
	}
}

// SoftDeleteOptions declares records with a deleted flag, sorted by name
func SoftDeleteOptions() fluid.CollectionOptions {
	return fluid.CollectionOptions{
		Alias:            "records",
		IDField:          "ID",
		DeletedField:     "IsDeleted",
		SortField:        "Name",
		SortDirection:    fluid.Ascending,
		SearchableFields: []string{"Name", "Category"},
	}
}

// HardDeleteOptions declares records without a deleted flag or default sort
func HardDeleteOptions() fluid.CollectionOptions {
	return fluid.CollectionOptions{
		Alias:   "records_hard",
		IDField: "ID",
	}
}

// Suite exercises a repository over the store built by NewStore
type Suite struct {
	suite.Suite

	// NewStore builds a store for the descriptor. Stores built for the same
	// alias within one test share their data.
	NewStore func(desc *fluid.Descriptor[Record]) (fluid.Store[Record], error)

	// Reset empties the backing store before each test
	Reset func() error

	// NewTokenStore builds a store for uuid-keyed tokens. Tests that need it
	// are skipped when it is nil.
	NewTokenStore func(desc *fluid.Descriptor[Token]) (fluid.Store[Token], error)

	// SkipRollback skips checks that need the store to undo a failed unit of work
	SkipRollback bool

	ctx      context.Context
	registry *fluid.Registry
}

func (s *Suite) SetupTest() {
	s.ctx = context.Background()
	if s.Reset != nil {
		s.Require().NoError(s.Reset())
	}
	s.registry = fluid.NewRegistry()
}

// repo registers a collection on the test registry
func (s *Suite) repo(opts fluid.CollectionOptions) fluid.Repository[Record] {
	desc, err := fluid.NewDescriptor[Record](opts)
	s.Require().NoError(err)
	store, err := s.NewStore(desc)
	s.Require().NoError(err)
	repo, err := fluid.Register(s.registry, desc, store)
	s.Require().NoError(err)
	return repo
}

func (s *Suite) seed(repo fluid.Repository[Record], records ...Record) []*Record {
	saved := make([]*Record, 0, len(records))
	for i := range records {
		r := records[i]
		out, err := repo.Save(s.ctx, &r)
		s.Require().NoError(err)
		saved = append(saved, out)
	}
	return saved
}

func names(records []*Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Name
	}
	return out
}

func ids(records []*Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

// =====================================
// Save / Get
// =====================================

func (s *Suite) TestSaveAndGetRoundTrip() {
	repo := s.repo(SoftDeleteOptions())

	saved, err := repo.Save(s.ctx, &Record{Name: "alpha", Category: "a", Rank: 3})
	s.Require().NoError(err)
	s.NotZero(saved.ID)

	got, found, err := repo.Get(s.ctx, saved.ID)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(*saved, *got)
}

func (s *Suite) TestSaveUpdatesExisting() {
	repo := s.repo(SoftDeleteOptions())
	saved := s.seed(repo, Record{Name: "alpha", Rank: 1})[0]

	saved.Rank = 9
	_, err := repo.Save(s.ctx, saved)
	s.Require().NoError(err)

	got, found, err := repo.Get(s.ctx, saved.ID)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal(9, got.Rank)

	count, err := repo.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *Suite) TestGetMissingIsNotAnError() {
	repo := s.repo(SoftDeleteOptions())

	got, found, err := repo.Get(s.ctx, int64(424242))
	s.NoError(err)
	s.False(found)
	s.Nil(got)
}

func (s *Suite) TestGetRejectsMismatchedID() {
	repo := s.repo(SoftDeleteOptions())

	_, _, err := repo.Get(s.ctx, "not-a-number")
	s.True(fluid.IsInvalidArgument(err), "expected invalid argument, got %v", err)
}

// =====================================
// Delete
// =====================================

func (s *Suite) TestSoftDelete() {
	repo := s.repo(SoftDeleteOptions())
	records := s.seed(repo,
		Record{Name: "a"}, Record{Name: "b"}, Record{Name: "c"}, Record{Name: "d"}, Record{Name: "e"})

	for _, r := range records[:2] {
		deleted, err := repo.Delete(s.ctx, r.ID)
		s.Require().NoError(err)
		s.True(deleted)
	}

	list, err := repo.List(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"c", "d", "e"}, names(list))

	count, err := repo.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(3), count)

	page, err := repo.ListPaged(s.ctx, fluid.QueryRequest{
		Filter: fluid.Where("Name", fluid.OpIn, []string{"a", "b", "c"}),
		Page:   1, PageSize: 10,
	})
	s.Require().NoError(err)
	s.Equal(int64(1), page.TotalItems)
	s.Equal([]string{"c"}, names(page.Items))

	// the row is still there and Get still returns it
	got, found, err := repo.Get(s.ctx, records[0].ID)
	s.Require().NoError(err)
	s.Require().True(found)
	s.True(got.IsDeleted)

	deleted, err := repo.Delete(s.ctx, records[0].ID)
	s.Require().NoError(err)
	s.False(deleted, "deleting a soft-deleted record again is a no-op")
}

func (s *Suite) TestPhysicalDelete() {
	repo := s.repo(HardDeleteOptions())
	records := s.seed(repo, Record{Name: "a"}, Record{Name: "b"})

	deleted, err := repo.Delete(s.ctx, records[0].ID)
	s.Require().NoError(err)
	s.True(deleted)

	_, found, err := repo.Get(s.ctx, records[0].ID)
	s.Require().NoError(err)
	s.False(found)

	count, err := repo.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *Suite) TestDeleteMissingIsNotAnError() {
	repo := s.repo(HardDeleteOptions())

	deleted, err := repo.Delete(s.ctx, int64(99999))
	s.NoError(err)
	s.False(deleted)
}

// =====================================
// Listing and Paging
// =====================================

func (s *Suite) TestPagedScenario() {
	repo := s.repo(SoftDeleteOptions())

	var records []Record
	for i := 1; i <= 25; i++ {
		records = append(records, Record{Name: fmt.Sprintf("name-%02d", i), Rank: i})
	}
	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(records), func(i, j int) { records[i], records[j] = records[j], records[i] })
	s.seed(repo, records...)

	// deleted records sort among the live ones but must not take a slot
	for _, name := range []string{"name-05a", "name-12a", "name-18a"} {
		saved := s.seed(repo, Record{Name: name})[0]
		_, err := repo.Delete(s.ctx, saved.ID)
		s.Require().NoError(err)
	}

	page, err := repo.ListPaged(s.ctx, fluid.QueryRequest{Page: 2, PageSize: 10})
	s.Require().NoError(err)

	var want []string
	for i := 11; i <= 20; i++ {
		want = append(want, fmt.Sprintf("name-%02d", i))
	}
	s.Equal(want, names(page.Items))
	s.Equal(int64(25), page.TotalItems)
	s.Equal(int64(3), page.TotalPages)
	s.Equal(2, page.Page)
	s.Equal(10, page.PageSize)
}

func (s *Suite) TestPagingMath() {
	repo := s.repo(SoftDeleteOptions())
	for i := 0; i < 23; i++ {
		s.seed(repo, Record{Name: fmt.Sprintf("r%02d", i)})
	}

	for _, size := range []int{1, 4, 5, 10, 23, 50} {
		first, err := repo.ListPaged(s.ctx, fluid.QueryRequest{Page: 1, PageSize: size})
		s.Require().NoError(err)
		s.Equal(int64(23), first.TotalItems)
		s.Equal((int64(23)+int64(size)-1)/int64(size), first.TotalPages, "page size %d", size)

		seen := 0
		for p := 1; p <= int(first.TotalPages); p++ {
			page, err := repo.ListPaged(s.ctx, fluid.QueryRequest{Page: p, PageSize: size})
			s.Require().NoError(err)
			s.LessOrEqual(len(page.Items), size)
			if int64(p) == page.TotalPages {
				want := 23 % size
				if want == 0 {
					want = size
				}
				s.Len(page.Items, want, "last page for size %d", size)
			}
			seen += len(page.Items)
		}
		s.Equal(23, seen)
	}

	beyond, err := repo.ListPaged(s.ctx, fluid.QueryRequest{Page: 9, PageSize: 10})
	s.Require().NoError(err)
	s.Empty(beyond.Items)
	s.Equal(int64(23), beyond.TotalItems)
}

func (s *Suite) TestPagingRejectsInvalidWindow() {
	repo := s.repo(SoftDeleteOptions())

	_, err := repo.ListPaged(s.ctx, fluid.QueryRequest{Page: 0, PageSize: 10})
	s.True(fluid.IsConfiguration(err), "expected configuration error, got %v", err)

	_, err = repo.ListPaged(s.ctx, fluid.QueryRequest{Page: 1, PageSize: -1})
	s.True(fluid.IsConfiguration(err), "expected configuration error, got %v", err)

	_, err = repo.ListPaged(s.ctx, fluid.QueryRequest{Page: 1, Filter: fluid.Where("Missing", fluid.OpEqual, 1)})
	s.True(fluid.IsConfiguration(err), "expected configuration error, got %v", err)
}

func (s *Suite) TestFallbackOrderIsDeterministic() {
	repo := s.repo(HardDeleteOptions())
	for i := 0; i < 12; i++ {
		s.seed(repo, Record{Name: "same", Category: "x"})
	}

	first, err := repo.ListPaged(s.ctx, fluid.QueryRequest{Page: 2, PageSize: 5})
	s.Require().NoError(err)
	second, err := repo.ListPaged(s.ctx, fluid.QueryRequest{Page: 2, PageSize: 5})
	s.Require().NoError(err)
	s.Equal(ids(first.Items), ids(second.Items))

	all, err := repo.List(s.ctx)
	s.Require().NoError(err)
	s.True(sortedAscending(ids(all)), "fallback order is by id: %v", ids(all))
	s.Equal(ids(all[5:10]), ids(first.Items))
}

func (s *Suite) TestTiesBreakOnID() {
	repo := s.repo(SoftDeleteOptions())
	for i := 0; i < 8; i++ {
		s.seed(repo, Record{Name: "tie"})
	}

	list, err := repo.List(s.ctx)
	s.Require().NoError(err)
	s.True(sortedAscending(ids(list)), "ties on the sort field are ordered by id: %v", ids(list))
}

func (s *Suite) TestFilterAndExplicitSort() {
	repo := s.repo(SoftDeleteOptions())
	s.seed(repo,
		Record{Name: "a", Category: "x", Rank: 1},
		Record{Name: "b", Category: "y", Rank: 5},
		Record{Name: "c", Category: "x", Rank: 3},
		Record{Name: "d", Category: "x", Rank: 2},
		Record{Name: "e", Category: "y", Rank: 4},
	)

	page, err := repo.ListPaged(s.ctx, fluid.QueryRequest{
		Filter: fluid.And(
			fluid.Where("Category", fluid.OpEqual, "x"),
			fluid.Or(fluid.Where("Rank", fluid.OpGreaterThan, 1), fluid.Where("Name", fluid.OpEqual, "a")),
		),
		Sort:     &fluid.Order{Field: "Rank", Direction: fluid.Descending},
		Page:     1,
		PageSize: 10,
	})
	s.Require().NoError(err)
	s.Equal([]string{"c", "d", "a"}, names(page.Items))

	page, err = repo.ListPaged(s.ctx, fluid.QueryRequest{
		Filter:   fluid.Not(fluid.WhereIn("Name", "a", "b")),
		Page:     1,
		PageSize: 2,
	})
	s.Require().NoError(err)
	s.Equal([]string{"c", "d"}, names(page.Items))
	s.Equal(int64(3), page.TotalItems)

	page, err = repo.ListPaged(s.ctx, fluid.QueryRequest{
		Filter:   fluid.WhereBetween("Rank", 2, 4),
		Page:     1,
		PageSize: 10,
	})
	s.Require().NoError(err)
	s.Equal([]string{"c", "d", "e"}, names(page.Items))

	page, err = repo.ListPaged(s.ctx, fluid.QueryRequest{
		Filter:   fluid.Where("Name", fluid.OpLike, "%b%"),
		Page:     1,
		PageSize: 10,
	})
	s.Require().NoError(err)
	s.Equal([]string{"b"}, names(page.Items))
}

func (s *Suite) TestDefaultFilterAppliesToReadsButNotGet() {
	opts := SoftDeleteOptions()
	opts.DefaultFilter = fluid.Where("Category", fluid.OpNotEqual, "hidden")
	repo := s.repo(opts)

	records := s.seed(repo,
		Record{Name: "a", Category: "shown"},
		Record{Name: "b", Category: "hidden"},
		Record{Name: "c", Category: "shown"},
	)

	list, err := repo.List(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"a", "c"}, names(list))

	count, err := repo.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(2), count)

	page, err := repo.ListPaged(s.ctx, fluid.QueryRequest{Filter: fluid.Where("Name", fluid.OpNotEqual, "a"), Page: 1})
	s.Require().NoError(err)
	s.Equal([]string{"c"}, names(page.Items))

	_, found, err := repo.Get(s.ctx, records[1].ID)
	s.Require().NoError(err)
	s.True(found)
}

func (s *Suite) TestUUIDKeysListInOrder() {
	if s.NewTokenStore == nil {
		s.T().Skip("store has no uuid-keyed collection")
	}
	desc, err := fluid.NewDescriptor[Token](TokenOptions())
	s.Require().NoError(err)
	store, err := s.NewTokenStore(desc)
	s.Require().NoError(err)
	repo, err := fluid.Register(s.registry, desc, store)
	s.Require().NoError(err)

	var saved []*Token
	for _, owner := range []string{"ann", "bob", "cid", "dee"} {
		t, err := repo.Save(s.ctx, &Token{Owner: owner})
		s.Require().NoError(err)
		s.NotEqual(uuid.Nil, t.ID)
		saved = append(saved, t)
	}

	list, err := repo.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 4)
	for i := 1; i < len(list); i++ {
		s.Negative(bytes.Compare(list[i-1].ID[:], list[i].ID[:]), "tokens are ordered by id")
	}

	page, err := repo.ListPaged(s.ctx, fluid.QueryRequest{Page: 2, PageSize: 3})
	s.Require().NoError(err)
	s.Equal(int64(4), page.TotalItems)
	s.Require().Len(page.Items, 1)
	s.Equal(list[3].ID, page.Items[0].ID)

	got, err := repo.GetMany(s.ctx, []interface{}{saved[2].ID, saved[0].ID})
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal("cid", got[0].Owner)
	s.Equal("ann", got[1].Owner)

	page, err = repo.ListPaged(s.ctx, fluid.QueryRequest{Filter: fluid.Where("ID", fluid.OpEqual, saved[1].ID), Page: 1})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 1)
	s.Equal("bob", page.Items[0].Owner)
}

func (s *Suite) TestGetMany() {
	repo := s.repo(SoftDeleteOptions())
	records := s.seed(repo, Record{Name: "a"}, Record{Name: "b"}, Record{Name: "c"})
	_, err := repo.Delete(s.ctx, records[1].ID)
	s.Require().NoError(err)

	got, err := repo.GetMany(s.ctx, []interface{}{records[2].ID, int64(987654), records[1].ID, records[0].ID})
	s.Require().NoError(err)
	s.Equal([]string{"c", "a"}, names(got))

	empty, err := repo.GetMany(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(empty)
}

// =====================================
// Hooks
// =====================================

func (s *Suite) TestCancelledSaveLeavesStoreUnchanged() {
	repo := s.repo(SoftDeleteOptions())
	s.seed(repo, Record{Name: "existing"})

	s.registry.Hooks().OnSaving(fluid.SavingFor(func(ctx context.Context, before, after *Record) (*Record, bool, error) {
		return after, after.Name == "", nil
	}))

	input := &Record{Name: "", Category: "draft"}
	out, err := repo.Save(s.ctx, input)
	s.Require().NoError(err)
	s.Same(input, out)
	s.Equal(Record{Name: "", Category: "draft"}, *out)

	list, err := repo.List(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"existing"}, names(list))
}

func (s *Suite) TestPreSaveHookMutationIsPersisted() {
	repo := s.repo(SoftDeleteOptions())

	s.registry.Hooks().OnSaving(fluid.SavingFor(func(ctx context.Context, before, after *Record) (*Record, bool, error) {
		after.Category = "stamped"
		return after, false, nil
	}))

	saved, err := repo.Save(s.ctx, &Record{Name: "a"})
	s.Require().NoError(err)

	got, found, err := repo.Get(s.ctx, saved.ID)
	s.Require().NoError(err)
	s.Require().True(found)
	s.Equal("stamped", got.Category)
	s.Equal(*saved, *got)
}

func (s *Suite) TestHookFailureRollsBack() {
	if s.SkipRollback {
		s.T().Skip("store does not roll back units of work")
	}
	repo := s.repo(SoftDeleteOptions())

	s.registry.Hooks().OnSaved(func(ctx context.Context, e fluid.SaveEvent) (fluid.SaveEvent, error) {
		return e, fmt.Errorf("audit log unavailable")
	})

	_, err := repo.Save(s.ctx, &Record{Name: "doomed"})
	s.Require().Error(err)
	s.True(fluid.IsHook(err), "expected hook error, got %v", err)

	count, err := repo.Count(s.ctx)
	s.Require().NoError(err)
	s.Equal(int64(0), count)
}

func (s *Suite) TestCancelledDeleteLeavesRecord() {
	repo := s.repo(HardDeleteOptions())
	record := s.seed(repo, Record{Name: "keep"})[0]

	s.registry.Hooks().OnDeleting(fluid.DeletingFor(func(ctx context.Context, id interface{}, r *Record) (bool, error) {
		return r.Name == "keep", nil
	}))

	deleted, err := repo.Delete(s.ctx, record.ID)
	s.Require().NoError(err)
	s.False(deleted)

	_, found, err := repo.Get(s.ctx, record.ID)
	s.Require().NoError(err)
	s.True(found)
}

func sortedAscending(values []int64) bool {
	for i := 1; i < len(values); i++ {
		if values[i-1] >= values[i] {
			return false
		}
	}
	return true
}

// AssertRecordsEqual compares records ignoring their ids
func AssertRecordsEqual(t assert.TestingT, want, got []*Record) bool {
	if !assert.Len(t, got, len(want)) {
		return false
	}
	ok := true
	for i := range want {
		w, g := *want[i], *got[i]
		w.ID, g.ID = 0, 0
		ok = assert.Equal(t, w, g) && ok
	}
	return ok
}

// MustSeed saves records through a repository without hooks
func MustSeed(t require.TestingT, repo fluid.Repository[Record], records ...Record) []*Record {
	out := make([]*Record, 0, len(records))
	for i := range records {
		saved, err := repo.Save(context.Background(), &records[i], fluid.SkipEvents())
		require.NoError(t, err)
		out = append(out, saved)
	}
	return out
}
