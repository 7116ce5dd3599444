package handlers

import (
	"context"
	"io"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/spendtrack/internal/domain"
	"github.com/dvloznov/spendtrack/internal/infra/sqlite"
	"github.com/dvloznov/spendtrack/internal/jobs"
)

// MockStore implements TransactionReader and CategoryStore. Nil funcs return
// empty results.
type MockStore struct {
	ListByDateRangeFunc  func(ctx context.Context, start, end civil.Date) ([]*domain.Transaction, error)
	ListExpensesFunc     func(ctx context.Context) ([]*domain.Transaction, error)
	ListRawFunc          func(ctx context.Context, limit, offset int) ([]*domain.Transaction, error)
	CountFunc            func(ctx context.Context) (int, error)
	MostRecentFunc       func(ctx context.Context) (*domain.Transaction, error)
	RecurringPairsFunc   func(ctx context.Context, limit int) ([]domain.RecurringPair, error)
	MerchantCountsFunc   func(ctx context.Context, limit int) ([]domain.MerchantCount, error)
	MonthlySpendingFunc  func(ctx context.Context, since civil.Date) ([]domain.MonthlySpending, error)
	CreateCategoryFunc   func(ctx context.Context, c *domain.Category) error
	DeleteCategoryFunc   func(ctx context.Context, id int64) error
	BatchFunc            func(ctx context.Context, merchants []string) (map[string][]domain.Category, error)
	AllLinksFunc         func(ctx context.Context) (map[string][]domain.Category, error)
	AddLinkFunc          func(ctx context.Context, merchant string, id int64) (bool, error)
	RemoveLinkFunc       func(ctx context.Context, merchant string, id int64) error
	ListCategoriesResult []domain.Category
}

func (m *MockStore) ListByDateRange(ctx context.Context, start, end civil.Date) ([]*domain.Transaction, error) {
	if m.ListByDateRangeFunc != nil {
		return m.ListByDateRangeFunc(ctx, start, end)
	}
	return []*domain.Transaction{}, nil
}

func (m *MockStore) ListExpenses(ctx context.Context) ([]*domain.Transaction, error) {
	if m.ListExpensesFunc != nil {
		return m.ListExpensesFunc(ctx)
	}
	return []*domain.Transaction{}, nil
}

func (m *MockStore) ListRaw(ctx context.Context, limit, offset int) ([]*domain.Transaction, error) {
	if m.ListRawFunc != nil {
		return m.ListRawFunc(ctx, limit, offset)
	}
	return []*domain.Transaction{}, nil
}

func (m *MockStore) CountTransactions(ctx context.Context) (int, error) {
	if m.CountFunc != nil {
		return m.CountFunc(ctx)
	}
	return 0, nil
}

func (m *MockStore) MostRecent(ctx context.Context) (*domain.Transaction, error) {
	if m.MostRecentFunc != nil {
		return m.MostRecentFunc(ctx)
	}
	return nil, sqlite.ErrNotFound
}

func (m *MockStore) RecurringPairs(ctx context.Context, limit int) ([]domain.RecurringPair, error) {
	if m.RecurringPairsFunc != nil {
		return m.RecurringPairsFunc(ctx, limit)
	}
	return []domain.RecurringPair{}, nil
}

func (m *MockStore) MerchantCounts(ctx context.Context, limit int) ([]domain.MerchantCount, error) {
	if m.MerchantCountsFunc != nil {
		return m.MerchantCountsFunc(ctx, limit)
	}
	return []domain.MerchantCount{}, nil
}

func (m *MockStore) AllMerchants(ctx context.Context) ([]domain.MerchantCount, error) {
	return m.MerchantCounts(ctx, -1)
}

func (m *MockStore) MonthlySpending(ctx context.Context, since civil.Date) ([]domain.MonthlySpending, error) {
	if m.MonthlySpendingFunc != nil {
		return m.MonthlySpendingFunc(ctx, since)
	}
	return []domain.MonthlySpending{}, nil
}

func (m *MockStore) ListCategories(ctx context.Context) ([]domain.Category, error) {
	if m.ListCategoriesResult == nil {
		return []domain.Category{}, nil
	}
	return m.ListCategoriesResult, nil
}

func (m *MockStore) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	for _, c := range m.ListCategoriesResult {
		if c.ID == id {
			c := c
			return &c, nil
		}
	}
	return nil, sqlite.ErrNotFound
}

func (m *MockStore) CreateCategory(ctx context.Context, c *domain.Category) error {
	if m.CreateCategoryFunc != nil {
		return m.CreateCategoryFunc(ctx, c)
	}
	c.ID = 1
	return nil
}

func (m *MockStore) DeleteCategory(ctx context.Context, id int64) error {
	if m.DeleteCategoryFunc != nil {
		return m.DeleteCategoryFunc(ctx, id)
	}
	return nil
}

func (m *MockStore) MerchantCategories(ctx context.Context, merchant string) ([]domain.Category, error) {
	byMerchant, err := m.MerchantCategoriesBatch(ctx, []string{merchant})
	if err != nil {
		return nil, err
	}
	if cats, ok := byMerchant[merchant]; ok {
		return cats, nil
	}
	return []domain.Category{}, nil
}

func (m *MockStore) MerchantCategoriesBatch(ctx context.Context, merchants []string) (map[string][]domain.Category, error) {
	if m.BatchFunc != nil {
		return m.BatchFunc(ctx, merchants)
	}
	return map[string][]domain.Category{}, nil
}

func (m *MockStore) AllMerchantCategories(ctx context.Context) (map[string][]domain.Category, error) {
	if m.AllLinksFunc != nil {
		return m.AllLinksFunc(ctx)
	}
	return map[string][]domain.Category{}, nil
}

func (m *MockStore) AddMerchantCategory(ctx context.Context, merchant string, id int64) (bool, error) {
	if m.AddLinkFunc != nil {
		return m.AddLinkFunc(ctx, merchant, id)
	}
	return true, nil
}

func (m *MockStore) RemoveMerchantCategory(ctx context.Context, merchant string, id int64) error {
	if m.RemoveLinkFunc != nil {
		return m.RemoveLinkFunc(ctx, merchant, id)
	}
	return nil
}

// MockArchiver records the last Put.
type MockArchiver struct {
	Name string
	Body string
	Err  error
}

func (m *MockArchiver) Put(ctx context.Context, name string, r io.Reader) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.Name, m.Body = name, string(b)
	return "file:///archive/" + name, nil
}

// MockPublisher records published jobs.
type MockPublisher struct {
	Jobs []*jobs.IngestJob
	Err  error
}

func (m *MockPublisher) PublishIngest(ctx context.Context, job *jobs.IngestJob) error {
	if m.Err != nil {
		return m.Err
	}
	job.JobID = "job-1"
	job.Status = jobs.JobStatusPending
	m.Jobs = append(m.Jobs, job)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

// MockCanceller returns Err for every Cancel.
type MockCanceller struct {
	IDs []string
	Err error
}

func (m *MockCanceller) Cancel(ctx context.Context, id string) error {
	m.IDs = append(m.IDs, id)
	return m.Err
}
