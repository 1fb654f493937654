package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sanumxxx/melsu-portal-sub000/internal/cache"
	"github.com/sanumxxx/melsu-portal-sub000/internal/config"
	"github.com/sanumxxx/melsu-portal-sub000/internal/db"
	"github.com/sanumxxx/melsu-portal-sub000/internal/models"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type memoryTreeCache struct {
	mu          sync.Mutex
	generation  int64
	entries     map[int64][]models.Department
	stored      bool
	loads       int
	invalidated int
	beforeStore func()
}

func (c *memoryTreeCache) Generation(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *memoryTreeCache) Load(ctx context.Context, generation int64) ([]models.Department, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	departments, ok := c.entries[generation]
	if !ok {
		return nil, cache.ErrMiss
	}
	return append([]models.Department(nil), departments...), nil
}

func (c *memoryTreeCache) Store(ctx context.Context, generation int64, departments []models.Department) error {
	// Runs once, outside the lock, to let a test interleave a write.
	c.mu.Lock()
	hook := c.beforeStore
	c.beforeStore = nil
	c.mu.Unlock()
	if hook != nil {
		hook()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[int64][]models.Department)
	}
	c.entries[generation] = append([]models.Department(nil), departments...)
	c.stored = true
	return nil
}

func (c *memoryTreeCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.invalidated++
	return nil
}

type fixture struct {
	db          *gorm.DB
	cache       *memoryTreeCache
	departments *DepartmentService
	grants      *GrantService
	assignments *AssignmentService
	users       *UserService
	roles       *RoleService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.Connect(config.Config{
		DatabaseDriver: config.DriverSQLite,
		DatabaseURL:    "file::memory:",
		Env:            "production",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(database))

	sqlDB, err := database.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	treeCache := &memoryTreeCache{}
	opts := Options{
		Audit: NewGormAuditSink(database),
		Cache: treeCache,
		Now:   func() time.Time { return testNow },
	}

	return &fixture{
		db:          database,
		cache:       treeCache,
		departments: NewDepartmentService(database, opts),
		grants:      NewGrantService(database, opts),
		assignments: NewAssignmentService(database, opts),
		users:       NewUserService(database, opts),
		roles:       NewRoleService(database, opts),
	}
}

func (f *fixture) department(t *testing.T, name string, kind models.DepartmentType, parentID *uint) uint {
	t.Helper()
	created, err := f.departments.CreateDepartment(context.Background(), CreateDepartmentInput{
		Name:     name,
		Type:     kind,
		ParentID: parentID,
		ActorID:  1,
	})
	require.NoError(t, err)
	return created.ID
}

func (f *fixture) user(t *testing.T, email string, role string) uint {
	t.Helper()
	created, err := f.users.CreateUser(context.Background(), CreateUserInput{
		FullName: email,
		Email:    email,
		Role:     role,
	})
	require.NoError(t, err)
	return created.ID
}

func (f *fixture) role(t *testing.T, name string) uint {
	t.Helper()
	created, err := f.roles.CreateRole(context.Background(), CreateRoleInput{Name: name})
	require.NoError(t, err)
	return created.ID
}

func uintPtr(v uint) *uint {
	return &v
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func day(offset int) time.Time {
	return models.DateOf(testNow).AddDate(0, 0, offset)
}
