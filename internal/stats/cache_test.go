package stats

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"corecompliance/internal/assessment/service"
	platformredis "corecompliance/internal/platform/redis"
)

type CacheSuite struct {
	suite.Suite
	ctx   context.Context
	redis *miniredis.Miniredis
	cache *Cache
}

func TestCacheSuite(t *testing.T) {
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupTest() {
	s.ctx = context.Background()
	s.redis = miniredis.RunT(s.T())
	client := &platformredis.Client{Client: goredis.NewClient(&goredis.Options{Addr: s.redis.Addr()})}
	s.cache = NewCache(client, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (s *CacheSuite) TestSetGet() {
	want := service.Stats{Compliant: 2, Total: 5, Percentage: 40}
	s.cache.Set(s.ctx, "org-1", want)

	got, ok := s.cache.Get(s.ctx, "org-1")
	s.Require().True(ok)
	s.Equal(want, got)
}

func (s *CacheSuite) TestMissOnUnknownSubject() {
	_, ok := s.cache.Get(s.ctx, "org-2")
	s.False(ok)
}

func (s *CacheSuite) TestInvalidate() {
	s.cache.Set(s.ctx, "org-1", service.Stats{Total: 5})
	s.cache.Invalidate(s.ctx, "org-1")

	_, ok := s.cache.Get(s.ctx, "org-1")
	s.False(ok)
}

func (s *CacheSuite) TestEntriesExpire() {
	s.cache.Set(s.ctx, "org-1", service.Stats{Total: 5})
	s.redis.FastForward(2 * time.Minute)

	_, ok := s.cache.Get(s.ctx, "org-1")
	s.False(ok)
}

func (s *CacheSuite) TestMalformedEntryIsAMiss() {
	s.Require().NoError(s.redis.Set(keyPrefix+"org-1", "not-json"))

	_, ok := s.cache.Get(s.ctx, "org-1")
	s.False(ok)
}

func (s *CacheSuite) TestSubjectsAreIsolated() {
	s.cache.Set(s.ctx, "org-1", service.Stats{Total: 5})
	s.cache.Set(s.ctx, "org-2", service.Stats{Total: 7})
	s.cache.Invalidate(s.ctx, "org-1")

	got, ok := s.cache.Get(s.ctx, "org-2")
	s.Require().True(ok)
	s.Equal(7, got.Total)
}
