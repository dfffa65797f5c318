// orderbench 压测下单写路径、outbox 投递延迟和订单读缓存命中收益
//
//	DATABASE_DRIVER=sqlite DATABASE_DSN=file:bench.db ORDERS=2000 go run ./cmd/orderbench
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/d60-Lab/order-payments/config"
	"github.com/d60-Lab/order-payments/internal/cache"
	"github.com/d60-Lab/order-payments/internal/events"
	"github.com/d60-Lab/order-payments/internal/integration"
	"github.com/d60-Lab/order-payments/internal/model"
	"github.com/d60-Lab/order-payments/internal/repository"
	"github.com/d60-Lab/order-payments/internal/service"
	"github.com/d60-Lab/order-payments/pkg/database"
)

// stubCollaborators 进程内假协作方，不发起网络调用
type stubCollaborators struct{}

func (stubCollaborators) Validate(context.Context, []integration.StockItem) error        { return nil }
func (stubCollaborators) Reserve(context.Context, string, []integration.StockItem) error { return nil }
func (stubCollaborators) Confirm(context.Context, string, []integration.StockItem) error { return nil }
func (stubCollaborators) Release(context.Context, string, []integration.StockItem) error { return nil }
func (stubCollaborators) SendEmail(context.Context, integration.Email) error             { return nil }
func (stubCollaborators) RequestRefund(context.Context, integration.RefundRequest) error { return nil }

// countingPublisher 只计数，用来测 outbox 投递延迟
type countingPublisher struct{ n atomic.Int64 }

func (p *countingPublisher) Publish(context.Context, events.Event) error { p.n.Add(1); return nil }
func (p *countingPublisher) Close() error                                { return nil }

func main() {
	cfg := &config.Config{}
	cfg.Database.Driver = envOr("DATABASE_DRIVER", "sqlite")
	cfg.Database.DSN = envOr("DATABASE_DSN", "file:orderbench.db?_journal_mode=WAL")
	cfg.Database.MaxOpenConns = 16
	cfg.Database.MaxIdleConns = 16
	cfg.Database.AutoMigrate = true
	cfg.Server.Mode = "release"

	db, err := database.InitDB(cfg)
	if err != nil {
		panic(err)
	}

	orders := envInt("ORDERS", 1000)
	users := envInt("USERS", 50)
	workers := envInt("WORKERS", 8)
	repeat := envInt("REPEAT", 200)

	var opts []service.OrderOption
	var redisCache *cache.RedisOrderCache
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisCache = cache.NewRedisOrderCache(redis.NewClient(&redis.Options{Addr: addr}), 10*time.Minute)
		opts = append(opts, service.WithOrderCache(redisCache))
	}
	opts = append(opts, service.WithOrderLogger(zap.NewNop()))

	stub := stubCollaborators{}
	svc := service.NewOrderService(repository.NewOrderRepository(db), stub, stub, stub, opts...)
	ctx := context.Background()

	// 1) 下单写路径：订单 + 用户索引 + outbox 同事务
	fmt.Printf("creating %d orders (users=%d workers=%d)...\n", orders, users, workers)
	ids := make([]string, orders)
	lat := make([]time.Duration, orders)
	var wg sync.WaitGroup
	jobs := make(chan int)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				st := time.Now()
				o, err := svc.CreateOrder(ctx, benchInput(fmt.Sprintf("bench-user-%03d", i%users)))
				lat[i] = time.Since(st)
				if err != nil {
					fmt.Fprintln(os.Stderr, "create:", err)
					continue
				}
				ids[i] = o.ID
			}
		}()
	}
	start := time.Now()
	for i := 0; i < orders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	elapsed := time.Since(start)
	fmt.Printf("CreateOrder: total=%v qps=%.0f avg=%v p95=%v p99=%v\n",
		elapsed, float64(orders)/elapsed.Seconds(), avg(lat), pct(lat, 0.95), pct(lat, 0.99))

	// 2) outbox 投递：从落库到 Publish 的端到端延迟
	pub := &countingPublisher{}
	relay := service.NewOutboxRelay(db, pub, envInt("RELAY_WORKERS", 2), 200, 50*time.Millisecond, zap.NewNop())
	stop := relay.Start()
	var relayLat []time.Duration
	deadline := time.After(60 * time.Second)
drain:
	for pub.n.Load() < int64(orders) {
		select {
		case d := <-relay.Metrics():
			relayLat = append(relayLat, d)
		case <-deadline:
			break drain
		case <-time.After(100 * time.Millisecond):
		}
	}
	_ = stop(ctx)
	fmt.Printf("OutboxRelay: published=%d avg=%v p95=%v p99=%v\n", pub.n.Load(), avg(relayLat), pct(relayLat, 0.95), pct(relayLat, 0.99))

	// 3) 订单读取：缓存命中 vs 直查
	reads := make([]time.Duration, 0, repeat)
	for i := 0; i < repeat; i++ {
		id := ids[i%len(ids)]
		if id == "" {
			continue
		}
		st := time.Now()
		if _, err := svc.GetOrder(ctx, id); err != nil {
			fmt.Fprintln(os.Stderr, "get:", err)
		}
		reads = append(reads, time.Since(st))
	}
	fmt.Printf("GetOrder x%d: avg=%v p95=%v p99=%v\n", repeat, avg(reads), pct(reads, 0.95), pct(reads, 0.99))
	if redisCache != nil {
		hits, misses := redisCache.Stats()
		fmt.Printf("order cache: hits=%d misses=%d\n", hits, misses)
	}
}

func benchInput(userID string) service.CreateOrderInput {
	return service.CreateOrderInput{
		UserID: userID,
		Items: []service.OrderItemInput{
			{ProductID: "sku-1", Name: "Maize flour 2kg", Quantity: 2, UnitPrice: decimal.NewFromInt(210)},
			{ProductID: "sku-2", Name: "Cooking oil 1L", Quantity: 1, UnitPrice: decimal.NewFromInt(395)},
		},
		ShippingAddress: model.Address{FullName: "Bench User", Line1: "Moi Avenue", City: "Nairobi", Country: "KE"},
		PaymentMethod:   model.PaymentMethodMpesa,
		ShippingCost:    decimal.NewFromInt(150),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			return v
		}
	}
	return def
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(float64(len(xs)) * p)
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}
