package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprom "github.com/zsais/go-gin-prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"boarcore.com/internal/engine"
	"boarcore.com/internal/store"
	"boarcore.com/pkg/common"
	"boarcore.com/pkg/logger"
	"boarcore.com/pkg/middleware"
	"boarcore.com/pkg/ratelimit"
	"boarcore.com/pkg/safe"
	"boarcore.com/pkg/xerr"
)

type opsDeps struct {
	name   string
	eng    *engine.Engine
	store  store.Store
	limits *ratelimit.Store
}

// newOpsRouter serves metrics, health probes and read-only market views for
// operators. Players never talk to it.
func newOpsRouter(d opsDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	ginprom.NewPrometheus("boarcore_http").Use(r)
	r.Use(
		otelgin.Middleware(d.name),
		middleware.ReqId(),
		cors.Default(),
		middleware.Recover(),
		middleware.RateLimit(d.limits),
	)

	r.GET("/healthz", func(c *gin.Context) {
		common.Success(c, gin.H{"name": d.name, "dropped_events": d.eng.DroppedEvents()})
	})
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		probe := map[string]int64{}
		if _, err := d.store.Load(ctx, "editions", &probe); err != nil {
			common.FailErr(c, xerr.Wrap(err, http.StatusServiceUnavailable, "store unavailable"))
			return
		}
		common.Success(c, nil)
	})

	dbg := r.Group("/debug")
	dbg.GET("/markets/:item", func(c *gin.Context) {
		item := c.Param("item")
		if id, ok := d.eng.Lookup(item); ok {
			item = id
		}
		var edition int64
		if s := c.Query("edition"); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				common.FailErr(c, xerr.New(xerr.Validation, "edition must be a number"))
				return
			}
			edition = n
		}
		snap, err := d.eng.Snapshot(c.Request.Context(), item, edition)
		if err != nil {
			common.FailErr(c, err)
			return
		}
		common.Success(c, snap)
	})
	dbg.GET("/orders/:user", func(c *gin.Context) {
		orders, err := d.eng.OrdersOf(c.Request.Context(), c.Param("user"))
		if err != nil {
			common.FailErr(c, err)
			return
		}
		common.Success(c, orders)
	})
	dbg.GET("/leaderboard", func(c *gin.Context) {
		n, err := strconv.Atoi(c.DefaultQuery("n", "10"))
		if err != nil {
			common.FailErr(c, xerr.New(xerr.Validation, "n must be a number"))
			return
		}
		board, err := d.eng.Leaderboard(c.Request.Context(), n)
		if err != nil {
			common.FailErr(c, err)
			return
		}
		common.Success(c, board)
	})
	return r
}

func startOps(addr string, h http.Handler) *http.Server {
	if addr == "" {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	safe.Go(func() {
		logger.Info(context.Background(), "ops listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "ops server", zap.Error(err))
		}
	})
	return srv
}
