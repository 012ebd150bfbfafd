// Command ddcontrold runs one region's Team Collection: it loads
// initial state, starts every data-distribution tracker, and serves
// the gRPC diagnostics surface (status, quiet-check) and an HTTP
// /metrics endpoint. Worker recruitment, storage initialization and
// failure watching go out as a gRPC client to -peer-grpc-addr.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aerokv/teamcollection/internal/collection"
	"github.com/aerokv/teamcollection/internal/config"
	"github.com/aerokv/teamcollection/internal/diag"
	"github.com/aerokv/teamcollection/internal/eventbus"
	"github.com/aerokv/teamcollection/internal/loader"
	"github.com/aerokv/teamcollection/internal/metrics"
	"github.com/aerokv/teamcollection/internal/policy"
	"github.com/aerokv/teamcollection/internal/rpcapi"
	"github.com/aerokv/teamcollection/internal/store"
	"github.com/aerokv/teamcollection/internal/tracing"
)

func main() {
	grpcAddr := flag.String("grpc-addr", ":4500", "gRPC listen address for the diagnostics surface")
	peerAddr := flag.String("peer-grpc-addr", "", "gRPC address of the cluster controller's worker-recruitment endpoint")
	httpAddr := flag.String("http-addr", ":8080", "HTTP listen address for /metrics")
	dbPath := flag.String("db", "./data/ddc", "badger data directory")
	natsURL := flag.String("nats-url", "", "NATS URL for diagnostic/relocation events, empty disables publishing")
	region := flag.String("region", "primary", "region name: primary or remote")
	teamSize := flag.Int("team-size", 3, "replication factor")
	zoneCount := flag.Int("policy-zones", 3, "distinct zones a server team must span")
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	shutdownTracing, err := tracing.Init(os.Stdout, "ddcontrold")
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	db, err := store.Open(*dbPath)
	if err != nil {
		logger.Fatal("open badger store", zap.Error(err))
	}
	defer db.Close()

	var pub *eventbus.Publisher
	if *natsURL != "" {
		pub, err = eventbus.NewPublisher(*natsURL, func(f string, a ...interface{}) { logger.Sugar().Infof(f, a...) })
		if err != nil {
			logger.Fatal("connect nats", zap.Error(err))
		}
		defer pub.Close()
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var recruitClient *rpcapi.Client
	if *peerAddr != "" {
		recruitClient, err = rpcapi.Dial(*peerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			logger.Fatal("dial cluster controller", zap.Error(err))
		}
		defer recruitClient.Close()
	}

	knobs := config.Default()
	knobs.TeamSize = *teamSize

	deps := collection.Deps{
		Region:    config.Region(*region),
		Knobs:     knobs,
		Policy:    policy.Across("zoneId", *zoneCount, policy.One()),
		Store:     db,
		Publisher: pub,
	}
	if recruitClient != nil {
		deps.Worker = recruitClient
		deps.Initializer = recruitClient
		deps.FailureMon = recruitClient
	} else {
		fake := rpcapi.NewFake()
		deps.Worker = fake
		deps.Initializer = fake
		deps.FailureMon = fake
	}

	tc := collection.New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := tc.Bootstrap(ctx); err != nil {
		logger.Fatal("bootstrap", zap.Error(err))
	}
	tc.Start(ctx)

	if recruitClient != nil {
		go recruitClient.Run(ctx, nil)
	}

	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		logger.Fatal("listen grpc", zap.Error(err), zap.String("addr", *grpcAddr))
	}
	grpcServer := grpc.NewServer()
	rpcapi.RegisterDiagnosticsServer(grpcServer, &diagnosticsServer{tc: tc, region: *region})
	go func() {
		logger.Info("grpc listening", zap.String("addr", *grpcAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promHandlerFor(reg))
	httpServer := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		logger.Info("http listening", zap.String("addr", *httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http listen", zap.Error(err))
		}
	}()

	go reportMetrics(ctx, tc, m, *region)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown initiated")

	grpcServer.GracefulStop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	tc.Shutdown()
	logger.Info("shutdown complete")
}

func promHandlerFor(reg *prometheus.Registry) http.Handler {
	return metrics.HandlerFor(reg)
}

// diagnosticsServer implements rpcapi.DiagnosticsServer against a live
// TeamCollection, backing ddctl's status and quiet-check subcommands.
type diagnosticsServer struct {
	tc     *collection.TeamCollection
	region string
}

func (d *diagnosticsServer) Diag(ctx context.Context, args *rpcapi.DiagArgs) (*diag.TeamCollectionInfo, error) {
	info := diag.BuildTeamCollectionInfo(d.region, d.tc.TeamStore, d.tc.Registry)
	return &info, nil
}

func (d *diagnosticsServer) QuietCheck(ctx context.Context, args *rpcapi.QuietCheckArgs) (*diag.QuietCheckResult, error) {
	res := loader.QuietCheck(d.tc.Registry, d.tc.TeamStore)
	return &res, nil
}

// reportMetrics periodically copies the team store's counters into the
// exported gauges, until ctx is cancelled.
func reportMetrics(ctx context.Context, tc *collection.TeamCollection, m *metrics.Metrics, region string) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.HealthyTeamCount.WithLabelValues(region).Set(float64(tc.TeamStore.HealthyTeamCount()))
			m.OptimalTeamCount.WithLabelValues(region).Set(float64(tc.TeamStore.OptimalTeamCount()))
			if tc.TeamStore.ZeroHealthyTeams() {
				m.ZeroHealthyTeams.WithLabelValues(region).Set(1)
			} else {
				m.ZeroHealthyTeams.WithLabelValues(region).Set(0)
			}
		}
	}
}
