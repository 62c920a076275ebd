package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/couchbaselabs/gocbconnstr/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/couchbaselabs/cbclusterboot"
	"github.com/couchbaselabs/cbclusterboot/clusterdef"
	"github.com/couchbaselabs/cbclusterboot/pkg/webapi"
)

var buildVersion = cbclusterboot.BuildVersion()

var rootCmd = &cobra.Command{
	Version: buildVersion,

	Use:   "cbclusterboot",
	Short: "Bootstraps Couchbase clusters from a declarative topology",

	Run: func(cmd *cobra.Command, args []string) {
		startBootstrap()
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Bootstraps the cluster described by a topology definition",

	Run: func(cmd *cobra.Command, args []string) {
		startBootstrap()
	},
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flushes a bucket on an existing cluster and waits for it to settle",

	Run: func(cmd *cobra.Command, args []string) {
		runFlush()
	},
}

var cfgFile string
var flushConnStr string
var flushUsername string
var flushPassword string
var flushBucket string

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "specifies a config file to load")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("def", "", "path to the cluster topology definition")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.Int("web-port", 9091, "the web metrics/health port")
	configFlags.String("infra-listen", "", "address to accept infra lifecycle events on")
	configFlags.Bool("watch", false, "stay resident after the cluster is running")
	rootCmd.Flags().AddFlagSet(configFlags)
	bootstrapCmd.Flags().AddFlagSet(configFlags)

	flushCmd.Flags().StringVar(&flushConnStr, "connstr", "couchbase://127.0.0.1", "the connection string of the cluster")
	flushCmd.Flags().StringVar(&flushUsername, "username", "Administrator", "the administrator username")
	flushCmd.Flags().StringVar(&flushPassword, "password", "password", "the administrator password")
	flushCmd.Flags().StringVar(&flushBucket, "bucket", "default", "the bucket to flush")

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(flushCmd)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("cbcb")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

func initTelemetry(ctx context.Context, logger *zap.Logger) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("cbclusterboot"),
		),
	)
	if err != nil {
		if res == nil {
			return nil, err
		}

		logger.Warn("failed to setup some part of opentelemetry resource", zap.Error(err))
	}

	promExp, err := prometheus.New()
	if err != nil {
		return nil, err
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	return meterProvider, nil
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

type config struct {
	logLevelStr string
	defPath     string
	bindAddress string
	webPort     int
	infraListen string
	watch       bool
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr: viper.GetString("log-level"),
		defPath:     viper.GetString("def"),
		bindAddress: viper.GetString("bind-address"),
		webPort:     viper.GetInt("web-port"),
		infraListen: viper.GetString("infra-listen"),
		watch:       viper.GetBool("watch"),
	}

	logger.Info("parsed bootstrap configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("defPath", config.defPath),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("webPort", config.webPort),
		zap.String("infraListen", config.infraListen),
		zap.Bool("watch", config.watch))

	return config
}

// clusterStatusSource adapts the state stream to the web server's readiness
// endpoint.
type clusterStatusSource struct {
	cluster string
	stream  cbclusterboot.ResourceStateStream
}

func (s *clusterStatusSource) ClusterStatus() webapi.ClusterStatus {
	snap, ok := s.stream.Current(cbclusterboot.ClusterResource(s.cluster))
	if !ok {
		return webapi.ClusterStatus{
			Cluster: s.cluster,
			State:   string(cbclusterboot.ResourceStateNotStarted),
		}
	}

	return webapi.ClusterStatus{
		Cluster: s.cluster,
		State:   string(snap.State),
		Ready:   snap.State == cbclusterboot.ResourceStateRunning,
	}
}

func startBootstrap() {
	// initialize the logger
	logLevel, logger := getLogger()

	// signal that we are starting
	logger.Info("starting cbclusterboot", zap.String("version", buildVersion))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			logger.Panic("failed to load specified config file", zap.Error(err))
		}
	}

	config := readConfig(logger)

	parsedLogLevel, err := zapcore.ParseLevel(config.logLevelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		parsedLogLevel = zapcore.InfoLevel
	}
	logLevel.SetLevel(parsedLogLevel)

	// setup metrics
	meterProvider, err := initTelemetry(context.Background(), logger)
	if err != nil {
		logger.Error("failed to initialize opentelemetry metrics", zap.Error(err))
		os.Exit(1)
	}

	otel.SetMeterProvider(meterProvider)

	if config.defPath == "" {
		logger.Error("a cluster definition must be specified with --def")
		os.Exit(1)
	}

	defBytes, err := os.ReadFile(config.defPath)
	if err != nil {
		logger.Error("failed to read the cluster definition", zap.Error(err))
		os.Exit(1)
	}

	def, err := clusterdef.Parse(defBytes)
	if err != nil {
		logger.Error("failed to parse the cluster definition", zap.Error(err))
		os.Exit(1)
	}

	stream := cbclusterboot.NewStateBroker(&cbclusterboot.StateBrokerOptions{
		Logger: logger.Named("stream"),
	})

	creds := &cbclusterboot.StaticCredentials{
		Username: def.Username,
		Password: def.Password,
	}

	// a nil *CertificateAuthority must not become a non-nil provider
	var certProvider clusterdef.CertificateProvider
	if def.Certificate != nil {
		certProvider = def.Certificate
	}

	nodeMgr, err := cbclusterboot.NewNodeManager(cbclusterboot.NodeManagerConfig{
		Credentials: creds,
		Certificate: certProvider,
		Settings:    def.ResolveSettings(),
	}, &cbclusterboot.NodeManagerOptions{
		Logger: logger.Named("nodes"),
	})
	if err != nil {
		logger.Error("failed to initialize the node manager", zap.Error(err))
		os.Exit(1)
	}

	initializer := cbclusterboot.NewClusterInitializer(cbclusterboot.ClusterInitializerConfig{
		Cluster: def,
		Nodes:   nodeMgr,
	}, &cbclusterboot.ClusterInitializerOptions{
		Logger: logger.Named("init"),
	})

	certs := cbclusterboot.NewCertBootstrapper(cbclusterboot.CertBootstrapperConfig{
		Certificate: certProvider,
		Nodes:       nodeMgr,
	}, &cbclusterboot.CertBootstrapperOptions{
		Logger: logger.Named("certs"),
	})

	joiner := cbclusterboot.NewNodeJoinCoordinator(cbclusterboot.NodeJoinCoordinatorConfig{
		Nodes:  nodeMgr,
		Certs:  certs,
		Stream: stream,
	}, &cbclusterboot.NodeJoinCoordinatorOptions{
		Logger: logger.Named("join"),
	})

	rebalancer := cbclusterboot.NewRebalanceController(cbclusterboot.RebalanceControllerConfig{
		Nodes: nodeMgr,
	}, &cbclusterboot.RebalanceControllerOptions{
		Logger: logger.Named("rebalance"),
	})

	buckets, err := cbclusterboot.NewBucketProvisioner(&cbclusterboot.BucketProvisionerConfig{
		Nodes: nodeMgr,
	}, &cbclusterboot.BucketProvisionerOptions{
		Logger: logger.Named("buckets"),
	})
	if err != nil {
		logger.Error("failed to initialize the bucket provisioner", zap.Error(err))
		os.Exit(1)
	}

	orch, err := cbclusterboot.NewOrchestrator(&cbclusterboot.OrchestratorConfig{
		Cluster:     def,
		Nodes:       nodeMgr,
		Stream:      stream,
		Initializer: initializer,
		Certs:       certs,
		Joiner:      joiner,
		Rebalancer:  rebalancer,
		Buckets:     buckets,
	}, &cbclusterboot.OrchestratorOptions{
		Logger: logger.Named("orchestrator"),
	})
	if err != nil {
		logger.Error("failed to initialize the orchestrator", zap.Error(err))
		os.Exit(1)
	}

	// setup the web service
	webListenAddress := fmt.Sprintf("%s:%v", config.bindAddress, config.webPort)
	webSrv := webapi.NewWebServer(webapi.WebServerOptions{
		Logger:        logger.Named("webapi"),
		ListenAddress: webListenAddress,
		Version:       buildVersion,
		Status: &clusterStatusSource{
			cluster: def.Name,
			stream:  stream,
		},
	})

	go func() {
		err := webSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to run the web server", zap.Error(err))
		}
	}()

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	var infraLis net.Listener
	if config.infraListen != "" {
		feed, err := cbclusterboot.NewInfraFeed(stream, &cbclusterboot.InfraFeedOptions{
			Logger: logger.Named("infrafeed"),
		})
		if err != nil {
			logger.Error("failed to initialize the infra feed", zap.Error(err))
			os.Exit(1)
		}

		infraLis, err = net.Listen("tcp", config.infraListen)
		if err != nil {
			logger.Error("failed to listen for infra events", zap.Error(err))
			os.Exit(1)
		}

		logger.Info("listening for infra events",
			zap.String("address", infraLis.Addr().String()))

		go func() {
			err := feed.Serve(infraLis)
			if err != nil {
				logger.Error("the infra feed failed", zap.Error(err))
			}
		}()
	} else {
		// without an infra feed the declared servers are assumed to already
		// be up; reporting them running is what triggers the bootstrap
		for _, node := range def.Nodes() {
			stream.Publish(cbclusterboot.ServerResource(node.Name),
				cbclusterboot.ResourceStateRunning, 0)
		}
	}

	if !config.watch {
		go func() {
			snap, err := stream.WaitFor(runCtx, cbclusterboot.ClusterResource(def.Name),
				cbclusterboot.ResourceStateRunning,
				cbclusterboot.ResourceStateFailedToStart,
				cbclusterboot.ResourceStateExited)
			if err != nil {
				return
			}

			if snap.State == cbclusterboot.ResourceStateRunning {
				// bucket provisioning only starts once the cluster is
				// running, so wait for every declared bucket to settle
				// before tearing the run down
				var bucketNames []string
				for _, bucket := range def.Buckets {
					bucketNames = append(bucketNames, bucket.Name)
				}
				for _, sample := range def.SampleBuckets {
					bucketNames = append(bucketNames, sample.Name)
				}

				for _, bucketName := range bucketNames {
					_, err := stream.WaitFor(runCtx, cbclusterboot.BucketResource(bucketName),
						cbclusterboot.ResourceStateRunning,
						cbclusterboot.ResourceStateFailedToStart,
						cbclusterboot.ResourceStateExited)
					if err != nil {
						return
					}
				}

				connStr, err := orch.ConnectionString()
				if err == nil {
					logger.Info("cluster is ready", zap.String("connstr", connStr))
				}
			}

			runCancel()
		}()
	}

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		beginGracefulShutdown := func() {
			go func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Minute)
				defer cancel()

				err := orch.StopCluster(shutdownCtx)
				if err != nil && !errors.Is(err, cbclusterboot.ErrClusterNotRunning) {
					logger.Warn("failed to stop the cluster cleanly", zap.Error(err))
				}

				runCancel()
			}()
		}

		hasReceivedSigInt := false
		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("Received SIGINT a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("Received SIGINT, attempting graceful shutdown...")
					hasReceivedSigInt = true
					beginGracefulShutdown()
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("Received SIGTERM, attempting graceful shutdown...")
				beginGracefulShutdown()
			}
		}
	}()

	err = orch.Run(runCtx)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("failed to run the orchestrator", zap.Error(err))
		os.Exit(1)
	}

	if infraLis != nil {
		_ = infraLis.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err = webSrv.Shutdown(shutdownCtx)
	if err != nil {
		logger.Warn("failed to shut down the web server cleanly", zap.Error(err))
	}

	hasFailure := false
	if snap, ok := stream.Current(cbclusterboot.ClusterResource(def.Name)); ok &&
		snap.State == cbclusterboot.ResourceStateFailedToStart {
		logger.Error("cluster failed to start")
		hasFailure = true
	}
	for _, bucket := range def.Buckets {
		if snap, ok := stream.Current(cbclusterboot.BucketResource(bucket.Name)); ok &&
			snap.State == cbclusterboot.ResourceStateFailedToStart {
			logger.Error("a bucket failed to provision", zap.String("bucket", bucket.Name))
			hasFailure = true
		}
	}
	for _, sample := range def.SampleBuckets {
		if snap, ok := stream.Current(cbclusterboot.BucketResource(sample.Name)); ok &&
			snap.State == cbclusterboot.ResourceStateFailedToStart {
			logger.Error("a bucket failed to provision", zap.String("bucket", sample.Name))
			hasFailure = true
		}
	}
	if hasFailure {
		os.Exit(1)
	}

	logger.Info("cbclusterboot shutdown gracefully")
}

func runFlush() {
	_, logger := getLogger()

	if strings.HasPrefix(flushConnStr, "couchbases://") {
		logger.Error("flush runs over the plaintext management endpoint, use a couchbase:// connection string")
		os.Exit(1)
	}

	baseSpec, err := gocbconnstr.Parse(flushConnStr)
	if err != nil {
		logger.Error("failed to parse the connection string", zap.Error(err))
		os.Exit(1)
	}

	spec, err := gocbconnstr.Resolve(baseSpec)
	if err != nil {
		logger.Error("failed to resolve the connection string", zap.Error(err))
		os.Exit(1)
	}

	if len(spec.HttpHosts) == 0 {
		logger.Error("the connection string yields no management endpoints")
		os.Exit(1)
	}

	specHost := spec.HttpHosts[0]
	node := &clusterdef.ServerNode{
		Name:     specHost.Host,
		Hostname: fmt.Sprintf("%s:%d", specHost.Host, specHost.Port),
	}

	nodeMgr, err := cbclusterboot.NewNodeManager(cbclusterboot.NodeManagerConfig{
		Credentials: &cbclusterboot.StaticCredentials{
			Username: flushUsername,
			Password: flushPassword,
		},
	}, &cbclusterboot.NodeManagerOptions{
		Logger: logger.Named("nodes"),
	})
	if err != nil {
		logger.Error("failed to initialize the node manager", zap.Error(err))
		os.Exit(1)
	}

	provisioner, err := cbclusterboot.NewBucketProvisioner(&cbclusterboot.BucketProvisionerConfig{
		Nodes: nodeMgr,
	}, &cbclusterboot.BucketProvisionerOptions{
		Logger: logger.Named("buckets"),
	})
	if err != nil {
		logger.Error("failed to initialize the bucket provisioner", zap.Error(err))
		os.Exit(1)
	}

	err = provisioner.FlushBucket(context.Background(), node, flushBucket)
	if err != nil {
		logger.Error("failed to flush the bucket", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("bucket flushed", zap.String("bucket", flushBucket))
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
