package main

import (
	"context"
	"crypto/tls"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"chatrank/api"
	"chatrank/broadcast"
	"chatrank/identity"
	"chatrank/ranking"
	"chatrank/scheduler"
	"chatrank/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	eventsTableName := os.Getenv("EVENTS_TABLE")
	rankingsTableName := os.Getenv("RANKINGS_TABLE")
	connectionsTableName := os.Getenv("CONNECTIONS_TABLE")
	if connStr == "" || eventsTableName == "" || rankingsTableName == "" || connectionsTableName == "" {
		log.Fatal("missing storage config")
	}
	store, err := storage.New(connStr, eventsTableName, rankingsTableName, connectionsTableName)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	redisOpts, err := redis.ParseURL(redisConn)
	if err != nil {
		parts := strings.Split(redisConn, ",")
		redisOpts = &redis.Options{Addr: parts[0]}
		for _, p := range parts[1:] {
			kv := strings.SplitN(p, "=", 2)
			if len(kv) != 2 {
				continue
			}
			switch strings.ToLower(kv[0]) {
			case "password":
				redisOpts.Password = kv[1]
			case "ssl":
				if strings.ToLower(kv[1]) == "true" {
					redisOpts.TLSConfig = &tls.Config{}
				}
			}
		}
	}
	rc := redis.NewClient(redisOpts)
	cache := identity.NewCache(rc)

	creds := identity.Credentials{
		ClientID: os.Getenv("TWITCH_CLIENT_ID"),
		Token:    os.Getenv("TWITCH_OAUTH_TOKEN"),
	}
	if creds.ClientID == "" || creds.Token == "" {
		log.Fatal("missing directory credentials")
	}
	directory := identity.NewDirectoryClient(os.Getenv("DIRECTORY_URL"), creds)

	logger := log.New()
	var resolverOpts []identity.ResolverOption
	if v := os.Getenv("IDENTITY_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid IDENTITY_TTL: %v", err)
		}
		resolverOpts = append(resolverOpts, identity.WithTTL(d))
	}
	resolver := identity.NewResolver(cache, directory, logger, resolverOpts...)
	engine := ranking.NewEngine(ranking.NewAggregator(store), resolver, store, logger)

	pushEndpoint := os.Getenv("PUSH_ENDPOINT")
	if pushEndpoint == "" {
		log.Fatal("missing push endpoint config")
	}
	transport := broadcast.NewPushClient(pushEndpoint, os.Getenv("PUSH_BEARER_TOKEN"))
	var broadcastOpts []broadcast.Option
	if v := os.Getenv("BROADCAST_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			log.Fatalf("invalid BROADCAST_WORKERS: %v", err)
		}
		broadcastOpts = append(broadcastOpts, broadcast.WithWorkers(n))
	}
	if v, err := strconv.ParseBool(os.Getenv("BROADCAST_CONTINUE_ON_ERROR")); err == nil && v {
		broadcastOpts = append(broadcastOpts, broadcast.WithContinueOnError(true))
	}
	caster := broadcast.New(store, transport, logger, broadcastOpts...)

	webhookSecret := os.Getenv("WEBHOOK_SECRET")
	if webhookSecret == "" {
		log.Fatal("missing webhook secret")
	}
	windowLen := ranking.DefaultWindow
	if v := os.Getenv("WINDOW_LENGTH"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid WINDOW_LENGTH: %v", err)
		}
		windowLen = d
	}

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	e.Use(echoprometheus.NewMiddleware("chatrank"))
	e.GET("/metrics", echoprometheus.NewHandler())

	api.Register(e, api.Deps{
		Events:        store,
		Registry:      store,
		Ranker:        engine,
		Sender:        transport,
		Snapshots:     store,
		WebhookSecret: []byte(webhookSecret),
		WindowLen:     windowLen,
		Logger:        logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pipeline := scheduler.NewPipeline(engine, caster, windowLen, logger)
	if v := os.Getenv("RANKING_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid RANKING_INTERVAL: %v", err)
		}
		go scheduler.RunPeriodic(ctx, d, pipeline)
	}
	if name := os.Getenv("RANKINGS_QUEUE"); name != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					TryTimeout:    time.Minute * 5,
					RetryDelay:    time.Second * 1,
					MaxRetryDelay: time.Second * 60,
					StatusCodes:   []int{408, 429, 500, 502, 503, 504},
				},
			},
		}
		queue, err := azqueue.NewQueueClientFromConnectionString(connStr, name, &queueClientOptions)
		if err != nil {
			log.Fatalf("rankings queue: %v", err)
		}
		go scheduler.NewQueuePoller(queue, pipeline).Run(ctx)
	}

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
