package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ephemhq/ephem/config"
	"github.com/ephemhq/ephem/handlers"
	"github.com/ephemhq/ephem/internal/gate"
	"github.com/ephemhq/ephem/internal/quota"
	"github.com/ephemhq/ephem/internal/slug"
	"github.com/ephemhq/ephem/internal/sweeper"
	"github.com/ephemhq/ephem/storage"
	"github.com/ephemhq/ephem/utils"

	// Lambda imports (only used when in Lambda mode)
	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
)

// Version/build info (set via -ldflags at build time)
var (
	Version    = "dev"
	BuildTime  = "unknown"
	CommitHash = "none"
)

// Lambda-specific variables
var (
	ginLambdaV1   *ginadapter.GinLambda
	ginLambdaV2   *ginadapter.GinLambdaV2
	ginLambdaOnce sync.Once
)

// isLambdaEnvironment detects if running in AWS Lambda
func isLambdaEnvironment() bool {
	return os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""
}

func main() {
	log.Printf("EPHEM Version: %s", Version)
	log.Printf("Build Time:    %s", BuildTime)
	log.Printf("Commit Hash:   %s", CommitHash)

	cfg := config.LoadConfig()
	cfg.Version = Version
	cfg.BuildTime = BuildTime
	cfg.CommitHash = CommitHash

	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	if utils.IsDebugEnabled() {
		log.Printf("[DEBUG] Loaded config: %+v", cfg)
	}

	store, err := storage.NewStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}

	// Engine objects are built here and injected; nothing lives in
	// package-level state, so tests can run isolated instances.
	ledger := quota.NewLedger(config.QuotaLimits)
	accessGate := gate.New(store)
	allocator := slug.New(store)

	router := setupRouter(store, ledger, accessGate, allocator, cfg)

	if isLambdaEnvironment() {
		// No resident process in Lambda: the sweeper and reaper do not
		// run there. DynamoDB TTL is the expiry backstop.
		log.Println("Starting in AWS Lambda mode")
		ginLambdaOnce.Do(func() {
			ginLambdaV1 = ginadapter.New(router)
			ginLambdaV2 = ginadapter.NewV2(router)
		})
		lambda.Start(lambdaHandler)
		return
	}

	log.Println("Starting in HTTP server mode")

	// Background tasks own a context cancelled at shutdown.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	sw := sweeper.New(store)
	go sw.Run(bgCtx, config.SweepInterval)
	go ledger.RunReaper(bgCtx, config.ReaperInterval)

	runHTTPServer(router, cfg, store, bgCancel)
}

// lambdaHandler dispatches an incoming Lambda event to the gin router.
// Function URLs and HTTP APIs deliver v2 payloads; REST APIs and ALBs
// deliver v1, so the event is sniffed and routed to the matching adapter.
func lambdaHandler(ctx context.Context, event interface{}) (interface{}, error) {
	if ginLambdaV1 == nil || ginLambdaV2 == nil {
		log.Fatal("Lambda adapters are not initialized")
	}

	eventBytes, err := json.Marshal(event)
	if err != nil {
		return lambdaErrorResponse("failed to process event"), err
	}

	var reqV2 events.APIGatewayV2HTTPRequest
	if err := json.Unmarshal(eventBytes, &reqV2); err == nil && reqV2.RequestContext.HTTP.Method != "" {
		return ginLambdaV2.ProxyWithContext(ctx, reqV2)
	}

	var reqV1 events.APIGatewayProxyRequest
	if err := json.Unmarshal(eventBytes, &reqV1); err == nil && reqV1.HTTPMethod != "" {
		return ginLambdaV1.ProxyWithContext(ctx, reqV1)
	}

	log.Printf("Unrecognized Lambda event shape: %s", string(eventBytes))
	return lambdaErrorResponse("unsupported event type"), fmt.Errorf("unsupported event type: %T", event)
}

func lambdaErrorResponse(msg string) events.APIGatewayV2HTTPResponse {
	return events.APIGatewayV2HTTPResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       msg,
		Headers:    map[string]string{"Content-Type": "text/plain"},
	}
}

// setupRouter creates and configures the Gin router
func setupRouter(store storage.ResourceStore, ledger *quota.Ledger, accessGate *gate.Gate, allocator *slug.Allocator, cfg *config.Config) *gin.Engine {
	createHandler := handlers.NewCreateHandler(store, allocator, cfg)
	accessHandler := handlers.NewAccessHandler(accessGate, store, cfg)
	systemHandler := handlers.NewSystemHandler(cfg)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(jsonRecovery())
	router.Use(gin.Recovery())

	// Creation API, each behind its own quota category
	router.POST("/api/pastes", handlers.QuotaMiddleware(ledger, config.QuotaPasteCreate), createHandler.CreatePaste)
	router.POST("/api/files", handlers.QuotaMiddleware(ledger, config.QuotaUpload), createHandler.CreateFile)
	router.POST("/api/urls", handlers.QuotaMiddleware(ledger, config.QuotaURLCreate), createHandler.CreateURL)
	router.POST("/api/qr", handlers.QuotaMiddleware(ledger, config.QuotaGeneral), createHandler.CreateQR)
	router.POST("/api/links", handlers.QuotaMiddleware(ledger, config.QuotaGeneral), createHandler.CreateLinkPage)
	router.POST("/api/contact", handlers.QuotaMiddleware(ledger, config.QuotaContact), createHandler.Contact)

	// Access endpoints share the general read budget
	general := handlers.QuotaMiddleware(ledger, config.QuotaGeneral)
	router.GET("/raw/:slug", general, accessHandler.RawPaste)
	router.GET("/f/:slug", general, accessHandler.DownloadFile)
	router.GET("/u/:slug", general, accessHandler.RedirectURL)
	router.GET("/q/:slug", general, accessHandler.ViewQR)
	router.GET("/l/:slug", general, accessHandler.ViewLinkPage)

	router.POST("/api/:kind/:slug/unlock", general, accessHandler.Unlock)
	router.GET("/api/meta/:kind/:slug", general, accessHandler.Meta)

	// System routes
	router.GET("/healthz", systemHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Paste view last: the bare /:slug route
	router.GET("/:slug", general, accessHandler.ViewPaste)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router
}

// jsonRecovery returns a middleware that recovers from panics and ensures
// the response is JSON formatted so API clients can parse error responses.
func jsonRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[PANIC] %v", r)
				c.Header("Content-Type", "application/json; charset=utf-8")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			}
		}()
		c.Next()
	}
}

// runHTTPServer starts the HTTP server for container mode
func runHTTPServer(router *gin.Engine, cfg *config.Config, store storage.ResourceStore, stopBackground func()) {
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("Error closing storage: %v", err)
		}
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting ephem server on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	} else {
		log.Println("Server shutdown complete")
	}
}
