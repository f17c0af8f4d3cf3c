package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	advisordomain "github.com/smallbiznis/greenledger/internal/advisor/domain"
	analyticsdomain "github.com/smallbiznis/greenledger/internal/analytics/domain"
	"github.com/smallbiznis/greenledger/internal/auth/token"
	carbondomain "github.com/smallbiznis/greenledger/internal/carbon/domain"
	compliancedomain "github.com/smallbiznis/greenledger/internal/compliance/domain"
	"github.com/smallbiznis/greenledger/internal/config"
	ewastedomain "github.com/smallbiznis/greenledger/internal/ewaste/domain"
	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
	importdomain "github.com/smallbiznis/greenledger/internal/importer/domain"
	integrationdomain "github.com/smallbiznis/greenledger/internal/integration/domain"
	notificationdomain "github.com/smallbiznis/greenledger/internal/notification/domain"
	"github.com/smallbiznis/greenledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/greenledger/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/greenledger/internal/observability/metrics"
	obstracing "github.com/smallbiznis/greenledger/internal/observability/tracing"
	offsetdomain "github.com/smallbiznis/greenledger/internal/offset/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	tokens *token.Manager

	identitySvc     identitydomain.Service
	carbonSvc       carbondomain.Service
	ewasteSvc       ewastedomain.Service
	offsetSvc       offsetdomain.Service
	complianceSvc   compliancedomain.Service
	integrationSvc  integrationdomain.Service
	importSvc       importdomain.Service
	notificationSvc notificationdomain.Service
	analyticsSvc    analyticsdomain.Service
	advisorSvc      advisordomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	Log             *zap.Logger
	Tokens          *token.Manager
	IdentitySvc     identitydomain.Service
	CarbonSvc       carbondomain.Service
	EwasteSvc       ewastedomain.Service
	OffsetSvc       offsetdomain.Service
	ComplianceSvc   compliancedomain.Service
	IntegrationSvc  integrationdomain.Service
	ImportSvc       importdomain.Service
	NotificationSvc notificationdomain.Service
	AnalyticsSvc    analyticsdomain.Service
	AdvisorSvc      advisordomain.Service
}

func NewServer(p ServerParams) *Server {
	// Mutating endpoints reject unknown JSON fields; reads bind query strings only.
	binding.EnableDecoderDisallowUnknownFields = true

	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		log:             p.Log.Named("http.server"),
		tokens:          p.Tokens,
		identitySvc:     p.IdentitySvc,
		carbonSvc:       p.CarbonSvc,
		ewasteSvc:       p.EwasteSvc,
		offsetSvc:       p.OffsetSvc,
		complianceSvc:   p.ComplianceSvc,
		integrationSvc:  p.IntegrationSvc,
		importSvc:       p.ImportSvc,
		notificationSvc: p.NotificationSvc,
		analyticsSvc:    p.AnalyticsSvc,
		advisorSvc:      p.AdvisorSvc,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.GET("/health", s.Health)
	api.GET("/health/", s.Health)

	// -------- Users --------
	api.POST("/users/register", s.Register)
	api.POST("/users/login", s.Login)

	authed := api.Group("", s.AuthRequired())

	users := authed.Group("/users")
	{
		users.GET("/me", s.Me)
		users.PATCH("/me/preferences", s.UpdatePreferences)
		users.GET("/me/capabilities", s.Capabilities)
		users.POST("/me/onboarding", s.CompleteOnboarding)
		users.PATCH("/:id/role", s.SetRole)
	}

	// -------- Companies --------
	authed.GET("/companies/:id", s.GetCompany)
	authed.DELETE("/companies/:id", s.DeleteCompany)

	// -------- Carbon --------
	carbon := authed.Group("/carbon")
	{
		carbon.GET("/footprints", s.ListFootprints)
		carbon.POST("/footprints", s.CreateFootprint)
		carbon.GET("/footprints/latest", s.LatestFootprint)
		carbon.GET("/footprints/:id", s.GetFootprint)
		carbon.PATCH("/footprints/:id", s.UpdateFootprint)
		carbon.DELETE("/footprints/:id", s.DeleteFootprint)
		carbon.POST("/footprints/:id/submit", s.SubmitFootprint)
		carbon.POST("/footprints/:id/verify", s.VerifyFootprint)
		carbon.POST("/footprints/:id/reopen", s.ReopenFootprint)
		carbon.GET("/aggregate", s.AggregateFootprints)
		carbon.GET("/net-balance", s.NetBalance)
		carbon.POST("/defaults", s.CalculateDefaults)

		carbon.GET("/offsets", s.ListOffsets)
		carbon.POST("/offsets", s.CreateOffset)
		carbon.GET("/offsets/:id", s.GetOffset)
		carbon.POST("/offsets/:id/restock", s.RestockOffset)

		carbon.GET("/purchases", s.ListPurchases)
		carbon.POST("/purchases", s.ReserveOffset)
		carbon.GET("/purchases/reversals", s.ListReversals)
		carbon.GET("/purchases/:id", s.GetPurchase)
		carbon.POST("/purchases/:id/complete", s.CompletePurchase)
		carbon.POST("/purchases/:id/cancel", s.CancelPurchase)

		carbon.POST("/ai/validate/:id", s.ValidateEmissions)
		carbon.GET("/ai/benchmark", s.Benchmark)
		carbon.GET("/ai/action-plan", s.ActionPlan)
		carbon.POST("/ai/suggest-factors", s.SuggestFactors)
	}

	// -------- E-waste --------
	ewaste := authed.Group("/ewaste")
	{
		ewaste.GET("/entries", s.ListEwaste)
		ewaste.POST("/entries", s.CreateEwaste)
		ewaste.GET("/entries/:id", s.GetEwaste)
		ewaste.PATCH("/entries/:id", s.UpdateEwaste)
		ewaste.DELETE("/entries/:id", s.DeleteEwaste)
		ewaste.POST("/entries/:id/status", s.SetEwasteStatus)
		ewaste.GET("/summary", s.EwasteSummary)
		ewaste.POST("/calculate", s.CalculateEwasteImpact)
	}

	// -------- Analytics --------
	analytics := authed.Group("/analytics")
	{
		analytics.GET("/dashboard", s.Dashboard)
		analytics.GET("/trends", s.Trends)
		analytics.GET("/impact", s.Impact)
		analytics.GET("/report", s.Report)
	}

	// -------- Compliance --------
	compliance := authed.Group("/compliance")
	{
		compliance.GET("/datapoints", s.SearchDatapoints)
		compliance.GET("/datapoints/:code", s.GetDatapoint)
		compliance.GET("/assessments", s.ListAssessments)
		compliance.POST("/assessments", s.Assess)
		compliance.GET("/progress", s.ComplianceProgress)
		compliance.GET("/regulatory-updates", s.ListRegulatoryUpdates)
		compliance.POST("/regulatory-updates", s.PublishRegulatoryUpdate)
		compliance.POST("/regulatory-updates/:id/read", s.MarkRegulatoryUpdateRead)
	}

	// -------- Integrations --------
	// The provider redirect carries no bearer credential; the signed state
	// binds it to the initiating company.
	api.GET("/integrations/oauth/callback", s.OAuthCallback)

	integrations := authed.Group("/integrations")
	{
		integrations.GET("/providers", s.ListProviders)
		integrations.GET("/connections", s.ListConnections)
		// :id is a provider name on authorize and api-key, a connection id elsewhere.
		integrations.GET("/connections/:id", s.GetConnection)
		integrations.POST("/connections/:id/authorize", s.AuthorizeConnection)
		integrations.POST("/connections/:id/api-key", s.ConnectAPIKey)
		integrations.POST("/connections/:id/refresh", s.RefreshConnection)
		integrations.POST("/connections/:id/sync", s.SyncConnection)
		integrations.DELETE("/connections/:id", s.DisconnectConnection)
	}

	// -------- Imports --------
	imports := authed.Group("/imports")
	{
		imports.GET("/jobs", s.ListImportJobs)
		imports.POST("/jobs", s.CreateImportJob)
		imports.GET("/jobs/:id", s.GetImportJob)
		imports.GET("/jobs/:id/report", s.ImportReport)
		imports.POST("/jobs/:id/mapping", s.SetImportMapping)
		imports.POST("/jobs/:id/:stage", s.RerunImportStage)
		imports.GET("/mappings/suggest", s.SuggestMapping)
	}

	// -------- Notifications --------
	authed.GET("/notifications", s.ListNotifications)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}

func (s *Server) Health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		status = http.StatusServiceUnavailable
		body = gin.H{"status": "degraded", "database": "unreachable"}
	}
	c.JSON(status, body)
}
