package http

import (
	"context"
	"net/http"
	"time"

	"log/slog"

	"github.com/fulcrumhq/fulcrum/internal/app/auth"
	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/api/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

type Config struct {
	Addr         string        `mapstructure:"addr"`
	Timeout      time.Duration `mapstructure:"timeout"`
	AllowOrigins []string      `mapstructure:"allowOrigins"`
	Auth         *auth.Config  `mapstructure:"auth"`
}

type Http struct {
	config *Config
	server *http.Server
}

func New(svc *service.Service, config *Config) (*Http, error) {
	authenticator, err := auth.New(config.Auth)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	if len(config.AllowOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: config.AllowOrigins,
			AllowMethods: []string{"GET", "POST", "DELETE"},
			AllowHeaders: []string{"Authorization", "Content-Type", "Request-Id"},
		}))
	}

	s := &server{service: svc, auth: authenticator}
	r.Use(s.authenticate)

	// Call API
	r.POST("/call", s.call)

	// Operation API
	r.GET("/operations", s.listOperations)
	r.GET("/operations/:id", s.statusOperation)
	r.POST("/operations/:id/cancel", s.cancelOperation)

	// Lock API
	r.GET("/locks/:key", s.statusLock)
	r.DELETE("/locks/:key", s.releaseLock)
	r.DELETE("/locks/:key/force", s.forceReleaseLock)

	return &Http{
		config: config,
		server: &http.Server{
			Addr:    config.Addr,
			Handler: r,
		},
	}, nil
}

func (h *Http) Start(errors chan<- error) {
	slog.Info("starting http server", "addr", h.config.Addr)
	if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errors <- err
	}
}

func (h *Http) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	return h.server.Shutdown(ctx)
}

func (h *Http) String() string {
	return "http"
}

type server struct {
	service *service.Service
	auth    auth.Authenticator
}

const contextHeaderKey = "fulcrum.header"

// authenticate resolves the caller identity once per request and stores
// the service header on the gin context. With authentication disabled
// every caller shares the anonymous owner.
func (s *server) authenticate(c *gin.Context) {
	header := &service.Header{
		RequestId: c.GetHeader("Request-Id"),
	}

	if s.auth != nil {
		identity, err := s.auth.Authenticate(c.Request)
		if err != nil {
			for key, value := range err.Headers {
				c.Header(key, value)
			}
			c.AbortWithStatusJSON(err.Status, gin.H{"error": err.Error()})
			return
		}

		header.Owner = identity.Subject
		header.Admin = identity.Admin
	}

	c.Set(contextHeaderKey, header)
	c.Next()
}

func (s *server) header(c *gin.Context) *service.Header {
	if header, ok := c.Get(contextHeaderKey); ok {
		return header.(*service.Header)
	}
	return &service.Header{}
}
