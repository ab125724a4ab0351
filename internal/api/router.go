package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	authHandler *AuthHandler,
	todoHandler *TodoHandler,
	personaHandler *PersonaHandler,
	top3Handler *Top3Handler,
	jwtSecret string,
) *Router {
	r := gin.Default()

	// Public
	r.POST("/register", authHandler.Register)
	r.POST("/login", authHandler.Login)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		auth.GET("/todos", todoHandler.GetTodos)
		auth.POST("/todos/:id/done", todoHandler.MarkDone)
		auth.POST("/persona/select", personaHandler.SelectPersona)
		auth.POST("/top3/rule", top3Handler.SetRule)
		auth.GET("/top3", top3Handler.GetTop3)
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(":" + port)
}
