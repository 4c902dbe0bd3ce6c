package app

import (
	"techquest_backend/docs"
	"techquest_backend/internal/config"
	"techquest_backend/internal/middleware"
	"techquest_backend/internal/model"
	"techquest_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	router.GET("/api/health", c.health.HealthCheck)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		a.registerQuizRoutes(authGroup, c)
		a.registerSessionRoutes(authGroup, c)

		// 教师相关接口
		a.registerTeacherRoutes(authGroup, c)
	}
}

func (a *App) registerQuizRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/quizzes", c.quiz.ListQuizzes)
	rg.GET("/quizzes/:id", c.quiz.GetQuiz)
	rg.GET("/assignments/:link", c.quiz.ResolveAssignment)
	rg.POST("/compile", c.compile.Compile)
}

func (a *App) registerSessionRoutes(rg *gin.RouterGroup, c *controllers) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", c.session.Open)
		sessions.GET("/:id", c.session.Get)
		sessions.DELETE("/:id", c.session.Close)
		sessions.PUT("/:id/code", c.session.SetCode)
		sessions.PUT("/:id/language", c.session.SetLanguage)
		sessions.POST("/:id/next", c.session.Next)
		sessions.POST("/:id/previous", c.session.Previous)
		sessions.POST("/:id/pause", c.session.Pause)
		sessions.POST("/:id/resume", c.session.Resume)
		sessions.POST("/:id/start", c.session.Start)
		sessions.POST("/:id/run", c.session.Run)
		sessions.POST("/:id/submit", c.session.Submit)
		sessions.POST("/:id/finish", c.session.Finish)
	}
}

func (a *App) registerTeacherRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.POST("/evaluate-quiz", middleware.RoleMiddleware(model.Teacher), c.evaluation.EvaluateQuiz)

	teacher := rg.Group("/teacher")
	teacher.Use(middleware.RoleMiddleware(model.Teacher))
	{
		teacher.PUT("/quizzes/:id/rubric", c.quiz.SetRubric)
		teacher.GET("/quizzes/:id/evaluations", c.quiz.ListEvaluations)
	}
}
