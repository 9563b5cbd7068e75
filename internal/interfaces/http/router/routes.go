// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, h Handlers, submitLimit gin.HandlerFunc) {
	// 生成任务
	jobs := v1.Group("/jobs")
	{
		jobs.GET("", h.Job.ListJobs)
		jobs.POST("", submitLimit, h.Job.SubmitJob)
		jobs.POST("/enqueue", submitLimit, h.Job.EnqueueJob)
		jobs.GET("/:jid", h.Job.GetJob)
		jobs.DELETE("/:jid", h.Job.CancelJob)
		jobs.GET("/:jid/stream", h.Stream.StreamJob) // SSE
	}

	// 已持久化课程
	classes := v1.Group("/classes")
	{
		classes.GET("", h.Class.ListClasses)
		classes.POST("/generate", submitLimit, h.Job.SubmitJob)
		classes.GET("/:name", h.Class.GetClass)
		classes.GET("/:name/units/:unit/lessons/:lesson", h.Class.GetLesson)
	}
}
